// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

const (
	AutoFormat    = "auto"
	ConsoleFormat = "console"
	JSONFormat    = "json"

	FormatDescription = "The structure of log output. Defaults to 'auto' which formats for a terminal when stdout is a tty. Options: 'auto', 'console', 'json'"
)

// NewLogger returns a zap logger configured for the requested format.
// The format determines the encoder; the level defaults to info and can
// be overridden with the CNUT_LOG_LEVEL env var.
func NewLogger(rawFormat string) (*zap.Logger, error) {
	format := rawFormat
	if format == AutoFormat || format == "" {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			format = ConsoleFormat
		} else {
			format = JSONFormat
		}
	}

	level := zapcore.InfoLevel
	if rawLevel := os.Getenv("CNUT_LOG_LEVEL"); len(rawLevel) > 0 {
		parsedLevel, err := zapcore.ParseLevel(rawLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to parse CNUT_LOG_LEVEL: %w", err)
		}
		level = parsedLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder

	var encoder zapcore.Encoder
	switch format {
	case ConsoleFormat:
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	case JSONFormat:
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	default:
		return nil, fmt.Errorf("unknown log format %q", rawFormat)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	return zap.New(core), nil
}

// NewTestLogger returns a logger suitable for tests: console format,
// debug level, writing to stdout.
func NewTestLogger() *zap.Logger {
	encoderConfig := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.Lock(os.Stdout),
		zapcore.DebugLevel,
	)
	return zap.New(core)
}
