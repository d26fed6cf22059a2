// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package config assembles the orchestrator's runtime configuration from
// flags, CNUT_-prefixed environment variables, and an optional network
// definition file, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Boiethios/cnut/artifact"
)

// EnvPrefix namespaces the environment variables read by Load, e.g.
// CNUT_NODE_COUNT.
const EnvPrefix = "CNUT"

const (
	DefaultNodeCount     = 5
	DefaultListenAddress = "127.0.0.1:6532"
	DefaultLogFormat     = "auto"
)

// Config is the full runtime configuration of one orchestration session.
type Config struct {
	// RootDir is where network directories are created. Empty selects a
	// directory under the user's home.
	RootDir   string
	CacheDir  string
	LogFormat string

	NodeCount         int
	ChainName         string
	ProtocolVersion   string
	Seed              string
	ExtraAccountCount int

	// BinaryPath short-circuits provisioning with a pre-built executable.
	BinaryPath string
	// BinarySource selects what to provision when BinaryPath is empty:
	// "local:<dir>", "rev:<ref>", or "remote:<url>#<sha256>".
	BinarySource string

	StartTimeout     time.Duration
	StopTimeout      time.Duration
	RollingLimit     int64
	RetainedLogLines int
	RetainedSamples  int
	SampleFrequency  time.Duration

	// ListenAddress of the web API.
	ListenAddress string

	// DefinitionPath points at an optional YAML network definition that
	// fills in per-node details.
	DefinitionPath string
}

// RegisterFlags declares every configuration flag on fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("root-dir", "", "root directory for network instances")
	fs.String("cache-dir", "", "cache directory for provisioned binaries")
	fs.String("log-format", DefaultLogFormat, "log format: auto, console, or json")

	fs.Int("node-count", DefaultNodeCount, "number of nodes in the network")
	fs.String("chain-name", "", "chain name of the network")
	fs.String("protocol-version", "", "protocol version the network starts with")
	fs.String("seed", "", "seed for deterministic key generation")
	fs.Int("extra-accounts", 0, "number of funded accounts beyond the validators")

	fs.String("binary-path", "", "path to a pre-built casper-node binary")
	fs.String("binary-source", "", "binary source: local:<dir>, rev:<ref>, or remote:<url>#<sha256>")

	fs.Duration("start-timeout", 2*time.Minute, "how long a node may take to become ready")
	fs.Duration("stop-timeout", 10*time.Second, "graceful shutdown window before a node is killed")
	fs.Int64("rolling-limit", 1, "how many nodes upgrade concurrently")
	fs.Int("retained-log-lines", 10_000, "per-node log retention window")
	fs.Int("retained-samples", 600, "per-node resource sample retention window")
	fs.Duration("sample-frequency", time.Second, "resource usage sampling cadence")

	fs.String("listen-address", DefaultListenAddress, "address the web API listens on")
	fs.String("network-definition", "", "path to a YAML network definition file")
}

// Load resolves the configuration from the parsed flag set and the
// environment.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	c := &Config{
		RootDir:           v.GetString("root-dir"),
		CacheDir:          v.GetString("cache-dir"),
		LogFormat:         v.GetString("log-format"),
		NodeCount:         v.GetInt("node-count"),
		ChainName:         v.GetString("chain-name"),
		ProtocolVersion:   v.GetString("protocol-version"),
		Seed:              v.GetString("seed"),
		ExtraAccountCount: v.GetInt("extra-accounts"),
		BinaryPath:        v.GetString("binary-path"),
		BinarySource:      v.GetString("binary-source"),
		StartTimeout:      v.GetDuration("start-timeout"),
		StopTimeout:       v.GetDuration("stop-timeout"),
		RollingLimit:      v.GetInt64("rolling-limit"),
		RetainedLogLines:  v.GetInt("retained-log-lines"),
		RetainedSamples:   v.GetInt("retained-samples"),
		SampleFrequency:   v.GetDuration("sample-frequency"),
		ListenAddress:     v.GetString("listen-address"),
		DefinitionPath:    v.GetString("network-definition"),
	}
	return c, c.validate()
}

func (c *Config) validate() error {
	if c.NodeCount < 1 {
		return fmt.Errorf("node count must be at least 1, got %d", c.NodeCount)
	}
	if c.BinaryPath == "" && c.BinarySource != "" {
		if _, err := c.Source(); err != nil {
			return err
		}
	}
	return nil
}

// Source parses the BinarySource selector into an artifact source. An empty
// selector means building the default repository's tip.
func (c *Config) Source() (artifact.Source, error) {
	if c.BinarySource == "" {
		return artifact.RevisionSource{Ref: "HEAD"}, nil
	}

	kind, value, found := strings.Cut(c.BinarySource, ":")
	if !found {
		return nil, fmt.Errorf("malformed binary source %q", c.BinarySource)
	}
	switch kind {
	case "local":
		return artifact.LocalSource{Dir: value}, nil
	case "rev":
		return artifact.RevisionSource{Ref: value}, nil
	case "remote":
		url, sha, _ := strings.Cut(value, "#")
		return artifact.RemoteSource{URL: url, SHA256: sha}, nil
	default:
		return nil, fmt.Errorf("unknown binary source kind %q", kind)
	}
}
