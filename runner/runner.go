// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package runner composes the engine into one orchestration session: asset
// generation, binary provisioning, process supervision, monitoring, and
// deploy submission against the resulting network.
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/Boiethios/cnut/artifact"
	"github.com/Boiethios/cnut/assets"
	"github.com/Boiethios/cnut/config"
	"github.com/Boiethios/cnut/deploy"
	"github.com/Boiethios/cnut/monitor"
	"github.com/Boiethios/cnut/network"
	"github.com/Boiethios/cnut/supervisor"
	"github.com/Boiethios/cnut/utils/perms"
)

// Session is one live orchestration run: a network on disk, its supervised
// processes, and the services observing them.
type Session struct {
	Log        *zap.Logger
	Config     *config.Config
	Network    *network.Network
	Monitor    *monitor.Monitor
	Supervisor *supervisor.Supervisor
	Submitter  *deploy.Submitter
	Registry   *prometheus.Registry
}

// Prepare generates assets, writes the network layout, provisions the
// binary, and assigns it to every node. No process is spawned yet.
func Prepare(ctx context.Context, log *zap.Logger, cfg *config.Config) (*Session, error) {
	opts := assets.Options{
		NodeCount:         cfg.NodeCount,
		ChainName:         cfg.ChainName,
		ProtocolVersion:   cfg.ProtocolVersion,
		ExtraAccountCount: cfg.ExtraAccountCount,
	}
	if cfg.Seed != "" {
		opts.Seed = []byte(cfg.Seed)
	}
	if cfg.DefinitionPath != "" {
		def, err := config.LoadDefinition(cfg.DefinitionPath)
		if err != nil {
			return nil, err
		}
		if opts, err = def.AssetOptions(opts); err != nil {
			return nil, err
		}
	}

	generated, err := assets.Generate(opts)
	if err != nil {
		return nil, err
	}
	net, err := network.FromAssets(generated)
	if err != nil {
		return nil, err
	}

	rootDir, err := defaultedDir(cfg.RootDir, "networks")
	if err != nil {
		return nil, err
	}
	if err := net.Write(rootDir); err != nil {
		return nil, err
	}
	log.Info("network layout written",
		zap.String("dir", net.Dir),
		zap.Int("nodes", len(net.Nodes())),
	)

	cacheDir, err := defaultedDir(cfg.CacheDir, "cache")
	if err != nil {
		return nil, err
	}
	provisioner := artifact.NewProvisioner(log, artifact.Config{CacheDir: cacheDir})

	var binary *artifact.BinaryArtifact
	if cfg.BinaryPath != "" {
		binary = artifact.FromPath(cfg.BinaryPath)
	} else {
		source, err := cfg.Source()
		if err != nil {
			return nil, err
		}
		if binary, err = provisioner.Resolve(ctx, source); err != nil {
			return nil, err
		}
	}

	for _, name := range net.NodeNames() {
		if err := net.AssignBinary(name, binary); err != nil {
			return nil, err
		}
		if err := net.Transition(name, network.Provisioned); err != nil {
			return nil, err
		}
	}
	if err := net.Persist(); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	mon, err := monitor.NewMonitor(log, registry, monitor.Config{
		RetainedLines:   cfg.RetainedLogLines,
		RetainedSamples: cfg.RetainedSamples,
		SampleFrequency: cfg.SampleFrequency,
	})
	if err != nil {
		return nil, err
	}

	sup := supervisor.New(log, net, mon, provisioner, supervisor.Config{
		StartTimeout: cfg.StartTimeout,
		StopTimeout:  cfg.StopTimeout,
		RollingLimit: cfg.RollingLimit,
	})

	return &Session{
		Log:        log,
		Config:     cfg,
		Network:    net,
		Monitor:    mon,
		Supervisor: sup,
		Submitter:  deploy.NewSubmitter(log, net, nil),
		Registry:   registry,
	}, nil
}

// Start brings every provisioned node up. Nodes start one at a time so the
// bootstrap set is reachable for each successor.
func (s *Session) Start(ctx context.Context) error {
	for _, name := range s.Network.NodeNames() {
		if err := s.Supervisor.Start(ctx, name); err != nil {
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
	}
	s.Log.Info("network is up",
		zap.String("dir", s.Network.Dir),
		zap.Int("nodes", len(s.Network.Nodes())),
	)
	return nil
}

// RunNetwork prepares and starts a complete network.
func RunNetwork(ctx context.Context, log *zap.Logger, cfg *config.Config) (*Session, error) {
	session, err := Prepare(ctx, log, cfg)
	if err != nil {
		return nil, err
	}
	if err := session.Start(ctx); err != nil {
		_ = session.Close(ctx)
		return nil, err
	}
	return session, nil
}

// Close drives every node to Stopped and releases monitoring resources. The
// network directory is left on disk for inspection.
func (s *Session) Close(ctx context.Context) error {
	err := s.Supervisor.StopAll(ctx)
	s.Monitor.Close()
	return err
}

// defaultedDir resolves dir, defaulting to ~/.cnut/<kind>, and creates it.
func defaultedDir(dir, kind string) (string, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to locate home directory: %w", err)
		}
		dir = filepath.Join(home, ".cnut", kind)
	}
	if err := os.MkdirAll(dir, perms.ReadWriteExecute); err != nil {
		return "", fmt.Errorf("failed to create %s directory: %w", kind, err)
	}
	return dir, nil
}
