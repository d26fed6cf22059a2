// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package artifact resolves a requested node-software version into an
// executable on disk, caching by version identity so repeated requests for
// the same version do no work.
package artifact

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/Boiethios/cnut/utils/perms"
)

// ErrProvisioning indicates a build, checkout, or fetch failure.
var ErrProvisioning = errors.New("provisioning failed")

const (
	DefaultNodeRepo = "https://github.com/casper-network/casper-node.git"

	// BinaryName is the executable every resolution path must produce.
	BinaryName = "casper-node"

	// Remote fetches are retried with bounded exponential backoff before
	// the failure is surfaced.
	fetchMaxRetries      = 4
	fetchInitialInterval = 500 * time.Millisecond
)

// Config tunes the Provisioner. Zero values select the defaults used
// against a real node working tree; tests substitute a fake build command.
type Config struct {
	// CacheDir is the root of the version-keyed artifact cache.
	CacheDir string

	// BuildCommand is run in the working tree to produce the binary.
	BuildCommand []string
	// BuiltBinaryPath is the binary's path relative to the working tree
	// after BuildCommand succeeds.
	BuiltBinaryPath string

	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if len(c.BuildCommand) == 0 {
		c.BuildCommand = []string{"cargo", "build", "--release", "-p", "casper-node"}
	}
	if c.BuiltBinaryPath == "" {
		c.BuiltBinaryPath = filepath.Join("target", "release", BinaryName)
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	return c
}

// Provisioner resolves Sources into BinaryArtifacts.
type Provisioner struct {
	log    *zap.Logger
	config Config

	mu       sync.Mutex
	resolved map[string]*BinaryArtifact
}

func NewProvisioner(log *zap.Logger, config Config) *Provisioner {
	return &Provisioner{
		log:      log,
		config:   config.withDefaults(),
		resolved: make(map[string]*BinaryArtifact),
	}
}

// FromPath wraps an existing executable as an artifact without any
// resolution. The caller guarantees the binary is runnable.
func FromPath(path string) *BinaryArtifact {
	return &BinaryArtifact{
		Version: "path-" + shortHash(path),
		Path:    path,
		Source:  "pre-built binary at " + path,
	}
}

// Resolve returns an executable artifact for the requested source. All
// paths are cached by version key; repeated requests for the same version
// return the cached artifact.
func (p *Provisioner) Resolve(ctx context.Context, source Source) (*BinaryArtifact, error) {
	key := source.VersionKey()

	p.mu.Lock()
	if cached, ok := p.resolved[key]; ok {
		p.mu.Unlock()
		return cached, nil
	}
	p.mu.Unlock()

	p.log.Info("resolving artifact",
		zap.String("version", key),
		zap.String("source", source.String()),
	)

	var (
		resolved *BinaryArtifact
		err      error
	)
	switch s := source.(type) {
	case LocalSource:
		resolved, err = p.resolveLocal(ctx, s)
	case RevisionSource:
		resolved, err = p.resolveRevision(ctx, s)
	case RemoteSource:
		resolved, err = p.resolveRemote(ctx, s)
	default:
		err = fmt.Errorf("%w: unsupported source %T", ErrProvisioning, source)
	}
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.resolved[key] = resolved
	p.mu.Unlock()

	p.log.Info("resolved artifact",
		zap.String("version", resolved.Version),
		zap.String("path", resolved.Path),
	)
	return resolved, nil
}

func (p *Provisioner) cachePathFor(key string) string {
	return filepath.Join(p.config.CacheDir, key, BinaryName)
}

// resolveLocal builds the current working tree and copies the binary into
// the cache.
func (p *Provisioner) resolveLocal(ctx context.Context, source LocalSource) (*BinaryArtifact, error) {
	workTree, err := filepath.Abs(source.Dir)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid working tree %s: %s", ErrProvisioning, source.Dir, err)
	}
	if _, err := os.Stat(workTree); err != nil {
		return nil, fmt.Errorf("%w: working tree not found: %s", ErrProvisioning, err)
	}

	if err := p.build(ctx, workTree); err != nil {
		return nil, err
	}

	dest := p.cachePathFor(source.VersionKey())
	if err := copyExecutable(filepath.Join(workTree, p.config.BuiltBinaryPath), dest); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProvisioning, err)
	}
	return &BinaryArtifact{
		Version: source.VersionKey(),
		Path:    dest,
		Source:  source.String(),
	}, nil
}

// resolveRevision checks out the ref into an isolated workspace under the
// cache root and builds there.
func (p *Provisioner) resolveRevision(ctx context.Context, source RevisionSource) (*BinaryArtifact, error) {
	dest := p.cachePathFor(source.VersionKey())
	if _, err := os.Stat(dest); err == nil {
		// Materialized by a previous run
		return &BinaryArtifact{Version: source.VersionKey(), Path: dest, Source: source.String()}, nil
	}

	repo := source.Repo
	if repo == "" {
		repo = DefaultNodeRepo
	}
	workspace := filepath.Join(p.config.CacheDir, "checkouts", sanitize(source.Ref))

	if _, err := os.Stat(filepath.Join(workspace, ".git")); err != nil {
		if err := os.MkdirAll(filepath.Dir(workspace), perms.ReadWriteExecute); err != nil {
			return nil, fmt.Errorf("%w: failed to create checkout workspace: %s", ErrProvisioning, err)
		}
		if err := p.run(ctx, ".", "git", "clone", repo, workspace); err != nil {
			return nil, err
		}
	}
	if err := p.run(ctx, workspace, "git", "checkout", source.Ref); err != nil {
		return nil, fmt.Errorf("unknown revision %q: %w", source.Ref, err)
	}

	if err := p.build(ctx, workspace); err != nil {
		return nil, err
	}
	if err := copyExecutable(filepath.Join(workspace, p.config.BuiltBinaryPath), dest); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrProvisioning, err)
	}
	return &BinaryArtifact{
		Version: source.VersionKey(),
		Path:    dest,
		Source:  source.String(),
	}, nil
}

// resolveRemote fetches a pre-built binary, retrying transient failures
// with bounded backoff, and verifies the checksum when one is configured.
func (p *Provisioner) resolveRemote(ctx context.Context, source RemoteSource) (*BinaryArtifact, error) {
	dest := p.cachePathFor(source.VersionKey())
	if _, err := os.Stat(dest); err == nil {
		return &BinaryArtifact{Version: source.VersionKey(), Path: dest, Source: source.String()}, nil
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = fetchInitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, fetchMaxRetries), ctx)

	var body []byte
	fetch := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, source.URL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := p.config.HTTPClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("unexpected status %s", resp.Status)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return backoff.Permanent(err)
			}
			return err
		}
		body, err = io.ReadAll(resp.Body)
		return err
	}
	if err := backoff.RetryNotify(fetch, policy, func(err error, next time.Duration) {
		p.log.Warn("artifact fetch failed, retrying",
			zap.String("url", source.URL),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}); err != nil {
		return nil, fmt.Errorf("%w: fetch of %s: %s", ErrProvisioning, source.URL, err)
	}

	if source.SHA256 != "" {
		sum := sha256.Sum256(body)
		if actual := hex.EncodeToString(sum[:]); actual != source.SHA256 {
			return nil, fmt.Errorf("%w: checksum mismatch for %s: expected %s, got %s",
				ErrProvisioning, source.URL, source.SHA256, actual)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), perms.ReadWriteExecute); err != nil {
		return nil, fmt.Errorf("%w: failed to create cache dir: %s", ErrProvisioning, err)
	}
	if err := os.WriteFile(dest, body, perms.ReadWriteExecute); err != nil {
		return nil, fmt.Errorf("%w: failed to write artifact: %s", ErrProvisioning, err)
	}
	return &BinaryArtifact{
		Version: source.VersionKey(),
		Path:    dest,
		Source:  source.String(),
	}, nil
}

// build runs the configured build toolchain in dir.
func (p *Provisioner) build(ctx context.Context, dir string) error {
	return p.run(ctx, dir, p.config.BuildCommand[0], p.config.BuildCommand[1:]...)
}

func (p *Provisioner) run(ctx context.Context, dir string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s %v in %s: %s (output: %s)",
			ErrProvisioning, name, args, dir, err, tail(output, 1024))
	}
	return nil
}

func copyExecutable(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read built binary: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), perms.ReadWriteExecute); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}
	if err := os.WriteFile(dest, data, perms.ReadWriteExecute); err != nil {
		return fmt.Errorf("failed to write binary to cache: %w", err)
	}
	return nil
}

func tail(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[len(b)-n:]
}
