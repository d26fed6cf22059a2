// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package supervisor spawns and manages the node processes of a network:
// start, graceful stop, restart, crash detection, and rolling upgrades. It
// is the only component that mutates node lifecycle state.
package supervisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/Boiethios/cnut/artifact"
	"github.com/Boiethios/cnut/monitor"
	"github.com/Boiethios/cnut/network"
)

var (
	// ErrProcess indicates a spawn or readiness failure of a node process.
	ErrProcess = errors.New("node process failure")

	// ErrUpgrade indicates a failed upgrade. When resolution of the new
	// version fails, the node is left running its previous binary.
	ErrUpgrade = errors.New("upgrade failed")
)

const crashTailLines = 10

// Config tunes the Supervisor. Zero values select the defaults.
type Config struct {
	// StartTimeout bounds how long a starting node may take to become
	// ready before it is considered failed.
	StartTimeout time.Duration

	// StopTimeout bounds the graceful shutdown window before the process
	// is killed.
	StopTimeout time.Duration

	// ReadinessInterval is the cadence of readiness probing.
	ReadinessInterval time.Duration

	// RollingLimit caps how many nodes upgrade concurrently during a
	// network-wide upgrade.
	RollingLimit int64

	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.StartTimeout == 0 {
		c.StartTimeout = 2 * time.Minute
	}
	if c.StopTimeout == 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.ReadinessInterval == 0 {
		c.ReadinessInterval = 500 * time.Millisecond
	}
	if c.RollingLimit == 0 {
		c.RollingLimit = 1
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	return c
}

// Supervisor manages the processes of one network. Operations on the same
// node are sequenced by a per-node lock; operations on distinct nodes run
// concurrently, except that upgrades share one RollingLimit-sized semaphore.
type Supervisor struct {
	log         *zap.Logger
	config      Config
	net         *network.Network
	monitor     *monitor.Monitor
	provisioner *artifact.Provisioner

	// upgradeSem caps concurrent upgrades across UpgradeAll and direct
	// Upgrade calls alike.
	upgradeSem *semaphore.Weighted

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	procs map[string]*proc
}

// proc is the handle of one live node process.
type proc struct {
	cmd  *exec.Cmd
	done chan struct{}

	// expected is set before a deliberate stop so the exit watcher does
	// not report a crash.
	expected atomic.Bool
}

func New(
	log *zap.Logger,
	net *network.Network,
	mon *monitor.Monitor,
	provisioner *artifact.Provisioner,
	config Config,
) *Supervisor {
	config = config.withDefaults()
	return &Supervisor{
		log:         log,
		config:      config,
		net:         net,
		monitor:     mon,
		provisioner: provisioner,
		upgradeSem:  semaphore.NewWeighted(config.RollingLimit),
		locks:       make(map[string]*sync.Mutex),
		procs:       make(map[string]*proc),
	}
}

func (s *Supervisor) nodeLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[name]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[name] = lock
	}
	return lock
}

// Start spawns the node's process and waits until it reports ready. The
// node must be provisioned, stopped, or crashed.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	lock := s.nodeLock(name)
	lock.Lock()
	defer lock.Unlock()

	node, err := s.net.Node(name)
	if err != nil {
		return err
	}
	// State is read through the topology lock; the crash watcher mutates
	// it concurrently.
	state, err := s.net.State(name)
	if err != nil {
		return err
	}
	switch state {
	case network.Provisioned, network.Stopped, network.Crashed:
	default:
		return fmt.Errorf("%w: node %s cannot start from state %s", network.ErrNetworkState, name, state)
	}
	if node.Artifact == nil {
		return fmt.Errorf("%w: node %s has no binary assigned", ErrProcess, name)
	}

	if err := s.net.Transition(name, network.Starting); err != nil {
		return err
	}
	return s.launch(ctx, node)
}

// launch spawns the node process and drives the current state to Running
// once the node reports ready. The caller holds the node lock and has moved
// the node to a state that owns a process.
func (s *Supervisor) launch(ctx context.Context, node *network.Node) error {
	name := node.Name

	cmd := exec.Command(node.Artifact.Path, "validator", node.ConfigPath())
	cmd.Dir = node.DataDir

	// The node logs to stdout; stderr carries panics. Both feed the same
	// capture pipe.
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw
	go s.monitor.Attach(name, pr)

	if err := cmd.Start(); err != nil {
		_ = pw.Close()
		_ = s.net.Transition(name, network.Crashed)
		s.persist()
		return fmt.Errorf("%w: failed to spawn node %s: %s", ErrProcess, name, err)
	}

	p := &proc{cmd: cmd, done: make(chan struct{})}
	s.mu.Lock()
	s.procs[name] = p
	s.mu.Unlock()

	if err := s.net.SetPID(name, cmd.Process.Pid); err != nil {
		return err
	}
	s.monitor.TrackProcess(name, cmd.Process.Pid)
	s.log.Info("node process spawned",
		zap.String("node", name),
		zap.Int("pid", cmd.Process.Pid),
		zap.String("version", node.Artifact.Version),
	)

	go s.watch(name, p, pw)

	if err := s.awaitReady(ctx, node, p.done); err != nil {
		s.terminate(p)
		if state, stateErr := s.net.State(name); stateErr == nil && state.HasProcess() {
			_ = s.net.Transition(name, network.Crashed)
		}
		s.monitor.UntrackProcess(name)
		s.persist()
		return fmt.Errorf("%w: node %s did not become ready: %s", ErrProcess, name, err)
	}

	if err := s.net.Transition(name, network.Running); err != nil {
		return err
	}
	s.persist()
	return nil
}

// watch reports the process exit. An exit that was not requested is a
// crash: the node is marked Crashed and the last captured log lines are
// surfaced.
func (s *Supervisor) watch(name string, p *proc, pipe *io.PipeWriter) {
	err := p.cmd.Wait()
	_ = pipe.Close()
	close(p.done)

	if p.expected.Load() {
		return
	}

	s.monitor.RecordCrash(name)
	s.monitor.UntrackProcess(name)
	_ = s.net.Transition(name, network.Crashed)
	s.persist()

	fields := []zap.Field{
		zap.String("node", name),
		zap.Int("exitCode", p.cmd.ProcessState.ExitCode()),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	for _, line := range s.monitor.Tail(name, crashTailLines) {
		fields = append(fields, zap.String("log", line.Text))
	}
	s.log.Error("node process exited unexpectedly", fields...)
}

// awaitReady polls the node's status endpoint until it answers with a
// parsable status document, the process exits, or the start timeout lapses.
func (s *Supervisor) awaitReady(ctx context.Context, node *network.Node, done <-chan struct{}) error {
	ctx, cancel := context.WithTimeout(ctx, s.config.StartTimeout)
	defer cancel()

	ticker := time.NewTicker(s.config.ReadinessInterval)
	defer ticker.Stop()

	statusURL := node.Config.RESTURL() + "/status"
	for {
		if s.probe(ctx, statusURL) {
			return nil
		}
		select {
		case <-ticker.C:
		case <-done:
			return errors.New("process exited before becoming ready")
		case <-ctx.Done():
			return fmt.Errorf("readiness deadline lapsed: %w", ctx.Err())
		}
	}
}

func (s *Supervisor) probe(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	resp, err := s.config.HTTPClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body, err := io.ReadAll(resp.Body)
	return err == nil && json.Valid(body)
}

// Stop gracefully shuts the node down. Whatever the process does, the node
// ends in Stopped. Stopping an already stopped node is a noop.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	lock := s.nodeLock(name)
	lock.Lock()
	defer lock.Unlock()

	state, err := s.net.State(name)
	if err != nil {
		return err
	}
	if state == network.Stopped {
		return nil
	}
	if !state.HasProcess() {
		return fmt.Errorf("%w: node %s cannot stop from state %s", network.ErrNetworkState, name, state)
	}

	if err := s.net.Transition(name, network.Stopping); err != nil {
		return err
	}
	s.shutdownProcess(ctx, name)
	s.monitor.UntrackProcess(name)

	if err := s.net.Transition(name, network.Stopped); err != nil {
		return err
	}
	s.persist()
	s.log.Info("node stopped", zap.String("node", name))
	return nil
}

// Restart stops and restarts the node's process. Its binary, config, and
// keys are untouched.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	lock := s.nodeLock(name)
	lock.Lock()
	defer lock.Unlock()

	node, err := s.net.Node(name)
	if err != nil {
		return err
	}
	state, err := s.net.State(name)
	if err != nil {
		return err
	}
	if state != network.Running {
		return fmt.Errorf("%w: node %s cannot restart from state %s", network.ErrNetworkState, name, state)
	}

	if err := s.net.Transition(name, network.Restarting); err != nil {
		return err
	}
	s.shutdownProcess(ctx, name)
	s.monitor.UntrackProcess(name)

	if err := s.net.Transition(name, network.Starting); err != nil {
		return err
	}
	return s.launch(ctx, node)
}

// shutdownProcess asks the node process to exit and kills it when the
// graceful window lapses. Returns once the process is gone.
func (s *Supervisor) shutdownProcess(ctx context.Context, name string) {
	s.mu.Lock()
	p, ok := s.procs[name]
	delete(s.procs, name)
	s.mu.Unlock()
	if !ok {
		return
	}

	p.expected.Store(true)
	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.log.Debug("failed to signal node process",
			zap.String("node", name),
			zap.Error(err),
		)
	}

	select {
	case <-p.done:
		return
	case <-time.After(s.config.StopTimeout):
	case <-ctx.Done():
	}

	s.log.Warn("node process did not exit gracefully, killing",
		zap.String("node", name),
	)
	_ = p.cmd.Process.Kill()
	<-p.done
}

// terminate kills a process without the graceful window. Used when a
// readiness failure leaves a half-started process behind.
func (s *Supervisor) terminate(p *proc) {
	p.expected.Store(true)
	select {
	case <-p.done:
		return
	default:
	}
	_ = p.cmd.Process.Kill()
	<-p.done
}

// StopAll drives every node that owns a process to Stopped. Used during
// teardown.
func (s *Supervisor) StopAll(ctx context.Context) error {
	var errs []error
	for _, name := range s.net.NodeNames() {
		state, err := s.net.State(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !state.HasProcess() {
			continue
		}
		if err := s.Stop(ctx, name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// persist rewrites the on-disk manifest after a lifecycle change. Networks
// that were never written to disk have nothing to persist.
func (s *Supervisor) persist() {
	if err := s.net.Persist(); err != nil && !errors.Is(err, network.ErrNetworkState) {
		s.log.Warn("failed to persist network manifest", zap.Error(err))
	}
}
