// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package monitor aggregates the observable output of every node process:
// captured log lines and resource usage samples, each with a bounded
// retention window and live subscriptions, plus prometheus metrics derived
// from both.
package monitor

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	// Scanner limits for node log lines. Stack traces can get long.
	initialScanBufferSize = 64 * 1024
	maxScanBufferSize     = 1024 * 1024

	// Live subscribers that fall this far behind start losing lines rather
	// than stalling capture.
	subscriberBufferSize = 256
)

// LogLine is one captured line of node output.
type LogLine struct {
	Node string    `json:"node"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// ResourceSample is one measurement of a node process's resource usage.
type ResourceSample struct {
	Node      string    `json:"node"`
	Time      time.Time `json:"time"`
	CPUCores  float64   `json:"cpuCores"`
	MemoryRSS uint64    `json:"memoryRssBytes"`
}

// Config tunes the Monitor. Zero values select the defaults.
type Config struct {
	// RetainedLines bounds the per-node log buffer; older lines are evicted.
	RetainedLines int

	// RetainedSamples bounds the per-node resource sample buffer.
	RetainedSamples int

	// SampleFrequency is how often resource usage of tracked processes is
	// measured.
	SampleFrequency time.Duration
}

func (c Config) withDefaults() Config {
	if c.RetainedLines == 0 {
		c.RetainedLines = 10_000
	}
	if c.RetainedSamples == 0 {
		c.RetainedSamples = 600
	}
	if c.SampleFrequency == 0 {
		c.SampleFrequency = time.Second
	}
	return c
}

// Monitor owns all per-node capture state. Capture continues regardless of
// how many subscribers are attached; a subscriber detaching never stops the
// producer.
type Monitor struct {
	log     *zap.Logger
	config  Config
	metrics *metrics

	mu      sync.RWMutex
	nodes   map[string]*nodeMonitor
	netSubs map[uint64]chan LogLine
	nextSub uint64

	closeOnce sync.Once
	onClose   chan struct{}
}

func NewMonitor(log *zap.Logger, registry prometheus.Registerer, config Config) (*Monitor, error) {
	metrics, err := newMetrics(registry)
	if err != nil {
		return nil, fmt.Errorf("failed to register monitoring metrics: %w", err)
	}
	return &Monitor{
		log:     log,
		config:  config.withDefaults(),
		metrics: metrics,
		nodes:   make(map[string]*nodeMonitor),
		netSubs: make(map[uint64]chan LogLine),
		onClose: make(chan struct{}),
	}, nil
}

// nodeMonitor is the capture state of one node. It outlives individual
// processes: restarts and upgrades append to the same buffers.
type nodeMonitor struct {
	name string

	mu    sync.Mutex
	ring  []LogLine
	next  int
	full  bool
	subs  map[uint64]chan LogLine
	track chan struct{} // closes to stop the resource sampler

	samples     []ResourceSample
	sampleNext  int
	samplesFull bool
	sampleSubs  map[uint64]chan ResourceSample
}

func (m *Monitor) node(name string) *nodeMonitor {
	m.mu.Lock()
	defer m.mu.Unlock()

	nm, ok := m.nodes[name]
	if !ok {
		nm = &nodeMonitor{
			name:       name,
			ring:       make([]LogLine, m.config.RetainedLines),
			subs:       make(map[uint64]chan LogLine),
			samples:    make([]ResourceSample, m.config.RetainedSamples),
			sampleSubs: make(map[uint64]chan ResourceSample),
		}
		m.nodes[name] = nm
	}
	return nm
}

// Attach consumes r line by line until it is exhausted, recording every line
// against the named node. Intended for the stdout pipe of a node process;
// returns when the pipe closes.
func (m *Monitor) Attach(name string, r io.Reader) {
	nm := m.node(name)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, initialScanBufferSize), maxScanBufferSize)
	for scanner.Scan() {
		m.record(nm, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		m.log.Debug("node output capture ended",
			zap.String("node", name),
			zap.Error(err),
		)
	}
}

func (m *Monitor) record(nm *nodeMonitor, text string) {
	line := LogLine{
		Node: nm.name,
		Time: time.Now().UTC(),
		Text: text,
	}
	m.metrics.logLines.WithLabelValues(nm.name).Inc()

	nm.mu.Lock()
	nm.ring[nm.next] = line
	nm.next++
	if nm.next == len(nm.ring) {
		nm.next = 0
		nm.full = true
	}
	for _, sub := range nm.subs {
		select {
		case sub <- line:
		default: // slow subscriber, line dropped
		}
	}
	nm.mu.Unlock()

	m.mu.RLock()
	for _, sub := range m.netSubs {
		select {
		case sub <- line:
		default:
		}
	}
	m.mu.RUnlock()
}

// Snapshot returns the retained lines of one node, oldest first.
func (m *Monitor) Snapshot(name string) []LogLine {
	nm := m.node(name)

	nm.mu.Lock()
	defer nm.mu.Unlock()

	if !nm.full {
		return append([]LogLine{}, nm.ring[:nm.next]...)
	}
	lines := make([]LogLine, 0, len(nm.ring))
	lines = append(lines, nm.ring[nm.next:]...)
	return append(lines, nm.ring[:nm.next]...)
}

// Tail returns up to n of the most recent retained lines of one node.
func (m *Monitor) Tail(name string, n int) []LogLine {
	lines := m.Snapshot(name)
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// Export writes the retained lines of one node as plain text.
func (m *Monitor) Export(w io.Writer, name string) error {
	for _, line := range m.Snapshot(name) {
		if _, err := fmt.Fprintf(w, "%s %s\n", line.Time.Format(time.RFC3339Nano), line.Text); err != nil {
			return fmt.Errorf("failed to export logs for %s: %w", name, err)
		}
	}
	return nil
}

// Subscribe returns a channel of the node's future log lines and a cancel
// function. Cancelling detaches the subscriber without disturbing capture.
func (m *Monitor) Subscribe(name string) (<-chan LogLine, func()) {
	nm := m.node(name)
	sub := make(chan LogLine, subscriberBufferSize)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.mu.Unlock()

	nm.mu.Lock()
	nm.subs[id] = sub
	nm.mu.Unlock()

	return sub, func() {
		nm.mu.Lock()
		delete(nm.subs, id)
		nm.mu.Unlock()
	}
}

// SubscribeAll returns a merged channel of every node's future log lines.
func (m *Monitor) SubscribeAll() (<-chan LogLine, func()) {
	sub := make(chan LogLine, subscriberBufferSize)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.netSubs[id] = sub
	m.mu.Unlock()

	return sub, func() {
		m.mu.Lock()
		delete(m.netSubs, id)
		m.mu.Unlock()
	}
}

func (m *Monitor) recordSample(nm *nodeMonitor, cpuCores float64, rss uint64) {
	sample := ResourceSample{
		Node:      nm.name,
		Time:      time.Now().UTC(),
		CPUCores:  cpuCores,
		MemoryRSS: rss,
	}

	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.samples[nm.sampleNext] = sample
	nm.sampleNext++
	if nm.sampleNext == len(nm.samples) {
		nm.sampleNext = 0
		nm.samplesFull = true
	}
	for _, sub := range nm.sampleSubs {
		select {
		case sub <- sample:
		default: // slow subscriber, sample dropped
		}
	}
}

// SampleSnapshot returns the retained resource samples of one node, oldest
// first.
func (m *Monitor) SampleSnapshot(name string) []ResourceSample {
	nm := m.node(name)

	nm.mu.Lock()
	defer nm.mu.Unlock()

	if !nm.samplesFull {
		return append([]ResourceSample{}, nm.samples[:nm.sampleNext]...)
	}
	samples := make([]ResourceSample, 0, len(nm.samples))
	samples = append(samples, nm.samples[nm.sampleNext:]...)
	return append(samples, nm.samples[:nm.sampleNext]...)
}

// SubscribeSamples returns a channel of the node's future resource samples
// and a cancel function. Cancelling detaches the subscriber without
// disturbing sampling.
func (m *Monitor) SubscribeSamples(name string) (<-chan ResourceSample, func()) {
	nm := m.node(name)
	sub := make(chan ResourceSample, subscriberBufferSize)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.mu.Unlock()

	nm.mu.Lock()
	nm.sampleSubs[id] = sub
	nm.mu.Unlock()

	return sub, func() {
		nm.mu.Lock()
		delete(nm.sampleSubs, id)
		nm.mu.Unlock()
	}
}

// ExportSamples writes the retained resource samples of one node as plain
// text, one "<time> <cores> <rss bytes>" row per sample.
func (m *Monitor) ExportSamples(w io.Writer, name string) error {
	for _, sample := range m.SampleSnapshot(name) {
		_, err := fmt.Fprintf(w, "%s %.3f %d\n",
			sample.Time.Format(time.RFC3339Nano), sample.CPUCores, sample.MemoryRSS)
		if err != nil {
			return fmt.Errorf("failed to export resource samples for %s: %w", name, err)
		}
	}
	return nil
}

// RecordCrash counts an unexpected process exit for the node.
func (m *Monitor) RecordCrash(name string) {
	m.metrics.crashes.WithLabelValues(name).Inc()
}

// Close stops all resource samplers. Log capture goroutines end on their own
// when the process pipes close.
func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		close(m.onClose)
	})

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, nm := range m.nodes {
		nm.stopSampler()
	}
}
