// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package monitor

import (
	"time"

	"github.com/shirou/gopsutil/process"
	"go.uber.org/zap"
)

// TrackProcess starts sampling resource usage of the node's live process and
// publishing it through the metrics registry. Tracking a node that is
// already tracked replaces the previous sampler, which covers restarts and
// upgrades where the PID changes.
func (m *Monitor) TrackProcess(name string, pid int) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		m.log.Warn("cannot track node process",
			zap.String("node", name),
			zap.Int("pid", pid),
			zap.Error(err),
		)
		return
	}

	nm := m.node(name)
	nm.mu.Lock()
	nm.stopSamplerLocked()
	stop := make(chan struct{})
	nm.track = stop
	nm.mu.Unlock()

	go m.sample(name, p, stop)
}

// UntrackProcess stops the node's resource sampler and zeroes its gauges.
// Untracking an untracked node is a noop.
func (m *Monitor) UntrackProcess(name string) {
	m.node(name).stopSampler()
	m.metrics.cpuUsage.WithLabelValues(name).Set(0)
	m.metrics.memoryRSS.WithLabelValues(name).Set(0)
}

func (nm *nodeMonitor) stopSampler() {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.stopSamplerLocked()
}

func (nm *nodeMonitor) stopSamplerLocked() {
	if nm.track != nil {
		close(nm.track)
		nm.track = nil
	}
}

// sample measures the process on a fixed cadence until stopped. CPU usage is
// derived from cumulative CPU time deltas, reported in cores. Every
// successful measurement is appended to the node's retained sample sequence
// and fanned out to sample subscribers.
func (m *Monitor) sample(name string, p *process.Process, stop chan struct{}) {
	nm := m.node(name)

	ticker := time.NewTicker(m.config.SampleFrequency)
	defer ticker.Stop()

	var (
		initialized  bool
		lastTotalCPU float64
	)
	intervalSeconds := m.config.SampleFrequency.Seconds()
	for {
		var cpuCores float64
		if times, err := p.Times(); err == nil {
			totalCPU := times.Total()
			if initialized && totalCPU > lastTotalCPU {
				cpuCores = (totalCPU - lastTotalCPU) / intervalSeconds
			}
			initialized = true
			lastTotalCPU = totalCPU
		}
		m.metrics.cpuUsage.WithLabelValues(name).Set(cpuCores)

		// A measurement error usually means the process is gone; the last
		// recorded sample stands until the node is untracked.
		if mem, err := p.MemoryInfo(); err == nil {
			m.metrics.memoryRSS.WithLabelValues(name).Set(float64(mem.RSS))
			m.recordSample(nm, cpuCores, mem.RSS)
		}

		select {
		case <-ticker.C:
		case <-stop:
			return
		case <-m.onClose:
			return
		}
	}
}
