// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package monitor

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "cnut"

type metrics struct {
	cpuUsage  *prometheus.GaugeVec
	memoryRSS *prometheus.GaugeVec
	logLines  *prometheus.CounterVec
	crashes   *prometheus.CounterVec
}

func newMetrics(registry prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		cpuUsage: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "node_cpu_usage",
			Help:      "cores of compute the node process is currently using",
		}, []string{"node"}),
		memoryRSS: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "node_memory_rss_bytes",
			Help:      "resident set size of the node process",
		}, []string{"node"}),
		logLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "node_log_lines_total",
			Help:      "log lines captured from the node process",
		}, []string{"node"}),
		crashes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "node_crashes_total",
			Help:      "unexpected node process exits",
		}, []string{"node"}),
	}
	err := errors.Join(
		registry.Register(m.cpuUsage),
		registry.Register(m.memoryRSS),
		registry.Register(m.logLines),
		registry.Register(m.crashes),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}
