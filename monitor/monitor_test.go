// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package monitor

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/Boiethios/cnut/utils/logging"
)

func newTestMonitor(t *testing.T, config Config) *Monitor {
	t.Helper()
	m, err := NewMonitor(logging.NewTestLogger(), prometheus.NewRegistry(), config)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return m
}

func TestAttachCapturesLines(t *testing.T) {
	require := require.New(t)

	m := newTestMonitor(t, Config{})
	m.Attach("node-1", strings.NewReader("first\nsecond\nthird\n"))

	lines := m.Snapshot("node-1")
	require.Len(lines, 3)
	require.Equal("first", lines[0].Text)
	require.Equal("third", lines[2].Text)
	require.Equal("node-1", lines[0].Node)

	require.Equal(float64(3), testutil.ToFloat64(m.metrics.logLines.WithLabelValues("node-1")))
}

func TestRetentionWindow(t *testing.T) {
	require := require.New(t)

	m := newTestMonitor(t, Config{RetainedLines: 5})

	var input strings.Builder
	for i := 1; i <= 12; i++ {
		fmt.Fprintf(&input, "line-%d\n", i)
	}
	m.Attach("node-1", strings.NewReader(input.String()))

	// Only the newest five lines survive, oldest first
	lines := m.Snapshot("node-1")
	require.Len(lines, 5)
	require.Equal("line-8", lines[0].Text)
	require.Equal("line-12", lines[4].Text)

	tail := m.Tail("node-1", 2)
	require.Len(tail, 2)
	require.Equal("line-11", tail[0].Text)
	require.Equal("line-12", tail[1].Text)
}

func TestAttachAcrossRestarts(t *testing.T) {
	require := require.New(t)

	// Two successive pipes for the same node append to one buffer
	m := newTestMonitor(t, Config{})
	m.Attach("node-1", strings.NewReader("before restart\n"))
	m.Attach("node-1", strings.NewReader("after restart\n"))

	lines := m.Snapshot("node-1")
	require.Len(lines, 2)
	require.Equal("before restart", lines[0].Text)
	require.Equal("after restart", lines[1].Text)
}

func TestSubscribeReceivesLiveLines(t *testing.T) {
	require := require.New(t)

	m := newTestMonitor(t, Config{})
	sub, cancel := m.Subscribe("node-1")
	defer cancel()

	pr, pw := io.Pipe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		m.Attach("node-1", pr)
	}()

	_, err := io.WriteString(pw, "live line\n")
	require.NoError(err)

	select {
	case line := <-sub:
		require.Equal("live line", line.Text)
	case <-time.After(5 * time.Second):
		require.FailNow("no line delivered")
	}

	require.NoError(pw.Close())
	wg.Wait()
}

func TestCancelledSubscriberDoesNotStopCapture(t *testing.T) {
	require := require.New(t)

	m := newTestMonitor(t, Config{})
	_, cancel := m.Subscribe("node-1")
	cancel()

	m.Attach("node-1", strings.NewReader("still captured\n"))
	require.Len(m.Snapshot("node-1"), 1)
}

func TestSubscribeAllMergesNodes(t *testing.T) {
	require := require.New(t)

	m := newTestMonitor(t, Config{})
	sub, cancel := m.SubscribeAll()
	defer cancel()

	m.Attach("node-1", strings.NewReader("from one\n"))
	m.Attach("node-2", strings.NewReader("from two\n"))

	seen := make(map[string]string)
	for i := 0; i < 2; i++ {
		select {
		case line := <-sub:
			seen[line.Node] = line.Text
		case <-time.After(5 * time.Second):
			require.FailNow("missing merged line")
		}
	}
	require.Equal("from one", seen["node-1"])
	require.Equal("from two", seen["node-2"])
}

func TestExport(t *testing.T) {
	require := require.New(t)

	m := newTestMonitor(t, Config{})
	m.Attach("node-1", strings.NewReader("exported line\n"))

	var buf bytes.Buffer
	require.NoError(m.Export(&buf, "node-1"))
	require.Contains(buf.String(), "exported line")
}

func TestRecordCrash(t *testing.T) {
	m := newTestMonitor(t, Config{})
	m.RecordCrash("node-1")
	m.RecordCrash("node-1")
	require.Equal(t, float64(2), testutil.ToFloat64(m.metrics.crashes.WithLabelValues("node-1")))
}

func TestUntrackUnknownNodeIsNoop(t *testing.T) {
	m := newTestMonitor(t, Config{})
	m.UntrackProcess("node-1")
	require.Zero(t, testutil.ToFloat64(m.metrics.cpuUsage.WithLabelValues("node-1")))
}

func TestResourceSamplesRetained(t *testing.T) {
	require := require.New(t)

	m := newTestMonitor(t, Config{RetainedSamples: 3, SampleFrequency: 10 * time.Millisecond})
	m.TrackProcess("node-1", os.Getpid())
	defer m.UntrackProcess("node-1")

	// The window fills, then only the newest samples survive
	require.Eventually(func() bool {
		return len(m.SampleSnapshot("node-1")) == 3
	}, 5*time.Second, 10*time.Millisecond)

	samples := m.SampleSnapshot("node-1")
	require.Len(samples, 3)
	for i, sample := range samples {
		require.Equal("node-1", sample.Node)
		require.NotZero(sample.MemoryRSS)
		if i > 0 {
			require.False(sample.Time.Before(samples[i-1].Time), "samples must be oldest first")
		}
	}
}

func TestSubscribeReceivesLiveSamples(t *testing.T) {
	require := require.New(t)

	m := newTestMonitor(t, Config{SampleFrequency: 10 * time.Millisecond})
	sub, cancel := m.SubscribeSamples("node-1")
	defer cancel()

	m.TrackProcess("node-1", os.Getpid())
	defer m.UntrackProcess("node-1")

	select {
	case sample := <-sub:
		require.Equal("node-1", sample.Node)
		require.NotZero(sample.MemoryRSS)
	case <-time.After(5 * time.Second):
		require.FailNow("no sample delivered")
	}

	// Cancelling the subscription does not stop sampling
	cancel()
	before := len(m.SampleSnapshot("node-1"))
	require.Eventually(func() bool {
		return len(m.SampleSnapshot("node-1")) > before
	}, 5*time.Second, 10*time.Millisecond)
}

func TestExportSamples(t *testing.T) {
	require := require.New(t)

	m := newTestMonitor(t, Config{SampleFrequency: 10 * time.Millisecond})
	m.TrackProcess("node-1", os.Getpid())
	defer m.UntrackProcess("node-1")

	require.Eventually(func() bool {
		return len(m.SampleSnapshot("node-1")) > 0
	}, 5*time.Second, 10*time.Millisecond)

	var buf bytes.Buffer
	require.NoError(m.ExportSamples(&buf, "node-1"))
	rows := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.NotEmpty(rows)
	require.Len(strings.Fields(rows[0]), 3)
}
