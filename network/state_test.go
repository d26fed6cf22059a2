// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package network

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLifecycleTransitions(t *testing.T) {
	require := require.New(t)

	// The full happy path, including an upgrade and a restart cycle
	path := []NodeState{
		Provisioned, Starting, Running,
		Upgrading, Running,
		Restarting, Starting, Running,
		Stopping, Stopped,
	}
	state := NotProvisioned
	for _, next := range path {
		require.True(state.CanTransition(next), "%s -> %s", state, next)
		state = next
	}
}

func TestInvalidTransitions(t *testing.T) {
	require := require.New(t)

	for _, step := range []struct{ from, to NodeState }{
		{NotProvisioned, Starting}, // must provision first
		{NotProvisioned, Running},
		{Provisioned, Running}, // readiness is observed, never assumed
		{Running, Stopped},     // stop always passes through Stopping
		{Stopping, Running},
		{Stopped, Stopped},
		{Crashed, Running}, // a crashed node restarts from Starting
		{Upgrading, Provisioned},
	} {
		require.False(step.from.CanTransition(step.to), "%s -> %s", step.from, step.to)
	}
}

func TestCrashRecovery(t *testing.T) {
	require := require.New(t)

	// A crash may strike any state that owns a process except Stopping,
	// where the exit is expected.
	for _, from := range []NodeState{Starting, Running, Upgrading, Restarting} {
		require.True(from.CanTransition(Crashed), "%s -> crashed", from)
	}
	require.False(Stopping.CanTransition(Crashed))

	// Terminal until an explicit restart
	require.True(Crashed.CanTransition(Starting))
	require.True(Stopped.CanTransition(Starting))
}

func TestHasProcess(t *testing.T) {
	require := require.New(t)

	for _, state := range []NodeState{Starting, Running, Upgrading, Restarting, Stopping} {
		require.True(state.HasProcess(), "%s", state)
	}
	for _, state := range []NodeState{NotProvisioned, Provisioned, Stopped, Crashed} {
		require.False(state.HasProcess(), "%s", state)
	}
}
