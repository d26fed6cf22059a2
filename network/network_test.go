// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package network

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Boiethios/cnut/artifact"
	"github.com/Boiethios/cnut/assets"
)

func newTestNetwork(t *testing.T, nodeCount int) *Network {
	t.Helper()
	generated, err := assets.Generate(assets.Options{
		NodeCount: nodeCount,
		Seed:      []byte("topology-test"),
	})
	require.NoError(t, err)
	n, err := FromAssets(generated)
	require.NoError(t, err)
	return n
}

func TestFromAssets(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 3)
	require.NotEmpty(n.UUID)
	require.Equal([]string{"node-1", "node-2", "node-3"}, n.NodeNames())
	require.Len(n.NodesInState(NotProvisioned), 3)
	require.Len(n.Ledger, 3)
}

func TestRegisterNodeRejectsDuplicates(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 1)
	err := n.RegisterNode(&Node{Name: "node-1"})
	require.ErrorIs(err, ErrNetworkState)

	err = n.RegisterNode(&Node{})
	require.ErrorIs(err, ErrNetworkState)
}

func TestTransitionValidation(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 1)

	// Provisioning must precede starting
	err := n.Transition("node-1", Starting)
	require.ErrorIs(err, ErrNetworkState)

	state, err := n.State("node-1")
	require.NoError(err)
	require.Equal(NotProvisioned, state, "a rejected transition must not mutate the record")

	require.NoError(n.Transition("node-1", Provisioned))
	require.NoError(n.Transition("node-1", Starting))
	require.NoError(n.SetPID("node-1", 4242))
	require.NoError(n.Transition("node-1", Running))

	err = n.Transition("unknown", Running)
	require.ErrorIs(err, ErrNetworkState)
}

func TestPIDClearedOnProcessExit(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 1)
	require.NoError(n.Transition("node-1", Provisioned))

	err := n.SetPID("node-1", 4242)
	require.ErrorIs(err, ErrNetworkState, "no process may be recorded before start")

	require.NoError(n.Transition("node-1", Starting))
	require.NoError(n.SetPID("node-1", 4242))
	require.NoError(n.Transition("node-1", Crashed))

	node, err := n.Node("node-1")
	require.NoError(err)
	require.Zero(node.PID)
}

func TestAssignBinary(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 1)
	v1 := artifact.FromPath("/tmp/casper-node-v1")
	v2 := artifact.FromPath("/tmp/casper-node-v2")

	require.NoError(n.AssignBinary("node-1", v1))
	require.NoError(n.Transition("node-1", Provisioned))
	require.NoError(n.Transition("node-1", Starting))
	require.NoError(n.Transition("node-1", Running))

	// A running node keeps its binary outside of an upgrade
	err := n.AssignBinary("node-1", v2)
	require.ErrorIs(err, ErrNetworkState)

	require.NoError(n.Transition("node-1", Upgrading))
	require.NoError(n.AssignBinary("node-1", v2))

	node, err := n.Node("node-1")
	require.NoError(err)
	require.Equal(v2, node.Artifact)
}

func TestStatusSnapshot(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2)
	require.NoError(n.AssignBinary("node-2", artifact.FromPath("/tmp/casper-node")))

	statuses := n.Status()
	require.Len(statuses, 2)
	require.Equal("node-1", statuses[0].Name)
	require.Equal(NotProvisioned, statuses[0].State)
	require.NotEmpty(statuses[0].PublicKey)
	require.Empty(statuses[0].Version)
	require.NotEmpty(statuses[1].Version)
	require.Equal(uint16(assets.BaseRPCPort+1), statuses[1].RPCPort)
}

func TestWriteAndRead(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 2)
	require.NoError(n.AssignBinary("node-1", artifact.FromPath("/tmp/casper-node")))

	rootDir := t.TempDir()
	require.NoError(n.Write(rootDir))
	require.NotEmpty(n.Dir)

	require.FileExists(n.Dir + "/chainspec.toml")
	require.FileExists(n.Dir + "/accounts.toml")
	for _, name := range []string{"node-1", "node-2"} {
		require.FileExists(n.Dir + "/" + name + "/config.toml")
		require.FileExists(n.Dir + "/" + name + "/secret_key.pem")
	}

	// A state change survives a manifest rewrite and reload
	require.NoError(n.Transition("node-1", Provisioned))
	require.NoError(n.Persist())

	loaded, err := Read(n.Dir)
	require.NoError(err)
	require.Equal(n.UUID, loaded.UUID)
	require.Equal(n.ChainSpec.Network.Name, loaded.ChainSpec.Network.Name)
	require.Equal(n.NodeNames(), loaded.NodeNames())
	require.Len(loaded.Ledger, 2)

	state, err := loaded.State("node-1")
	require.NoError(err)
	require.Equal(Provisioned, state)

	// Keys round-trip through the per-node PEM files
	original, err := n.Node("node-2")
	require.NoError(err)
	restored, err := loaded.Node("node-2")
	require.NoError(err)
	require.True(original.Key.Equal(restored.Key))
	require.Equal(original.Config.RPCPort, restored.Config.RPCPort)
}

func TestReadCollapsesLiveStates(t *testing.T) {
	require := require.New(t)

	n := newTestNetwork(t, 1)
	require.NoError(n.Write(t.TempDir()))
	require.NoError(n.Transition("node-1", Provisioned))
	require.NoError(n.Transition("node-1", Starting))
	require.NoError(n.Transition("node-1", Running))
	require.NoError(n.Persist())

	// Processes are never adopted across runs
	loaded, err := Read(n.Dir)
	require.NoError(err)
	state, err := loaded.State("node-1")
	require.NoError(err)
	require.Equal(Stopped, state)

	node, err := loaded.Node("node-1")
	require.NoError(err)
	require.Zero(node.PID)
}
