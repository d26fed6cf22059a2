// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Boiethios/cnut/config"
	"github.com/Boiethios/cnut/network"
	"github.com/Boiethios/cnut/utils/logging"
)

const fakeNodeScript = `#!/bin/sh
echo "node started"
trap 'exit 0' TERM
while true; do sleep 0.1; done
`

func testConfig(t *testing.T, nodeCount int) *config.Config {
	t.Helper()

	binary := filepath.Join(t.TempDir(), "casper-node")
	require.NoError(t, os.WriteFile(binary, []byte(fakeNodeScript), 0o755))

	return &config.Config{
		RootDir:      t.TempDir(),
		CacheDir:     t.TempDir(),
		NodeCount:    nodeCount,
		Seed:         "runner-test",
		BinaryPath:   binary,
		StartTimeout: 5 * time.Second,
		StopTimeout:  2 * time.Second,
	}
}

func TestPrepare(t *testing.T) {
	require := require.New(t)

	session, err := Prepare(context.Background(), logging.NewTestLogger(), testConfig(t, 3))
	require.NoError(err)
	defer func() {
		require.NoError(session.Close(context.Background()))
	}()

	require.DirExists(session.Network.Dir)
	require.FileExists(filepath.Join(session.Network.Dir, "chainspec.toml"))
	require.FileExists(filepath.Join(session.Network.Dir, "accounts.toml"))

	for _, node := range session.Network.Nodes() {
		require.Equal(network.Provisioned, node.State)
		require.NotNil(node.Artifact)
		require.FileExists(node.ConfigPath())
		require.FileExists(node.SecretKeyPath())
	}
}

func TestPrepareWithDefinition(t *testing.T) {
	require := require.New(t)

	cfg := testConfig(t, 1)
	cfg.DefinitionPath = filepath.Join(t.TempDir(), "network.yaml")
	require.NoError(os.WriteFile(cfg.DefinitionPath, []byte(`
chain_name: defined-net
node_count: 2
nodes:
  - name: alpha
`), 0o644))

	session, err := Prepare(context.Background(), logging.NewTestLogger(), cfg)
	require.NoError(err)
	defer func() {
		require.NoError(session.Close(context.Background()))
	}()

	require.Equal("defined-net", session.Network.ChainSpec.Network.Name)
	require.Equal([]string{"alpha", "node-2"}, session.Network.NodeNames())
}

func TestRunAndClose(t *testing.T) {
	require := require.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"chainspec_name":"cnut-net"}`))
	}))
	defer server.Close()
	parsed, err := url.Parse(server.URL)
	require.NoError(err)
	port, err := strconv.ParseUint(parsed.Port(), 10, 16)
	require.NoError(err)

	session, err := Prepare(context.Background(), logging.NewTestLogger(), testConfig(t, 2))
	require.NoError(err)
	for _, node := range session.Network.Nodes() {
		node.Config.RESTPort = uint16(port)
	}

	require.NoError(session.Start(context.Background()))
	for _, node := range session.Network.Nodes() {
		require.Equal(network.Running, node.State)
		require.NotZero(node.PID)
	}

	require.NoError(session.Close(context.Background()))
	for _, node := range session.Network.Nodes() {
		require.Equal(network.Stopped, node.State)
	}
}
