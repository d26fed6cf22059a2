// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"

	"github.com/Boiethios/cnut/artifact"
	"github.com/Boiethios/cnut/assets"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return Load(fs)
}

func TestDefaults(t *testing.T) {
	require := require.New(t)

	c, err := load(t)
	require.NoError(err)
	require.Equal(DefaultNodeCount, c.NodeCount)
	require.Equal(DefaultListenAddress, c.ListenAddress)
	require.Equal(DefaultLogFormat, c.LogFormat)
	require.Equal(2*time.Minute, c.StartTimeout)
	require.Equal(int64(1), c.RollingLimit)
}

func TestFlagsOverrideDefaults(t *testing.T) {
	require := require.New(t)

	c, err := load(t,
		"--node-count=3",
		"--chain-name=integration",
		"--rolling-limit=2",
		"--binary-source=rev:v1.5.6",
	)
	require.NoError(err)
	require.Equal(3, c.NodeCount)
	require.Equal("integration", c.ChainName)
	require.Equal(int64(2), c.RollingLimit)

	source, err := c.Source()
	require.NoError(err)
	require.Equal(artifact.RevisionSource{Ref: "v1.5.6"}, source)
}

func TestEnvironmentOverridesDefaults(t *testing.T) {
	require := require.New(t)

	t.Setenv("CNUT_NODE_COUNT", "7")
	t.Setenv("CNUT_LISTEN_ADDRESS", "127.0.0.1:7000")

	c, err := load(t)
	require.NoError(err)
	require.Equal(7, c.NodeCount)
	require.Equal("127.0.0.1:7000", c.ListenAddress)
}

func TestInvalidNodeCount(t *testing.T) {
	_, err := load(t, "--node-count=0")
	require.Error(t, err)
}

func TestSourceSelectors(t *testing.T) {
	require := require.New(t)

	for _, tc := range []struct {
		selector string
		expected artifact.Source
	}{
		{"", artifact.RevisionSource{Ref: "HEAD"}},
		{"local:/src/casper-node", artifact.LocalSource{Dir: "/src/casper-node"}},
		{"rev:feature/x", artifact.RevisionSource{Ref: "feature/x"}},
		{"remote:https://example.com/node#aabb", artifact.RemoteSource{URL: "https://example.com/node", SHA256: "aabb"}},
	} {
		c := &Config{BinarySource: tc.selector}
		source, err := c.Source()
		require.NoError(err, tc.selector)
		require.Equal(tc.expected, source)
	}

	_, err := (&Config{BinarySource: "svn+whatever"}).Source()
	require.Error(err)
	_, err = (&Config{BinarySource: "hg:deadbeef"}).Source()
	require.Error(err)
}

func writeDefinition(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "network.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefinition(t *testing.T) {
	require := require.New(t)

	path := writeDefinition(t, `
chain_name: defined-net
node_count: 3
nodes:
  - name: alpha
    balance: "1000000000000000000000000000"
    bonded: 500000000000000
  - name: beta
extra_accounts: 2
`)
	def, err := LoadDefinition(path)
	require.NoError(err)
	require.Equal("defined-net", def.ChainName)
	require.Equal(3, def.NodeCount)
	require.Len(def.Nodes, 2)

	opts, err := def.AssetOptions(assets.Options{NodeCount: DefaultNodeCount})
	require.NoError(err)
	require.Equal("defined-net", opts.ChainName)
	require.Equal(3, opts.NodeCount)
	require.Equal(2, opts.ExtraAccountCount)
	require.Equal([]string{"alpha", "beta"}, opts.NodeNames)
	require.Equal("1000000000000000000000000000", opts.BalanceOverrides["alpha"])

	// YAML numbers are coerced to the string amounts the ledger uses
	require.Equal("500000000000000", opts.BondedOverrides["alpha"])
	require.NotContains(opts.BalanceOverrides, "beta")

	// The options stay consistent with the generator's own validation
	_, err = assets.Generate(opts)
	require.NoError(err)
}

func TestLoadDefinitionRejectsUnknownFields(t *testing.T) {
	path := writeDefinition(t, "chain_name: x\nnode_cuont: 3\n")
	_, err := LoadDefinition(path)
	require.Error(t, err)
}

func TestLoadDefinitionMissingFile(t *testing.T) {
	_, err := LoadDefinition(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}
