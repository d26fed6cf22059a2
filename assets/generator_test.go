// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package assets

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateDefaults(t *testing.T) {
	require := require.New(t)

	generated, err := Generate(Options{NodeCount: 4})
	require.NoError(err)
	require.Len(generated.Nodes, 4)
	require.Len(generated.ChainSpec.Validators, 4)
	require.Len(generated.Ledger, 4)

	require.Equal(DefaultChainName, generated.ChainSpec.Network.Name)
	require.Equal(DefaultProtocolVersion, generated.ChainSpec.Protocol.Version)

	seen := map[string]struct{}{}
	for i, node := range generated.Nodes {
		require.Equal(uint16(BaseBindPort+i), node.Config.BindPort)
		require.Equal(uint16(BaseRPCPort+i), node.Config.RPCPort)
		require.Len(node.Config.KnownAddresses, 4)

		// Keys must be pairwise distinct
		pub := node.Key.PublicKeyHex()
		_, duplicate := seen[pub]
		require.False(duplicate, "duplicate key for %s", node.Name)
		seen[pub] = struct{}{}

		require.Equal(DefaultAccountBalance, generated.Ledger[i].Balance)
		require.NotNil(generated.Ledger[i].Validator)
		require.Equal(DefaultBondedAmount, generated.Ledger[i].Validator.BondedAmount)
	}
}

func TestGenerateDeterministic(t *testing.T) {
	require := require.New(t)

	opts := Options{NodeCount: 3, ExtraAccountCount: 2, Seed: []byte("reproducible")}
	first, err := Generate(opts)
	require.NoError(err)
	second, err := Generate(opts)
	require.NoError(err)

	for i := range first.Nodes {
		require.Equal(first.Nodes[i].Key.PublicKeyHex(), second.Nodes[i].Key.PublicKeyHex())
	}
	for i := range first.Accounts {
		require.Equal(first.Accounts[i].Key.PublicKeyHex(), second.Accounts[i].Key.PublicKeyHex())
	}

	// A different seed yields different identities
	other, err := Generate(Options{NodeCount: 3, ExtraAccountCount: 2, Seed: []byte("something else")})
	require.NoError(err)
	require.NotEqual(first.Nodes[0].Key.PublicKeyHex(), other.Nodes[0].Key.PublicKeyHex())
}

func TestGenerateOverrides(t *testing.T) {
	require := require.New(t)

	generated, err := Generate(Options{
		NodeCount:         2,
		NodeNames:         []string{"alice"},
		ExtraAccountCount: 1,
		BalanceOverrides:  map[string]string{"alice": "42", "account-1": "1000"},
		BondedOverrides:   map[string]string{"alice": "7"},
	})
	require.NoError(err)
	require.Equal("alice", generated.Nodes[0].Name)
	require.Equal("node-2", generated.Nodes[1].Name)
	require.Equal("42", generated.Ledger[0].Balance)
	require.Equal("7", generated.Ledger[0].Validator.BondedAmount)
	require.Equal("1000", generated.Accounts[0].Balance)
}

func TestGenerateInconsistentOverrides(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{
			name: "balance for unknown account",
			opts: Options{
				NodeCount:        2,
				BalanceOverrides: map[string]string{"ghost": "1"},
			},
		},
		{
			name: "bonded amount for non-node",
			opts: Options{
				NodeCount:         2,
				ExtraAccountCount: 1,
				BondedOverrides:   map[string]string{"account-1": "1"},
			},
		},
		{
			name: "duplicate node names",
			opts: Options{
				NodeCount: 2,
				NodeNames: []string{"twin", "twin"},
			},
		},
		{
			name: "zero nodes",
			opts: Options{NodeCount: 0},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Generate(test.opts)
			require.ErrorIs(t, err, ErrAssetGeneration)
		})
	}
}

func TestChainSpecTOMLRoundTrip(t *testing.T) {
	require := require.New(t)

	generated, err := Generate(Options{NodeCount: 1})
	require.NoError(err)

	buf := &bytes.Buffer{}
	require.NoError(generated.ChainSpec.EncodeTOML(buf))
	require.Contains(buf.String(), `name = "cnut-net"`)

	decoded, err := DecodeChainSpecTOML(bytes.NewReader(buf.Bytes()))
	require.NoError(err)
	require.Equal(generated.ChainSpec.Network, decoded.Network)
	require.Equal(generated.ChainSpec.Protocol.Version, decoded.Protocol.Version)
	require.Equal(generated.ChainSpec.Core, decoded.Core)
}

func TestAccountsTOMLRoundTrip(t *testing.T) {
	require := require.New(t)

	generated, err := Generate(Options{NodeCount: 2, ExtraAccountCount: 1})
	require.NoError(err)

	buf := &bytes.Buffer{}
	require.NoError(EncodeAccountsTOML(buf, generated.Ledger))
	require.Contains(buf.String(), "[[accounts]]")

	decoded, err := DecodeAccountsTOML(bytes.NewReader(buf.Bytes()))
	require.NoError(err)
	require.Equal(generated.Ledger, decoded)
}

func TestNodeConfigTOML(t *testing.T) {
	require := require.New(t)

	config := NodeConfig{
		BindPort:        34000,
		RPCPort:         7777,
		SpeculativePort: 6666,
		RESTPort:        8888,
		EventStreamPort: 9999,
		KnownAddresses:  []string{"127.0.0.1:34000"},
		StoragePath:     "./node-storage",
	}
	buf := &bytes.Buffer{}
	require.NoError(config.EncodeTOML(buf))

	rendered := buf.String()
	require.True(strings.Contains(rendered, `bind_address = "0.0.0.0:34000"`))
	require.True(strings.Contains(rendered, `address = "0.0.0.0:7777"`))
	require.Equal("http://127.0.0.1:7777/rpc", config.RPCURL())
	require.Equal("http://127.0.0.1:8888", config.RESTURL())
}
