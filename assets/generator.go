// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package assets produces everything a new network needs before any process
// is spawned: the chainspec, the initial balance ledger, and one operational
// config plus keypair per node. Generation is pure; persistence to disk is
// the caller's concern.
package assets

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Boiethios/cnut/utils/crypto"
)

// ErrAssetGeneration indicates mutually inconsistent operator overrides.
var ErrAssetGeneration = errors.New("asset generation failed")

const (
	DefaultChainName       = "cnut-net"
	DefaultProtocolVersion = "1.0.0"
	DefaultActivationDelay = time.Second

	// Initial balances mirror the conventional local-network amounts.
	DefaultAccountBalance = "1000000000000000000000000000"
	DefaultBondedAmount   = "500000000000000"

	DefaultEraDuration      = 41 * time.Second
	DefaultMinimumBlockTime = 4 * time.Second

	// Per-node ports are allocated from these bases by node index.
	BaseBindPort        = 34000
	BaseRPCPort         = 7777
	BaseSpeculativePort = 6666
	BaseRESTPort        = 8888
	BaseEventStreamPort = 9999
)

// Options configures generation. The zero value (plus a node count) yields a
// fully valid network.
type Options struct {
	NodeCount int

	ChainName       string
	ProtocolVersion string
	ActivationDelay time.Duration

	// Seed enables deterministic generation for reproducible test runs.
	// When empty, keys are drawn from crypto/rand.
	Seed []byte

	// Optional node names; generated names fill the remainder.
	NodeNames []string

	// Extra funded accounts beyond the per-node validator accounts.
	ExtraAccountCount int

	// Balance overrides keyed by node or account name. Referencing a name
	// with no matching key is an inconsistency.
	BalanceOverrides map[string]string

	// Bonded-amount overrides keyed by node name. Referencing a non-node
	// name is an inconsistency.
	BondedOverrides map[string]string
}

// NodeAssets bundles the generated identity and config of one node.
type NodeAssets struct {
	Name   string
	Key    *crypto.KeyPair
	Config NodeConfig
}

// AccountAssets is a funded account that is not a validator.
type AccountAssets struct {
	Name    string
	Key     *crypto.KeyPair
	Balance string
}

// NetworkAssets is the complete output of Generate.
type NetworkAssets struct {
	ChainSpec *ChainSpec
	Nodes     []*NodeAssets
	Accounts  []*AccountAssets

	// Ledger is the initial balance ledger covering validators and extra
	// accounts, in generation order.
	Ledger []Account
}

// Generate produces a complete set of network assets. Every unspecified
// option receives a sane default, so callers may supply nothing beyond the
// node count.
func Generate(opts Options) (*NetworkAssets, error) {
	if opts.NodeCount < 1 {
		return nil, fmt.Errorf("%w: at least one node is required", ErrAssetGeneration)
	}
	if len(opts.NodeNames) > opts.NodeCount {
		return nil, fmt.Errorf("%w: %d node names supplied for %d nodes",
			ErrAssetGeneration, len(opts.NodeNames), opts.NodeCount)
	}

	names := nodeNames(opts)
	if err := checkOverrides(opts, names); err != nil {
		return nil, err
	}

	chainName := opts.ChainName
	if chainName == "" {
		chainName = DefaultChainName
	}
	protocolVersion := opts.ProtocolVersion
	if protocolVersion == "" {
		protocolVersion = DefaultProtocolVersion
	}
	activationDelay := opts.ActivationDelay
	if activationDelay == 0 {
		activationDelay = DefaultActivationDelay
	}

	knownAddresses := make([]string, opts.NodeCount)
	for i := range knownAddresses {
		knownAddresses[i] = fmt.Sprintf("127.0.0.1:%d", BaseBindPort+i)
	}

	result := &NetworkAssets{
		ChainSpec: &ChainSpec{
			Network: NetworkSpec{Name: chainName},
			Protocol: ProtocolSpec{
				Version:         protocolVersion,
				ActivationPoint: time.Now().Add(activationDelay).UTC().Truncate(time.Millisecond),
			},
			Core: CoreSpec{
				EraDuration:          duration(DefaultEraDuration),
				MinimumBlockTime:     duration(DefaultMinimumBlockTime),
				ValidatorSlots:       opts.NodeCount,
				AuctionDelay:         1,
				UnbondingDelayEras:   7,
				RoundSeigniorageRate: "1/4200000000",
			},
		},
	}

	for i, name := range names {
		key, err := generateKey(opts.Seed, name, i)
		if err != nil {
			return nil, err
		}

		result.Nodes = append(result.Nodes, &NodeAssets{
			Name: name,
			Key:  key,
			Config: NodeConfig{
				BindPort:        uint16(BaseBindPort + i),
				RPCPort:         uint16(BaseRPCPort + i),
				SpeculativePort: uint16(BaseSpeculativePort + i),
				RESTPort:        uint16(BaseRESTPort + i),
				EventStreamPort: uint16(BaseEventStreamPort + i),
				KnownAddresses:  knownAddresses,
				StoragePath:     "./node-storage",
			},
		})

		balance := DefaultAccountBalance
		if override, ok := opts.BalanceOverrides[name]; ok {
			balance = override
		}
		bonded := DefaultBondedAmount
		if override, ok := opts.BondedOverrides[name]; ok {
			bonded = override
		}

		result.ChainSpec.Validators = append(result.ChainSpec.Validators, ValidatorSpec{
			PublicKey:    key.PublicKeyHex(),
			BondedAmount: bonded,
		})
		result.Ledger = append(result.Ledger, Account{
			PublicKey: key.PublicKeyHex(),
			Balance:   balance,
			Validator: &Validator{BondedAmount: bonded},
		})
	}

	for i := 0; i < opts.ExtraAccountCount; i++ {
		name := fmt.Sprintf("account-%d", i+1)
		key, err := generateKey(opts.Seed, name, opts.NodeCount+i)
		if err != nil {
			return nil, err
		}

		balance := DefaultAccountBalance
		if override, ok := opts.BalanceOverrides[name]; ok {
			balance = override
		}
		result.Accounts = append(result.Accounts, &AccountAssets{
			Name:    name,
			Key:     key,
			Balance: balance,
		})
		result.Ledger = append(result.Ledger, Account{
			PublicKey: key.PublicKeyHex(),
			Balance:   balance,
		})
	}

	return result, nil
}

// nodeNames fills unspecified names with node-N defaults.
func nodeNames(opts Options) []string {
	names := make([]string, opts.NodeCount)
	for i := range names {
		if i < len(opts.NodeNames) && opts.NodeNames[i] != "" {
			names[i] = opts.NodeNames[i]
		} else {
			names[i] = fmt.Sprintf("node-%d", i+1)
		}
	}
	return names
}

// checkOverrides rejects mutually inconsistent operator input before any
// key is generated.
func checkOverrides(opts Options, names []string) error {
	known := make(map[string]struct{}, len(names)+opts.ExtraAccountCount)
	for _, name := range names {
		if _, ok := known[name]; ok {
			return fmt.Errorf("%w: duplicate node name %q", ErrAssetGeneration, name)
		}
		known[name] = struct{}{}
	}
	for i := 0; i < opts.ExtraAccountCount; i++ {
		known[fmt.Sprintf("account-%d", i+1)] = struct{}{}
	}

	for name := range opts.BalanceOverrides {
		if _, ok := known[name]; !ok {
			return fmt.Errorf("%w: balance override references %q which has no matching key",
				ErrAssetGeneration, name)
		}
	}
	nodes := make(map[string]struct{}, len(names))
	for _, name := range names {
		nodes[name] = struct{}{}
	}
	for name := range opts.BondedOverrides {
		if _, ok := nodes[name]; !ok {
			return fmt.Errorf("%w: bonded override references %q which is not a node",
				ErrAssetGeneration, name)
		}
	}
	return nil
}

// generateKey draws a keypair either from crypto/rand or, when a seed is
// present, from a stream derived from the seed and the owner name so that
// runs with the same seed reproduce the same identities.
func generateKey(seed []byte, name string, index int) (*crypto.KeyPair, error) {
	if len(seed) == 0 {
		algorithm, err := randomAlgorithm()
		if err != nil {
			return nil, err
		}
		return crypto.GenerateKeyPair(algorithm, nil)
	}

	// Alternate schemes by index to keep both code paths exercised while
	// staying reproducible.
	algorithm := crypto.Ed25519
	if index%2 == 1 {
		algorithm = crypto.Secp256k1
	}
	source := crypto.NewDeterministicRand(append(append([]byte{}, seed...), name...))
	return crypto.GenerateKeyPair(algorithm, source)
}

// randomAlgorithm picks one of the two supported schemes, as the node does
// for ad hoc keys.
func randomAlgorithm() (crypto.Algorithm, error) {
	var b [1]byte
	if _, err := io.ReadFull(rand.Reader, b[:]); err != nil {
		return 0, fmt.Errorf("failed to read randomness: %w", err)
	}
	if b[0]%2 == 0 {
		return crypto.Ed25519, nil
	}
	return crypto.Secp256k1, nil
}
