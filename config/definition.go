// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package config

import (
	"fmt"
	"os"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/Boiethios/cnut/assets"
)

// NetworkDefinition is the YAML description of a network: its identity plus
// optional per-node names and balances. Everything not specified falls back
// to the generator defaults.
type NetworkDefinition struct {
	ChainName       string           `yaml:"chain_name"`
	ProtocolVersion string           `yaml:"protocol_version"`
	NodeCount       int              `yaml:"node_count"`
	Nodes           []NodeDefinition `yaml:"nodes"`
	ExtraAccounts   int              `yaml:"extra_accounts"`
}

// NodeDefinition customizes one node. Balance and Bonded accept YAML
// numbers or strings; amounts beyond integer range must be quoted.
type NodeDefinition struct {
	Name    string `yaml:"name"`
	Balance any    `yaml:"balance"`
	Bonded  any    `yaml:"bonded"`
}

// LoadDefinition parses a network definition file. Unknown fields are
// rejected so typos surface instead of silently defaulting.
func LoadDefinition(path string) (*NetworkDefinition, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open network definition: %w", err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)

	def := &NetworkDefinition{}
	if err := decoder.Decode(def); err != nil {
		return nil, fmt.Errorf("failed to parse network definition %s: %w", path, err)
	}
	return def, nil
}

// AssetOptions converts the definition into generator options. The
// definition wins over the base options wherever it specifies a value.
func (d *NetworkDefinition) AssetOptions(base assets.Options) (assets.Options, error) {
	opts := base
	if d.ChainName != "" {
		opts.ChainName = d.ChainName
	}
	if d.ProtocolVersion != "" {
		opts.ProtocolVersion = d.ProtocolVersion
	}
	if d.NodeCount > 0 {
		opts.NodeCount = d.NodeCount
	}
	if len(d.Nodes) > opts.NodeCount {
		opts.NodeCount = len(d.Nodes)
	}
	if d.ExtraAccounts > 0 {
		opts.ExtraAccountCount = d.ExtraAccounts
	}

	for i, node := range d.Nodes {
		name := node.Name
		if name == "" {
			name = fmt.Sprintf("node-%d", i+1)
		}
		opts.NodeNames = append(opts.NodeNames, name)

		if node.Balance != nil {
			balance, err := cast.ToStringE(node.Balance)
			if err != nil {
				return assets.Options{}, fmt.Errorf("invalid balance for node %s: %w", name, err)
			}
			if opts.BalanceOverrides == nil {
				opts.BalanceOverrides = make(map[string]string)
			}
			opts.BalanceOverrides[name] = balance
		}
		if node.Bonded != nil {
			bonded, err := cast.ToStringE(node.Bonded)
			if err != nil {
				return assets.Options{}, fmt.Errorf("invalid bonded amount for node %s: %w", name, err)
			}
			if opts.BondedOverrides == nil {
				opts.BondedOverrides = make(map[string]string)
			}
			opts.BondedOverrides[name] = bonded
		}
	}
	return opts, nil
}
