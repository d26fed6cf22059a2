// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package network

import (
	"github.com/Boiethios/cnut/artifact"
	"github.com/Boiethios/cnut/assets"
	"github.com/Boiethios/cnut/utils/crypto"
)

// Node is the authoritative record of one network member: its identity,
// assigned binary, generated config, and lifecycle state. State and process
// fields are mutated only through the topology model's sequenced operations.
type Node struct {
	// Name uniquely identifies the node within its network.
	Name string

	// Key is the node's validator keypair, generated once and never
	// replaced across restarts or upgrades.
	Key *crypto.KeyPair

	// Config is the node's operational configuration, including its
	// network address and API ports.
	Config assets.NodeConfig

	// Artifact is the binary version the node runs. Swapped only by
	// upgrade operations.
	Artifact *artifact.BinaryArtifact

	// DataDir is the node's run directory under the network dir.
	DataDir string

	// State is the current lifecycle state.
	State NodeState

	// PID of the live process; zero when State.HasProcess() is false.
	PID int
}

// NodeStatus is a read-only snapshot of a node record, safe to hold without
// the topology lock.
type NodeStatus struct {
	Name      string    `json:"name"`
	State     NodeState `json:"state"`
	Version   string    `json:"version"`
	PublicKey string    `json:"public_key"`
	PID       int       `json:"pid,omitempty"`
	RPCPort   uint16    `json:"rpc_port"`
	RESTPort  uint16    `json:"rest_port"`
}

func (n *Node) status() NodeStatus {
	status := NodeStatus{
		Name:     n.Name,
		State:    n.State,
		PID:      n.PID,
		RPCPort:  n.Config.RPCPort,
		RESTPort: n.Config.RESTPort,
	}
	if n.Key != nil {
		status.PublicKey = n.Key.PublicKeyHex()
	}
	if n.Artifact != nil {
		status.Version = n.Artifact.Version
	}
	return status
}
