// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package network holds the in-memory topology model: the authoritative
// record of the target network's nodes, their assigned binaries, configs and
// lifecycle states. It is a state container; process management lives in the
// supervisor, which is the only component allowed to mutate records.
package network

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/Boiethios/cnut/artifact"
	"github.com/Boiethios/cnut/assets"
)

// Network is the topology of one orchestration session. Exactly one
// topology is live per session; teardown drives every node to Stopped
// before the topology is discarded.
type Network struct {
	// UUID uniquely identifies this network instance for monitoring
	// labels, distinct from the chain name which may repeat across runs.
	UUID string

	// Dir is where the network's generated files live. Empty until the
	// layout is written.
	Dir string

	// ChainSpec is shared by every node. Immutable once the network
	// starts; a new chainspec means a new network.
	ChainSpec *assets.ChainSpec

	// Ledger is the initial balance ledger matching the chainspec.
	Ledger []assets.Account

	mu     sync.RWMutex
	nodes  []*Node
	byName map[string]*Node
}

// New creates an empty topology.
func New(chainSpec *assets.ChainSpec) *Network {
	return &Network{
		UUID:      uuid.NewString(),
		ChainSpec: chainSpec,
		byName:    make(map[string]*Node),
	}
}

// FromAssets builds a topology populated from freshly generated assets.
// Every node starts in NotProvisioned.
func FromAssets(generated *assets.NetworkAssets) (*Network, error) {
	n := New(generated.ChainSpec)
	n.Ledger = generated.Ledger
	for _, nodeAssets := range generated.Nodes {
		err := n.RegisterNode(&Node{
			Name:   nodeAssets.Name,
			Key:    nodeAssets.Key,
			Config: nodeAssets.Config,
			State:  NotProvisioned,
		})
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}

// RegisterNode adds a node record. Node names must be unique within the
// topology.
func (n *Network) RegisterNode(node *Node) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if node.Name == "" {
		return fmt.Errorf("%w: node name must not be empty", ErrNetworkState)
	}
	if _, ok := n.byName[node.Name]; ok {
		return fmt.Errorf("%w: node %s is already registered", ErrNetworkState, node.Name)
	}
	if node.State == "" {
		node.State = NotProvisioned
	}
	n.nodes = append(n.nodes, node)
	n.byName[node.Name] = node
	return nil
}

// Transition moves a node to the requested state after validating the step
// against the lifecycle machine. An invalid transition fails with
// ErrNetworkState and leaves the record unchanged.
func (n *Network) Transition(name string, to NodeState) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	node, ok := n.byName[name]
	if !ok {
		return fmt.Errorf("%w: unknown node %s", ErrNetworkState, name)
	}
	if !node.State.CanTransition(to) {
		return invalidTransitionError(name, node.State, to)
	}
	node.State = to
	if !to.HasProcess() {
		node.PID = 0
	}
	return nil
}

// SetPID records the live process id of a node. Only valid while the node
// is in a state that owns a process.
func (n *Network) SetPID(name string, pid int) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	node, ok := n.byName[name]
	if !ok {
		return fmt.Errorf("%w: unknown node %s", ErrNetworkState, name)
	}
	if !node.State.HasProcess() {
		return fmt.Errorf("%w: node %s has no process in state %s", ErrNetworkState, name, node.State)
	}
	node.PID = pid
	return nil
}

// AssignBinary sets the binary version a node runs. Rejected while the node
// owns a process, except during an upgrade.
func (n *Network) AssignBinary(name string, art *artifact.BinaryArtifact) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	node, ok := n.byName[name]
	if !ok {
		return fmt.Errorf("%w: unknown node %s", ErrNetworkState, name)
	}
	if node.State.HasProcess() && node.State != Upgrading {
		return fmt.Errorf("%w: cannot assign a binary to node %s in state %s", ErrNetworkState, name, node.State)
	}
	node.Artifact = art
	return nil
}

// Node returns the record for the given name.
func (n *Network) Node(name string) (*Node, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	node, ok := n.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown node %s", ErrNetworkState, name)
	}
	return node, nil
}

// State returns the node's current lifecycle state.
func (n *Network) State(name string) (NodeState, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	node, ok := n.byName[name]
	if !ok {
		return "", fmt.Errorf("%w: unknown node %s", ErrNetworkState, name)
	}
	return node.State, nil
}

// Nodes returns all records in registration order.
func (n *Network) Nodes() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()

	return append([]*Node{}, n.nodes...)
}

// NodeNames returns the names of all records in registration order.
func (n *Network) NodeNames() []string {
	n.mu.RLock()
	defer n.mu.RUnlock()

	names := make([]string, len(n.nodes))
	for i, node := range n.nodes {
		names[i] = node.Name
	}
	return names
}

// NodesInState returns the records currently in the given state.
func (n *Network) NodesInState(state NodeState) []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()

	var matching []*Node
	for _, node := range n.nodes {
		if node.State == state {
			matching = append(matching, node)
		}
	}
	return matching
}

// Status returns a read-only snapshot of every node record.
func (n *Network) Status() []NodeStatus {
	n.mu.RLock()
	defer n.mu.RUnlock()

	statuses := make([]NodeStatus, len(n.nodes))
	for i, node := range n.nodes {
		statuses[i] = node.status()
	}
	return statuses
}
