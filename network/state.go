// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package network

import (
	"errors"
	"fmt"
)

// ErrNetworkState indicates an invalid lifecycle transition or an operation
// against a node that is not in the required state.
var ErrNetworkState = errors.New("invalid network state")

// NodeState is one step of the node lifecycle. Transitions are validated by
// the topology model; only the supervisor triggers them.
type NodeState string

const (
	NotProvisioned NodeState = "not_provisioned"
	Provisioned    NodeState = "provisioned"
	Starting       NodeState = "starting"
	Running        NodeState = "running"
	Upgrading      NodeState = "upgrading"
	Restarting     NodeState = "restarting"
	Stopping       NodeState = "stopping"
	Stopped        NodeState = "stopped"
	Crashed        NodeState = "crashed"
)

// validTransitions is the single authoritative transition table.
//
// NotProvisioned → Provisioned → Starting → Running →
// {Upgrading → Running | Crashed} → Stopping → Stopped, with the
// Running → Restarting → Starting cycle. Crashed and Stopped are terminal
// until an explicit start request reopens the node.
var validTransitions = map[NodeState]map[NodeState]struct{}{
	NotProvisioned: {Provisioned: {}},
	Provisioned:    {Starting: {}},
	Starting:       {Running: {}, Crashed: {}, Stopping: {}},
	Running:        {Upgrading: {}, Restarting: {}, Stopping: {}, Crashed: {}},
	Upgrading:      {Running: {}, Crashed: {}, Stopping: {}},
	Restarting:     {Starting: {}, Crashed: {}},
	Stopping:       {Stopped: {}},
	Stopped:        {Starting: {}},
	Crashed:        {Starting: {}, Provisioned: {}},
}

// HasProcess reports whether a live process handle must exist for a node in
// this state. Restarting is included: the node owns a process for part of
// the restart sequence and the handle is only released on Stopped, Crashed
// or Provisioned.
func (s NodeState) HasProcess() bool {
	switch s {
	case Starting, Running, Upgrading, Restarting, Stopping:
		return true
	default:
		return false
	}
}

// CanTransition reports whether s → to is a valid lifecycle step.
func (s NodeState) CanTransition(to NodeState) bool {
	_, ok := validTransitions[s][to]
	return ok
}

func (s NodeState) String() string {
	return string(s)
}

// invalidTransitionError builds the error surfaced for a rejected step.
func invalidTransitionError(name string, from, to NodeState) error {
	return fmt.Errorf("%w: node %s cannot transition from %s to %s", ErrNetworkState, name, from, to)
}
