// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Boiethios/cnut/artifact"
	"github.com/Boiethios/cnut/network"
)

// Upgrade swaps a running node's binary for the version the source
// resolves to. Resolution happens before the node is touched, so a
// resolution failure leaves the node running its previous version.
// Concurrent upgrades count against the RollingLimit regardless of whether
// they come through here or through UpgradeAll.
func (s *Supervisor) Upgrade(ctx context.Context, name string, source artifact.Source) error {
	resolved, err := s.provisioner.Resolve(ctx, source)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUpgrade, err)
	}
	return s.upgradeResolved(ctx, name, resolved)
}

func (s *Supervisor) upgradeResolved(ctx context.Context, name string, resolved *artifact.BinaryArtifact) error {
	if err := s.upgradeSem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("%w: %s", ErrUpgrade, err)
	}
	defer s.upgradeSem.Release(1)

	lock := s.nodeLock(name)
	lock.Lock()
	defer lock.Unlock()

	node, err := s.net.Node(name)
	if err != nil {
		return err
	}
	state, err := s.net.State(name)
	if err != nil {
		return err
	}
	if state != network.Running {
		return fmt.Errorf("%w: node %s cannot upgrade from state %s", network.ErrNetworkState, name, state)
	}
	if node.Artifact != nil && node.Artifact.Version == resolved.Version {
		s.log.Info("node already runs the requested version",
			zap.String("node", name),
			zap.String("version", resolved.Version),
		)
		return nil
	}

	s.log.Info("upgrading node",
		zap.String("node", name),
		zap.String("version", resolved.Version),
	)
	if err := s.net.Transition(name, network.Upgrading); err != nil {
		return err
	}
	if err := s.net.AssignBinary(name, resolved); err != nil {
		return err
	}

	s.shutdownProcess(ctx, name)
	s.monitor.UntrackProcess(name)

	if err := s.launch(ctx, node); err != nil {
		return fmt.Errorf("%w: %s", ErrUpgrade, err)
	}
	return nil
}

// UpgradeAll performs a rolling upgrade of every running node, at most
// RollingLimit nodes at a time so the network keeps a quorum of live
// validators throughout. The cap is enforced inside upgradeResolved. Nodes
// that fail to upgrade are reported together; the remaining nodes still
// complete.
func (s *Supervisor) UpgradeAll(ctx context.Context, source artifact.Source) error {
	resolved, err := s.provisioner.Resolve(ctx, source)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrUpgrade, err)
	}

	var names []string
	for _, node := range s.net.NodesInState(network.Running) {
		names = append(names, node.Name)
	}

	var (
		wg   sync.WaitGroup
		errL sync.Mutex
		errs []error
	)
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if err := s.upgradeResolved(ctx, name, resolved); err != nil {
				errL.Lock()
				errs = append(errs, err)
				errL.Unlock()
			}
		}(name)
	}
	wg.Wait()
	return errors.Join(errs...)
}
