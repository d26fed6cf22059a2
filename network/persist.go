// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package network

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/Boiethios/cnut/artifact"
	"github.com/Boiethios/cnut/assets"
	"github.com/Boiethios/cnut/utils/crypto"
	"github.com/Boiethios/cnut/utils/perms"
)

const (
	networkFileName   = "network.json"
	chainSpecFileName = "chainspec.toml"
	accountsFileName  = "accounts.toml"
	configFileName    = "config.toml"
	secretKeyFileName = "secret_key.pem"
	storageDirName    = "node-storage"

	// Timestamped directory names keep runs of the same chain name apart.
	dirTimestampFormat = "20060102-150405.999999"
)

// networkFile is the JSON shape of the topology on disk. Key material lives
// in per-node PEM files, never here.
type networkFile struct {
	UUID      string     `json:"uuid"`
	ChainName string     `json:"chain_name"`
	Nodes     []nodeFile `json:"nodes"`
}

type nodeFile struct {
	Name            string    `json:"name"`
	State           NodeState `json:"state"`
	BinaryPath      string    `json:"binary_path,omitempty"`
	BinaryVersion   string    `json:"binary_version,omitempty"`
	BindPort        uint16    `json:"bind_port"`
	RPCPort         uint16    `json:"rpc_port"`
	SpeculativePort uint16    `json:"speculative_port"`
	RESTPort        uint16    `json:"rest_port"`
	EventStreamPort uint16    `json:"event_stream_port"`
}

// Write materializes the network layout under rootDir: the shared chainspec
// and accounts ledger, one directory per node with its config and secret
// key, and the topology manifest. The network dir is recorded on n.
func (n *Network) Write(rootDir string) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.Dir == "" {
		dirName := fmt.Sprintf("%s-%s", n.ChainSpec.Network.Name, time.Now().Format(dirTimestampFormat))
		n.Dir = filepath.Join(rootDir, dirName)
	}
	if err := os.MkdirAll(n.Dir, perms.ReadWriteExecute); err != nil {
		return fmt.Errorf("failed to create network dir: %w", err)
	}

	if err := writeFileWith(filepath.Join(n.Dir, chainSpecFileName), n.ChainSpec.EncodeTOML); err != nil {
		return err
	}
	if err := writeFileWith(filepath.Join(n.Dir, accountsFileName), func(w io.Writer) error {
		return assets.EncodeAccountsTOML(w, n.Ledger)
	}); err != nil {
		return err
	}

	for _, node := range n.nodes {
		nodeDir := filepath.Join(n.Dir, node.Name)
		if err := os.MkdirAll(filepath.Join(nodeDir, storageDirName), perms.ReadWriteExecute); err != nil {
			return fmt.Errorf("failed to create node dir for %s: %w", node.Name, err)
		}
		node.DataDir = nodeDir

		if err := writeFileWith(filepath.Join(nodeDir, configFileName), node.Config.EncodeTOML); err != nil {
			return err
		}
		if node.Key != nil {
			if err := node.Key.WritePEMFile(filepath.Join(nodeDir, secretKeyFileName)); err != nil {
				return err
			}
		}
	}

	return n.writeManifest()
}

// Persist rewrites the topology manifest after a state change. The asset
// files are left untouched.
func (n *Network) Persist() error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.Dir == "" {
		return fmt.Errorf("%w: network has not been written to disk", ErrNetworkState)
	}
	return n.writeManifest()
}

func (n *Network) writeManifest() error {
	file := networkFile{
		UUID:      n.UUID,
		ChainName: n.ChainSpec.Network.Name,
	}
	for _, node := range n.nodes {
		entry := nodeFile{
			Name:            node.Name,
			State:           node.State,
			BindPort:        node.Config.BindPort,
			RPCPort:         node.Config.RPCPort,
			SpeculativePort: node.Config.SpeculativePort,
			RESTPort:        node.Config.RESTPort,
			EventStreamPort: node.Config.EventStreamPort,
		}
		if node.Artifact != nil {
			entry.BinaryPath = node.Artifact.Path
			entry.BinaryVersion = node.Artifact.Version
		}
		file.Nodes = append(file.Nodes, entry)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal network manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(n.Dir, networkFileName), data, perms.ReadWrite); err != nil {
		return fmt.Errorf("failed to write network manifest: %w", err)
	}
	return nil
}

// Read loads a previously written network layout. Processes are never
// adopted across runs, so every non-terminal node state collapses to
// Stopped and PIDs are discarded.
func Read(dir string) (*Network, error) {
	data, err := os.ReadFile(filepath.Join(dir, networkFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read network manifest: %w", err)
	}
	var file networkFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse network manifest: %w", err)
	}

	specFile, err := os.Open(filepath.Join(dir, chainSpecFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open chainspec: %w", err)
	}
	defer specFile.Close()
	chainSpec, err := assets.DecodeChainSpecTOML(specFile)
	if err != nil {
		return nil, fmt.Errorf("failed to parse chainspec: %w", err)
	}

	accountsFile, err := os.Open(filepath.Join(dir, accountsFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to open accounts ledger: %w", err)
	}
	defer accountsFile.Close()
	ledger, err := assets.DecodeAccountsTOML(accountsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to parse accounts ledger: %w", err)
	}

	n := &Network{
		UUID:      file.UUID,
		Dir:       dir,
		ChainSpec: chainSpec,
		Ledger:    ledger,
		byName:    make(map[string]*Node),
	}
	knownAddresses := make([]string, len(file.Nodes))
	for i, entry := range file.Nodes {
		knownAddresses[i] = fmt.Sprintf("127.0.0.1:%d", entry.BindPort)
	}

	for _, entry := range file.Nodes {
		nodeDir := filepath.Join(dir, entry.Name)
		key, err := crypto.ReadPEMFile(filepath.Join(nodeDir, secretKeyFileName))
		if err != nil {
			return nil, err
		}

		state := entry.State
		if state.HasProcess() {
			state = Stopped
		}
		node := &Node{
			Name: entry.Name,
			Key:  key,
			Config: assets.NodeConfig{
				BindPort:        entry.BindPort,
				RPCPort:         entry.RPCPort,
				SpeculativePort: entry.SpeculativePort,
				RESTPort:        entry.RESTPort,
				EventStreamPort: entry.EventStreamPort,
				KnownAddresses:  knownAddresses,
				StoragePath:     "./" + storageDirName,
			},
			DataDir: nodeDir,
			State:   state,
		}
		if entry.BinaryPath != "" {
			node.Artifact = &artifact.BinaryArtifact{
				Version: entry.BinaryVersion,
				Path:    entry.BinaryPath,
				Source:  "restored from " + networkFileName,
			}
		}
		n.nodes = append(n.nodes, node)
		n.byName[node.Name] = node
	}
	return n, nil
}

// ConfigPath returns the node's config file as written by Write.
func (n *Node) ConfigPath() string {
	return filepath.Join(n.DataDir, configFileName)
}

// SecretKeyPath returns the node's secret key file as written by Write.
func (n *Node) SecretKeyPath() string {
	return filepath.Join(n.DataDir, secretKeyFileName)
}

func writeFileWith(path string, encode func(io.Writer) error) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perms.ReadWrite)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := encode(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
