// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package assets

import (
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
)

// NodeConfig is the per-node operational configuration. The engine keeps it
// structured; EncodeTOML renders the config file the node consumes.
type NodeConfig struct {
	BindPort        uint16   `toml:"-"`
	RPCPort         uint16   `toml:"-"`
	SpeculativePort uint16   `toml:"-"`
	RESTPort        uint16   `toml:"-"`
	EventStreamPort uint16   `toml:"-"`
	KnownAddresses  []string `toml:"-"`
	StoragePath     string   `toml:"-"`
}

// RPCURL returns the JSON-RPC endpoint deploys are submitted to.
func (c *NodeConfig) RPCURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d/rpc", c.RPCPort)
}

// RESTURL returns the base REST endpoint used for readiness probing.
func (c *NodeConfig) RESTURL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", c.RESTPort)
}

// On-disk config shape, mirroring the sections the node reads.
type nodeConfigFile struct {
	Network struct {
		BindAddress    string   `toml:"bind_address"`
		KnownAddresses []string `toml:"known_addresses"`
	} `toml:"network"`
	RPCServer struct {
		Address string `toml:"address"`
	} `toml:"rpc_server"`
	SpeculativeExecServer struct {
		Address string `toml:"address"`
	} `toml:"speculative_exec_server"`
	RESTServer struct {
		Address string `toml:"address"`
	} `toml:"rest_server"`
	EventStreamServer struct {
		Address string `toml:"address"`
	} `toml:"event_stream_server"`
	Storage struct {
		Path string `toml:"path"`
	} `toml:"storage"`
}

// EncodeTOML writes the node config file.
func (c *NodeConfig) EncodeTOML(w io.Writer) error {
	file := nodeConfigFile{}
	file.Network.BindAddress = fmt.Sprintf("0.0.0.0:%d", c.BindPort)
	file.Network.KnownAddresses = c.KnownAddresses
	file.RPCServer.Address = fmt.Sprintf("0.0.0.0:%d", c.RPCPort)
	file.SpeculativeExecServer.Address = fmt.Sprintf("0.0.0.0:%d", c.SpeculativePort)
	file.RESTServer.Address = fmt.Sprintf("0.0.0.0:%d", c.RESTPort)
	file.EventStreamServer.Address = fmt.Sprintf("0.0.0.0:%d", c.EventStreamPort)
	file.Storage.Path = c.StoragePath
	return toml.NewEncoder(w).Encode(file)
}
