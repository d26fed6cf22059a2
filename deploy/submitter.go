// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Boiethios/cnut/network"
)

const putDeployMethod = "account_put_deploy"

// Submitter sends deploys to nodes over JSON-RPC. The node's acceptance
// response is returned verbatim; tracking execution is the caller's
// business.
type Submitter struct {
	log    *zap.Logger
	net    *network.Network
	client *http.Client
}

func NewSubmitter(log *zap.Logger, net *network.Network, client *http.Client) *Submitter {
	if client == nil {
		client = http.DefaultClient
	}
	return &Submitter{
		log:    log,
		net:    net,
		client: client,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      string          `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Submit sends the deploy to the named node and returns the node's
// acceptance response. The target must be running; nothing is sent
// otherwise.
func (s *Submitter) Submit(ctx context.Context, nodeName string, d *Deploy) (json.RawMessage, error) {
	node, err := s.net.Node(nodeName)
	if err != nil {
		return nil, err
	}
	// State is read through the topology lock; the supervisor mutates it
	// concurrently.
	state, err := s.net.State(nodeName)
	if err != nil {
		return nil, err
	}
	if state != network.Running {
		return nil, fmt.Errorf("%w: node %s is %s, deploys need a running node",
			network.ErrNetworkState, nodeName, state)
	}

	request := rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  putDeployMethod,
		Params:  map[string]any{"deploy": d},
	}
	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize deploy request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node.Config.RPCURL(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deploy submission to %s failed: %w", nodeName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deploy submission to %s failed: unexpected status %s", nodeName, resp.Status)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read deploy response: %w", err)
	}
	var parsed rpcResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse deploy response: %w", err)
	}
	if parsed.Error != nil {
		return nil, fmt.Errorf("node %s rejected deploy %s: %s (code %d)",
			nodeName, d.Hash, parsed.Error.Message, parsed.Error.Code)
	}

	s.log.Info("deploy accepted",
		zap.String("node", nodeName),
		zap.String("deploy", d.Hash),
	)
	return parsed.Result, nil
}
