// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/Boiethios/cnut/artifact"
	"github.com/Boiethios/cnut/config"
	"github.com/Boiethios/cnut/deploy"
	"github.com/Boiethios/cnut/network"
	"github.com/Boiethios/cnut/supervisor"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Debug("failed to write response", zap.Error(err))
	}
}

// writeError maps engine errors onto HTTP statuses: lifecycle violations
// are conflicts, everything else is internal.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, network.ErrNetworkState):
		status = http.StatusConflict
	case errors.Is(err, supervisor.ErrProcess), errors.Is(err, supervisor.ErrUpgrade):
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleNetworkStatus(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"uuid":  s.session.Network.UUID,
		"chain": s.session.Network.ChainSpec.Network.Name,
		"dir":   s.session.Network.Dir,
		"nodes": s.session.Network.Status(),
	})
}

func (s *Server) handleNodeStatus(w http.ResponseWriter, r *http.Request) {
	node, err := s.session.Network.Node(mux.Vars(r)["node"])
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	statuses := s.session.Network.Status()
	for _, status := range statuses {
		if status.Name == node.Name {
			s.writeJSON(w, http.StatusOK, status)
			return
		}
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["node"]
	if err := s.session.Supervisor.Start(r.Context(), name); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"node": name, "state": string(network.Running)})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["node"]
	if err := s.session.Supervisor.Stop(r.Context(), name); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"node": name, "state": string(network.Stopped)})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["node"]
	if err := s.session.Supervisor.Restart(r.Context(), name); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"node": name, "state": string(network.Running)})
}

type upgradeRequest struct {
	// Source selects the new version, in the binary-source selector
	// syntax, e.g. "rev:v1.5.6".
	Source string `json:"source"`
}

func (s *Server) parseUpgradeSource(w http.ResponseWriter, r *http.Request) (artifact.Source, bool) {
	var req upgradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed upgrade request: " + err.Error()})
		return nil, false
	}
	source, err := (&config.Config{BinarySource: req.Source}).Source()
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return nil, false
	}
	return source, true
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["node"]
	source, ok := s.parseUpgradeSource(w, r)
	if !ok {
		return
	}
	if err := s.session.Supervisor.Upgrade(r.Context(), name, source); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"node": name, "state": string(network.Running)})
}

func (s *Server) handleUpgradeAll(w http.ResponseWriter, r *http.Request) {
	source, ok := s.parseUpgradeSource(w, r)
	if !ok {
		return
	}
	if err := s.session.Supervisor.UpgradeAll(r.Context(), source); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"state": "upgraded"})
}

type deployRequest struct {
	// Node receives the deploy over JSON-RPC.
	Node string `json:"node"`

	// Transfer moves tokens from a network node's account. The node's own
	// validator key signs.
	Transfer *transferRequest `json:"transfer"`
}

type transferRequest struct {
	FromNode string `json:"from_node"`
	To       string `json:"to"`
	Amount   string `json:"amount"`
	ID       uint64 `json:"id"`
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	var req deployRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed deploy request: " + err.Error()})
		return
	}
	if req.Transfer == nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "deploy request needs a transfer"})
		return
	}

	signer, err := s.session.Network.Node(req.Transfer.FromNode)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	d, err := deploy.NewTransfer(deploy.TransferParams{
		From:      signer.Key,
		To:        req.Transfer.To,
		Amount:    req.Transfer.Amount,
		ChainName: s.session.Network.ChainSpec.Network.Name,
		ID:        req.Transfer.ID,
	})
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	result, err := s.session.Submitter.Submit(r.Context(), req.Node, d)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"deploy_hash": d.Hash,
		"result":      result,
	})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["node"]
	if _, err := s.session.Network.Node(name); err != nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if err := s.session.Monitor.Export(w, name); err != nil {
		s.log.Debug("log export interrupted", zap.Error(err))
	}
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["node"]
	if _, err := s.session.Network.Node(name); err != nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}
	s.writeJSON(w, http.StatusOK, s.session.Monitor.SampleSnapshot(name))
}
