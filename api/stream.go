// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/Boiethios/cnut/monitor"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	// The control API is loopback-only; cross-origin browser tooling is
	// expected.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamEvent is one websocket message: a captured log line or a resource
// sample, tagged so clients can tell them apart.
type streamEvent struct {
	Type   string                  `json:"type"`
	Log    *monitor.LogLine        `json:"log,omitempty"`
	Sample *monitor.ResourceSample `json:"sample,omitempty"`
}

// handleStream upgrades the connection to a websocket and pushes the node's
// log lines and resource samples as they are captured. The subscriptions
// detach when the client disconnects; capture is unaffected.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["node"]
	if _, err := s.session.Network.Node(name); err != nil {
		s.writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	lines, cancelLines := s.session.Monitor.Subscribe(name)
	defer cancelLines()
	samples, cancelSamples := s.session.Monitor.SubscribeSamples(name)
	defer cancelSamples()

	// Reads are discarded; their failure is how disconnects surface.
	disconnected := make(chan struct{})
	go func() {
		defer close(disconnected)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		var event streamEvent
		select {
		case line := <-lines:
			event = streamEvent{Type: "log", Log: &line}
		case sample := <-samples:
			event = streamEvent{Type: "sample", Sample: &sample}
		case <-disconnected:
			return
		case <-r.Context().Done():
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := conn.WriteJSON(event); err != nil {
			return
		}
	}
}
