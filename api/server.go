// Copyright (C) 2024-2026, CNUT Authors. All rights reserved.
// See the file LICENSE for licensing terms.

// Package api exposes a running orchestration session over HTTP: network
// status, node lifecycle operations, deploy submission, log and resource
// sample export, live streaming, and prometheus metrics.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/Boiethios/cnut/runner"
)

const shutdownGrace = 5 * time.Second

// Server serves the control API of one session.
type Server struct {
	log     *zap.Logger
	session *runner.Session

	httpServer *http.Server
}

func NewServer(log *zap.Logger, session *runner.Session, listenAddress string) *Server {
	s := &Server{
		log:     log,
		session: session,
	}

	router := mux.NewRouter()
	router.HandleFunc("/v1/network", s.handleNetworkStatus).Methods(http.MethodGet)
	router.HandleFunc("/v1/nodes/{node}", s.handleNodeStatus).Methods(http.MethodGet)
	router.HandleFunc("/v1/nodes/{node}/start", s.handleStart).Methods(http.MethodPost)
	router.HandleFunc("/v1/nodes/{node}/stop", s.handleStop).Methods(http.MethodPost)
	router.HandleFunc("/v1/nodes/{node}/restart", s.handleRestart).Methods(http.MethodPost)
	router.HandleFunc("/v1/nodes/{node}/upgrade", s.handleUpgrade).Methods(http.MethodPost)
	router.HandleFunc("/v1/upgrade", s.handleUpgradeAll).Methods(http.MethodPost)
	router.HandleFunc("/v1/deploys", s.handleDeploy).Methods(http.MethodPost)
	router.HandleFunc("/v1/nodes/{node}/logs", s.handleLogs).Methods(http.MethodGet)
	router.HandleFunc("/v1/nodes/{node}/samples", s.handleSamples).Methods(http.MethodGet)
	router.HandleFunc("/v1/nodes/{node}/stream", s.handleStream).Methods(http.MethodGet)
	router.Handle("/ext/metrics", promhttp.HandlerFor(session.Registry, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:    listenAddress,
		Handler: cors.AllowAll().Handler(router),
	}
	return s
}

// Start begins serving. It returns once the listener is bound; serving
// continues in the background until Shutdown.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	s.httpServer.Addr = listener.Addr().String()
	s.log.Info("control API listening", zap.String("address", s.httpServer.Addr))
	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("control API failed", zap.Error(err))
		}
	}()
	return nil
}

// Address returns the bound listen address.
func (s *Server) Address() string {
	return s.httpServer.Addr
}

// Shutdown stops serving, waiting briefly for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
