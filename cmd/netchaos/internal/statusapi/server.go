// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package statusapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Config configures a Server.
type Config struct {
	// Addr is the listen address, e.g. ":9464". ":0" picks a free port.
	Addr string

	// ServiceName names the server's spans.
	ServiceName string

	Source   Source
	Gatherer prometheus.Gatherer
	History  History
	Logger   *slog.Logger

	// StreamInterval is how often /v1/experiment/stream checks for changes.
	StreamInterval time.Duration

	// stop is closed by Shutdown to end open streams.
	stop <-chan struct{}
}

// Server runs the status API in the background for the life of a CLI run.
type Server struct {
	srv    *http.Server
	ln     net.Listener
	logger *slog.Logger
	done   chan error

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRouter builds the gin engine without listening.
func NewRouter(cfg Config) *gin.Engine {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "netchaos"
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.ServiceName))
	SetupRoutes(router, cfg.Source, cfg.Gatherer, cfg.History, StreamOptions{
		Interval: cfg.StreamInterval,
		Stop:     cfg.stop,
		Logger:   cfg.Logger,
	})
	return router
}

// Start listens on cfg.Addr and serves until Shutdown.
func Start(cfg Config) (*Server, error) {
	if cfg.Source == nil {
		return nil, errors.New("statusapi: source is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("statusapi: listen %s: %w", cfg.Addr, err)
	}

	stop := make(chan struct{})
	cfg.stop = stop
	s := &Server{
		stop: stop,
		srv: &http.Server{
			Handler:           NewRouter(cfg),
			ReadHeaderTimeout: 10 * time.Second,
		},
		ln:     ln,
		logger: logger.With("component", "statusapi"),
		done:   make(chan error, 1),
	}
	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		s.done <- err
	}()
	s.logger.Info("status API listening", "addr", s.Addr())
	return s, nil
}

// Addr returns the bound address.
func (s *Server) Addr() string {
	return s.ln.Addr().String()
}

// Shutdown stops the server, waiting for in-flight requests up to ctx.
// Open streams are closed first; Shutdown does not track hijacked
// connections.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stop) })
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("statusapi: shutdown: %w", err)
	}
	return <-s.done
}
