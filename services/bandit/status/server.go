// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/AleutianAI/lcbandit/pkg/pyjson"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const serviceName = "lcbandit"

// Server serves /healthz, /v1/status and /metrics.
type Server struct {
	tracker  *Tracker
	router   *gin.Engine
	registry *prometheus.Registry
	logger   *slog.Logger
	started  time.Time

	srv *http.Server
	ln  net.Listener
}

// NewServer builds the router. The tracker is registered on a private
// registry which is gathered together with the default one, where the
// OpenTelemetry Prometheus exporter registers.
func NewServer(tracker *Tracker, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	reg := prometheus.NewRegistry()
	if err := reg.Register(tracker); err != nil {
		return nil, fmt.Errorf("register status collector: %w", err)
	}
	s := &Server{
		tracker:  tracker,
		registry: reg,
		logger:   logger,
		started:  time.Now(),
	}

	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware(serviceName))
	router.GET("/healthz", s.handleHealth)
	router.GET("/v1/status", s.handleStatus)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		prometheus.Gatherers{reg, prometheus.DefaultGatherer},
		promhttp.HandlerOpts{},
	)))
	s.router = router
	return s, nil
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background. It returns once the
// listener is bound so address errors surface to the caller.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.ln = ln
	s.srv = &http.Server{Handler: s.router, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server stopped", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("status server listening", slog.String("addr", ln.Addr().String()))
	return nil
}

// Addr is the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": serviceName,
		"uptime":  time.Since(s.started).Round(time.Second).String(),
	})
}

// handleStatus writes through pyjson because averages are -Infinity for
// arms whose fits all failed.
func (s *Server) handleStatus(c *gin.Context) {
	body, err := pyjson.Marshal(s.tracker.View())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}
