// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package server exposes the resource cache over a small HTTP API with a
// WebSocket progress feed.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"

	"github.com/newskylabs/kkrdata/pkg/datacache"
)

// Config holds server configuration.
type Config struct {
	Addr           string
	Port           int
	AllowedOrigins []string // CORS origins
	Version        string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr: "127.0.0.1",
		Port: 8080,
	}
}

// Server is the HTTP server for kkrdata.
type Server struct {
	config     Config
	resolver   *datacache.Resolver
	logger     *log.Logger
	httpServer *http.Server
	jobs       *JobManager
	wsHub      *WSHub
}

// New creates a server resolving through r. A nil logger discards output.
func New(cfg Config, r *datacache.Resolver, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard)
	}
	wsHub := NewWSHub(logger)
	return &Server{
		config:   cfg,
		resolver: r,
		logger:   logger,
		jobs:     NewJobManager(r, wsHub, logger),
		wsHub:    wsHub,
	}
}

// Handler returns the API handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPIRoutes(mux)
	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled
// or the listener fails. Running jobs are cancelled on shutdown.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go s.wsHub.Run()
	defer s.jobs.Close()

	addr := fmt.Sprintf("%s:%d", s.config.Addr, s.config.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("server starting", "addr", "http://"+addr, "cache", s.resolver.Dir())

	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// registerAPIRoutes sets up all API endpoints.
func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Resources
	mux.HandleFunc("GET /api/resources", s.handleListResources)
	mux.HandleFunc("GET /api/resources/{name}", s.handleGetResource)
	mux.HandleFunc("POST /api/resources/{name}/resolve", s.handleResolve)

	// Jobs
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleCancelJob)

	// WebSocket
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			allowed := len(s.config.AllowedOrigins) == 0
			for _, o := range s.config.AllowedOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
