// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package server provides the HTTP server for the REST API, live job
// updates over WebSocket and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bodaay/GitHubFolderDownloader/internal/logging"
	"github.com/bodaay/GitHubFolderDownloader/internal/metrics"
	"github.com/bodaay/GitHubFolderDownloader/pkg/ghfolder"
)

// Config holds server configuration.
type Config struct {
	Addr           string
	Port           int
	Token          string // GitHub token
	OutputDir      string // Download root (not configurable via API)
	CacheURL       string // Blob URL of the shared cache; empty uses the per-user dir
	MaxConcurrency int    // Files in flight per job
	MaxRetries     int
	Verify         string
	MaxActiveJobs  int      // Jobs running at once; others stay queued
	AllowedOrigins []string // CORS origins
	Endpoint       string   // GitHub API base URL (GitHub Enterprise)
	Version        string
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	d := ghfolder.DefaultSettings()
	return Config{
		Addr:           "0.0.0.0",
		Port:           8080,
		OutputDir:      "./Downloads",
		MaxConcurrency: d.MaxConcurrency,
		MaxRetries:     d.MaxRetries,
		Verify:         d.Verify,
		MaxActiveJobs:  2,
		Endpoint:       d.Endpoint,
		Version:        "dev",
	}
}

// settings builds the download settings for one job.
func (c Config) settings() ghfolder.Settings {
	s := ghfolder.DefaultSettings()
	s.OutputDir = c.OutputDir
	s.Token = c.Token
	s.CacheURL = c.CacheURL
	if c.MaxConcurrency > 0 {
		s.MaxConcurrency = c.MaxConcurrency
	}
	if c.MaxRetries > 0 {
		s.MaxRetries = c.MaxRetries
	}
	if c.Verify != "" {
		s.Verify = c.Verify
	}
	if c.Endpoint != "" {
		s.Endpoint = c.Endpoint
	}
	return s
}

// Server is the HTTP server for ghfolder.
type Server struct {
	config     Config
	httpServer *http.Server
	jobs       *JobManager
	wsHub      *WSHub
	log        *zap.Logger

	// cache is shared by every job so that concurrent runs do not
	// overwrite each other's metadata.
	cacheOnce sync.Once
	cache     *ghfolder.CacheStore
	cacheErr  error
}

// New creates a new server with the given configuration.
func New(cfg Config) *Server {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	wsHub := NewWSHub()
	s := &Server{
		config: cfg,
		wsHub:  wsHub,
		log:    logging.L().Named("server"),
	}
	s.jobs = NewJobManager(cfg, wsHub, s.cacheStore)
	return s
}

// cacheStore opens the shared cache on first use.
func (s *Server) cacheStore(ctx context.Context) (*ghfolder.CacheStore, error) {
	s.cacheOnce.Do(func() {
		s.cache, s.cacheErr = ghfolder.OpenCache(context.WithoutCancel(ctx), s.config.CacheURL)
	})
	return s.cache, s.cacheErr
}

// Handler returns the complete HTTP handler with middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPIRoutes(mux)
	mux.Handle("GET /metrics", metrics.Handler())
	return s.corsMiddleware(logging.Middleware(metrics.Middleware(routeLabel, mux)))
}

// ListenAndServe starts the HTTP server and blocks until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	// Start WebSocket hub
	go s.wsHub.Run()
	defer s.wsHub.Stop()

	addr := fmt.Sprintf("%s:%d", s.config.Addr, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	s.log.Info("server starting",
		zap.String("addr", addr),
		zap.String("output", s.config.OutputDir),
		zap.Int("maxActiveJobs", s.config.MaxActiveJobs),
	)

	err := s.httpServer.ListenAndServe()
	s.jobs.Shutdown()
	if s.cache != nil {
		if cerr := s.cache.Close(); cerr != nil {
			s.log.Warn("cache close failed", zap.Error(cerr))
		}
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// registerAPIRoutes sets up all API endpoints.
func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	// Health check
	mux.HandleFunc("GET /api/health", s.handleHealth)

	// Downloads
	mux.HandleFunc("POST /api/download", s.handleStartDownload)
	mux.HandleFunc("GET /api/jobs", s.handleListJobs)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /api/jobs/{id}", s.handleCancelJob)

	// Settings
	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleUpdateSettings)

	// Plan (dry-run)
	mux.HandleFunc("POST /api/plan", s.handlePlan)

	// Cache
	mux.HandleFunc("GET /api/cache", s.handleCacheStats)
	mux.HandleFunc("POST /api/cache/prune", s.handleCachePrune)

	// WebSocket
	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

// routeLabel keeps the metrics route label bounded.
func routeLabel(r *http.Request) string {
	p := r.URL.Path
	switch {
	case strings.HasPrefix(p, "/api/jobs/"):
		return "/api/jobs/{id}"
	case strings.HasPrefix(p, "/api/"), p == "/metrics":
		return p
	default:
		return "other"
	}
}

// originAllowed reports whether browser pages from origin may use the API.
// With no configured list every origin is accepted.
func (s *Server) originAllowed(origin string) bool {
	if len(s.config.AllowedOrigins) == 0 {
		return true
	}
	for _, o := range s.config.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}

// Middleware

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
