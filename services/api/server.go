// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api exposes scenario runs, run history and a demo task graph over
// HTTP.
//
// # Routes
//
//	GET    /v1/health
//	GET    /metrics
//	POST   /v1/scenarios/run                   (rate limited)
//	GET    /v1/scenarios/stream                (WebSocket, rate limited)
//	GET    /v1/runs?kind=&limit=
//	GET    /v1/runs/:id
//	POST   /v1/tasks
//	GET    /v1/tasks/:id
//	POST   /v1/tasks/:id/children
//	DELETE /v1/tasks/:id/children/:child
//	PUT    /v1/tasks/:id/status
//	PUT    /v1/tasks/:id/root
//	POST   /v1/tasks/:id/collectibles
//	DELETE /v1/tasks/:id/collectibles
//	GET    /v1/tasks/:id/collectibles/:trait
//	GET    /v1/tasks/:id/aggregate
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/aggtree/services/scenario"
	"github.com/AleutianAI/aggtree/services/tasks"
)

// RunStore persists scenario results. *history.Store implements it.
type RunStore interface {
	Save(ctx context.Context, r *scenario.Result) error
	Get(ctx context.Context, runID string) (*scenario.Result, error)
	List(ctx context.Context, kind scenario.Kind, limit int) ([]*scenario.Result, error)
}

// Config configures the server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `yaml:"addr" json:"addr" validate:"required"`

	// RateLimit is the sustained scenario requests per second.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit" validate:"gt=0"`

	// RateBurst is the scenario request burst size.
	RateBurst int `yaml:"rate_burst" json:"rate_burst" validate:"gt=0"`

	// MaxRunDuration bounds a single scenario run.
	MaxRunDuration time.Duration `yaml:"max_run_duration" json:"max_run_duration" validate:"gt=0"`

	// Debug enables gin debug mode and request logging.
	Debug bool `yaml:"debug" json:"debug"`

	// Version is reported by /v1/health.
	Version string `yaml:"-" json:"-"`
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		Addr:           ":8080",
		RateLimit:      2,
		RateBurst:      4,
		MaxRunDuration: 5 * time.Minute,
		Version:        "dev",
	}
}

// Server serves the HTTP API.
type Server struct {
	cfg     Config
	runner  *scenario.Runner
	store   RunStore
	graph   *tasks.Graph
	logger  *slog.Logger
	limiter *rate.Limiter
	metrics http.Handler
	router  *gin.Engine
}

// Option configures a Server.
type Option func(*Server)

// WithStore enables run history.
func WithStore(store RunStore) Option {
	return func(s *Server) { s.store = store }
}

// WithTaskGraph serves graph instead of a fresh one.
func WithTaskGraph(graph *tasks.Graph) Option {
	return func(s *Server) { s.graph = graph }
}

// WithMetricsHandler serves h at /metrics instead of the default
// Prometheus registry.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// NewServer builds the server and its routes.
func NewServer(cfg Config, opts ...Option) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  slog.Default(),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.graph == nil {
		s.graph = tasks.NewGraph(tasks.WithLogger(s.logger))
	}
	s.runner = scenario.NewRunner(s.logger)
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetRateLimit changes the scenario rate limit at runtime.
func (s *Server) SetRateLimit(limit float64, burst int) {
	s.limiter.SetLimit(rate.Limit(limit))
	s.limiter.SetBurst(burst)
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("aggtree"))
	router.Use(requestID(), metrics())
	if s.cfg.Debug {
		router.Use(gin.Logger())
	}

	metricsHandler := s.metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	router.GET("/metrics", gin.WrapH(metricsHandler))

	v1 := router.Group("/v1")
	v1.GET("/health", s.handleHealth)

	limited := v1.Group("/scenarios", rateLimit(s.limiter))
	limited.POST("/run", s.handleRun)
	limited.GET("/stream", s.handleStream)

	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)

	t := v1.Group("/tasks")
	t.POST("", s.handleCreateTask)
	t.GET("/:id", s.handleGetTask)
	t.POST("/:id/children", s.handleConnect)
	t.DELETE("/:id/children/:child", s.handleDisconnect)
	t.PUT("/:id/status", s.handleSetStatus)
	t.PUT("/:id/root", s.handleSetRoot)
	t.POST("/:id/collectibles", s.handleEmit)
	t.DELETE("/:id/collectibles", s.handleUnemit)
	t.GET("/:id/collectibles/:trait", s.handleReadCollectibles)
	t.GET("/:id/aggregate", s.handleAggregate)

	return router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	case <-ctx.Done():
	}

	s.logger.Info("api shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: s.cfg.Version,
		Tasks:   s.graph.Len(),
		History: s.store != nil,
	})
}
