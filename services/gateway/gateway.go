// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway provides the analysis gateway service.
//
// The gateway is the server side of the assistant's transport. It speaks the
// op protocol (hello, heartbeat, ack, dispatch) on /ws, accepts plain POSTed
// requests on / and /v1/analyze, and forwards every analysis to the external
// scoring service.
//
// # Usage
//
//	svc, err := gateway.New(gateway.Config{ScorerURL: "http://127.0.0.1:5000/"})
//	if err != nil {
//	    return err
//	}
//	return svc.Run(ctx)
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/probr/services/gateway/handlers"
	"github.com/AleutianAI/probr/services/gateway/observability"
	"github.com/AleutianAI/probr/services/gateway/routes"
	"github.com/AleutianAI/probr/services/gateway/scorer"
)

const serviceName = "probr-gateway"

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the gateway service.
//
// # Thread Safety
//
// Run and Serve block and should be called at most once per instance.
type Service interface {
	// Run listens on the configured port and serves until ctx is done, then
	// shuts down gracefully. Open WebSocket connections receive a
	// going-away close frame.
	Run(ctx context.Context) error

	// Serve is Run on an existing listener.
	Serve(ctx context.Context, ln net.Listener) error

	// Router returns the underlying Gin engine for testing.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds gateway configuration options. Zero values use defaults.
type Config struct {
	// Port is the HTTP server port. Default: 6969
	Port int

	// ScorerURL is the scoring service endpoint.
	// Default: "http://127.0.0.1:5000/"
	ScorerURL string

	// ScorerTimeout bounds one scoring call. Default: 30s
	ScorerTimeout time.Duration

	// HeartbeatInterval is announced to WebSocket clients. Default: 45s
	HeartbeatInterval time.Duration

	// HeartbeatGrace is the extra time a client gets to send its heartbeat.
	// Default: 10s
	HeartbeatGrace time.Duration

	// MaxConcurrent bounds concurrent analyses per connection. Default: 8
	MaxConcurrent int

	// DisableMetrics removes the /metrics endpoint.
	DisableMetrics bool

	// TraceExporter is "otlp", "stdout" or "none". Default: "none"
	TraceExporter string

	// OTelEndpoint is the OTLP collector address. Default: "localhost:4317"
	OTelEndpoint string

	// GinMode sets the Gin framework mode ("debug", "release", "test").
	// Default: "release"
	GinMode string

	// ShutdownTimeout bounds graceful shutdown. Default: 10s
	ShutdownTimeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// =============================================================================
// Implementation
// =============================================================================

type service struct {
	config        Config
	router        *gin.Engine
	registry      *prometheus.Registry
	metrics       *observability.Metrics
	tracerCleanup func(context.Context)
	logger        *slog.Logger

	// base is cancelled on shutdown to close hijacked WebSocket
	// connections, which http.Server.Shutdown does not track.
	base       context.Context
	cancelBase context.CancelFunc
}

// New creates a gateway Service.
//
// # Description
//
// New initializes, in order: configuration defaults, the tracer provider,
// the Prometheus registry and metrics, the scorer client, and the router.
//
// # Outputs
//
//   - Service: Ready-to-run gateway
//   - error: Non-nil if the tracer or the scorer client cannot be created
func New(cfg Config) (Service, error) {
	s := &service{config: applyConfigDefaults(cfg)}
	s.logger = s.config.Logger
	s.base, s.cancelBase = context.WithCancel(context.Background())

	cleanup, err := observability.InitTracer(context.Background(), observability.TracingConfig{
		ServiceName:  serviceName,
		Exporter:     s.config.TraceExporter,
		OTLPEndpoint: s.config.OTelEndpoint,
	})
	if err != nil {
		s.cancelBase()
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	s.tracerCleanup = cleanup

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = observability.NewMetrics(s.registry)

	client, err := scorer.New(scorer.Config{
		URL:     s.config.ScorerURL,
		Timeout: s.config.ScorerTimeout,
		Logger:  s.logger,
	})
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to initialize scorer client: %w", err)
	}
	client.OnShared(s.metrics.RecordShared)

	s.initRouter(client)
	return s, nil
}

// Run implements Service.
func (s *service) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.cleanup()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve implements Service.
func (s *service) Serve(ctx context.Context, ln net.Listener) error {
	defer s.cleanup()

	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting gateway server", "addr", ln.Addr().String(), "scorer_url", s.config.ScorerURL)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("gateway server stopped: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down gateway server")
	s.cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("gateway shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Router implements Service.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 6969
	}
	if cfg.ScorerURL == "" {
		cfg.ScorerURL = "http://127.0.0.1:5000/"
	}
	if cfg.ScorerTimeout == 0 {
		cfg.ScorerTimeout = 30 * time.Second
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 45 * time.Second
	}
	if cfg.HeartbeatGrace == 0 {
		cfg.HeartbeatGrace = 10 * time.Second
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.TraceExporter == "" {
		cfg.TraceExporter = observability.ExporterNone
	}
	if cfg.OTelEndpoint == "" {
		cfg.OTelEndpoint = "localhost:4317"
	}
	if cfg.GinMode == "" {
		cfg.GinMode = gin.ReleaseMode
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

func (s *service) initRouter(sc scorer.Scorer) {
	gin.SetMode(s.config.GinMode)
	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(otelgin.Middleware(serviceName))

	deps := routes.Dependencies{
		Analyzer: handlers.NewAnalyzer(sc, s.metrics, s.logger),
		WebSocket: handlers.WebSocketConfig{
			HeartbeatInterval: s.config.HeartbeatInterval,
			Grace:             s.config.HeartbeatGrace,
			WriteTimeout:      10 * time.Second,
			MaxConcurrent:     s.config.MaxConcurrent,
			Base:              s.base,
		},
	}
	if !s.config.DisableMetrics {
		deps.Gatherer = s.registry
	}
	routes.SetupRoutes(s.router, deps)
}

// cleanup releases the tracer and closes remaining connections. Safe to
// call more than once.
func (s *service) cleanup() {
	s.cancelBase()
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
		s.tracerCleanup = nil
	}
}

// =============================================================================
// Compile-time Interface Compliance
// =============================================================================

var _ Service = (*service)(nil)
