// Package service wires the shared runtime every binary needs: config,
// logging, Redis, the document store, the bus node, metrics, tracing and the
// HTTP server with graceful shutdown. Binaries add their manager and routes
// on top.
package service

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/AhHanie/axion-demo/pkg/bus"
	"github.com/AhHanie/axion-demo/pkg/config"
	"github.com/AhHanie/axion-demo/pkg/httputil"
	"github.com/AhHanie/axion-demo/pkg/middleware"
	"github.com/AhHanie/axion-demo/pkg/observability"
	"github.com/AhHanie/axion-demo/pkg/permissions"
	"github.com/AhHanie/axion-demo/pkg/store"
)

// Service is the assembled runtime for one process
type Service struct {
	Config   *config.Config
	Logger   *observability.Logger
	Redis    *redis.Client
	Store    *store.Store
	Node     *bus.Node
	Metrics  *observability.Metrics
	Registry *prometheus.Registry
	Router   *mux.Router

	otel *observability.OTelProviders
}

// New builds the runtime for the named service. The bus node is created but
// not started; callers register their module handler first.
func New(serviceName, defaultPort string) (*Service, error) {
	cfg, err := config.Load(serviceName, defaultPort)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, nil).
		WithField("service", serviceName)

	client, err := store.NewClient(store.Options{
		URL:        cfg.Redis.URL,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		MaxRetries: cfg.Redis.MaxRetries,
		PoolSize:   cfg.Redis.PoolSize,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	node, err := bus.NewNode(bus.Options{
		NodeType:          cfg.NodeType,
		Redis:             client,
		Prefix:            cfg.Redis.Prefix,
		CallTimeout:       cfg.Bus.CallTimeout,
		HeartbeatInterval: cfg.Bus.HeartbeatInterval,
		NodeTTL:           cfg.Bus.NodeTTL,
		Logger:            logger,
		Metrics:           metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("creating bus node: %w", err)
	}

	return &Service{
		Config:   cfg,
		Logger:   logger,
		Redis:    client,
		Store:    store.New(client, cfg.Redis.Prefix),
		Node:     node,
		Metrics:  metrics,
		Registry: registry,
		Router:   mux.NewRouter(),
	}, nil
}

// Pipeline builds the authorization pipeline for this service. verifier is
// nil for every service except auth, which verifies short tokens in-process.
func (s *Service) Pipeline(verifier middleware.LocalVerifier) (*middleware.Pipeline, error) {
	engine := permissions.NewEngine(permissions.DefaultTree())
	if s.Config.PolicyFile != "" {
		root, err := permissions.LoadFile(s.Config.PolicyFile)
		if err != nil {
			return nil, fmt.Errorf("loading policy file: %w", err)
		}
		engine = permissions.NewEngine(root)
		s.Logger.WithField("file", s.Config.PolicyFile).Info("Loaded permission policy from file")
	}

	return middleware.NewPipeline(middleware.PipelineOptions{
		Bus:      s.Node,
		Verifier: verifier,
		Engine:   engine,
		Logger:   s.Logger,
		Metrics:  s.Metrics,
	}), nil
}

// Run starts the bus node and the HTTP server, then blocks until a
// termination signal arrives and everything is drained.
func (s *Service) Run(ctx context.Context) error {
	cfg := s.Config

	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, s.Logger)
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}
	s.otel = otelProviders

	if err := s.Node.Start(ctx); err != nil {
		return fmt.Errorf("starting bus node: %w", err)
	}

	health := observability.NewHealthChecker(s.Redis)
	s.Router.HandleFunc("/health/live", health.Liveness).Methods(http.MethodGet)
	s.Router.HandleFunc("/health/ready", health.Readiness).Methods(http.MethodGet)
	if cfg.Observability.MetricsEnabled {
		s.Router.Handle("/metrics", observability.MetricsHandler(s.Registry)).Methods(http.MethodGet)
	}

	rateLimit := middleware.NewRateLimitMiddleware(s.Redis, cfg.Redis.Prefix)

	var handler http.Handler = s.Router
	handler = rateLimit.Handler(handler)
	handler = observability.HTTPMetricsMiddleware(s.Metrics)(handler)
	handler = httputil.Chain(
		httputil.RecoveryMiddleware(s.Logger),
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(s.Logger),
		httputil.CORSMiddleware,
		httputil.MaxBytesMiddleware(1<<20),
	)(handler)
	if cfg.Observability.OTelEnabled {
		handler = otelhttp.NewHandler(handler, cfg.ServiceName+"-http")
	}

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := observability.NewShutdownManager(s.Logger, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return s.Node.Close()
	})
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return s.Redis.Close()
	})
	if s.otel != nil {
		shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
			return observability.ShutdownOTel(ctx, s.otel, s.Logger)
		})
	}

	errCh := make(chan error, 1)
	go func() {
		s.Logger.WithField("addr", server.Addr).Info("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	waitCh := make(chan error, 1)
	go func() {
		waitCh <- shutdown.WaitForShutdown()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("HTTP server failed: %w", err)
	case err := <-waitCh:
		return err
	}
}
