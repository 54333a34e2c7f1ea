package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maneesh/smilewall/internal/config"
	"github.com/maneesh/smilewall/internal/devices"
	"github.com/maneesh/smilewall/internal/gallery"
	"github.com/maneesh/smilewall/internal/handlers"
	"github.com/maneesh/smilewall/internal/hub"
	"github.com/maneesh/smilewall/internal/ingest"
	"github.com/maneesh/smilewall/internal/logging"
	"github.com/maneesh/smilewall/internal/metrics"
	"github.com/maneesh/smilewall/internal/tracing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logger := logging.New(cfg)
	logger.Info().
		Str("port", cfg.ServicePort).
		Str("blob_backend", cfg.BlobBackend).
		Str("persist_backend", cfg.PersistBackend).
		Str("cache_backend", cfg.CacheBackend).
		Msg("Starting SmileWall service")

	ctx := context.Background()

	// Initialize OpenTelemetry tracing
	shutdownTracer, err := tracing.InitTracer(cfg.TracingEnabled, cfg.ServiceName, cfg.JaegerEndpoint, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize tracer")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(ctx); err != nil {
			logger.Error().Err(err).Msg("Error shutting down tracer")
		}
	}()

	// Metrics registry
	var gatherer prometheus.Gatherer
	registry := prometheus.NewRegistry()
	if cfg.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		gatherer = registry
	}
	m := metrics.NewProvider(cfg.MetricsEnabled, registry)

	// Storage backends
	blobs, err := openBlobStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize blob store")
	}

	docs, err := openDocumentStore(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize document store")
	}
	defer docs.Close()

	cache, err := openSnapshotCache(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize snapshot cache")
	}
	defer cache.Close()

	// Application state
	ledger := gallery.NewLedger(docs, blobs, m, logger)
	if err := ledger.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load gallery")
	}
	cameras := devices.NewRegistry(docs, m, logger)
	if err := cameras.Load(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to load cameras")
	}

	wallHub := hub.New(hub.Options{
		QueueSize:    cfg.HubQueueSize,
		PingInterval: cfg.HubPingInterval,
	}, m, logger)

	coordinator := ingest.NewCoordinator(blobs, ledger, cameras, wallHub, cache, ingest.Options{
		PublicBaseURL:  cfg.PublicBaseURL,
		MaxUploadBytes: cfg.GetMaxUploadBytes(),
	}, m, logger)
	logger.Info().Int("total", coordinator.Total()).Msg("Counter restored from gallery")

	router := handlers.NewRouter(handlers.Deps{
		Coordinator:    coordinator,
		Hub:            wallHub,
		Cache:          cache,
		Metrics:        m,
		Gatherer:       gatherer,
		Logger:         logger,
		MaxUploadBytes: cfg.GetMaxUploadBytes(),
		RecentLimit:    cfg.RecentLimit,
		CORSOrigins:    cfg.CORSOrigins,
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.ServicePort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().Str("port", cfg.ServicePort).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	// Walls are hijacked connections; Shutdown does not wait for them
	wallHub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited")
}
