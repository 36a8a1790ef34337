package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/walletsync/client"
	"github.com/brojonat/walletsync/service/config"
	"github.com/brojonat/walletsync/service/metadata"
	"github.com/brojonat/walletsync/service/metrics"
	natspkg "github.com/brojonat/walletsync/service/nats"
	"github.com/brojonat/walletsync/service/reconciler"
	"github.com/brojonat/walletsync/service/server"
	"github.com/brojonat/walletsync/service/session"
	"github.com/brojonat/walletsync/service/temporal"
	"github.com/brojonat/walletsync/service/version"
	"github.com/brojonat/walletsync/service/watch"
)

// appVersion is the running build's version (set via ldflags during build).
var appVersion = "dev"

func main() {
	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"explorer", cfg.ExplorerAPIURL,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics collector
	metricsCollector := metrics.NewMetrics(nil) // nil uses default registry

	// Initialize explorer client
	explorer := client.NewExplorerClient(cfg.ExplorerAPIURL, nil, logger).WithMetrics(metricsCollector)

	retirePolicy, err := reconciler.ParseRetirePolicy(cfg.PendingRetirePolicy, cfg.PendingMatchWindow)
	if err != nil {
		logger.Error("invalid retire policy", "error", err)
		os.Exit(1)
	}

	// Initialize metadata store
	store, err := metadata.Open(ctx, cfg.MetadataBackend, cfg.MetadataPath, cfg.DatabaseURL, metricsCollector)
	if err != nil {
		logger.Error("failed to open metadata store", "backend", cfg.MetadataBackend, "error", err)
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("opened metadata store", "backend", cfg.MetadataBackend)

	// App-wide notices reach every address stream
	notices := session.New(logger)

	// Initialize version checker
	current := cfg.CurrentVersion
	if current == "" {
		current = appVersion
	}
	releases := client.NewReleaseClient(cfg.ReleasesLatestURL, nil, logger).WithMetrics(metricsCollector)
	checker := version.NewChecker(releases, store, current,
		version.WithInterval(cfg.VersionCheckInterval),
		version.WithNotifier(notices),
		version.WithLogger(logger),
		version.WithMetrics(metricsCollector),
		version.WithNewVersionHandler(func(v string) {
			notices.Notify(session.Notice{Text: "A new wallet version is available: " + v, Type: session.NoticeInfo})
		}),
	)
	checker.Start(ctx)
	defer checker.Stop()

	registryOpts := []watch.Option{
		watch.WithLogger(logger),
		watch.WithMetrics(metricsCollector),
		watch.WithPollInterval(cfg.PendingPollInterval),
		watch.WithRetirePolicy(retirePolicy),
		watch.WithMaxAddresses(cfg.MaxWatchedAddresses),
	}

	// Initialize NATS publisher and view stream (optional)
	var viewStream *server.ViewStream
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, logger, metricsCollector)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		registryOpts = append(registryOpts, watch.WithPublisher(publisher))

		viewStream, err = server.NewViewStream(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create NATS view stream", "error", err)
			os.Exit(1)
		}
		defer viewStream.Close()
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Info("NATS_URL not set, view publishing disabled")
	}

	registry := watch.NewRegistry(explorer, registryOpts...)
	defer registry.Close()

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, registry, notices, checker, viewStream, metricsCollector, logger)

	// Initialize Temporal client for schedule management (optional)
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		metricsCollector,
		logger,
	)
	if err != nil {
		logger.Warn("temporal unavailable, schedule routes disabled", "host", cfg.TemporalHost, "error", err)
	} else {
		defer temporalClient.Close()
		httpServer.WithScheduler(temporalClient)
		logger.Info("connected to temporal for schedule management",
			"host", cfg.TemporalHost,
			"namespace", cfg.TemporalNamespace,
		)
	}

	logger.Info("server initialized, all dependencies ready",
		"poll_interval", cfg.PendingPollInterval,
		"retire_policy", retirePolicy.Name(),
		"current_version", current,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
