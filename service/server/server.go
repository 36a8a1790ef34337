package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/walletsync/service/metrics"
	"github.com/brojonat/walletsync/service/session"
	"github.com/brojonat/walletsync/service/temporal"
	"github.com/brojonat/walletsync/service/version"
	"github.com/brojonat/walletsync/service/watch"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the local HTTP API of the sync service.
type Server struct {
	addr       string
	registry   *watch.Registry
	notices    *session.Session
	checker    *version.Checker
	viewStream *ViewStream
	scheduler  temporal.Scheduler
	metrics    *metrics.Metrics
	logger     *slog.Logger
	server     *http.Server
}

// New creates a new HTTP server with the given dependencies.
// notices carries app-wide notices, such as version check failures, to every
// address stream.
// The checker is optional - if nil, the release endpoint reports 503.
// The viewStream is optional - if nil, the NATS view stream is not served.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, registry *watch.Registry, notices *session.Session, checker *version.Checker, viewStream *ViewStream, m *metrics.Metrics, logger *slog.Logger) *Server {
	if notices == nil {
		notices = session.New(logger)
	}
	return &Server{
		addr:       addr,
		registry:   registry,
		notices:    notices,
		checker:    checker,
		viewStream: viewStream,
		metrics:    m,
		logger:     logger,
	}
}

// WithScheduler enables the headless sync schedule routes and returns the server.
func (s *Server) WithScheduler(scheduler temporal.Scheduler) *Server {
	s.scheduler = scheduler
	return s
}

// Handler builds the routed handler, including CORS and request metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Address routes
	s.handle(mux, "GET /api/v1/addresses", handleListWatches(s.registry))
	s.handle(mux, "POST /api/v1/addresses/{address}/watch", handleWatch(s.registry, s.logger))
	s.handle(mux, "DELETE /api/v1/addresses/{address}/watch", handleUnwatch(s.registry, s.logger))
	s.handle(mux, "GET /api/v1/addresses/{address}/view", handleGetView(s.registry))
	s.handle(mux, "POST /api/v1/addresses/{address}/refresh", handleRefresh(s.registry, s.logger))
	s.handle(mux, "POST /api/v1/addresses/{address}/pages/{page}", handleLoadPage(s.registry, s.logger))
	s.handle(mux, "POST /api/v1/addresses/{address}/pending", handleAddPending(s.registry, s.logger))
	s.handle(mux, "DELETE /api/v1/addresses/{address}/pending/{txid}", handleRemovePending(s.registry, s.logger))

	// Schedule routes
	s.handle(mux, "PUT /api/v1/addresses/{address}/schedule", handleUpsertSchedule(s.scheduler, s.logger))
	s.handle(mux, "DELETE /api/v1/addresses/{address}/schedule", handleDeleteSchedule(s.scheduler, s.logger))

	// Release route
	s.handle(mux, "GET /api/v1/release", handleRelease(s.checker))

	// SSE streaming endpoints
	s.handle(mux, "GET /api/v1/stream/addresses/{address}", handleStreamAddress(s.registry, s.notices, s.metrics, s.logger))
	if s.viewStream != nil {
		s.handle(mux, "GET /api/v1/stream/views/{address}", handleStreamViews(s.viewStream, s.metrics, s.logger))
		s.handle(mux, "GET /api/v1/stream/views", handleStreamViews(s.viewStream, s.metrics, s.logger))
		s.logger.Info("NATS view streaming endpoints enabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

func (s *Server) handle(mux *http.ServeMux, pattern string, h http.Handler) {
	mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, pattern)(h))
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// no WriteTimeout: SSE responses stay open
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("starting HTTP server", "addr", s.addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server and stops every watch.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close the view stream first (disconnects NATS stream clients)
	if s.viewStream != nil {
		s.viewStream.Close()
	}

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}
	s.registry.Close()
	return err
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
