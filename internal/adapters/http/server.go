// Package http provides the HTTP API for sweeps, accuracy runs and
// dataset lookups.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/jobrunner/osmacc/internal/config"
	"github.com/jobrunner/osmacc/internal/ports/input"
)

// Server wraps the HTTP server with application handlers.
type Server struct {
	server    *http.Server
	router    *mux.Router
	sweeps    input.SweepService
	accuracy  input.AccuracyService
	inspector input.DatasetInspector
	metrics   Metrics
	logger    *slog.Logger
	config    config.ServerConfig
	defaults  RunDefaults
}

// Metrics exposes the metrics endpoint and request instrumentation.
type Metrics interface {
	Handler() http.Handler
	Middleware(next http.Handler) http.Handler
}

// RunDefaults fills request fields a client leaves out.
type RunDefaults struct {
	Workers     int
	Percent     float64
	MetricsPath string
}

// NewServer creates a new HTTP server. metrics may be nil.
func NewServer(
	cfg config.ServerConfig,
	sweeps input.SweepService,
	accuracy input.AccuracyService,
	inspector input.DatasetInspector,
	metrics Metrics,
	logger *slog.Logger,
	defaults RunDefaults,
) *Server {
	if defaults.Percent <= 0 {
		defaults.Percent = 100
	}
	if defaults.MetricsPath == "" {
		defaults.MetricsPath = "/metrics"
	}
	s := &Server{
		sweeps:    sweeps,
		accuracy:  accuracy,
		inspector: inspector,
		metrics:   metrics,
		logger:    logger,
		config:    cfg,
		defaults:  defaults,
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Address(),
		Handler:           s.router,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	// Add middleware
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	// Add CORS middleware if configured
	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
	}

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// API v1
	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/datasets/{name}", s.handleGetDataset).Methods(http.MethodGet)
	api.HandleFunc("/sweeps", s.handleSweep).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/accuracy", s.handleAccuracy).Methods(http.MethodPost, http.MethodOptions)

	// OpenAPI spec
	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)
	r.HandleFunc("/openapi.yaml", s.handleOpenAPIYAML).Methods(http.MethodGet)

	if s.metrics != nil {
		r.Handle(s.defaults.MetricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	}

	return r
}

// Router returns the mux router.
func (s *Server) Router() *mux.Router {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "address", s.config.Address())
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs incoming requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status code
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware recovers from panics.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
