// Package api provides the HTTP status server of the ospd daemon. It exposes
// Prometheus metrics, liveness and health checks, and the progress of the
// scans the daemon holds. Targets and results stay behind the OSP listener.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/anstrom/ospd/internal/config"
	"github.com/anstrom/ospd/internal/logging"
	"github.com/anstrom/ospd/internal/metrics"
	"github.com/anstrom/ospd/internal/scan"
	"github.com/anstrom/ospd/internal/scanner"
)

// Server timeout constants.
const (
	serverShutdownTimeout = 30 * time.Second
	healthCheckTimeout    = 5 * time.Second
	healthCacheTTL        = 30 * time.Second
	readTimeout           = 10 * time.Second
	writeTimeout          = 10 * time.Second
	idleTimeout           = 60 * time.Second
)

// StatusSource is the part of the daemon the status server reports on.
type StatusSource interface {
	ScanSummaries() []scan.Snapshot
	Scanner() scanner.Scanner
}

// Server represents the status server.
type Server struct {
	httpServer *http.Server
	router     *mux.Router
	source     StatusSource
	metrics    *metrics.PrometheusMetrics
	logger     *logging.Logger
	startTime  time.Time

	checkMu   sync.Mutex
	checkedAt time.Time
	checkErr  error
}

// New creates a status server listening on the configured metrics address.
// pm may be nil, in which case /metrics is not served.
func New(cfg *config.Config, source StatusSource, pm *metrics.PrometheusMetrics) (*Server, error) {
	if source == nil {
		return nil, errors.New("status source is required")
	}

	server := &Server{
		router:    mux.NewRouter(),
		source:    source,
		metrics:   pm,
		logger:    logging.Default().WithComponent("api"),
		startTime: time.Now(),
	}

	server.setupRoutes()
	server.setupMiddleware()

	server.httpServer = &http.Server{
		Addr:              cfg.MetricsAddress(),
		Handler:           server.router,
		ReadTimeout:       readTimeout,
		ReadHeaderTimeout: readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	return server, nil
}

// Start starts the status server and blocks until ctx is cancelled or the
// server fails.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting status server", "address", s.httpServer.Addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("status server failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return s.Stop()
	case err := <-errChan:
		return err
	}
}

// Stop gracefully stops the status server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("Status server shutdown error", "error", err)
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("Status server stopped")
	return nil
}

// GetRouter returns the configured router.
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// GetAddress returns the server address.
func (s *Server) GetAddress() string {
	return s.httpServer.Addr
}

func (s *Server) setupRoutes() {
	if s.metrics != nil {
		s.router.Handle("/metrics",
			promhttp.HandlerFor(s.metrics.GetRegistry(), promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/liveness", s.livenessHandler).Methods(http.MethodGet)
	api.HandleFunc("/health", s.healthHandler).Methods(http.MethodGet)
	api.HandleFunc("/version", s.versionHandler).Methods(http.MethodGet)
	api.HandleFunc("/scans", s.listScansHandler).Methods(http.MethodGet)
	api.HandleFunc("/scans/{id}", s.getScanHandler).Methods(http.MethodGet)

	notAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusMethodNotAllowed, errors.New("method not allowed"))
	})
	// A subrouter reports a method mismatch through its own handler;
	// otherwise the parent's NotFoundHandler answers instead.
	s.router.MethodNotAllowedHandler = notAllowed
	api.MethodNotAllowedHandler = notAllowed

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.writeError(w, r, http.StatusNotFound, errors.New("not found"))
	})
}

func (s *Server) setupMiddleware() {
	s.router.Use(handlers.RecoveryHandler(
		handlers.RecoveryLogger(recoveryLogger{s.logger}),
		handlers.PrintRecoveryStack(false),
	))
	s.router.Use(s.loggingMiddleware)
	s.router.Use(handlers.CompressHandler)
}

// recoveryLogger adapts the structured logger to gorilla's recovery logger.
type recoveryLogger struct {
	logger *logging.Logger
}

func (l recoveryLogger) Println(v ...interface{}) {
	l.logger.Error("Panic in status handler", "error", fmt.Sprint(v...))
}

// loggingMiddleware logs HTTP requests at debug level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		s.logger.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.statusCode,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr)
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

// ErrorResponse represents a standard API error response.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, statusCode int, err error) {
	s.WriteJSON(w, r, statusCode, ErrorResponse{
		Error:     err.Error(),
		Timestamp: time.Now().UTC(),
	})
}

// WriteJSON writes a JSON response.
func (s *Server) WriteJSON(w http.ResponseWriter, r *http.Request, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response",
			"error", err,
			"path", r.URL.Path,
			"method", r.Method)
	}
}
