// Package server implements the HTTP endpoints for health checks, task status
// and metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthChecker interface for checking component health.
type HealthChecker interface {
	Liveness() bool
	Readiness(ctx context.Context) bool
	IsHealthy() bool
	GetStatus() map[string]string
}

// Config contains the listen ports and endpoint paths.
type Config struct {
	HealthPort    int
	MetricsPort   int
	LivenessPath  string
	ReadinessPath string
	StatusPath    string
	MetricsPath   string
	// DisableMetrics leaves the metrics server out; MetricsHandler still works.
	DisableMetrics bool
}

func (c Config) withDefaults() Config {
	if c.LivenessPath == "" {
		c.LivenessPath = "/health/live"
	}
	if c.ReadinessPath == "" {
		c.ReadinessPath = "/health/ready"
	}
	if c.StatusPath == "" {
		c.StatusPath = "/status"
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	return c
}

// Server represents the HTTP server for health and metrics.
type Server struct {
	healthServer    *http.Server
	metricsServer   *http.Server
	metricsDisabled bool
	logger          *slog.Logger
}

// NewServer creates a new HTTP server. The status endpoint is served only
// when tasks is not nil.
func NewServer(
	config Config,
	healthChecker HealthChecker,
	tasks TaskLister,
	registry *prometheus.Registry,
	logger *slog.Logger,
) *Server {
	config = config.withDefaults()

	// Health server
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("GET "+config.LivenessPath, LivenessHandler(healthChecker, logger))
	healthMux.HandleFunc("GET "+config.ReadinessPath, ReadinessHandler(healthChecker, logger))
	if tasks != nil {
		healthMux.HandleFunc("GET "+config.StatusPath, StatusHandler(tasks, logger))
	}

	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle(config.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", config.MetricsPort),
		Handler:      metricsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return &Server{
		healthServer:    healthServer,
		metricsServer:   metricsServer,
		metricsDisabled: config.DisableMetrics,
		logger:          logger,
	}
}

// HealthHandler returns the handler of the health server.
func (s *Server) HealthHandler() http.Handler {
	return s.healthServer.Handler
}

// MetricsHandler returns the handler of the metrics server.
func (s *Server) MetricsHandler() http.Handler {
	return s.metricsServer.Handler
}

func (s *Server) servers() []*http.Server {
	if s.metricsDisabled {
		return []*http.Server{s.healthServer}
	}
	return []*http.Server{s.healthServer, s.metricsServer}
}

// Start starts the HTTP servers in the background.
func (s *Server) Start() error {
	for _, srv := range s.servers() {
		go func() {
			s.logger.Info("starting HTTP server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("HTTP server failed", "addr", srv.Addr, "error", err)
			}
		}()
	}
	return nil
}

// Shutdown gracefully shuts down the servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP servers")

	servers := s.servers()
	errChan := make(chan error, len(servers))
	for _, srv := range servers {
		go func() {
			errChan <- srv.Shutdown(ctx)
		}()
	}

	var errs []error
	for range servers {
		if err := <-errChan; err != nil {
			s.logger.Error("error shutting down server", "error", err)
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
