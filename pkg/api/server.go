// Package api serves the operational HTTP surface of the watcher: health,
// job status, prometheus metrics and the websocket message feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/0xmhha/xchain-watcher/internal/config"
	"github.com/0xmhha/xchain-watcher/internal/constants"
	apimiddleware "github.com/0xmhha/xchain-watcher/pkg/api/middleware"
	"github.com/0xmhha/xchain-watcher/pkg/multichain"
	ws "github.com/0xmhha/xchain-watcher/pkg/target/websocket"
)

// Version is reported by /version.
const Version = "1.0.0"

// Jobs is the view of the manager the server needs.
type Jobs interface {
	Healthy() bool
	ListJobs() []*multichain.InstanceInfo
	HealthCheck() map[string]*multichain.HealthStatus
}

// Options holds the optional collaborators of the server.
type Options struct {
	// Gatherer backs /metrics; prometheus.DefaultGatherer when nil
	Gatherer prometheus.Gatherer
	// WebSocket backs /ws when set
	WebSocket *ws.Server
}

// Server represents the API server
type Server struct {
	config    config.APIConfig
	logger    *zap.Logger
	jobs      Jobs
	gatherer  prometheus.Gatherer
	wsServer  *ws.Server
	router    *chi.Mux
	server    *http.Server
	startedAt time.Time
}

// NewServer creates a new API server
func NewServer(cfg config.APIConfig, jobs Jobs, opts Options, logger *zap.Logger) (*Server, error) {
	if jobs == nil {
		return nil, errors.New("api: jobs are required")
	}
	if cfg.Port < 0 || cfg.Port > constants.MaxPort {
		return nil, fmt.Errorf("api: invalid port %d", cfg.Port)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		config:    cfg,
		logger:    logger.Named("api"),
		jobs:      jobs,
		gatherer:  opts.Gatherer,
		wsServer:  opts.WebSocket,
		router:    chi.NewRouter(),
		startedAt: time.Now(),
	}
	if s.gatherer == nil {
		s.gatherer = prometheus.DefaultGatherer
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           s.router,
		ReadHeaderTimeout: constants.DefaultReadTimeout,
		IdleTimeout:       constants.DefaultIdleTimeout,
	}

	return s, nil
}

// setupMiddleware configures the middleware stack
func (s *Server) setupMiddleware() {
	s.router.Use(apimiddleware.Recovery(s.logger))
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(apimiddleware.Logger(s.logger))
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// WebSocket endpoint - registered without timeouts
	if s.wsServer != nil {
		s.router.Get(constants.DefaultWebSocketPath, s.wsServer.ServeHTTP)
		s.logger.Info("WebSocket feed enabled", zap.String("path", constants.DefaultWebSocketPath))
	}

	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.router.Route("/chains", func(r chi.Router) {
		r.Get("/", s.handleChains)
		r.Get("/{jobID}", s.handleChain)
	})
}

// handleVersion handles the version endpoint
func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": Version, "name": "xchain-watcher"})
}

// ChainsResponse represents the /chains response
type ChainsResponse struct {
	TotalCount int                        `json:"total_count"`
	Jobs       []*multichain.InstanceInfo `json:"jobs"`
}

func (s *Server) handleChains(w http.ResponseWriter, _ *http.Request) {
	jobs := s.jobs.ListJobs()
	writeJSON(w, http.StatusOK, ChainsResponse{TotalCount: len(jobs), Jobs: jobs})
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "jobID")
	for _, info := range s.jobs.ListJobs() {
		if info.ID == id {
			writeJSON(w, http.StatusOK, info)
			return
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": multichain.ErrJobNotFound.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info("starting API server",
		zap.String("address", s.server.Addr),
		zap.Bool("websocket", s.wsServer != nil),
	)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the API server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("stopping API server")

	shutdownCtx, cancel := context.WithTimeout(ctx, constants.DefaultShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("API server stopped gracefully")
	return nil
}

// Router returns the underlying chi router (for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
