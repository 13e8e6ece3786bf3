package admin

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tkingovr/iochain/internal/audit"
	"github.com/tkingovr/iochain/internal/filter"
	"github.com/tkingovr/iochain/internal/policy"
	"github.com/tkingovr/iochain/internal/transport"
)

// Config holds the collaborators of the admin server. Only Builder and
// Filters are required; routes whose collaborator is missing answer 503.
type Config struct {
	Addr     string
	Builder  *filter.Builder
	Filters  *filter.Registry
	Sessions *transport.Registry
	Store    audit.Store
	Engine   policy.Engine
	Metrics  http.Handler
	Logger   *slog.Logger
}

// Server is the admin HTTP API: it edits the chain template, inspects and
// edits live sessions, and exposes audit records and metrics.
type Server struct {
	mux      *http.ServeMux
	logger   *slog.Logger
	addr     string
	builder  *filter.Builder
	sessions *transport.Registry
	store    audit.Store
	metrics  http.Handler

	mu      sync.RWMutex
	filters *filter.Registry
	engine  policy.Engine
}

// NewServer creates a new admin server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		mux:      http.NewServeMux(),
		logger:   logger,
		addr:     cfg.Addr,
		builder:  cfg.Builder,
		sessions: cfg.Sessions,
		store:    cfg.Store,
		metrics:  cfg.Metrics,
		filters:  cfg.Filters,
		engine:   cfg.Engine,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/chain", s.handleChain)
	s.mux.HandleFunc("POST /api/v1/chain", s.handleChainAdd)
	s.mux.HandleFunc("DELETE /api/v1/chain/{name}", s.handleChainRemove)
	s.mux.HandleFunc("GET /api/v1/filters", s.handleFilterTypes)
	s.mux.HandleFunc("GET /api/v1/sessions", s.handleSessions)
	s.mux.HandleFunc("GET /api/v1/sessions/{id}", s.handleSession)
	s.mux.HandleFunc("DELETE /api/v1/sessions/{id}", s.handleSessionClose)
	s.mux.HandleFunc("POST /api/v1/sessions/{id}/chain", s.handleSessionChainAdd)
	s.mux.HandleFunc("DELETE /api/v1/sessions/{id}/chain/{name}", s.handleSessionChainRemove)
	s.mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	s.mux.HandleFunc("GET /api/v1/audit", s.handleAudit)
	s.mux.HandleFunc("POST /api/v1/check", s.handleCheck)
	s.mux.HandleFunc("GET /audit/stream", s.handleAuditStream)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
}

// SetFilters swaps the filter registry and policy engine used by later
// requests, after a configuration reload.
func (s *Server) SetFilters(filters *filter.Registry, engine policy.Engine) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filters = filters
	s.engine = engine
}

func (s *Server) current() (*filter.Registry, policy.Engine) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filters, s.engine
}

// ListenAndServe starts the admin HTTP server and stops it when ctx is
// cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.addr,
		Handler: s.mux,
	}

	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	s.logger.Info("starting admin server", "addr", s.addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Handler returns the HTTP handler for embedding in other servers.
func (s *Server) Handler() http.Handler {
	return s.mux
}
