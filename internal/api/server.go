// Package api serves the read-only JSON/CSV API over the stats tables.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/config"
	"github.com/VitalyZnachenok/openvpn-server-dashboard/internal/store"
)

// Server exposes the sessions, user_stats, and traffic_history tables
// over HTTP. It only reads; WAL mode lets it run concurrently with
// collector cycles.
type Server struct {
	store   *store.Store
	servers []config.ServerConfig
	listen  string

	defaultLimit int
	maxLimit     int

	logger *slog.Logger
	clock  func() time.Time
}

func New(st *store.Store, cfg *config.Config, logger *slog.Logger) *Server {
	return &Server{
		store:        st,
		servers:      cfg.Servers,
		listen:       cfg.HTTP.Listen,
		defaultLimit: cfg.HTTP.DefaultLimit,
		maxLimit:     cfg.HTTP.MaxLimit,
		logger:       logger,
		clock:        time.Now,
	}
}

// Handler returns the API routing mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/servers", s.handleServers)
	mux.HandleFunc("GET /api/active_sessions", s.handleActiveSessions)
	mux.HandleFunc("GET /api/user_stats", s.handleUserStats)
	mux.HandleFunc("GET /api/traffic_history", s.handleTrafficHistory)
	mux.HandleFunc("GET /api/summary", s.handleSummary)
	mux.HandleFunc("GET /api/export/sessions", s.handleExportSessions)
	mux.HandleFunc("GET /api/export/users", s.handleExportUsers)
	return mux
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		BaseContext:  func(_ net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", s.listen)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.listen, err)
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.logger.Info("api server started", "listen", s.listen)
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: serve: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string, err error) {
	if err != nil {
		s.logger.Error(msg, "err", err)
	}
	writeJSON(w, code, map[string]string{"error": msg})
}
