package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/mendstack/mend-engine/internal/config"
	"github.com/mendstack/mend-engine/internal/services"
)

// Server is the loopback admin listener: status, incident and history
// reads plus the graceful stop trigger. It is not a public surface and
// binds to the configured (typically loopback) address only.
type Server struct {
	cfg         config.ServerConfig
	httpServer  *http.Server
	listener    net.Listener
	status      *services.StatusService
	requestStop func()
	logger      *slog.Logger
}

// NewServer binds the admin listener. requestStop is invoked when a stop
// request arrives; the caller owns the actual shutdown sequencing.
func NewServer(logger *slog.Logger, cfg config.ServerConfig, status *services.StatusService, requestStop func()) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}

	s := &Server{
		cfg:         cfg,
		listener:    lis,
		status:      status,
		requestStop: requestStop,
		logger:      logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/v1/status", s.handleStatus)
	mux.HandleFunc("GET /api/v1/incidents", s.handleIncidents)
	mux.HandleFunc("GET /api/v1/cycles", s.handleCycles)
	mux.HandleFunc("POST /api/v1/stop", s.handleStop)

	s.httpServer = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s, nil
}

// Address reports the bound listen address.
func (s *Server) Address() string {
	return s.listener.Addr().String()
}

// Start serves requests until Shutdown.
func (s *Server) Start() error {
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.status.Snapshot(r.Context())
	if err != nil {
		s.logger.Error("status snapshot failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleIncidents(w http.ResponseWriter, r *http.Request) {
	list, err := s.status.Incidents(r.Context())
	if err != nil {
		s.logger.Error("incident list failed", slog.Any("error", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCycles(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status.History())
}

func (s *Server) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.logger.Info("stop requested via admin api")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
	if s.requestStop != nil {
		go s.requestStop()
	}
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
