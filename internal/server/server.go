// Package server provides the admin HTTP server: Prometheus metrics, health
// probes and read-only views of nodes and players.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	lerrors "github.com/devrev/voicelink/internal/errors"
	"github.com/devrev/voicelink/internal/node"
	"github.com/devrev/voicelink/internal/player"
	"github.com/devrev/voicelink/internal/util/workerpool"
)

// Backend is the state the admin server reports on. *pool.Pool implements it.
type Backend interface {
	Ready() bool
	Nodes() []node.Snapshot
	Node(nodeID string) (node.Snapshot, error)
	Player(guildID string) (player.Player, bool)
	FailoverStats() workerpool.Stats
}

// Config holds admin server settings.
type Config struct {
	Port        int
	MetricsPath string
}

// Server is the admin HTTP server.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	backend    Backend
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
	cfg        Config
}

// NewServer creates the admin server and registers its routes.
func NewServer(cfg Config, backend Backend, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	router := mux.NewRouter()
	s := &Server{
		router:   router,
		backend:  backend,
		gatherer: gatherer,
		logger:   logger,
		cfg:      cfg,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	chain := Chain(
		Recovery(s.logger),
		RequestID,
		Logging(s.logger),
	)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	s.router.Handle(s.cfg.MetricsPath, promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	s.router.HandleFunc("/health/live", s.livenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.readinessHandler).Methods(http.MethodGet)

	s.router.HandleFunc("/nodes", s.listNodes).Methods(http.MethodGet)
	s.router.HandleFunc("/nodes/{node_id}", s.getNode).Methods(http.MethodGet)
	s.router.HandleFunc("/players/{guild_id}", s.getPlayer).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "endpoint not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("Starting admin server", zap.String("addr", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start admin server: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Stopping admin server")
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the http.Handler for the server.
func (s *Server) GetHandler() http.Handler {
	return s.router
}

type nodesResponse struct {
	Nodes    []node.Snapshot  `json:"nodes"`
	Failover workerpool.Stats `json:"failover"`
}

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nodesResponse{
		Nodes:    s.backend.Nodes(),
		Failover: s.backend.FailoverStats(),
	})
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	nodeID := mux.Vars(r)["node_id"]
	snap, err := s.backend.Node(nodeID)
	if err != nil {
		if errors.Is(err, lerrors.ErrUnknownNode) {
			writeError(w, http.StatusNotFound, "UNKNOWN_NODE", err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) getPlayer(w http.ResponseWriter, r *http.Request) {
	guildID := mux.Vars(r)["guild_id"]
	p, ok := s.backend.Player(guildID)
	if !ok {
		writeError(w, http.StatusNotFound, "UNKNOWN_GUILD", lerrors.UnknownGuild(guildID).Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type errorResponse struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Status: "error", ErrorCode: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
