// Package api provides the HTTP control surface of a soma node and mounts
// the mesh websocket endpoint.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/soma-network/soma/internal/app/localstate"
	"github.com/soma-network/soma/internal/app/weights"
	"github.com/soma-network/soma/internal/domain"
	"github.com/soma-network/soma/internal/health"
	"github.com/soma-network/soma/internal/mesh"
)

// DefaultTopLinks is the topology size when the request does not say.
const DefaultTopLinks = 10

// Server is the soma HTTP API server.
type Server struct {
	node           *mesh.Node
	local          *localstate.State
	weights        *weights.Service   // nil disables /mesh/weights/*
	traces         domain.TraceStore  // nil disables /mesh/traces
	peers          domain.PeerStore   // nil keeps registrations in memory only
	checker        *health.Checker    // nil reports plain "ok"
	metricsEnabled bool
	log            *zap.Logger
}

// NewServer creates a new API server.
func NewServer(node *mesh.Node, local *localstate.State, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{node: node, local: local, log: logger.Named("api")}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetWeights sets the weight snapshot service.
func (s *Server) SetWeights(w *weights.Service) { s.weights = w }

// SetTraces sets the causal trace store.
func (s *Server) SetTraces(t domain.TraceStore) { s.traces = t }

// SetPeerStore persists peer registrations.
func (s *Server) SetPeerStore(p domain.PeerStore) { s.peers = p }

// SetChecker sets the health checker reported on /health.
func (s *Server) SetChecker(c *health.Checker) { s.checker = c }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	// Mesh protocol: long-lived websocket, no request timeout
	r.Handle("/mesh", s.node)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/health", s.handleHealth)

		r.Get("/peers", s.handlePeers)
		r.Post("/peers/register", s.handleRegisterPeer)
		r.Delete("/peers/{id}", s.handleUnregisterPeer)
		r.Get("/resonance", s.handleResonance)

		r.Get("/state", s.handleGetState)
		r.Post("/state", s.handleSetState)

		// Mesh control; /mesh itself is the websocket above
		r.Get("/mesh/links", s.handleLinks)
		r.Post("/mesh/links/tune", s.handleTuneLink)
		r.Get("/mesh/topology", s.handleTopology)
		r.Post("/mesh/fire", s.handleFire)
		r.Get("/mesh/best", s.handleBestPeer)
		r.Post("/mesh/weights/save", s.handleSaveWeights)
		r.Post("/mesh/weights/restore", s.handleRestoreWeights)
		r.Get("/mesh/traces", s.handleTraces)

		// Prometheus metrics endpoint
		if s.metricsEnabled {
			r.Handle("/metrics", promhttp.Handler())
		}
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.checker == nil {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "node_id": s.node.ID()})
		return
	}
	status, code := "ok", http.StatusOK
	if !s.checker.IsHealthy() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"node_id": s.node.ID(),
		"checks":  s.checker.Statuses(),
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeDomainError maps sentinel errors to status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrPeerNotFound), errors.Is(err, domain.ErrNoSnapshot):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidPeerID), errors.Is(err, domain.ErrInvalidURL),
		errors.Is(err, domain.ErrInvalidWeight):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrRegistryClosed), errors.Is(err, domain.ErrNodeClosed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
