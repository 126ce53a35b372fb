package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/soma-network/soma/internal/domain"
)

// ─── Peers ──────────────────────────────────────────────────────────────────

// handlePeers lists alive peers, or every known peer with ?all=true.
func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	infos, err := s.node.Peers()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	peers := make([]domain.PeerInfo, 0, len(infos))
	for _, p := range infos {
		if all || p.Alive {
			peers = append(peers, p)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":    s.node.ID(),
		"peer_count": len(peers),
		"peers":      peers,
	})
}

type registerRequest struct {
	PeerID string `json:"peer_id"`
	URL    string `json:"url"`
}

func (s *Server) handleRegisterPeer(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.PeerID == "" {
		writeError(w, http.StatusBadRequest, "peer_id is required")
		return
	}
	if req.PeerID == s.node.ID() {
		writeError(w, http.StatusBadRequest, "cannot register self")
		return
	}
	if err := s.node.RegisterPeer(req.PeerID, req.URL); err != nil {
		writeDomainError(w, err)
		return
	}
	if s.peers != nil {
		rec := domain.PeerRecord{ID: req.PeerID, URL: req.URL, RegisteredAt: time.Now()}
		if err := s.peers.UpsertPeer(rec); err != nil {
			s.log.Warn("persist peer failed", zap.String("peer", req.PeerID), zap.Error(err))
		}
	}
	s.node.ConnectAsync(req.PeerID, req.URL)

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": fmt.Sprintf("peer %s registered, connecting to %s", req.PeerID, req.URL),
	})
}

// handleUnregisterPeer drops a reconnect target from the registry and from
// storage. Open connections stay up.
func (s *Server) handleUnregisterPeer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stored := false
	if s.peers != nil {
		rec, err := s.peers.GetPeer(id)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		if rec != nil {
			if err := s.peers.DeletePeer(id); err != nil {
				writeDomainError(w, err)
				return
			}
			stored = true
		}
	}

	err := s.node.UnregisterPeer(id)
	if errors.Is(err, domain.ErrPeerNotFound) && stored {
		err = nil
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"message": fmt.Sprintf("peer %s unregistered", id),
	})
}

// ─── Resonance ──────────────────────────────────────────────────────────────

func (s *Server) handleResonance(w http.ResponseWriter, r *http.Request) {
	load := s.local.Load()
	stats, err := s.node.Balancer().Stats(load)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	strength, err := s.node.Balancer().AdaptiveStrength()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":           s.node.ID(),
		"current_load":      load,
		"resonance":         stats.Resonance,
		"adaptive_strength": strength,
		"peer_count":        stats.PeerCount,
		"network": map[string]any{
			"avg_load": stats.AvgLoad,
			"min_load": stats.MinLoad,
			"max_load": stats.MaxLoad,
			"variance": stats.Variance,
		},
	})
}

// ─── Links ──────────────────────────────────────────────────────────────────

type linkView struct {
	PeerID  string  `json:"peer_id"`
	Weight  float64 `json:"weight"`
	Quality float64 `json:"health_quality"`
	Score   float64 `json:"score"`
}

func linkViews(links []domain.LinkWeight) []linkView {
	out := make([]linkView, len(links))
	for i, l := range links {
		out[i] = linkView{PeerID: l.PeerID, Weight: l.Weight, Quality: l.Quality, Score: l.Score()}
	}
	return out
}

func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	links, err := s.node.LinkWeights()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id": s.node.ID(),
		"links":   linkViews(links),
		"count":   len(links),
	})
}

type tuneRequest struct {
	PeerID string   `json:"peer_id"`
	Weight *float64 `json:"weight"`
}

func (s *Server) handleTuneLink(w http.ResponseWriter, r *http.Request) {
	var req tuneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.PeerID == "" || req.Weight == nil {
		writeError(w, http.StatusBadRequest, "peer_id and weight are required")
		return
	}
	applied, err := s.node.Registry().SetLinkWeight(req.PeerID, *req.Weight)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("link tuned", zap.String("peer", req.PeerID), zap.Float64("weight", applied))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"peer_id":    req.PeerID,
		"new_weight": applied,
		"message":    fmt.Sprintf("link to %s set to %.3f", req.PeerID, applied),
	})
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r, "n", DefaultTopLinks)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	links, err := s.node.TopLinks(n)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id":   s.node.ID(),
		"top_links": linkViews(links),
		"count":     len(links),
	})
}

func (s *Server) handleFire(w http.ResponseWriter, r *http.Request) {
	sent, err := s.node.SendFire()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"node_id": s.node.ID(),
		"sent":    sent,
		"message": fmt.Sprintf("fire broadcast to %d peers", sent),
	})
}

func (s *Server) handleBestPeer(w http.ResponseWriter, r *http.Request) {
	intent := 1.0
	if v := r.URL.Query().Get("intent"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "intent must be a number")
			return
		}
		intent = f
	}
	id, ok, err := s.node.PickBestPeer(intent)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "no connected peer")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"node_id": s.node.ID(),
		"peer_id": id,
		"intent":  intent,
	})
}

// ─── Weights & Traces ───────────────────────────────────────────────────────

func (s *Server) handleSaveWeights(w http.ResponseWriter, r *http.Request) {
	if s.weights == nil {
		writeError(w, http.StatusNotImplemented, "weight storage not configured")
		return
	}
	res, err := s.weights.Save()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRestoreWeights(w http.ResponseWriter, r *http.Request) {
	if s.weights == nil {
		writeError(w, http.StatusNotImplemented, "weight storage not configured")
		return
	}
	res, err := s.weights.Restore()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTraces(w http.ResponseWriter, r *http.Request) {
	if s.traces == nil {
		writeError(w, http.StatusNotImplemented, "trace storage not configured")
		return
	}
	limit, err := intParam(r, "limit", 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	traces, err := s.traces.RecentTraces(limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	total, err := s.traces.CountTraces()
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if traces == nil {
		traces = []domain.CausalTrace{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"traces": traces,
		"count":  len(traces),
		"total":  total,
	})
}

// ─── Local State ────────────────────────────────────────────────────────────

func (s *Server) handleGetState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.local.View())
}

type stateRequest struct {
	Cells      *uint64  `json:"cells"`
	Generation *uint32  `json:"generation"`
	Load       *float64 `json:"load"`
}

func (s *Server) handleSetState(w http.ResponseWriter, r *http.Request) {
	var req stateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.local.Apply(req.Cells, req.Generation, req.Load))
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}
