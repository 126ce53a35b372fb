// Package domain holds the mesh's shared value types and the narrow
// interfaces collaborators use to read or drive mesh state.
package domain

import "time"

// HealthInfo is a point-in-time view of a link's connection health.
type HealthInfo struct {
	Quality     float64 `json:"quality"`
	Failures    uint32  `json:"failures"`
	Successes   uint32  `json:"successes"`
	FailureRate float64 `json:"failure_rate"`
	IsHealthy   bool    `json:"is_healthy"`
}

// PeerInfo is a read-only snapshot of one known peer.
type PeerInfo struct {
	ID         string     `json:"id"`
	LastSeenMs int64      `json:"last_seen_ms"`
	Cells      uint64     `json:"cells"`
	Generation uint32     `json:"generation"`
	Load       float64    `json:"load"`
	URL        string     `json:"url,omitempty"`
	Connected  bool       `json:"connected"`
	Alive      bool       `json:"alive"`
	Weight     float64    `json:"weight"`
	Health     HealthInfo `json:"health"`
}

// LinkWeight is the (peer, weight, quality) triple exposed to routing and
// reflection consumers.
type LinkWeight struct {
	PeerID  string  `json:"peer_id"`
	Weight  float64 `json:"weight"`
	Quality float64 `json:"health_quality"`
}

// Score is weight scaled by health, without an intent factor.
func (l LinkWeight) Score() float64 {
	return l.Weight * l.Quality
}

// WeightEntry is one row of a weight snapshot.
type WeightEntry struct {
	PeerID string  `json:"peer_id"`
	Weight float64 `json:"weight"`
}

// ResonanceStats summarises the load distribution across alive peers.
type ResonanceStats struct {
	PeerCount int     `json:"peer_count"`
	AvgLoad   float64 `json:"avg_load"`
	MinLoad   float64 `json:"min_load"`
	MaxLoad   float64 `json:"max_load"`
	Resonance float64 `json:"resonance"`
	Variance  float64 `json:"variance"`
}

// CausalTrace records a link weight that drifted from its default.
type CausalTrace struct {
	ID          int64   `json:"id"`
	Cause       string  `json:"cause"`
	Effect      string  `json:"effect"`
	Delta       float64 `json:"delta"`
	TimestampMs int64   `json:"timestamp_ms"`
}

// PeerRecord is a registered reconnect target persisted across restarts.
type PeerRecord struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	RegisteredAt time.Time `json:"registered_at"`
}
