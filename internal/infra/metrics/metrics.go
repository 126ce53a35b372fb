// Package metrics provides Prometheus metrics for the soma mesh node:
// peer membership, link weights, frame traffic, health and resonance.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "soma"

// ─── Peers ──────────────────────────────────────────────────────────────────

// PeersKnown tracks peers held in the registry.
var PeersKnown = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: Namespace,
	Name:      "peers_known",
	Help:      "Number of peers in the registry.",
})

// PeersAlive tracks peers seen within the alive timeout.
var PeersAlive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: Namespace,
	Name:      "peers_alive",
	Help:      "Number of peers seen within the alive timeout.",
})

// PeersConnected tracks peers with a live connection flag.
var PeersConnected = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: Namespace,
	Name:      "peers_connected",
	Help:      "Number of peers currently marked connected.",
})

// PeersEvicted counts peers removed by the eviction policy.
var PeersEvicted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: Namespace,
	Name:      "peers_evicted_total",
	Help:      "Total peers evicted from the registry.",
})

// ─── Links ──────────────────────────────────────────────────────────────────

// LinkWeight tracks the adaptive weight of each peer link.
var LinkWeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: Namespace,
	Name:      "link_weight",
	Help:      "Adaptive Hebbian weight per peer link.",
}, []string{"peer"})

// LinkQuality tracks connection quality of each peer link.
var LinkQuality = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: Namespace,
	Name:      "link_quality",
	Help:      "Connection health quality per peer link.",
}, []string{"peer"})

// HealthEvents counts health samples by outcome (success, failure).
var HealthEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: Namespace,
	Name:      "health_events_total",
	Help:      "Total connection health samples by outcome.",
}, []string{"outcome"})

// ─── Frames ─────────────────────────────────────────────────────────────────

// FramesIn counts decoded inbound frames by type.
var FramesIn = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: Namespace,
	Name:      "frames_in_total",
	Help:      "Total inbound mesh frames by type.",
}, []string{"type"})

// FramesOut counts written outbound frames by type.
var FramesOut = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: Namespace,
	Name:      "frames_out_total",
	Help:      "Total outbound mesh frames by type.",
}, []string{"type"})

// FramesDropped counts frames discarded by reason (malformed, rate, queue_full, binary).
var FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: Namespace,
	Name:      "frames_dropped_total",
	Help:      "Total mesh frames dropped by reason.",
}, []string{"reason"})

// Connections tracks live connection actors by direction (accepted, dialed).
var Connections = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: Namespace,
	Name:      "connections",
	Help:      "Live mesh connections by direction.",
}, []string{"direction"})

// ─── Reconnect ──────────────────────────────────────────────────────────────

// ReconnectAttempts counts dial attempts by result (success, failure).
var ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: Namespace,
	Name:      "reconnect_attempts_total",
	Help:      "Total outbound dial attempts by result.",
}, []string{"result"})

// DialLatency tracks websocket dial duration in seconds.
var DialLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: Namespace,
	Name:      "dial_latency_seconds",
	Help:      "Outbound websocket dial duration in seconds.",
	Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 10},
})

// ─── Resonance ──────────────────────────────────────────────────────────────

// Resonance tracks how close local load is to the alive-peer average.
var Resonance = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: Namespace,
	Name:      "resonance",
	Help:      "Network resonance of the local load (1 = in tune).",
})

// LocalLoad tracks this node's load.
var LocalLoad = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: Namespace,
	Name:      "local_load",
	Help:      "Current local load in [0,1].",
})

// AdaptiveStrength tracks the correction strength applied on each sync.
var AdaptiveStrength = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: Namespace,
	Name:      "adaptive_strength",
	Help:      "Health-weighted resonance correction strength.",
})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: Namespace,
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: Namespace,
	Name:      "health_recoveries_total",
	Help:      "Total auto-recovery attempts per check.",
}, []string{"check"})

// ─── Traces ─────────────────────────────────────────────────────────────────

// TracesRecorded counts causal traces written to storage.
var TracesRecorded = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: Namespace,
	Name:      "traces_recorded_total",
	Help:      "Total causal traces recorded.",
})
