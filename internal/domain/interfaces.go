package domain

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// The mesh core depends on these; infrastructure and app packages implement them.

// LoadSource is the local node's simulated state. The mesh reads it for
// StateSync broadcasts and nudges its load during resonance sync.
type LoadSource interface {
	// Snapshot returns cells, generation and load atomically.
	Snapshot() (cells uint64, generation uint32, load float64)
	Load() float64
	// SetLoad stores load clamped into [0,1].
	SetLoad(load float64)
}

// LinkReader exposes link weights to read-only consumers.
type LinkReader interface {
	LinkWeights() ([]LinkWeight, error)
}

// WeightStore persists weight snapshots on request.
type WeightStore interface {
	SaveWeights(entries []WeightEntry) error
	LoadWeights() ([]WeightEntry, error)
}

// TraceStore persists causal traces.
type TraceStore interface {
	InsertTrace(trace CausalTrace) (int64, error)
	RecentTraces(limit int) ([]CausalTrace, error)
	CountTraces() (int64, error)
	PruneTraces(keep int) (int64, error)
}

// PeerStore persists registered reconnect targets.
type PeerStore interface {
	UpsertPeer(rec PeerRecord) error
	GetPeer(id string) (*PeerRecord, error)
	ListPeers() ([]PeerRecord, error)
	DeletePeer(id string) error
}
