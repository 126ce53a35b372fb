package mesh

import (
	"time"

	"github.com/soma-network/soma/internal/domain"
)

// PeerState is everything this node knows about one peer. Values handed out
// by the Registry are copies; only the registry goroutine mutates the original.
type PeerState struct {
	ID       string
	LastSeen int64 // wall clock, ms

	// Mirrored from the peer's most recent StateSync.
	Cells      uint64
	Generation uint32
	Load       float64

	Health    ConnectionHealth
	URL       string // set only for peers registered for auto-reconnect
	Connected bool
	Link      Link
}

func newPeerState(id string, now time.Time, params LinkParams) *PeerState {
	return &PeerState{
		ID:       id,
		LastSeen: now.UnixMilli(),
		Health:   NewConnectionHealth(now),
		Link:     NewLink(params),
	}
}

// IsAlive reports whether the peer was seen within timeout of now.
func (p *PeerState) IsAlive(now time.Time, timeout time.Duration) bool {
	return now.UnixMilli()-p.LastSeen < timeout.Milliseconds()
}

// Score ranks the peer for an intent: weight × quality × intentMatch.
func (p *PeerState) Score(intentMatch float64) float64 {
	return p.Link.Weight * p.Health.Quality * intentMatch
}

// LinkWeight returns the (id, weight, quality) triple.
func (p *PeerState) LinkWeight() domain.LinkWeight {
	return domain.LinkWeight{PeerID: p.ID, Weight: p.Link.Weight, Quality: p.Health.Quality}
}

// Info converts the state to its API view.
func (p *PeerState) Info(now time.Time, timeout time.Duration) domain.PeerInfo {
	return domain.PeerInfo{
		ID:         p.ID,
		LastSeenMs: p.LastSeen,
		Cells:      p.Cells,
		Generation: p.Generation,
		Load:       p.Load,
		URL:        p.URL,
		Connected:  p.Connected,
		Alive:      p.IsAlive(now, timeout),
		Weight:     p.Link.Weight,
		Health:     p.Health.Info(),
	}
}
