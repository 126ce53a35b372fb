package mesh

import (
	"time"

	"github.com/soma-network/soma/internal/domain"
)

// PickBestPeer returns the connected, alive peer with the highest
// weight × quality × intentMatch. Ties go to the lowest id.
func (n *Node) PickBestPeer(intentMatch float64) (string, bool, error) {
	peers, err := n.reg.filter(func(p *PeerState, now time.Time) bool {
		return p.Connected && p.IsAlive(now, n.cfg.AliveTimeout)
	})
	if err != nil {
		return "", false, err
	}

	best, bestScore := "", 0.0
	for i := range peers {
		score := peers[i].Score(intentMatch)
		if best == "" || score > bestScore {
			best, bestScore = peers[i].ID, score
		}
	}
	return best, best != "", nil
}

// SendFire broadcasts a Fire pulse and stamps the local fire time on every
// peer. Weights only move when a peer's Fire arrives in return.
func (n *Node) SendFire() (int, error) {
	ts := n.nowMs()
	if err := n.reg.NoteFireLocal(ts); err != nil {
		return 0, err
	}
	return n.out.broadcast(&Fire{NodeID: n.cfg.NodeID, Timestamp: ts}), nil
}

// TopLinks returns the n strongest links.
func (n *Node) TopLinks(limit int) ([]domain.LinkWeight, error) {
	return n.reg.TopLinks(limit)
}
