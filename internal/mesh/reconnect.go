package mesh

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// Supervisor periodically re-dials registered peers that have dropped.
type Supervisor struct {
	node *Node
	log  *zap.Logger

	mu        sync.Mutex
	probation map[string]*probe

	wg sync.WaitGroup
}

// probe schedules re-admission of one zero-quality peer.
type probe struct {
	bo   *backoff.ExponentialBackOff
	next time.Time
}

func newSupervisor(n *Node) *Supervisor {
	return &Supervisor{
		node:      n,
		log:       n.log.Named("reconnect"),
		probation: make(map[string]*probe),
	}
}

// Eligible reports whether p may be dialed this sweep. Peers with any
// remaining quality always are; a zero-quality peer is only re-admitted under
// probation, once its backoff interval has elapsed.
func (s *Supervisor) Eligible(p PeerState, now time.Time) bool {
	if p.Health.Quality > 0 {
		return true
	}
	if !s.node.cfg.Probation {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pr, ok := s.probation[p.ID]
	if !ok {
		bo := backoff.NewExponentialBackOff()
		bo.InitialInterval = s.node.cfg.ProbationInitial
		bo.MaxInterval = s.node.cfg.ProbationMax
		bo.Multiplier = 2
		bo.RandomizationFactor = 0
		bo.Reset()
		s.probation[p.ID] = &probe{bo: bo, next: now.Add(bo.NextBackOff())}
		return false
	}
	if now.Before(pr.next) {
		return false
	}
	pr.next = now.Add(pr.bo.NextBackOff())
	return true
}

// forgive clears a peer's probation schedule after a successful dial.
func (s *Supervisor) forgive(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.probation, id)
}

// Sweep starts one independent dial per eligible disconnected peer and
// returns the ids attempted. Dials run in the background; Wait blocks on them.
func (s *Supervisor) Sweep(ctx context.Context) ([]string, error) {
	candidates, err := s.node.reg.ReconnectCandidates()
	if err != nil {
		return nil, err
	}

	now := s.node.reg.Now()
	var attempted []string
	for _, p := range candidates {
		if !s.Eligible(p, now) {
			continue
		}
		if !s.node.track() {
			break
		}
		attempted = append(attempted, p.ID)
		s.wg.Add(1)
		go func(id, url string) {
			defer s.node.conns.Done()
			defer s.wg.Done()
			if err := s.node.AttemptConnect(ctx, id, url); err != nil {
				s.log.Debug("reconnect failed", zap.String("peer", id), zap.Error(err))
				return
			}
			s.forgive(id)
		}(p.ID, p.URL)
	}
	if len(attempted) > 0 {
		s.log.Info("reconnect sweep", zap.Strings("peers", attempted))
	}
	return attempted, nil
}

// Wait blocks until every dial started by Sweep has finished.
func (s *Supervisor) Wait() { s.wg.Wait() }
