package mesh

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/soma-network/soma/internal/domain"
	"github.com/soma-network/soma/internal/infra/metrics"
)

// Run drives the periodic tasks until ctx is cancelled: heartbeat, state
// sync, resonance sync, cleanup and reconnect sweeps.
func (n *Node) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	loop := func(name string, every time.Duration, tick func(context.Context) error) {
		g.Go(func() error {
			n.every(ctx, name, every, tick)
			return nil
		})
	}

	loop("heartbeat", n.cfg.HeartbeatInterval, func(context.Context) error {
		n.BroadcastHeartbeat()
		return nil
	})
	loop("state_sync", n.cfg.StateSyncInterval, func(context.Context) error {
		n.BroadcastState()
		return nil
	})
	loop("resonance", n.cfg.ResonanceInterval, func(context.Context) error {
		_, _, err := n.balancer.Sync()
		return err
	})
	loop("cleanup", n.cfg.CleanupInterval, func(context.Context) error {
		return n.Cleanup()
	})
	loop("reconnect", n.cfg.ReconnectInterval, func(ctx context.Context) error {
		_, err := n.supervisor.Sweep(ctx)
		return err
	})

	n.log.Info("mesh loops started")
	err := g.Wait()
	n.log.Info("mesh loops stopped")
	return err
}

func (n *Node) every(ctx context.Context, name string, interval time.Duration, tick func(context.Context) error) {
	if interval <= 0 {
		n.log.Warn("loop disabled", zap.String("loop", name))
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := tick(ctx); err != nil {
				// A closed registry only skips this tick.
				if !errors.Is(err, domain.ErrRegistryClosed) {
					n.log.Warn("loop tick failed", zap.String("loop", name), zap.Error(err))
				}
			}
		}
	}
}

// Cleanup marks peers unseen for the alive timeout as disconnected and closes
// their connections, evicts long-dead peers when eviction is enabled and
// refreshes peer gauges.
func (n *Node) Cleanup() error {
	stale, err := n.reg.MarkStale(n.cfg.AliveTimeout)
	if err != nil {
		return err
	}
	for _, id := range stale {
		if c, ok := n.out.lookup(id); ok {
			c.stop()
		}
		n.log.Info("peer timed out", zap.String("peer", id))
	}

	if n.cfg.EvictAfter > 0 {
		evicted, err := n.reg.Evict(n.cfg.EvictAfter)
		if err != nil {
			return err
		}
		for _, id := range evicted {
			metrics.LinkWeight.DeleteLabelValues(id)
			metrics.LinkQuality.DeleteLabelValues(id)
			n.log.Info("peer evicted", zap.String("peer", id))
		}
		metrics.PeersEvicted.Add(float64(len(evicted)))
	}

	return n.publishMetrics()
}

func (n *Node) publishMetrics() error {
	peers, err := n.reg.Peers()
	if err != nil {
		return err
	}
	now := n.reg.Now()
	alive, connected := 0, 0
	for i := range peers {
		p := &peers[i]
		if p.IsAlive(now, n.cfg.AliveTimeout) {
			alive++
		}
		if p.Connected {
			connected++
		}
		metrics.LinkWeight.WithLabelValues(p.ID).Set(p.Link.Weight)
		metrics.LinkQuality.WithLabelValues(p.ID).Set(p.Health.Quality)
	}
	metrics.PeersKnown.Set(float64(len(peers)))
	metrics.PeersAlive.Set(float64(alive))
	metrics.PeersConnected.Set(float64(connected))
	return nil
}
