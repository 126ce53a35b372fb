// Package trace records causal traces: every link weight that has drifted
// away from its initial value is written to storage on each poll.
package trace

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/soma-network/soma/internal/domain"
	"github.com/soma-network/soma/internal/infra/metrics"
)

const (
	// Cause labels every trace written by the recorder.
	Cause = "network_activity"

	// DefaultBaseline is the weight a fresh link starts at.
	DefaultBaseline = 0.3

	// DefaultMaxTraces is how many traces are kept in storage.
	DefaultMaxTraces = 1000
)

// Recorder polls link weights and persists the ones off baseline.
type Recorder struct {
	links    domain.LinkReader
	store    domain.TraceStore
	interval time.Duration
	baseline float64
	keep     int
	clock    func() time.Time
	log      *zap.Logger
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithBaseline overrides the weight treated as "no drift".
func WithBaseline(w float64) Option {
	return func(r *Recorder) { r.baseline = w }
}

// WithRetention caps stored traces at keep, dropping the oldest after each
// poll. Zero keeps everything.
func WithRetention(keep int) Option {
	return func(r *Recorder) { r.keep = keep }
}

// WithClock overrides the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(r *Recorder) { r.clock = clock }
}

// NewRecorder creates a recorder polling every interval.
func NewRecorder(links domain.LinkReader, store domain.TraceStore, interval time.Duration, logger *zap.Logger, opts ...Option) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Recorder{
		links:    links,
		store:    store,
		interval: interval,
		baseline: DefaultBaseline,
		keep:     DefaultMaxTraces,
		clock:    time.Now,
		log:      logger.Named("trace"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled. Call in a goroutine.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Record(); err != nil {
				r.log.Warn("trace poll failed", zap.Error(err))
			}
		}
	}
}

// Record performs one poll and returns how many traces were written.
func (r *Recorder) Record() (int, error) {
	links, err := r.links.LinkWeights()
	if err != nil {
		return 0, fmt.Errorf("read link weights: %w", err)
	}

	now := r.clock().UnixMilli()
	written := 0
	for _, l := range links {
		if l.Weight == r.baseline {
			continue
		}
		_, err := r.store.InsertTrace(domain.CausalTrace{
			Cause:       Cause,
			Effect:      Effect(l.PeerID, l.Weight),
			Delta:       l.Weight - r.baseline,
			TimestampMs: now,
		})
		if err != nil {
			return written, fmt.Errorf("insert trace for %s: %w", l.PeerID, err)
		}
		written++
	}
	if written == 0 {
		return 0, nil
	}
	metrics.TracesRecorded.Add(float64(written))
	r.log.Debug("traces recorded", zap.Int("count", written))

	if r.keep > 0 {
		pruned, err := r.store.PruneTraces(r.keep)
		if err != nil {
			return written, fmt.Errorf("prune traces: %w", err)
		}
		if pruned > 0 {
			r.log.Debug("traces pruned", zap.Int64("count", pruned))
		}
	}
	return written, nil
}

// Effect formats the effect label for a peer's weight.
func Effect(peerID string, weight float64) string {
	return fmt.Sprintf("%s_weight_%.3f", peerID, weight)
}
