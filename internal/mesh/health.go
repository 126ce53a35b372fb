package mesh

import (
	"math"
	"time"

	"github.com/soma-network/soma/internal/domain"
)

const (
	// MinHealthyQuality is the quality a link must exceed to count as healthy.
	MinHealthyQuality = 0.5

	// QualityRecoveryStep is added to quality on every success.
	QualityRecoveryStep = 0.1

	// QualityDegradationStep is subtracted from quality on every failure.
	QualityDegradationStep = 0.2

	qualityGrid = 1e9
)

// ConnectionHealth tracks the success/failure history of one link and a
// smoothed quality score in [0,1].
type ConnectionHealth struct {
	Failures    uint32
	Successes   uint32
	Quality     float64
	LastSuccess time.Time
	LastFailure time.Time // zero until the first failure
}

// NewConnectionHealth returns a health record at full quality.
func NewConnectionHealth(now time.Time) ConnectionHealth {
	return ConnectionHealth{Quality: 1.0, LastSuccess: now}
}

// RecordSuccess raises quality by QualityRecoveryStep, capped at 1.0.
func (h *ConnectionHealth) RecordSuccess(now time.Time) {
	h.Successes++
	h.Quality = quantize(math.Min(h.Quality+QualityRecoveryStep, 1.0))
	h.LastSuccess = now
}

// RecordFailure lowers quality by QualityDegradationStep, floored at 0.0.
func (h *ConnectionHealth) RecordFailure(now time.Time) {
	h.Failures++
	h.Quality = quantize(math.Max(h.Quality-QualityDegradationStep, 0.0))
	h.LastFailure = now
}

// IsHealthy reports whether quality is above MinHealthyQuality.
func (h *ConnectionHealth) IsHealthy() bool {
	return h.Quality > MinHealthyQuality
}

// FailureRate is failures over all samples, 0 with no samples.
func (h *ConnectionHealth) FailureRate() float64 {
	total := uint64(h.Failures) + uint64(h.Successes)
	if total == 0 {
		return 0
	}
	return float64(h.Failures) / float64(total)
}

// Info converts the record to its API view.
func (h *ConnectionHealth) Info() domain.HealthInfo {
	return domain.HealthInfo{
		Quality:     h.Quality,
		Failures:    h.Failures,
		Successes:   h.Successes,
		FailureRate: h.FailureRate(),
		IsHealthy:   h.IsHealthy(),
	}
}

// quantize snaps q onto a 1e-9 grid so repeated ±0.1/0.2 steps land exactly
// on 0.0 and 1.0 instead of drifting by an ulp.
func quantize(q float64) float64 {
	q = math.Round(q*qualityGrid) / qualityGrid
	return math.Min(math.Max(q, 0.0), 1.0)
}
