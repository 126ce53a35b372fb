package mesh

import (
	"math"
	"time"

	"github.com/soma-network/soma/internal/domain"
	"github.com/soma-network/soma/internal/infra/metrics"
)

const (
	// MinStrength is the correction strength when no peer is healthy.
	MinStrength = 0.05
	// BaseStrength is used while the registry is empty.
	BaseStrength = 0.1
	// MaxStrength caps the correction strength.
	MaxStrength = 0.2
	// StrengthRange scales average peer quality into a strength.
	StrengthRange = 0.15
)

// Balancer nudges the local load toward the average load of alive peers,
// harder when those peers are healthy.
type Balancer struct {
	reg     *Registry
	local   domain.LoadSource
	timeout time.Duration
}

// NewBalancer returns a balancer over reg that treats peers seen within
// timeout as alive.
func NewBalancer(reg *Registry, local domain.LoadSource, timeout time.Duration) *Balancer {
	return &Balancer{reg: reg, local: local, timeout: timeout}
}

// NetworkResonance is 1 - min(|load - avg|, 1), or 1.0 with no alive peers.
func (b *Balancer) NetworkResonance(load float64) (float64, error) {
	s, err := b.reg.sample(b.timeout)
	if err != nil {
		return 0, err
	}
	return s.resonance(load), nil
}

// Correction is (avg - load) * strength, or 0 with no alive peers.
func (b *Balancer) Correction(load, strength float64) (float64, error) {
	s, err := b.reg.sample(b.timeout)
	if err != nil {
		return 0, err
	}
	return s.correction(load, strength), nil
}

// AdaptiveStrength maps average alive-peer quality into [MinStrength, MaxStrength].
func (b *Balancer) AdaptiveStrength() (float64, error) {
	s, err := b.reg.sample(b.timeout)
	if err != nil {
		return 0, err
	}
	return s.strength(), nil
}

// Stats summarises alive-peer loads relative to load.
func (b *Balancer) Stats(load float64) (domain.ResonanceStats, error) {
	s, err := b.reg.sample(b.timeout)
	if err != nil {
		return domain.ResonanceStats{}, err
	}
	return s.stats(load), nil
}

// Sync applies one correction step to the local load. It does nothing while
// the registry is empty and reports whether the load was written.
func (b *Balancer) Sync() (float64, bool, error) {
	s, err := b.reg.sample(b.timeout)
	if err != nil {
		return 0, false, err
	}
	load := b.local.Load()
	if s.total == 0 {
		return load, false, nil
	}

	strength := s.strength()
	next := clamp(load+s.correction(load, strength), 0.0, 1.0)
	b.local.SetLoad(next)

	metrics.AdaptiveStrength.Set(strength)
	metrics.Resonance.Set(s.resonance(next))
	metrics.LocalLoad.Set(next)
	return next, true, nil
}

func (s loadSample) avg() (float64, bool) {
	if len(s.loads) == 0 {
		return 0, false
	}
	sum := 0.0
	for _, l := range s.loads {
		sum += l
	}
	return sum / float64(len(s.loads)), true
}

func (s loadSample) resonance(load float64) float64 {
	avg, ok := s.avg()
	if !ok {
		return 1.0
	}
	return math.Max(1.0-math.Min(math.Abs(load-avg), 1.0), 0.0)
}

func (s loadSample) correction(load, strength float64) float64 {
	avg, ok := s.avg()
	if !ok {
		return 0
	}
	return (avg - load) * strength
}

func (s loadSample) strength() float64 {
	if s.total == 0 {
		return BaseStrength
	}
	if len(s.qualities) == 0 {
		return MinStrength
	}
	sum := 0.0
	for _, q := range s.qualities {
		sum += q
	}
	avgQuality := sum / float64(len(s.qualities))
	return clamp(MinStrength+avgQuality*StrengthRange, MinStrength, MaxStrength)
}

func (s loadSample) stats(load float64) domain.ResonanceStats {
	avg, ok := s.avg()
	if !ok {
		return domain.ResonanceStats{
			AvgLoad:   load,
			MinLoad:   load,
			MaxLoad:   load,
			Resonance: 1.0,
		}
	}

	lo, hi, sq := math.Inf(1), math.Inf(-1), 0.0
	for _, l := range s.loads {
		lo = math.Min(lo, l)
		hi = math.Max(hi, l)
		sq += (l - avg) * (l - avg)
	}
	return domain.ResonanceStats{
		PeerCount: len(s.loads),
		AvgLoad:   avg,
		MinLoad:   lo,
		MaxLoad:   hi,
		Resonance: s.resonance(load),
		Variance:  sq / float64(len(s.loads)),
	}
}
