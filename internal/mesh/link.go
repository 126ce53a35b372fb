package mesh

import "math"

// LinkParams are the Hebbian learning constants of one link.
type LinkParams struct {
	WeightMin     float64 `toml:"weight_min"`
	WeightMax     float64 `toml:"weight_max"`
	WeightInitial float64 `toml:"weight_initial"`
	EtaPositive   float64 `toml:"eta_positive"` // co-fire learning rate
	EtaNegative   float64 `toml:"eta_negative"` // anti-fire penalty rate
	DecayRate     float64 `toml:"decay_rate"`   // per second
}

// DefaultLinkParams returns the reference learning constants.
func DefaultLinkParams() LinkParams {
	return LinkParams{
		WeightMin:     0.1,
		WeightMax:     1.0,
		WeightInitial: 0.3,
		EtaPositive:   0.06,
		EtaNegative:   0.03,
		DecayRate:     0.002,
	}
}

// Link is the adaptive weight of one peer link, learned from the temporal
// coincidence of local and remote Fire pulses.
type Link struct {
	Weight         float64
	Params         LinkParams
	LastFireLocal  int64 // ms, 0 = never
	LastFireRemote int64 // ms, 0 = never
}

// NewLink returns a link at the initial weight.
func NewLink(p LinkParams) Link {
	l := Link{Params: p}
	l.SetWeight(p.WeightInitial)
	return l
}

// NoteFireLocal records this node's own Fire broadcast.
func (l *Link) NoteFireLocal(ts int64) { l.LastFireLocal = ts }

// NoteFireRemote records a Fire frame received from the peer.
func (l *Link) NoteFireRemote(ts int64) { l.LastFireRemote = ts }

// HebbianUpdate decays the weight over the window, then potentiates it when
// both sides fired within windowMs of each other and depresses it otherwise.
// Nothing but decay happens until both sides have fired at least once.
func (l *Link) HebbianUpdate(windowMs int64) {
	p := l.Params
	dt := float64(windowMs) / 1000.0
	l.Weight *= clamp(1.0-p.DecayRate*dt, 0.0, 1.0)

	if l.LastFireLocal > 0 && l.LastFireRemote > 0 {
		gap := l.LastFireLocal - l.LastFireRemote
		if gap < 0 {
			gap = -gap
		}
		if gap <= windowMs {
			l.Weight += p.EtaPositive * (p.WeightMax - l.Weight)
		} else {
			l.Weight -= p.EtaNegative * (l.Weight - p.WeightMin)
		}
	}

	l.Weight = clamp(l.Weight, p.WeightMin, p.WeightMax)
}

// SetWeight stores w clamped into [WeightMin, WeightMax].
func (l *Link) SetWeight(w float64) {
	l.Weight = clamp(w, l.Params.WeightMin, l.Params.WeightMax)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}
