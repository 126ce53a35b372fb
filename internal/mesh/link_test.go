package mesh

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLink_Defaults(t *testing.T) {
	l := NewLink(DefaultLinkParams())
	assert.Equal(t, 0.3, l.Weight)
	assert.Zero(t, l.LastFireLocal)
	assert.Zero(t, l.LastFireRemote)
}

func TestLink_DecayOnlyUntilBothSidesFire(t *testing.T) {
	l := NewLink(DefaultLinkParams())
	l.NoteFireRemote(1_000)
	l.HebbianUpdate(120)
	assert.InDelta(t, 0.3*(1-0.002*0.12), l.Weight, 1e-12)
}

func TestLink_CoFirePotentiates(t *testing.T) {
	l := NewLink(DefaultLinkParams())
	prev := l.Weight
	for i := 0; i < 10; i++ {
		base := int64(10_000 + i*1_000)
		l.NoteFireLocal(base)
		l.NoteFireRemote(base + 50)
		l.HebbianUpdate(120)
		assert.Greater(t, l.Weight, prev, "update %d", i)
		assert.LessOrEqual(t, l.Weight, 1.0)
		prev = l.Weight
	}
}

func TestLink_AntiFireDepresses(t *testing.T) {
	l := NewLink(DefaultLinkParams())
	prev := l.Weight
	for i := 0; i < 10; i++ {
		base := int64(10_000 + i*1_000)
		l.NoteFireLocal(base)
		l.NoteFireRemote(base + 500)
		l.HebbianUpdate(120)
		assert.Less(t, l.Weight, prev, "update %d", i)
		assert.GreaterOrEqual(t, l.Weight, 0.1)
		prev = l.Weight
	}
}

func TestLink_WindowBoundaryIsInclusive(t *testing.T) {
	l := NewLink(DefaultLinkParams())
	l.NoteFireLocal(1_000)
	l.NoteFireRemote(1_120)
	l.HebbianUpdate(120)
	assert.Greater(t, l.Weight, 0.3)
}

func TestLink_SetWeightClamps(t *testing.T) {
	l := NewLink(DefaultLinkParams())
	l.SetWeight(5)
	assert.Equal(t, 1.0, l.Weight)
	l.SetWeight(-1)
	assert.Equal(t, 0.1, l.Weight)
}

func TestLink_WeightStaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	l := NewLink(DefaultLinkParams())
	ts := int64(1)
	for i := 0; i < 10_000; i++ {
		ts += rng.Int63n(400)
		if rng.Intn(2) == 0 {
			l.NoteFireLocal(ts)
		} else {
			l.NoteFireRemote(ts)
		}
		l.HebbianUpdate(rng.Int63n(2_000))
		if l.Weight < 0.1 || l.Weight > 1.0 {
			t.Fatalf("step %d: weight %v out of bounds", i, l.Weight)
		}
	}
}

func TestPeerState_Score(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	p := newPeerState("p", fixedNow, DefaultLinkParams())
	for i := 0; i < 100; i++ {
		p.Link.SetWeight(rng.Float64())
		p.Health.Quality = rng.Float64()
		intent := rng.Float64()
		assert.Equal(t, p.Link.Weight*p.Health.Quality*intent, p.Score(intent))
	}
}
