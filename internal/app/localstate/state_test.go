package localstate

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/soma-network/soma/internal/domain"
)

var _ domain.LoadSource = (*State)(nil)

func TestState_SetLoadClamps(t *testing.T) {
	s := New(0.5)

	s.SetLoad(1.7)
	assert.Equal(t, 1.0, s.Load())

	s.SetLoad(-0.3)
	assert.Equal(t, 0.0, s.Load())

	s.SetLoad(math.NaN())
	assert.Equal(t, 0.0, s.Load(), "NaN must not overwrite load")
}

func TestState_NewClamps(t *testing.T) {
	assert.Equal(t, 1.0, New(3).Load())
	assert.Equal(t, 0.0, New(-1).Load())
}

func TestState_Apply(t *testing.T) {
	s := New(0.2)
	cells := uint64(42)
	load := 0.9

	got := s.Apply(&cells, nil, &load)
	assert.Equal(t, Snapshot{Cells: 42, Generation: 0, Load: 0.9}, got)

	gen := uint32(7)
	got = s.Apply(nil, &gen, nil)
	assert.Equal(t, Snapshot{Cells: 42, Generation: 7, Load: 0.9}, got)
	assert.Equal(t, got, s.View())
}

func TestState_ConcurrentAccess(t *testing.T) {
	s := New(0.5)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.SetLoad(float64(j%10) / 10)
				s.SetCounters(uint64(i*j), uint32(j))
				_, _, load := s.Snapshot()
				if load < 0 || load > 1 {
					t.Errorf("load %v out of range", load)
				}
			}
		}(i)
	}
	wg.Wait()
}
