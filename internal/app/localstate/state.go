// Package localstate holds this node's own simulation counters and load.
// The mesh broadcasts them in StateSync frames and the resonance balancer
// writes the load back.
package localstate

import (
	"math"
	"sync"
)

// Snapshot is a consistent view of the local counters.
type Snapshot struct {
	Cells      uint64  `json:"cells"`
	Generation uint32  `json:"generation"`
	Load       float64 `json:"load"`
}

// State is safe for concurrent use.
type State struct {
	mu         sync.RWMutex
	cells      uint64
	generation uint32
	load       float64
}

// New returns a state with the given initial load, clamped to [0,1].
func New(load float64) *State {
	return &State{load: clampLoad(load)}
}

// Snapshot implements domain.LoadSource.
func (s *State) Snapshot() (uint64, uint32, float64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cells, s.generation, s.load
}

// View returns the counters as one value.
func (s *State) View() Snapshot {
	cells, generation, load := s.Snapshot()
	return Snapshot{Cells: cells, Generation: generation, Load: load}
}

// Load implements domain.LoadSource.
func (s *State) Load() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load
}

// SetLoad implements domain.LoadSource. NaN is ignored.
func (s *State) SetLoad(load float64) {
	if math.IsNaN(load) {
		return
	}
	s.mu.Lock()
	s.load = clampLoad(load)
	s.mu.Unlock()
}

// SetCounters replaces cells and generation.
func (s *State) SetCounters(cells uint64, generation uint32) {
	s.mu.Lock()
	s.cells, s.generation = cells, generation
	s.mu.Unlock()
}

// Apply overwrites whichever fields are non-nil and returns the result.
func (s *State) Apply(cells *uint64, generation *uint32, load *float64) Snapshot {
	s.mu.Lock()
	if cells != nil {
		s.cells = *cells
	}
	if generation != nil {
		s.generation = *generation
	}
	if load != nil && !math.IsNaN(*load) {
		s.load = clampLoad(*load)
	}
	out := Snapshot{Cells: s.cells, Generation: s.generation, Load: s.load}
	s.mu.Unlock()
	return out
}

func clampLoad(v float64) float64 {
	return math.Min(math.Max(v, 0.0), 1.0)
}
