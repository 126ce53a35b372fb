package mesh

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/soma-network/soma/internal/domain"
)

// Registry owns the peer table. A single goroutine holds the map; every
// other caller submits a closure and waits for it to run, so no lock is ever
// held across network I/O.
type Registry struct {
	ops    chan func(*registryState)
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	clock  func() time.Time
	params LinkParams
}

type registryState struct {
	peers   map[string]*PeerState
	pending map[string]float64 // restored weights awaiting first contact
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithClock overrides the wall clock used for last_seen and health stamps.
func WithClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) { r.clock = clock }
}

// WithLinkParams sets the learning constants given to newly created peers.
func WithLinkParams(p LinkParams) RegistryOption {
	return func(r *Registry) { r.params = p }
}

// NewRegistry starts the owner goroutine. Call Close to stop it.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		ops:    make(chan func(*registryState)),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		clock:  time.Now,
		params: DefaultLinkParams(),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.loop()
	return r
}

func (r *Registry) loop() {
	defer close(r.done)
	st := &registryState{
		peers:   make(map[string]*PeerState),
		pending: make(map[string]float64),
	}
	for {
		select {
		case fn := <-r.ops:
			fn(st)
		case <-r.quit:
			return
		}
	}
}

// do runs fn on the owner goroutine and waits for it to finish.
func (r *Registry) do(fn func(*registryState)) error {
	finished := make(chan struct{})
	select {
	case r.ops <- func(st *registryState) { fn(st); close(finished) }:
	case <-r.quit:
		return domain.ErrRegistryClosed
	}
	<-finished
	return nil
}

// Close stops the owner goroutine. Later calls fail with ErrRegistryClosed.
func (r *Registry) Close() error {
	r.once.Do(func() { close(r.quit) })
	<-r.done
	return nil
}

// Now returns the registry clock's current time.
func (r *Registry) Now() time.Time { return r.clock() }

// create inserts a fresh peer, applying any pending restored weight.
func (r *Registry) create(st *registryState, id string) *PeerState {
	p := newPeerState(id, r.clock(), r.params)
	if w, ok := st.pending[id]; ok {
		p.Link.SetWeight(w)
		delete(st.pending, id)
	}
	st.peers[id] = p
	return p
}

// ─── Lifecycle ──────────────────────────────────────────────────────────────

// RegisterPeer records a reconnect target. An unknown id gets a fresh peer;
// a known id only has its url replaced.
func (r *Registry) RegisterPeer(id, url string) error {
	if id == "" {
		return domain.ErrInvalidPeerID
	}
	return r.do(func(st *registryState) {
		p, ok := st.peers[id]
		if !ok {
			p = r.create(st, id)
		}
		p.URL = url
	})
}

// Unregister drops id's reconnect url. The peer entry and any open
// connection are kept.
func (r *Registry) Unregister(id string) error {
	var found bool
	err := r.do(func(st *registryState) {
		if p, ok := st.peers[id]; ok {
			p.URL = ""
			found = true
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return domain.ErrPeerNotFound
	}
	return nil
}

// Handshake upserts the peer named in a received Handshake: existing state is
// kept, last_seen is refreshed and the peer is marked connected.
func (r *Registry) Handshake(id string) error {
	if id == "" {
		return domain.ErrInvalidPeerID
	}
	return r.do(func(st *registryState) {
		p, ok := st.peers[id]
		if !ok {
			p = r.create(st, id)
		}
		p.LastSeen = r.clock().UnixMilli()
		p.Connected = true
	})
}

// Heartbeat refreshes last_seen and records a success for a known peer.
// Unknown ids are ignored and reported as false.
func (r *Registry) Heartbeat(id string) (bool, error) {
	var found bool
	err := r.do(func(st *registryState) {
		p, ok := st.peers[id]
		if !ok {
			return
		}
		now := r.clock()
		p.LastSeen = now.UnixMilli()
		p.Health.RecordSuccess(now)
		found = true
	})
	return found, err
}

// MirrorState copies a peer's StateSync payload, refreshes last_seen and
// records a success. Unknown ids are ignored.
func (r *Registry) MirrorState(id string, cells uint64, generation uint32, load float64) (bool, error) {
	var found bool
	err := r.do(func(st *registryState) {
		p, ok := st.peers[id]
		if !ok {
			return
		}
		now := r.clock()
		p.Cells = cells
		p.Generation = generation
		p.Load = load
		p.LastSeen = now.UnixMilli()
		p.Health.RecordSuccess(now)
		found = true
	})
	return found, err
}

// RecordSuccess records a health success on one peer.
func (r *Registry) RecordSuccess(id string) (bool, error) {
	var found bool
	err := r.do(func(st *registryState) {
		if p, ok := st.peers[id]; ok {
			p.Health.RecordSuccess(r.clock())
			found = true
		}
	})
	return found, err
}

// RecordFailure records a health failure on one peer.
func (r *Registry) RecordFailure(id string) (bool, error) {
	var found bool
	err := r.do(func(st *registryState) {
		if p, ok := st.peers[id]; ok {
			p.Health.RecordFailure(r.clock())
			found = true
		}
	})
	return found, err
}

// SetConnected flips the connected flag of a known peer.
func (r *Registry) SetConnected(id string, connected bool) error {
	return r.do(func(st *registryState) {
		if p, ok := st.peers[id]; ok {
			p.Connected = connected
		}
	})
}

// Adopt merges the peer registered as alias into id: id takes over the
// reconnect url unless it already has one, and the alias entry is removed.
func (r *Registry) Adopt(alias, id string) error {
	if alias == id {
		return nil
	}
	return r.do(func(st *registryState) {
		a, ok := st.peers[alias]
		if !ok {
			return
		}
		delete(st.peers, alias)
		if p, ok := st.peers[id]; ok && p.URL == "" {
			p.URL = a.URL
		}
	})
}

// MarkStale marks every peer not seen within timeout as disconnected and
// returns the ids that changed. Entries are kept.
func (r *Registry) MarkStale(timeout time.Duration) ([]string, error) {
	var stale []string
	err := r.do(func(st *registryState) {
		now := r.clock()
		for id, p := range st.peers {
			if p.Connected && !p.IsAlive(now, timeout) {
				p.Connected = false
				stale = append(stale, id)
			}
		}
	})
	sort.Strings(stale)
	return stale, err
}

// Evict removes peers that are disconnected, carry no url and were last seen
// more than grace ago. It returns the removed ids.
func (r *Registry) Evict(grace time.Duration) ([]string, error) {
	var evicted []string
	err := r.do(func(st *registryState) {
		now := r.clock()
		for id, p := range st.peers {
			if p.Connected || p.URL != "" || p.IsAlive(now, grace) {
				continue
			}
			delete(st.peers, id)
			evicted = append(evicted, id)
		}
	})
	sort.Strings(evicted)
	return evicted, err
}

// ─── Hebbian Learning ───────────────────────────────────────────────────────

// NoteFireLocal stamps ts as the local fire time on every peer.
func (r *Registry) NoteFireLocal(ts int64) error {
	return r.do(func(st *registryState) {
		for _, p := range st.peers {
			p.Link.NoteFireLocal(ts)
		}
	})
}

// NoteFireRemote stamps a received Fire on the sending peer and runs one
// Hebbian update over windowMs. It returns the new weight.
func (r *Registry) NoteFireRemote(id string, ts, windowMs int64) (float64, bool, error) {
	var (
		weight float64
		found  bool
	)
	err := r.do(func(st *registryState) {
		p, ok := st.peers[id]
		if !ok {
			return
		}
		p.Link.NoteFireRemote(ts)
		p.Link.HebbianUpdate(windowMs)
		weight, found = p.Link.Weight, true
	})
	return weight, found, err
}

// SetLinkWeight overrides a peer's weight, clamped into its bounds.
func (r *Registry) SetLinkWeight(id string, w float64) (float64, error) {
	if math.IsNaN(w) || math.IsInf(w, 0) {
		return 0, domain.ErrInvalidWeight
	}
	var (
		applied float64
		found   bool
	)
	err := r.do(func(st *registryState) {
		p, ok := st.peers[id]
		if !ok {
			return
		}
		p.Link.SetWeight(w)
		applied, found = p.Link.Weight, true
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, domain.ErrPeerNotFound
	}
	return applied, nil
}

// LinkWeights returns (id, weight, quality) for every peer, ordered by id.
func (r *Registry) LinkWeights() ([]domain.LinkWeight, error) {
	var out []domain.LinkWeight
	err := r.do(func(st *registryState) {
		out = make([]domain.LinkWeight, 0, len(st.peers))
		for _, p := range st.peers {
			out = append(out, p.LinkWeight())
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].PeerID < out[j].PeerID })
	return out, err
}

// TopLinks returns at most n links in descending weight order.
func (r *Registry) TopLinks(n int) ([]domain.LinkWeight, error) {
	links, err := r.LinkWeights()
	if err != nil {
		return nil, err
	}
	sort.SliceStable(links, func(i, j int) bool { return links[i].Weight > links[j].Weight })
	if n < 0 {
		n = 0
	}
	if n < len(links) {
		links = links[:n]
	}
	return links, nil
}

// SnapshotWeights returns every peer's current weight.
func (r *Registry) SnapshotWeights() ([]domain.WeightEntry, error) {
	links, err := r.LinkWeights()
	if err != nil {
		return nil, err
	}
	out := make([]domain.WeightEntry, len(links))
	for i, l := range links {
		out[i] = domain.WeightEntry{PeerID: l.PeerID, Weight: l.Weight}
	}
	return out, nil
}

// LoadWeights applies a snapshot. Known peers are updated immediately; the
// rest are held until the peer is first created. It returns how many entries
// were applied immediately.
func (r *Registry) LoadWeights(entries []domain.WeightEntry) (int, error) {
	var applied int
	err := r.do(func(st *registryState) {
		for _, e := range entries {
			if e.PeerID == "" || math.IsNaN(e.Weight) || math.IsInf(e.Weight, 0) {
				continue
			}
			if p, ok := st.peers[e.PeerID]; ok {
				p.Link.SetWeight(e.Weight)
				applied++
				continue
			}
			st.pending[e.PeerID] = e.Weight
		}
	})
	return applied, err
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Count returns the number of known peers.
func (r *Registry) Count() (int, error) {
	var n int
	err := r.do(func(st *registryState) { n = len(st.peers) })
	return n, err
}

// Get returns a copy of one peer.
func (r *Registry) Get(id string) (PeerState, bool, error) {
	var (
		out   PeerState
		found bool
	)
	err := r.do(func(st *registryState) {
		if p, ok := st.peers[id]; ok {
			out, found = *p, true
		}
	})
	return out, found, err
}

// Peers returns copies of every known peer, ordered by id.
func (r *Registry) Peers() ([]PeerState, error) {
	return r.filter(func(*PeerState, time.Time) bool { return true })
}

// AlivePeers returns copies of peers seen within timeout.
func (r *Registry) AlivePeers(timeout time.Duration) ([]PeerState, error) {
	return r.filter(func(p *PeerState, now time.Time) bool { return p.IsAlive(now, timeout) })
}

// ReconnectCandidates returns disconnected peers that carry a url.
func (r *Registry) ReconnectCandidates() ([]PeerState, error) {
	return r.filter(func(p *PeerState, _ time.Time) bool { return !p.Connected && p.URL != "" })
}

func (r *Registry) filter(keep func(*PeerState, time.Time) bool) ([]PeerState, error) {
	var out []PeerState
	err := r.do(func(st *registryState) {
		now := r.clock()
		for _, p := range st.peers {
			if keep(p, now) {
				out = append(out, *p)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// Infos returns the API view of every peer.
func (r *Registry) Infos(timeout time.Duration) ([]domain.PeerInfo, error) {
	var out []domain.PeerInfo
	err := r.do(func(st *registryState) {
		now := r.clock()
		out = make([]domain.PeerInfo, 0, len(st.peers))
		for _, p := range st.peers {
			out = append(out, p.Info(now, timeout))
		}
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

// loadSample is one consistent read of the inputs the resonance balancer needs.
type loadSample struct {
	total     int
	loads     []float64
	qualities []float64
}

func (r *Registry) sample(timeout time.Duration) (loadSample, error) {
	var s loadSample
	err := r.do(func(st *registryState) {
		now := r.clock()
		s.total = len(st.peers)
		for _, p := range st.peers {
			if p.IsAlive(now, timeout) {
				s.loads = append(s.loads, p.Load)
				s.qualities = append(s.qualities, p.Health.Quality)
			}
		}
	})
	return s, err
}
