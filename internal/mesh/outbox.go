package mesh

import (
	"sort"
	"sync"

	"github.com/soma-network/soma/internal/infra/metrics"
)

// outbox maps peer ids to the connection currently carrying their traffic.
// One connection is kept per id; see prevails for which one.
type outbox struct {
	mu    sync.RWMutex
	links map[string]*conn
}

func newOutbox() *outbox {
	return &outbox{links: make(map[string]*conn)}
}

// bind routes id's traffic to c unless the connection already bound for id
// prevails. It returns the losing connection, if any, and whether c is bound.
func (o *outbox) bind(id string, c *conn) (*conn, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	prev, ok := o.links[id]
	if !ok || prev == c {
		o.links[id] = c
		return nil, true
	}
	if prev.State() < StateClosing && prevails(prev, c, id) {
		return c, false
	}
	o.links[id] = c
	return prev, true
}

// prevails reports whether the bound connection cur is kept over next. When
// one was dialed and the other accepted, both ends keep the connection dialed
// by the lower node id. Otherwise the newer connection wins.
func prevails(cur, next *conn, peerID string) bool {
	if cur.dialed == next.dialed {
		return false
	}
	return cur.dialed == (cur.node.ID() < peerID)
}

// unbind removes id only while it still points at c.
func (o *outbox) unbind(id string, c *conn) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.links[id] != c {
		return false
	}
	delete(o.links, id)
	return true
}

func (o *outbox) lookup(id string) (*conn, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	c, ok := o.links[id]
	return c, ok
}

// broadcast queues msg on every bound connection and returns how many
// accepted it. Full queues drop the frame.
func (o *outbox) broadcast(msg Message) int {
	o.mu.RLock()
	targets := make([]*conn, 0, len(o.links))
	for _, c := range o.links {
		targets = append(targets, c)
	}
	o.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		if c.enqueue(msg) {
			sent++
		}
	}
	return sent
}

// ids lists the bound peer ids in order.
func (o *outbox) ids() []string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]string, 0, len(o.links))
	for id := range o.links {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func dropped(reason string) {
	metrics.FramesDropped.WithLabelValues(reason).Inc()
}
