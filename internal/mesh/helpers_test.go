package mesh

import (
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/soma-network/soma/internal/app/localstate"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestRegistry(t *testing.T, opts ...RegistryOption) *Registry {
	t.Helper()
	r := NewRegistry(opts...)
	t.Cleanup(func() { r.Close() })
	return r
}

func testConfig(id string) Config {
	cfg := DefaultConfig(id)
	cfg.DialTimeout = 2 * time.Second
	cfg.WriteTimeout = 2 * time.Second
	return cfg
}

func newTestNode(t *testing.T, cfg Config, opts ...RegistryOption) (*Node, *localstate.State) {
	t.Helper()
	local := localstate.New(0.5)
	n := NewNode(cfg, local, zap.NewNop(), opts...)
	t.Cleanup(func() { n.Close() })
	return n, local
}

// serveNode exposes n's websocket endpoint and returns its ws:// url.
func serveNode(t *testing.T, n *Node) string {
	t.Helper()
	srv := httptest.NewServer(n)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// serveCounted is serveNode that also counts the sockets n is still serving.
func serveCounted(t *testing.T, n *Node) (string, *atomic.Int32) {
	t.Helper()
	live := new(atomic.Int32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		live.Add(1)
		defer live.Add(-1)
		n.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http"), live
}

// deadURL returns a ws:// url on a port nothing listens on.
func deadURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return "ws://" + addr + "/mesh"
}

func mustGet(t *testing.T, r *Registry, id string) PeerState {
	t.Helper()
	p, ok, err := r.Get(id)
	require.NoError(t, err)
	require.True(t, ok, "peer %s not in registry", id)
	return p
}

const eventually = 3 * time.Second
const tick = 10 * time.Millisecond

var fixedNow = time.UnixMilli(1_700_000_000_000)
