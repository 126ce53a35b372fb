package mesh

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestConn_RedialKeepsOneConnection(t *testing.T) {
	b, _ := newTestNode(t, testConfig("node-b"))
	urlB, live := serveCounted(t, b)
	a, _ := newTestNode(t, testConfig("node-a"))
	require.NoError(t, a.RegisterPeer("node-b", urlB))

	for i := 0; i < 4; i++ {
		require.NoError(t, a.AttemptConnect(context.Background(), "node-b", urlB))
	}
	require.Eventually(t, func() bool {
		p, ok, _ := b.Registry().Get("node-a")
		return ok && p.Connected
	}, eventually, tick)

	assert.Equal(t, int32(1), live.Load())
	assert.Equal(t, []string{"node-b"}, a.Connections())
	assert.Equal(t, 1.0, mustGet(t, a.Registry(), "node-b").Health.Quality)
}

func TestConn_AliasAdoptedByHandshakenID(t *testing.T) {
	b, _ := newTestNode(t, testConfig("node-b"))
	urlB, live := serveCounted(t, b)
	a, _ := newTestNode(t, testConfig("node-a"))
	require.NoError(t, a.RegisterPeer("alias", urlB))

	for i := 0; i < 5; i++ {
		_, err := a.Supervisor().Sweep(context.Background())
		require.NoError(t, err)
		a.Supervisor().Wait()
		require.Eventually(t, func() bool {
			_, ok, _ := a.Registry().Get("alias")
			return !ok
		}, eventually, tick, "sweep %d", i)
	}

	p := mustGet(t, a.Registry(), "node-b")
	assert.True(t, p.Connected)
	assert.Equal(t, urlB, p.URL)
	assert.Equal(t, []string{"node-b"}, a.Connections())

	candidates, err := a.Registry().ReconnectCandidates()
	require.NoError(t, err)
	assert.Empty(t, candidates)
	require.Eventually(t, func() bool { return live.Load() == 1 }, eventually, tick)
}

func TestConn_SimultaneousDialKeepsOneConnection(t *testing.T) {
	a, _ := newTestNode(t, testConfig("node-a"))
	urlA, liveA := serveCounted(t, a)
	b, _ := newTestNode(t, testConfig("node-b"))
	urlB, liveB := serveCounted(t, b)
	require.NoError(t, a.RegisterPeer("node-b", urlB))
	require.NoError(t, b.RegisterPeer("node-a", urlA))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, a.AttemptConnect(context.Background(), "node-b", urlB))
	}()
	go func() {
		defer wg.Done()
		assert.NoError(t, b.AttemptConnect(context.Background(), "node-a", urlA))
	}()
	wg.Wait()

	open := func() int32 { return liveA.Load() + liveB.Load() }
	require.Eventually(t, func() bool { return open() == 1 }, eventually, tick)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), open())
	assert.True(t, mustGet(t, a.Registry(), "node-b").Connected)
	assert.True(t, mustGet(t, b.Registry(), "node-a").Connected)
	assert.Equal(t, []string{"node-b"}, a.Connections())
	assert.Equal(t, []string{"node-a"}, b.Connections())
}

func TestConn_CleanupClosesStaleConnection(t *testing.T) {
	clock := newFakeClock()
	b, _ := newTestNode(t, testConfig("node-b"))
	urlB, live := serveCounted(t, b)
	a, _ := newTestNode(t, testConfig("node-a"), WithClock(clock.Now))
	connectPair(t, a, b, urlB)

	clock.Advance(testConfig("node-a").AliveTimeout)
	require.NoError(t, a.Cleanup())

	require.Eventually(t, func() bool {
		return live.Load() == 0 && len(a.Connections()) == 0
	}, eventually, tick)
	p := mustGet(t, a.Registry(), "node-b")
	assert.False(t, p.Connected)
	assert.Equal(t, 1.0, p.Health.Quality, "timing out is not a dial failure")

	require.NoError(t, a.AttemptConnect(context.Background(), "node-b", urlB))
	require.Eventually(t, func() bool { return live.Load() == 1 }, eventually, tick)
}

func TestConn_WriteFailurePenalisesOnlyItsPeer(t *testing.T) {
	b, _ := newTestNode(t, testConfig("node-b"))
	urlB := serveNode(t, b)
	c, _ := newTestNode(t, testConfig("node-c"))
	urlC := serveNode(t, c)
	a, _ := newTestNode(t, testConfig("node-a"))
	connectPair(t, a, b, urlB)
	connectPair(t, a, c, urlC)

	bound, ok := a.out.lookup("node-b")
	require.True(t, ok)
	tcp, ok := bound.ws.UnderlyingConn().(*net.TCPConn)
	require.True(t, ok)
	require.NoError(t, tcp.CloseWrite())
	a.BroadcastHeartbeat()

	require.Eventually(t, func() bool {
		return !mustGet(t, a.Registry(), "node-b").Connected
	}, eventually, tick)
	time.Sleep(50 * time.Millisecond)

	pb := mustGet(t, a.Registry(), "node-b")
	assert.Equal(t, uint32(1), pb.Health.Failures, "one broken socket is one failure")
	assert.Equal(t, 0.8, pb.Health.Quality)

	pc := mustGet(t, a.Registry(), "node-c")
	assert.True(t, pc.Connected)
	assert.Zero(t, pc.Health.Failures)
	assert.Equal(t, 1.0, pc.Health.Quality)
	assert.Equal(t, []string{"node-c"}, a.Connections())
}

func TestConn_TeardownPenalty(t *testing.T) {
	tests := []struct {
		name     string
		dialed   bool
		failed   bool
		stopped  bool
		failures uint32
	}{
		{"dialed drop", true, false, false, 1},
		{"dialed after write failure", true, true, false, 0},
		{"dialed stopped locally", true, false, true, 0},
		{"accepted drop", false, false, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, _ := newTestNode(t, testConfig("node-a"))
			require.NoError(t, n.RegisterPeer("p1", "ws://127.0.0.1:1/mesh"))
			require.NoError(t, n.Registry().SetConnected("p1", true))

			c := &conn{node: n, dialed: tt.dialed, quit: make(chan struct{}), log: zap.NewNop(), peerID: "p1"}
			_, won := n.out.bind("p1", c)
			require.True(t, won)
			c.failed.Store(tt.failed)
			if tt.stopped {
				close(c.quit)
			}
			c.teardown()

			p := mustGet(t, n.Registry(), "p1")
			assert.False(t, p.Connected)
			assert.Equal(t, tt.failures, p.Health.Failures)
			assert.Empty(t, n.Connections())
		})
	}
}
