package mesh

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soma-network/soma/internal/domain"
)

func TestNode_DialFailurePenalisesOnlyThatPeer(t *testing.T) {
	n, _ := newTestNode(t, testConfig("node-a"))
	url := deadURL(t)
	require.NoError(t, n.RegisterPeer("p1", url))

	err := n.AttemptConnect(context.Background(), "p1", url)
	require.ErrorIs(t, err, domain.ErrDialFailed)

	p := mustGet(t, n.Registry(), "p1")
	assert.Equal(t, 0.8, p.Health.Quality)
	assert.False(t, p.Connected)
	count, err := n.Registry().Count()
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestSupervisor_ZeroQualityExcluded(t *testing.T) {
	n, _ := newTestNode(t, testConfig("node-a"))
	url := deadURL(t)
	require.NoError(t, n.RegisterPeer("p1", url))

	for i := 0; i < 5; i++ {
		require.Error(t, n.AttemptConnect(context.Background(), "p1", url))
	}
	p := mustGet(t, n.Registry(), "p1")
	require.Equal(t, 0.0, p.Health.Quality)

	for i := 0; i < 3; i++ {
		attempted, err := n.Supervisor().Sweep(context.Background())
		require.NoError(t, err)
		assert.Empty(t, attempted, "sweep %d", i)
	}
	n.Supervisor().Wait()
	assert.Equal(t, uint32(5), mustGet(t, n.Registry(), "p1").Health.Failures)
}

func TestSupervisor_SweepSkipsConnectedAndURLless(t *testing.T) {
	n, _ := newTestNode(t, testConfig("node-a"))
	url := deadURL(t)
	require.NoError(t, n.RegisterPeer("dropped", url))
	require.NoError(t, n.Registry().Handshake("accepted-only"))
	require.NoError(t, n.Registry().SetConnected("accepted-only", false))
	require.NoError(t, n.RegisterPeer("online", url))
	require.NoError(t, n.Registry().SetConnected("online", true))

	attempted, err := n.Supervisor().Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"dropped"}, attempted)
	n.Supervisor().Wait()

	assert.Equal(t, 0.8, mustGet(t, n.Registry(), "dropped").Health.Quality)
}

func TestSupervisor_SweepReconnectsLivePeer(t *testing.T) {
	b, _ := newTestNode(t, testConfig("node-b"))
	urlB := serveNode(t, b)
	a, _ := newTestNode(t, testConfig("node-a"))
	require.NoError(t, a.RegisterPeer("node-b", urlB))

	attempted, err := a.Supervisor().Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"node-b"}, attempted)
	a.Supervisor().Wait()

	assert.True(t, mustGet(t, a.Registry(), "node-b").Connected)
	require.Eventually(t, func() bool {
		p, ok, _ := b.Registry().Get("node-a")
		return ok && p.Connected
	}, eventually, tick)
}

func TestSupervisor_ProbationSchedule(t *testing.T) {
	clock := newFakeClock()
	cfg := testConfig("node-a")
	cfg.Probation = true
	cfg.ProbationInitial = 30 * time.Second
	cfg.ProbationMax = 90 * time.Second
	n, _ := newTestNode(t, cfg, WithClock(clock.Now))
	s := n.Supervisor()

	require.NoError(t, n.RegisterPeer("p1", "ws://127.0.0.1:1/mesh"))
	for i := 0; i < 5; i++ {
		_, _ = n.Registry().RecordFailure("p1")
	}
	p := mustGet(t, n.Registry(), "p1")
	require.Equal(t, 0.0, p.Health.Quality)

	steps := []struct {
		advance time.Duration
		want    bool
	}{
		{0, false},                // schedules first probe at +30s
		{29 * time.Second, false}, // t=29s
		{time.Second, true},       // t=30s, next at +60s
		{59 * time.Second, false}, // t=89s
		{time.Second, true},       // t=90s, next capped at +90s
		{89 * time.Second, false}, // t=179s
		{time.Second, true},       // t=180s
	}
	for i, step := range steps {
		clock.Advance(step.advance)
		assert.Equal(t, step.want, s.Eligible(p, clock.Now()), "step %d", i)
	}

	s.forgive("p1")
	assert.False(t, s.Eligible(p, clock.Now()), "forgiven peer restarts its schedule")
}

func TestSupervisor_HealthyPeerAlwaysEligible(t *testing.T) {
	n, _ := newTestNode(t, testConfig("node-a"))
	p := PeerState{ID: "p1", Health: ConnectionHealth{Quality: 0.2}}
	assert.True(t, n.Supervisor().Eligible(p, time.Now()))
	p.Health.Quality = 0
	assert.False(t, n.Supervisor().Eligible(p, time.Now()))
}
