package mesh

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNode_PickBestPeer(t *testing.T) {
	clock := newFakeClock()
	n, _ := newTestNode(t, testConfig("self"), WithClock(clock.Now))
	r := n.Registry()

	require.NoError(t, r.Handshake("a"))
	require.NoError(t, r.Handshake("b"))
	require.NoError(t, r.RegisterPeer("c", "ws://c/mesh"))
	_, _ = r.SetLinkWeight("a", 0.5)
	_, _ = r.SetLinkWeight("b", 0.9)
	_, _ = r.SetLinkWeight("c", 1.0)
	_, _ = r.RecordFailure("b")
	_, _ = r.RecordFailure("b")

	id, ok, err := n.PickBestPeer(1.0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "b", id, "c is not connected; b scores 0.9*0.6 over a's 0.5")

	id, ok, err = n.PickBestPeer(0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", id, "ties go to the lowest id")

	clock.Advance(16 * time.Second)
	_, ok, err = n.PickBestPeer(1.0)
	require.NoError(t, err)
	assert.False(t, ok, "no alive peers")
}

func TestNode_PickBestPeerEmpty(t *testing.T) {
	n, _ := newTestNode(t, testConfig("self"))
	id, ok, err := n.PickBestPeer(1.0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestNode_SendFireStampsWithoutLearning(t *testing.T) {
	clock := newFakeClock()
	n, _ := newTestNode(t, testConfig("self"), WithClock(clock.Now))
	r := n.Registry()
	require.NoError(t, r.Handshake("a"))
	require.NoError(t, r.RegisterPeer("b", "ws://b/mesh"))

	sent, err := n.SendFire()
	require.NoError(t, err)
	assert.Zero(t, sent, "no live connections")

	for _, id := range []string{"a", "b"} {
		p := mustGet(t, r, id)
		assert.Equal(t, clock.Now().UnixMilli(), p.Link.LastFireLocal)
		assert.Equal(t, 0.3, p.Link.Weight, "local fire alone never updates weights")
	}
}
