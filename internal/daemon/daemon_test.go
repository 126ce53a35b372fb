package daemon

import (
	"context"
	"testing"
	"time"

	"github.com/soma-network/soma/internal/domain"
)

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Storage.Dir = t.TempDir()
	cfg.API.Host = "127.0.0.1"
	cfg.API.Port = 0
	cfg.Logging.Level = "error"
	d, err := NewWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewWithConfig: %v", err)
	}
	t.Cleanup(d.Close)
	return d
}

func TestNewWithConfig_GeneratesNodeID(t *testing.T) {
	d := newTestDaemon(t)

	id := d.Node.ID()
	if id == "" {
		t.Fatal("empty node id")
	}
	stored, err := d.DB.GetNodeInfo(nodeIDKey)
	if err != nil {
		t.Fatalf("GetNodeInfo: %v", err)
	}
	if stored != id {
		t.Errorf("stored id = %q, want %q", stored, id)
	}
}

func TestRestorePeers(t *testing.T) {
	d := newTestDaemon(t)
	d.Config.Mesh.Peers = []PeerConfig{
		{ID: "cfg-peer", URL: "ws://127.0.0.1:1/mesh"},
		{ID: "bad", URL: "http://127.0.0.1:1/mesh"},
	}
	err := d.DB.UpsertPeer(domain.PeerRecord{ID: "db-peer", URL: "ws://127.0.0.1:1/mesh", RegisteredAt: time.Now()})
	if err != nil {
		t.Fatalf("UpsertPeer: %v", err)
	}

	if n := d.RestorePeers(); n != 2 {
		t.Errorf("RestorePeers() = %d, want 2", n)
	}
	for _, id := range []string{"cfg-peer", "db-peer"} {
		p, ok, err := d.Node.Registry().Get(id)
		if err != nil || !ok {
			t.Fatalf("Get(%s) = %v, %v", id, ok, err)
		}
		if p.URL != "ws://127.0.0.1:1/mesh" {
			t.Errorf("%s url = %q", id, p.URL)
		}
	}
	if _, ok, _ := d.Node.Registry().Get("bad"); ok {
		t.Error("invalid peer should be skipped")
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	d := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
