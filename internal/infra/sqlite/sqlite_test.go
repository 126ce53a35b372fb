package sqlite

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/soma-network/soma/internal/domain"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

var (
	_ domain.WeightStore = (*DB)(nil)
	_ domain.TraceStore  = (*DB)(nil)
	_ domain.PeerStore   = (*DB)(nil)
)

// ─── Database Lifecycle ─────────────────────────────────────────────────────

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Join(dir, "state.db")); os.IsNotExist(err) {
		t.Error("state.db should exist")
	}
}

func TestOpen_Ping(t *testing.T) {
	db := newTestDB(t)
	if err := db.Ping(); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := db.SetNodeInfo("node_id", "node-1234"); err != nil {
		t.Fatalf("SetNodeInfo() error: %v", err)
	}
	db.Close()

	db, err = Open(dir)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer db.Close()
	got, err := db.GetNodeInfo("node_id")
	if err != nil {
		t.Fatalf("GetNodeInfo() error: %v", err)
	}
	if got != "node-1234" {
		t.Errorf("node_id = %q, want node-1234", got)
	}
}

// ─── Node Info ──────────────────────────────────────────────────────────────

func TestNodeInfo_Missing(t *testing.T) {
	db := newTestDB(t)
	got, err := db.GetNodeInfo("nope")
	if err != nil {
		t.Fatalf("GetNodeInfo() error: %v", err)
	}
	if got != "" {
		t.Errorf("missing key = %q, want empty", got)
	}
}

func TestNodeInfo_Overwrite(t *testing.T) {
	db := newTestDB(t)
	db.SetNodeInfo("k", "v1")
	db.SetNodeInfo("k", "v2")
	got, _ := db.GetNodeInfo("k")
	if got != "v2" {
		t.Errorf("value = %q, want v2", got)
	}
}

// ─── Peers ──────────────────────────────────────────────────────────────────

func TestPeers_UpsertAndList(t *testing.T) {
	db := newTestDB(t)
	t0 := time.UnixMilli(1_700_000_000_000)

	if err := db.UpsertPeer(domain.PeerRecord{ID: "b", URL: "ws://b/mesh", RegisteredAt: t0.Add(time.Second)}); err != nil {
		t.Fatalf("UpsertPeer() error: %v", err)
	}
	if err := db.UpsertPeer(domain.PeerRecord{ID: "a", URL: "ws://a/mesh", RegisteredAt: t0}); err != nil {
		t.Fatalf("UpsertPeer() error: %v", err)
	}
	// Re-registering only changes the url.
	if err := db.UpsertPeer(domain.PeerRecord{ID: "a", URL: "ws://a2/mesh", RegisteredAt: t0.Add(time.Hour)}); err != nil {
		t.Fatalf("UpsertPeer() error: %v", err)
	}

	peers, err := db.ListPeers()
	if err != nil {
		t.Fatalf("ListPeers() error: %v", err)
	}
	if len(peers) != 2 {
		t.Fatalf("len(peers) = %d, want 2", len(peers))
	}
	if peers[0].ID != "a" || peers[0].URL != "ws://a2/mesh" {
		t.Errorf("peers[0] = %+v, want a at ws://a2/mesh", peers[0])
	}
	if !peers[0].RegisteredAt.Equal(t0) {
		t.Errorf("registered_at = %v, want %v", peers[0].RegisteredAt, t0)
	}
}

func TestPeers_GetAndDelete(t *testing.T) {
	db := newTestDB(t)
	db.UpsertPeer(domain.PeerRecord{ID: "a", URL: "ws://a/mesh"})

	p, err := db.GetPeer("a")
	if err != nil || p == nil {
		t.Fatalf("GetPeer() = %v, %v", p, err)
	}
	if p.RegisteredAt.IsZero() {
		t.Error("registered_at should default to now")
	}

	if err := db.DeletePeer("a"); err != nil {
		t.Fatalf("DeletePeer() error: %v", err)
	}
	if err := db.DeletePeer("a"); !errors.Is(err, domain.ErrPeerNotFound) {
		t.Errorf("second DeletePeer() = %v, want ErrPeerNotFound", err)
	}
	p, err = db.GetPeer("a")
	if err != nil || p != nil {
		t.Errorf("GetPeer() after delete = %v, %v; want nil, nil", p, err)
	}
}

// ─── Weights ────────────────────────────────────────────────────────────────

func TestWeights_EmptySnapshot(t *testing.T) {
	db := newTestDB(t)
	_, err := db.LoadWeights()
	if !errors.Is(err, domain.ErrNoSnapshot) {
		t.Errorf("LoadWeights() error = %v, want ErrNoSnapshot", err)
	}
}

func TestWeights_SaveReplacesSnapshot(t *testing.T) {
	db := newTestDB(t)
	first := []domain.WeightEntry{{PeerID: "a", Weight: 0.4}, {PeerID: "b", Weight: 0.9}}
	if err := db.SaveWeights(first); err != nil {
		t.Fatalf("SaveWeights() error: %v", err)
	}
	second := []domain.WeightEntry{{PeerID: "c", Weight: 0.25}, {PeerID: "a", Weight: 0.5}}
	if err := db.SaveWeights(second); err != nil {
		t.Fatalf("SaveWeights() error: %v", err)
	}

	got, err := db.LoadWeights()
	if err != nil {
		t.Fatalf("LoadWeights() error: %v", err)
	}
	want := []domain.WeightEntry{{PeerID: "a", Weight: 0.5}, {PeerID: "c", Weight: 0.25}}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestWeights_SavedEmptySnapshot(t *testing.T) {
	db := newTestDB(t)
	if err := db.SaveWeights(nil); err != nil {
		t.Fatalf("SaveWeights() error: %v", err)
	}
	got, err := db.LoadWeights()
	if err != nil {
		t.Fatalf("LoadWeights() error = %v, want an empty snapshot", err)
	}
	if got == nil || len(got) != 0 {
		t.Errorf("LoadWeights() = %#v, want empty non-nil slice", got)
	}
}

// ─── Traces ─────────────────────────────────────────────────────────────────

func TestTraces_InsertAndRecent(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 5; i++ {
		id, err := db.InsertTrace(domain.CausalTrace{
			Cause:       "network_activity",
			Effect:      "p_weight_0.400",
			Delta:       0.1,
			TimestampMs: int64(1000 + i),
		})
		if err != nil {
			t.Fatalf("InsertTrace() error: %v", err)
		}
		if id <= 0 {
			t.Errorf("id = %d, want > 0", id)
		}
	}

	recent, err := db.RecentTraces(3)
	if err != nil {
		t.Fatalf("RecentTraces() error: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len = %d, want 3", len(recent))
	}
	if recent[0].TimestampMs != 1004 || recent[2].TimestampMs != 1002 {
		t.Errorf("order = %d..%d, want newest first", recent[0].TimestampMs, recent[2].TimestampMs)
	}

	n, err := db.CountTraces()
	if err != nil {
		t.Fatalf("CountTraces() error: %v", err)
	}
	if n != 5 {
		t.Errorf("CountTraces() = %d, want 5", n)
	}
}

func TestTraces_PruneKeepsNewest(t *testing.T) {
	db := newTestDB(t)
	for i := 0; i < 10; i++ {
		if _, err := db.InsertTrace(domain.CausalTrace{
			Cause:       "network_activity",
			Effect:      "p_weight_0.400",
			Delta:       0.1,
			TimestampMs: int64(1000 + i),
		}); err != nil {
			t.Fatalf("InsertTrace() error: %v", err)
		}
	}

	removed, err := db.PruneTraces(4)
	if err != nil {
		t.Fatalf("PruneTraces() error: %v", err)
	}
	if removed != 6 {
		t.Errorf("PruneTraces() removed %d, want 6", removed)
	}
	n, _ := db.CountTraces()
	if n != 4 {
		t.Errorf("CountTraces() = %d, want 4", n)
	}
	recent, _ := db.RecentTraces(10)
	if len(recent) != 4 || recent[3].TimestampMs != 1006 {
		t.Errorf("kept %+v, want the 4 newest", recent)
	}

	if removed, _ := db.PruneTraces(4); removed != 0 {
		t.Errorf("second PruneTraces() removed %d, want 0", removed)
	}
	if removed, _ := db.PruneTraces(0); removed != 0 {
		t.Errorf("PruneTraces(0) removed %d, want 0", removed)
	}
}
