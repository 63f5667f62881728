package download

import (
	"context"
	"errors"
	"testing"
	"time"

	"mediaengine/internal/domain"
)

func TestStartDownloadsBoundedConcurrency(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	store.seed(makeDownload("c1"), makeItem("c1", "1080p", "magnet:?c1"))
	store.seed(makeDownload("c2"), makeItem("c2", "1080p", "magnet:?c2"))
	h1 := client.handleFor("magnet:?c1")
	client.handleFor("magnet:?c2")

	m := testManager(t, store, client, 1)
	m.AddDownload(makeDownload("c1"))
	m.AddDownload(makeDownload("c2"))
	m.StartDownloads()

	eventually(t, func() bool { return client.addedCount() == 1 }, "first transfer should start")

	// The second transfer must wait for the slot.
	time.Sleep(50 * time.Millisecond)
	if got := client.addedCount(); got != 1 {
		t.Fatalf("added %d transfers, want 1 while the slot is held", got)
	}

	h1.emit(domain.TransferEvent{Kind: domain.EventDone, Progress: 100})

	eventually(t, func() bool { return client.addedCount() == 2 }, "second transfer should start after the first finishes")
}

func TestRehydrateOnStart(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()

	d1 := makeDownload("r1")
	d1.Status = domain.DownloadDownloading
	d1.UpdatedAt = 1
	d2 := makeDownload("r2")
	d2.UpdatedAt = 2
	store.seed(d1, makeItem("r1", "1080p", "magnet:?r1"))
	store.seed(d2, makeItem("r2", "1080p", "magnet:?r2"))

	done := makeDownload("r3")
	done.Status = domain.DownloadComplete
	store.seed(done, makeItem("r3", "1080p", "magnet:?r3"))

	client.handleFor("magnet:?r1")
	client.handleFor("magnet:?r2")

	m := testManager(t, store, client, 2)
	if err := m.RehydrateOnStart(context.Background()); err != nil {
		t.Fatalf("RehydrateOnStart: %v", err)
	}

	eventually(t, func() bool { return client.addedCount() == 2 }, "both pending records should be re-driven")

	time.Sleep(50 * time.Millisecond)
	if got := client.addedCount(); got != 2 {
		t.Errorf("added %d transfers, want 2 (terminal records stay put)", got)
	}
}

func TestRehydrateSkipsTrackedDownloads(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	store.seed(makeDownload("r4"), makeItem("r4", "1080p", "magnet:?r4"))
	client.handleFor("magnet:?r4")

	m := testManager(t, store, client, 1)
	m.AddDownload(makeDownload("r4"))
	m.StartDownloads()
	eventually(t, func() bool { return client.addedCount() == 1 }, "transfer started")

	if err := m.RehydrateOnStart(context.Background()); err != nil {
		t.Fatalf("RehydrateOnStart: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if got := client.addedCount(); got != 1 {
		t.Errorf("added %d transfers, want 1 (already tracked)", got)
	}
}

func TestRehydrateStoreError(t *testing.T) {
	store := newFakeStore()
	store.listErr = errTransient
	client := newFakeClient()

	m := testManager(t, store, client, 1)
	if err := m.RehydrateOnStart(context.Background()); !errors.Is(err, errTransient) {
		t.Errorf("RehydrateOnStart error = %v, want %v", err, errTransient)
	}
}

func TestStopDownloadingQueuedRecord(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	store.seed(makeDownload("q1"), makeItem("q1", "1080p", "magnet:?q1"))

	m := testManager(t, store, client, 1)
	m.AddDownload(makeDownload("q1"))

	m.StopDownloading(context.Background(), "q1")

	d, _ := store.download("q1")
	if d.Status != domain.DownloadRemoved {
		t.Errorf("status = %v, want removed", d.Status)
	}
	if m.tracked("q1") {
		t.Error("record should have left the queue")
	}
	if client.addedCount() != 0 {
		t.Error("no transfer should have started")
	}
}

func TestCleanUpDownload(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	store.seed(makeDownload("q2"), makeItem("q2", "1080p", "magnet:?q2"))

	m := testManager(t, store, client, 1)
	m.AddDownload(makeDownload("q2"))

	if _, err := m.layout.EnsureDir("q2"); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}

	m.CleanUpDownload(context.Background(), "q2")

	if _, ok := store.download("q2"); ok {
		t.Error("record should be deleted")
	}
	if m.tracked("q2") {
		t.Error("record should have left the queue")
	}

	// A second cleanup over an absent record is a no-op.
	m.CleanUpDownload(context.Background(), "q2")
}

func TestSnapshotReflectsActiveTransfers(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	store.seed(makeDownload("s1"), makeItem("s1", "1080p", "magnet:?s1"))
	handle := client.handleFor("magnet:?s1")

	m := testManager(t, store, client, 1)

	if snap := m.Snapshot(); len(snap) != 0 {
		t.Fatalf("empty manager snapshot = %v", snap)
	}

	m.AddDownload(makeDownload("s1"))
	m.StartDownloads()

	handle.emit(domain.TransferEvent{Kind: domain.EventProgress, Progress: 42, SpeedBytesPerSec: 2048, NumPeers: 7})

	eventually(t, func() bool {
		snap := m.Snapshot()
		return len(snap) == 1 && snap[0].Progress == 42
	}, "snapshot should carry the live progress")

	snap := m.Snapshot()
	if snap[0].ID != "s1" {
		t.Errorf("snapshot id = %q, want s1", snap[0].ID)
	}
	if snap[0].NumPeers == nil || *snap[0].NumPeers != 7 {
		t.Errorf("snapshot peers = %v, want 7", snap[0].NumPeers)
	}
}

func TestShutdownDestroysTransfers(t *testing.T) {
	store := newFakeStore()
	client := newFakeClient()
	store.seed(makeDownload("s2"), makeItem("s2", "1080p", "magnet:?s2"))
	handle := client.handleFor("magnet:?s2")

	m := testManager(t, store, client, 1)
	m.AddDownload(makeDownload("s2"))
	m.StartDownloads()

	handle.emit(domain.TransferEvent{Kind: domain.EventProgress, Progress: 10, NumPeers: 1})
	eventually(t, func() bool {
		d, _ := store.download("s2")
		return d.Status == domain.DownloadDownloading
	}, "transfer active")

	writes := store.writeCount()
	m.Shutdown()

	select {
	case <-handle.destroyed:
	case <-time.After(time.Second):
		t.Fatal("shutdown should destroy the live handle")
	}

	// Shutdown leaves the store alone so the records rehydrate next boot.
	time.Sleep(50 * time.Millisecond)
	if got := store.writeCount(); got != writes {
		t.Errorf("shutdown wrote %d extra updates, want 0", got-writes)
	}
	d, _ := store.download("s2")
	if !d.Status.Pending() {
		t.Errorf("status = %v, want pending after shutdown", d.Status)
	}
}
