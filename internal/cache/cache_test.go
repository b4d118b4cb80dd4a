package cache

import (
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/arenabook/chatcore/internal/msgstore"
)

func testCache(t *testing.T) *Cache {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db, zap.NewNop())
}

func TestSnapshotRoundTrip(t *testing.T) {
	c := testCache(t)

	msgs := []msgstore.Envelope{
		{LocalID: "l1", ServerID: "S1", Sender: "me", Content: "hi", SentAt: 100, Delivery: msgstore.DeliverySent},
		{ServerID: "S2", Sender: "them", Content: "hey", SentAt: 200, Delivery: msgstore.DeliverySent},
	}
	c.SaveSnapshot("room-1", msgs)

	snap, ok := c.LoadSnapshot("room-1")
	if !ok {
		t.Fatal("snapshot not found")
	}
	if snap.RoomID != "room-1" || len(snap.Messages) != 2 {
		t.Fatalf("snapshot = %+v, want 2 messages for room-1", snap)
	}
	if snap.Messages[0] != msgs[0] || snap.Messages[1] != msgs[1] {
		t.Errorf("messages round-trip mismatch: %+v", snap.Messages)
	}
	if snap.UpdatedAt == 0 {
		t.Error("updated_at not set")
	}
}

func TestSnapshotSuperseded(t *testing.T) {
	c := testCache(t)

	c.SaveSnapshot("room-1", []msgstore.Envelope{{ServerID: "S1", SentAt: 100}})
	c.SaveSnapshot("room-1", []msgstore.Envelope{
		{ServerID: "S1", SentAt: 100},
		{ServerID: "S2", SentAt: 200},
	})

	snap, ok := c.LoadSnapshot("room-1")
	if !ok {
		t.Fatal("snapshot not found")
	}
	if len(snap.Messages) != 2 {
		t.Fatalf("got %d messages, want 2 (replaced, not merged)", len(snap.Messages))
	}
}

func TestLoadSnapshotAbsent(t *testing.T) {
	c := testCache(t)
	if _, ok := c.LoadSnapshot("nope"); ok {
		t.Fatal("expected absent snapshot")
	}
}

func TestRoomIndex(t *testing.T) {
	c := testCache(t)

	if _, ok := c.LookupRoomID("coach", "c1", "svc-1"); ok {
		t.Fatal("expected miss on empty index")
	}

	c.SaveRoomID("coach", "c1", "svc-1", "room-1")
	roomID, ok := c.LookupRoomID("coach", "c1", "svc-1")
	if !ok || roomID != "room-1" {
		t.Fatalf("lookup = %q/%v, want room-1", roomID, ok)
	}

	// Same counterparty, different context: separate conversation.
	if _, ok := c.LookupRoomID("coach", "c1", "svc-2"); ok {
		t.Fatal("context id must partition the index")
	}

	c.SaveRoomID("coach", "c1", "svc-1", "room-9")
	roomID, _ = c.LookupRoomID("coach", "c1", "svc-1")
	if roomID != "room-9" {
		t.Fatalf("lookup after overwrite = %q, want room-9", roomID)
	}
}
