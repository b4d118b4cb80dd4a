package msgstore

import (
	"testing"
)

func TestAppendOptimistic(t *testing.T) {
	s := New(nil)
	s.Append(Envelope{LocalID: "l1", Sender: "me", Content: "hi", SentAt: 100, Delivery: DeliveryPending})

	msgs := s.Snapshot()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Delivery != DeliveryPending {
		t.Errorf("delivery = %q, want pending", msgs[0].Delivery)
	}
}

func TestMergeServerAckInPlace(t *testing.T) {
	s := New(nil)
	s.Append(Envelope{LocalID: "l1", Sender: "me", Content: "hi", SentAt: 100, Delivery: DeliveryPending})

	s.MergeServerAck("l1", "S1", Envelope{})

	msgs := s.Snapshot()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (merge, not append)", len(msgs))
	}
	if msgs[0].ServerID != "S1" || msgs[0].Delivery != DeliverySent {
		t.Errorf("envelope = %+v, want server_id=S1 delivery=sent", msgs[0])
	}
}

func TestMergeServerAckIdempotent(t *testing.T) {
	s := New(nil)
	s.Append(Envelope{LocalID: "l1", Sender: "me", Content: "hi", SentAt: 100, Delivery: DeliveryPending})

	s.MergeServerAck("l1", "S1", Envelope{})
	once := s.Snapshot()
	s.MergeServerAck("l1", "S1", Envelope{})
	twice := s.Snapshot()

	if len(once) != 1 || len(twice) != 1 {
		t.Fatalf("got %d then %d messages, want 1 and 1", len(once), len(twice))
	}
	if once[0] != twice[0] {
		t.Errorf("replay changed the envelope: %+v vs %+v", once[0], twice[0])
	}
}

// A reload wipes pending local state; the ack for the lost envelope must
// come back as a regular remote message, and replays must not duplicate it.
func TestMergeServerAckUnknownLocalID(t *testing.T) {
	s := New(nil)

	s.MergeServerAck("l-gone", "S1", Envelope{Sender: "me", Content: "hi", SentAt: 100})
	s.MergeServerAck("l-gone", "S1", Envelope{Sender: "me", Content: "hi", SentAt: 100})

	msgs := s.Snapshot()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].ServerID != "S1" || msgs[0].Delivery != DeliverySent {
		t.Errorf("envelope = %+v, want server_id=S1 delivery=sent", msgs[0])
	}
}

func TestReceiveRemoteIdempotent(t *testing.T) {
	s := New(nil)
	env := Envelope{ServerID: "S1", Sender: "them", Content: "hey", SentAt: 100}

	s.ReceiveRemote(env)
	s.ReceiveRemote(env)

	if s.Len() != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent receive)", s.Len())
	}
}

// Local A is sent, then remote B arrives with an earlier timestamp: the
// snapshot must read [B, A].
func TestOrderingLocalThenEarlierRemote(t *testing.T) {
	s := New(nil)
	s.Append(Envelope{LocalID: "a", Sender: "me", Content: "A", SentAt: 200, Delivery: DeliveryPending})
	s.ReceiveRemote(Envelope{ServerID: "S1", Sender: "them", Content: "B", SentAt: 100})

	msgs := s.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[0].Content != "B" || msgs[1].Content != "A" {
		t.Errorf("order = [%s, %s], want [B, A]", msgs[0].Content, msgs[1].Content)
	}
}

func TestOrderingTiesKeepArrivalOrder(t *testing.T) {
	s := New(nil)
	s.ReceiveRemote(Envelope{ServerID: "S1", Content: "first", SentAt: 100})
	s.ReceiveRemote(Envelope{ServerID: "S2", Content: "second", SentAt: 100})

	msgs := s.Snapshot()
	if msgs[0].Content != "first" || msgs[1].Content != "second" {
		t.Errorf("order = [%s, %s], want [first, second]", msgs[0].Content, msgs[1].Content)
	}
}

func TestMarkReadOutgoingOnly(t *testing.T) {
	s := New(nil)
	s.Append(Envelope{LocalID: "l1", Sender: "me", Content: "a", SentAt: 100, Delivery: DeliveryPending})
	s.MergeServerAck("l1", "S1", Envelope{})
	s.Append(Envelope{LocalID: "l2", Sender: "me", Content: "b", SentAt: 200, Delivery: DeliveryPending})
	s.MergeServerAck("l2", "S3", Envelope{})
	s.ReceiveRemote(Envelope{ServerID: "S2", Sender: "them", Content: "c", SentAt: 150})

	s.MarkRead("me", "S2")

	for _, m := range s.Snapshot() {
		switch m.ServerID {
		case "S1":
			if !m.IsRead {
				t.Error("S1 should be read (outgoing, <= upto)")
			}
		case "S2":
			if m.IsRead {
				t.Error("S2 should not be read (incoming)")
			}
		case "S3":
			if m.IsRead {
				t.Error("S3 should not be read (beyond upto)")
			}
		}
	}
}

// Hydrating a cached [m1] then applying an authoritative [m1, m2] yields
// [m1, m2]: the cache is a bridge, the server history wins wholesale.
func TestAuthoritativeSupersedesCache(t *testing.T) {
	s := New(nil)
	s.Hydrate([]Envelope{
		{LocalID: "l1", ServerID: "S1", Sender: "me", Content: "m1", SentAt: 100, Delivery: DeliverySent},
	})

	s.ApplyAuthoritative([]Envelope{
		{ServerID: "S1", Sender: "me", Content: "m1", SentAt: 100},
		{ServerID: "S2", Sender: "them", Content: "m2", SentAt: 200},
	})

	msgs := s.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (no duplicates)", len(msgs))
	}
	if msgs[0].Content != "m1" || msgs[1].Content != "m2" {
		t.Errorf("order = [%s, %s], want [m1, m2]", msgs[0].Content, msgs[1].Content)
	}
}

// An optimistic send still in flight when the authoritative history lands
// must survive the swap.
func TestAuthoritativeCarriesPendingSends(t *testing.T) {
	s := New(nil)
	s.Append(Envelope{LocalID: "l1", Sender: "me", Content: "in-flight", SentAt: 300, Delivery: DeliveryPending})

	s.ApplyAuthoritative([]Envelope{
		{ServerID: "S1", Sender: "them", Content: "old", SentAt: 100},
	})

	msgs := s.Snapshot()
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}
	if msgs[1].LocalID != "l1" || msgs[1].Delivery != DeliveryPending {
		t.Errorf("pending send lost: %+v", msgs[1])
	}

	// The late ack still reconciles in place.
	s.MergeServerAck("l1", "S2", Envelope{})
	msgs = s.Snapshot()
	if len(msgs) != 2 || msgs[1].Delivery != DeliverySent {
		t.Errorf("ack after swap: got %d messages, delivery %s", len(msgs), msgs[1].Delivery)
	}
}

// A pending send hydrated from the cache may already be part of the
// authoritative history under the same localId (the ack was lost before a
// reload). The server copy must absorb it, not coexist with it.
func TestAuthoritativeAbsorbsEchoedPendingSend(t *testing.T) {
	s := New(nil)
	s.Hydrate([]Envelope{
		{LocalID: "l1", Sender: "me", Content: "hi", SentAt: 100, Delivery: DeliveryPending},
	})

	s.ApplyAuthoritative([]Envelope{
		{LocalID: "l1", ServerID: "S1", Sender: "me", Content: "hi", SentAt: 100},
	})

	msgs := s.Snapshot()
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (server copy absorbs the pending one): %+v", len(msgs), msgs)
	}
	if msgs[0].ServerID != "S1" || msgs[0].Delivery != DeliverySent {
		t.Errorf("envelope = %+v, want server_id=S1 delivery=sent", msgs[0])
	}
}

func TestChangeHookFires(t *testing.T) {
	var calls int
	s := New(func() { calls++ })

	s.Append(Envelope{LocalID: "l1", SentAt: 100, Delivery: DeliveryPending})
	s.MergeServerAck("l1", "S1", Envelope{})
	s.ReceiveRemote(Envelope{ServerID: "S2", SentAt: 200})

	if calls != 3 {
		t.Errorf("change hook fired %d times, want 3", calls)
	}

	// A replayed ack is a no-op and must not fire the hook.
	s.MergeServerAck("l1", "S1", Envelope{})
	if calls != 3 {
		t.Errorf("replayed ack fired the hook (%d calls)", calls)
	}
}

func TestResetDiscardsState(t *testing.T) {
	s := New(nil)
	s.Append(Envelope{LocalID: "l1", SentAt: 100, Delivery: DeliveryPending})
	s.Reset()

	if s.Len() != 0 {
		t.Fatalf("got %d messages after reset, want 0", s.Len())
	}
	if _, ok := s.Get("l1"); ok {
		t.Error("local id survived reset")
	}
}
