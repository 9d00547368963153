package events

import (
	"testing"
	"time"
)

func TestHubPublishSubscribe(t *testing.T) {
	t.Parallel()

	h := NewHub(8)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish("process.started", "sess-1", map[string]any{"pid": 42})

	select {
	case ev := <-ch:
		if ev.Type != "process.started" {
			t.Errorf("want process.started, got %q", ev.Type)
		}
		if ev.Session != "sess-1" {
			t.Errorf("session not carried: %q", ev.Session)
		}
		if ev.ID != 1 {
			t.Errorf("want id 1, got %d", ev.ID)
		}
		if string(ev.Data) != `{"pid":42}` {
			t.Errorf("unexpected payload: %s", ev.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("event never delivered")
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	h := NewHub(8)
	ch, cancel := h.Subscribe()
	defer cancel()

	// Overfill the subscriber channel; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 500; i++ {
			h.Publish("heartbeat", "", nil)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
	_ = ch
}

func TestHubSnapshotSince(t *testing.T) {
	t.Parallel()

	h := NewHub(4)
	for i := 0; i < 6; i++ {
		h.Publish("session.created", "", nil)
	}

	all := h.SnapshotSince(0)
	if len(all) != 4 {
		t.Fatalf("ring of 4 should hold 4 events, got %d", len(all))
	}
	// Oldest two were overwritten, so the ring starts at id 3.
	if all[0].ID != 3 || all[3].ID != 6 {
		t.Errorf("unexpected ring window: first=%d last=%d", all[0].ID, all[3].ID)
	}

	tail := h.SnapshotSince(4)
	if len(tail) != 2 || tail[0].ID != 5 {
		t.Errorf("SnapshotSince(4) = %#v", tail)
	}
}

func TestHubSubscribeCancelIdempotent(t *testing.T) {
	t.Parallel()

	h := NewHub(4)
	_, cancel := h.Subscribe()
	cancel()
	cancel()

	// Publishing after cancel must not panic on the closed channel.
	h.Publish("session.closed", "sess-2", nil)
}
