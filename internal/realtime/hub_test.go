package realtime

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestPublishFanOut(t *testing.T) {
	h := NewHub(zap.NewNop())

	a := h.Subscribe("case:1")
	b := h.Subscribe("case:1")
	other := h.Subscribe("case:2")
	defer a.Close()
	defer b.Close()
	defer other.Close()

	h.Publish(Event{Topic: "case:1", Kind: "status_changed"})

	for _, s := range []*Subscription{a, b} {
		select {
		case ev := <-s.C:
			if ev.Kind != "status_changed" {
				t.Fatalf("unexpected kind %q", ev.Kind)
			}
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}

	select {
	case ev := <-other.C:
		t.Fatalf("topic case:2 received foreign event %+v", ev)
	default:
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(zap.NewNop())
	s := h.Subscribe("user:1")
	defer s.Close()

	done := make(chan struct{})
	go func() {
		// Publish well past the buffer without anyone draining.
		for i := 0; i < subscriberBuffer*3; i++ {
			h.Publish(Event{Topic: "user:1", Kind: "notify"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}

func TestCloseRemovesSubscription(t *testing.T) {
	h := NewHub(zap.NewNop())
	s := h.Subscribe("user:1")

	if got := h.Subscribers("user:1"); got != 1 {
		t.Fatalf("subscribers = %d, want 1", got)
	}

	s.Close()

	if got := h.Subscribers("user:1"); got != 0 {
		t.Fatalf("subscribers after close = %d, want 0", got)
	}

	// Channel is closed so a ranging consumer terminates.
	if _, ok := <-s.C; ok {
		t.Fatal("expected closed channel")
	}

	// Publishing to a dead topic is a no-op.
	h.Publish(Event{Topic: "user:1", Kind: "notify"})
}
