package api

import (
	"testing"
	"time"
)

// Unsubscribe must tear down the pubsub and let the reader goroutine close
// the event channel; closing it from the caller's side could race a late
// message into a closed channel. Uses an unreachable endpoint: the
// subscribe/unsubscribe lifecycle is identical with no server behind it.
func TestRedisBrokerUnsubscribeClosesViaReader(t *testing.T) {
	b, err := NewRedisBroker("redis://127.0.0.1:1/0")
	if err != nil {
		t.Fatalf("NewRedisBroker: %v", err)
	}
	ch := b.Subscribe("p1")
	b.Unsubscribe("p1", ch)

	select {
	case _, open := <-ch:
		if open {
			t.Fatal("expected the channel to be closed, got an event")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("channel not closed after Unsubscribe")
	}

	// Repeated unsubscribe and publish after teardown must be no-ops.
	b.Unsubscribe("p1", ch)
	b.Publish("p1", SSEEvent{Type: "planning.created"})
}

func TestRedisBrokerRejectsBadURL(t *testing.T) {
	if _, err := NewRedisBroker("not-a-redis-url"); err == nil {
		t.Fatal("expected an error for an invalid URL")
	}
}
