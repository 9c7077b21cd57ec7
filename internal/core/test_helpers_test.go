package core

import (
	"context"
	"testing"
	"time"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

func mustNoEvent(t *testing.T, ch <-chan *Event, wait time.Duration) {
	t.Helper()

	select {
	case ev := <-ch:
		if ev != nil {
			t.Fatalf("unexpected event %v: %+v", ev.Kind, ev)
		}
	case <-time.After(wait):
	}
}

func startHub(t *testing.T) *Hub {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := NewHub(nil, Options{})
	go hub.Run(ctx)

	deadline := time.Now().Add(time.Second)
	for !hub.Running() {
		if time.Now().After(deadline) {
			t.Fatal("hub did not start")
		}
		time.Sleep(time.Millisecond)
	}
	return hub
}

func joinedClient(t *testing.T, hub *Hub, id, userID string) *Client {
	t.Helper()

	c := NewClient(id)
	hub.RegisterClient(c)
	hub.Join(c, userID)
	mustEvent(t, c.Events, EventJoined)
	return c
}
