package eventbus

import (
	"testing"
	"time"

	"pkt.systems/transcriptx/schema"
)

func TestSubscribeAndPublish(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("s1")
	defer cancel()

	bus.OnRefresh(schema.RefreshEvent{SessionID: "s1", CommitGeneration: 3, AbortGeneration: 1})
	bus.OnRefresh(schema.RefreshEvent{SessionID: "s2", CommitGeneration: 9})

	select {
	case got := <-ch:
		if got.SessionID != "s1" || got.CommitGeneration != 3 || got.AbortGeneration != 1 {
			t.Fatalf("unexpected payload: %+v", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timed out waiting for event")
	}
	select {
	case got := <-ch:
		t.Fatalf("received event for another session: %+v", got)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := New(nil)
	ch, cancel := bus.Subscribe("s1")
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Fatalf("expected channel to be closed")
	}
	if n := bus.Subscribers("s1"); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}

type dropCount struct {
	n int
}

func (d *dropCount) RefreshDropped(count int) {
	d.n += count
}

func TestPublishDoesNotBlockWhenFull(t *testing.T) {
	drops := &dropCount{}
	bus := New(nil, WithDepth(1), WithDropCounter(drops))
	_, cancel := bus.Subscribe("s1")
	defer cancel()

	bus.OnRefresh(schema.RefreshEvent{SessionID: "s1", CommitGeneration: 1})
	done := make(chan struct{})
	go func() {
		bus.OnRefresh(schema.RefreshEvent{SessionID: "s1", CommitGeneration: 2})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("publish blocked on full channel")
	}
	if drops.n != 1 {
		t.Fatalf("expected one dropped event, got %d", drops.n)
	}
}
