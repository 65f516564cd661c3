package transcriptx

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"pkt.systems/transcriptx/core"
	"pkt.systems/transcriptx/internal/persist"
	"pkt.systems/transcriptx/schema"
)

type countingSink struct {
	events chan schema.RefreshEvent
}

func (c *countingSink) OnRefresh(event schema.RefreshEvent) {
	select {
	case c.events <- event:
	default:
	}
}

func TestNewRequiresAService(t *testing.T) {
	if _, err := New(ServerConfig{}, ServerDeps{}); err == nil {
		t.Fatalf("expected error without enabled services")
	}
	if _, err := New(ServerConfig{}, ServerDeps{}, WithFollow(FollowSource{})); err == nil {
		t.Fatalf("expected error for follow source without path")
	}
}

func TestEventFanoutSkipsNilSinks(t *testing.T) {
	a := &countingSink{events: make(chan schema.RefreshEvent, 1)}
	b := &countingSink{events: make(chan schema.RefreshEvent, 1)}
	fanout := eventFanout{sinks: []core.EventSink{a, nil, b}}
	fanout.OnRefresh(schema.RefreshEvent{SessionID: "s1", CommitGeneration: 3})
	for _, sink := range []*countingSink{a, b} {
		select {
		case event := <-sink.events:
			if event.CommitGeneration != 3 {
				t.Fatalf("unexpected event: %+v", event)
			}
		default:
			t.Fatalf("expected every sink to receive the event")
		}
	}
}

func TestFollowIngestsAndStopPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	data := `{"message_type":"reasoning_message","otid":"r1","reasoning":"plan"}` + "\n" +
		"garbage\n" +
		`{"message_type":"assistant_message","otid":"a1","content":"done"}` + "\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write events: %v", err)
	}
	stateDir := filepath.Join(dir, "state")
	sink := &countingSink{events: make(chan schema.RefreshEvent, 64)}
	srv, err := New(ServerConfig{
		Service: schema.ServiceConfig{StateDir: stateDir, Persist: true},
	}, ServerDeps{ServiceDeps: core.ServiceDeps{EventSink: sink}}, WithFollow(FollowSource{Path: path, SessionID: "s1"}))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := srv.Service().GetTranscript(ctx, schema.GetTranscriptRequest{SessionID: "s1"})
		if err != nil {
			t.Fatalf("get transcript: %v", err)
		}
		if len(resp.Lines) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for followed events, have %d lines", len(resp.Lines))
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case event := <-sink.events:
		if event.SessionID != "s1" {
			t.Fatalf("unexpected refresh: %+v", event)
		}
	default:
		t.Fatalf("expected refreshes on the caller's sink")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	if err := srv.Stop(stopCtx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	store, err := persist.NewStore(stateDir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	snap, ok, err := store.Load("s1")
	if err != nil || !ok {
		t.Fatalf("expected persisted snapshot, ok=%v err=%v", ok, err)
	}
	if len(snap.Lines) != 2 {
		t.Fatalf("expected 2 persisted lines, got %d", len(snap.Lines))
	}
	if _, err := srv.Service().GetTranscript(context.Background(), schema.GetTranscriptRequest{SessionID: "s1"}); err == nil {
		t.Fatalf("expected session to be closed after stop")
	}
}

func TestStopBeforeStart(t *testing.T) {
	srv, err := New(ServerConfig{}, ServerDeps{}, WithHTTP())
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if err := srv.Stop(context.Background()); err != nil {
		t.Fatalf("stop before start: %v", err)
	}
	if err := srv.Wait(); err == nil {
		t.Fatalf("expected wait error before start")
	}
}
