package persist

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"pkt.systems/transcriptx/schema"
)

func TestStoreLoadMissing(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	_, ok, err := store.Load("s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if ok {
		t.Fatalf("expected missing snapshot")
	}
}

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	lines := []schema.Line{
		schema.UserLine{ID: "local-1", Text: "list files"},
		schema.ReasoningLine{ID: "r1", Text: "use ls", Phase: schema.PhaseFinished},
		schema.ToolCallLine{ID: "t1", ToolCallID: "tc1", Name: "Bash", Args: `{"command":"ls"}`, Result: "a.go", ResultOK: true, Phase: schema.PhaseFinished},
	}
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	snapshot, err := NewSessionSnapshot(schema.SessionSnapshot{
		ID:        "s1",
		CreatedAt: created,
		Chars:     6,
		Usage:     schema.Usage{TotalTokens: 12, StepCount: 1},
	}, lines)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if err := store.Save("s1", snapshot); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := store.Load("s1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatalf("expected snapshot to exist")
	}
	if got.ID != "s1" || !got.CreatedAt.Equal(created) || got.SavedAt.IsZero() {
		t.Fatalf("unexpected snapshot header: %+v", got)
	}
	if got.Usage.TotalTokens != 12 || got.Chars != 6 {
		t.Fatalf("unexpected counters: %+v", got)
	}
	restored, err := got.Transcript()
	if err != nil {
		t.Fatalf("transcript: %v", err)
	}
	if diff := cmp.Diff(lines, restored); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
}

func TestStoreListAndDelete(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for _, id := range []schema.SessionID{"b", "a"} {
		if err := store.Save(id, SessionSnapshot{}); err != nil {
			t.Fatalf("save %s: %v", id, err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write stray file: %v", err)
	}
	ids, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]schema.SessionID{"a", "b"}, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
	if err := store.Delete("a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete("a"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if _, ok, _ := store.Load("a"); ok {
		t.Fatalf("expected deleted snapshot to be gone")
	}
}

func TestStoreLoadInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	path := filepath.Join(dir, "s1.json")
	if err := os.WriteFile(path, []byte("{not-json"), 0o600); err != nil {
		t.Fatalf("write bad json: %v", err)
	}
	if _, _, err := store.Load("s1"); err == nil {
		t.Fatalf("expected error for invalid JSON")
	}
}

func TestStoreRejectsAmbiguousSessionIDs(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	for _, id := range []schema.SessionID{"../evil/id", "a b", "state-1", ".hidden", ""} {
		if err := store.Save(id, SessionSnapshot{}); !errors.Is(err, schema.ErrInvalidSession) {
			t.Fatalf("save %q: expected ErrInvalidSession, got %v", id, err)
		}
		if _, _, err := store.Load(id); !errors.Is(err, schema.ErrInvalidSession) {
			t.Fatalf("load %q: expected ErrInvalidSession, got %v", id, err)
		}
	}
	if err := store.Save("a_b", SessionSnapshot{}); err != nil {
		t.Fatalf("save a_b: %v", err)
	}
	if err := store.Save("state_1", SessionSnapshot{}); err != nil {
		t.Fatalf("save state_1: %v", err)
	}
	ids, err := store.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if diff := cmp.Diff([]schema.SessionID{"a_b", "state_1"}, ids); diff != "" {
		t.Fatalf("ids mismatch (-want +got):\n%s", diff)
	}
}
