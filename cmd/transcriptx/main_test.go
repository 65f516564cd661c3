package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"pkt.systems/transcriptx/internal/format"
	"pkt.systems/transcriptx/schema"
)

const replayEvents = `{"message_type":"reasoning_message","otid":"r1","reasoning":"plan"}
not json
{"message_type":"assistant_message","otid":"a1","content":"done"}
{"message_type":"usage_statistics","total_tokens":7}
`

func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	data := "config_version: 1\nstate_dir: " + filepath.Join(dir, "state") + "\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func writeEvents(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(replayEvents), 0o600); err != nil {
		t.Fatalf("write events: %v", err)
	}
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestParseFollowSpec(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		path    string
		session schema.SessionID
		wantErr bool
	}{
		{name: "path", spec: "events.jsonl", path: "events.jsonl"},
		{name: "session", spec: "s1=/tmp/events.jsonl", path: "/tmp/events.jsonl", session: "s1"},
		{name: "trimmed", spec: "  s1 = a.jsonl ", path: "a.jsonl", session: "s1"},
		{name: "empty", spec: " ", wantErr: true},
		{name: "missing-path", spec: "s1=", wantErr: true},
	}
	for _, tc := range tests {
		got, err := parseFollowSpec(tc.spec)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tc.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: parseFollowSpec: %v", tc.name, err)
		}
		if got.Path != tc.path || got.SessionID != tc.session {
			t.Fatalf("%s: got %+v", tc.name, got)
		}
	}
}

func TestSessionIDFromPath(t *testing.T) {
	tests := map[string]schema.SessionID{
		"/var/log/run-1.jsonl": "run-1",
		"events":               "events",
		"dir/a.b.jsonl":        "a.b",
	}
	for path, want := range tests {
		if got := sessionIDFromPath(path); got != want {
			t.Fatalf("sessionIDFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestSettledPrinterHoldsBackUnsettledLines(t *testing.T) {
	var out bytes.Buffer
	printer := &settledPrinter{out: &out, renderer: format.NewPlainRenderer()}
	lines := []schema.Line{
		schema.UserLine{ID: "local-1", Text: "go"},
		schema.ReasoningLine{ID: "r1", Text: "hm", Phase: schema.PhaseStreaming},
		schema.StatusLine{ID: "local-2", Lines: []string{"later"}},
	}
	if err := printer.advance(lines, false); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if out.String() != "> go\n" {
		t.Fatalf("unexpected settled output: %q", out.String())
	}
	lines[1] = schema.ReasoningLine{ID: "r1", Text: "hmm", Phase: schema.PhaseFinished}
	if err := printer.advance(lines, false); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if out.String() != "> go\n~ hmm\n- later\n" {
		t.Fatalf("unexpected output after settle: %q", out.String())
	}
	lines = append(lines, schema.AssistantLine{ID: "a1", Text: "x", Phase: schema.PhaseStreaming})
	if err := printer.advance(lines, true); err != nil {
		t.Fatalf("advance all: %v", err)
	}
	if !strings.HasSuffix(out.String(), "* x\n") || printer.printed != 4 {
		t.Fatalf("expected final flush, got %q (printed %d)", out.String(), printer.printed)
	}
}

func TestReplayPrintsText(t *testing.T) {
	dir := t.TempDir()
	cfg := writeTestConfig(t, dir)
	events := writeEvents(t, dir, "run.jsonl")
	out, err := execute(t, "replay", "-c", cfg, events)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if diff := cmp.Diff("~ plan\n* done\n", out); diff != "" {
		t.Fatalf("replay output mismatch (-want +got):\n%s", diff)
	}
	if _, err := os.Stat(filepath.Join(dir, "state", "run.json")); !os.IsNotExist(err) {
		t.Fatalf("expected no snapshot without --save, stat err=%v", err)
	}
}

func TestReplayJSON(t *testing.T) {
	dir := t.TempDir()
	cfg := writeTestConfig(t, dir)
	events := writeEvents(t, dir, "run.jsonl")
	out, err := execute(t, "replay", "-c", cfg, "--format", "json", "--session", "custom", events)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	var payload struct {
		Session schema.SessionSnapshot `json:"session"`
		Lines   []schema.LineRecord    `json:"lines"`
	}
	if err := json.Unmarshal([]byte(out), &payload); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if payload.Session.ID != "custom" || len(payload.Lines) != 2 || payload.Session.Usage.TotalTokens != 7 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestReplayRejectsBadFlags(t *testing.T) {
	dir := t.TempDir()
	cfg := writeTestConfig(t, dir)
	a := writeEvents(t, dir, "a.jsonl")
	b := writeEvents(t, dir, "b.jsonl")
	if _, err := execute(t, "replay", "-c", cfg, "--session", "x", a, b); err == nil {
		t.Fatalf("expected error for --session with two files")
	}
	if _, err := execute(t, "replay", "-c", cfg, "--format", "yaml", a); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
	if _, err := execute(t, "replay", "-c", cfg, "--follow", "--format", "json", a); err == nil {
		t.Fatalf("expected error for --follow with json output")
	}
}

func TestReplaySaveThenInspect(t *testing.T) {
	dir := t.TempDir()
	cfg := writeTestConfig(t, dir)
	events := writeEvents(t, dir, "run.jsonl")
	if _, err := execute(t, "replay", "-c", cfg, "--save", events); err != nil {
		t.Fatalf("replay: %v", err)
	}

	out, err := execute(t, "inspect", "-c", cfg)
	if err != nil {
		t.Fatalf("inspect list: %v", err)
	}
	if out != "run\n" {
		t.Fatalf("unexpected session list: %q", out)
	}
	out, err = execute(t, "inspect", "-c", cfg, "run")
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if diff := cmp.Diff("~ plan\n* done\n", out); diff != "" {
		t.Fatalf("inspect output mismatch (-want +got):\n%s", diff)
	}
	if _, err := execute(t, "inspect", "-c", cfg, "missing"); err == nil {
		t.Fatalf("expected error for missing session")
	}
}

func TestConfigInitThenShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	if _, err := execute(t, "config", "init", "-c", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := execute(t, "config", "init", "-c", path); err == nil {
		t.Fatalf("expected error when config exists")
	}
	out, err := execute(t, "config", "show", "-c", path)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "config_version: 1") || !strings.Contains(out, "correlator: stream_id") {
		t.Fatalf("unexpected config output: %s", out)
	}
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if strings.TrimSpace(out) == "" {
		t.Fatalf("expected version output")
	}
	out, err = execute(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json: %v", err)
	}
	if !strings.Contains(out, `"go_version"`) {
		t.Fatalf("unexpected json version output: %s", out)
	}
}
