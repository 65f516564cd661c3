package logx

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"pkt.systems/pslog"
)

func newCaptureLogger(capture *logCapture) pslog.Logger {
	return pslog.NewWithOptions(capture, pslog.Options{
		Mode:          pslog.ModeStructured,
		NoColor:       true,
		MinLevel:      pslog.InfoLevel,
		VerboseFields: true,
	})
}

func TestWithSessionAddsField(t *testing.T) {
	capture := &logCapture{}
	ctx := pslog.ContextWithLogger(context.Background(), newCaptureLogger(capture))
	WithSession(ctx, "s1").Info("hello")

	entry := capture.firstEntry(t)
	if entry["session"] != "s1" {
		t.Fatalf("expected session field, got %+v", entry)
	}
}

func TestWithSessionSkipsDuplicate(t *testing.T) {
	capture := &logCapture{}
	logger := newCaptureLogger(capture).With("session", "s1")
	ctx := ContextWithSessionLogger(context.Background(), logger, "s1")
	WithSession(ctx, "s1").Info("hello")

	line := capture.buf.String()
	if n := bytes.Count([]byte(line), []byte(`"session"`)); n != 1 {
		t.Fatalf("expected one session field, got %d in %s", n, line)
	}
}

func TestWithStreamAndToolCall(t *testing.T) {
	capture := &logCapture{}
	log := WithToolCall(WithStream(newCaptureLogger(capture), "otid-1"), "")
	log.Info("hello")

	entry := capture.firstEntry(t)
	if entry["stream"] != "otid-1" {
		t.Fatalf("expected stream field, got %+v", entry)
	}
	if _, ok := entry["tool_call"]; ok {
		t.Fatalf("did not expect tool_call for empty id")
	}
}

type logCapture struct {
	buf bytes.Buffer
}

func (c *logCapture) Write(p []byte) (int, error) {
	return c.buf.Write(p)
}

func (c *logCapture) firstEntry(t *testing.T) map[string]any {
	t.Helper()
	data := c.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx == -1 {
		idx = len(data)
	}
	line := bytes.TrimSpace(data[:idx])
	entry := map[string]any{}
	if err := json.Unmarshal(line, &entry); err != nil {
		t.Fatalf("parse log entry: %v", err)
	}
	return entry
}
