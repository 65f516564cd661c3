package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"pkt.systems/transcriptx/schema"
)

type recordingSink struct {
	mu     sync.Mutex
	events []schema.RefreshEvent
}

func (r *recordingSink) OnRefresh(event schema.RefreshEvent) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.mu.Unlock()
}

func (r *recordingSink) last(t *testing.T) schema.RefreshEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		t.Fatalf("expected refresh events")
	}
	return r.events[len(r.events)-1]
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func newTestService(t *testing.T, cfg schema.ServiceConfig) (Service, *recordingSink) {
	t.Helper()
	sink := &recordingSink{}
	svc, err := NewService(cfg, ServiceDeps{EventSink: sink})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, sink
}

func openSession(t *testing.T, svc Service, id schema.SessionID) schema.SessionID {
	t.Helper()
	resp, err := svc.OpenSession(context.Background(), schema.OpenSessionRequest{SessionID: id})
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	return resp.Session.ID
}

func TestOpenSessionGeneratesUUID(t *testing.T) {
	svc, _ := newTestService(t, schema.ServiceConfig{})
	id := openSession(t, svc, "")
	if _, err := uuid.Parse(string(id)); err != nil {
		t.Fatalf("expected uuid session id, got %q: %v", id, err)
	}
	if _, err := svc.OpenSession(context.Background(), schema.OpenSessionRequest{SessionID: id}); !errors.Is(err, schema.ErrSessionExists) {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestOpenSessionRejectsInvalidID(t *testing.T) {
	svc, _ := newTestService(t, schema.ServiceConfig{})
	if _, err := svc.OpenSession(context.Background(), schema.OpenSessionRequest{SessionID: "../x"}); !errors.Is(err, schema.ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
	if _, err := svc.GetTranscript(context.Background(), schema.GetTranscriptRequest{SessionID: "missing"}); !errors.Is(err, schema.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestIngestNotifiesWithGenerations(t *testing.T) {
	svc, sink := newTestService(t, schema.ServiceConfig{})
	id := openSession(t, svc, "s1")
	before := sink.count()
	resp, err := svc.Ingest(context.Background(), schema.IngestRequest{
		SessionID: id,
		Events: []schema.Event{
			{Kind: schema.EventReasoning, StreamID: "r1", Reasoning: "plan"},
			{Kind: schema.EventAssistant, StreamID: "a1", Content: schema.TextContent("hello")},
			{Kind: schema.EventToolReturn, ToolReturns: []schema.ToolReturn{{ToolCallID: "ghost", Status: "success"}}},
			{Kind: "heartbeat"},
		},
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if resp.Applied != 2 || resp.Dropped != 1 || resp.Ignored != 1 {
		t.Fatalf("unexpected ingest summary: %+v", resp)
	}
	if len(resp.Orphans) != 1 || resp.Orphans[0] != "ghost" {
		t.Fatalf("unexpected orphans: %v", resp.Orphans)
	}
	if sink.count() != before+1 {
		t.Fatalf("expected one refresh per batch, got %d", sink.count()-before)
	}
	last := sink.last(t)
	if last.SessionID != id || last.CommitGeneration != resp.CommitGeneration {
		t.Fatalf("unexpected refresh: %+v (resp %+v)", last, resp)
	}

	got, err := svc.GetTranscript(context.Background(), schema.GetTranscriptRequest{SessionID: id})
	if err != nil {
		t.Fatalf("get transcript: %v", err)
	}
	if len(got.Lines) != 2 || got.Session.Chars != int64(len("plan")+len("hello")) {
		t.Fatalf("unexpected transcript: %+v", got)
	}
}

func TestCancelStopsIngestUntilReset(t *testing.T) {
	svc, sink := newTestService(t, schema.ServiceConfig{})
	ctx := context.Background()
	id := openSession(t, svc, "s1")
	if _, err := svc.Ingest(ctx, schema.IngestRequest{SessionID: id, Events: []schema.Event{
		{Kind: schema.EventToolCall, StreamID: "t1", ToolCalls: []schema.ToolCallDelta{{ToolCallID: "tc1", Name: "Bash"}}},
	}}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := svc.MarkRunning(ctx, schema.MarkRunningRequest{SessionID: id, ToolCallIDs: []string{"tc1"}}); err != nil {
		t.Fatalf("mark running: %v", err)
	}
	cancelResp, err := svc.Cancel(ctx, schema.CancelRequest{SessionID: id})
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelResp.Finished != 1 || cancelResp.AbortGeneration != 1 {
		t.Fatalf("unexpected cancel response: %+v", cancelResp)
	}
	afterCancel := sink.last(t)

	resp, err := svc.Ingest(ctx, schema.IngestRequest{SessionID: id, Events: []schema.Event{
		{Kind: schema.EventAssistant, StreamID: "a1", Content: schema.TextContent("late")},
	}})
	if err != nil {
		t.Fatalf("ingest after cancel: %v", err)
	}
	if resp.Dropped != 1 || resp.Applied != 0 {
		t.Fatalf("expected drop after cancel, got %+v", resp)
	}

	reset, err := svc.ResetSession(ctx, schema.ResetSessionRequest{SessionID: id})
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if reset.Session.Lines != 0 || reset.Session.Interrupted {
		t.Fatalf("unexpected reset session: %+v", reset.Session)
	}
	if reset.Session.AbortGeneration != afterCancel.AbortGeneration {
		t.Fatalf("abort generation not carried: %d vs %d", reset.Session.AbortGeneration, afterCancel.AbortGeneration)
	}
	if reset.Session.CommitGeneration <= afterCancel.CommitGeneration {
		t.Fatalf("commit generation went backwards: %d <= %d", reset.Session.CommitGeneration, afterCancel.CommitGeneration)
	}
	resp, err = svc.Ingest(ctx, schema.IngestRequest{SessionID: id, Events: []schema.Event{
		{Kind: schema.EventAssistant, StreamID: "a1", Content: schema.TextContent("fresh")},
	}})
	if err != nil || resp.Applied != 1 {
		t.Fatalf("expected applied after reset, got %+v err=%v", resp, err)
	}
}

func TestCancelInterruptsRunningBatch(t *testing.T) {
	svc, _ := newTestService(t, schema.ServiceConfig{})
	ctx := context.Background()
	id := openSession(t, svc, "s1")
	events := make([]schema.Event, 200000)
	for i := range events {
		events[i] = schema.Event{Kind: schema.EventAssistant, StreamID: "a1", Content: schema.TextContent("x")}
	}
	type result struct {
		resp schema.IngestResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := svc.Ingest(ctx, schema.IngestRequest{SessionID: id, Events: events})
		done <- result{resp: resp, err: err}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := svc.GetTranscript(ctx, schema.GetTranscriptRequest{SessionID: id})
		if err != nil {
			t.Fatalf("get transcript: %v", err)
		}
		if len(resp.Lines) > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for the batch to start")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := svc.Cancel(ctx, schema.CancelRequest{SessionID: id}); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	got := <-done
	if got.err != nil {
		t.Fatalf("ingest: %v", got.err)
	}
	if got.resp.Dropped == 0 {
		t.Fatalf("expected events after cancel to be dropped, got %+v", got.resp)
	}
	if got.resp.Applied+got.resp.Dropped != len(events) {
		t.Fatalf("expected every event accounted for, got %+v", got.resp)
	}
}

func TestAppendOutputRoutes(t *testing.T) {
	svc, _ := newTestService(t, schema.ServiceConfig{})
	ctx := context.Background()
	id := openSession(t, svc, "s1")
	if _, err := svc.AppendOutput(ctx, schema.AppendOutputRequest{SessionID: id}); !errors.Is(err, schema.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
	line, err := svc.AddLocalLine(ctx, schema.AddLocalLineRequest{SessionID: id, Kind: schema.KindBashCommand, Text: "ls"})
	if err != nil {
		t.Fatalf("add local line: %v", err)
	}
	out, err := svc.AppendOutput(ctx, schema.AppendOutputRequest{SessionID: id, LineID: line.LineID, Chunk: "a.go\n"})
	if err != nil || !out.Accepted {
		t.Fatalf("append command output: %+v err=%v", out, err)
	}
	out, err = svc.AppendOutput(ctx, schema.AppendOutputRequest{SessionID: id, ToolCallID: "unknown", Chunk: "x"})
	if err != nil || out.Accepted {
		t.Fatalf("expected unknown tool output to be discarded: %+v err=%v", out, err)
	}
	if _, err := svc.FinishCommand(ctx, schema.FinishCommandRequest{SessionID: id, LineID: line.LineID, Output: "a.go\n", OK: true}); err != nil {
		t.Fatalf("finish command: %v", err)
	}
	got, err := svc.GetTranscript(ctx, schema.GetTranscriptRequest{SessionID: id})
	if err != nil {
		t.Fatalf("get transcript: %v", err)
	}
	cmd, ok := got.Lines[0].(schema.BashCommandLine)
	if !ok || cmd.Phase != schema.PhaseFinished || cmd.Window == nil || cmd.Window.TotalLines != 1 {
		t.Fatalf("unexpected command line: %+v", got.Lines[0])
	}
	if _, err := svc.AddLocalLine(ctx, schema.AddLocalLineRequest{SessionID: id, Kind: schema.KindToolCall}); !errors.Is(err, schema.ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest for tool call local line, got %v", err)
	}
}

func TestClosePersistsAndRestores(t *testing.T) {
	stateDir := t.TempDir()
	ctx := context.Background()
	svc, sink := newTestService(t, schema.ServiceConfig{StateDir: stateDir, Persist: true})
	id := openSession(t, svc, "s1")
	if _, err := svc.Ingest(ctx, schema.IngestRequest{SessionID: id, Events: []schema.Event{
		{Kind: schema.EventToolCall, StreamID: "t1", ToolCalls: []schema.ToolCallDelta{{ToolCallID: "tc1", Name: "Read", Arguments: "{}"}}},
		{Kind: schema.EventUsage, Usage: schema.Usage{TotalTokens: 9, StepCount: 1}},
	}}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	closed, err := svc.CloseSession(ctx, schema.CloseSessionRequest{SessionID: id})
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !closed.Persisted {
		t.Fatalf("expected snapshot to be persisted")
	}
	if last := sink.last(t); !last.Closed {
		t.Fatalf("expected closed refresh, got %+v", last)
	}
	list, err := svc.ListSessions(ctx, schema.ListSessionsRequest{})
	if err != nil || len(list.Sessions) != 0 {
		t.Fatalf("expected no open sessions: %+v err=%v", list, err)
	}

	opened, err := svc.OpenSession(ctx, schema.OpenSessionRequest{SessionID: id, Restore: true})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !opened.Restored || opened.Session.Lines != 1 || opened.Session.Usage.TotalTokens != 9 {
		t.Fatalf("unexpected restored session: %+v", opened)
	}
	resp, err := svc.Ingest(ctx, schema.IngestRequest{SessionID: id, Events: []schema.Event{
		{Kind: schema.EventToolReturn, ToolReturns: []schema.ToolReturn{{ToolCallID: "tc1", Status: "success", Result: "ok"}}},
	}})
	if err != nil || resp.Applied != 1 {
		t.Fatalf("expected restored binding to accept return: %+v err=%v", resp, err)
	}
}

func TestRestoreWithoutStore(t *testing.T) {
	svc, _ := newTestService(t, schema.ServiceConfig{})
	if _, err := svc.OpenSession(context.Background(), schema.OpenSessionRequest{SessionID: "s1", Restore: true}); !errors.Is(err, schema.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestMaxSessions(t *testing.T) {
	svc, _ := newTestService(t, schema.ServiceConfig{MaxSessions: 1})
	openSession(t, svc, "a")
	if _, err := svc.OpenSession(context.Background(), schema.OpenSessionRequest{SessionID: "b"}); !errors.Is(err, schema.ErrInvalidRequest) {
		t.Fatalf("expected limit error, got %v", err)
	}
}

func TestListSessionsOrdered(t *testing.T) {
	svc, _ := newTestService(t, schema.ServiceConfig{})
	for _, id := range []schema.SessionID{"c", "a", "b"} {
		openSession(t, svc, id)
	}
	list, err := svc.ListSessions(context.Background(), schema.ListSessionsRequest{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list.Sessions) != 3 || list.Sessions[0].ID != "a" || list.Sessions[2].ID != "c" {
		t.Fatalf("unexpected order: %+v", list.Sessions)
	}
}

func TestDirectCorrelatorConfig(t *testing.T) {
	svc, _ := newTestService(t, schema.ServiceConfig{Correlator: schema.CorrelatorDirect})
	ctx := context.Background()
	id := openSession(t, svc, "s1")
	resp, err := svc.Ingest(ctx, schema.IngestRequest{SessionID: id, Events: []schema.Event{
		{Kind: schema.EventReasoning, StreamID: "x", Reasoning: "r"},
		{Kind: schema.EventToolCall, StreamID: "x", ToolCalls: []schema.ToolCallDelta{{ToolCallID: "tc1"}}},
	}})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if resp.Applied != 1 || resp.Dropped != 1 {
		t.Fatalf("direct correlator should not split the stream id: %+v", resp)
	}
}

func TestConcurrentReadersAndWriters(t *testing.T) {
	svc, _ := newTestService(t, schema.ServiceConfig{})
	ctx := context.Background()
	id := openSession(t, svc, "s1")
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				_, err := svc.Ingest(ctx, schema.IngestRequest{SessionID: id, Events: []schema.Event{
					{Kind: schema.EventAssistant, StreamID: string(rune('a' + w)), Content: schema.TextContent("x")},
				}})
				if err != nil {
					t.Errorf("ingest: %v", err)
					return
				}
				if _, err := svc.GetTranscript(ctx, schema.GetTranscriptRequest{SessionID: id}); err != nil {
					t.Errorf("get transcript: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()
	got, err := svc.GetTranscript(ctx, schema.GetTranscriptRequest{SessionID: id})
	if err != nil {
		t.Fatalf("get transcript: %v", err)
	}
	if got.Session.Chars != 200 || len(got.Lines) != 4 {
		t.Fatalf("unexpected final state: lines=%d chars=%d", len(got.Lines), got.Session.Chars)
	}
}
