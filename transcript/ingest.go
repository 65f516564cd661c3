package transcript

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"

	"pkt.systems/transcriptx/schema"
)

// Outcome classifies what Ingest did with an event.
type Outcome string

const (
	// OutcomeApplied means the event changed the transcript or its counters.
	OutcomeApplied Outcome = "applied"
	// OutcomeDropped means the event was discarded without effect.
	OutcomeDropped Outcome = "dropped"
	// OutcomeIgnored means the event kind is not handled.
	OutcomeIgnored Outcome = "ignored"
)

// DropReason explains an OutcomeDropped result.
type DropReason string

const (
	DropInterrupted      DropReason = "interrupted"
	DropMissingStreamID  DropReason = "missing_stream_id"
	DropOrphanToolReturn DropReason = "orphan_tool_return"
)

// Result reports the effect of one Ingest call.
type Result struct {
	Outcome Outcome
	Reason  DropReason
	// Lines lists the line ids the event touched, in application order.
	Lines []schema.LineID
	// Orphans lists external tool-call ids of tool returns with no matching call.
	Orphans []string
}

func applied(ids ...schema.LineID) Result {
	return Result{Outcome: OutcomeApplied, Lines: ids}
}

func dropped(reason DropReason) Result {
	return Result{Outcome: OutcomeDropped, Reason: reason}
}

// Ingest applies exactly one stream event. After an interrupt every event is dropped
// until the state is replaced.
func (e *Engine) Ingest(ev schema.Event) Result {
	if e.st.Interrupted() {
		return dropped(DropInterrupted)
	}
	switch ev.Kind {
	case schema.EventReasoning:
		return e.applyText(ev.StreamID, schema.KindReasoning, ev.Reasoning)
	case schema.EventAssistant:
		return e.applyText(ev.StreamID, schema.KindAssistant, ev.Content.String())
	case schema.EventToolCall:
		return e.applyToolCalls(ev, false)
	case schema.EventApprovalRequest:
		return e.applyToolCalls(ev, true)
	case schema.EventToolReturn:
		return e.applyToolReturns(ev.ToolReturns)
	case schema.EventUsage:
		e.addUsage(ev.Usage)
		e.st.commit()
		return applied()
	default:
		return Result{Outcome: OutcomeIgnored}
	}
}

func (e *Engine) applyText(streamID string, kind schema.LineKind, delta string) Result {
	if streamID == "" {
		return dropped(DropMissingStreamID)
	}
	st := e.st
	id := e.correlator.ResolveText(st, streamID, kind)
	finalizePrevious(st, id)
	st.lastStream = id
	line := st.EnsureLine(id, func(id schema.LineID) schema.Line {
		if kind == schema.KindReasoning {
			return schema.ReasoningLine{ID: id, Phase: schema.PhaseStreaming}
		}
		return schema.AssistantLine{ID: id, Phase: schema.PhaseStreaming}
	})
	switch l := line.(type) {
	case schema.ReasoningLine:
		l.Text += delta
		l.Phase = schema.PhaseStreaming
		st.Replace(id, l)
	case schema.AssistantLine:
		l.Text += delta
		l.Phase = schema.PhaseStreaming
		st.Replace(id, l)
	}
	st.chars.Add(int64(utf8.RuneCountInString(delta)))
	st.commit()
	return applied(id)
}

func (e *Engine) applyToolCalls(ev schema.Event, approval bool) Result {
	st := e.st
	deltas := ev.ToolCalls
	if len(deltas) == 0 {
		deltas = []schema.ToolCallDelta{{}}
	}
	parallel := distinctToolCallIDs(deltas) > 1
	var ids []schema.LineID
	for _, d := range deltas {
		if ev.StreamID == "" {
			if _, ok := st.Bound(d.ToolCallID); !ok {
				continue
			}
		}
		id := e.correlator.ResolveTool(st, ToolRef{
			StreamID:   ev.StreamID,
			ToolCallID: d.ToolCallID,
			Parallel:   parallel,
		})
		finalizePrevious(st, id)
		st.lastStream = id
		line := st.EnsureLine(id, func(id schema.LineID) schema.Line {
			return schema.ToolCallLine{ID: id, Phase: schema.PhaseReady}
		})
		tool, ok := line.(schema.ToolCallLine)
		if !ok {
			continue
		}
		if approval && tool.Phase != schema.PhaseFinished {
			tool.Phase = schema.PhaseReady
		}
		if d.Name != "" {
			tool.Name = d.Name
		}
		if d.Arguments != "" {
			tool.Args += d.Arguments
			st.chars.Add(int64(utf8.RuneCountInString(d.Arguments)))
		}
		if st.Bind(d.ToolCallID, id) && tool.ToolCallID == "" {
			tool.ToolCallID = d.ToolCallID
		}
		st.Replace(id, tool)
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return dropped(DropMissingStreamID)
	}
	st.commit()
	return applied(ids...)
}

func (e *Engine) applyToolReturns(returns []schema.ToolReturn) Result {
	st := e.st
	var ids []schema.LineID
	var orphans []string
	for _, ret := range returns {
		id, ok := st.Bound(ret.ToolCallID)
		if !ok {
			orphans = append(orphans, ret.ToolCallID)
			continue
		}
		line, _ := st.Lookup(id)
		tool, ok := line.(schema.ToolCallLine)
		if !ok {
			continue
		}
		tool.Phase = schema.PhaseFinished
		tool.Result = resultText(ret.Result)
		tool.ResultOK = ret.Status == schema.ToolReturnSuccess
		st.Replace(id, tool)
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		if len(orphans) == 0 {
			return Result{Outcome: OutcomeIgnored}
		}
		res := dropped(DropOrphanToolReturn)
		res.Orphans = orphans
		return res
	}
	st.commit()
	res := applied(ids...)
	res.Orphans = orphans
	return res
}

func distinctToolCallIDs(deltas []schema.ToolCallDelta) int {
	seen := make(map[string]struct{}, len(deltas))
	for _, d := range deltas {
		if d.ToolCallID != "" {
			seen[d.ToolCallID] = struct{}{}
		}
	}
	return len(seen)
}

// resultText renders a tool result payload as text. Values that cannot be
// serialized yield an empty string.
func resultText(v any) string {
	switch r := v.(type) {
	case nil:
		return ""
	case string:
		return r
	case []byte:
		return string(r)
	case json.RawMessage:
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			return s
		}
		var buf bytes.Buffer
		if err := json.Compact(&buf, r); err != nil {
			return ""
		}
		return buf.String()
	default:
		data, err := json.Marshal(r)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
