package transcript

import (
	"strconv"
	"time"

	"pkt.systems/transcriptx/schema"
)

// toolSuffix is appended to a stream id already holding reasoning or assistant text.
const toolSuffix = "-tool"

// toolCallFragmentLen is the number of trailing external id characters used to
// derive an identifier for parallel tool calls sharing one stream id.
const toolCallFragmentLen = 8

// ToolRef identifies the tool call an event fragment belongs to.
type ToolRef struct {
	StreamID   string
	ToolCallID string
	// Parallel is set when the same event carries several distinct tool calls.
	Parallel bool
}

// Correlator maps stream ids and external tool-call ids to durable line ids.
// Implementations may finish lines they displace but must not create lines.
type Correlator interface {
	ResolveText(st *State, streamID string, kind schema.LineKind) schema.LineID
	ResolveTool(st *State, ref ToolRef) schema.LineID
}

// DirectCorrelator trusts stream ids. It is correct for a backend that never reuses a
// stream id across unrelated content.
type DirectCorrelator struct{}

// ResolveText returns the stream id unmodified.
func (DirectCorrelator) ResolveText(_ *State, streamID string, _ schema.LineKind) schema.LineID {
	return schema.LineID(streamID)
}

// ResolveTool routes bound external ids to their line and otherwise uses the stream id.
func (DirectCorrelator) ResolveTool(st *State, ref ToolRef) schema.LineID {
	if id, ok := st.Bound(ref.ToolCallID); ok {
		return id
	}
	return schema.LineID(ref.StreamID)
}

// StreamIDCorrelator works around a backend that reuses stream ids: a reasoning block
// and the following tool call may share one, and parallel tool calls may share one.
type StreamIDCorrelator struct {
	now func() time.Time
}

// NewStreamIDCorrelator returns the collision-aware correlator. now feeds the
// fallback identifier for colliding tool calls without an external id.
func NewStreamIDCorrelator(now func() time.Time) *StreamIDCorrelator {
	if now == nil {
		now = time.Now
	}
	return &StreamIDCorrelator{now: now}
}

// ResolveText keeps text of one kind on its stream id. A stream id already holding a
// line of another kind gets a kind-suffixed identifier.
func (c *StreamIDCorrelator) ResolveText(st *State, streamID string, kind schema.LineKind) schema.LineID {
	id := schema.LineID(streamID)
	for {
		line, ok := st.Lookup(id)
		if !ok || line.Kind() == kind {
			return id
		}
		id = id + schema.LineID("-"+string(kind))
	}
}

// ResolveTool applies, in order: an existing binding; a reasoning collision; a tool
// call collision; the plain stream id.
func (c *StreamIDCorrelator) ResolveTool(st *State, ref ToolRef) schema.LineID {
	if id, ok := st.Bound(ref.ToolCallID); ok {
		return id
	}
	id := schema.LineID(ref.StreamID)
	line, occupied := st.Lookup(id)
	if ref.Parallel && ref.ToolCallID != "" {
		return c.derive(st, id, ref.ToolCallID)
	}
	if !occupied {
		// Parallel calls left the stream id itself unoccupied; a fragment without an
		// external id continues the call derived last from it.
		if ref.ToolCallID == "" {
			if last, ok := st.lastDerived(id); ok {
				if tool, isTool := lookupTool(st, last); isTool && tool.Phase != schema.PhaseFinished {
					return last
				}
			}
		}
		return id
	}
	switch l := line.(type) {
	case schema.ReasoningLine, schema.AssistantLine:
		finishText(st, id, l)
		derived := id + toolSuffix
		if existing, ok := st.Lookup(derived); ok {
			if tool, isTool := existing.(schema.ToolCallLine); isTool && !collides(tool, ref.ToolCallID) {
				return derived
			}
			return c.derive(st, derived, ref.ToolCallID)
		}
		return derived
	case schema.ToolCallLine:
		if !collides(l, ref.ToolCallID) {
			return id
		}
		return c.derive(st, id, ref.ToolCallID)
	default:
		return c.derive(st, id, ref.ToolCallID)
	}
}

// collides reports whether a fragment for toolCallID belongs to a different
// invocation than line. A fragment without an id continues an unfinished line.
func collides(line schema.ToolCallLine, toolCallID string) bool {
	if toolCallID == "" {
		return line.Phase == schema.PhaseFinished
	}
	if line.ToolCallID == "" {
		return line.Phase == schema.PhaseFinished
	}
	return line.ToolCallID != toolCallID
}

func (c *StreamIDCorrelator) derive(st *State, base schema.LineID, toolCallID string) schema.LineID {
	var first schema.LineID
	if toolCallID != "" {
		first = base + schema.LineID("-"+tailFragment(toolCallID))
	} else {
		// Not reproducible across replays.
		first = base + schema.LineID("-"+strconv.FormatInt(c.now().UnixNano(), 10))
	}
	id := first
	for n := 2; st.Has(id); n++ {
		id = first + schema.LineID("-"+strconv.Itoa(n))
	}
	st.noteDerived(base, id)
	return id
}

func lookupTool(st *State, id schema.LineID) (schema.ToolCallLine, bool) {
	line, ok := st.Lookup(id)
	if !ok {
		return schema.ToolCallLine{}, false
	}
	tool, ok := line.(schema.ToolCallLine)
	return tool, ok
}

func tailFragment(id string) string {
	if len(id) <= toolCallFragmentLen {
		return id
	}
	return id[len(id)-toolCallFragmentLen:]
}
