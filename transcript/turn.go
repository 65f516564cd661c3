package transcript

import "pkt.systems/transcriptx/schema"

// finalizePrevious finishes the text line of the previously active stream when the
// active stream changes. Tool call lines are left alone: execution can span several
// unrelated text segments and only a tool return or a cancel finishes them.
func finalizePrevious(st *State, next schema.LineID) {
	prev := st.lastStream
	if prev == "" || prev == next {
		return
	}
	if line, ok := st.Lookup(prev); ok {
		finishText(st, prev, line)
	}
}

// finishText replaces a streaming reasoning or assistant line with its finished copy.
func finishText(st *State, id schema.LineID, line schema.Line) bool {
	switch l := line.(type) {
	case schema.ReasoningLine:
		if l.Phase != schema.PhaseStreaming {
			return false
		}
		l.Phase = schema.PhaseFinished
		return st.Replace(id, l)
	case schema.AssistantLine:
		if l.Phase != schema.PhaseStreaming {
			return false
		}
		l.Phase = schema.PhaseFinished
		return st.Replace(id, l)
	}
	return false
}
