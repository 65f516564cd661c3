package transcript

import "pkt.systems/transcriptx/schema"

// MarkRunning flips the tool call lines bound to toolCallIDs to running. The tool
// executor calls it right before dispatching each approved call. Unknown ids and
// finished lines are skipped. It returns the number of lines changed.
func (e *Engine) MarkRunning(toolCallIDs ...string) int {
	st := e.st
	changed := 0
	for _, toolCallID := range toolCallIDs {
		id, ok := st.Bound(toolCallID)
		if !ok {
			continue
		}
		line, _ := st.Lookup(id)
		tool, ok := line.(schema.ToolCallLine)
		if !ok || tool.Phase == schema.PhaseFinished || tool.Phase == schema.PhaseRunning {
			continue
		}
		tool.Phase = schema.PhaseRunning
		st.Replace(id, tool)
		changed++
	}
	if changed > 0 {
		st.commit()
	}
	return changed
}
