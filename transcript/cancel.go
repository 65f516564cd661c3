package transcript

import "pkt.systems/transcriptx/schema"

// CancelIncomplete forces every unfinished line into a terminal state.
//
// With setFlag the call is a user interrupt: the state stops accepting events and the
// abort generation moves forward so pending refresh signals can detect staleness.
// Without it the call only clears leftovers before a new session takes over.
// It returns the number of lines finished.
func (e *Engine) CancelIncomplete(setFlag bool) int {
	st := e.st
	if setFlag {
		st.interrupted.Store(true)
		st.abortGen.Add(1)
	}
	finished := 0
	for _, id := range st.IDs() {
		line, ok := st.Lookup(id)
		if !ok {
			continue
		}
		switch l := line.(type) {
		case schema.ToolCallLine:
			if l.Phase == schema.PhaseFinished {
				continue
			}
			l.Phase = schema.PhaseFinished
			l.ResultOK = false
			l.Result = schema.CancelledResult
			st.Replace(id, l)
			finished++
		case schema.CommandLine:
			if l.Phase == schema.PhaseFinished {
				continue
			}
			l.Phase = schema.PhaseFinished
			l.OK = false
			st.Replace(id, l)
			finished++
		case schema.BashCommandLine:
			if l.Phase == schema.PhaseFinished {
				continue
			}
			l.Phase = schema.PhaseFinished
			l.OK = false
			st.Replace(id, l)
			finished++
		}
	}
	for _, id := range st.IDs() {
		if line, ok := st.Lookup(id); ok && finishText(st, id, line) {
			finished++
		}
	}
	st.commit()
	return finished
}
