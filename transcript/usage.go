package transcript

import "pkt.systems/transcriptx/schema"

// addUsage adds counters to the running totals. One agent turn reports usage once per
// internal step, so totals are never overwritten.
func (e *Engine) addUsage(u schema.Usage) {
	next := e.st.Usage().Add(u)
	e.st.usage.Store(&next)
}
