package transcript

import (
	"time"

	"pkt.systems/transcriptx/schema"
)

// Engine applies stream events and collaborator signals to a State.
type Engine struct {
	st         *State
	correlator Correlator
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithCorrelator replaces the default stream id correlator.
func WithCorrelator(c Correlator) Option {
	return func(e *Engine) {
		if c != nil {
			e.correlator = c
		}
	}
}

// WithClock sets the time source used for output windows and fallback identifiers.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithAbortGeneration seeds the abort generation, so a state replacing an older one
// keeps invalidating signals issued against it.
func WithAbortGeneration(gen uint64) Option {
	return func(e *Engine) {
		e.st.abortGen.Store(gen)
	}
}

// WithCommitGeneration seeds the commit generation. A replacement state must keep
// counting upward or consumers would treat its refreshes as stale.
func WithCommitGeneration(gen uint64) Option {
	return func(e *Engine) {
		e.st.commitGen.Store(gen)
	}
}

// WithCounters seeds the usage totals and the character counter of a restored state.
func WithCounters(usage schema.Usage, chars int64) Option {
	return func(e *Engine) {
		u := usage
		e.st.usage.Store(&u)
		e.st.chars.Store(chars)
	}
}

// New returns an Engine over a fresh State.
func New(opts ...Option) *Engine {
	e := &Engine{
		st:  NewState(),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.correlator == nil {
		e.correlator = NewStreamIDCorrelator(e.now)
	}
	return e
}

// State returns the underlying transcript state.
func (e *Engine) State() *State {
	return e.st
}

// Project returns the ordered transcript. Safe to call from any goroutine.
func (e *Engine) Project() []schema.Line {
	return e.st.Project()
}

// Restore returns an Engine whose state holds lines in order, with tool call bindings
// rebuilt from their external ids. Counters start at zero unless seeded by opts.
func Restore(lines []schema.Line, opts ...Option) *Engine {
	e := New(opts...)
	for _, line := range lines {
		if line == nil {
			continue
		}
		id := line.LineID()
		e.st.EnsureLine(id, func(schema.LineID) schema.Line { return line })
		if tool, ok := line.(schema.ToolCallLine); ok {
			e.st.Bind(tool.ToolCallID, id)
		}
	}
	return e
}
