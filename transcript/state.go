// Package transcript reconciles incremental agent stream events into one ordered,
// render-ready transcript.
//
// A State has a single writer. The Engine mutates it one event at a time; callers that
// drive an Engine from several goroutines must serialize Ingest, MarkRunning and
// CancelIncomplete themselves. Project and the counter accessors may be called from any
// goroutine at any time: every update swaps in a freshly built line value, so a reader
// never observes a half-updated line.
package transcript

import (
	"strconv"
	"sync/atomic"

	"pkt.systems/transcriptx/schema"
)

type lineBox struct {
	line schema.Line
}

type cell struct {
	id  schema.LineID
	val atomic.Pointer[lineBox]
}

func (c *cell) load() schema.Line {
	box := c.val.Load()
	if box == nil {
		return nil
	}
	return box.line
}

// State owns the ordered line sequence and the correlation tables of one session.
type State struct {
	// cells and bindings are only touched by the writer.
	cells    map[schema.LineID]*cell
	bindings map[string]schema.LineID
	derived  map[schema.LineID]schema.LineID
	order    atomic.Pointer[[]*cell]

	lastStream schema.LineID
	localSeq   int

	chars       atomic.Int64
	interrupted atomic.Bool
	commitGen   atomic.Uint64
	abortGen    atomic.Uint64
	usage       atomic.Pointer[schema.Usage]
}

// NewState returns an empty transcript state.
func NewState() *State {
	s := &State{
		cells:    make(map[schema.LineID]*cell),
		bindings: make(map[string]schema.LineID),
		derived:  make(map[schema.LineID]schema.LineID),
	}
	empty := make([]*cell, 0, 16)
	s.order.Store(&empty)
	s.usage.Store(&schema.Usage{})
	return s
}

// EnsureLine returns the line stored for id, creating it with factory when absent.
// New lines are appended to the order; existing ones keep their position.
func (s *State) EnsureLine(id schema.LineID, factory func(schema.LineID) schema.Line) schema.Line {
	if c, ok := s.cells[id]; ok {
		return c.load()
	}
	line := factory(id)
	c := &cell{id: id}
	c.val.Store(&lineBox{line: line})
	s.cells[id] = c
	cur := *s.order.Load()
	next := append(cur, c)
	s.order.Store(&next)
	return line
}

// Replace swaps the stored value for id. It reports false when id is unknown.
// line must be a complete new value.
func (s *State) Replace(id schema.LineID, line schema.Line) bool {
	c, ok := s.cells[id]
	if !ok || line == nil {
		return false
	}
	c.val.Store(&lineBox{line: line})
	return true
}

// Lookup returns the current line for id. Writer side only.
func (s *State) Lookup(id schema.LineID) (schema.Line, bool) {
	c, ok := s.cells[id]
	if !ok {
		return nil, false
	}
	return c.load(), true
}

// Has reports whether id is registered. Writer side only.
func (s *State) Has(id schema.LineID) bool {
	_, ok := s.cells[id]
	return ok
}

// Project returns the current lines in insertion order.
func (s *State) Project() []schema.Line {
	cells := *s.order.Load()
	out := make([]schema.Line, len(cells))
	for i, c := range cells {
		out[i] = c.load()
	}
	return out
}

// IDs returns the line identifiers in insertion order.
func (s *State) IDs() []schema.LineID {
	cells := *s.order.Load()
	out := make([]schema.LineID, len(cells))
	for i, c := range cells {
		out[i] = c.id
	}
	return out
}

// Len returns the number of lines.
func (s *State) Len() int {
	return len(*s.order.Load())
}

// Bound returns the line owning an external tool-call id.
func (s *State) Bound(toolCallID string) (schema.LineID, bool) {
	if toolCallID == "" {
		return "", false
	}
	id, ok := s.bindings[toolCallID]
	return id, ok
}

// Bind associates toolCallID with id. The first binding wins; later calls for the
// same toolCallID are ignored and report false.
func (s *State) Bind(toolCallID string, id schema.LineID) bool {
	if toolCallID == "" {
		return false
	}
	if _, ok := s.bindings[toolCallID]; ok {
		return false
	}
	s.bindings[toolCallID] = id
	return true
}

// LastStreamID returns the identifier of the last active content stream.
func (s *State) LastStreamID() schema.LineID {
	return s.lastStream
}

// Chars returns the number of characters ingested from deltas and arguments.
func (s *State) Chars() int64 {
	return s.chars.Load()
}

// Interrupted reports whether a user interrupt stopped the state.
func (s *State) Interrupted() bool {
	return s.interrupted.Load()
}

// CommitGeneration increments after every applied mutation.
func (s *State) CommitGeneration() uint64 {
	return s.commitGen.Load()
}

// AbortGeneration increments on every user interrupt.
func (s *State) AbortGeneration() uint64 {
	return s.abortGen.Load()
}

// Usage returns the accumulated usage totals.
func (s *State) Usage() schema.Usage {
	return *s.usage.Load()
}

func (s *State) commit() {
	s.commitGen.Add(1)
}

func (s *State) nextLocalID() schema.LineID {
	for {
		s.localSeq++
		id := schema.LineID("local-" + strconv.Itoa(s.localSeq))
		if !s.Has(id) {
			return id
		}
	}
}

// noteDerived records id as the latest line derived from the stream id base.
func (s *State) noteDerived(base, id schema.LineID) {
	s.derived[base] = id
}

// lastDerived returns the latest line derived from the stream id base.
func (s *State) lastDerived(base schema.LineID) (schema.LineID, bool) {
	id, ok := s.derived[base]
	return id, ok
}
