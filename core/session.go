package core

import (
	"sync"
	"sync/atomic"
	"time"

	"pkt.systems/transcriptx/schema"
	"pkt.systems/transcriptx/transcript"
)

// session owns the transcript engine of one conversation. mu serializes writers;
// readers load the engine pointer and project without locking.
type session struct {
	ID        schema.SessionID
	CreatedAt time.Time
	mu        sync.Mutex
	engine    atomic.Pointer[transcript.Engine]
}

func newSession(id schema.SessionID, createdAt time.Time, engine *transcript.Engine) *session {
	s := &session{ID: id, CreatedAt: createdAt}
	s.engine.Store(engine)
	return s
}

// Engine returns the current engine.
func (s *session) Engine() *transcript.Engine {
	return s.engine.Load()
}

// Snapshot returns a transport-friendly view of the session.
func (s *session) Snapshot() schema.SessionSnapshot {
	st := s.Engine().State()
	return schema.SessionSnapshot{
		ID:               s.ID,
		CreatedAt:        s.CreatedAt,
		Lines:            st.Len(),
		Chars:            st.Chars(),
		Usage:            st.Usage(),
		Interrupted:      st.Interrupted(),
		CommitGeneration: st.CommitGeneration(),
		AbortGeneration:  st.AbortGeneration(),
	}
}

func (s *session) refresh() schema.RefreshEvent {
	st := s.Engine().State()
	return schema.RefreshEvent{
		SessionID:        s.ID,
		CommitGeneration: st.CommitGeneration(),
		AbortGeneration:  st.AbortGeneration(),
	}
}
