package eventbus

import (
	"context"
	"sync"

	"pkt.systems/pslog"
	"pkt.systems/transcriptx/schema"
)

// DefaultDepth is the subscriber channel capacity used when none is configured.
const DefaultDepth = 256

// DropCounter is notified of refresh events that could not be delivered.
type DropCounter interface {
	RefreshDropped(count int)
}

// Bus fans out refresh events to per-session subscribers.
type Bus struct {
	mu      sync.Mutex
	subs    map[schema.SessionID]map[chan schema.RefreshEvent]struct{}
	log     pslog.Logger
	depth   int
	dropped DropCounter
}

// Option configures a Bus.
type Option func(*Bus)

// WithDepth sets the per-subscriber channel capacity.
func WithDepth(depth int) Option {
	return func(b *Bus) {
		if depth > 0 {
			b.depth = depth
		}
	}
}

// WithDropCounter reports undelivered events to counter.
func WithDropCounter(counter DropCounter) Option {
	return func(b *Bus) {
		b.dropped = counter
	}
}

// New constructs a Bus.
func New(logger pslog.Logger, opts ...Option) *Bus {
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	b := &Bus{
		subs:  make(map[schema.SessionID]map[chan schema.RefreshEvent]struct{}),
		log:   logger,
		depth: DefaultDepth,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a subscriber for the session and returns a channel + cancel.
func (b *Bus) Subscribe(sessionID schema.SessionID) (<-chan schema.RefreshEvent, func()) {
	if b == nil {
		return nil, func() {}
	}
	ch := make(chan schema.RefreshEvent, b.depth)
	b.mu.Lock()
	sessionSubs := b.subs[sessionID]
	if sessionSubs == nil {
		sessionSubs = make(map[chan schema.RefreshEvent]struct{})
		b.subs[sessionID] = sessionSubs
	}
	sessionSubs[ch] = struct{}{}
	count := len(sessionSubs)
	b.mu.Unlock()
	b.log.With("session", sessionID).Debug("eventbus subscribe", "subs", count)
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			if subs := b.subs[sessionID]; subs != nil {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(b.subs, sessionID)
				}
			}
			b.mu.Unlock()
			close(ch)
			b.log.With("session", sessionID).Debug("eventbus unsubscribe")
		})
	}
}

// Subscribers returns the number of subscribers of a session.
func (b *Bus) Subscribers(sessionID schema.SessionID) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[sessionID])
}

// OnRefresh publishes a refresh event to the session's subscribers.
func (b *Bus) OnRefresh(event schema.RefreshEvent) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sessionSubs := b.subs[event.SessionID]
	if len(sessionSubs) == 0 {
		return
	}
	dropped := 0
	for sub := range sessionSubs {
		select {
		case sub <- event:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		b.log.With("session", event.SessionID).Trace("eventbus dropped", "count", dropped, "commit_gen", event.CommitGeneration)
		if b.dropped != nil {
			b.dropped.RefreshDropped(dropped)
		}
	}
}
