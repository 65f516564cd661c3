package core

import "pkt.systems/transcriptx/schema"

// EventSink receives transcript refresh notifications from the core service.
// OnRefresh is called with the session lock held and must not block.
type EventSink interface {
	OnRefresh(event schema.RefreshEvent)
}
