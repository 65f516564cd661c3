package transcriptx

import (
	"pkt.systems/transcriptx/core"
	"pkt.systems/transcriptx/schema"
)

type eventFanout struct {
	sinks []core.EventSink
}

func (f eventFanout) OnRefresh(event schema.RefreshEvent) {
	for _, sink := range f.sinks {
		if sink == nil {
			continue
		}
		sink.OnRefresh(event)
	}
}
