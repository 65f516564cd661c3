package core

import (
	"time"

	"pkt.systems/pslog"
	"pkt.systems/transcriptx/internal/metrics"
)

// ServiceDeps captures optional dependencies for the core service.
type ServiceDeps struct {
	EventSink EventSink
	Metrics   *metrics.Recorder
	Logger    pslog.Logger
	// Clock defaults to time.Now.
	Clock func() time.Time
}
