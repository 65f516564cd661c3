package httpapi

// Config defines HTTP API settings.
type Config struct {
	Addr string
	// EnableMetrics exposes /metrics when a gatherer is configured.
	EnableMetrics bool
}
