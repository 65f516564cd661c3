package schema

import (
	"fmt"
	"strings"
)

// CorrelatorMode selects how stream ids map to transcript lines.
type CorrelatorMode string

const (
	// CorrelatorStreamID tolerates backends that reuse stream ids across lines.
	CorrelatorStreamID CorrelatorMode = "stream_id"
	// CorrelatorDirect trusts stream ids as line ids.
	CorrelatorDirect CorrelatorMode = "direct"
)

// ServiceConfig defines defaults and limits for the core service.
type ServiceConfig struct {
	// StateDir holds session snapshots. Empty disables persistence.
	StateDir string
	// Persist saves a snapshot when a session closes.
	Persist    bool
	Correlator CorrelatorMode
	// MaxSessions bounds the number of open sessions; zero means unlimited.
	MaxSessions int
}

// NormalizeServiceConfig applies defaults and validates the config.
func NormalizeServiceConfig(cfg ServiceConfig) (ServiceConfig, error) {
	cfg.StateDir = strings.TrimSpace(cfg.StateDir)
	mode := CorrelatorMode(strings.ToLower(strings.TrimSpace(string(cfg.Correlator))))
	switch mode {
	case "":
		cfg.Correlator = CorrelatorStreamID
	case CorrelatorStreamID, CorrelatorDirect:
		cfg.Correlator = mode
	default:
		return ServiceConfig{}, fmt.Errorf("correlator %q: %w", cfg.Correlator, ErrInvalidRequest)
	}
	if cfg.MaxSessions < 0 {
		return ServiceConfig{}, fmt.Errorf("max sessions %d: %w", cfg.MaxSessions, ErrInvalidRequest)
	}
	if cfg.Persist && cfg.StateDir == "" {
		return ServiceConfig{}, fmt.Errorf("persist without state dir: %w", ErrStoreUnavailable)
	}
	return cfg, nil
}
