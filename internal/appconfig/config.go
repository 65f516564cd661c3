package appconfig

import (
	"os"
	"path/filepath"

	"pkt.systems/transcriptx/internal/eventbus"
	"pkt.systems/transcriptx/schema"
)

// Config is the top-level application configuration.
type Config struct {
	ConfigVersion int           `mapstructure:"config_version" yaml:"config_version"`
	StateDir      string        `mapstructure:"state_dir" yaml:"state_dir"`
	Service       ServiceConfig `mapstructure:"service" yaml:"service"`
	HTTP          HTTPConfig    `mapstructure:"http" yaml:"http"`
	Replay        ReplayConfig  `mapstructure:"replay" yaml:"replay"`
}

// CurrentConfigVersion marks the supported config version.
const CurrentConfigVersion = 1

// ServiceConfig controls core service behavior.
type ServiceConfig struct {
	Persist     bool   `mapstructure:"persist" yaml:"persist"`
	Correlator  string `mapstructure:"correlator" yaml:"correlator"`
	BusDepth    int    `mapstructure:"bus_depth" yaml:"bus_depth"`
	MaxSessions int    `mapstructure:"max_sessions" yaml:"max_sessions"`
}

// HTTPConfig configures the HTTP server.
type HTTPConfig struct {
	Addr          string `mapstructure:"addr" yaml:"addr"`
	EnableMetrics bool   `mapstructure:"enable_metrics" yaml:"enable_metrics"`
}

// ReplayConfig controls the replay command.
type ReplayConfig struct {
	Format string `mapstructure:"format" yaml:"format"`
}

// Replay output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() (Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Config{}, err
	}
	return Config{
		ConfigVersion: CurrentConfigVersion,
		StateDir:      filepath.Join(home, ".transcriptx", "state"),
		Service: ServiceConfig{
			Persist:     true,
			Correlator:  string(schema.CorrelatorStreamID),
			BusDepth:    eventbus.DefaultDepth,
			MaxSessions: 0,
		},
		HTTP: HTTPConfig{
			Addr:          "127.0.0.1:27580",
			EnableMetrics: true,
		},
		Replay: ReplayConfig{
			Format: FormatText,
		},
	}, nil
}

// ServiceSettings maps the file config onto the core service config.
func (c Config) ServiceSettings() schema.ServiceConfig {
	return schema.ServiceConfig{
		StateDir:    c.StateDir,
		Persist:     c.Service.Persist,
		Correlator:  schema.CorrelatorMode(c.Service.Correlator),
		MaxSessions: c.Service.MaxSessions,
	}
}

// DefaultConfigPath returns the standard config path.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".transcriptx", "config.yaml"), nil
}
