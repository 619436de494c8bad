package tether

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config tunes the runtime behavior of buses, emitters, and dispatchers.
// All fields have working defaults; a zero Config is normalized by Normalize.
type Config struct {
	Bus     BusConfig     `yaml:"bus"`
	Emitter EmitterConfig `yaml:"emitter"`

	// AllowUnscoped permits construction of unscoped (non request-scoped)
	// dispatchers. Unscoped dispatchers cannot guarantee per-user isolation
	// and exist only for migration; leave this off in production.
	AllowUnscoped bool `yaml:"allow_unscoped"`
}

// BusConfig tunes the EventBus.
type BusConfig struct {
	// HistoryEnabled records published events in a bounded FIFO buffer.
	HistoryEnabled bool `yaml:"history_enabled"`

	// HistorySize is the maximum retained history length; oldest dropped
	// first.
	HistorySize int `yaml:"history_size"`

	// HistoryTTL is how long a history entry survives before the cleanup
	// loop trims it.
	HistoryTTL time.Duration `yaml:"history_ttl"`

	// RetryInterval is the pause between retry-loop cycles re-publishing
	// partially delivered events.
	RetryInterval time.Duration `yaml:"retry_interval"`

	// CleanupInterval is the pause between history garbage-collection cycles.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`

	// MaxRetries bounds redelivery attempts per event before it is dropped.
	MaxRetries int `yaml:"max_retries"`
}

// EmitterConfig tunes wire payload sanitization.
type EmitterConfig struct {
	// MaxStringLength truncates longer string values before sending.
	MaxStringLength int `yaml:"max_string_length"`

	// MaxListLength truncates longer list values before sending.
	MaxListLength int `yaml:"max_list_length"`
}

// DefaultConfig returns the standard tuning.
func DefaultConfig() Config {
	return Config{
		Bus: BusConfig{
			HistoryEnabled:  true,
			HistorySize:     1000,
			HistoryTTL:      time.Hour,
			RetryInterval:   5 * time.Second,
			CleanupInterval: time.Minute,
			MaxRetries:      DefaultEventMaxRetries,
		},
		Emitter: EmitterConfig{
			MaxStringLength: 500,
			MaxListLength:   20,
		},
	}
}

// Normalize fills zero fields with defaults.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Bus.HistorySize <= 0 {
		c.Bus.HistorySize = def.Bus.HistorySize
	}
	if c.Bus.HistoryTTL <= 0 {
		c.Bus.HistoryTTL = def.Bus.HistoryTTL
	}
	if c.Bus.RetryInterval <= 0 {
		c.Bus.RetryInterval = def.Bus.RetryInterval
	}
	if c.Bus.CleanupInterval <= 0 {
		c.Bus.CleanupInterval = def.Bus.CleanupInterval
	}
	if c.Bus.MaxRetries <= 0 {
		c.Bus.MaxRetries = def.Bus.MaxRetries
	}
	if c.Emitter.MaxStringLength <= 0 {
		c.Emitter.MaxStringLength = def.Emitter.MaxStringLength
	}
	if c.Emitter.MaxListLength <= 0 {
		c.Emitter.MaxListLength = def.Emitter.MaxListLength
	}
}

// LoadConfig reads a YAML config file and normalizes it.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("tether: reading config %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("tether: parsing config %s: %w", path, err)
	}
	cfg.Normalize()
	return cfg, nil
}
