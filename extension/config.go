package extension

import (
	"time"

	"github.com/xraph/stockpile"
)

// Config holds the Stockpile extension configuration.
// Fields can be set programmatically via Option functions or loaded from
// YAML configuration files (under "extensions.stockpile" or "stockpile" keys).
type Config struct {
	// DisableMigrate prevents auto-migration on start.
	DisableMigrate bool `json:"disable_migrate" mapstructure:"disable_migrate" yaml:"disable_migrate"`

	// SaveBatchSize is the number of dirty stores to collect before writing
	// a snapshot batch (default: 64).
	SaveBatchSize int `json:"save_batch_size" mapstructure:"save_batch_size" yaml:"save_batch_size"`

	// SaveFlushInterval is how frequently dirty stores are written even if
	// the batch size has not been reached (default: 5s).
	SaveFlushInterval time.Duration `json:"save_flush_interval" mapstructure:"save_flush_interval" yaml:"save_flush_interval"`

	// SaveBufferSize bounds the queue of pending save requests (default: 1024).
	SaveBufferSize int `json:"save_buffer_size" mapstructure:"save_buffer_size" yaml:"save_buffer_size"`

	// PluginTimeout bounds how long a single plugin hook may run (default: 5s).
	PluginTimeout time.Duration `json:"plugin_timeout" mapstructure:"plugin_timeout" yaml:"plugin_timeout"`

	// RequireConfig requires config to be present in YAML files.
	// If true and no config is found, Register returns an error.
	RequireConfig bool `json:"-" yaml:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SaveBatchSize:     64,
		SaveFlushInterval: 5 * time.Second,
		SaveBufferSize:    1024,
		PluginTimeout:     5 * time.Second,
	}
}

// Validate rejects settings the engine cannot run with. Zero values are
// valid and mean "use the default".
func (c Config) Validate() error {
	switch {
	case c.SaveBatchSize < 0:
		return stockpile.ValidationError{Field: "save_batch_size", Message: "must not be negative"}
	case c.SaveBufferSize < 0:
		return stockpile.ValidationError{Field: "save_buffer_size", Message: "must not be negative"}
	case c.SaveFlushInterval < 0:
		return stockpile.ValidationError{Field: "save_flush_interval", Message: "must not be negative"}
	case c.PluginTimeout < 0:
		return stockpile.ValidationError{Field: "plugin_timeout", Message: "must not be negative"}
	}
	return nil
}
