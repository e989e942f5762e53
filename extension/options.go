package extension

import (
	"time"

	"github.com/xraph/stockpile"
	"github.com/xraph/stockpile/plugin"
	"github.com/xraph/stockpile/state"
)

// Option configures the Stockpile Forge extension.
type Option func(*Extension)

// WithRepository sets the state repository for the engine.
func WithRepository(r state.Repository) Option {
	return func(e *Extension) {
		e.repo = r
	}
}

// WithEngineOption passes a stockpile.Option through to the underlying engine.
func WithEngineOption(opt stockpile.Option) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, opt)
	}
}

// WithPlugin registers a stockpile plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Extension) {
		e.engineOpts = append(e.engineOpts, stockpile.WithPlugin(p))
	}
}

// WithConfig sets the Forge extension configuration.
func WithConfig(cfg Config) Option {
	return func(e *Extension) { e.config = cfg }
}

// WithDisableMigrate prevents auto-migration on start.
func WithDisableMigrate() Option {
	return func(e *Extension) { e.config.DisableMigrate = true }
}

// WithRequireConfig requires config to be present in YAML files.
// If true and no config is found, Register returns an error.
func WithRequireConfig(require bool) Option {
	return func(e *Extension) { e.config.RequireConfig = require }
}

// WithSaveBatchSize sets the number of dirty stores written per batch.
func WithSaveBatchSize(size int) Option {
	return func(e *Extension) { e.config.SaveBatchSize = size }
}

// WithSaveFlushInterval sets how frequently dirty stores are written.
func WithSaveFlushInterval(d time.Duration) Option {
	return func(e *Extension) { e.config.SaveFlushInterval = d }
}

// WithSaveBufferSize sets the capacity of the pending save queue.
func WithSaveBufferSize(size int) Option {
	return func(e *Extension) { e.config.SaveBufferSize = size }
}

// WithPluginTimeout sets how long a single plugin hook may run.
func WithPluginTimeout(d time.Duration) Option {
	return func(e *Extension) { e.config.PluginTimeout = d }
}
