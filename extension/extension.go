// Package extension provides the Forge extension adapter for Stockpile.
//
// It implements the forge.Extension interface to integrate Stockpile
// into a Forge application with DI registration and lifecycle management.
//
// Configuration can be provided programmatically via Option functions
// or via YAML configuration files under "extensions.stockpile" or
// "stockpile" keys.
package extension

import (
	"context"
	"errors"

	"github.com/xraph/forge"
	"github.com/xraph/vessel"

	"github.com/xraph/stockpile"
	"github.com/xraph/stockpile/state"
	"github.com/xraph/stockpile/state/memory"
)

// ExtensionName is the name registered with Forge.
const ExtensionName = "stockpile"

// ExtensionDescription is the human-readable description.
const ExtensionDescription = "Transactional resource ledger"

// ExtensionVersion is the semantic version.
const ExtensionVersion = "0.1.0"

// Ensure Extension implements forge.Extension at compile time.
var _ forge.Extension = (*Extension)(nil)

// Extension adapts Stockpile as a Forge extension.
type Extension struct {
	*forge.BaseExtension

	config     Config
	engine     *stockpile.Engine
	repo       state.Repository
	engineOpts []stockpile.Option
}

// New creates a new Stockpile Forge extension with the given options.
func New(opts ...Option) *Extension {
	e := &Extension{
		BaseExtension: forge.NewBaseExtension(ExtensionName, ExtensionVersion, ExtensionDescription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Engine returns the underlying Stockpile engine.
// This is nil until Register is called.
func (e *Extension) Engine() *stockpile.Engine { return e.engine }

// Register implements [forge.Extension]. It loads configuration,
// initializes the engine, and registers it in the DI container.
func (e *Extension) Register(fapp forge.App) error {
	if err := e.BaseExtension.Register(fapp); err != nil {
		return err
	}

	if err := e.loadConfiguration(); err != nil {
		return err
	}

	// Use memory repository if none was provided programmatically.
	if e.repo == nil {
		e.repo = memory.New()
	}

	e.engine = stockpile.New(e.repo, e.buildEngineOpts()...)

	return vessel.Provide(fapp.Container(), func() (*stockpile.Engine, error) {
		return e.engine, nil
	})
}

// Start implements [forge.Extension].
func (e *Extension) Start(ctx context.Context) error {
	if e.engine == nil {
		return errors.New("stockpile: extension not initialized")
	}

	if err := e.engine.Start(ctx); err != nil {
		return err
	}

	e.MarkStarted()
	return nil
}

// Stop implements [forge.Extension].
func (e *Extension) Stop(_ context.Context) error {
	if e.engine != nil {
		if err := e.engine.Stop(); err != nil && !errors.Is(err, stockpile.ErrEngineStopped) {
			e.MarkStopped()
			return err
		}
	}
	e.MarkStopped()
	return nil
}

// Health implements [forge.Extension].
func (e *Extension) Health(ctx context.Context) error {
	if e.repo == nil {
		return errors.New("stockpile: repository not initialized")
	}
	return e.repo.Ping(ctx)
}

// buildEngineOpts constructs stockpile.Option values from the resolved config.
func (e *Extension) buildEngineOpts() []stockpile.Option {
	opts := make([]stockpile.Option, 0, len(e.engineOpts)+4)

	opts = append(opts,
		stockpile.WithSaveConfig(e.config.SaveBatchSize, e.config.SaveFlushInterval),
		stockpile.WithSaveBufferSize(e.config.SaveBufferSize),
		stockpile.WithPluginTimeout(e.config.PluginTimeout),
	)
	if e.config.DisableMigrate {
		opts = append(opts, stockpile.WithoutMigrate())
	}

	// Append any pass-through engine options.
	opts = append(opts, e.engineOpts...)

	return opts
}

// --- Config Loading ---

// loadConfiguration loads config from YAML files or programmatic sources.
func (e *Extension) loadConfiguration() error {
	programmaticConfig := e.config

	// Try loading from config file.
	fileConfig, configLoaded := e.tryLoadFromConfigFile()

	if !configLoaded {
		if programmaticConfig.RequireConfig {
			return errors.New("stockpile: configuration is required but not found in config files; " +
				"ensure 'extensions.stockpile' or 'stockpile' key exists in your config")
		}

		// Use programmatic config merged with defaults.
		e.config = mergeWithDefaults(programmaticConfig)
	} else {
		// Config loaded from YAML -- merge with programmatic options.
		e.config = mergeConfigurations(fileConfig, programmaticConfig)
	}

	if err := e.config.Validate(); err != nil {
		return err
	}

	e.Logger().Debug("stockpile: configuration loaded",
		forge.F("disable_migrate", e.config.DisableMigrate),
		forge.F("save_batch_size", e.config.SaveBatchSize),
		forge.F("save_flush_interval", e.config.SaveFlushInterval),
		forge.F("save_buffer_size", e.config.SaveBufferSize),
		forge.F("plugin_timeout", e.config.PluginTimeout),
	)

	return nil
}

// configKeys are tried in order; the namespaced key wins.
var configKeys = []string{"extensions.stockpile", "stockpile"}

// tryLoadFromConfigFile binds the first config key present in the app config.
func (e *Extension) tryLoadFromConfigFile() (Config, bool) {
	cm := e.App().Config()

	for _, key := range configKeys {
		if !cm.IsSet(key) {
			continue
		}
		var cfg Config
		if err := cm.Bind(key, &cfg); err != nil {
			e.Logger().Warn("stockpile: failed to bind config",
				forge.F("key", key),
				forge.F("error", err.Error()),
			)
			continue
		}
		e.Logger().Debug("stockpile: loaded config from file", forge.F("key", key))
		return cfg, true
	}

	return Config{}, false
}

// mergeWithDefaults fills zero-valued fields with defaults.
func mergeWithDefaults(cfg Config) Config {
	defaults := DefaultConfig()
	if cfg.SaveBatchSize == 0 {
		cfg.SaveBatchSize = defaults.SaveBatchSize
	}
	if cfg.SaveFlushInterval == 0 {
		cfg.SaveFlushInterval = defaults.SaveFlushInterval
	}
	if cfg.SaveBufferSize == 0 {
		cfg.SaveBufferSize = defaults.SaveBufferSize
	}
	if cfg.PluginTimeout == 0 {
		cfg.PluginTimeout = defaults.PluginTimeout
	}
	return cfg
}

// mergeConfigurations merges YAML config with programmatic options.
// YAML config takes precedence for most fields; programmatic bool flags fill gaps.
func mergeConfigurations(yamlConfig, programmaticConfig Config) Config {
	// Programmatic bool flags override when true.
	if programmaticConfig.DisableMigrate {
		yamlConfig.DisableMigrate = true
	}

	// Duration/int fields: YAML takes precedence, programmatic fills gaps.
	if yamlConfig.SaveBatchSize == 0 && programmaticConfig.SaveBatchSize != 0 {
		yamlConfig.SaveBatchSize = programmaticConfig.SaveBatchSize
	}
	if yamlConfig.SaveFlushInterval == 0 && programmaticConfig.SaveFlushInterval != 0 {
		yamlConfig.SaveFlushInterval = programmaticConfig.SaveFlushInterval
	}
	if yamlConfig.SaveBufferSize == 0 && programmaticConfig.SaveBufferSize != 0 {
		yamlConfig.SaveBufferSize = programmaticConfig.SaveBufferSize
	}
	if yamlConfig.PluginTimeout == 0 && programmaticConfig.PluginTimeout != 0 {
		yamlConfig.PluginTimeout = programmaticConfig.PluginTimeout
	}

	// Fill remaining zeros with defaults.
	return mergeWithDefaults(yamlConfig)
}
