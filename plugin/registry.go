package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"

	"github.com/xraph/stockpile/id"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger
	timeout time.Duration

	// Type-cached plugin lists for efficient dispatch
	onInit                  []OnInit
	onShutdown              []OnShutdown
	onTransactionCommitted  []OnTransactionCommitted
	onTransactionRolledBack []OnTransactionRolledBack
	onStoreRegistered       []OnStoreRegistered
	onStoreDisconnected     []OnStoreDisconnected
	onStateSaved            []OnStateSaved
	onStateRestored         []OnStateRestored
	onSaveFailed            []OnSaveFailed
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:  slog.Default(),
		timeout: 5 * time.Second,
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// WithTimeout sets how long a single hook may run before it is abandoned.
func (r *Registry) WithTimeout(d time.Duration) *Registry {
	if d > 0 {
		r.timeout = d
	}
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnTransactionCommitted); ok {
		r.onTransactionCommitted = append(r.onTransactionCommitted, v)
	}
	if v, ok := p.(OnTransactionRolledBack); ok {
		r.onTransactionRolledBack = append(r.onTransactionRolledBack, v)
	}
	if v, ok := p.(OnStoreRegistered); ok {
		r.onStoreRegistered = append(r.onStoreRegistered, v)
	}
	if v, ok := p.(OnStoreDisconnected); ok {
		r.onStoreDisconnected = append(r.onStoreDisconnected, v)
	}
	if v, ok := p.(OnStateSaved); ok {
		r.onStateSaved = append(r.onStateSaved, v)
	}
	if v, ok := p.(OnStateRestored); ok {
		r.onStateRestored = append(r.onStateRestored, v)
	}
	if v, ok := p.(OnSaveFailed); ok {
		r.onSaveFailed = append(r.onSaveFailed, v)
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", implementedInterfaces(p),
	)

	return nil
}

// implementedInterfaces returns the hook interfaces implemented by the plugin.
func implementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnTransactionCommitted)(nil)).Elem(), "OnTransactionCommitted")
	checkInterface(reflect.TypeOf((*OnTransactionRolledBack)(nil)).Elem(), "OnTransactionRolledBack")
	checkInterface(reflect.TypeOf((*OnStoreRegistered)(nil)).Elem(), "OnStoreRegistered")
	checkInterface(reflect.TypeOf((*OnStoreDisconnected)(nil)).Elem(), "OnStoreDisconnected")
	checkInterface(reflect.TypeOf((*OnStateSaved)(nil)).Elem(), "OnStateSaved")
	checkInterface(reflect.TypeOf((*OnStateRestored)(nil)).Elem(), "OnStateRestored")
	checkInterface(reflect.TypeOf((*OnSaveFailed)(nil)).Elem(), "OnSaveFailed")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// emit runs call for every plugin in list, logging failures.
func emit[P Plugin](ctx context.Context, r *Registry, list []P, hook string, call func(P) error) {
	for _, p := range list {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return call(p)
		}); err != nil {
			r.logger.Warn("plugin "+hook+" failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	emit(ctx, r, plugins, "OnInit", func(p OnInit) error {
		return p.OnInit(ctx, engine)
	})
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	emit(ctx, r, plugins, "OnShutdown", func(p OnShutdown) error {
		return p.OnShutdown(ctx)
	})
}

// EmitTransactionCommitted emits a transaction committed event.
func (r *Registry) EmitTransactionCommitted(ctx context.Context, txID id.TransactionID, participants int, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onTransactionCommitted
	r.mu.RUnlock()

	emit(ctx, r, plugins, "OnTransactionCommitted", func(p OnTransactionCommitted) error {
		return p.OnTransactionCommitted(ctx, txID, participants, elapsed)
	})
}

// EmitTransactionRolledBack emits a transaction rolled back event.
func (r *Registry) EmitTransactionRolledBack(ctx context.Context, txID id.TransactionID, participants int, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onTransactionRolledBack
	r.mu.RUnlock()

	emit(ctx, r, plugins, "OnTransactionRolledBack", func(p OnTransactionRolledBack) error {
		return p.OnTransactionRolledBack(ctx, txID, participants, elapsed)
	})
}

// EmitStoreRegistered emits a store registered event.
func (r *Registry) EmitStoreRegistered(ctx context.Context, storeID id.StoreID, kind string) {
	r.mu.RLock()
	plugins := r.onStoreRegistered
	r.mu.RUnlock()

	emit(ctx, r, plugins, "OnStoreRegistered", func(p OnStoreRegistered) error {
		return p.OnStoreRegistered(ctx, storeID, kind)
	})
}

// EmitStoreDisconnected emits a store disconnected event.
func (r *Registry) EmitStoreDisconnected(ctx context.Context, storeID id.StoreID) {
	r.mu.RLock()
	plugins := r.onStoreDisconnected
	r.mu.RUnlock()

	emit(ctx, r, plugins, "OnStoreDisconnected", func(p OnStoreDisconnected) error {
		return p.OnStoreDisconnected(ctx, storeID)
	})
}

// EmitStateSaved emits a state saved event.
func (r *Registry) EmitStateSaved(ctx context.Context, count int, elapsed time.Duration) {
	r.mu.RLock()
	plugins := r.onStateSaved
	r.mu.RUnlock()

	emit(ctx, r, plugins, "OnStateSaved", func(p OnStateSaved) error {
		return p.OnStateSaved(ctx, count, elapsed)
	})
}

// EmitStateRestored emits a state restored event.
func (r *Registry) EmitStateRestored(ctx context.Context, storeID id.StoreID, version int64) {
	r.mu.RLock()
	plugins := r.onStateRestored
	r.mu.RUnlock()

	emit(ctx, r, plugins, "OnStateRestored", func(p OnStateRestored) error {
		return p.OnStateRestored(ctx, storeID, version)
	})
}

// EmitSaveFailed emits a save failed event.
func (r *Registry) EmitSaveFailed(ctx context.Context, storeID id.StoreID, saveErr error) {
	r.mu.RLock()
	plugins := r.onSaveFailed
	r.mu.RUnlock()

	emit(ctx, r, plugins, "OnSaveFailed", func(p OnSaveFailed) error {
		return p.OnSaveFailed(ctx, storeID, saveErr)
	})
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the transaction pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return err
	case <-timer.C:
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
