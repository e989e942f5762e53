// Package plugin provides an extensible plugin system for Stockpile.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"
	"time"

	"github.com/xraph/stockpile/id"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Transaction hooks
// ──────────────────────────────────────────────────

// OnTransactionCommitted is called after an outermost transaction commits
// and its locks have been released.
type OnTransactionCommitted interface {
	Plugin
	OnTransactionCommitted(ctx context.Context, txID id.TransactionID, participants int, elapsed time.Duration) error
}

// OnTransactionRolledBack is called after an outermost transaction rolls
// back and its locks have been released.
type OnTransactionRolledBack interface {
	Plugin
	OnTransactionRolledBack(ctx context.Context, txID id.TransactionID, participants int, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Store hooks
// ──────────────────────────────────────────────────

// OnStoreRegistered is called when the engine creates or adopts a store.
type OnStoreRegistered interface {
	Plugin
	OnStoreRegistered(ctx context.Context, storeID id.StoreID, kind string) error
}

// OnStoreDisconnected is called when a store managed by the engine is
// disconnected.
type OnStoreDisconnected interface {
	Plugin
	OnStoreDisconnected(ctx context.Context, storeID id.StoreID) error
}

// ──────────────────────────────────────────────────
// Persistence hooks
// ──────────────────────────────────────────────────

// OnStateSaved is called after snapshots are written to the repository.
type OnStateSaved interface {
	Plugin
	OnStateSaved(ctx context.Context, count int, elapsed time.Duration) error
}

// OnStateRestored is called after a store is restored from its snapshot.
type OnStateRestored interface {
	Plugin
	OnStateRestored(ctx context.Context, storeID id.StoreID, version int64) error
}

// OnSaveFailed is called when a snapshot could not be written.
type OnSaveFailed interface {
	Plugin
	OnSaveFailed(ctx context.Context, storeID id.StoreID, err error) error
}
