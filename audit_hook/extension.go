// Package audithook bridges Stockpile lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not depend on
// any particular audit system. Callers inject a RecorderFunc adapter at
// wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/plugin"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                  = (*Extension)(nil)
	_ plugin.OnTransactionRolledBack = (*Extension)(nil)
	_ plugin.OnStoreRegistered       = (*Extension)(nil)
	_ plugin.OnStoreDisconnected     = (*Extension)(nil)
	_ plugin.OnStateSaved            = (*Extension)(nil)
	_ plugin.OnStateRestored         = (*Extension)(nil)
	_ plugin.OnSaveFailed            = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Stockpile lifecycle events to an audit trail backend.
// Committed transactions are not audited; they are too frequent to be useful
// in an audit trail and are covered by the metrics extension.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// OnTransactionRolledBack implements plugin.OnTransactionRolledBack.
func (e *Extension) OnTransactionRolledBack(ctx context.Context, txID id.TransactionID, participants int, elapsed time.Duration) error {
	return e.record(ctx, ActionTransactionRolledBack, SeverityWarning, OutcomeFailure,
		ResourceTransaction, txID.String(), CategoryInventory, nil,
		"participants", participants,
		"elapsed_us", elapsed.Microseconds(),
	)
}

// OnStoreRegistered implements plugin.OnStoreRegistered.
func (e *Extension) OnStoreRegistered(ctx context.Context, storeID id.StoreID, kind string) error {
	return e.record(ctx, ActionStoreRegistered, SeverityInfo, OutcomeSuccess,
		ResourceStore, storeID.String(), CategoryInventory, nil,
		"kind", kind,
	)
}

// OnStoreDisconnected implements plugin.OnStoreDisconnected.
func (e *Extension) OnStoreDisconnected(ctx context.Context, storeID id.StoreID) error {
	return e.record(ctx, ActionStoreDisconnected, SeverityWarning, OutcomeSuccess,
		ResourceStore, storeID.String(), CategoryInventory, nil,
	)
}

// OnStateSaved implements plugin.OnStateSaved.
func (e *Extension) OnStateSaved(ctx context.Context, count int, elapsed time.Duration) error {
	return e.record(ctx, ActionStateSaved, SeverityInfo, OutcomeSuccess,
		ResourceSnapshot, "", CategoryPersistence, nil,
		"count", count,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnStateRestored implements plugin.OnStateRestored.
func (e *Extension) OnStateRestored(ctx context.Context, storeID id.StoreID, version int64) error {
	return e.record(ctx, ActionStateRestored, SeverityInfo, OutcomeSuccess,
		ResourceSnapshot, storeID.String(), CategoryPersistence, nil,
		"version", version,
	)
}

// OnSaveFailed implements plugin.OnSaveFailed.
func (e *Extension) OnSaveFailed(ctx context.Context, storeID id.StoreID, err error) error {
	return e.record(ctx, ActionSaveFailed, SeverityError, OutcomeFailure,
		ResourceSnapshot, storeID.String(), CategoryPersistence, err,
	)
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
