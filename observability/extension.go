// Package observability provides a metrics extension for Stockpile that
// records transaction and persistence counts via a MetricFactory.
package observability

import (
	"context"
	"time"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/plugin"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                  = (*MetricsExtension)(nil)
	_ plugin.OnInit                  = (*MetricsExtension)(nil)
	_ plugin.OnTransactionCommitted  = (*MetricsExtension)(nil)
	_ plugin.OnTransactionRolledBack = (*MetricsExtension)(nil)
	_ plugin.OnStoreRegistered       = (*MetricsExtension)(nil)
	_ plugin.OnStoreDisconnected     = (*MetricsExtension)(nil)
	_ plugin.OnStateSaved            = (*MetricsExtension)(nil)
	_ plugin.OnStateRestored         = (*MetricsExtension)(nil)
	_ plugin.OnSaveFailed            = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records engine-wide lifecycle metrics.
// Register it as a Stockpile plugin to track transaction and save metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Transaction metrics
	TxCommitted    Counter
	TxRolledBack   Counter
	TxParticipants Histogram
	TxLatency      Histogram

	// Store metrics
	StoreRegistered   Counter
	StoreDisconnected Counter

	// Persistence metrics
	SnapshotsSaved    Counter
	SnapshotsRestored Counter
	SaveBatchSize     Histogram
	SaveLatency       Histogram
	SaveErrors        Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		TxCommitted:    factory.Counter("stockpile.tx.committed"),
		TxRolledBack:   factory.Counter("stockpile.tx.rolled_back"),
		TxParticipants: factory.Histogram("stockpile.tx.participants"),
		TxLatency:      factory.Histogram("stockpile.tx.latency_us"),

		StoreRegistered:   factory.Counter("stockpile.store.registered"),
		StoreDisconnected: factory.Counter("stockpile.store.disconnected"),

		SnapshotsSaved:    factory.Counter("stockpile.state.saved"),
		SnapshotsRestored: factory.Counter("stockpile.state.restored"),
		SaveBatchSize:     factory.Histogram("stockpile.state.batch.size"),
		SaveLatency:       factory.Histogram("stockpile.state.save.latency_ms"),
		SaveErrors:        factory.Counter("stockpile.state.save.errors"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	return nil
}

// ──────────────────────────────────────────────────
// Transaction hooks
// ──────────────────────────────────────────────────

// OnTransactionCommitted implements plugin.OnTransactionCommitted.
func (m *MetricsExtension) OnTransactionCommitted(_ context.Context, _ id.TransactionID, participants int, elapsed time.Duration) error {
	m.TxCommitted.Inc()
	m.TxParticipants.Observe(float64(participants))
	m.TxLatency.Observe(float64(elapsed.Microseconds()))
	return nil
}

// OnTransactionRolledBack implements plugin.OnTransactionRolledBack.
func (m *MetricsExtension) OnTransactionRolledBack(_ context.Context, _ id.TransactionID, participants int, elapsed time.Duration) error {
	m.TxRolledBack.Inc()
	m.TxParticipants.Observe(float64(participants))
	m.TxLatency.Observe(float64(elapsed.Microseconds()))
	return nil
}

// ──────────────────────────────────────────────────
// Store hooks
// ──────────────────────────────────────────────────

// OnStoreRegistered implements plugin.OnStoreRegistered.
func (m *MetricsExtension) OnStoreRegistered(_ context.Context, _ id.StoreID, _ string) error {
	m.StoreRegistered.Inc()
	return nil
}

// OnStoreDisconnected implements plugin.OnStoreDisconnected.
func (m *MetricsExtension) OnStoreDisconnected(_ context.Context, _ id.StoreID) error {
	m.StoreDisconnected.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Persistence hooks
// ──────────────────────────────────────────────────

// OnStateSaved implements plugin.OnStateSaved.
func (m *MetricsExtension) OnStateSaved(_ context.Context, count int, elapsed time.Duration) error {
	m.SnapshotsSaved.Add(float64(count))
	m.SaveBatchSize.Observe(float64(count))
	m.SaveLatency.Observe(float64(elapsed.Milliseconds()))
	return nil
}

// OnStateRestored implements plugin.OnStateRestored.
func (m *MetricsExtension) OnStateRestored(_ context.Context, _ id.StoreID, _ int64) error {
	m.SnapshotsRestored.Inc()
	return nil
}

// OnSaveFailed implements plugin.OnSaveFailed.
func (m *MetricsExtension) OnSaveFailed(_ context.Context, _ id.StoreID, _ error) error {
	m.SaveErrors.Inc()
	return nil
}
