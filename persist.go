package stockpile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/stockpile/state"
	"github.com/xraph/stockpile/storage"
	"github.com/xraph/stockpile/storage/aggregate"
)

// ──────────────────────────────────────────────────
// Autosave tracking
// ──────────────────────────────────────────────────

// Track enables autosave for a registered store: every notification it
// emits marks it dirty and the save worker persists it in the next batch.
func (e *Engine) Track(_ context.Context, s storage.Store) error {
	if s.Kind() == aggregate.Kind {
		return fmt.Errorf("%w: aggregates are not persistable", ErrUnsupported)
	}
	if e.repo == nil {
		return ErrNoRepository
	}
	en, err := e.lookup(s.ID())
	if err != nil {
		return err
	}
	en.tracked.Store(true)
	return nil
}

// Untrack disables autosave for a store. Pending changes are not saved.
func (e *Engine) Untrack(_ context.Context, s storage.Store) error {
	en, err := e.lookup(s.ID())
	if err != nil {
		return err
	}
	en.tracked.Store(false)
	en.dirty.Store(false)
	return nil
}

// IsTracked reports whether autosave is enabled for the store.
func (e *Engine) IsTracked(s storage.Store) bool {
	en, err := e.lookup(s.ID())
	return err == nil && en.tracked.Load()
}

// Enqueue requests an asynchronous save of a tracked store (non-blocking).
func (e *Engine) Enqueue(_ context.Context, s storage.Store) error {
	if e.stopped.Load() {
		return ErrEngineStopped
	}
	en, err := e.lookup(s.ID())
	if err != nil {
		return err
	}
	if !en.tracked.Load() {
		return fmt.Errorf("%w: %s is not tracked", ErrInvalidInput, s.ID())
	}
	en.dirty.Store(true)
	select {
	case e.saveBuffer <- en:
		return nil
	default:
		return ErrSaveBufferFull
	}
}

// markDirty queues the first change since the last save. A full buffer
// leaves the entry dirty for the next sweep.
func (e *Engine) markDirty(en *entry) {
	if !en.tracked.Load() || !en.dirty.CompareAndSwap(false, true) {
		return
	}
	select {
	case e.saveBuffer <- en:
	default:
	}
}

// saveWorker flushes dirty stores to the repository.
func (e *Engine) saveWorker(ctx context.Context) {
	defer e.wg.Done()

	pending := make(map[*entry]struct{}, e.saveBatchSize)
	ticker := time.NewTicker(e.saveFlushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := make([]*entry, 0, len(pending))
		for en := range pending {
			batch = append(batch, en)
		}
		clear(pending)
		e.flushBatch(ctx, batch)
	}

	for {
		select {
		case <-e.stopChan:
			// Final flush
			e.sweepDirty(pending)
			flush()
			return

		case en := <-e.saveBuffer:
			pending[en] = struct{}{}
			if len(pending) >= e.saveBatchSize {
				flush()
			}

		case <-ticker.C:
			e.sweepDirty(pending)
			flush()
		}
	}
}

// sweepDirty adds every dirty tracked store to pending.
func (e *Engine) sweepDirty(pending map[*entry]struct{}) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, en := range e.entries {
		if en.tracked.Load() && en.dirty.Load() {
			pending[en] = struct{}{}
		}
	}
}

func (e *Engine) flushBatch(ctx context.Context, batch []*entry) {
	live := batch[:0]
	for _, en := range batch {
		if en.tracked.Load() && en.dirty.Load() {
			live = append(live, en)
		}
	}
	if len(live) == 0 {
		return
	}

	if _, err := e.saveEntries(ctx, live); err != nil {
		e.logger.Error("failed to flush save batch",
			"error", err,
			"batch_size", len(live),
		)
	}
}

// ──────────────────────────────────────────────────
// Explicit persistence
// ──────────────────────────────────────────────────

// Save writes the current state of the given registered stores. It must not
// be called inside an open transaction, since the snapshot has to be taken
// at a transaction boundary.
func (e *Engine) Save(ctx context.Context, stores ...storage.Store) error {
	if err := e.checkPersist(ctx); err != nil {
		return err
	}

	entries := make([]*entry, 0, len(stores))
	for _, s := range stores {
		en, err := e.lookup(s.ID())
		if err != nil {
			return err
		}
		entries = append(entries, en)
	}
	_, err := e.saveEntries(ctx, entries)
	return err
}

// SaveAll writes every registered store that supports persistence and
// returns how many snapshots were written.
func (e *Engine) SaveAll(ctx context.Context) (int, error) {
	if err := e.checkPersist(ctx); err != nil {
		return 0, err
	}

	e.mu.RLock()
	entries := make([]*entry, 0, len(e.entries))
	for _, en := range e.entries {
		if en.store.Kind() != aggregate.Kind {
			entries = append(entries, en)
		}
	}
	e.mu.RUnlock()

	return e.saveEntries(ctx, entries)
}

func (e *Engine) checkPersist(ctx context.Context) error {
	if e.stopped.Load() {
		return ErrEngineStopped
	}
	if e.repo == nil {
		return ErrNoRepository
	}
	if e.inTransaction(ctx) {
		return ErrInTransaction
	}
	return nil
}

// saveEntries snapshots entries under one transaction and writes them in a
// single batch.
func (e *Engine) saveEntries(ctx context.Context, entries []*entry) (int, error) {
	if len(entries) == 0 {
		return 0, nil
	}

	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	start := time.Now()
	var errs MultiError
	snaps := make([]*state.Snapshot, 0, len(entries))
	saved := make([]*entry, 0, len(entries))
	var failed []*entry

	tx, _ := e.mgr.Open(ctx)
	for _, en := range entries {
		en.dirty.Store(false)
		blob, err := en.store.WriteState()
		if err != nil {
			errs.Add(fmt.Errorf("stockpile: write state of %s: %w", en.store.ID(), err))
			failed = append(failed, en)
			continue
		}
		snaps = append(snaps, state.New(en.store.ID(), en.store.Kind(), en.version.Load()+1, blob))
		saved = append(saved, en)
	}
	tx.Commit()

	for i, en := range failed {
		e.plugins.EmitSaveFailed(ctx, en.store.ID(), errs.Errors[i])
	}
	if len(snaps) == 0 {
		return 0, errs.ErrOrNil()
	}

	if err := e.repo.SaveBatch(ctx, snaps); err != nil {
		for _, en := range saved {
			if en.tracked.Load() {
				en.dirty.Store(true)
			}
			e.plugins.EmitSaveFailed(ctx, en.store.ID(), err)
		}
		errs.Add(fmt.Errorf("stockpile: save batch: %w", err))
		return 0, errs
	}

	for i, en := range saved {
		en.version.Store(snaps[i].Version)
	}

	elapsed := time.Since(start)
	e.plugins.EmitStateSaved(ctx, len(snaps), elapsed)

	e.logger.Debug("saved store state",
		"count", len(snaps),
		"elapsed_ms", elapsed.Milliseconds(),
	)

	return len(snaps), errs.ErrOrNil()
}

// Restore loads the latest snapshot of s and replaces its contents. It runs
// as a transaction, so listeners observe the change and an enclosing
// rollback undoes it.
func (e *Engine) Restore(ctx context.Context, s storage.Store) error {
	if e.stopped.Load() {
		return ErrEngineStopped
	}
	if e.repo == nil {
		return ErrNoRepository
	}

	snap, err := e.repo.GetSnapshot(ctx, s.ID())
	if err != nil {
		return err
	}
	if snap.Kind != s.Kind() {
		return fmt.Errorf("%w: snapshot %s is %q, store is %q", ErrKindMismatch, snap.ID, snap.Kind, s.Kind())
	}
	if err := s.ReadState(ctx, snap.Blob); err != nil {
		return fmt.Errorf("stockpile: restore %s: %w", s.ID(), err)
	}

	if en, err := e.lookup(s.ID()); err == nil {
		en.version.Store(snap.Version)
		en.dirty.Store(false)
	}

	e.plugins.EmitStateRestored(ctx, s.ID(), snap.Version)
	return nil
}

// RestoreAll restores every registered store that has a snapshot. Stores
// without one are left untouched.
func (e *Engine) RestoreAll(ctx context.Context) (int, error) {
	var errs MultiError
	restored := 0
	for _, s := range e.Stores() {
		if s.Kind() == aggregate.Kind {
			continue
		}
		err := e.Restore(ctx, s)
		switch {
		case err == nil:
			restored++
		case errors.Is(err, ErrNotFound):
		default:
			errs.Add(err)
		}
	}
	return restored, errs.ErrOrNil()
}

// Snapshots lists persisted snapshots.
func (e *Engine) Snapshots(ctx context.Context, opts state.ListOpts) ([]*state.Snapshot, error) {
	if e.repo == nil {
		return nil, ErrNoRepository
	}
	return e.repo.ListSnapshots(ctx, opts)
}

// Forget deletes the persisted snapshot of s.
func (e *Engine) Forget(ctx context.Context, s storage.Store) error {
	if e.repo == nil {
		return ErrNoRepository
	}
	if err := e.repo.DeleteSnapshot(ctx, s.ID()); err != nil {
		return err
	}
	if en, err := e.lookup(s.ID()); err == nil {
		en.version.Store(0)
	}
	return nil
}
