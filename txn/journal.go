package txn

import "context"

// Journal implements the lazy rollback pattern for a leaf participant.
// The first mutation inside a frame captures the state from before that
// frame exactly once; rollback restores it and commit discards it, or hands
// it to the enclosing frame when the frame is nested.
type Journal[T any] struct {
	capture func() T
	restore func(ctx context.Context, snapshot T)
}

// NewJournal creates a Journal. capture returns a copy of the current state;
// restore puts a captured state back, emitting whatever compensating
// notifications the owner needs.
func NewJournal[T any](capture func() T, restore func(ctx context.Context, snapshot T)) *Journal[T] {
	return &Journal[T]{capture: capture, restore: restore}
}

// PrepareIfNeeded captures the current state into tx unless it already
// holds a capture for this journal.
func (j *Journal[T]) PrepareIfNeeded(tx *Transaction) {
	tx.Enlist(j)
}

// PrepareRollback implements Participant.
func (j *Journal[T]) PrepareRollback(tx *Transaction) RollbackFunc {
	snapshot := j.capture()
	tx.SetState(j, snapshot)
	return j.closure(tx, snapshot)
}

// Snapshot returns the state captured in tx, if any.
func (j *Journal[T]) Snapshot(tx *Transaction) (T, bool) {
	v, ok := tx.State(j)
	if !ok {
		var zero T
		return zero, false
	}
	return v.(T), true
}

func (j *Journal[T]) closure(tx *Transaction, snapshot T) RollbackFunc {
	return func(ctx context.Context, committed bool) {
		if !committed {
			j.restore(ctx, snapshot)
			return
		}
		parent := tx.Parent()
		if parent == nil {
			return
		}
		// The parent keeps the older capture if it already has one.
		if parent.Register(j, j.closure(parent, snapshot)) {
			parent.SetState(j, snapshot)
		}
	}
}
