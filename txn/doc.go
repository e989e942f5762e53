// Package txn provides nested transactions with participant enlistment and
// lazy rollback capture.
//
// A Manager owns one transaction stack. The first Open on a context takes
// the mutation lock and pushes the outermost frame; Open on a context that
// carries the top-of-stack frame pushes a nested frame without touching the
// lock. Commit and Rollback always close the top frame only.
//
//	tx, ctx := mgr.Open(ctx)
//	defer tx.Close() // rolls back unless committed
//
//	journal.PrepareIfNeeded(tx)
//	// ... mutate ...
//	tx.Commit()
//
// # Locking
//
// One caller may be designated primary with SetPrimary. Every other caller
// queues on a second, outer lock before competing for the mutation lock, so
// secondary callers serialize among themselves and the primary only ever
// contends with a single secondary. When a secondary caller's outermost
// frame closes it yields the scheduler once.
//
// # Protocol violations
//
// Using a closed frame, closing a frame that is not the top of the stack,
// designating a second primary or enlisting without an open frame are caller
// bugs. They panic with a *ProtocolError and are never retried.
package txn
