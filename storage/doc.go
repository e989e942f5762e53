// Package storage defines the contract every accounting container
// satisfies: the ArticleFunction operation surface, the Store view and
// mutation surface, and the listener protocol that replicates store
// contents to observers.
//
// Mutating calls run inside a transaction frame of the store's txn.Manager.
// A store that takes part in a frame captures its prior state once and
// restores it on rollback, sending compensating notifications so that every
// listener's replica follows the restored state.
//
// # Listener callbacks
//
// Notifications are delivered synchronously, once per operation, after the
// store has released its own lock. Callbacks must not mutate stores: during
// rollback they run while the closing frame is still on the stack.
//
// # Amounts
//
// Quantities are exact types.Fraction values. Discrete articles only ever
// move in whole units. ApplyFraction moves amounts in multiples of
// 1/divisor, so applying Whole(n) with divisor 1 behaves exactly like
// Apply(n).
package storage
