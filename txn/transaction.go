package txn

import (
	"context"
	"time"

	"github.com/xraph/stockpile/id"
)

type state uint8

const (
	stateOpen state = iota
	stateClosing
	stateClosed
)

// RollbackFunc receives the outcome of the frame it was registered with.
// ctx carries the closing frame. Opening a transaction from it panics with
// ErrResolving, so closures must not mutate other participants.
type RollbackFunc func(ctx context.Context, committed bool)

// Participant is a transaction-aware object. PrepareRollback is called at
// most once per frame, the first time the participant enlists in it.
//
// Participants are tracked by identity, so implementations must be
// comparable, typically pointers.
type Participant interface {
	PrepareRollback(tx *Transaction) RollbackFunc
}

// Transaction is one frame of a Manager's stack.
type Transaction struct {
	mgr       *Manager
	id        id.TransactionID
	parent    *Transaction
	depth     int
	outer     context.Context
	frame     *frame
	onClose   []func(committed bool)
	opened    time.Time
	state     state
	committed bool
	primary   bool
}

// ID returns the frame's identifier.
func (t *Transaction) ID() id.TransactionID { return t.id }

// Depth returns 0 for the outermost frame and increases with nesting.
func (t *Transaction) Depth() int { return t.depth }

// Parent returns the enclosing frame, or nil for the outermost frame.
func (t *Transaction) Parent() *Transaction { return t.parent }

// IsOpen reports whether the frame still accepts enlistment.
func (t *Transaction) IsOpen() bool {
	t.mgr.mu.Lock()
	defer t.mgr.mu.Unlock()
	return t.state == stateOpen
}

// Committed reports whether the frame was closed by Commit.
func (t *Transaction) Committed() bool { return t.committed }

// Enlist registers p with this frame. The first call per frame invokes
// p.PrepareRollback; later calls are no-ops.
func (t *Transaction) Enlist(p Participant) {
	t.checkOpen("enlist")
	if _, ok := t.frame.closures[p]; ok {
		return
	}
	t.frame.add(p, p.PrepareRollback(t))
}

// Register records fn as p's rollback closure unless p is already enlisted.
// It reports whether fn was registered. Participants use it to hand an
// existing snapshot to an enclosing frame without capturing a new one.
func (t *Transaction) Register(p Participant, fn RollbackFunc) bool {
	t.checkOpen("register")
	if _, ok := t.frame.closures[p]; ok {
		return false
	}
	t.frame.add(p, fn)
	return true
}

// IsEnlisted reports whether p has enlisted in this frame.
func (t *Transaction) IsEnlisted(p Participant) bool {
	if t.frame == nil {
		return false
	}
	_, ok := t.frame.closures[p]
	return ok
}

// State returns the opaque rollback state stored for p in this frame.
func (t *Transaction) State(p Participant) (any, bool) {
	if t.frame == nil {
		return nil, false
	}
	v, ok := t.frame.states[p]
	return v, ok
}

// SetState stores opaque rollback state for p in this frame.
func (t *Transaction) SetState(p Participant, v any) {
	t.checkOpen("set state")
	t.frame.states[p] = v
}

// OnClose registers fn to run when this frame closes, after every
// participant closure.
func (t *Transaction) OnClose(fn func(committed bool)) {
	t.checkOpen("on close")
	t.onClose = append(t.onClose, fn)
}

// Commit closes the frame keeping its changes.
func (t *Transaction) Commit() { t.mgr.close(t, true, "commit") }

// Rollback closes the frame reverting its changes.
func (t *Transaction) Rollback() { t.mgr.close(t, false, "rollback") }

// Close rolls the frame back unless it was already resolved, in which case
// it does nothing. It is meant to be deferred right after Open.
func (t *Transaction) Close() {
	t.mgr.mu.Lock()
	closed := t.state == stateClosed
	t.mgr.mu.Unlock()
	if closed {
		return
	}
	t.mgr.close(t, false, "close")
}

func (t *Transaction) checkOpen(op string) {
	t.mgr.mu.Lock()
	s := t.state
	t.mgr.mu.Unlock()
	if s != stateOpen {
		violation(op, t, ErrClosed)
	}
}

// frame holds the participant bookkeeping of one transaction. Frames are
// pooled by the Manager; Transaction values are not, so a stale
// *Transaction is always detected as closed.
type frame struct {
	closures map[Participant]RollbackFunc
	states   map[Participant]any
	order    []Participant
}

func newFrame() *frame {
	return &frame{
		closures: make(map[Participant]RollbackFunc),
		states:   make(map[Participant]any),
	}
}

func (f *frame) add(p Participant, fn RollbackFunc) {
	f.closures[p] = fn
	f.order = append(f.order, p)
}

// resolve notifies participants. Rollbacks run newest first so that
// compensating notifications unwind in reverse.
func (f *frame) resolve(ctx context.Context, committed bool) {
	if committed {
		for _, p := range f.order {
			f.closures[p](ctx, true)
		}
		return
	}
	for i := len(f.order) - 1; i >= 0; i-- {
		f.closures[f.order[i]](ctx, false)
	}
}

func (f *frame) reset() {
	clear(f.closures)
	clear(f.states)
	f.order = f.order[:0]
}
