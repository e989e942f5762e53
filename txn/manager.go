package txn

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xraph/stockpile/id"
)

// Outcome describes a closed outermost transaction.
type Outcome struct {
	ID           id.TransactionID
	Committed    bool
	Participants int
	Elapsed      time.Duration
}

// Observer is notified whenever an outermost transaction closes. It is
// called after the mutation lock has been released.
type Observer interface {
	TransactionClosed(ctx context.Context, outcome Outcome)
}

// Manager owns a transaction stack and the locks serializing mutation.
type Manager struct {
	// inner is held for the whole scope of an outermost frame.
	inner sync.Mutex
	// outer queues non-primary callers behind one another.
	outer sync.Mutex

	mu    sync.Mutex // guards stack
	stack []*Transaction

	primarySet atomic.Bool
	observer   Observer
	logger     *slog.Logger
	frames     sync.Pool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// WithObserver sets the observer notified of outermost frame outcomes.
func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

// NewManager creates a Manager with an empty stack.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger: slog.Default(),
		stack:  make([]*Transaction, 0, 8),
	}
	m.frames.New = func() any { return newFrame() }
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type primaryKey struct{ m *Manager }

type txKey struct{ m *Manager }

// SetPrimary designates the caller owning ctx as the primary caller and
// returns the context to use for its transactions. Primary callers never
// queue on the outer lock. It may be called once per Manager.
func (m *Manager) SetPrimary(ctx context.Context) context.Context {
	if m.primarySet.Swap(true) {
		violation("set primary", nil, ErrPrimaryAlreadySet)
	}
	return context.WithValue(ctx, primaryKey{m}, true)
}

// IsPrimary reports whether ctx was returned by SetPrimary (or derives from it).
func (m *Manager) IsPrimary(ctx context.Context) bool {
	v, _ := ctx.Value(primaryKey{m}).(bool)
	return v
}

// Current returns the transaction carried by ctx, or nil.
func (m *Manager) Current(ctx context.Context) *Transaction {
	tx, _ := ctx.Value(txKey{m}).(*Transaction)
	return tx
}

// Require returns the open transaction carried by ctx. It panics with a
// ProtocolError when ctx carries none or the carried frame is closed.
func (m *Manager) Require(ctx context.Context) *Transaction {
	tx := m.Current(ctx)
	if tx == nil {
		violation("require", nil, ErrNoTransaction)
	}
	if !tx.IsOpen() {
		violation("require", tx, ErrClosed)
	}
	return tx
}

// Depth returns the number of open frames.
func (m *Manager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.stack)
}

// Open pushes a new frame and returns it together with a context carrying
// it. If ctx already carries the top-of-stack frame the new frame nests
// inside it; otherwise Open blocks until the mutation lock is available.
func (m *Manager) Open(ctx context.Context) (*Transaction, context.Context) {
	if parent := m.Current(ctx); parent != nil {
		return m.openNested(ctx, parent)
	}

	primary := m.IsPrimary(ctx)
	if !primary {
		m.outer.Lock()
	}
	m.inner.Lock()

	tx := m.newTransaction(ctx, nil)
	tx.primary = primary

	m.mu.Lock()
	m.stack = append(m.stack, tx)
	m.mu.Unlock()

	return tx, context.WithValue(ctx, txKey{m}, tx)
}

func (m *Manager) openNested(ctx context.Context, parent *Transaction) (*Transaction, context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch parent.state {
	case stateOpen:
	case stateClosing:
		violation("open", parent, ErrResolving)
	default:
		violation("open", parent, ErrClosed)
	}
	if len(m.stack) == 0 || m.stack[len(m.stack)-1] != parent {
		violation("open", parent, ErrNotTopOfStack)
	}

	tx := m.newTransaction(ctx, parent)
	m.stack = append(m.stack, tx)
	return tx, context.WithValue(ctx, txKey{m}, tx)
}

// Do runs fn inside a frame, committing when fn returns nil and rolling
// back otherwise.
func (m *Manager) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, txCtx := m.Open(ctx)
	defer tx.Close()

	if err := fn(txCtx); err != nil {
		return err
	}
	tx.Commit()
	return nil
}

func (m *Manager) newTransaction(ctx context.Context, parent *Transaction) *Transaction {
	tx := &Transaction{
		mgr:    m,
		id:     id.NewTransactionID(),
		parent: parent,
		outer:  ctx,
		frame:  m.frames.Get().(*frame),
		opened: time.Now(),
	}
	if parent != nil {
		tx.depth = parent.depth + 1
	}
	return tx
}

// close resolves tx, which must be the open top-of-stack frame.
func (m *Manager) close(tx *Transaction, committed bool, op string) {
	m.mu.Lock()
	if tx.state != stateOpen {
		m.mu.Unlock()
		violation(op, tx, ErrClosed)
	}
	if len(m.stack) == 0 || m.stack[len(m.stack)-1] != tx {
		m.mu.Unlock()
		violation(op, tx, ErrNotTopOfStack)
	}
	tx.state = stateClosing
	m.mu.Unlock()

	participants := len(tx.frame.order)
	defer m.finish(tx, committed, participants)

	// Closures see the closing frame so that opening from their ctx fails
	// loudly instead of waiting on the lock this frame still holds.
	tx.committed = committed
	tx.frame.resolve(context.WithValue(tx.outer, txKey{m}, tx), committed)
	for _, fn := range tx.onClose {
		fn(committed)
	}
}

// finish pops tx and, for outermost frames, releases the locks. It runs
// deferred so a panicking rollback closure cannot leave the locks held.
func (m *Manager) finish(tx *Transaction, committed bool, participants int) {
	m.mu.Lock()
	m.stack = m.stack[:len(m.stack)-1]
	tx.state = stateClosed
	f := tx.frame
	tx.frame = nil
	tx.onClose = nil
	m.mu.Unlock()

	f.reset()
	m.frames.Put(f)

	if tx.parent != nil {
		return
	}

	m.inner.Unlock()
	if !tx.primary {
		m.outer.Unlock()
		runtime.Gosched()
	}

	outcome := Outcome{
		ID:           tx.id,
		Committed:    committed,
		Participants: participants,
		Elapsed:      time.Since(tx.opened),
	}
	m.logger.Debug("transaction closed",
		"txn_id", tx.id.String(),
		"committed", committed,
		"participants", participants,
		"elapsed_us", outcome.Elapsed.Microseconds(),
	)
	if m.observer != nil {
		m.observer.TransactionClosed(tx.outer, outcome)
	}
}
