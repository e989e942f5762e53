// Package tank provides a single-article store with a fixed capacity.
//
// A tank holds at most one article at a time on handle 0. The article
// resets to article.Nothing when the amount reaches zero, and accept
// requests for a different article are refused while the tank holds
// anything.
package tank

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xraph/stockpile/article"
	"github.com/xraph/stockpile/codec"
	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/storage"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

// Kind is the store kind reported by tanks.
const Kind = "tank"

const handle = 0

// Tank is a single-handle store.
type Tank struct {
	id         id.StoreID
	mgr        *txn.Manager
	logger     *slog.Logger
	outputOnly bool
	filter     func(article.Article) bool

	mu       sync.RWMutex
	article  article.Article
	amount   *types.MutableFraction
	capacity types.Fraction
	valid    bool

	listeners storage.Listeners
	journal   *txn.Journal[snapshot]
	consumer  storage.ArticleFunction
	supplier  storage.ArticleFunction
}

type snapshot struct {
	contents storage.Contents
	capacity types.Fraction
}

var _ storage.Store = (*Tank)(nil)

// Option configures a Tank.
type Option func(*Tank)

// WithID sets the store ID, typically to match a persisted snapshot.
func WithID(sid id.StoreID) Option {
	return func(t *Tank) { t.id = sid }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tank) { t.logger = logger }
}

// WithFilter restricts the articles the tank accepts.
func WithFilter(fn func(article.Article) bool) Option {
	return func(t *Tank) { t.filter = fn }
}

// OutputOnly makes the consumer refuse everything; the tank can only be
// drained or restored.
func OutputOnly() Option {
	return func(t *Tank) { t.outputOnly = true }
}

// New creates an empty tank holding up to capacity.
// Panics if capacity is negative.
func New(mgr *txn.Manager, capacity types.Fraction, opts ...Option) *Tank {
	if capacity.IsNegative() {
		panic(fmt.Errorf("%w: negative capacity %s", types.ErrInvalidArgument, capacity))
	}
	t := &Tank{
		id:       id.NewStoreID(),
		mgr:      mgr,
		logger:   slog.Default(),
		article:  article.Nothing,
		amount:   types.NewMutable(types.Zero),
		capacity: capacity,
		valid:    true,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.journal = txn.NewJournal(t.capture, t.restore)
	t.consumer = storage.NewEndpoint(t.insert, t.canInsert)
	t.supplier = storage.NewEndpoint(t.extract, t.canExtract)
	return t
}

// NewUnits creates a tank holding up to units whole units.
func NewUnits(mgr *txn.Manager, units int64, opts ...Option) *Tank {
	return New(mgr, types.Whole(units), opts...)
}

func (t *Tank) ID() id.StoreID { return t.id }

func (t *Tank) Kind() string { return Kind }

func (t *Tank) Manager() *txn.Manager { return t.mgr }

func (t *Tank) Consumer() storage.ArticleFunction { return t.consumer }

func (t *Tank) Supplier() storage.ArticleFunction { return t.supplier }

func (t *Tank) HandleCount() int { return 1 }

// Article returns the article currently held, or article.Nothing.
func (t *Tank) Article() article.Article {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.article
}

func (t *Tank) AmountOf(a article.Article) types.Fraction {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if a.IsNothing() || t.article != a {
		return types.Zero
	}
	return t.amount.ToImmutable()
}

func (t *Tank) CountOf(a article.Article) int64 {
	return t.AmountOf(a).ToLong(1)
}

func (t *Tank) View(h int) storage.StoredArticleView {
	if h != handle {
		return storage.Empty
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return storage.ViewOf(handle, t.article, t.amount.ToImmutable())
}

func (t *Tank) ForEach(fn func(v storage.StoredArticleView) bool) {
	if v := t.View(handle); !v.IsEmpty() {
		fn(v)
	}
}

func (t *Tank) Capacity() types.Fraction {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.capacity
}

func (t *Tank) Volume() types.Fraction {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.amount.ToImmutable()
}

// IsFull reports whether the amount has reached the capacity. A tank whose
// capacity was lowered below its contents stays full until drained.
func (t *Tank) IsFull() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.amount.Compare(t.capacity) >= 0
}

func (t *Tank) IsEmpty() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.amount.IsZero()
}

func (t *Tank) IsValid() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.valid
}

// ──────────────────────────────────────────────────
// Mutation
// ──────────────────────────────────────────────────

func (t *Tank) canInsert() bool {
	if t.outputOnly {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.valid
}

func (t *Tank) canExtract() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.valid && !t.amount.IsZero()
}

func (t *Tank) accepts(a article.Article) bool {
	if !t.valid || t.outputOnly {
		return false
	}
	if t.filter != nil && !t.filter(a) {
		return false
	}
	return t.article.IsNothing() || t.article == a
}

func (t *Tank) insert(ctx context.Context, a article.Article, max types.Fraction, divisor int64, simulate bool) types.Fraction {
	tx, txCtx := t.mgr.Open(ctx)
	defer tx.Close()

	t.mu.RLock()
	accepted := types.Zero
	if t.accepts(a) {
		space := t.capacity.SubtractClamped(t.amount.ToImmutable())
		accepted = max.Min(space).RoundDown(divisor)
	}
	t.mu.RUnlock()

	if accepted.IsZero() || simulate {
		tx.Commit()
		return accepted
	}

	t.journal.PrepareIfNeeded(tx)
	t.mu.Lock()
	t.article = a
	total := t.amount.Add(accepted).ToImmutable()
	t.mu.Unlock()

	t.listeners.Accept(txCtx, storage.Event{Store: t, Handle: handle, Article: a, Delta: accepted, Total: total})
	tx.Commit()
	return accepted
}

func (t *Tank) extract(ctx context.Context, a article.Article, max types.Fraction, divisor int64, simulate bool) types.Fraction {
	tx, txCtx := t.mgr.Open(ctx)
	defer tx.Close()

	t.mu.RLock()
	supplied := types.Zero
	if t.valid && t.article == a {
		supplied = max.Min(t.amount.ToImmutable()).RoundDown(divisor)
	}
	t.mu.RUnlock()

	if supplied.IsZero() || simulate {
		tx.Commit()
		return supplied
	}

	t.journal.PrepareIfNeeded(tx)
	t.mu.Lock()
	total := t.amount.Subtract(supplied).ToImmutable()
	if total.IsZero() {
		t.article = article.Nothing
	}
	t.mu.Unlock()

	t.listeners.Supply(txCtx, storage.Event{Store: t, Handle: handle, Article: a, Delta: supplied, Total: total})
	tx.Commit()
	return supplied
}

// SetCapacity changes the capacity inside a transaction frame. Contents
// above the new capacity are kept.
func (t *Tank) SetCapacity(ctx context.Context, capacity types.Fraction) {
	if capacity.IsNegative() {
		panic(fmt.Errorf("%w: negative capacity %s", types.ErrInvalidArgument, capacity))
	}
	tx, txCtx := t.mgr.Open(ctx)
	defer tx.Close()

	t.mu.RLock()
	unchanged := !t.valid || t.capacity.Equal(capacity)
	t.mu.RUnlock()
	if unchanged {
		tx.Commit()
		return
	}

	t.journal.PrepareIfNeeded(tx)
	t.mu.Lock()
	t.capacity = capacity
	t.mu.Unlock()

	t.listeners.CapacityChange(txCtx, t, capacity)
	tx.Commit()
}

func (t *Tank) capture() snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshotLocked()
}

func (t *Tank) snapshotLocked() snapshot {
	return snapshot{
		contents: storage.Contents{Article: t.article, Amount: t.amount.ToImmutable()},
		capacity: t.capacity,
	}
}

// restore puts s back and tells listeners what changed.
func (t *Tank) restore(ctx context.Context, s snapshot) {
	t.mu.Lock()
	current := t.snapshotLocked()
	t.article = s.contents.Article
	t.amount.Set(s.contents.Amount)
	t.capacity = s.capacity
	t.mu.Unlock()

	t.notifyDiff(ctx, current, s)
}

func (t *Tank) notifyDiff(ctx context.Context, before, after snapshot) {
	if !before.capacity.Equal(after.capacity) {
		t.listeners.CapacityChange(ctx, t, after.capacity)
	}
	t.listeners.Diff(ctx, t, handle, before.contents, after.contents)
}

// ──────────────────────────────────────────────────
// Listeners
// ──────────────────────────────────────────────────

func (t *Tank) StartListening(ctx context.Context, l storage.Listener, catchUp bool) storage.Subscription {
	tx, txCtx := t.mgr.Open(ctx)
	defer tx.Close()

	if !t.IsValid() {
		l.OnDisconnect(txCtx, t)
		tx.Commit()
		return storage.Subscription{}
	}
	sub := t.listeners.Add(t.id, l)
	if catchUp {
		storage.CatchUp(txCtx, t, l)
	}
	tx.Commit()
	return sub
}

func (t *Tank) StopListening(ctx context.Context, sub storage.Subscription, teardown bool) {
	tx, txCtx := t.mgr.Open(ctx)
	defer tx.Close()

	l, ok := t.listeners.Remove(sub)
	if ok && teardown {
		storage.Teardown(txCtx, t, l)
	}
	tx.Commit()
}

// Disconnect invalidates the tank. The contents stay readable.
func (t *Tank) Disconnect(ctx context.Context) {
	tx, txCtx := t.mgr.Open(ctx)
	defer tx.Close()

	t.mu.Lock()
	wasValid := t.valid
	t.valid = false
	t.mu.Unlock()

	if wasValid {
		t.logger.Debug("store disconnected", "store_id", t.id.String(), "kind", Kind)
		t.listeners.Disconnect(txCtx, t)
	}
	tx.Commit()
}

// ──────────────────────────────────────────────────
// Persistence
// ──────────────────────────────────────────────────

const stateVersion = 1

type state struct {
	Version int                  `cbor:"v"`
	Article article.Record       `cbor:"article"`
	Amount  types.FractionRecord `cbor:"amount"`
}

func (t *Tank) WriteState() ([]byte, error) {
	t.mu.RLock()
	s := state{
		Version: stateVersion,
		Article: t.article.ToRecord(),
		Amount:  t.amount.ToImmutable().ToRecord(),
	}
	t.mu.RUnlock()
	return codec.Marshal(s)
}

// ReadState replaces the contents inside a transaction frame. Capacity is
// not part of the state; restored contents may exceed it.
func (t *Tank) ReadState(ctx context.Context, blob []byte) error {
	var s state
	if err := codec.Unmarshal(blob, &s); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrMalformedState, err)
	}
	if s.Version != stateVersion {
		return fmt.Errorf("%w: unknown version %d", storage.ErrMalformedState, s.Version)
	}
	amount, err := s.Amount.ToFraction()
	if err != nil || amount.IsNegative() {
		return fmt.Errorf("%w: bad amount", storage.ErrMalformedState)
	}
	a := article.FromRecord(s.Article)
	if a.IsNothing() {
		amount = types.Zero
	}
	if amount.IsZero() {
		a = article.Nothing
	}

	tx, txCtx := t.mgr.Open(ctx)
	defer tx.Close()

	if !t.IsValid() {
		return storage.ErrInvalidStore
	}

	t.journal.PrepareIfNeeded(tx)
	t.mu.Lock()
	before := t.snapshotLocked()
	t.article = a
	t.amount.Set(amount)
	after := t.snapshotLocked()
	t.mu.Unlock()

	t.notifyDiff(txCtx, before, after)
	tx.Commit()
	return nil
}
