// Package bin provides a slotted store for discrete articles.
//
// A bin has a fixed number of slots, each holding up to a per-slot limit of
// one article. Accepting fills slots already holding the article before
// starting empty ones; supplying drains matching slots from the last handle
// backwards. Bulk articles are refused.
package bin

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

// Kind is the store kind reported by bins.
const Kind = "bin"

// Bin is a fixed-slot discrete store.
type Bin struct {
	id     id.StoreID
	mgr    *txn.Manager
	logger *slog.Logger
	limit  int64

	mu    sync.RWMutex
	slots []storage.Contents
	valid bool

	listeners storage.Listeners
	journal   *txn.Journal[[]storage.Contents]
	consumer  storage.ArticleFunction
	supplier  storage.ArticleFunction
}

var _ storage.Store = (*Bin)(nil)

// Option configures a Bin.
type Option func(*Bin)

// WithID sets the store ID.
func WithID(sid id.StoreID) Option {
	return func(b *Bin) { b.id = sid }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bin) { b.logger = logger }
}

// New creates a bin with the given number of slots, each holding up to
// limit units. Panics if slots or limit is below 1.
func New(mgr *txn.Manager, slots int, limit int64, opts ...Option) *Bin {
	if slots < 1 || limit < 1 {
		panic(fmt.Errorf("%w: bin needs slots >= 1 and limit >= 1, got %d x %d",
			types.ErrInvalidArgument, slots, limit))
	}
	b := &Bin{
		id:     id.NewStoreID(),
		mgr:    mgr,
		logger: slog.Default(),
		limit:  limit,
		slots:  make([]storage.Contents, slots),
		valid:  true,
	}
	for i := range b.slots {
		b.slots[i] = storage.Contents{Article: article.Nothing, Amount: types.Zero}
	}
	for _, opt := range opts {
		opt(b)
	}
	b.journal = txn.NewJournal(b.capture, b.restore)
	b.consumer = storage.NewEndpoint(b.insert, b.IsValid)
	b.supplier = storage.NewEndpoint(b.extract, b.IsValid)
	return b
}

func (b *Bin) ID() id.StoreID { return b.id }

func (b *Bin) Kind() string { return Kind }

func (b *Bin) Manager() *txn.Manager { return b.mgr }

func (b *Bin) Consumer() storage.ArticleFunction { return b.consumer }

func (b *Bin) Supplier() storage.ArticleFunction { return b.supplier }

func (b *Bin) HandleCount() int { return len(b.slots) }

// SlotLimit returns the per-slot limit.
func (b *Bin) SlotLimit() int64 { return b.limit }

func (b *Bin) AmountOf(a article.Article) types.Fraction {
	return types.Whole(b.CountOf(a))
}

func (b *Bin) CountOf(a article.Article) int64 {
	if a.IsNothing() {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var n int64
	for _, s := range b.slots {
		if s.Article == a {
			n += s.Amount.Whole()
		}
	}
	return n
}

func (b *Bin) View(h int) storage.StoredArticleView {
	if h < 0 || h >= len(b.slots) {
		return storage.Empty
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return storage.ViewOf(h, b.slots[h].Article, b.slots[h].Amount)
}

func (b *Bin) ForEach(fn func(v storage.StoredArticleView) bool) {
	b.mu.RLock()
	views := make([]storage.StoredArticleView, 0, len(b.slots))
	for h, s := range b.slots {
		if !s.IsEmpty() {
			views = append(views, storage.ViewOf(h, s.Article, s.Amount))
		}
	}
	b.mu.RUnlock()

	for _, v := range views {
		if !fn(v) {
			return
		}
	}
}

func (b *Bin) Capacity() types.Fraction {
	return types.Whole(b.limit).Multiply(int64(len(b.slots)))
}

func (b *Bin) Volume() types.Fraction {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var n int64
	for _, s := range b.slots {
		n += s.Amount.Whole()
	}
	return types.Whole(n)
}

// IsFull reports whether every slot is at its limit.
func (b *Bin) IsFull() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.slots {
		if s.Amount.Whole() < b.limit {
			return false
		}
	}
	return true
}

func (b *Bin) IsEmpty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.slots {
		if !s.IsEmpty() {
			return false
		}
	}
	return true
}

func (b *Bin) IsValid() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.valid
}

// ──────────────────────────────────────────────────
// Mutation
// ──────────────────────────────────────────────────

type move struct {
	handle int
	units  int64
}

// planInsert returns the per-slot additions for up to want units of a.
// Slots already holding a come first, then empty ones.
func (b *Bin) planInsert(a article.Article, want int64) ([]move, int64) {
	var plan []move
	var total int64
	for pass := 0; pass < 2 && total < want; pass++ {
		for h, s := range b.slots {
			if total == want {
				break
			}
			matching := s.Article == a && !s.IsEmpty()
			if (pass == 0 && !matching) || (pass == 1 && !s.IsEmpty()) {
				continue
			}
			room := b.limit - s.Amount.Whole()
			if room <= 0 {
				continue
			}
			n := min(room, want-total)
			plan = append(plan, move{handle: h, units: n})
			total += n
		}
	}
	return plan, total
}

// planExtract returns the per-slot removals for up to want units of a,
// starting from the last handle.
func (b *Bin) planExtract(a article.Article, want int64) ([]move, int64) {
	var plan []move
	var total int64
	for h := len(b.slots) - 1; h >= 0 && total < want; h-- {
		s := b.slots[h]
		if s.Article != a || s.IsEmpty() {
			continue
		}
		n := min(s.Amount.Whole(), want-total)
		plan = append(plan, move{handle: h, units: n})
		total += n
	}
	return plan, total
}

func (b *Bin) insert(ctx context.Context, a article.Article, max types.Fraction, _ int64, simulate bool) types.Fraction {
	if a.IsBulk() {
		return types.Zero
	}
	return b.apply(ctx, a, max.ToLong(1), simulate, true)
}

func (b *Bin) extract(ctx context.Context, a article.Article, max types.Fraction, _ int64, simulate bool) types.Fraction {
	return b.apply(ctx, a, max.ToLong(1), simulate, false)
}

func (b *Bin) apply(ctx context.Context, a article.Article, want int64, simulate, inserting bool) types.Fraction {
	tx, txCtx := b.mgr.Open(ctx)
	defer tx.Close()

	b.mu.RLock()
	var plan []move
	var total int64
	if b.valid && want > 0 {
		if inserting {
			plan, total = b.planInsert(a, want)
		} else {
			plan, total = b.planExtract(a, want)
		}
	}
	b.mu.RUnlock()

	if total == 0 || simulate {
		tx.Commit()
		return types.Whole(total)
	}

	b.journal.PrepareIfNeeded(tx)
	events := make([]storage.Event, 0, len(plan))
	b.mu.Lock()
	for _, m := range plan {
		s := &b.slots[m.handle]
		if inserting {
			s.Article = a
			s.Amount = s.Amount.Add(types.Whole(m.units))
		} else {
			s.Amount = s.Amount.Subtract(types.Whole(m.units))
			if s.Amount.IsZero() {
				s.Article = article.Nothing
			}
		}
		events = append(events, storage.Event{
			Store:   b,
			Handle:  m.handle,
			Article: a,
			Delta:   types.Whole(m.units),
			Total:   s.Amount,
		})
	}
	b.mu.Unlock()

	for _, ev := range events {
		if inserting {
			b.listeners.Accept(txCtx, ev)
		} else {
			b.listeners.Supply(txCtx, ev)
		}
	}
	tx.Commit()
	return types.Whole(total)
}

func (b *Bin) capture() []storage.Contents {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]storage.Contents(nil), b.slots...)
}

func (b *Bin) restore(ctx context.Context, slots []storage.Contents) {
	b.mu.Lock()
	current := b.slots
	b.slots = append([]storage.Contents(nil), slots...)
	b.mu.Unlock()

	for h := range current {
		b.listeners.Diff(ctx, b, h, current[h], slots[h])
	}
}

// ──────────────────────────────────────────────────
// Listeners
// ──────────────────────────────────────────────────

func (b *Bin) StartListening(ctx context.Context, l storage.Listener, catchUp bool) storage.Subscription {
	tx, txCtx := b.mgr.Open(ctx)
	defer tx.Close()

	if !b.IsValid() {
		l.OnDisconnect(txCtx, b)
		tx.Commit()
		return storage.Subscription{}
	}
	sub := b.listeners.Add(b.id, l)
	if catchUp {
		storage.CatchUp(txCtx, b, l)
	}
	tx.Commit()
	return sub
}

func (b *Bin) StopListening(ctx context.Context, sub storage.Subscription, teardown bool) {
	tx, txCtx := b.mgr.Open(ctx)
	defer tx.Close()

	if l, ok := b.listeners.Remove(sub); ok && teardown {
		storage.Teardown(txCtx, b, l)
	}
	tx.Commit()
}

func (b *Bin) Disconnect(ctx context.Context) {
	tx, txCtx := b.mgr.Open(ctx)
	defer tx.Close()

	b.mu.Lock()
	wasValid := b.valid
	b.valid = false
	b.mu.Unlock()

	if wasValid {
		b.logger.Debug("store disconnected", "store_id", b.id.String(), "kind", Kind)
		b.listeners.Disconnect(txCtx, b)
	}
	tx.Commit()
}

// ──────────────────────────────────────────────────
// Persistence
// ──────────────────────────────────────────────────

const stateVersion = 1

type slotState struct {
	Handle  int            `cbor:"h"`
	Article article.Record `cbor:"article"`
	Count   int64          `cbor:"count"`
}

type state struct {
	Version int         `cbor:"v"`
	Slots   []slotState `cbor:"slots"`
}

func (b *Bin) WriteState() ([]byte, error) {
	s := state{Version: stateVersion}
	b.ForEach(func(v storage.StoredArticleView) bool {
		s.Slots = append(s.Slots, slotState{Handle: v.Handle, Article: v.Article.ToRecord(), Count: v.Count})
		return true
	})
	return codec.Marshal(s)
}

// ReadState replaces the slot contents. Slots beyond the bin's size and
// counts above the limit are rejected.
func (b *Bin) ReadState(ctx context.Context, blob []byte) error {
	var s state
	if err := codec.Unmarshal(blob, &s); err != nil {
		return fmt.Errorf("%w: %w", storage.ErrMalformedState, err)
	}
	if s.Version != stateVersion {
		return fmt.Errorf("%w: unknown version %d", storage.ErrMalformedState, s.Version)
	}

	slots := make([]storage.Contents, len(b.slots))
	for i := range slots {
		slots[i] = storage.Contents{Article: article.Nothing, Amount: types.Zero}
	}
	for _, rec := range s.Slots {
		a := article.FromRecord(rec.Article)
		switch {
		case rec.Handle < 0 || rec.Handle >= len(slots):
			return fmt.Errorf("%w: slot %d out of range", storage.ErrMalformedState, rec.Handle)
		case rec.Count < 0 || rec.Count > b.limit:
			return fmt.Errorf("%w: slot %d count %d", storage.ErrMalformedState, rec.Handle, rec.Count)
		case a.IsBulk():
			return fmt.Errorf("%w: bulk article %s in bin", storage.ErrMalformedState, a)
		case a.IsNothing() || rec.Count == 0:
			continue
		}
		slots[rec.Handle] = storage.Contents{Article: a, Amount: types.Whole(rec.Count)}
	}

	tx, txCtx := b.mgr.Open(ctx)
	defer tx.Close()

	if !b.IsValid() {
		return storage.ErrInvalidStore
	}

	b.journal.PrepareIfNeeded(tx)
	b.mu.Lock()
	before := b.slots
	b.slots = slots
	b.mu.Unlock()

	for h := range before {
		b.listeners.Diff(txCtx, b, h, before[h], slots[h])
	}
	tx.Commit()
	return nil
}
