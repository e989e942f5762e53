// Package aggregate composes many member stores into one logical store.
//
// The aggregate never sums its members on demand. It listens to every
// member and keeps its own tally, capacity and per-article index of the
// members currently holding each article ("existing") up to date from
// their notifications. Because it is itself a Store that notifies its own
// listeners, aggregates compose.
//
// Consume requests try the members in existing first and only then the
// remaining members; supply requests only ever consult existing.
// Visitation order is member insertion order, which affects which member
// is filled first but never the total moved.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/xraph/stockpile/article"
	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/storage"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

// Kind is the store kind reported by aggregates.
const Kind = "aggregate"

// Membership errors.
var (
	// ErrDuplicateMember is returned when adding a store that is already a
	// member, directly or through a nested aggregate.
	ErrDuplicateMember = errors.New("aggregate: store is already a member")

	// ErrCyclicMember is returned when adding a store that contains the
	// aggregate itself.
	ErrCyclicMember = errors.New("aggregate: member would contain the aggregate")
)

type entry struct {
	handle int
	amount *types.MutableFraction
}

// Aggregate is a virtual store over a set of member stores. It does not own
// the members' lifetimes. Member stores are used as map keys and must be
// comparable, typically pointers.
type Aggregate struct {
	id     id.StoreID
	mgr    *txn.Manager
	logger *slog.Logger

	mu       sync.RWMutex
	members  *memberSet
	index    map[storage.Store]*member
	existing map[article.Article]*memberSet
	tally    map[article.Article]*entry
	handles  []article.Article
	free     []int
	capacity types.Fraction
	volume   types.Fraction
	valid    bool

	listeners storage.Listeners
	consumer  storage.ArticleFunction
	supplier  storage.ArticleFunction
}

var _ storage.Store = (*Aggregate)(nil)

// Option configures an Aggregate.
type Option func(*Aggregate)

// WithID sets the store ID.
func WithID(sid id.StoreID) Option {
	return func(g *Aggregate) { g.id = sid }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Aggregate) { g.logger = logger }
}

// New creates an aggregate with no members.
func New(mgr *txn.Manager, opts ...Option) *Aggregate {
	g := &Aggregate{
		id:       id.NewAggregateID(),
		mgr:      mgr,
		logger:   slog.Default(),
		members:  newMemberSet(),
		index:    make(map[storage.Store]*member),
		existing: make(map[article.Article]*memberSet),
		tally:    make(map[article.Article]*entry),
		capacity: types.Zero,
		volume:   types.Zero,
		valid:    true,
	}
	for _, opt := range opts {
		opt(g)
	}
	g.consumer = storage.NewEndpoint(g.insert, g.canInsert)
	g.supplier = storage.NewEndpoint(g.extract, g.canExtract)
	return g
}

func (g *Aggregate) ID() id.StoreID { return g.id }

func (g *Aggregate) Kind() string { return Kind }

func (g *Aggregate) Manager() *txn.Manager { return g.mgr }

func (g *Aggregate) Consumer() storage.ArticleFunction { return g.consumer }

func (g *Aggregate) Supplier() storage.ArticleFunction { return g.supplier }

// ──────────────────────────────────────────────────
// Membership
// ──────────────────────────────────────────────────

// AddMember subscribes to s with catch-up, so the aggregate's tally
// immediately includes the member's contents. Membership changes are not
// transactional: rolling back an enclosing frame does not remove s.
//
// A store may be reachable only once below the aggregate, so s is refused
// when it, or any store nested in it, is already reachable. Members added
// to a nested aggregate after it joined are not checked.
func (g *Aggregate) AddMember(ctx context.Context, s storage.Store) error {
	if s == nil || s == storage.Store(g) {
		panic(fmt.Errorf("%w: invalid aggregate member", types.ErrInvalidArgument))
	}
	if s.Manager() != g.mgr {
		return txn.ErrForeignManager
	}
	if !s.IsValid() {
		return storage.ErrInvalidStore
	}
	if err := g.checkOverlap(s); err != nil {
		return err
	}

	tx, txCtx := g.mgr.Open(ctx)
	defer tx.Close()

	g.mu.Lock()
	if !g.valid {
		g.mu.Unlock()
		return storage.ErrInvalidStore
	}
	if _, ok := g.index[s]; ok {
		g.mu.Unlock()
		return ErrDuplicateMember
	}
	m := newMember(s)
	g.index[s] = m
	g.members.add(m)
	g.mu.Unlock()

	sub := s.StartListening(txCtx, &relay{g: g, m: m}, true)

	g.mu.Lock()
	m.sub = sub
	g.mu.Unlock()

	g.logger.Debug("aggregate member added",
		"aggregate_id", g.id.String(),
		"store_id", s.ID().String(),
		"kind", s.Kind(),
		"capacity", s.Capacity(),
	)
	tx.Commit()
	return nil
}

// checkOverlap reports whether s shares a store with the aggregate's
// current members or contains the aggregate.
func (g *Aggregate) checkOverlap(s storage.Store) error {
	reached := make(map[storage.Store]struct{})
	for _, m := range g.Members() {
		walk(m, func(x storage.Store) { reached[x] = struct{}{} })
	}

	var err error
	walk(s, func(x storage.Store) {
		switch {
		case err != nil:
		case x == storage.Store(g):
			err = ErrCyclicMember
		default:
			if _, ok := reached[x]; ok {
				err = fmt.Errorf("%w: %s", ErrDuplicateMember, x.ID())
			}
		}
	})
	return err
}

// walk calls fn for s and every store nested below it.
func walk(s storage.Store, fn func(storage.Store)) {
	fn(s)
	if g, ok := s.(*Aggregate); ok {
		for _, m := range g.Members() {
			walk(m, fn)
		}
	}
}

// RemoveMember unsubscribes from s with teardown, so the member's contents
// leave the tally. It reports whether s was a member.
func (g *Aggregate) RemoveMember(ctx context.Context, s storage.Store) bool {
	tx, txCtx := g.mgr.Open(ctx)
	defer tx.Close()

	g.mu.RLock()
	m := g.index[s]
	g.mu.RUnlock()
	if m == nil {
		tx.Commit()
		return false
	}

	s.StopListening(txCtx, m.sub, true)
	g.detach(txCtx, m)

	g.logger.Debug("aggregate member removed",
		"aggregate_id", g.id.String(),
		"store_id", s.ID().String(),
	)
	tx.Commit()
	return true
}

// Members returns the member stores in insertion order.
func (g *Aggregate) Members() []storage.Store {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]storage.Store, 0, g.members.len())
	for _, m := range g.members.list {
		out = append(out, m.store)
	}
	return out
}

// Existing returns the members currently known to hold a.
func (g *Aggregate) Existing(a article.Article) []storage.Store {
	g.mu.RLock()
	defer g.mu.RUnlock()
	set := g.existing[a]
	if set == nil {
		return nil
	}
	out := make([]storage.Store, 0, set.len())
	for _, m := range set.list {
		out = append(out, m.store)
	}
	return out
}

// detach drops m and any contribution it still has in the tally, notifying
// listeners of the loss.
func (g *Aggregate) detach(ctx context.Context, m *member) {
	g.mu.Lock()
	if g.index[m.store] != m {
		g.mu.Unlock()
		return
	}
	var events []storage.Event
	for a, held := range m.held {
		if held.IsPositive() {
			if ev, ok := g.subTallyLocked(a, held); ok {
				events = append(events, ev)
			}
		}
	}
	capacityChanged := !m.capacity.IsZero()
	g.capacity = g.capacity.Subtract(m.capacity)
	capacity := g.capacity

	for a, set := range g.existing {
		set.remove(m)
		if set.len() == 0 {
			delete(g.existing, a)
		}
	}
	g.members.remove(m)
	delete(g.index, m.store)
	g.mu.Unlock()

	for _, ev := range events {
		g.listeners.Supply(ctx, ev)
	}
	if capacityChanged {
		g.listeners.CapacityChange(ctx, g, capacity)
	}
}

// ──────────────────────────────────────────────────
// Routing
// ──────────────────────────────────────────────────

func (g *Aggregate) canInsert() bool {
	g.mu.RLock()
	if !g.valid {
		g.mu.RUnlock()
		return false
	}
	members := g.members.snapshot()
	g.mu.RUnlock()

	for _, m := range members {
		if m.store.Consumer().CanApply() {
			return true
		}
	}
	return false
}

func (g *Aggregate) canExtract() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.valid && g.volume.IsPositive()
}

func (g *Aggregate) insert(ctx context.Context, a article.Article, max types.Fraction, divisor int64, simulate bool) types.Fraction {
	tx, txCtx := g.mgr.Open(ctx)
	defer tx.Close()

	g.mu.RLock()
	if !g.valid {
		g.mu.RUnlock()
		tx.Commit()
		return types.Zero
	}
	set := g.existing[a]
	members := g.members.snapshot()
	known := make([]bool, len(members))
	if set != nil {
		for i, m := range members {
			known[i] = set.contains(m)
		}
	}
	g.mu.RUnlock()

	moved := types.Zero

	// Members known to hold a go first; the rest are set aside.
	var side []*member
	for i, m := range members {
		if !known[i] {
			side = append(side, m)
			continue
		}
		if moved.Compare(max) >= 0 {
			break
		}
		moved = moved.Add(offer(txCtx, m, a, max.Subtract(moved), divisor, simulate))
	}

	for _, m := range side {
		if moved.Compare(max) >= 0 {
			break
		}
		got := offer(txCtx, m, a, max.Subtract(moved), divisor, simulate)
		if got.IsPositive() && !simulate {
			g.mu.Lock()
			if g.index[m.store] == m {
				g.existingLocked(a).add(m)
			}
			g.mu.Unlock()
		}
		moved = moved.Add(got)
	}

	tx.Commit()
	return moved
}

// offer asks one member to accept up to amount. Members that cannot accept
// anything are skipped without being removed from existing.
func offer(ctx context.Context, m *member, a article.Article, amount types.Fraction, divisor int64, simulate bool) types.Fraction {
	c := m.store.Consumer()
	if !c.CanApply() {
		return types.Zero
	}
	return c.ApplyFraction(ctx, a, amount, divisor, simulate)
}

func (g *Aggregate) extract(ctx context.Context, a article.Article, max types.Fraction, divisor int64, simulate bool) types.Fraction {
	tx, txCtx := g.mgr.Open(ctx)
	defer tx.Close()

	g.mu.RLock()
	var candidates []*member
	if set := g.existing[a]; g.valid && set != nil {
		candidates = set.snapshot()
	}
	g.mu.RUnlock()

	moved := types.Zero
	for _, m := range candidates {
		if moved.Compare(max) >= 0 {
			break
		}
		moved = moved.Add(m.store.Supplier().ApplyFraction(txCtx, a, max.Subtract(moved), divisor, simulate))
		if simulate {
			continue
		}
		// The member's notification normally removes it already.
		g.mu.Lock()
		if set := g.existing[a]; set != nil && !m.holds(a) {
			g.dropExistingLocked(a, m)
		}
		g.mu.Unlock()
	}

	tx.Commit()
	return moved
}

// ──────────────────────────────────────────────────
// Bookkeeping
// ──────────────────────────────────────────────────

func (g *Aggregate) existingLocked(a article.Article) *memberSet {
	set := g.existing[a]
	if set == nil {
		set = newMemberSet()
		g.existing[a] = set
	}
	return set
}

func (g *Aggregate) dropExistingLocked(a article.Article, m *member) {
	if set := g.existing[a]; set != nil {
		set.remove(m)
		if set.len() == 0 {
			delete(g.existing, a)
		}
	}
}

func (g *Aggregate) addTallyLocked(a article.Article, delta types.Fraction) storage.Event {
	e := g.tally[a]
	if e == nil {
		e = &entry{handle: g.allocHandleLocked(a), amount: types.NewMutable(types.Zero)}
		g.tally[a] = e
	}
	total := e.amount.Add(delta).ToImmutable()
	g.volume = g.volume.Add(delta)
	return storage.Event{Store: g, Handle: e.handle, Article: a, Delta: delta, Total: total}
}

// subTallyLocked removes delta of a. A handle whose amount reaches zero is
// freed; the zero notification returned is delivered before any later
// notification can reuse it.
func (g *Aggregate) subTallyLocked(a article.Article, delta types.Fraction) (storage.Event, bool) {
	e := g.tally[a]
	if e == nil {
		return storage.Event{}, false
	}
	total := e.amount.Subtract(delta).ToImmutable()
	if !total.IsPositive() {
		delta = delta.Add(total)
		total = types.Zero
		delete(g.tally, a)
		g.handles[e.handle] = article.Nothing
		g.free = append(g.free, e.handle)
	}
	g.volume = g.volume.Subtract(delta)
	return storage.Event{Store: g, Handle: e.handle, Article: a, Delta: delta, Total: total}, true
}

func (g *Aggregate) allocHandleLocked(a article.Article) int {
	if n := len(g.free); n > 0 {
		h := g.free[n-1]
		g.free = g.free[:n-1]
		g.handles[h] = a
		return h
	}
	g.handles = append(g.handles, a)
	return len(g.handles) - 1
}

// relay receives the notifications of one member. Events are attributed
// to the member it was created for, so wrapped stores work as members.
type relay struct {
	g *Aggregate
	m *member
}

// attachedLocked reports whether the relay's member is still a member.
func (r *relay) attachedLocked() bool {
	return r.g.index[r.m.store] == r.m
}

func (r *relay) OnAccept(ctx context.Context, ev storage.Event) {
	g, m := r.g, r.m
	g.mu.Lock()
	if !r.attachedLocked() || ev.Delta.IsZero() {
		g.mu.Unlock()
		return
	}
	m.held[ev.Article] = m.held[ev.Article].Add(ev.Delta)
	g.existingLocked(ev.Article).add(m)
	out := g.addTallyLocked(ev.Article, ev.Delta)
	g.mu.Unlock()

	g.listeners.Accept(ctx, out)
}

func (r *relay) OnSupply(ctx context.Context, ev storage.Event) {
	g, m := r.g, r.m
	g.mu.Lock()
	if !r.attachedLocked() || ev.Delta.IsZero() {
		g.mu.Unlock()
		return
	}
	if held := m.held[ev.Article].Subtract(ev.Delta); held.IsPositive() {
		m.held[ev.Article] = held
	} else {
		delete(m.held, ev.Article)
		g.dropExistingLocked(ev.Article, m)
	}
	out, ok := g.subTallyLocked(ev.Article, ev.Delta)
	g.mu.Unlock()

	if ok {
		g.listeners.Supply(ctx, out)
	}
}

func (r *relay) OnCapacityChange(ctx context.Context, _ storage.Store, capacity types.Fraction) {
	g, m := r.g, r.m
	g.mu.Lock()
	if !r.attachedLocked() || m.capacity.Equal(capacity) {
		g.mu.Unlock()
		return
	}
	g.capacity = g.capacity.Subtract(m.capacity).Add(capacity)
	m.capacity = capacity
	total := g.capacity
	g.mu.Unlock()

	g.listeners.CapacityChange(ctx, g, total)
}

func (r *relay) OnDisconnect(ctx context.Context, _ storage.Store) {
	g := r.g
	g.mu.RLock()
	attached := r.attachedLocked()
	g.mu.RUnlock()
	if !attached {
		return
	}
	g.logger.Warn("aggregate member disconnected",
		"aggregate_id", g.id.String(),
		"store_id", r.m.store.ID().String(),
	)
	g.detach(ctx, r.m)
}

// ──────────────────────────────────────────────────
// Views
// ──────────────────────────────────────────────────

func (g *Aggregate) AmountOf(a article.Article) types.Fraction {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if e := g.tally[a]; e != nil {
		return e.amount.ToImmutable()
	}
	return types.Zero
}

func (g *Aggregate) CountOf(a article.Article) int64 {
	return g.AmountOf(a).ToLong(1)
}

func (g *Aggregate) View(h int) storage.StoredArticleView {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if h < 0 || h >= len(g.handles) {
		return storage.Empty
	}
	a := g.handles[h]
	e := g.tally[a]
	if a.IsNothing() || e == nil {
		return storage.ViewOf(h, article.Nothing, types.Zero)
	}
	return storage.ViewOf(h, a, e.amount.ToImmutable())
}

func (g *Aggregate) HandleCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.handles)
}

func (g *Aggregate) ForEach(fn func(v storage.StoredArticleView) bool) {
	g.mu.RLock()
	views := make([]storage.StoredArticleView, 0, len(g.tally))
	for h, a := range g.handles {
		if e := g.tally[a]; !a.IsNothing() && e != nil {
			views = append(views, storage.ViewOf(h, a, e.amount.ToImmutable()))
		}
	}
	g.mu.RUnlock()

	for _, v := range views {
		if !fn(v) {
			return
		}
	}
}

func (g *Aggregate) Capacity() types.Fraction {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.capacity
}

func (g *Aggregate) Volume() types.Fraction {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.volume
}

func (g *Aggregate) IsFull() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.volume.Compare(g.capacity) >= 0
}

func (g *Aggregate) IsEmpty() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.volume.IsZero()
}

func (g *Aggregate) IsValid() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.valid
}

// ──────────────────────────────────────────────────
// Listeners
// ──────────────────────────────────────────────────

func (g *Aggregate) StartListening(ctx context.Context, l storage.Listener, catchUp bool) storage.Subscription {
	tx, txCtx := g.mgr.Open(ctx)
	defer tx.Close()

	if !g.IsValid() {
		l.OnDisconnect(txCtx, g)
		tx.Commit()
		return storage.Subscription{}
	}
	sub := g.listeners.Add(g.id, l)
	if catchUp {
		storage.CatchUp(txCtx, g, l)
	}
	tx.Commit()
	return sub
}

func (g *Aggregate) StopListening(ctx context.Context, sub storage.Subscription, teardown bool) {
	tx, txCtx := g.mgr.Open(ctx)
	defer tx.Close()

	if l, ok := g.listeners.Remove(sub); ok && teardown {
		storage.Teardown(txCtx, g, l)
	}
	tx.Commit()
}

// Disconnect stops listening to every member and invalidates the
// aggregate. Members are left untouched.
func (g *Aggregate) Disconnect(ctx context.Context) {
	tx, txCtx := g.mgr.Open(ctx)
	defer tx.Close()

	g.mu.Lock()
	wasValid := g.valid
	g.valid = false
	members := g.members.snapshot()
	g.mu.Unlock()

	if wasValid {
		for _, m := range members {
			m.store.StopListening(txCtx, m.sub, false)
		}
		g.logger.Debug("store disconnected", "store_id", g.id.String(), "kind", Kind)
		g.listeners.Disconnect(txCtx, g)
	}
	tx.Commit()
}

// WriteState is not supported: an aggregate's contents belong to its
// members.
func (g *Aggregate) WriteState() ([]byte, error) {
	return nil, storage.ErrUnsupported
}

// ReadState is not supported.
func (g *Aggregate) ReadState(context.Context, []byte) error {
	return storage.ErrUnsupported
}
