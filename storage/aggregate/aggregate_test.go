package aggregate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/xraph/stockpile/article"
	"github.com/xraph/stockpile/storage"
	"github.com/xraph/stockpile/storage/bin"
	"github.com/xraph/stockpile/storage/tank"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

var (
	water = article.Of(article.Bulk("water"))
	lava  = article.Of(article.Bulk("lava"))
	stone = article.Of(article.Discrete("stone"))
)

// countingStore wraps a store and counts calls to its endpoints.
type countingStore struct {
	storage.Store
	mu       sync.Mutex
	consumes int
	supplies int
}

func (c *countingStore) Consumer() storage.ArticleFunction {
	return &countingFunc{inner: c.Store.Consumer(), hit: func() { c.mu.Lock(); c.consumes++; c.mu.Unlock() }}
}

func (c *countingStore) Supplier() storage.ArticleFunction {
	return &countingFunc{inner: c.Store.Supplier(), hit: func() { c.mu.Lock(); c.supplies++; c.mu.Unlock() }}
}

type countingFunc struct {
	inner storage.ArticleFunction
	hit   func()
}

func (f *countingFunc) Apply(ctx context.Context, a article.Article, count int64, simulate bool) int64 {
	f.hit()
	return f.inner.Apply(ctx, a, count, simulate)
}

func (f *countingFunc) ApplyFraction(ctx context.Context, a article.Article, amount types.Fraction, divisor int64, simulate bool) types.Fraction {
	f.hit()
	return f.inner.ApplyFraction(ctx, a, amount, divisor, simulate)
}

func (f *countingFunc) CanApply() bool { return f.inner.CanApply() }

func setup(t *testing.T, capacities ...int64) (*Aggregate, []*tank.Tank, *txn.Manager) {
	t.Helper()
	mgr := txn.NewManager()
	g := New(mgr)
	tanks := make([]*tank.Tank, len(capacities))
	for i, c := range capacities {
		tanks[i] = tank.NewUnits(mgr, c)
		if err := g.AddMember(context.Background(), tanks[i]); err != nil {
			t.Fatalf("AddMember: %v", err)
		}
	}
	return g, tanks, mgr
}

// checkConsistency verifies that the aggregate's tally equals the sum over
// its members for every article.
func checkConsistency(t *testing.T, g *Aggregate, articles ...article.Article) {
	t.Helper()
	for _, a := range articles {
		sum := types.Zero
		for _, m := range g.Members() {
			sum = sum.Add(m.AmountOf(a))
		}
		if got := g.AmountOf(a); !got.Equal(sum) {
			t.Errorf("%s: aggregate %s, members %s", a, got, sum)
		}
		for _, m := range g.Existing(a) {
			if !m.AmountOf(a).IsPositive() {
				t.Errorf("%s: existing holds empty member %s", a, m.ID())
			}
		}
		holders := 0
		for _, m := range g.Members() {
			if m.AmountOf(a).IsPositive() {
				holders++
			}
		}
		if holders != len(g.Existing(a)) {
			t.Errorf("%s: %d holders, existing has %d", a, holders, len(g.Existing(a)))
		}
	}
	volume := types.Zero
	capacity := types.Zero
	for _, m := range g.Members() {
		volume = volume.Add(m.Volume())
		capacity = capacity.Add(m.Capacity())
	}
	if !g.Volume().Equal(volume) || !g.Capacity().Equal(capacity) {
		t.Errorf("volume %s/%s capacity %s/%s", g.Volume(), volume, g.Capacity(), capacity)
	}
}

func TestTwoTankScenario(t *testing.T) {
	ctx := context.Background()
	g, tanks, _ := setup(t, 5, 5)

	if got := g.Consumer().Apply(ctx, water, 8, false); got != 8 {
		t.Fatalf("accept: got %d, want 8", got)
	}
	if got := tanks[0].CountOf(water) + tanks[1].CountOf(water); got != 8 {
		t.Errorf("members hold %d, want 8", got)
	}
	if got := len(g.Existing(water)); got != 2 {
		t.Errorf("existing: got %d members, want 2", got)
	}
	checkConsistency(t, g, water)
}

func TestExistingMembersTriedFirst(t *testing.T) {
	ctx := context.Background()
	g, tanks, _ := setup(t, 10, 10, 10)

	// Seed the last tank directly.
	tanks[2].Consumer().Apply(ctx, water, 1, false)

	g.Consumer().Apply(ctx, water, 4, false)
	if got := tanks[2].CountOf(water); got != 5 {
		t.Errorf("existing member: got %d, want 5", got)
	}
	if tanks[0].CountOf(water) != 0 || tanks[1].CountOf(water) != 0 {
		t.Error("side members should not be touched while existing has room")
	}
	checkConsistency(t, g, water)
}

func TestSupplyOnlyConsultsExisting(t *testing.T) {
	ctx := context.Background()
	mgr := txn.NewManager()
	g := New(mgr)
	wrapped := make([]*countingStore, 3)
	for i := range wrapped {
		wrapped[i] = &countingStore{Store: tank.NewUnits(mgr, 10)}
		if err := g.AddMember(ctx, wrapped[i]); err != nil {
			t.Fatalf("AddMember: %v", err)
		}
	}

	wrapped[1].Store.Consumer().Apply(ctx, water, 6, false)
	if got := g.Supplier().Apply(ctx, water, 10, false); got != 6 {
		t.Fatalf("supply: got %d, want 6", got)
	}
	if wrapped[0].supplies != 0 || wrapped[2].supplies != 0 {
		t.Errorf("non-holders consulted: %d, %d", wrapped[0].supplies, wrapped[2].supplies)
	}
	if wrapped[1].supplies != 1 {
		t.Errorf("holder consulted %d times, want 1", wrapped[1].supplies)
	}
	if len(g.Existing(water)) != 0 {
		t.Error("drained member should leave existing")
	}
}

func TestSimulateLeavesIndexAlone(t *testing.T) {
	ctx := context.Background()
	g, _, _ := setup(t, 5, 5)

	sim := g.Consumer().Apply(ctx, water, 8, true)
	if sim != 8 {
		t.Errorf("simulate: got %d, want 8", sim)
	}
	if len(g.Existing(water)) != 0 || !g.IsEmpty() {
		t.Error("simulate mutated the aggregate")
	}
	if got := g.Consumer().Apply(ctx, water, 8, false); got != sim {
		t.Errorf("real: got %d, simulated %d", got, sim)
	}

	sim = g.Supplier().Apply(ctx, water, 7, true)
	if got := g.Supplier().Apply(ctx, water, 7, false); got != sim || got != 7 {
		t.Errorf("supply: simulated %d, real %d", sim, got)
	}
	checkConsistency(t, g, water)
}

func TestFullExistingMemberStaysIndexed(t *testing.T) {
	ctx := context.Background()
	g, tanks, _ := setup(t, 3, 10)

	tanks[0].Consumer().Apply(ctx, water, 3, false)
	if got := g.Consumer().Apply(ctx, water, 4, false); got != 4 {
		t.Fatalf("accept: got %d, want 4", got)
	}
	existing := g.Existing(water)
	if len(existing) != 2 {
		t.Fatalf("existing: got %d, want 2", len(existing))
	}
	if existing[0] != storage.Store(tanks[0]) {
		t.Error("full member should keep its place in existing")
	}
}

func TestNoMixingAcrossMembers(t *testing.T) {
	ctx := context.Background()
	g, tanks, _ := setup(t, 5, 5)

	tanks[0].Consumer().Apply(ctx, lava, 1, false)
	if got := g.Consumer().Apply(ctx, water, 10, false); got != 5 {
		t.Errorf("accept: got %d, want 5", got)
	}
	checkConsistency(t, g, water, lava)
}

func TestRollbackAtomicity(t *testing.T) {
	ctx := context.Background()
	g, tanks, mgr := setup(t, 5, 5, 5)
	g.Consumer().Apply(ctx, water, 7, false)
	tanks[2].Consumer().Apply(ctx, lava, 2, false)

	r := storage.NewReplica()
	g.StartListening(ctx, r, true)

	type state struct {
		counts   [3]int64
		articles [3]article.Article
		water    types.Fraction
		lava     types.Fraction
		existing int
	}
	snap := func() state {
		var s state
		for i, tk := range tanks {
			s.counts[i] = tk.Volume().ToLong(1)
			s.articles[i] = tk.Article()
		}
		s.water, s.lava = g.AmountOf(water), g.AmountOf(lava)
		s.existing = len(g.Existing(water))
		return s
	}
	before := snap()

	tx, txCtx := mgr.Open(ctx)
	g.Supplier().Apply(txCtx, water, 7, false)
	g.Consumer().Apply(txCtx, lava, 9, false)
	tanks[1].SetCapacity(txCtx, types.Whole(50))
	g.Consumer().Apply(txCtx, lava, 20, false)
	tx.Rollback()

	after := snap()
	if after.counts != before.counts || after.articles != before.articles || after.existing != before.existing {
		t.Errorf("members: before %+v, after %+v", before, after)
	}
	if !after.water.Equal(before.water) || !after.lava.Equal(before.lava) {
		t.Errorf("tally: water %s/%s lava %s/%s", after.water, before.water, after.lava, before.lava)
	}
	if !r.AmountOf(water).Equal(before.water) || !r.AmountOf(lava).Equal(before.lava) {
		t.Errorf("replica: water %s lava %s", r.AmountOf(water), r.AmountOf(lava))
	}
	if !g.Capacity().Equal(types.Whole(15)) {
		t.Errorf("capacity: got %s, want 15", g.Capacity())
	}
	checkConsistency(t, g, water, lava)
}

func TestConsistencyUnderMixedOperations(t *testing.T) {
	ctx := context.Background()
	mgr := txn.NewManager()
	g := New(mgr)
	tanks := []*tank.Tank{tank.NewUnits(mgr, 7), tank.NewUnits(mgr, 4), tank.NewUnits(mgr, 9)}
	b := bin.New(mgr, 3, 4)
	for _, s := range []storage.Store{tanks[0], tanks[1], b, tanks[2]} {
		if err := g.AddMember(ctx, s); err != nil {
			t.Fatalf("AddMember: %v", err)
		}
	}

	ops := []struct {
		target storage.Store
		a      article.Article
		amount types.Fraction
		accept bool
	}{
		{g, water, types.Of(5, 1, 2), true},
		{g, stone, types.Whole(6), true},
		{tanks[1], lava, types.Whole(3), true},
		{g, water, types.Whole(9), true},
		{g, water, types.Of(2, 3, 4), false},
		{tanks[0], water, types.Whole(7), false},
		{g, lava, types.Whole(10), true},
		{b, stone, types.Whole(2), false},
		{g, stone, types.Whole(20), true},
		{g, water, types.Whole(100), false},
		{g, lava, types.Ratio(1, 3), false},
	}

	for i, op := range ops {
		t.Run(fmt.Sprintf("op %d", i), func(t *testing.T) {
			fn := op.target.Supplier()
			if op.accept {
				fn = op.target.Consumer()
			}
			sim := fn.ApplyFraction(ctx, op.a, op.amount, 12, true)
			got := fn.ApplyFraction(ctx, op.a, op.amount, 12, false)
			if !got.Equal(sim) {
				t.Errorf("simulated %s, moved %s", sim, got)
			}
			if got.GreaterThan(op.amount) {
				t.Errorf("over-delivery: %s > %s", got, op.amount)
			}
			checkConsistency(t, g, water, lava, stone)
		})
	}
}

func TestRemoveMember(t *testing.T) {
	ctx := context.Background()
	g, tanks, _ := setup(t, 5, 5)
	g.Consumer().Apply(ctx, water, 8, false)

	if !g.RemoveMember(ctx, tanks[0]) {
		t.Fatal("expected tanks[0] to be removed")
	}
	if g.RemoveMember(ctx, tanks[0]) {
		t.Error("second removal should report false")
	}
	if got := g.CountOf(water); got != 3 {
		t.Errorf("tally: got %d, want 3", got)
	}
	if !g.Capacity().Equal(types.Whole(5)) {
		t.Errorf("capacity: got %s, want 5", g.Capacity())
	}
	if tanks[0].CountOf(water) != 5 {
		t.Error("removal must not touch the member's contents")
	}
	checkConsistency(t, g, water)
}

func TestMemberDisconnect(t *testing.T) {
	ctx := context.Background()
	g, tanks, _ := setup(t, 5, 5)
	g.Consumer().Apply(ctx, water, 8, false)

	r := storage.NewReplica()
	g.StartListening(ctx, r, true)

	tanks[0].Disconnect(ctx)
	if len(g.Members()) != 1 {
		t.Fatalf("members: got %d, want 1", len(g.Members()))
	}
	if got := g.CountOf(water); got != 3 {
		t.Errorf("tally: got %d, want 3", got)
	}
	if !r.AmountOf(water).Equal(types.Whole(3)) {
		t.Errorf("replica: got %s, want 3", r.AmountOf(water))
	}
	if got := g.Consumer().Apply(ctx, water, 10, false); got != 2 {
		t.Errorf("accept after disconnect: got %d, want 2", got)
	}
	checkConsistency(t, g, water)
}

func TestAddMemberErrors(t *testing.T) {
	ctx := context.Background()
	g, tanks, mgr := setup(t, 5)

	if err := g.AddMember(ctx, tanks[0]); !errors.Is(err, ErrDuplicateMember) {
		t.Errorf("duplicate: got %v", err)
	}

	dead := tank.NewUnits(mgr, 5)
	dead.Disconnect(ctx)
	if err := g.AddMember(ctx, dead); !errors.Is(err, storage.ErrInvalidStore) {
		t.Errorf("invalid: got %v", err)
	}

	defer func() {
		err, ok := recover().(error)
		if !ok || !errors.Is(err, types.ErrInvalidArgument) {
			t.Errorf("self membership: expected panic, got %v", err)
		}
	}()
	g.AddMember(ctx, g) //nolint:errcheck // panics
}

func TestAddMemberLogsCapacity(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	mgr := txn.NewManager()
	g := New(mgr, WithLogger(logger))

	if err := g.AddMember(context.Background(), tank.New(mgr, types.Of(2, 1, 4))); err != nil {
		t.Fatal(err)
	}
	if out := buf.String(); !strings.Contains(out, "capacity=2.25") {
		t.Errorf("log line lacks decimal capacity: %s", out)
	}
}

func TestAddMemberRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	mgr := txn.NewManager()

	tests := []struct {
		name  string
		build func() (g *Aggregate, candidate storage.Store)
		want  error
	}{
		{
			name: "tank already nested",
			build: func() (*Aggregate, storage.Store) {
				shared := tank.NewUnits(mgr, 4)
				inner, g := New(mgr), New(mgr)
				inner.AddMember(ctx, shared) //nolint:errcheck
				g.AddMember(ctx, inner)      //nolint:errcheck
				return g, shared
			},
			want: ErrDuplicateMember,
		},
		{
			name: "aggregate holding a direct member",
			build: func() (*Aggregate, storage.Store) {
				shared := tank.NewUnits(mgr, 4)
				inner, g := New(mgr), New(mgr)
				g.AddMember(ctx, shared)     //nolint:errcheck
				inner.AddMember(ctx, shared) //nolint:errcheck
				return g, inner
			},
			want: ErrDuplicateMember,
		},
		{
			name: "aggregate containing the target",
			build: func() (*Aggregate, storage.Store) {
				g, outer := New(mgr), New(mgr)
				outer.AddMember(ctx, g) //nolint:errcheck
				return g, outer
			},
			want: ErrCyclicMember,
		},
		{
			name: "foreign manager",
			build: func() (*Aggregate, storage.Store) {
				return New(mgr), tank.NewUnits(txn.NewManager(), 4)
			},
			want: txn.ErrForeignManager,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, candidate := tt.build()
			before := len(g.Members())
			if err := g.AddMember(ctx, candidate); !errors.Is(err, tt.want) {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
			if got := len(g.Members()); got != before {
				t.Errorf("members: got %d, want %d", got, before)
			}
		})
	}
}

func TestListenAfterDisconnect(t *testing.T) {
	ctx := context.Background()
	g, tanks, _ := setup(t, 5)
	tanks[0].Consumer().Apply(ctx, water, 2, false)
	g.Disconnect(ctx)

	r := storage.NewReplica()
	sub := g.StartListening(ctx, r, true)
	if !sub.IsZero() || !r.Disconnected() || !r.IsEmpty() {
		t.Errorf("late listener: sub %s disconnected %v empty %v", sub.ID(), r.Disconnected(), r.IsEmpty())
	}
}

func TestNestedAggregates(t *testing.T) {
	ctx := context.Background()
	mgr := txn.NewManager()
	inner := New(mgr)
	outer := New(mgr)
	a, b, c := tank.NewUnits(mgr, 4), tank.NewUnits(mgr, 4), tank.NewUnits(mgr, 4)

	inner.AddMember(ctx, a) //nolint:errcheck
	inner.AddMember(ctx, b) //nolint:errcheck
	outer.AddMember(ctx, inner) //nolint:errcheck
	outer.AddMember(ctx, c) //nolint:errcheck

	if got := outer.Consumer().Apply(ctx, water, 10, false); got != 10 {
		t.Fatalf("accept: got %d, want 10", got)
	}
	if !outer.Capacity().Equal(types.Whole(12)) {
		t.Errorf("capacity: got %s, want 12", outer.Capacity())
	}
	if got := inner.CountOf(water) + c.CountOf(water); got != 10 {
		t.Errorf("members: got %d, want 10", got)
	}

	if got := outer.Supplier().Apply(ctx, water, 9, false); got != 9 {
		t.Errorf("supply: got %d, want 9", got)
	}
	checkConsistency(t, outer, water)
	checkConsistency(t, inner, water)
}

func TestCatchUpMatchesLiveListener(t *testing.T) {
	ctx := context.Background()
	g, tanks, _ := setup(t, 5, 5, 5)

	live := storage.NewReplica()
	g.StartListening(ctx, live, true)

	g.Consumer().Apply(ctx, water, 7, false)
	tanks[2].Consumer().Apply(ctx, lava, 4, false)
	g.Supplier().Apply(ctx, water, 7, false)
	g.Consumer().Apply(ctx, water, 2, false)

	late := storage.NewReplica()
	g.StartListening(ctx, late, true)

	lv, lt := live.Views(), late.Views()
	if len(lv) != len(lt) {
		t.Fatalf("live %+v, late %+v", lv, lt)
	}
	for i := range lv {
		if lv[i].Handle != lt[i].Handle || lv[i].Article != lt[i].Article || !lv[i].Amount.Equal(lt[i].Amount) {
			t.Errorf("handle %d: live %+v, late %+v", i, lv[i], lt[i])
		}
	}
	if !live.Capacity().Equal(late.Capacity()) {
		t.Errorf("capacity: live %s, late %s", live.Capacity(), late.Capacity())
	}
}

func TestHandlesAreReusedAfterZero(t *testing.T) {
	ctx := context.Background()
	g, _, _ := setup(t, 5)

	g.Consumer().Apply(ctx, water, 2, false)
	h := g.View(0)
	if h.Article != water {
		t.Fatalf("handle 0: got %+v", h)
	}
	g.Supplier().Apply(ctx, water, 2, false)
	g.Consumer().Apply(ctx, lava, 1, false)

	if g.HandleCount() != 1 || g.View(0).Article != lava {
		t.Errorf("expected lava on reused handle 0, got %+v (handles %d)", g.View(0), g.HandleCount())
	}
}

func TestPersistenceUnsupported(t *testing.T) {
	g, _, _ := setup(t, 5)
	if _, err := g.WriteState(); !errors.Is(err, storage.ErrUnsupported) {
		t.Errorf("WriteState: got %v", err)
	}
	if err := g.ReadState(context.Background(), nil); !errors.Is(err, storage.ErrUnsupported) {
		t.Errorf("ReadState: got %v", err)
	}
}

func TestDisconnectAggregate(t *testing.T) {
	ctx := context.Background()
	g, tanks, _ := setup(t, 5)
	r := storage.NewReplica()
	g.StartListening(ctx, r, false)

	g.Disconnect(ctx)
	if !r.Disconnected() || g.IsValid() {
		t.Fatal("expected disconnect broadcast")
	}
	if got := g.Consumer().Apply(ctx, water, 1, false); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
	if got := tanks[0].Consumer().Apply(ctx, water, 1, false); got != 1 {
		t.Errorf("member should stay usable, got %d", got)
	}
}

func TestConcurrentCallers(t *testing.T) {
	mgr := txn.NewManager()
	primary := mgr.SetPrimary(context.Background())
	g := New(mgr)
	for i := 0; i < 4; i++ {
		g.AddMember(primary, tank.NewUnits(mgr, 100)) //nolint:errcheck
	}

	var wg sync.WaitGroup
	worker := func(ctx context.Context) {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			if got := g.Consumer().Apply(ctx, water, 3, false); got != 3 {
				t.Errorf("accept: got %d", got)
				return
			}
			if got := g.Supplier().Apply(ctx, water, 2, false); got != 2 {
				t.Errorf("supply: got %d", got)
				return
			}
		}
	}
	wg.Add(3)
	go worker(primary)
	go worker(context.Background())
	go worker(context.Background())
	wg.Wait()

	if got := g.CountOf(water); got != 300 {
		t.Errorf("tally: got %d, want 300", got)
	}
	checkConsistency(t, g, water)
}

func BenchmarkRouting(b *testing.B) {
	ctx := context.Background()
	mgr := txn.NewManager()
	g := New(mgr)
	for i := 0; i < 64; i++ {
		g.AddMember(ctx, tank.NewUnits(mgr, 10)) //nolint:errcheck
	}
	g.Consumer().Apply(ctx, water, 5, false)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.Consumer().Apply(ctx, water, 3, false)
		g.Supplier().Apply(ctx, water, 3, false)
	}
}
