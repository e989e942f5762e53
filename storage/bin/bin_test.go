package bin

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/stockpile/article"
	"github.com/xraph/stockpile/storage"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

var (
	stone = article.Of(article.Discrete("stone"))
	iron  = article.Of(article.Discrete("iron"))
	water = article.Of(article.Bulk("water"))
)

func counts(b *Bin) []int64 {
	out := make([]int64, b.HandleCount())
	for h := range out {
		out[h] = b.View(h).Count
	}
	return out
}

func equal(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestInsertFillsMatchingSlotsFirst(t *testing.T) {
	ctx := context.Background()
	b := New(txn.NewManager(), 4, 10)

	b.Consumer().Apply(ctx, stone, 4, false)
	b.Consumer().Apply(ctx, iron, 3, false)

	// 6 more stone top up slot 0, then spill into slot 2.
	if got := b.Consumer().Apply(ctx, stone, 9, false); got != 9 {
		t.Fatalf("accept: got %d, want 9", got)
	}
	if got, want := counts(b), []int64{10, 3, 3, 0}; !equal(got, want) {
		t.Errorf("slots: got %v, want %v", got, want)
	}
	if got := b.CountOf(stone); got != 13 {
		t.Errorf("stone: got %d, want 13", got)
	}
}

func TestInsertLimitedByCapacity(t *testing.T) {
	ctx := context.Background()
	b := New(txn.NewManager(), 2, 5)

	if got := b.Consumer().Apply(ctx, stone, 12, false); got != 10 {
		t.Errorf("accept: got %d, want 10", got)
	}
	if !b.IsFull() {
		t.Error("expected bin to be full")
	}
	if got := b.Consumer().Apply(ctx, stone, 1, false); got != 0 {
		t.Errorf("accept into full bin: got %d, want 0", got)
	}
	if !b.Capacity().Equal(types.Whole(10)) || !b.Volume().Equal(types.Whole(10)) {
		t.Errorf("capacity %s volume %s", b.Capacity(), b.Volume())
	}
}

func TestExtractDrainsFromLastHandle(t *testing.T) {
	ctx := context.Background()
	b := New(txn.NewManager(), 3, 5)
	b.Consumer().Apply(ctx, stone, 12, false)

	if got := b.Supplier().Apply(ctx, stone, 4, false); got != 4 {
		t.Fatalf("supply: got %d, want 4", got)
	}
	if got, want := counts(b), []int64{5, 3, 0}; !equal(got, want) {
		t.Errorf("slots: got %v, want %v", got, want)
	}
	if !b.View(2).Article.IsNothing() {
		t.Error("drained slot should reset to nothing")
	}
}

func TestBulkRefused(t *testing.T) {
	b := New(txn.NewManager(), 2, 5)
	if got := b.Consumer().ApplyFraction(context.Background(), water, types.Whole(3), 1, false); !got.IsZero() {
		t.Errorf("got %s, want 0", got)
	}
}

func TestSimulateIdempotence(t *testing.T) {
	ctx := context.Background()
	b := New(txn.NewManager(), 3, 4)
	b.Consumer().Apply(ctx, iron, 2, false)

	sim := b.Consumer().Apply(ctx, stone, 20, true)
	if got := b.Consumer().Apply(ctx, stone, 20, false); got != sim || got != 8 {
		t.Errorf("accept: simulated %d, real %d, want 8", sim, got)
	}
	sim = b.Supplier().Apply(ctx, stone, 5, true)
	if got := b.Supplier().Apply(ctx, stone, 5, false); got != sim || got != 5 {
		t.Errorf("supply: simulated %d, real %d, want 5", sim, got)
	}
}

func TestRollback(t *testing.T) {
	ctx := context.Background()
	mgr := txn.NewManager()
	b := New(mgr, 3, 5)
	b.Consumer().Apply(ctx, stone, 7, false)
	before := counts(b)

	r := storage.NewReplica()
	b.StartListening(ctx, r, true)

	tx, txCtx := mgr.Open(ctx)
	b.Supplier().Apply(txCtx, stone, 7, false)
	b.Consumer().Apply(txCtx, iron, 11, false)
	tx.Rollback()

	if got := counts(b); !equal(got, before) {
		t.Errorf("slots: got %v, want %v", got, before)
	}
	if !r.AmountOf(stone).Equal(types.Whole(7)) || !r.AmountOf(iron).IsZero() {
		t.Errorf("replica: stone %s iron %s", r.AmountOf(stone), r.AmountOf(iron))
	}
}

func TestCatchUpAndTeardown(t *testing.T) {
	ctx := context.Background()
	b := New(txn.NewManager(), 3, 5)
	b.Consumer().Apply(ctx, stone, 7, false)
	b.Consumer().Apply(ctx, iron, 2, false)

	r := storage.NewReplica()
	sub := b.StartListening(ctx, r, true)
	if got := len(r.Views()); got != 3 {
		t.Fatalf("catch-up views: got %d, want 3", got)
	}
	if !r.Capacity().Equal(types.Whole(15)) {
		t.Errorf("capacity: got %s", r.Capacity())
	}

	b.StopListening(ctx, sub, true)
	if !r.IsEmpty() {
		t.Errorf("teardown left %+v", r.Views())
	}
}

func TestStateRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := New(txn.NewManager(), 3, 5)
	src.Consumer().Apply(ctx, stone, 7, false)
	src.Consumer().Apply(ctx, iron, 1, false)

	blob, err := src.WriteState()
	if err != nil {
		t.Fatalf("WriteState: %v", err)
	}

	dst := New(txn.NewManager(), 3, 5)
	if err := dst.ReadState(ctx, blob); err != nil {
		t.Fatalf("ReadState: %v", err)
	}
	if got, want := counts(dst), counts(src); !equal(got, want) {
		t.Errorf("slots: got %v, want %v", got, want)
	}

	small := New(txn.NewManager(), 1, 5)
	if err := small.ReadState(ctx, blob); !errors.Is(err, storage.ErrMalformedState) {
		t.Errorf("out-of-range slot: got %v", err)
	}
}

func TestDisconnect(t *testing.T) {
	ctx := context.Background()
	b := New(txn.NewManager(), 1, 5)
	r := storage.NewReplica()
	b.StartListening(ctx, r, false)

	b.Disconnect(ctx)
	if !r.Disconnected() || b.Consumer().CanApply() {
		t.Fatal("expected invalid bin")
	}
	if got := b.Consumer().Apply(ctx, stone, 1, false); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestListenAfterDisconnect(t *testing.T) {
	ctx := context.Background()
	b := New(txn.NewManager(), 1, 5)
	b.Consumer().Apply(ctx, stone, 3, false)
	b.Disconnect(ctx)

	r := storage.NewReplica()
	sub := b.StartListening(ctx, r, true)
	if !sub.IsZero() || !r.Disconnected() || !r.IsEmpty() {
		t.Errorf("late listener: sub %s disconnected %v empty %v", sub.ID(), r.Disconnected(), r.IsEmpty())
	}
}

func TestNewPanicsOnBadShape(t *testing.T) {
	defer func() {
		err, ok := recover().(error)
		if !ok || !errors.Is(err, types.ErrInvalidArgument) {
			t.Errorf("expected invalid argument panic, got %v", err)
		}
	}()
	New(txn.NewManager(), 0, 5)
}
