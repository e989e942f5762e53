package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/stockpile/article"
	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/types"
)

var (
	water = article.Of(article.Bulk("water"))
	lava  = article.Of(article.Bulk("lava"))
	stone = article.Of(article.Discrete("stone"))
)

// limitMove accepts up to limit, rounded to the requested divisor.
func limitMove(limit types.Fraction) MoveFunc {
	return func(_ context.Context, _ article.Article, max types.Fraction, divisor int64, _ bool) types.Fraction {
		return max.Min(limit).RoundDown(divisor)
	}
}

func expectPanic(t *testing.T, target error, fn func()) {
	t.Helper()
	defer func() {
		r := recover()
		err, ok := r.(error)
		if !ok || !errors.Is(err, target) {
			t.Errorf("expected panic wrapping %v, got %v", target, r)
		}
	}()
	fn()
}

func TestEndpointDiscreteMatchesFractional(t *testing.T) {
	ctx := context.Background()
	e := NewEndpoint(limitMove(types.Of(2, 1, 2)), nil)

	tests := []struct {
		name  string
		a     article.Article
		count int64
	}{
		{"Bulk under limit", water, 2},
		{"Bulk over limit", water, 5},
		{"Discrete over limit", stone, 5},
		{"Zero", water, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			discrete := e.Apply(ctx, tt.a, tt.count, true)
			fractional := e.ApplyFraction(ctx, tt.a, types.Whole(tt.count), 1, true)
			if !fractional.Equal(types.Whole(discrete)) {
				t.Errorf("discrete %d != fractional %s", discrete, fractional)
			}
			if discrete > tt.count {
				t.Errorf("over-delivery: %d > %d", discrete, tt.count)
			}
		})
	}
}

func TestEndpointDiscreteArticlesMoveWholeUnits(t *testing.T) {
	e := NewEndpoint(limitMove(types.Whole(10)), nil)
	got := e.ApplyFraction(context.Background(), stone, types.Of(3, 1, 2), 2, false)
	if !got.Equal(types.Whole(3)) {
		t.Errorf("got %s, want 3", got)
	}
	got = e.ApplyFraction(context.Background(), water, types.Of(3, 1, 2), 2, false)
	if !got.Equal(types.Of(3, 1, 2)) {
		t.Errorf("got %s, want 3 1/2", got)
	}
}

func TestApplyUnits(t *testing.T) {
	e := NewEndpoint(limitMove(types.Ratio(3, 4)), nil)
	if got := ApplyUnits(context.Background(), e, water, 2, 4, true); got != 2 {
		t.Errorf("2/4: got %d, want 2", got)
	}
	if got := ApplyUnits(context.Background(), e, water, 7, 4, true); got != 3 {
		t.Errorf("7/4: got %d, want 3", got)
	}
}

func TestPreconditions(t *testing.T) {
	ctx := context.Background()
	e := NewEndpoint(limitMove(types.Whole(1)), nil)

	expectPanic(t, types.ErrInvalidArgument, func() { e.Apply(ctx, water, -1, false) })
	expectPanic(t, types.ErrInvalidArgument, func() { e.ApplyFraction(ctx, water, types.Whole(-1), 1, false) })
	expectPanic(t, types.ErrInvalidArgument, func() { e.ApplyFraction(ctx, water, types.One, 0, false) })
	expectPanic(t, article.ErrInvalidArticle, func() { e.Apply(ctx, article.Nothing, 1, false) })
	expectPanic(t, article.ErrInvalidArticle, func() { Rejecting.Apply(ctx, article.Nothing, 1, false) })
	expectPanic(t, types.ErrInvalidArgument, func() { ApplyUnits(ctx, e, water, 1, 0, false) })
}

func TestRejecting(t *testing.T) {
	if Rejecting.CanApply() {
		t.Error("Rejecting.CanApply() should be false")
	}
	if got := Rejecting.Apply(context.Background(), water, 5, false); got != 0 {
		t.Errorf("got %d, want 0", got)
	}
}

func TestViewOf(t *testing.T) {
	v := ViewOf(2, water, types.Of(1, 1, 2))
	if v.Count != 1 || v.Handle != 2 || v.IsEmpty() {
		t.Errorf("view: got %+v", v)
	}
	if e := ViewOf(3, water, types.Zero); !e.IsEmpty() || !e.Article.IsNothing() || e.Handle != 3 {
		t.Errorf("empty view: got %+v", e)
	}
	if !Empty.IsEmpty() || Empty.Handle != NoHandle {
		t.Errorf("Empty: got %+v", Empty)
	}
}

func TestListenersAddRemove(t *testing.T) {
	var ls Listeners
	store := id.NewStoreID()
	a, b := NewReplica(), NewReplica()

	subA := ls.Add(store, a)
	ls.Add(store, b)
	if ls.Len() != 2 {
		t.Fatalf("len: got %d, want 2", ls.Len())
	}
	if subA.StoreID().String() != store.String() || subA.IsZero() {
		t.Errorf("subscription: got %+v", subA)
	}

	if l, ok := ls.Remove(subA); !ok || l != Listener(a) {
		t.Error("expected to remove a")
	}
	if _, ok := ls.Remove(subA); ok {
		t.Error("second remove should fail")
	}
	if _, ok := ls.Remove(Subscription{}); ok {
		t.Error("zero subscription should not match")
	}

	ls.Accept(context.Background(), Event{Handle: 0, Article: water, Delta: types.One, Total: types.One})
	if a.Events() != 0 || b.Events() != 1 {
		t.Errorf("events: a=%d b=%d", a.Events(), b.Events())
	}
}

func TestDiff(t *testing.T) {
	tests := []struct {
		name   string
		before Contents
		after  Contents
		want   []StoredArticleView
		events int
	}{
		{
			name:   "Fill",
			before: Contents{},
			after:  Contents{Article: water, Amount: types.Whole(3)},
			want:   []StoredArticleView{ViewOf(0, water, types.Whole(3))},
			events: 1,
		},
		{
			name:   "Drain",
			before: Contents{Article: water, Amount: types.Whole(3)},
			after:  Contents{},
			want:   nil,
			events: 1,
		},
		{
			name:   "Grow",
			before: Contents{Article: water, Amount: types.Whole(1)},
			after:  Contents{Article: water, Amount: types.Of(2, 1, 2)},
			want:   []StoredArticleView{ViewOf(0, water, types.Of(2, 1, 2))},
			events: 1,
		},
		{
			name:   "Switch article",
			before: Contents{Article: water, Amount: types.Whole(1)},
			after:  Contents{Article: lava, Amount: types.Whole(2)},
			want:   []StoredArticleView{ViewOf(0, lava, types.Whole(2))},
			events: 2,
		},
		{
			name:   "Unchanged",
			before: Contents{Article: water, Amount: types.Whole(1)},
			after:  Contents{Article: water, Amount: types.Whole(1)},
			want:   []StoredArticleView{ViewOf(0, water, types.Whole(1))},
			events: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ls Listeners
			r := NewReplica()
			// Seed the replica with the starting state.
			if !tt.before.IsEmpty() {
				r.OnAccept(context.Background(), Event{Article: tt.before.Article, Delta: tt.before.Amount, Total: tt.before.Amount})
			}
			seeded := r.Events()
			ls.Add(id.NewStoreID(), r)

			ls.Diff(context.Background(), nil, 0, tt.before, tt.after)

			if got := r.Events() - seeded; got != tt.events {
				t.Errorf("events: got %d, want %d", got, tt.events)
			}
			views := r.Views()
			if len(views) != len(tt.want) {
				t.Fatalf("views: got %+v, want %+v", views, tt.want)
			}
			for i := range views {
				if views[i].Article != tt.want[i].Article || !views[i].Amount.Equal(tt.want[i].Amount) {
					t.Errorf("view %d: got %+v, want %+v", i, views[i], tt.want[i])
				}
			}
		})
	}
}
