package storage

import (
	"context"
	"sync"

	"github.com/xraph/stockpile/article"
	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/types"
)

// Event describes a change of one handle. Delta is always non-negative:
// the amount accepted for OnAccept and the amount supplied for OnSupply.
// Total is the handle's amount after the change.
type Event struct {
	Store   Store
	Handle  int
	Article article.Article
	Delta   types.Fraction
	Total   types.Fraction
}

// Listener observes a store.
//
// A handle never switches to a different article without first receiving an
// OnSupply that brings it to zero.
type Listener interface {
	OnAccept(ctx context.Context, ev Event)
	OnSupply(ctx context.Context, ev Event)
	OnCapacityChange(ctx context.Context, s Store, capacity types.Fraction)
	OnDisconnect(ctx context.Context, s Store)
}

// ListenerFuncs implements Listener with optional callbacks.
type ListenerFuncs struct {
	Accept         func(ctx context.Context, ev Event)
	Supply         func(ctx context.Context, ev Event)
	CapacityChange func(ctx context.Context, s Store, capacity types.Fraction)
	Disconnect     func(ctx context.Context, s Store)
}

var _ Listener = (*ListenerFuncs)(nil)

func (f *ListenerFuncs) OnAccept(ctx context.Context, ev Event) {
	if f.Accept != nil {
		f.Accept(ctx, ev)
	}
}

func (f *ListenerFuncs) OnSupply(ctx context.Context, ev Event) {
	if f.Supply != nil {
		f.Supply(ctx, ev)
	}
}

func (f *ListenerFuncs) OnCapacityChange(ctx context.Context, s Store, capacity types.Fraction) {
	if f.CapacityChange != nil {
		f.CapacityChange(ctx, s, capacity)
	}
}

func (f *ListenerFuncs) OnDisconnect(ctx context.Context, s Store) {
	if f.Disconnect != nil {
		f.Disconnect(ctx, s)
	}
}

// Subscription identifies one registration of a listener with a store.
type Subscription struct {
	id    id.SubscriptionID
	store id.StoreID
}

// ID returns the subscription identifier.
func (s Subscription) ID() id.SubscriptionID { return s.id }

// StoreID returns the store the subscription was issued by.
func (s Subscription) StoreID() id.StoreID { return s.store }

// IsZero reports whether s is the zero Subscription.
func (s Subscription) IsZero() bool { return s.id.IsNil() }

type subscriber struct {
	key      string
	listener Listener
}

// Listeners is the listener set of one store. Registration order is kept
// and notifications go out in that order. The zero value is ready to use.
type Listeners struct {
	mu   sync.Mutex
	subs []subscriber
}

// Add registers l and returns its subscription.
func (ls *Listeners) Add(store id.StoreID, l Listener) Subscription {
	sub := Subscription{id: id.NewSubscriptionID(), store: store}
	ls.mu.Lock()
	ls.subs = append(ls.subs, subscriber{key: sub.id.String(), listener: l})
	ls.mu.Unlock()
	return sub
}

// Remove unregisters the listener under sub and returns it.
func (ls *Listeners) Remove(sub Subscription) (Listener, bool) {
	if sub.IsZero() {
		return nil, false
	}
	key := sub.id.String()

	ls.mu.Lock()
	defer ls.mu.Unlock()
	for i, s := range ls.subs {
		if s.key == key {
			ls.subs = append(ls.subs[:i], ls.subs[i+1:]...)
			return s.listener, true
		}
	}
	return nil, false
}

// Len returns the number of registered listeners.
func (ls *Listeners) Len() int {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	return len(ls.subs)
}

// Clear unregisters every listener and returns them.
func (ls *Listeners) Clear() []Listener {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	out := make([]Listener, len(ls.subs))
	for i, s := range ls.subs {
		out[i] = s.listener
	}
	ls.subs = nil
	return out
}

func (ls *Listeners) snapshot() []Listener {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if len(ls.subs) == 0 {
		return nil
	}
	out := make([]Listener, len(ls.subs))
	for i, s := range ls.subs {
		out[i] = s.listener
	}
	return out
}

// Accept sends OnAccept to every listener.
func (ls *Listeners) Accept(ctx context.Context, ev Event) {
	for _, l := range ls.snapshot() {
		l.OnAccept(ctx, ev)
	}
}

// Supply sends OnSupply to every listener.
func (ls *Listeners) Supply(ctx context.Context, ev Event) {
	for _, l := range ls.snapshot() {
		l.OnSupply(ctx, ev)
	}
}

// CapacityChange sends OnCapacityChange to every listener.
func (ls *Listeners) CapacityChange(ctx context.Context, s Store, capacity types.Fraction) {
	for _, l := range ls.snapshot() {
		l.OnCapacityChange(ctx, s, capacity)
	}
}

// Disconnect unregisters every listener and sends each OnDisconnect.
func (ls *Listeners) Disconnect(ctx context.Context, s Store) {
	for _, l := range ls.Clear() {
		l.OnDisconnect(ctx, s)
	}
}

// Contents is what one handle holds.
type Contents struct {
	Article article.Article
	Amount  types.Fraction
}

// IsEmpty reports whether c holds nothing.
func (c Contents) IsEmpty() bool {
	return c.Article.IsNothing() || !c.Amount.IsPositive()
}

// Diff notifies listeners of the change of handle from before to after.
// A change of article is sent as a supply to zero followed by an accept.
func (ls *Listeners) Diff(ctx context.Context, s Store, handle int, before, after Contents) {
	switch {
	case before.IsEmpty() && after.IsEmpty():
		return
	case before.IsEmpty():
		ls.Accept(ctx, Event{Store: s, Handle: handle, Article: after.Article, Delta: after.Amount, Total: after.Amount})
	case after.IsEmpty() || before.Article != after.Article:
		ls.Supply(ctx, Event{Store: s, Handle: handle, Article: before.Article, Delta: before.Amount, Total: types.Zero})
		if !after.IsEmpty() {
			ls.Accept(ctx, Event{Store: s, Handle: handle, Article: after.Article, Delta: after.Amount, Total: after.Amount})
		}
	default:
		switch c := after.Amount.Compare(before.Amount); {
		case c > 0:
			ls.Accept(ctx, Event{Store: s, Handle: handle, Article: after.Article, Delta: after.Amount.Subtract(before.Amount), Total: after.Amount})
		case c < 0:
			ls.Supply(ctx, Event{Store: s, Handle: handle, Article: after.Article, Delta: before.Amount.Subtract(after.Amount), Total: after.Amount})
		}
	}
}

// CatchUp replays the contents of s to l: its capacity, then one accept
// per non-empty handle.
func CatchUp(ctx context.Context, s Store, l Listener) {
	l.OnCapacityChange(ctx, s, s.Capacity())
	var views []StoredArticleView
	s.ForEach(func(v StoredArticleView) bool {
		views = append(views, v)
		return true
	})
	for _, v := range views {
		l.OnAccept(ctx, Event{Store: s, Handle: v.Handle, Article: v.Article, Delta: v.Amount, Total: v.Amount})
	}
}

// Teardown sends l the inverse of CatchUp: one supply to zero per
// non-empty handle, then a zero capacity.
func Teardown(ctx context.Context, s Store, l Listener) {
	var views []StoredArticleView
	s.ForEach(func(v StoredArticleView) bool {
		views = append(views, v)
		return true
	})
	for _, v := range views {
		l.OnSupply(ctx, Event{Store: s, Handle: v.Handle, Article: v.Article, Delta: v.Amount, Total: types.Zero})
	}
	l.OnCapacityChange(ctx, s, types.Zero)
}
