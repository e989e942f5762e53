package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/stockpile/article"
	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/txn"
	"github.com/xraph/stockpile/types"
)

// Errors returned by stores.
var (
	// ErrUnsupported is returned when a store variant does not support an
	// operation, such as persisting an aggregate's own state.
	ErrUnsupported = errors.New("storage: operation not supported for this store")

	// ErrInvalidStore is returned when operating on a disconnected store.
	ErrInvalidStore = errors.New("storage: store is no longer valid")

	// ErrMalformedState is returned by ReadState for blobs it cannot decode.
	ErrMalformedState = errors.New("storage: malformed state")
)

// NoHandle represents "no such slot".
const NoHandle = -1

// ArticleFunction is an accepting or supplying endpoint.
//
// Apply never moves more than requested nor more than the endpoint can
// accept or supply. With simulate set it mutates nothing, notifies nobody,
// and returns exactly what the same non-simulated call would return.
// Negative amounts, a divisor below 1 and the Nothing article panic.
type ArticleFunction interface {
	// Apply moves up to count whole units of a.
	Apply(ctx context.Context, a article.Article, count int64, simulate bool) int64

	// ApplyFraction moves up to amount of a, in multiples of 1/divisor.
	// Discrete articles always move in whole units.
	ApplyFraction(ctx context.Context, a article.Article, amount types.Fraction, divisor int64, simulate bool) types.Fraction

	// CanApply is a cheap upper bound: false means Apply would return 0 for
	// every article. Output-only endpoints report false even when not full.
	CanApply() bool
}

// StoredArticleView is a read-only snapshot of one handle.
type StoredArticleView struct {
	Article article.Article
	Handle  int
	Count   int64
	Amount  types.Fraction
}

// Empty is the canonical empty view.
var Empty = StoredArticleView{Article: article.Nothing, Handle: NoHandle, Amount: types.Zero}

// IsEmpty reports whether the view holds nothing.
func (v StoredArticleView) IsEmpty() bool {
	return v.Article.IsNothing() || !v.Amount.IsPositive()
}

// ViewOf builds the view of a handle holding amount of a.
func ViewOf(handle int, a article.Article, amount types.Fraction) StoredArticleView {
	if a.IsNothing() || !amount.IsPositive() {
		return StoredArticleView{Article: article.Nothing, Handle: handle, Amount: types.Zero}
	}
	return StoredArticleView{Article: a, Handle: handle, Count: amount.ToLong(1), Amount: amount}
}

// Store is an accounting container.
type Store interface {
	// ID returns the store's identifier.
	ID() id.StoreID

	// Kind names the store variant, e.g. "tank".
	Kind() string

	// Manager returns the transaction manager the store enlists with.
	// Stores only compose with stores sharing their manager.
	Manager() *txn.Manager

	// Consumer accepts articles into the store.
	Consumer() ArticleFunction

	// Supplier extracts articles from the store.
	Supplier() ArticleFunction

	// AmountOf returns the total amount of a held across all handles.
	AmountOf(a article.Article) types.Fraction

	// CountOf returns the whole units of a held across all handles.
	CountOf(a article.Article) int64

	// View returns the contents of a handle, or Empty when out of range.
	View(handle int) StoredArticleView

	// HandleCount returns the size of the handle space.
	HandleCount() int

	// ForEach calls fn for every non-empty handle until fn returns false.
	ForEach(fn func(v StoredArticleView) bool)

	Capacity() types.Fraction
	Volume() types.Fraction
	IsFull() bool
	IsEmpty() bool

	// IsValid reports false once the store has been disconnected.
	IsValid() bool

	// StartListening registers l. With catchUp set the store replays its
	// current contents to l before returning. A disconnected store sends l
	// OnDisconnect instead and returns the zero Subscription.
	StartListening(ctx context.Context, l Listener, catchUp bool) Subscription

	// StopListening removes the listener registered under sub. With
	// teardown set it first sends the inverse of everything the listener
	// holds so its replica returns to empty. Unknown subscriptions are
	// ignored.
	StopListening(ctx context.Context, sub Subscription, teardown bool)

	// Disconnect invalidates the store and broadcasts OnDisconnect to every
	// listener. Later calls do nothing.
	Disconnect(ctx context.Context)

	// WriteState encodes the store's contents.
	WriteState() ([]byte, error)

	// ReadState replaces the store's contents with a previously written
	// state, notifying listeners of the difference.
	ReadState(ctx context.Context, blob []byte) error
}

// CheckRequest panics on an invalid apply request.
func CheckRequest(a article.Article, amount types.Fraction, divisor int64) {
	article.MustSomething(a)
	if amount.IsNegative() {
		panic(fmt.Errorf("%w: negative amount %s", types.ErrInvalidArgument, amount))
	}
	if divisor < 1 {
		panic(fmt.Errorf("%w: divisor %d < 1", types.ErrInvalidArgument, divisor))
	}
}

// UnitDivisor returns the divisor amounts of a may move in.
func UnitDivisor(a article.Article, divisor int64) int64 {
	if !a.IsBulk() {
		return 1
	}
	return divisor
}

// ApplyUnits moves up to units/divisor of a through fn and returns the
// amount moved in units of 1/divisor.
func ApplyUnits(ctx context.Context, fn ArticleFunction, a article.Article, units, divisor int64, simulate bool) int64 {
	if units < 0 {
		panic(fmt.Errorf("%w: negative amount %d", types.ErrInvalidArgument, units))
	}
	if divisor < 1 {
		panic(fmt.Errorf("%w: divisor %d < 1", types.ErrInvalidArgument, divisor))
	}
	return fn.ApplyFraction(ctx, a, types.Ratio(units, divisor), divisor, simulate).ToLong(divisor)
}
