package storage

import (
	"context"
	"fmt"

	"github.com/xraph/stockpile/article"
	"github.com/xraph/stockpile/types"
)

// MoveFunc is the core of an ArticleFunction. It receives a validated
// request and must return a multiple of 1/divisor no greater than max.
type MoveFunc func(ctx context.Context, a article.Article, max types.Fraction, divisor int64, simulate bool) types.Fraction

// Endpoint adapts a MoveFunc to the ArticleFunction interface, checking
// preconditions and deriving the discrete form from the fractional one.
type Endpoint struct {
	move MoveFunc
	can  func() bool
}

var _ ArticleFunction = (*Endpoint)(nil)

// NewEndpoint creates an Endpoint. can may be nil, meaning always true.
func NewEndpoint(move MoveFunc, can func() bool) *Endpoint {
	return &Endpoint{move: move, can: can}
}

// Apply implements ArticleFunction.
func (e *Endpoint) Apply(ctx context.Context, a article.Article, count int64, simulate bool) int64 {
	if count < 0 {
		panic(fmt.Errorf("%w: negative count %d", types.ErrInvalidArgument, count))
	}
	article.MustSomething(a)
	if count == 0 {
		return 0
	}
	return e.move(ctx, a, types.Whole(count), 1, simulate).ToLong(1)
}

// ApplyFraction implements ArticleFunction.
func (e *Endpoint) ApplyFraction(ctx context.Context, a article.Article, amount types.Fraction, divisor int64, simulate bool) types.Fraction {
	CheckRequest(a, amount, divisor)
	if amount.IsZero() {
		return types.Zero
	}
	return e.move(ctx, a, amount, UnitDivisor(a, divisor), simulate)
}

// CanApply implements ArticleFunction.
func (e *Endpoint) CanApply() bool {
	return e.can == nil || e.can()
}

type rejecting struct{}

// Rejecting is an ArticleFunction that never moves anything.
var Rejecting ArticleFunction = rejecting{}

func (rejecting) Apply(_ context.Context, a article.Article, count int64, _ bool) int64 {
	if count < 0 {
		panic(fmt.Errorf("%w: negative count %d", types.ErrInvalidArgument, count))
	}
	article.MustSomething(a)
	return 0
}

func (rejecting) ApplyFraction(_ context.Context, a article.Article, amount types.Fraction, divisor int64, _ bool) types.Fraction {
	CheckRequest(a, amount, divisor)
	return types.Zero
}

func (rejecting) CanApply() bool { return false }
