package stockpile

import (
	"github.com/xraph/stockpile/article"
	"github.com/xraph/stockpile/storage"
	"github.com/xraph/stockpile/types"
)

// Re-export common types for convenience so users don't have to import the
// types, article and storage packages for everyday use.

// Fraction is re-exported from types package.
type Fraction = types.Fraction

// Entity is re-exported from types package.
type Entity = types.Entity

// Article is re-exported from article package.
type Article = article.Article

// Store is re-exported from storage package.
type Store = storage.Store

// ArticleFunction is re-exported from storage package.
type ArticleFunction = storage.ArticleFunction

// Listener is re-exported from storage package.
type Listener = storage.Listener

// Re-export Fraction constructors
var (
	Zero  = types.Zero
	One   = types.One
	Whole = types.Whole
	Of    = types.Of
	Ratio = types.Ratio
	Sum   = types.Sum
)

// Re-export Article constructors
var (
	Nothing   = article.Nothing
	Bulk      = article.Bulk
	Discrete  = article.Discrete
	ArticleOf = article.Of
)

// Re-export Entity constructor
var NewEntity = types.NewEntity
