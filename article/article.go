// Package article defines the identity of storable resources.
//
// An Article names what is stored, never how much of it. Quantities always
// travel alongside as a separate count or types.Fraction. Articles are
// comparable values and may be used directly as map keys.
package article

import (
	"errors"
	"fmt"
)

// ErrInvalidArticle is raised when an article is required but Nothing was given.
var ErrInvalidArticle = errors.New("article: invalid article")

// Type is a resource kind, e.g. a fluid or an item type.
// Bulk types are accounted in fractional units; discrete types in whole units.
type Type struct {
	name string
	bulk bool
}

// NewType creates a resource type. Panics if name is empty, since the
// empty type is reserved for Nothing.
func NewType(name string, bulk bool) Type {
	if name == "" {
		panic(fmt.Errorf("%w: empty type name", ErrInvalidArticle))
	}
	return Type{name: name, bulk: bulk}
}

// Bulk creates a fractionally accounted type.
func Bulk(name string) Type { return NewType(name, true) }

// Discrete creates a whole-unit accounted type.
func Discrete(name string) Type { return NewType(name, false) }

// Name returns the type name.
func (t Type) Name() string { return t.name }

// IsBulk reports whether quantities of this type are fractional.
func (t Type) IsBulk() bool { return t.bulk }

// Article is a resource type plus optional opaque metadata.
// Two articles are equal when both type and metadata match.
type Article struct {
	typ  Type
	meta string
}

// Nothing is the sentinel for "no resource".
var Nothing Article

// Of creates an article of the given type without metadata.
func Of(t Type) Article { return Article{typ: t} }

// WithMeta creates an article carrying host-defined metadata, typically a
// canonical digest of the resource's attributes.
func WithMeta(t Type, meta string) Article { return Article{typ: t, meta: meta} }

// Type returns the article's resource type.
func (a Article) Type() Type { return a.typ }

// Meta returns the opaque metadata.
func (a Article) Meta() string { return a.meta }

// IsNothing reports whether a is the Nothing sentinel.
func (a Article) IsNothing() bool { return a.typ.name == "" }

// IsBulk reports whether the article is fractionally accounted.
func (a Article) IsBulk() bool { return a.typ.bulk }

// String implements fmt.Stringer.
func (a Article) String() string {
	switch {
	case a.IsNothing():
		return "nothing"
	case a.meta == "":
		return a.typ.name
	default:
		return a.typ.name + "#" + a.meta
	}
}

// MustSomething panics with ErrInvalidArticle if a is Nothing.
func MustSomething(a Article) {
	if a.IsNothing() {
		panic(fmt.Errorf("%w: nothing is not a valid article here", ErrInvalidArticle))
	}
}

// Record is the serializable form of an Article.
type Record struct {
	Name string `cbor:"name" json:"name" bson:"name"`
	Bulk bool   `cbor:"bulk,omitempty" json:"bulk,omitempty" bson:"bulk,omitempty"`
	Meta string `cbor:"meta,omitempty" json:"meta,omitempty" bson:"meta,omitempty"`
}

// ToRecord converts a to its serializable form.
func (a Article) ToRecord() Record {
	return Record{Name: a.typ.name, Bulk: a.typ.bulk, Meta: a.meta}
}

// FromRecord restores an Article. An empty name yields Nothing.
func FromRecord(r Record) Article {
	if r.Name == "" {
		return Nothing
	}
	return Article{typ: Type{name: r.Name, bulk: r.Bulk}, meta: r.Meta}
}
