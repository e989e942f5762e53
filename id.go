package stockpile

import "github.com/xraph/stockpile/id"

// ID is the primary identifier type for all Stockpile entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
