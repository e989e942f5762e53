// Package state defines the persistence contract for store snapshots.
//
// A snapshot is the opaque blob produced by storage.Store.WriteState, keyed
// by the store's ID. Backends live in the sub-packages: memory for tests and
// single-process use, sqlite and postgres through grove, and mongo.
package state

import (
	"context"

	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/types"
)

// Snapshot is the persisted state of one store.
type Snapshot struct {
	types.Entity

	ID       id.SnapshotID     `json:"id"`
	StoreID  id.StoreID        `json:"store_id"`
	Kind     string            `json:"kind"`
	Version  int64             `json:"version"`
	Blob     []byte            `json:"blob"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// New creates a snapshot for the given store with fresh timestamps.
func New(storeID id.StoreID, kind string, version int64, blob []byte) *Snapshot {
	return &Snapshot{
		Entity:  types.NewEntity(),
		ID:      id.NewSnapshotID(),
		StoreID: storeID,
		Kind:    kind,
		Version: version,
		Blob:    blob,
	}
}

// ListOpts filters and pages ListSnapshots.
type ListOpts struct {
	Kind   string
	Limit  int
	Offset int
}

// Repository persists snapshots. SaveSnapshot upserts by StoreID: an
// existing row keeps its ID and CreatedAt and takes every other field from
// the argument. Missing snapshots are reported with stockpile.ErrNotFound.
type Repository interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	SaveBatch(ctx context.Context, snaps []*Snapshot) error
	GetSnapshot(ctx context.Context, storeID id.StoreID) (*Snapshot, error)
	ListSnapshots(ctx context.Context, opts ListOpts) ([]*Snapshot, error)
	DeleteSnapshot(ctx context.Context, storeID id.StoreID) error

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
