// Package mongo implements state.Repository on MongoDB through grove.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	"github.com/xraph/stockpile"
	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/state"
)

// Collection name constants.
const (
	colSnapshots = "stockpile_snapshots"
)

// compile-time interface check
var _ state.Repository = (*Store)(nil)

// Store implements state.Repository using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates indexes for the snapshot collection.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("stockpile/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) SaveSnapshot(ctx context.Context, snap *state.Snapshot) error {
	m := toSnapshotModel(snap)

	_, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"store_id": m.StoreID}).
		SetUpdate(bson.M{
			"$set": bson.M{
				"kind":       m.Kind,
				"version":    m.Version,
				"blob":       m.Blob,
				"metadata":   m.Metadata,
				"updated_at": m.UpdatedAt,
			},
			"$setOnInsert": bson.M{
				"_id":        m.ID,
				"created_at": m.CreatedAt,
			},
		}).
		Upsert().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stockpile/mongo: save snapshot: %w", err)
	}
	return nil
}

func (s *Store) SaveBatch(ctx context.Context, snaps []*state.Snapshot) error {
	for _, snap := range snaps {
		if err := s.SaveSnapshot(ctx, snap); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, storeID id.StoreID) (*state.Snapshot, error) {
	var m snapshotModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"store_id": storeID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, stockpile.ErrNotFound
		}
		return nil, fmt.Errorf("stockpile/mongo: get snapshot: %w", err)
	}
	return fromSnapshotModel(&m)
}

func (s *Store) ListSnapshots(ctx context.Context, opts state.ListOpts) ([]*state.Snapshot, error) {
	var models []snapshotModel

	filter := bson.M{}
	if opts.Kind != "" {
		filter["kind"] = opts.Kind
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}, {Key: "store_id", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("stockpile/mongo: list snapshots: %w", err)
	}

	result := make([]*state.Snapshot, len(models))
	for i := range models {
		snap, err := fromSnapshotModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = snap
	}
	return result, nil
}

func (s *Store) DeleteSnapshot(ctx context.Context, storeID id.StoreID) error {
	res, err := s.mdb.NewDelete((*snapshotModel)(nil)).
		Filter(bson.M{"store_id": storeID.String()}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stockpile/mongo: delete snapshot: %w", err)
	}
	if res.DeletedCount() == 0 {
		return stockpile.ErrNotFound
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for the snapshot collection.
func migrationIndexes() map[string][]mongo.IndexModel {
	return map[string][]mongo.IndexModel{
		colSnapshots: {
			{
				Keys:    bson.D{{Key: "store_id", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "kind", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}
}
