// Package postgres implements state.Repository on PostgreSQL through grove.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	"github.com/xraph/stockpile"
	"github.com/xraph/stockpile/id"
	"github.com/xraph/stockpile/state"
)

// compile-time interface check
var _ state.Repository = (*Store)(nil)

// Store implements state.Repository using PostgreSQL via Grove ORM.
type Store struct {
	db *grove.DB
	pg *pgdriver.PgDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db: db,
		pg: pgdriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.pg)
	if err != nil {
		return fmt.Errorf("stockpile/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("stockpile/postgres: %w: %w", stockpile.ErrMigrationFailed, err)
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
	_, err := s.pg.NewInsert(m).
		OnConflict("(store_id) DO UPDATE").
		Set("kind = EXCLUDED.kind").
		Set("version = EXCLUDED.version").
		Set("blob = EXCLUDED.blob").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stockpile/postgres: save snapshot: %w", err)
	}
	return nil
}

func (s *Store) SaveBatch(ctx context.Context, snaps []*state.Snapshot) error {
	if len(snaps) == 0 {
		return nil
	}
	models := make([]snapshotModel, len(snaps))
	for i, snap := range snaps {
		models[i] = *toSnapshotModel(snap)
	}
	_, err := s.pg.NewInsert(&models).
		OnConflict("(store_id) DO UPDATE").
		Set("kind = EXCLUDED.kind").
		Set("version = EXCLUDED.version").
		Set("blob = EXCLUDED.blob").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stockpile/postgres: save batch: %w", err)
	}
	return nil
}

func (s *Store) GetSnapshot(ctx context.Context, storeID id.StoreID) (*state.Snapshot, error) {
	m := new(snapshotModel)
	err := s.pg.NewSelect(m).
		Where("store_id = $1", storeID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, stockpile.ErrNotFound
		}
		return nil, fmt.Errorf("stockpile/postgres: get snapshot: %w", err)
	}
	return fromSnapshotModel(m)
}

func (s *Store) ListSnapshots(ctx context.Context, opts state.ListOpts) ([]*state.Snapshot, error) {
	var models []snapshotModel
	q := s.pg.NewSelect(&models)
	if opts.Kind != "" {
		q = q.Where("kind = $1", opts.Kind)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC, store_id ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("stockpile/postgres: list snapshots: %w", err)
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
	res, err := s.pg.NewDelete((*snapshotModel)(nil)).
		Where("store_id = $1", storeID.String()).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("stockpile/postgres: delete snapshot: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return stockpile.ErrNotFound
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
