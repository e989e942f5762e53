package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the snapshot store (SQLite).
var Migrations = migrate.NewGroup("stockpile")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_stockpile_snapshots",
			Version: "20260101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS stockpile_snapshots (
    id         TEXT PRIMARY KEY,
    store_id   TEXT NOT NULL,
    kind       TEXT NOT NULL DEFAULT '',
    version    INTEGER NOT NULL DEFAULT 0,
    blob       BLOB,
    metadata   TEXT NOT NULL DEFAULT '{}',
    created_at TEXT NOT NULL DEFAULT (datetime('now')),
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_stockpile_snapshots_store_id ON stockpile_snapshots (store_id);
CREATE INDEX IF NOT EXISTS idx_stockpile_snapshots_kind ON stockpile_snapshots (kind, created_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS stockpile_snapshots`)
				return err
			},
		},
	)
}
