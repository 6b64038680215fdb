package mirror

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
)

// Entry is one row of the offline mirror: the latest known record for
// an entity, or a tombstone for a deletion.
type Entry struct {
	Category  string          `db:"category" json:"category"`
	EntityID  string          `db:"entity_id" json:"entity_id"`
	Record    json.RawMessage `db:"record" json:"record,omitempty"`
	Deleted   bool            `db:"deleted" json:"deleted"`
	Stale     bool            `db:"stale" json:"stale"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// Store defines persistence for the mirror_entries table.
type Store interface {
	Put(ctx context.Context, e Entry) error
	GetAll(ctx context.Context, category string) ([]Entry, error)
	MarkAllStale(ctx context.Context) error
}

type SQLiteStore struct {
	db *sqlx.DB
}

func NewSQLiteStore(db *sqlx.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS mirror_entries (
    category   TEXT    NOT NULL,
    entity_id  TEXT    NOT NULL,
    record     BLOB,
    deleted    INTEGER NOT NULL DEFAULT 0,
    stale      INTEGER NOT NULL DEFAULT 0,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (category, entity_id)
);
`

// Migrate creates the mirror schema if missing.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Put upserts the latest record (or tombstone) for an entity. A fresh
// write clears the stale flag; rewriting an identical entry leaves the
// row identical apart from updated_at.
func (s *SQLiteStore) Put(ctx context.Context, e Entry) error {
	const q = `
		INSERT INTO mirror_entries (category, entity_id, record, deleted, stale, updated_at)
		VALUES (?, ?, ?, ?, 0, ?)
		ON CONFLICT(category, entity_id) DO UPDATE SET
		    record     = excluded.record,
		    deleted    = excluded.deleted,
		    stale      = 0,
		    updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, q, e.Category, e.EntityID, []byte(e.Record), e.Deleted, time.Now().UTC())
	return err
}

// GetAll returns every mirrored entry for a category, tombstones
// included so the reader can hide deleted rows.
func (s *SQLiteStore) GetAll(ctx context.Context, category string) ([]Entry, error) {
	const q = `
		SELECT category, entity_id, record, deleted, stale, updated_at
		FROM mirror_entries
		WHERE category = ?
		ORDER BY entity_id
	`
	var out []Entry
	if err := s.db.SelectContext(ctx, &out, q, category); err != nil {
		return nil, err
	}
	return out, nil
}

// MarkAllStale flags every entry after reconnection; the UI re-fetches
// from the authoritative source instead of reconciling.
func (s *SQLiteStore) MarkAllStale(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `UPDATE mirror_entries SET stale = 1`)
	return err
}
