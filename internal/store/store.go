// Package store implements the tessella store: res/tessella durable
// tables, append, ordered replay with branch/point-in-time filters,
// and the small secondary tables (spec.md §3, §4.1).
//
// Grounded on the teacher's internal/storage/sqlite package, adapted
// from its MySQL-compatible-dialect store to a single pure-Go SQLite
// backend (github.com/ncruces/go-sqlite3, referenced by name in the
// teacher's own internal/storage/sqlite/parsing.go comments even
// though that file's driver is MySQL) so both a file path and
// ":memory:" (spec.md §6) are served by the same code path, and no
// cgo toolchain is required to build this module.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/farant/smaragda/internal/idgen"
	"github.com/farant/smaragda/internal/types"
)

// Store is a single-writer handle onto the tessella log (spec.md §5
// "the kernel is single-writer, cooperative"). It owns no write lock
// of its own — callers serialize mutating calls, matching spec.md's
// "implementers are free to add a coarse write lock" framing; the
// higher-level kernel type is where that lock lives.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open creates (or reopens) a tessella store at path, which may be a
// filesystem path or ":memory:" (spec.md §6). It creates the schema
// and bootstraps sentinel genera idempotently.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	if err := s.bootstrap(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: bootstrap: %w", err)
	}

	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying *sql.DB for ad hoc read queries beyond the
// Store contract. No other package in this module calls it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// nowISO returns the current instant formatted per spec.md §6.
func (s *Store) nowISO() string {
	return formatTime(s.now())
}

// bootstrap idempotently seeds the sentinel genera (spec.md §3
// "Sentinel ids", §6 "bootstraps sentinel genera idempotently...
// detect by existence of META res"). META is self-referential
// (genus_id == id), which is why the res table has no foreign-key
// constraint on genus_id: enforcing one would make writing the very
// first row impossible (spec.md §9 "Self-referential meta-genus").
func (s *Store) bootstrap(ctx context.Context) error {
	exists, err := s.resExists(ctx, types.SentinelMeta)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	now := s.nowISO()
	for _, id := range types.Sentinels {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO res (id, genus_id, branch_id, workspace_id, created_at) VALUES (?, ?, ?, NULL, ?)`,
			id, types.SentinelMeta, types.MainBranch, now,
		); err != nil {
			return fmt.Errorf("seed sentinel %s: %w", id, err)
		}
		data := fmt.Sprintf(`{"kind":"genus"}`)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tessella (res_id, branch_id, type, data, created_at, source) VALUES (?, ?, ?, ?, ?, ?)`,
			id, types.MainBranch, types.TypeCreated, data, now, "system:bootstrap",
		); err != nil {
			return fmt.Errorf("seed sentinel tessella %s: %w", id, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO branches (name, parent_branch, branch_point, status, created_at) VALUES (?, '', 0, 'active', ?)`,
		types.MainBranch, now,
	); err != nil {
		return fmt.Errorf("seed main branch: %w", err)
	}

	return tx.Commit()
}

func (s *Store) resExists(ctx context.Context, id string) (bool, error) {
	var found string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM res WHERE id = ?`, id).Scan(&found)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, wrapDBErrorf(err, "resExists(%s)", id)
	}
	return true, nil
}

// NewID allocates a sortable res/tessella-adjacent id (spec.md §6).
func NewID() string {
	return idgen.Sortable(time.Now().UTC())
}
