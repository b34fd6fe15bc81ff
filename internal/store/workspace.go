package store

import (
	"context"
	"database/sql"
)

// ResFilter scopes a ListRes query (spec.md §4.7 "listEntities defaults
// to (workspace_id IS NULL OR workspace_id = currentWorkspace)").
type ResFilter struct {
	GenusID       string // empty = any genus
	Workspace     string // ignored when AllWorkspaces is true
	AllWorkspaces bool   // true = every res regardless of workspace_id
}

// ListRes returns every res id matching filter, in creation order.
func (s *Store) ListRes(ctx context.Context, filter ResFilter) ([]string, error) {
	query := `SELECT id FROM res WHERE 1=1`
	var args []any
	if filter.GenusID != "" {
		query += ` AND genus_id = ?`
		args = append(args, filter.GenusID)
	}
	if !filter.AllWorkspaces {
		query += ` AND (workspace_id IS NULL OR workspace_id = ?)`
		args = append(args, filter.Workspace)
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErrorf(err, "ListRes")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBErrorf(err, "ListRes scan")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// SetResWorkspace assigns (or clears, with an empty string) one res's
// workspace_id (spec.md §4.7 "assignWorkspace").
func (s *Store) SetResWorkspace(ctx context.Context, resID, workspaceID string) error {
	var v sql.NullString
	if workspaceID != "" {
		v = sql.NullString{String: workspaceID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `UPDATE res SET workspace_id = ? WHERE id = ?`, v, resID)
	return wrapDBErrorf(err, "SetResWorkspace(%s)", resID)
}

// SetWorkspaceByGenus bulk-reassigns every res of genusID (spec.md
// §4.7 "assignWorkspaceByGenus").
func (s *Store) SetWorkspaceByGenus(ctx context.Context, genusID, workspaceID string) error {
	var v sql.NullString
	if workspaceID != "" {
		v = sql.NullString{String: workspaceID, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `UPDATE res SET workspace_id = ? WHERE genus_id = ?`, v, genusID)
	return wrapDBErrorf(err, "SetWorkspaceByGenus(%s)", genusID)
}

// ReassignWorkspace moves every res currently in from to to (spec.md
// §4.7 "mergeWorkspaces(src, tgt) reassigns and deletes src").
func (s *Store) ReassignWorkspace(ctx context.Context, from, to string) error {
	var v sql.NullString
	if to != "" {
		v = sql.NullString{String: to, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `UPDATE res SET workspace_id = ? WHERE workspace_id = ?`, v, from)
	return wrapDBErrorf(err, "ReassignWorkspace(%s,%s)", from, to)
}

// CountResInWorkspace reports how many res currently carry
// workspace_id = workspaceID (spec.md §4.7 "deleteWorkspace rejects
// non-empty workspaces").
func (s *Store) CountResInWorkspace(ctx context.Context, workspaceID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM res WHERE workspace_id = ?`, workspaceID).Scan(&n)
	return n, wrapDBErrorf(err, "CountResInWorkspace(%s)", workspaceID)
}
