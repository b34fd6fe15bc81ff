package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/farant/smaragda/internal/types"
)

// UnpushedTessellae returns tessellae with source not starting with
// "sync:" and id > afterID (spec.md §4.10 "getUnpushedTessellae()").
func (s *Store) UnpushedTessellae(ctx context.Context, afterID int64) ([]types.Tessella, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, res_id, branch_id, type, data, created_at, source FROM tessella
		 WHERE id > ? AND source NOT LIKE 'sync:%' ORDER BY id ASC`,
		afterID,
	)
	if err != nil {
		return nil, wrapDBErrorf(err, "UnpushedTessellae(%d)", afterID)
	}
	defer rows.Close()

	var out []types.Tessella
	for rows.Next() {
		var t types.Tessella
		var data, createdAt string
		if err := rows.Scan(&t.ID, &t.ResID, &t.BranchID, &t.Type, &data, &createdAt, &t.Source); err != nil {
			return nil, wrapDBErrorf(err, "UnpushedTessellae scan")
		}
		t.Data = []byte(data)
		t.CreatedAt = parseTimeString(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// UnpushedRes returns the res rows referenced by tessellae, excluding
// sentinel res (spec.md §4.10 "getUnpushedRes(tessellae)").
func (s *Store) UnpushedRes(ctx context.Context, tessellae []types.Tessella) ([]types.Res, error) {
	seen := map[string]bool{}
	var ids []string
	for _, t := range tessellae {
		if types.IsSentinel(t.ResID) || seen[t.ResID] {
			continue
		}
		seen[t.ResID] = true
		ids = append(ids, t.ResID)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT id, genus_id, branch_id, workspace_id, created_at FROM res WHERE id IN (` + placeholders(len(ids)) + `)`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErrorf(err, "UnpushedRes")
	}
	defer rows.Close()

	var out []types.Res
	for rows.Next() {
		var r types.Res
		var workspace sql.NullString
		var createdAt string
		if err := rows.Scan(&r.ID, &r.GenusID, &r.BranchID, &workspace, &createdAt); err != nil {
			return nil, wrapDBErrorf(err, "UnpushedRes scan")
		}
		if workspace.Valid {
			r.WorkspaceID = &workspace.String
		}
		r.CreatedAt = parseTimeString(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertPulledData upserts res rows (skipping existing) and inserts
// tessellae tagged with sourceTag, all in one transaction (spec.md
// §4.10 "insertPulledData({res[], tessellae[], high_water_mark},
// source_tag)... atomic").
func (s *Store) InsertPulledData(ctx context.Context, resRows []types.Res, tessellae []types.Tessella, sourceTag string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapDBErrorf(err, "InsertPulledData begin")
	}
	defer tx.Rollback()

	for _, r := range resRows {
		var workspace any
		if r.WorkspaceID != nil {
			workspace = *r.WorkspaceID
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO res (id, genus_id, branch_id, workspace_id, created_at) VALUES (?, ?, ?, ?, ?)`,
			r.ID, r.GenusID, r.BranchID, workspace, formatTime(r.CreatedAt),
		); err != nil {
			return wrapDBErrorf(err, "InsertPulledData res(%s)", r.ID)
		}
	}

	source := sourceTag
	if !strings.HasPrefix(source, "sync:") {
		source = "sync:" + source
	}
	for _, t := range tessellae {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tessella (res_id, branch_id, type, data, created_at, source) VALUES (?, ?, ?, ?, ?, ?)`,
			t.ResID, t.BranchID, t.Type, string(t.Data), formatTime(t.CreatedAt), source,
		); err != nil {
			return wrapDBErrorf(err, "InsertPulledData tessella(%s)", t.ResID)
		}
	}

	return tx.Commit()
}
