package store

import (
	"context"

	"github.com/farant/smaragda/internal/types"
)

// ResIDsByGenus returns every res whose genus_id is genusID, in
// creation order. Used by internal/genus to resolve a genus by name
// (spec.md §4.4 "create_res{genus_name,...}" needs a name -> id
// lookup) since genus res are not otherwise indexed by name.
func (s *Store) ResIDsByGenus(ctx context.Context, genusID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM res WHERE genus_id = ? ORDER BY created_at`, genusID)
	if err != nil {
		return nil, wrapDBErrorf(err, "ResIDsByGenus(%s)", genusID)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBErrorf(err, "ResIDsByGenus(%s) scan", genusID)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// AllResIDs returns every res id in the store, in creation order.
// Used by internal/health's listUnhealthy when no genus filter is
// given.
func (s *Store) AllResIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM res ORDER BY created_at`)
	if err != nil {
		return nil, wrapDBErrorf(err, "AllResIDs")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBErrorf(err, "AllResIDs scan")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ResIDsWithType returns the distinct res ids that have ever had a
// tessella of one of the given types appended, across all branches.
// Used by internal/branch's relationship_member rebuilder to find
// every relationship res without scanning the whole res table.
func (s *Store) ResIDsWithType(ctx context.Context, tTypes []string) ([]string, error) {
	if len(tTypes) == 0 {
		return nil, nil
	}
	args := make([]any, len(tTypes))
	for i, t := range tTypes {
		args[i] = t
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT res_id FROM tessella WHERE type IN (`+placeholders(len(tTypes))+`)`, args...)
	if err != nil {
		return nil, wrapDBErrorf(err, "ResIDsWithType")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapDBErrorf(err, "ResIDsWithType scan")
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// TessellaeOnBranchAfter returns every tessella written directly on
// branch (branch_id = branch, no ancestor-chain resolution) with
// id > afterID, ordered by id. Used by internal/branch to compute a
// merge's candidate set and its conflict-detection comparison set
// (spec.md §4.6 "tessellae with branch_id = source and id >
// branch_point(source)").
func (s *Store) TessellaeOnBranchAfter(ctx context.Context, branch string, afterID int64) ([]types.Tessella, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, res_id, branch_id, type, data, created_at, source FROM tessella
		 WHERE branch_id = ? AND id > ? ORDER BY id ASC`, branch, afterID,
	)
	if err != nil {
		return nil, wrapDBErrorf(err, "TessellaeOnBranchAfter(%s)", branch)
	}
	defer rows.Close()

	var out []types.Tessella
	for rows.Next() {
		var t types.Tessella
		var data, createdAt string
		if err := rows.Scan(&t.ID, &t.ResID, &t.BranchID, &t.Type, &data, &createdAt, &t.Source); err != nil {
			return nil, wrapDBErrorf(err, "TessellaeOnBranchAfter(%s) scan", branch)
		}
		t.Data = []byte(data)
		t.CreatedAt = parseTimeString(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

// CopyTessellaToBranch re-appends t onto targetBranch with a fresh
// monotonic id, preserving res_id/type/data/source (spec.md §4.6
// "copy each source tessella onto target... preserving type/data").
func (s *Store) CopyTessellaToBranch(ctx context.Context, t types.Tessella, targetBranch string) (types.Tessella, error) {
	now := s.nowISO()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tessella (res_id, branch_id, type, data, created_at, source) VALUES (?, ?, ?, ?, ?, ?)`,
		t.ResID, targetBranch, t.Type, string(t.Data), now, t.Source,
	)
	if err != nil {
		return types.Tessella{}, wrapDBErrorf(err, "CopyTessellaToBranch(%s)", t.ResID)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return types.Tessella{}, wrapDBErrorf(err, "CopyTessellaToBranch(%s) lastInsertId", t.ResID)
	}
	return types.Tessella{
		ID: id, ResID: t.ResID, BranchID: targetBranch, Type: t.Type,
		Data: t.Data, CreatedAt: parseTimeString(now), Source: t.Source,
	}, nil
}

// RebindResBranch upserts a res row onto targetBranch's view (spec.md
// §4.6 "res rows created on the source branch are also upserted onto
// the target's view"). Since this schema holds one row per res id,
// "upsert" means moving the row's branch_id forward; tessella
// visibility is resolved from each tessella's own branch_id, not from
// this field, so the move only affects future unscoped Append calls.
func (s *Store) RebindResBranch(ctx context.Context, resID, targetBranch string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE res SET branch_id = ? WHERE id = ?`, targetBranch, resID)
	return wrapDBErrorf(err, "RebindResBranch(%s)", resID)
}
