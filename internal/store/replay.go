package store

import (
	"context"
	"fmt"

	"github.com/farant/smaragda/internal/types"
)

// Reducer folds one tessella into accumulated state (spec.md §4.1
// "Materialize... fold visible tessellae left-to-right through the
// supplied reducer"). Defined here rather than in internal/reduce so
// concrete reducers can be passed to Materialize by structural type
// match without reduce importing store or vice versa (spec.md §9
// "Reducers as pure functions").
type Reducer func(state map[string]any, t types.Tessella) (map[string]any, error)

// ReplayOpts filters a replay/materialize call (spec.md §4.1).
type ReplayOpts struct {
	Branch string // defaults to "main"
	After  int64  // exclusive lower bound on tessella id; 0 means no lower bound
	UpTo   int64  // inclusive upper bound on tessella id; 0 means no upper bound
	Types  []string
	Limit  int
}

// visibilityBound describes, for one link of a branch's ancestor
// chain, the tessella id range whose writes on that branch are
// visible to a descendant.
type visibilityBound struct {
	branch string
	maxID  int64 // inherited writes on this branch are visible only up to maxID (0 = unbounded, i.e. the branch itself)
}

// visibleBranches resolves a branch's ancestor chain into a list of
// (branch, maxID) bounds (spec.md §4.1 "Replay visibility"). The
// branch itself is always unbounded; every ancestor is bounded by the
// branch_point recorded where its child branched off.
func (s *Store) visibleBranches(ctx context.Context, branch string) ([]visibilityBound, error) {
	chain, err := s.ancestorChain(ctx, branch)
	if err != nil {
		return nil, err
	}

	bounds := make([]visibilityBound, 0, len(chain))
	for i, rec := range chain {
		if i == len(chain)-1 {
			bounds = append(bounds, visibilityBound{branch: rec.Name, maxID: 0})
			continue
		}
		child := chain[i+1]
		bounds = append(bounds, visibilityBound{branch: rec.Name, maxID: child.BranchPoint})
	}
	return bounds, nil
}

// Replay returns the ordered, visibility-resolved tessella stream for
// res_id (spec.md §4.1). A nonexistent res yields an empty slice, not
// an error (spec.md "replay on nonexistent res returns empty").
func (s *Store) Replay(ctx context.Context, resID string, opts ReplayOpts) ([]types.Tessella, error) {
	branch := opts.Branch
	if branch == "" {
		branch = types.MainBranch
	}

	bounds, err := s.visibleBranches(ctx, branch)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, res_id, branch_id, type, data, created_at, source FROM tessella WHERE res_id = ? AND (`
	args := []any{resID}
	clauses := make([]string, 0, len(bounds))
	for _, b := range bounds {
		if b.maxID == 0 {
			clauses = append(clauses, "branch_id = ?")
			args = append(args, b.branch)
		} else {
			clauses = append(clauses, "(branch_id = ? AND id <= ?)")
			args = append(args, b.branch, b.maxID)
		}
	}
	for i, c := range clauses {
		if i > 0 {
			query += " OR "
		}
		query += c
	}
	query += ")"

	if opts.After > 0 {
		query += " AND id > ?"
		args = append(args, opts.After)
	}
	if opts.UpTo > 0 {
		query += " AND id <= ?"
		args = append(args, opts.UpTo)
	}
	if len(opts.Types) > 0 {
		query += " AND type IN (" + placeholders(len(opts.Types)) + ")"
		for _, t := range opts.Types {
			args = append(args, t)
		}
	}
	query += " ORDER BY id ASC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapDBErrorf(err, "Replay(%s)", resID)
	}
	defer rows.Close()

	var out []types.Tessella
	for rows.Next() {
		var t types.Tessella
		var data, createdAt string
		if err := rows.Scan(&t.ID, &t.ResID, &t.BranchID, &t.Type, &data, &createdAt, &t.Source); err != nil {
			return nil, wrapDBErrorf(err, "Replay(%s) scan", resID)
		}
		t.Data = []byte(data)
		t.CreatedAt = parseTimeString(createdAt)
		out = append(out, t)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	out := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			out = append(out, ',')
		}
		out = append(out, '?')
	}
	return string(out)
}

// Materialize folds the visible tessella stream for res_id through
// reducer (spec.md §4.1). A nil reducer state starts as an empty map.
func (s *Store) Materialize(ctx context.Context, resID string, opts ReplayOpts, reducer Reducer) (map[string]any, error) {
	stream, err := s.Replay(ctx, resID, opts)
	if err != nil {
		return nil, err
	}

	state := map[string]any{}
	for _, t := range stream {
		state, err = reducer(state, t)
		if err != nil {
			return nil, err
		}
	}
	return state, nil
}

// Ping verifies the underlying connection is reachable (used by
// internal/health's store-level checks).
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
