package store

import (
	"context"
	"database/sql"

	"github.com/farant/smaragda/internal/smerr"
	"github.com/farant/smaragda/internal/types"
)

// BranchRecord is the store's own bookkeeping row for a branch —
// distinct from the display-facing Branch entity res that
// internal/branch maintains in the tessella log (spec.md §9 "Branch
// chain walk"; see DESIGN.md for why replay needs this split).
type BranchRecord struct {
	Name         string
	ParentBranch string
	BranchPoint  int64
	Status       string // active | merged | discarded
}

// CreateBranchRecord registers a new branch at the current max
// tessella id (spec.md §4.6 "branch_point = current_max_tessella_id").
func (s *Store) CreateBranchRecord(ctx context.Context, name, parent string) (BranchRecord, error) {
	point, err := s.MaxTessellaID(ctx)
	if err != nil {
		return BranchRecord{}, err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO branches (name, parent_branch, branch_point, status, created_at) VALUES (?, ?, ?, 'active', ?)`,
		name, parent, point, s.nowISO(),
	); err != nil {
		return BranchRecord{}, wrapDBErrorf(err, "CreateBranchRecord(%s)", name)
	}
	return BranchRecord{Name: name, ParentBranch: parent, BranchPoint: point, Status: "active"}, nil
}

// GetBranchRecord loads a branch's bookkeeping row. Returns
// smerr.ErrBranchUnreachable if name is unregistered.
func (s *Store) GetBranchRecord(ctx context.Context, name string) (BranchRecord, error) {
	var rec BranchRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT name, parent_branch, branch_point, status FROM branches WHERE name = ?`, name,
	).Scan(&rec.Name, &rec.ParentBranch, &rec.BranchPoint, &rec.Status)
	if err == sql.ErrNoRows {
		return BranchRecord{}, smerr.Newf(smerr.ErrBranchUnreachable, "branch %q not found", name).WithField("branch", name)
	}
	if err != nil {
		return BranchRecord{}, wrapDBErrorf(err, "GetBranchRecord(%s)", name)
	}
	return rec, nil
}

// SetBranchStatus updates a branch's lifecycle status (spec.md §3
// "Branch: active -> merged | discarded").
func (s *Store) SetBranchStatus(ctx context.Context, name, status string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE branches SET status = ? WHERE name = ?`, status, name)
	if err != nil {
		return wrapDBErrorf(err, "SetBranchStatus(%s)", name)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrapDBErrorf(err, "SetBranchStatus(%s) rowsAffected", name)
	}
	if n == 0 {
		return smerr.Newf(smerr.ErrBranchUnreachable, "branch %q not found", name).WithField("branch", name)
	}
	return nil
}

// ListBranchRecords returns every registered branch.
func (s *Store) ListBranchRecords(ctx context.Context) ([]BranchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, parent_branch, branch_point, status FROM branches ORDER BY created_at`)
	if err != nil {
		return nil, wrapDBErrorf(err, "ListBranchRecords")
	}
	defer rows.Close()

	var out []BranchRecord
	for rows.Next() {
		var rec BranchRecord
		if err := rows.Scan(&rec.Name, &rec.ParentBranch, &rec.BranchPoint, &rec.Status); err != nil {
			return nil, wrapDBErrorf(err, "ListBranchRecords scan")
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ancestorChain walks a branch's parent chain up to and including
// "main", returning it root-first ([main, ..., branch]) together with
// the branch_point that bounds visibility inherited from each link.
// Lazy per-call walk (spec.md §9 suggests caching; the chains in this
// domain are expected to be shallow enough that a cache is unneeded).
func (s *Store) ancestorChain(ctx context.Context, branch string) ([]BranchRecord, error) {
	var chain []BranchRecord
	seen := map[string]bool{}
	cur := branch
	for cur != "" {
		if seen[cur] {
			break // defensive: a cycle would otherwise loop forever
		}
		seen[cur] = true
		rec, err := s.GetBranchRecord(ctx, cur)
		if err != nil {
			return nil, err
		}
		chain = append([]BranchRecord{rec}, chain...)
		if rec.Name == types.MainBranch {
			break
		}
		cur = rec.ParentBranch
	}
	return chain, nil
}
