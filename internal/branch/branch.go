// Package branch implements branch lifecycle and merge (spec.md §4.6):
// createBranch/switchBranch/discardBranch and the conflict-detecting
// mergeBranch. Branch identity is the branch name string used
// throughout internal/store's replay visibility and tessella.branch_id
// columns — the Branch entity this package also maintains under
// SentinelBranch is a display-facing mirror of the same bookkeeping,
// not the identity itself.
package branch

import (
	"context"

	"github.com/farant/smaragda/internal/smerr"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

// CreateOpts carries a new branch's optional parent (defaults to
// "main" when empty).
type CreateOpts struct {
	Parent string
}

// Create registers a new branch at the current max tessella id and
// mirrors it as a schema-free Branch entity (spec.md §4.6
// "createBranch(name, parent?) creates a Branch entity under sentinel
// BRANCH, records parent_branch, branch_point, status active").
// Returns the branch's entity res id.
func Create(ctx context.Context, st *store.Store, name string, opts CreateOpts) (string, error) {
	parent := opts.Parent
	if parent == "" {
		parent = types.MainBranch
	}
	if name != types.MainBranch {
		if _, err := st.GetBranchRecord(ctx, parent); err != nil {
			return "", err
		}
	}

	rec, err := st.CreateBranchRecord(ctx, name, parent)
	if err != nil {
		return "", err
	}

	id, err := st.CreateRes(ctx, types.SentinelBranch, types.MainBranch, nil)
	if err != nil {
		return "", err
	}
	if _, err := st.Append(ctx, id, types.TypeCreated, map[string]any{}, store.AppendOpts{}); err != nil {
		return "", err
	}
	fields := map[string]any{
		"name":          rec.Name,
		"parent_branch": rec.ParentBranch,
		"branch_point":  rec.BranchPoint,
	}
	for _, key := range []string{"name", "parent_branch", "branch_point"} {
		if _, err := st.Append(ctx, id, types.TypeAttributeSet, map[string]any{"key": key, "value": fields[key]}, store.AppendOpts{}); err != nil {
			return "", err
		}
	}
	if _, err := st.Append(ctx, id, types.TypeStatusChanged, map[string]any{"target": rec.Status}, store.AppendOpts{}); err != nil {
		return "", err
	}
	return id, nil
}

// Switch validates that name can become the current branch, refusing
// merged/discarded branches (spec.md §4.6 "switchBranch refuses to
// switch to merged or discarded branches"). Callers own the actual
// currentBranch field; this is a pure check.
func Switch(ctx context.Context, st *store.Store, name string) error {
	rec, err := st.GetBranchRecord(ctx, name)
	if err != nil {
		return err
	}
	if rec.Status != "active" {
		return smerr.Newf(smerr.ErrBranchUnreachable, "branch %q is %s, not active", name, rec.Status).
			WithField("branch", name).WithField("status", rec.Status)
	}
	return nil
}

// Discard marks a branch discarded; rejects "main" (spec.md §4.6
// "discardBranch marks status discarded; rejects main").
func Discard(ctx context.Context, st *store.Store, name string) error {
	if name == types.MainBranch {
		return smerr.New(smerr.ErrSentinelProtected, "the main branch cannot be discarded")
	}
	return st.SetBranchStatus(ctx, name, "discarded")
}

// List returns every registered branch, root-first by creation order.
func List(ctx context.Context, st *store.Store) ([]store.BranchRecord, error) {
	return st.ListBranchRecords(ctx)
}
