package branch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/farant/smaragda/internal/entity"
	"github.com/farant/smaragda/internal/genus"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func defineDocumentGenus(t *testing.T, ctx context.Context, st *store.Store) string {
	t.Helper()
	id, err := genus.Define(ctx, st, genus.Definition{
		Kind:       genus.KindEntity,
		Name:       "Document",
		Attributes: []genus.Attribute{{Name: "title", Type: "text"}},
	})
	require.NoError(t, err)
	return id
}

// Exercises the clean-merge half of spec.md §8 scenario 4: branching
// off main, editing only on the branch, then merging with no
// conflicts copies the edit onto main.
func TestCleanMergeCopiesBranchEdit(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	docGenus := defineDocumentGenus(t, ctx, st)

	docID, err := entity.Create(ctx, st, docGenus, entity.CreateOpts{Attributes: map[string]any{"title": "Original"}})
	require.NoError(t, err)

	_, err = Create(ctx, st, "experiment", CreateOpts{Parent: types.MainBranch})
	require.NoError(t, err)

	_, err = st.Append(ctx, docID, types.TypeAttributeSet,
		map[string]any{"key": "title", "value": "Experiment Title"}, store.AppendOpts{Branch: "experiment"})
	require.NoError(t, err)

	result, err := Merge(ctx, st, "experiment", types.MainBranch, MergeOpts{}, DefaultRebuilders())
	require.NoError(t, err)
	require.True(t, result.Merged)
	require.Empty(t, result.Conflicts)

	state, err := entity.Materialize(ctx, st, docID, store.ReplayOpts{Branch: types.MainBranch})
	require.NoError(t, err)
	require.Equal(t, "Experiment Title", state["title"])

	rec, err := st.GetBranchRecord(ctx, "experiment")
	require.NoError(t, err)
	require.Equal(t, "merged", rec.Status)
}

// Exercises the conflicting half of spec.md §8 scenario 4: editing the
// same title on both branches since divergence blocks a plain merge
// but force overwrites it.
func TestConflictingMergeRequiresForce(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	docGenus := defineDocumentGenus(t, ctx, st)

	docID, err := entity.Create(ctx, st, docGenus, entity.CreateOpts{Attributes: map[string]any{"title": "Original"}})
	require.NoError(t, err)

	_, err = Create(ctx, st, "experiment2", CreateOpts{Parent: types.MainBranch})
	require.NoError(t, err)

	_, err = st.Append(ctx, docID, types.TypeAttributeSet,
		map[string]any{"key": "title", "value": "Branch Title"}, store.AppendOpts{Branch: "experiment2"})
	require.NoError(t, err)
	_, err = st.Append(ctx, docID, types.TypeAttributeSet,
		map[string]any{"key": "title", "value": "Main Title"}, store.AppendOpts{Branch: types.MainBranch})
	require.NoError(t, err)

	result, err := Merge(ctx, st, "experiment2", types.MainBranch, MergeOpts{}, DefaultRebuilders())
	require.NoError(t, err)
	require.False(t, result.Merged)
	require.Len(t, result.Conflicts, 1)
	require.Equal(t, docID, result.Conflicts[0].ResID)
	require.Equal(t, "attribute:title", result.Conflicts[0].Field)
	require.Equal(t, "Branch Title", result.Conflicts[0].SourceValue)
	require.Equal(t, "Main Title", result.Conflicts[0].TargetValue)

	rec, err := st.GetBranchRecord(ctx, "experiment2")
	require.NoError(t, err)
	require.Equal(t, "active", rec.Status, "a blocked merge must not mark the branch merged")

	forced, err := Merge(ctx, st, "experiment2", types.MainBranch, MergeOpts{Force: true}, DefaultRebuilders())
	require.NoError(t, err)
	require.True(t, forced.Merged)

	state, err := entity.Materialize(ctx, st, docID, store.ReplayOpts{Branch: types.MainBranch})
	require.NoError(t, err)
	require.Equal(t, "Branch Title", state["title"], "source's edit lands last in copy order, so it wins on force")
}

func TestSwitchRefusesMergedBranch(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	_, err := Create(ctx, st, "feature-x", CreateOpts{})
	require.NoError(t, err)
	require.NoError(t, Switch(ctx, st, "feature-x"))

	require.NoError(t, st.SetBranchStatus(ctx, "feature-x", "merged"))
	err = Switch(ctx, st, "feature-x")
	require.Error(t, err)
}

func TestDiscardRejectsMain(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	err := Discard(ctx, st, types.MainBranch)
	require.Error(t, err)
}
