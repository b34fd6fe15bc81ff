package workspace

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/farant/smaragda/internal/entity"
	"github.com/farant/smaragda/internal/genus"
	"github.com/farant/smaragda/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func defineNoteGenus(t *testing.T, ctx context.Context, st *store.Store) string {
	t.Helper()
	id, err := genus.Define(ctx, st, genus.Definition{
		Kind:       genus.KindEntity,
		Name:       "Note",
		Attributes: []genus.Attribute{{Name: "body", Type: "text"}},
	})
	require.NoError(t, err)
	return id
}

func TestListScopesToCurrentWorkspaceOrGlobal(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	noteGenus := defineNoteGenus(t, ctx, st)

	wsA, err := Create(ctx, st, "Team A")
	require.NoError(t, err)

	globalNote, err := entity.Create(ctx, st, noteGenus, entity.CreateOpts{Attributes: map[string]any{"body": "shared"}})
	require.NoError(t, err)
	scopedNote, err := entity.Create(ctx, st, noteGenus, entity.CreateOpts{WorkspaceID: &wsA, Attributes: map[string]any{"body": "scoped"}})
	require.NoError(t, err)

	ids, err := List(ctx, st, ListOpts{GenusID: noteGenus, Workspace: wsA})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{globalNote, scopedNote}, ids)

	otherWS, err := Create(ctx, st, "Team B")
	require.NoError(t, err)
	ids, err = List(ctx, st, ListOpts{GenusID: noteGenus, Workspace: otherWS})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{globalNote}, ids, "scoped note must not leak into an unrelated workspace")
}

func TestDeleteRejectsNonEmptyWorkspace(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	noteGenus := defineNoteGenus(t, ctx, st)

	wsA, err := Create(ctx, st, "Team A")
	require.NoError(t, err)
	noteID, err := entity.Create(ctx, st, noteGenus, entity.CreateOpts{WorkspaceID: &wsA})
	require.NoError(t, err)

	err = Delete(ctx, st, wsA)
	require.Error(t, err)

	require.NoError(t, Assign(ctx, st, noteID, ""))
	require.NoError(t, Delete(ctx, st, wsA))
}

func TestMergeWorkspacesReassignsAndDeletesSource(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	noteGenus := defineNoteGenus(t, ctx, st)

	src, err := Create(ctx, st, "Source")
	require.NoError(t, err)
	tgt, err := Create(ctx, st, "Target")
	require.NoError(t, err)
	noteID, err := entity.Create(ctx, st, noteGenus, entity.CreateOpts{WorkspaceID: &src})
	require.NoError(t, err)

	require.NoError(t, Merge(ctx, st, src, tgt))

	ids, err := List(ctx, st, ListOpts{GenusID: noteGenus, Workspace: tgt})
	require.NoError(t, err)
	require.Contains(t, ids, noteID)

	count, err := st.CountResInWorkspace(ctx, src)
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestSearchMatchesOnlyDeclaredTextAttributes(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	noteGenus := defineNoteGenus(t, ctx, st)

	hit, err := entity.Create(ctx, st, noteGenus, entity.CreateOpts{Attributes: map[string]any{"body": "Remember the Milk"}})
	require.NoError(t, err)
	_, err = entity.Create(ctx, st, noteGenus, entity.CreateOpts{Attributes: map[string]any{"body": "Buy eggs"}})
	require.NoError(t, err)

	hits, err := Search(ctx, st, "milk", SearchOpts{GenusID: noteGenus})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, hit, hits[0].ResID)
	require.Equal(t, []string{"body"}, hits[0].MatchedAttributes)
}
