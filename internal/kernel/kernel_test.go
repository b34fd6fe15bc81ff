package kernel

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/farant/smaragda/internal/branch"
	"github.com/farant/smaragda/internal/entity"
	"github.com/farant/smaragda/internal/genus"
	"github.com/farant/smaragda/internal/kernelconfig"
	"github.com/farant/smaragda/internal/workspace"
)

func TestInitKernelTwiceOnSameStoreIsNoOp(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "smaragda.db")

	k1, err := Init(ctx, kernelconfig.Config{StorePath: path, DefaultBranch: "main"})
	require.NoError(t, err)
	before, err := k1.St.AllResIDs(ctx)
	require.NoError(t, err)
	require.NoError(t, k1.Close())

	k2, err := Init(ctx, kernelconfig.Config{StorePath: path, DefaultBranch: "main"})
	require.NoError(t, err)
	defer k2.Close()
	after, err := k2.St.AllResIDs(ctx)
	require.NoError(t, err)

	require.Equal(t, before, after, "reopening the same store must not duplicate sentinel res")
}

func TestSwitchBranchUpdatesCurrentBranchAndRejectsDiscarded(t *testing.T) {
	ctx := context.Background()
	k, err := Init(ctx, kernelconfig.Config{StorePath: ":memory:", DefaultBranch: "main"})
	require.NoError(t, err)
	defer k.Close()
	require.Equal(t, "main", k.CurrentBranch())

	_, err = branch.Create(ctx, k.St, "feature-x", branch.CreateOpts{})
	require.NoError(t, err)

	require.NoError(t, k.SwitchBranch(ctx, "feature-x"))
	require.Equal(t, "feature-x", k.CurrentBranch())

	require.NoError(t, branch.Discard(ctx, k.St, "feature-x"))
	err = k.SwitchBranch(ctx, "feature-x")
	require.Error(t, err)
	require.Equal(t, "feature-x", k.CurrentBranch(), "a rejected switch must not change currentBranch")
}

func TestCreateEntityStampsCurrentWorkspace(t *testing.T) {
	ctx := context.Background()
	k, err := Init(ctx, kernelconfig.Config{StorePath: ":memory:"})
	require.NoError(t, err)
	defer k.Close()

	genusID, err := genus.Define(ctx, k.St, genus.Definition{Kind: genus.KindEntity, Name: "Note"})
	require.NoError(t, err)

	wsID, err := workspace.Create(ctx, k.St, "scratch")
	require.NoError(t, err)
	k.SetWorkspace(wsID)

	entID, err := k.CreateEntity(ctx, genusID, entity.CreateOpts{})
	require.NoError(t, err)

	res, err := k.St.GetRes(ctx, entID)
	require.NoError(t, err)
	require.NotNil(t, res.WorkspaceID)
	require.Equal(t, wsID, *res.WorkspaceID)
}

func TestListEntitiesDefaultsToCurrentWorkspace(t *testing.T) {
	ctx := context.Background()
	k, err := Init(ctx, kernelconfig.Config{StorePath: ":memory:"})
	require.NoError(t, err)
	defer k.Close()

	genusID, err := genus.Define(ctx, k.St, genus.Definition{Kind: genus.KindEntity, Name: "Note"})
	require.NoError(t, err)

	globalID, err := entity.Create(ctx, k.St, genusID, entity.CreateOpts{})
	require.NoError(t, err)

	wsID, err := workspace.Create(ctx, k.St, "scratch")
	require.NoError(t, err)
	k.SetWorkspace(wsID)
	scopedID, err := k.CreateEntity(ctx, genusID, entity.CreateOpts{})
	require.NoError(t, err)

	ids, err := k.ListEntities(ctx, workspace.ListOpts{GenusID: genusID})
	require.NoError(t, err)
	require.ElementsMatch(t, []string{globalID, scopedID}, ids)
}
