package action

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

func defineServerGenus(t *testing.T, ctx context.Context, st *store.Store) string {
	t.Helper()
	id, err := genus.Define(ctx, st, genus.Definition{
		Kind: genus.KindEntity,
		Name: "Server",
		Attributes: []genus.Attribute{
			{Name: "deployed_at", Type: "text"},
			{Name: "version", Type: "text"},
		},
		States: []genus.State{
			{Name: "provisioning", Initial: true},
			{Name: "active"},
			{Name: "deployed"},
		},
		Transitions: []genus.Transition{
			{From: "provisioning", To: "active"},
			{From: "active", To: "deployed"},
		},
	})
	require.NoError(t, err)
	return id
}

func defineDeployAction(t *testing.T, ctx context.Context, st *store.Store) string {
	t.Helper()
	id, err := Define(ctx, st, Definition{
		Name:       "deploy",
		Resources:  []ResourceDef{{Name: "server", GenusName: "Server", RequiredStatus: "active"}},
		Parameters: []ParamDef{{Name: "version", Type: "text", Required: true}},
		Handler: []Step{
			{Kind: "set_attribute", Payload: map[string]any{"res": "$res.server.id", "key": "deployed_at", "value": "$now"}},
			{Kind: "set_attribute", Payload: map[string]any{"res": "$res.server.id", "key": "version", "value": "$param.version"}},
			{Kind: "create_log", Payload: map[string]any{"message": "Deployed $param.version"}},
			{Kind: "transition_status", Payload: map[string]any{"res": "$res.server.id", "target": "deployed"}},
		},
	})
	require.NoError(t, err)
	return id
}

// Exercises spec.md §8 scenario 2.
func TestDeployActionScenario(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	serverGenus := defineServerGenus(t, ctx, st)
	deployAction := defineDeployAction(t, ctx, st)

	serverID, err := entity.Create(ctx, st, serverGenus, entity.CreateOpts{})
	require.NoError(t, err)

	_, err = Execute(ctx, st, deployAction, ExecuteOpts{
		ResourceBindings: map[string]string{"server": serverID},
		Params:           map[string]any{"version": "2.0"},
	})
	require.Error(t, err, "server is still provisioning, not active")

	require.NoError(t, entity.TransitionStatus(ctx, st, serverID, "active"))

	result, err := Execute(ctx, st, deployAction, ExecuteOpts{
		ResourceBindings: map[string]string{"server": serverID},
		Params:           map[string]any{"version": "2.0"},
	})
	require.NoError(t, err)
	require.NotZero(t, result.ActionTakenID)
	require.NotEmpty(t, result.TessellaeIDs)

	state, err := entity.Materialize(ctx, st, serverID, store.ReplayOpts{})
	require.NoError(t, err)
	require.Equal(t, "deployed", state["status"])
	require.Equal(t, "2.0", state["version"])
}

func TestDefineRejectsUndefinedTokenReference(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	_, err := Define(ctx, st, Definition{
		Name:      "broken",
		Resources: []ResourceDef{{Name: "server", GenusName: "Server"}},
		Handler: []Step{
			{Kind: "set_attribute", Payload: map[string]any{"res": "$res.nonexistent.id", "key": "x", "value": "y"}},
		},
	})
	require.Error(t, err)
}

func TestExecuteMissingResourceBinding(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	defineServerGenus(t, ctx, st)
	deployAction := defineDeployAction(t, ctx, st)

	_, err := Execute(ctx, st, deployAction, ExecuteOpts{Params: map[string]any{"version": "2.0"}})
	require.Error(t, err)
}

func TestExecuteMissingRequiredParameter(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	serverGenus := defineServerGenus(t, ctx, st)
	deployAction := defineDeployAction(t, ctx, st)

	serverID, err := entity.Create(ctx, st, serverGenus, entity.CreateOpts{})
	require.NoError(t, err)
	require.NoError(t, entity.TransitionStatus(ctx, st, serverID, "active"))

	_, err = Execute(ctx, st, deployAction, ExecuteOpts{ResourceBindings: map[string]string{"server": serverID}})
	require.Error(t, err)
}
