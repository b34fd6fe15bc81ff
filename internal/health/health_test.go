package health

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/farant/smaragda/internal/action"
	"github.com/farant/smaragda/internal/entity"
	"github.com/farant/smaragda/internal/genus"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

func defineFlagErrorAction(t *testing.T, ctx context.Context, st *store.Store) string {
	t.Helper()
	id, err := action.Define(ctx, st, action.Definition{
		Name:      "flagError",
		Resources: []action.ResourceDef{{Name: "target", GenusName: "Server"}},
		Handler: []action.Step{
			{Kind: "create_error", Payload: map[string]any{"res": "$res.target.id", "message": "disk full", "severity": "critical"}},
		},
	})
	require.NoError(t, err)
	return id
}

// newestErrorID returns the most recently created Error res, for tests
// that need to acknowledge the error a side effect just wrote.
func newestErrorID(t *testing.T, ctx context.Context, st *store.Store) string {
	t.Helper()
	ids, err := st.ResIDsByGenus(ctx, types.SentinelError)
	require.NoError(t, err)
	require.NotEmpty(t, ids)
	return ids[len(ids)-1]
}

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
			{Name: "hostname", Type: "text", Required: true},
			{Name: "cpu_count", Type: "number"},
		},
		States: []genus.State{{Name: "provisioning", Initial: true}, {Name: "active"}},
		Transitions: []genus.Transition{
			{From: "provisioning", To: "active"},
		},
	})
	require.NoError(t, err)
	return id
}

func TestEvaluateHealthyEntityHasNoIssues(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	serverGenus := defineServerGenus(t, ctx, st)

	id, err := entity.Create(ctx, st, serverGenus, entity.CreateOpts{Attributes: map[string]any{"hostname": "db1"}})
	require.NoError(t, err)

	rep, err := Evaluate(ctx, st, id)
	require.NoError(t, err)
	require.True(t, rep.Healthy)
	require.Empty(t, rep.Issues)
}

func TestEvaluateFlagsMissingRequiredAttribute(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	serverGenus := defineServerGenus(t, ctx, st)

	id, err := entity.Create(ctx, st, serverGenus, entity.CreateOpts{})
	require.NoError(t, err)

	rep, err := Evaluate(ctx, st, id)
	require.NoError(t, err)
	require.False(t, rep.Healthy)
	require.Len(t, rep.Issues, 1)
	require.Equal(t, "missing_attribute", rep.Issues[0].Type)
}

func TestEvaluateFlagsUnacknowledgedError(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	serverGenus := defineServerGenus(t, ctx, st)
	flagError := defineFlagErrorAction(t, ctx, st)

	id, err := entity.Create(ctx, st, serverGenus, entity.CreateOpts{Attributes: map[string]any{"hostname": "db1"}})
	require.NoError(t, err)

	_, err = action.Execute(ctx, st, flagError, action.ExecuteOpts{ResourceBindings: map[string]string{"target": id}})
	require.NoError(t, err)

	rep, err := Evaluate(ctx, st, id)
	require.NoError(t, err)
	require.False(t, rep.Healthy)
	require.Equal(t, "unacknowledged_error", rep.Issues[0].Type)
}

func TestAcknowledgeErrorIsIdempotentBoundary(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	serverGenus := defineServerGenus(t, ctx, st)
	flagError := defineFlagErrorAction(t, ctx, st)

	id, err := entity.Create(ctx, st, serverGenus, entity.CreateOpts{Attributes: map[string]any{"hostname": "db1"}})
	require.NoError(t, err)

	_, err = action.Execute(ctx, st, flagError, action.ExecuteOpts{ResourceBindings: map[string]string{"target": id}})
	require.NoError(t, err)
	errID := newestErrorID(t, ctx, st)

	require.NoError(t, action.AcknowledgeError(ctx, st, errID))

	rep, err := Evaluate(ctx, st, id)
	require.NoError(t, err)
	require.True(t, rep.Healthy)

	err = action.AcknowledgeError(ctx, st, errID)
	require.Error(t, err)
}

func TestListUnhealthyFiltersByGenus(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	serverGenus := defineServerGenus(t, ctx, st)

	healthyID, err := entity.Create(ctx, st, serverGenus, entity.CreateOpts{Attributes: map[string]any{"hostname": "db1"}})
	require.NoError(t, err)
	unhealthyID, err := entity.Create(ctx, st, serverGenus, entity.CreateOpts{})
	require.NoError(t, err)

	reports, err := ListUnhealthy(ctx, st, ListOpts{GenusID: serverGenus})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	require.Equal(t, unhealthyID, reports[0].ResID)
	require.NotEqual(t, healthyID, reports[0].ResID)
}
