package process

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	actionpkg "github.com/farant/smaragda/internal/action"
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

// Exercises spec.md §8 scenario 6: two task lanes feeding a
// convergence gate that fans into a publish action step.
func TestGatedProcessScenario(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	docGenus, err := genus.Define(ctx, st, genus.Definition{
		Kind:   genus.KindEntity,
		Name:   "Document",
		States: []genus.State{{Name: "draft", Initial: true}, {Name: "published"}},
		Transitions: []genus.Transition{
			{From: "draft", To: "published"},
		},
	})
	require.NoError(t, err)
	docID, err := entity.Create(ctx, st, docGenus, entity.CreateOpts{})
	require.NoError(t, err)

	publishAction, err := actionpkg.Define(ctx, st, actionpkg.Definition{
		Name:      "publish",
		Resources: []actionpkg.ResourceDef{{Name: "doc", GenusName: "Document"}},
		Handler: []actionpkg.Step{
			{Kind: "transition_status", Payload: map[string]any{"res": "$res.doc.id", "target": "published"}},
		},
	})
	require.NoError(t, err)

	processGenus, err := Define(ctx, st, Definition{
		Name: "review",
		Lanes: []LaneDef{
			{Name: "editorial", Position: 0},
			{Name: "legal", Position: 1},
			{Name: "release", Position: 2},
		},
		Steps: []StepDef{
			{Name: "editorial_review", Lane: "editorial", Type: "task_step", Fields: map[string]any{"task_title": "Editorial review"}},
			{Name: "legal_review", Lane: "legal", Type: "task_step", Fields: map[string]any{"task_title": "Legal review"}},
			{Name: "convergence", Lane: "release", Type: "gate_step", Fields: map[string]any{"gate_conditions": []any{"editorial_review", "legal_review"}}},
			{Name: "publish", Lane: "release", Type: "action_step", Fields: map[string]any{
				"action_name":              "publish",
				"action_resource_bindings": map[string]any{"doc": "$context.res_id"},
			}},
		},
	})
	require.NoError(t, err)

	instanceID, err := Start(ctx, st, processGenus, StartOpts{ContextResID: docID})
	require.NoError(t, err)

	inst, err := materializeInstance(ctx, st, instanceID)
	require.NoError(t, err)
	require.Equal(t, "active", inst.Steps["editorial_review"].Status)
	require.Equal(t, "active", inst.Steps["legal_review"].Status)
	_, hasGate := inst.Steps["convergence"]
	require.False(t, hasGate, "gate must not activate until both reviews complete")

	require.NoError(t, CompleteTask(ctx, st, inst.Steps["editorial_review"].TaskID, "done"))

	inst, err = materializeInstance(ctx, st, instanceID)
	require.NoError(t, err)
	require.Equal(t, "running", inst.Status)
	_, hasGate = inst.Steps["convergence"]
	require.False(t, hasGate, "gate still waits on the legal review")

	require.NoError(t, CompleteTask(ctx, st, inst.Steps["legal_review"].TaskID, "done"))

	inst, err = materializeInstance(ctx, st, instanceID)
	require.NoError(t, err)
	require.Equal(t, "completed", inst.Status)
	require.Equal(t, "completed", inst.Steps["convergence"].Status)
	require.Equal(t, "completed", inst.Steps["publish"].Status)

	state, err := entity.Materialize(ctx, st, docID, store.ReplayOpts{})
	require.NoError(t, err)
	require.Equal(t, "published", state["status"])
}
