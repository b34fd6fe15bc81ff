package entity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

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
		Kind:       genus.KindEntity,
		Name:       "Server",
		Attributes: []genus.Attribute{{Name: "ip_address", Type: "text", Required: true}},
		States: []genus.State{
			{Name: "provisioning", Initial: true},
			{Name: "active"},
			{Name: "decommissioned"},
		},
		Transitions: []genus.Transition{
			{From: "provisioning", To: "active"},
			{From: "active", To: "decommissioned"},
		},
	})
	require.NoError(t, err)
	return id
}

// Exercises spec.md §8 scenario 1.
func TestServerLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	serverGenus := defineServerGenus(t, ctx, st)

	id, err := Create(ctx, st, serverGenus, CreateOpts{})
	require.NoError(t, err)

	require.NoError(t, SetAttribute(ctx, st, id, "ip_address", "10.0.0.1"))

	err = TransitionStatus(ctx, st, id, "decommissioned")
	require.Error(t, err, "provisioning cannot jump straight to decommissioned")

	require.NoError(t, TransitionStatus(ctx, st, id, "active"))

	state, err := Materialize(ctx, st, id, store.ReplayOpts{})
	require.NoError(t, err)
	require.Equal(t, "10.0.0.1", state["ip_address"])
	require.Equal(t, "active", state["status"])
}

func TestSetAttributeRejectsUnknownKey(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	serverGenus := defineServerGenus(t, ctx, st)

	id, err := Create(ctx, st, serverGenus, CreateOpts{})
	require.NoError(t, err)

	err = SetAttribute(ctx, st, id, "not_a_field", "x")
	require.Error(t, err)
}

func TestSetAttributeRejectsTypeMismatch(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	serverGenus := defineServerGenus(t, ctx, st)

	id, err := Create(ctx, st, serverGenus, CreateOpts{})
	require.NoError(t, err)

	err = SetAttribute(ctx, st, id, "ip_address", 42)
	require.Error(t, err)
}

// Exercises spec.md §8 scenario 3.
func TestFeatureNotEditableWhenParentArchived(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	pageGenusID, err := genus.Define(ctx, st, genus.Definition{
		Kind:   genus.KindEntity,
		Name:   "Issue",
		States: []genus.State{{Name: "draft", Initial: true}, {Name: "archived"}},
		Transitions: []genus.Transition{
			{From: "draft", To: "archived"},
			{From: "archived", To: "draft"},
		},
		Meta: map[string]any{"editable_parent_statuses": []any{"draft"}},
	})
	require.NoError(t, err)

	id, err := Create(ctx, st, pageGenusID, CreateOpts{})
	require.NoError(t, err)
	featureID, err := CreateFeature(ctx, st, id, map[string]any{"title": "Page 1"})
	require.NoError(t, err)

	require.NoError(t, TransitionStatus(ctx, st, id, "archived"))
	err = SetFeatureAttribute(ctx, st, id, featureID, "body", "hello")
	require.Error(t, err)

	require.NoError(t, TransitionStatus(ctx, st, id, "draft"))
	err = SetFeatureAttribute(ctx, st, id, featureID, "body", "hello")
	require.NoError(t, err)
}
