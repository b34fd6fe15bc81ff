package genus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

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

func TestDefineAndGetServerGenus(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	id, err := Define(ctx, st, Definition{
		Kind:       KindEntity,
		Name:       "Server",
		Attributes: []Attribute{{Name: "ip_address", Type: "text", Required: true}},
		States: []State{
			{Name: "provisioning", Initial: true},
			{Name: "active"},
			{Name: "decommissioned"},
		},
		Transitions: []Transition{
			{From: "provisioning", To: "active"},
			{From: "active", To: "decommissioned"},
		},
	})
	require.NoError(t, err)

	g, err := Get(ctx, st, id)
	require.NoError(t, err)
	require.Equal(t, "Server", g.Name)
	require.Contains(t, g.Attributes, "ip_address")
	require.True(t, g.Attributes["ip_address"].Required)
	require.Len(t, g.States, 3)
	require.Len(t, g.Transitions, 2)
}

func TestDefineRejectsTransitionToUndefinedState(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	_, err := Define(ctx, st, Definition{
		Kind:        KindEntity,
		Name:        "Broken",
		States:      []State{{Name: "active"}},
		Transitions: []Transition{{From: "active", To: "missing"}},
	})
	require.Error(t, err)
}

func TestEvolveIsIdempotentForExistingFacts(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	id, err := Define(ctx, st, Definition{
		Kind:       KindEntity,
		Name:       "Server",
		Attributes: []Attribute{{Name: "ip_address", Type: "text", Required: true}},
		States:     []State{{Name: "active", Initial: true}},
	})
	require.NoError(t, err)

	err = Evolve(ctx, st, id, Evolution{
		Attributes: []Attribute{{Name: "ip_address", Type: "text", Required: true}},
		States:     []State{{Name: "active", Initial: true}},
	})
	require.NoError(t, err)

	g, err := Get(ctx, st, id)
	require.NoError(t, err)
	require.Len(t, g.Attributes, 1)
	require.Len(t, g.States, 1)
}

func TestDeprecateRejectsSentinel(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	err := Deprecate(ctx, st, "0000000000000000000000META", "2026-01-01T00:00:00.000Z")
	require.Error(t, err)
}

func TestDeprecateThenRestore(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	id, err := Define(ctx, st, Definition{Kind: KindEntity, Name: "Widget"})
	require.NoError(t, err)

	require.NoError(t, Deprecate(ctx, st, id, "2026-01-01T00:00:00.000Z"))
	g, err := Get(ctx, st, id)
	require.NoError(t, err)
	require.True(t, g.Deprecated)

	require.NoError(t, Restore(ctx, st, id))
	g, err = Get(ctx, st, id)
	require.NoError(t, err)
	require.False(t, g.Deprecated)
}
