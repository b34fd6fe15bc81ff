package sync

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

func TestPullOnlyReturnsLocalUnpushedWork(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	noteGenus, err := genus.Define(ctx, st, genus.Definition{
		Kind:       genus.KindEntity,
		Name:       "Note",
		Attributes: []genus.Attribute{{Name: "body", Type: "text"}},
	})
	require.NoError(t, err)
	_, err = entity.Create(ctx, st, noteGenus, entity.CreateOpts{Attributes: map[string]any{"body": "first"}})
	require.NoError(t, err)

	b, err := Pull(ctx, st)
	require.NoError(t, err)
	require.NotEmpty(t, b.Tessellae)
	require.NotZero(t, b.HighWaterMark)

	require.NoError(t, Ack(ctx, st, b))

	again, err := Pull(ctx, st)
	require.NoError(t, err)
	require.Empty(t, again.Tessellae, "already-acked work must not be pulled again")
}

func TestApplyTagsPulledTessellaeWithSourceTag(t *testing.T) {
	ctx := context.Background()
	srcSt := openTestStore(t)
	dstSt := openTestStore(t)

	noteGenus, err := genus.Define(ctx, srcSt, genus.Definition{
		Kind:       genus.KindEntity,
		Name:       "Note",
		Attributes: []genus.Attribute{{Name: "body", Type: "text"}},
	})
	require.NoError(t, err)
	_, err = entity.Create(ctx, srcSt, noteGenus, entity.CreateOpts{Attributes: map[string]any{"body": "hi"}})
	require.NoError(t, err)

	b, err := Pull(ctx, srcSt)
	require.NoError(t, err)

	beforeApply, err := dstSt.MaxTessellaID(ctx)
	require.NoError(t, err)
	require.NoError(t, Apply(ctx, dstSt, b, "peer-1"))

	applied, err := dstSt.UnpushedTessellae(ctx, beforeApply)
	require.NoError(t, err)
	require.Empty(t, applied, "tessellae tagged sync: must not count as unpushed on the receiving store")
}

func TestJSONLRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)

	noteGenus, err := genus.Define(ctx, st, genus.Definition{
		Kind:       genus.KindEntity,
		Name:       "Note",
		Attributes: []genus.Attribute{{Name: "body", Type: "text"}},
	})
	require.NoError(t, err)
	_, err = entity.Create(ctx, st, noteGenus, entity.CreateOpts{Attributes: map[string]any{"body": "via jsonl"}})
	require.NoError(t, err)

	b, err := Pull(ctx, st)
	require.NoError(t, err)

	data, err := WriteJSONL(b)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	parsed, err := ReadJSONL(data)
	require.NoError(t, err)
	require.Equal(t, len(b.Res), len(parsed.Res))
	require.Equal(t, len(b.Tessellae), len(parsed.Tessellae))
	require.Equal(t, b.HighWaterMark, parsed.HighWaterMark)
}

func TestPeerIDsAreUnique(t *testing.T) {
	a := PeerID()
	b := PeerID()
	require.NotEqual(t, a, b)
	require.Len(t, a, 36)
}
