package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/farant/smaragda/internal/action"
	"github.com/farant/smaragda/internal/entity"
	"github.com/farant/smaragda/internal/genus"
	"github.com/farant/smaragda/internal/reduce"
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

func defineBumpAction(t *testing.T, ctx context.Context, st *store.Store, counterGenus string) string {
	t.Helper()
	id, err := action.Define(ctx, st, action.Definition{
		Name:      "bump",
		Resources: []action.ResourceDef{{Name: "counter", GenusName: "Counter"}},
		Handler: []action.Step{
			{Kind: "create_log", Payload: map[string]any{"message": "bump", "res": "$res.counter.id"}},
		},
	})
	require.NoError(t, err)
	return id
}

func defineCounterGenus(t *testing.T, ctx context.Context, st *store.Store) string {
	t.Helper()
	id, err := genus.Define(ctx, st, genus.Definition{Kind: genus.KindEntity, Name: "Counter"})
	require.NoError(t, err)
	return id
}

// Exercises spec.md §8 scenario 5: a recurring minute-granularity
// schedule fires at most once per UTC minute.
func TestTickFiresRecurringScheduleAtMostOncePerMinute(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	counterGenus := defineCounterGenus(t, ctx, st)
	counterID, err := entity.Create(ctx, st, counterGenus, entity.CreateOpts{})
	require.NoError(t, err)
	bumpAction := defineBumpAction(t, ctx, st, counterGenus)

	scheduleID, err := Create(ctx, st, "every-minute", CreateOpts{
		Expression:    "* * * * *",
		TargetType:    TargetAction,
		TargetGenusID: bumpAction,
		TargetConfig: map[string]any{
			"resource_bindings": map[string]any{"counter": counterID},
		},
	})
	require.NoError(t, err)

	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	result, err := Tick(ctx, st, now)
	require.NoError(t, err)
	require.Len(t, result.Fired, 1)
	require.Equal(t, scheduleID, result.Fired[0].ScheduleID)
	require.Empty(t, result.Fired[0].Error)

	result, err = Tick(ctx, st, now.Add(30*time.Second))
	require.NoError(t, err)
	require.Empty(t, result.Fired, "same-UTC-minute re-tick must not fire again")
	require.Equal(t, 1, result.Skipped)

	result, err = Tick(ctx, st, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, result.Fired, 1, "the next minute fires again")
}

func TestCreateResolvesNaturalLanguageScheduledAt(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	counterGenus := defineCounterGenus(t, ctx, st)
	counterID, err := entity.Create(ctx, st, counterGenus, entity.CreateOpts{})
	require.NoError(t, err)
	bumpAction := defineBumpAction(t, ctx, st, counterGenus)

	base := time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC)
	scheduleID, err := Create(ctx, st, "tomorrow-9am", CreateOpts{
		Expression:      "0 0 1 1 *",
		ScheduledAtText: "tomorrow at 9am",
		Now:             base,
		TargetType:      TargetAction,
		TargetGenusID:   bumpAction,
		TargetConfig: map[string]any{
			"resource_bindings": map[string]any{"counter": counterID},
		},
	})
	require.NoError(t, err)

	s, err := st.Materialize(ctx, scheduleID, store.ReplayOpts{}, reduce.Default)
	require.NoError(t, err)
	scheduledAt, _ := s["scheduled_at"].(string)
	require.NotEmpty(t, scheduledAt)

	parsed, err := time.Parse(instantLayout, scheduledAt)
	require.NoError(t, err)
	require.Equal(t, base.AddDate(0, 0, 1).Day(), parsed.Day())
	require.Equal(t, 9, parsed.Hour())
}

func TestTickFiresOneShotThenRetires(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t)
	counterGenus := defineCounterGenus(t, ctx, st)
	counterID, err := entity.Create(ctx, st, counterGenus, entity.CreateOpts{})
	require.NoError(t, err)
	bumpAction := defineBumpAction(t, ctx, st, counterGenus)

	scheduledAt := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	scheduleID, err := Create(ctx, st, "one-shot", CreateOpts{
		Expression:    "0 0 1 1 *",
		ScheduledAt:   scheduledAt.Format(instantLayout),
		TargetType:    TargetAction,
		TargetGenusID: bumpAction,
		TargetConfig: map[string]any{
			"resource_bindings": map[string]any{"counter": counterID},
		},
	})
	require.NoError(t, err)

	result, err := Tick(ctx, st, scheduledAt.Add(-time.Hour))
	require.NoError(t, err)
	require.Empty(t, result.Fired, "must skip before scheduled_at")

	result, err = Tick(ctx, st, scheduledAt)
	require.NoError(t, err)
	require.Len(t, result.Fired, 1)

	s, err := st.Materialize(ctx, scheduleID, store.ReplayOpts{}, reduce.Default)
	require.NoError(t, err)
	require.Equal(t, "retired", s["status"])

	result, err = Tick(ctx, st, scheduledAt.Add(time.Hour))
	require.NoError(t, err)
	require.Empty(t, result.Fired, "retired schedules never fire again")
}
