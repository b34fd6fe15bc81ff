package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDailyAliasMatchesOnlyMidnight(t *testing.T) {
	match, err := Matches("@daily", time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, match)

	match, err = Matches("@daily", time.Date(2026, 7, 30, 0, 1, 0, 0, time.UTC))
	require.NoError(t, err)
	require.False(t, match)

	match, err = Matches("@daily", time.Date(2026, 7, 30, 1, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.False(t, match)
}

func TestEveryMinuteExpressionMatchesAnyMinute(t *testing.T) {
	match, err := Matches("* * * * *", time.Date(2026, 7, 30, 13, 45, 0, 0, time.UTC))
	require.NoError(t, err)
	require.True(t, match)
}

func TestStepExpressionMatchesEveryFifteenMinutes(t *testing.T) {
	for _, minute := range []int{0, 15, 30, 45} {
		match, err := Matches("*/15 * * * *", time.Date(2026, 7, 30, 9, minute, 0, 0, time.UTC))
		require.NoError(t, err)
		require.Truef(t, match, "minute %d should match */15", minute)
	}
	match, err := Matches("*/15 * * * *", time.Date(2026, 7, 30, 9, 20, 0, 0, time.UTC))
	require.NoError(t, err)
	require.False(t, match)
}

func TestRangeAndListFields(t *testing.T) {
	match, err := Matches("0 9-17 * * 1,3,5", time.Date(2026, 7, 29, 12, 0, 0, 0, time.UTC)) // Wednesday
	require.NoError(t, err)
	require.True(t, match)

	match, err = Matches("0 9-17 * * 1,3,5", time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)) // Thursday
	require.NoError(t, err)
	require.False(t, match)
}

func TestParseRejectsMalformedExpression(t *testing.T) {
	_, err := Parse("* * * *")
	require.Error(t, err)

	_, err = Parse("60 * * * *")
	require.Error(t, err)
}

func TestParseDelay(t *testing.T) {
	ms, err := ParseDelay("30s")
	require.NoError(t, err)
	require.EqualValues(t, 30000, ms)

	ms, err = ParseDelay("1d")
	require.NoError(t, err)
	require.EqualValues(t, 86400000, ms)

	_, err = ParseDelay("abc")
	require.Error(t, err)
}
