package schedule

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/farant/smaragda/internal/action"
	"github.com/farant/smaragda/internal/process"
	"github.com/farant/smaragda/internal/reduce"
	"github.com/farant/smaragda/internal/smerr"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

// naturalParser resolves human-supplied one-shot trigger phrases
// ("tomorrow at 9am") to a concrete instant, ahead of storing
// scheduled_at as the plain ISO-8601 anchor spec.md §4.11 requires.
var naturalParser = newNaturalParser()

func newNaturalParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// ParseNaturalSchedule resolves text relative to base into an ISO-8601
// instant, for callers creating a one-shot CronSchedule from a
// human-supplied phrase rather than a literal timestamp.
func ParseNaturalSchedule(text string, base time.Time) (string, error) {
	r, err := naturalParser.Parse(text, base)
	if err != nil {
		return "", smerr.Newf(smerr.ErrInvalidCronExpression, "could not parse schedule phrase %q: %v", text, err)
	}
	if r == nil {
		return "", smerr.Newf(smerr.ErrInvalidCronExpression, "schedule phrase %q did not resolve to an instant", text)
	}
	return r.Time.UTC().Format(instantLayout), nil
}

const instantLayout = "2006-01-02T15:04:05.000Z"

// TargetType names what a CronSchedule fires (spec.md §4.11).
type TargetType string

const (
	TargetAction  TargetType = "action"
	TargetProcess TargetType = "process"
)

// CreateOpts carries the defining fields of a CronSchedule entity.
type CreateOpts struct {
	Expression      string
	ScheduledAt     string // ISO-8601; present means one-shot
	ScheduledAtText string // natural-language alternative to ScheduledAt, resolved relative to Now
	Now             time.Time
	TargetType      TargetType
	TargetGenusID   string
	TargetConfig    map[string]any // resource_bindings/params for action, context_res_id for process
}

// Create registers a CronSchedule as a schema-free entity res, the
// same journal-entity pattern internal/action established for
// Log/Error/Task and internal/workspace/internal/branch reused for
// Workspace/Branch. ScheduledAtText, if given, is resolved through
// ParseNaturalSchedule before ScheduledAt is stored.
func Create(ctx context.Context, st *store.Store, name string, opts CreateOpts) (string, error) {
	if _, err := Parse(opts.Expression); err != nil {
		return "", err
	}

	if opts.ScheduledAtText != "" {
		base := opts.Now
		if base.IsZero() {
			base = time.Now().UTC()
		}
		resolved, err := ParseNaturalSchedule(opts.ScheduledAtText, base)
		if err != nil {
			return "", err
		}
		opts.ScheduledAt = resolved
	}

	id, err := st.CreateRes(ctx, types.SentinelCronSchedule, types.MainBranch, nil)
	if err != nil {
		return "", err
	}

	items := []store.PendingTessella{
		{ResID: id, Type: types.TypeCreated, Data: map[string]any{}},
		{ResID: id, Type: types.TypeAttributeSet, Data: map[string]any{"key": "name", "value": name}},
		{ResID: id, Type: types.TypeAttributeSet, Data: map[string]any{"key": "expression", "value": opts.Expression}},
		{ResID: id, Type: types.TypeAttributeSet, Data: map[string]any{"key": "target_type", "value": string(opts.TargetType)}},
		{ResID: id, Type: types.TypeAttributeSet, Data: map[string]any{"key": "target_genus_id", "value": opts.TargetGenusID}},
	}
	if opts.ScheduledAt != "" {
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeAttributeSet, Data: map[string]any{"key": "scheduled_at", "value": opts.ScheduledAt}})
	}
	if opts.TargetConfig != nil {
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeAttributeSet, Data: map[string]any{"key": "target_config", "value": opts.TargetConfig}})
	}
	items = append(items, store.PendingTessella{ResID: id, Type: types.TypeStatusChanged, Data: map[string]any{"target": "active"}})

	if _, err := st.AppendBatch(ctx, items, store.AppendOpts{}); err != nil {
		return "", err
	}
	return id, nil
}

// SetStatus transitions a schedule's bookkeeping status directly, like
// the other journal-entity packages (spec.md §4.11 "status ∈ {active,
// paused, retired}").
func SetStatus(ctx context.Context, st *store.Store, scheduleID, target string) error {
	_, err := st.Append(ctx, scheduleID, types.TypeStatusChanged, map[string]any{"target": target}, store.AppendOpts{})
	return err
}

type scheduleState struct {
	Name          string
	Expression    string
	ScheduledAt   string
	TargetType    string
	TargetGenusID string
	TargetConfig  map[string]any
	Status        string
	LastFiredAt   string
}

func materialize(ctx context.Context, st *store.Store, id string) (scheduleState, error) {
	raw, err := st.Materialize(ctx, id, store.ReplayOpts{}, reduce.Default)
	if err != nil {
		return scheduleState{}, err
	}
	var s scheduleState
	s.Name, _ = raw["name"].(string)
	s.Expression, _ = raw["expression"].(string)
	s.ScheduledAt, _ = raw["scheduled_at"].(string)
	s.TargetType, _ = raw["target_type"].(string)
	s.TargetGenusID, _ = raw["target_genus_id"].(string)
	s.TargetConfig, _ = raw["target_config"].(map[string]any)
	s.Status, _ = raw["status"].(string)
	s.LastFiredAt, _ = raw["last_fired_at"].(string)
	return s, nil
}

// FireResult records what happened when one schedule fired.
type FireResult struct {
	ScheduleID string
	Name       string
	TargetType string
	Error      string
}

// TickResult is tickCron's return value (spec.md §4.11 "tickCron(now =
// new Date())").
type TickResult struct {
	Checked int
	Fired   []FireResult
	Skipped int
}

// Tick evaluates every active CronSchedule against now, firing
// recurring schedules at most once per UTC minute and one-shot
// schedules exactly once before retiring them (spec.md §4.11).
func Tick(ctx context.Context, st *store.Store, now time.Time) (TickResult, error) {
	ids, err := st.ResIDsByGenus(ctx, types.SentinelCronSchedule)
	if err != nil {
		return TickResult{}, err
	}

	var result TickResult
	nowISO := now.UTC().Format(instantLayout)

	for _, id := range ids {
		s, err := materialize(ctx, st, id)
		if err != nil {
			return TickResult{}, err
		}
		if s.Status != "active" {
			continue
		}
		result.Checked++

		if s.ScheduledAt != "" {
			scheduledAt, err := time.Parse(instantLayout, s.ScheduledAt)
			if err != nil {
				result.Skipped++
				continue
			}
			if now.Before(scheduledAt) {
				result.Skipped++
				continue
			}
			result.Fired = append(result.Fired, fire(ctx, st, id, s, nowISO))
			if err := SetStatus(ctx, st, id, "retired"); err != nil {
				return TickResult{}, err
			}
			continue
		}

		matched, err := Matches(s.Expression, now)
		if err != nil {
			result.Skipped++
			continue
		}
		if !matched {
			result.Skipped++
			continue
		}
		if sameUTCMinute(s.LastFiredAt, now) {
			result.Skipped++
			continue
		}
		result.Fired = append(result.Fired, fire(ctx, st, id, s, nowISO))
	}
	return result, nil
}

func sameUTCMinute(lastFiredAt string, now time.Time) bool {
	if lastFiredAt == "" {
		return false
	}
	t, err := time.Parse(instantLayout, lastFiredAt)
	if err != nil {
		return false
	}
	t, now = t.UTC(), now.UTC()
	return t.Truncate(time.Minute).Equal(now.Truncate(time.Minute))
}

func fire(ctx context.Context, st *store.Store, id string, s scheduleState, nowISO string) FireResult {
	result := FireResult{ScheduleID: id, Name: s.Name, TargetType: s.TargetType}

	switch TargetType(s.TargetType) {
	case TargetAction:
		bindings := stringMap(s.TargetConfig["resource_bindings"])
		params, _ := s.TargetConfig["params"].(map[string]any)
		_, errStr := action.ExecuteSafe(ctx, st, s.TargetGenusID, action.ExecuteOpts{
			ResourceBindings: bindings,
			Params:           params,
			Source:           "schedule:" + id,
		})
		result.Error = errStr
	case TargetProcess:
		contextResID, _ := s.TargetConfig["context_res_id"].(string)
		if _, err := process.Start(ctx, st, s.TargetGenusID, process.StartOpts{ContextResID: contextResID}); err != nil {
			result.Error = err.Error()
		}
	default:
		result.Error = "unknown target_type " + s.TargetType
	}

	if _, err := st.Append(ctx, id, types.TypeAttributeSet, map[string]any{"key": "last_fired_at", "value": nowISO}, store.AppendOpts{}); err != nil {
		result.Error = err.Error()
	}
	return result
}

func stringMap(v any) map[string]string {
	m, _ := v.(map[string]any)
	out := make(map[string]string, len(m))
	for k, val := range m {
		if s, ok := val.(string); ok {
			out[k] = s
		}
	}
	return out
}

var delayPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var delayUnitMillis = map[byte]int64{
	's': 1000,
	'm': 60 * 1000,
	'h': 60 * 60 * 1000,
	'd': 24 * 60 * 60 * 1000,
}

// ParseDelay parses a delay string like "30s" or "1d" into
// milliseconds (spec.md glossary "Delay strings (parseDelay) match
// ^(\d+)([smhd])$").
func ParseDelay(s string) (int64, error) {
	m := delayPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, smerr.Newf(smerr.ErrInvalidCronExpression, "invalid delay string %q", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, err
	}
	return n * delayUnitMillis[m[2][0]], nil
}
