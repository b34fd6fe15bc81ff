// Package schedule implements the cron parser and CronSchedule entity
// (spec.md §4.11).
package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/farant/smaragda/internal/smerr"
)

// aliases maps the named shorthand expressions to their five-field form.
var aliases = map[string]string{
	"@hourly":  "0 * * * *",
	"@daily":   "0 0 * * *",
	"@weekly":  "0 0 * * 0",
	"@monthly": "0 0 1 * *",
}

// fieldBounds gives the inclusive [min,max] for each of the five
// fields, in order: minute, hour, day, month, day-of-week.
var fieldBounds = [5][2]int{
	{0, 59}, // minute
	{0, 23}, // hour
	{1, 31}, // day
	{1, 12}, // month
	{0, 6},  // day of week, Sunday = 0
}

// Sets is the precomputed per-field membership sets a parsed cron
// expression reduces to (spec.md §4.11 "Returns precomputed sets per
// field").
type Sets struct {
	Minute [60]bool
	Hour   [24]bool
	Day    [32]bool
	Month  [13]bool
	Weekday [7]bool
}

// Parse validates and compiles a five-field cron expression, or one of
// the @hourly/@daily/@weekly/@monthly aliases, into its per-field
// membership Sets.
func Parse(expr string) (Sets, error) {
	expr = strings.TrimSpace(expr)
	if alias, ok := aliases[expr]; ok {
		expr = alias
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return Sets{}, smerr.Newf(smerr.ErrInvalidCronExpression, "cron expression %q must have 5 fields, got %d", expr, len(fields))
	}

	var s Sets
	members := make([][]int, 5)
	for i, f := range fields {
		vals, err := parseField(f, fieldBounds[i][0], fieldBounds[i][1])
		if err != nil {
			return Sets{}, smerr.Newf(smerr.ErrInvalidCronExpression, "cron expression %q: field %d: %v", expr, i, err)
		}
		members[i] = vals
	}

	for _, v := range members[0] {
		s.Minute[v] = true
	}
	for _, v := range members[1] {
		s.Hour[v] = true
	}
	for _, v := range members[2] {
		s.Day[v] = true
	}
	for _, v := range members[3] {
		s.Month[v] = true
	}
	for _, v := range members[4] {
		s.Weekday[v] = true
	}
	return s, nil
}

// parseField parses one comma-separated cron field (each item a `*`,
// `*/n`, `a-b`, `a-b/n`, or a bare number) into its member values.
func parseField(f string, min, max int) ([]int, error) {
	var out []int
	for _, item := range strings.Split(f, ",") {
		vals, err := parseFieldItem(item, min, max)
		if err != nil {
			return nil, err
		}
		out = append(out, vals...)
	}
	return out, nil
}

func parseFieldItem(item string, min, max int) ([]int, error) {
	rangePart, step, err := splitStep(item)
	if err != nil {
		return nil, err
	}

	lo, hi := min, max
	switch {
	case rangePart == "*":
		// lo/hi already cover the full field range
	case strings.Contains(rangePart, "-"):
		parts := strings.SplitN(rangePart, "-", 2)
		lo, err = strconv.Atoi(parts[0])
		if err != nil {
			return nil, err
		}
		hi, err = strconv.Atoi(parts[1])
		if err != nil {
			return nil, err
		}
	default:
		v, err := strconv.Atoi(rangePart)
		if err != nil {
			return nil, err
		}
		lo, hi = v, v
	}
	if lo < min || hi > max || lo > hi {
		return nil, smerr.Newf(smerr.ErrInvalidCronExpression, "value %q out of bounds [%d,%d]", item, min, max)
	}

	var out []int
	for v := lo; v <= hi; v += step {
		out = append(out, v)
	}
	return out, nil
}

func splitStep(item string) (rangePart string, step int, err error) {
	step = 1
	if idx := strings.IndexByte(item, '/'); idx >= 0 {
		rangePart = item[:idx]
		step, err = strconv.Atoi(item[idx+1:])
		if err != nil {
			return "", 0, err
		}
		if step <= 0 {
			return "", 0, smerr.Newf(smerr.ErrInvalidCronExpression, "step must be positive in %q", item)
		}
		return rangePart, step, nil
	}
	return item, 1, nil
}

// Matches reports whether a UTC instant falls within every one of a
// parsed expression's five field sets (spec.md §4.11 "matchesCron(expr,
// date) is a set-membership check on the UTC date components").
func Matches(expr string, date time.Time) (bool, error) {
	sets, err := Parse(expr)
	if err != nil {
		return false, err
	}
	date = date.UTC()
	return sets.Minute[date.Minute()] &&
		sets.Hour[date.Hour()] &&
		sets.Day[date.Day()] &&
		sets.Month[int(date.Month())] &&
		sets.Weekday[int(date.Weekday())], nil
}
