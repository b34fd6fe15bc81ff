package store

import "time"

// isoLayout is the ISO-8601 UTC timestamp format spec.md §6 mandates
// for every timestamp the kernel produces.
const isoLayout = "2006-01-02T15:04:05.000Z"

// formatTime renders t as an ISO-8601 UTC string for storage.
func formatTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// parseTimeString parses a time string from a database TEXT column.
// Tries ISO-8601 with milliseconds, then RFC3339Nano, then RFC3339,
// falling back to SQLite's own native text datetime format (adapted
// from the teacher's internal/storage/sqlite/parsing.go
// parseTimeString, which accumulated this exact fallback list to cope
// with a driver that does not auto-convert TEXT columns to time.Time).
func parseTimeString(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{isoLayout, time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
