package store

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// dsn builds a SQLite connection string with standard pragmas.
//
// Includes busy_timeout (prevents "database is locked" under
// concurrency) and foreign_keys pragmas. Honors the
// SMARAGDA_LOCK_TIMEOUT env var for busy timeout (default 30s).
// ":memory:" (spec.md §6 "accepts a store path or :memory:") maps to
// SQLite's shared-cache in-memory database so repeated opens against
// the same *Store share state (adapted from the teacher's
// internal/storage/connstring.go SQLiteConnString).
func dsn(path string) string {
	path = strings.TrimSpace(path)

	busy := 30 * time.Second
	if v := strings.TrimSpace(os.Getenv("SMARAGDA_LOCK_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			busy = d
		}
	}
	busyMs := int64(busy / time.Millisecond)

	if path == "" || path == ":memory:" {
		return fmt.Sprintf("file::memory:?cache=shared&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)", busyMs)
	}

	if strings.HasPrefix(path, "file:") {
		conn := path
		sep := "?"
		if strings.Contains(conn, "?") {
			sep = "&"
		}
		if !strings.Contains(conn, "_pragma=busy_timeout") {
			conn += fmt.Sprintf("%s_pragma=busy_timeout(%d)", sep, busyMs)
			sep = "&"
		}
		if !strings.Contains(conn, "_pragma=foreign_keys") {
			conn += sep + "_pragma=foreign_keys(ON)"
		}
		return conn
	}

	return fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)", path, busyMs)
}
