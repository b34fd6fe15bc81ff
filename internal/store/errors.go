package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/farant/smaragda/internal/smerr"
)

// wrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows to smerr.ErrResNotFound for consistent error handling
// across every query in this package (adapted from the teacher's
// internal/storage/sqlite/errors.go wrapDBError/wrapDBErrorf).
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, smerr.ErrResNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func wrapDBErrorf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return wrapDBError(fmt.Sprintf(format, args...), err)
}
