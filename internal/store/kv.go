package store

import (
	"context"
	"database/sql"
)

// GetSyncState reads an opaque sync_state value (spec.md §4.10
// "getSyncState/setSyncState(key) - opaque string KV"). Returns ""
// and no error if key is unset, matching the teacher's GetConfig
// contract of treating a missing key as empty rather than an error.
func (s *Store) GetSyncState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM sync_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", wrapDBErrorf(err, "GetSyncState(%s)", key)
	}
	return value, nil
}

// SetSyncState upserts a sync_state value.
func (s *Store) SetSyncState(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return wrapDBErrorf(err, "SetSyncState(%s)", key)
}

// RecordInput appends a row to the forensic input log (spec.md §3
// "input... a forensic record of what caused action invocations").
func (s *Store) RecordInput(ctx context.Context, source, inputType string, data []byte) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO input (source, type, data, created_at) VALUES (?, ?, ?, ?)`,
		source, inputType, string(data), s.nowISO(),
	)
	if err != nil {
		return 0, wrapDBErrorf(err, "RecordInput(%s,%s)", source, inputType)
	}
	return res.LastInsertId()
}

// TemporalAnchorValues holds the optional fields of a temporal_anchor row.
type TemporalAnchorValues struct {
	StartYear    *int
	EndYear      *int
	Precision    string
	CalendarNote string
}

// SetTemporalAnchor upserts the temporal_anchor row for a res
// (spec.md §3 "temporal_anchor... keyed by res_id").
func (s *Store) SetTemporalAnchor(ctx context.Context, resID string, v TemporalAnchorValues) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO temporal_anchor (res_id, start_year, end_year, precision, calendar_note)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(res_id) DO UPDATE SET
		   start_year = excluded.start_year,
		   end_year = excluded.end_year,
		   precision = excluded.precision,
		   calendar_note = excluded.calendar_note`,
		resID, v.StartYear, v.EndYear, v.Precision, v.CalendarNote,
	)
	return wrapDBErrorf(err, "SetTemporalAnchor(%s)", resID)
}

// GetTemporalAnchor loads the temporal_anchor row for a res, or zero
// values if none is set.
func (s *Store) GetTemporalAnchor(ctx context.Context, resID string) (TemporalAnchorValues, error) {
	var v TemporalAnchorValues
	var startYear, endYear sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT start_year, end_year, precision, calendar_note FROM temporal_anchor WHERE res_id = ?`, resID,
	).Scan(&startYear, &endYear, &v.Precision, &v.CalendarNote)
	if err == sql.ErrNoRows {
		return TemporalAnchorValues{}, nil
	}
	if err != nil {
		return TemporalAnchorValues{}, wrapDBErrorf(err, "GetTemporalAnchor(%s)", resID)
	}
	if startYear.Valid {
		y := int(startYear.Int64)
		v.StartYear = &y
	}
	if endYear.Valid {
		y := int(endYear.Int64)
		v.EndYear = &y
	}
	return v, nil
}
