package store

import "context"

// SerializationRunRecord is the row shape for serialization_run
// (spec.md §4.8 "Serialization runs are recorded in serialization_run").
type SerializationRunRecord struct {
	ID        int64
	TargetID  string
	EntityID  string
	Manifest  string
	CreatedAt string
}

// RecordSerializationRun persists one serialization_run row. entityID
// is empty for a target-wide run exporting every entity in scope.
func (s *Store) RecordSerializationRun(ctx context.Context, targetID, entityID, manifest string) (int64, error) {
	var entity any
	if entityID != "" {
		entity = entityID
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO serialization_run (target_id, entity_id, manifest, created_at) VALUES (?, ?, ?, ?)`,
		targetID, entity, manifest, s.nowISO(),
	)
	if err != nil {
		return 0, wrapDBErrorf(err, "RecordSerializationRun(%s)", targetID)
	}
	return res.LastInsertId()
}

// ListSerializationRuns returns every recorded run for targetID, most
// recent first.
func (s *Store) ListSerializationRuns(ctx context.Context, targetID string) ([]SerializationRunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, target_id, COALESCE(entity_id, ''), manifest, created_at FROM serialization_run WHERE target_id = ? ORDER BY id DESC`,
		targetID,
	)
	if err != nil {
		return nil, wrapDBErrorf(err, "ListSerializationRuns(%s)", targetID)
	}
	defer rows.Close()

	var out []SerializationRunRecord
	for rows.Next() {
		var r SerializationRunRecord
		if err := rows.Scan(&r.ID, &r.TargetID, &r.EntityID, &r.Manifest, &r.CreatedAt); err != nil {
			return nil, wrapDBErrorf(err, "ListSerializationRuns scan")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
