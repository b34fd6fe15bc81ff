package store

import (
	"context"
	"database/sql"
	"encoding/json"
)

// ActionTakenRecord is the row shape for action_taken (spec.md §3).
type ActionTakenRecord struct {
	ID            int64
	ActionGenusID string
	Resources     map[string]string
	Params        map[string]any
	TessellaeIDs  []int64
	CreatedAt     string
}

// RecordActionTaken persists one action_taken row (spec.md §4.4 step
// 3 "Allocate an action_taken.id"). Called only after every handler
// step has executed so partial executions are never recorded (spec.md
// §4.4 step 4 "the action is simply not recorded in action_taken").
func (s *Store) RecordActionTaken(ctx context.Context, actionGenusID string, resources map[string]string, params map[string]any, tessellaeIDs []int64) (int64, error) {
	resourcesJSON, err := json.Marshal(resources)
	if err != nil {
		return 0, err
	}
	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return 0, err
	}
	idsJSON, err := json.Marshal(tessellaeIDs)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO action_taken (action_genus_id, resources, params, tessellae_ids, created_at) VALUES (?, ?, ?, ?, ?)`,
		actionGenusID, string(resourcesJSON), string(paramsJSON), string(idsJSON), s.nowISO(),
	)
	if err != nil {
		return 0, wrapDBErrorf(err, "RecordActionTaken(%s)", actionGenusID)
	}
	return res.LastInsertId()
}

// ActionTakenForTessella returns the action_taken row that produced
// tessellaID, if any — the join getHistory needs (spec.md §4.4
// "getHistory(res_id) joins replay with action_taken.tessellae_ids").
func (s *Store) ActionTakenForTessella(ctx context.Context, tessellaID int64) (*ActionTakenRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, action_genus_id, resources, params, tessellae_ids, created_at FROM action_taken ORDER BY id`,
	)
	if err != nil {
		return nil, wrapDBErrorf(err, "ActionTakenForTessella(%d)", tessellaID)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanActionTaken(rows)
		if err != nil {
			return nil, err
		}
		for _, id := range rec.TessellaeIDs {
			if id == tessellaID {
				return rec, nil
			}
		}
	}
	return nil, rows.Err()
}

func scanActionTaken(rows *sql.Rows) (*ActionTakenRecord, error) {
	var rec ActionTakenRecord
	var resourcesJSON, paramsJSON, idsJSON string
	if err := rows.Scan(&rec.ID, &rec.ActionGenusID, &resourcesJSON, &paramsJSON, &idsJSON, &rec.CreatedAt); err != nil {
		return nil, wrapDBErrorf(err, "scanActionTaken")
	}
	if err := json.Unmarshal([]byte(resourcesJSON), &rec.Resources); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(paramsJSON), &rec.Params); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(idsJSON), &rec.TessellaeIDs); err != nil {
		return nil, err
	}
	return &rec, nil
}
