package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/farant/smaragda/internal/smerr"
	"github.com/farant/smaragda/internal/types"
)

// AppendOpts controls optional fields on a single Append call.
type AppendOpts struct {
	Branch string // defaults to the res's own branch_id if empty
	Source string
}

// CreateRes allocates a new res row and returns its id (spec.md §4.1
// "create_res(genus_id, branch?) -> id"). It does not itself append a
// `created` tessella — callers (internal/entity, internal/genus) do
// that as part of their own define/create sequence so the first
// tessella's payload can carry type-specific fields.
func (s *Store) CreateRes(ctx context.Context, genusID, branch string, workspaceID *string) (string, error) {
	if branch == "" {
		branch = types.MainBranch
	}
	id := NewID()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO res (id, genus_id, branch_id, workspace_id, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, genusID, branch, workspaceID, s.nowISO(),
	); err != nil {
		return "", wrapDBErrorf(err, "CreateRes(%s)", genusID)
	}
	return id, nil
}

// GetRes loads a res row by id. Returns smerr.ErrResNotFound if absent.
func (s *Store) GetRes(ctx context.Context, id string) (types.Res, error) {
	var r types.Res
	var workspace sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, genus_id, branch_id, workspace_id, created_at FROM res WHERE id = ?`, id,
	).Scan(&r.ID, &r.GenusID, &r.BranchID, &workspace, &createdAt)
	if err == sql.ErrNoRows {
		return types.Res{}, smerr.Newf(smerr.ErrResNotFound, "res %q not found", id).WithField("res_id", id)
	}
	if err != nil {
		return types.Res{}, wrapDBErrorf(err, "GetRes(%s)", id)
	}
	if workspace.Valid {
		r.WorkspaceID = &workspace.String
	}
	r.CreatedAt = parseTimeString(createdAt)
	return r, nil
}

// Append writes a single tessella to res_id and returns it with its
// allocated monotonic id (spec.md §4.1 "append(res_id, type, data,
// {branch?, source?}) -> tessella"). Fails with ErrResNotFound if
// res_id does not exist.
func (s *Store) Append(ctx context.Context, resID, tType string, data any, opts AppendOpts) (types.Tessella, error) {
	r, err := s.GetRes(ctx, resID)
	if err != nil {
		return types.Tessella{}, err
	}

	branch := opts.Branch
	if branch == "" {
		branch = r.BranchID
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return types.Tessella{}, fmt.Errorf("store: marshal tessella data: %w", err)
	}

	now := s.nowISO()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO tessella (res_id, branch_id, type, data, created_at, source) VALUES (?, ?, ?, ?, ?, ?)`,
		resID, branch, tType, string(payload), now, opts.Source,
	)
	if err != nil {
		return types.Tessella{}, wrapDBErrorf(err, "Append(%s, %s)", resID, tType)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return types.Tessella{}, wrapDBErrorf(err, "Append(%s, %s) lastInsertId", resID, tType)
	}

	return types.Tessella{
		ID:        id,
		ResID:     resID,
		BranchID:  branch,
		Type:      tType,
		Data:      payload,
		CreatedAt: parseTimeString(now),
		Source:    opts.Source,
	}, nil
}

// PendingTessella is one element of an AppendBatch call.
type PendingTessella struct {
	ResID string
	Type  string
	Data  any
}

// AppendBatch writes several tessellae in one database transaction
// (spec.md §4.2/§5 "atomic at the API boundary"; supplemented feature,
// see DESIGN.md, grounded on the teacher's internal/storage/batch.go
// BatchCreateOptions). Used by genus.Define*/entity.CreateRelationship
// so a single logical operation either fully lands or fully doesn't.
func (s *Store) AppendBatch(ctx context.Context, items []PendingTessella, opts AppendOpts) ([]types.Tessella, error) {
	if len(items) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapDBErrorf(err, "AppendBatch begin")
	}
	defer tx.Rollback()

	now := s.nowISO()
	out := make([]types.Tessella, 0, len(items))
	branchCache := map[string]string{}

	for _, item := range items {
		branch := opts.Branch
		if branch == "" {
			if cached, ok := branchCache[item.ResID]; ok {
				branch = cached
			} else {
				var b string
				if err := tx.QueryRowContext(ctx, `SELECT branch_id FROM res WHERE id = ?`, item.ResID).Scan(&b); err != nil {
					if err == sql.ErrNoRows {
						return nil, smerr.Newf(smerr.ErrResNotFound, "res %q not found", item.ResID).WithField("res_id", item.ResID)
					}
					return nil, wrapDBErrorf(err, "AppendBatch lookup branch for %s", item.ResID)
				}
				branch = b
				branchCache[item.ResID] = b
			}
		}

		payload, err := json.Marshal(item.Data)
		if err != nil {
			return nil, fmt.Errorf("store: marshal tessella data: %w", err)
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO tessella (res_id, branch_id, type, data, created_at, source) VALUES (?, ?, ?, ?, ?, ?)`,
			item.ResID, branch, item.Type, string(payload), now, opts.Source,
		)
		if err != nil {
			return nil, wrapDBErrorf(err, "AppendBatch insert(%s, %s)", item.ResID, item.Type)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, wrapDBErrorf(err, "AppendBatch lastInsertId")
		}

		out = append(out, types.Tessella{
			ID:        id,
			ResID:     item.ResID,
			BranchID:  branch,
			Type:      item.Type,
			Data:      payload,
			CreatedAt: parseTimeString(now),
			Source:    opts.Source,
		})
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapDBErrorf(err, "AppendBatch commit")
	}
	return out, nil
}

// MaxTessellaID returns the current maximum tessella id in the whole
// store (used as a branch's branch_point at creation time, spec.md §4.6).
func (s *Store) MaxTessellaID(ctx context.Context) (int64, error) {
	var max sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(id) FROM tessella`).Scan(&max); err != nil {
		return 0, wrapDBErrorf(err, "MaxTessellaID")
	}
	if !max.Valid {
		return 0, nil
	}
	return max.Int64, nil
}
