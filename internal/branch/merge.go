package branch

import (
	"context"
	"encoding/json"

	"github.com/farant/smaragda/internal/smerr"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

// Conflict is one field two branches both mutated since they diverged
// (spec.md §4.6 "{merged: false, conflicts: [{res_id, field,
// source_value, target_value}...]}").
type Conflict struct {
	ResID       string
	Field       string
	SourceValue any
	TargetValue any
}

// MergeOpts carries the force-override flag.
type MergeOpts struct {
	Force bool
}

// MergeResult reports either a clean/forced merge or the conflicts
// that blocked it.
type MergeResult struct {
	Merged        bool
	Conflicts     []Conflict
	TessellaeCopied int
}

// conflictKey extracts the field a tessella mutates, for conflict
// grouping — "same key/status/feature/member" (spec.md §4.6 step 2).
// Tessellae that don't represent a field mutation (e.g. "created")
// return ok = false and are excluded from comparison.
func conflictKey(t types.Tessella) (field string, value any, ok bool) {
	var payload map[string]any
	if err := json.Unmarshal(t.Data, &payload); err != nil {
		return "", nil, false
	}

	switch t.Type {
	case types.TypeAttributeSet, types.TypeAttributeRemoved:
		key, _ := payload["key"].(string)
		return "attribute:" + key, payload["value"], key != ""
	case types.TypeStatusChanged:
		return "status", payload["target"], true
	case types.TypeFeatureCreated:
		id, _ := payload["feature_id"].(string)
		return "feature:" + id, payload, id != ""
	case types.TypeFeatureAttributeSet:
		id, _ := payload["feature_id"].(string)
		key, _ := payload["key"].(string)
		return "feature:" + id + ":" + key, payload["value"], id != "" && key != ""
	case types.TypeFeatureStatusChanged:
		id, _ := payload["feature_id"].(string)
		return "feature:" + id + ":status", payload["target"], id != ""
	case types.TypeMemberAdded, types.TypeMemberRemoved:
		role, _ := payload["role"].(string)
		entity, _ := payload["entity_id"].(string)
		return "member:" + role + ":" + entity, payload, role != "" && entity != ""
	default:
		return "", nil, false
	}
}

// DetectConflicts computes step 2 of mergeBranch in isolation: the
// candidate tessellae source has written since branch_point, grouped
// by res_id, compared field-by-field against what target wrote in the
// same id window (spec.md §4.6 "detectConflicts/compareBranches are
// pure observers of step 2").
func DetectConflicts(ctx context.Context, st *store.Store, source, target string) ([]types.Tessella, []Conflict, error) {
	sourceRec, err := st.GetBranchRecord(ctx, source)
	if err != nil {
		return nil, nil, err
	}

	candidates, err := st.TessellaeOnBranchAfter(ctx, source, sourceRec.BranchPoint)
	if err != nil {
		return nil, nil, err
	}
	if len(candidates) == 0 {
		return candidates, nil, nil
	}

	targetWrites, err := st.TessellaeOnBranchAfter(ctx, target, sourceRec.BranchPoint)
	if err != nil {
		return nil, nil, err
	}

	// targetFields[res_id][field] -> last value target wrote for it.
	targetFields := map[string]map[string]any{}
	for _, t := range targetWrites {
		field, value, ok := conflictKey(t)
		if !ok {
			continue
		}
		m, exists := targetFields[t.ResID]
		if !exists {
			m = map[string]any{}
			targetFields[t.ResID] = m
		}
		m[field] = value
	}

	// sourceFields tracks the last value source wrote per (res, field)
	// so a reported conflict carries the final divergent value, not
	// just the first one seen.
	sourceFields := map[string]map[string]any{}
	var conflicts []Conflict
	seen := map[string]bool{}
	for _, t := range candidates {
		field, value, ok := conflictKey(t)
		if !ok {
			continue
		}
		m, exists := sourceFields[t.ResID]
		if !exists {
			m = map[string]any{}
			sourceFields[t.ResID] = m
		}
		m[field] = value

		key := t.ResID + "\x00" + field
		if seen[key] {
			continue
		}
		if tv, hit := targetFields[t.ResID][field]; hit {
			seen[key] = true
			conflicts = append(conflicts, Conflict{ResID: t.ResID, Field: field, SourceValue: value, TargetValue: tv})
		}
	}

	// Replace each reported conflict's SourceValue with the final
	// value source settled on, in case source itself wrote the same
	// field more than once since branch_point.
	for i, c := range conflicts {
		conflicts[i].SourceValue = sourceFields[c.ResID][c.Field]
	}

	return candidates, conflicts, nil
}

// CompareBranches reports the same conflicts DetectConflicts would,
// without requiring a caller to discard the candidate set.
func CompareBranches(ctx context.Context, st *store.Store, source, target string) ([]Conflict, error) {
	_, conflicts, err := DetectConflicts(ctx, st, source, target)
	return conflicts, err
}

// Merge copies source's tessellae written since it diverged onto
// target, rebuilds secondary indexes, and marks source merged
// (spec.md §4.6 "mergeBranch(source, target = main, {force})").
// When there are conflicts and opts.Force is not set, it copies
// nothing and returns MergeResult{Merged: false, Conflicts} with a nil
// error.
func Merge(ctx context.Context, st *store.Store, source, target string, opts MergeOpts, rebuilders []IndexRebuilder) (MergeResult, error) {
	sourceRec, err := st.GetBranchRecord(ctx, source)
	if err != nil {
		return MergeResult{}, err
	}
	if sourceRec.Status != "active" {
		return MergeResult{}, smerr.Newf(smerr.ErrBranchUnreachable, "branch %q is %s, not active", source, sourceRec.Status).
			WithField("branch", source)
	}
	if _, err := st.GetBranchRecord(ctx, target); err != nil {
		return MergeResult{}, err
	}

	candidates, conflicts, err := DetectConflicts(ctx, st, source, target)
	if err != nil {
		return MergeResult{}, err
	}
	if len(conflicts) > 0 && !opts.Force {
		return MergeResult{Merged: false, Conflicts: conflicts}, nil
	}

	resSeen := map[string]bool{}
	for _, t := range candidates {
		if _, err := st.CopyTessellaToBranch(ctx, t, target); err != nil {
			return MergeResult{}, err
		}
		if !resSeen[t.ResID] {
			resSeen[t.ResID] = true
			if err := st.RebindResBranch(ctx, t.ResID, target); err != nil {
				return MergeResult{}, err
			}
		}
	}

	for _, rb := range rebuilders {
		if err := rb.Rebuild(ctx, st); err != nil {
			return MergeResult{}, err
		}
	}

	if err := st.SetBranchStatus(ctx, source, "merged"); err != nil {
		return MergeResult{}, err
	}

	return MergeResult{Merged: true, Conflicts: conflicts, TessellaeCopied: len(candidates)}, nil
}
