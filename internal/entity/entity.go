// Package entity implements typed entity/feature/relationship
// mutations with invariant enforcement (spec.md §4.3).
package entity

import (
	"context"

	"github.com/farant/smaragda/internal/genus"
	"github.com/farant/smaragda/internal/reduce"
	"github.com/farant/smaragda/internal/smerr"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

// CreateOpts controls optional fields on Create.
type CreateOpts struct {
	Branch      string
	WorkspaceID *string
	Attributes  map[string]any // initial attribute_set values
}

// Create allocates a res of genusID and appends its created tessella,
// stamping workspace_id per spec.md §4.7 ("createEntity stamps it").
// Deprecated genera are rejected (spec.md §4.2 "createEntity and
// friends reject deprecated genera").
func Create(ctx context.Context, st *store.Store, genusID string, opts CreateOpts) (string, error) {
	g, err := genus.Get(ctx, st, genusID)
	if err != nil {
		return "", err
	}
	if g.Deprecated {
		return "", smerr.Newf(smerr.ErrDeprecatedGenus, "genus %q is deprecated", genusID).WithField("genus_id", genusID)
	}

	branch := opts.Branch
	if branch == "" {
		branch = types.MainBranch
	}

	id, err := st.CreateRes(ctx, genusID, branch, opts.WorkspaceID)
	if err != nil {
		return "", err
	}

	items := []store.PendingTessella{{ResID: id, Type: types.TypeCreated, Data: map[string]any{}}}
	for name, stateDef := range g.States {
		if stateDef.Initial {
			items = append(items, store.PendingTessella{ResID: id, Type: types.TypeStatusChanged, Data: map[string]any{"target": name}})
			break
		}
	}
	for k, v := range opts.Attributes {
		if err := validateAttributeValue(g, k, v); err != nil {
			return "", err
		}
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeAttributeSet, Data: map[string]any{"key": k, "value": v}})
	}

	if _, err := st.AppendBatch(ctx, items, store.AppendOpts{Branch: branch}); err != nil {
		return "", err
	}
	return id, nil
}

// Materialize folds an entity's tessella stream with the default
// reducer (spec.md §4.1 "materialize(res_id, ...) -> state").
func Materialize(ctx context.Context, st *store.Store, resID string, opts store.ReplayOpts) (map[string]any, error) {
	return st.Materialize(ctx, resID, opts, reduce.Default)
}

// SetAttribute validates the attribute against its genus and appends
// attribute_set (spec.md §4.3 "setAttribute(res_id, key, value)").
func SetAttribute(ctx context.Context, st *store.Store, resID, key string, value any) error {
	r, err := st.GetRes(ctx, resID)
	if err != nil {
		return err
	}
	g, err := genus.Get(ctx, st, r.GenusID)
	if err != nil {
		return err
	}
	if err := validateAttributeValue(g, key, value); err != nil {
		return err
	}
	_, err = st.Append(ctx, resID, types.TypeAttributeSet, map[string]any{"key": key, "value": value}, store.AppendOpts{})
	return err
}

func validateAttributeValue(g genus.Genus, key string, value any) error {
	attr, ok := g.Attributes[key]
	if !ok {
		return smerr.Newf(smerr.ErrUnknownAttribute, "unknown attribute %q", key).WithField("attribute", key)
	}
	if !typeMatches(attr.Type, value) {
		return smerr.Newf(smerr.ErrTypeMismatch, "Type mismatch for attribute %q: expected %s, got %T", key, attr.Type, value).
			WithField("attribute", key).WithField("expected", attr.Type)
	}
	return nil
}

func typeMatches(declared string, value any) bool {
	switch declared {
	case "text":
		_, ok := value.(string)
		return ok
	case "number":
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		default:
			return false
		}
	case "boolean":
		_, ok := value.(bool)
		return ok
	case "filetree":
		_, ok := value.(map[string]any)
		return ok
	default:
		return false
	}
}

// TransitionStatus verifies (from, to) is a defined transition and
// appends status_changed (spec.md §4.3 "transitionStatus(res_id,
// target)").
func TransitionStatus(ctx context.Context, st *store.Store, resID, target string) error {
	r, err := st.GetRes(ctx, resID)
	if err != nil {
		return err
	}
	g, err := genus.Get(ctx, st, r.GenusID)
	if err != nil {
		return err
	}

	state, err := Materialize(ctx, st, resID, store.ReplayOpts{})
	if err != nil {
		return err
	}
	current, _ := state["status"].(string)
	if current == "" {
		return smerr.Newf(smerr.ErrStateUndefined, "entity %q has no current status", resID).WithField("res_id", resID)
	}
	if _, ok := g.States[current]; !ok {
		return smerr.Newf(smerr.ErrStateUndefined, "state %q is not defined on genus %q", current, g.ID).WithField("state", current)
	}
	if _, ok := g.States[target]; !ok {
		return smerr.Newf(smerr.ErrStateUndefined, "state %q is not defined on genus %q", target, g.ID).WithField("state", target)
	}

	valid := false
	for _, tr := range g.Transitions {
		if tr.From == current && tr.To == target {
			valid = true
			break
		}
	}
	if !valid {
		return smerr.Newf(smerr.ErrNoValidTransition, "no valid transition from %q to %q", current, target).
			WithField("from", current).WithField("to", target)
	}

	_, err = st.Append(ctx, resID, types.TypeStatusChanged, map[string]any{"target": target}, store.AppendOpts{})
	return err
}
