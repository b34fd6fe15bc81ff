package entity

import (
	"context"
	"time"

	"github.com/farant/smaragda/internal/genus"
	"github.com/farant/smaragda/internal/idgen"
	"github.com/farant/smaragda/internal/smerr"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

// CreateFeature appends feature_created to the parent's stream
// (spec.md §4.3 "Features are children embedded in the parent's
// tessella stream"). Returns the new feature_id.
func CreateFeature(ctx context.Context, st *store.Store, parentID string, fields map[string]any) (string, error) {
	if _, err := st.GetRes(ctx, parentID); err != nil {
		return "", err
	}
	featureID := idgen.Sortable(time.Now().UTC())

	payload := map[string]any{"feature_id": featureID}
	for k, v := range fields {
		payload[k] = v
	}
	if _, err := st.Append(ctx, parentID, types.TypeFeatureCreated, payload, store.AppendOpts{}); err != nil {
		return "", err
	}
	return featureID, nil
}

// checkFeatureEditable enforces editable_parent_statuses: if the
// parent's genus meta defines the list and the parent's current
// status is not in it, fail with FeatureNotEditable (spec.md
// §4.3 "Edit operations additionally check editable_parent_statuses").
func checkFeatureEditable(ctx context.Context, st *store.Store, parentID string) error {
	r, err := st.GetRes(ctx, parentID)
	if err != nil {
		return err
	}
	g, err := genus.Get(ctx, st, r.GenusID)
	if err != nil {
		return err
	}
	editable, ok := g.Meta["editable_parent_statuses"].([]any)
	if !ok {
		return nil // unconstrained
	}

	state, err := Materialize(ctx, st, parentID, store.ReplayOpts{})
	if err != nil {
		return err
	}
	current, _ := state["status"].(string)
	for _, s := range editable {
		if s == current {
			return nil
		}
	}
	return smerr.Newf(smerr.ErrFeatureNotEditable, "feature on %q not editable while parent status is %q", parentID, current).
		WithField("res_id", parentID).WithField("status", current)
}

// SetFeatureAttribute appends feature_attribute_set, honoring
// editable_parent_statuses.
func SetFeatureAttribute(ctx context.Context, st *store.Store, parentID, featureID, key string, value any) error {
	if err := checkFeatureEditable(ctx, st, parentID); err != nil {
		return err
	}
	_, err := st.Append(ctx, parentID, types.TypeFeatureAttributeSet,
		map[string]any{"feature_id": featureID, "key": key, "value": value}, store.AppendOpts{})
	return err
}

// TransitionFeatureStatus appends feature_status_changed, honoring
// editable_parent_statuses.
func TransitionFeatureStatus(ctx context.Context, st *store.Store, parentID, featureID, target string) error {
	if err := checkFeatureEditable(ctx, st, parentID); err != nil {
		return err
	}
	_, err := st.Append(ctx, parentID, types.TypeFeatureStatusChanged,
		map[string]any{"feature_id": featureID, "target": target}, store.AppendOpts{})
	return err
}
