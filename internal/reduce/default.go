// Package reduce holds every pure reducer function the kernel folds
// tessellae through (spec.md §9 "Reducers as pure functions are the
// canonical abstraction"). Each reducer has the signature
// store.Reducer (state map[string]any, t types.Tessella) but this
// package intentionally does not import internal/store, so a plain
// function literal here satisfies that type by structure alone.
package reduce

import (
	"encoding/json"
	"fmt"

	"github.com/farant/smaragda/internal/types"
)

// Default handles the universal tessella types every entity-shaped res
// produces: created, attribute_set, attribute_removed, status_changed,
// plus feature and relationship member projections (spec.md §4.1
// "defaultReducer handles..."). Unknown types pass through unchanged —
// every reducer here is tolerant and forward-compatible.
func Default(state map[string]any, t types.Tessella) (map[string]any, error) {
	switch t.Type {
	case types.TypeCreated:
		return map[string]any{}, nil

	case types.TypeAttributeSet:
		var payload struct {
			Key   string `json:"key"`
			Value any    `json:"value"`
		}
		if err := json.Unmarshal(t.Data, &payload); err != nil {
			return state, fmt.Errorf("reduce: attribute_set payload: %w", err)
		}
		state = clone(state)
		state[payload.Key] = payload.Value
		return state, nil

	case types.TypeAttributeRemoved:
		var payload struct {
			Key string `json:"key"`
		}
		if err := json.Unmarshal(t.Data, &payload); err != nil {
			return state, fmt.Errorf("reduce: attribute_removed payload: %w", err)
		}
		state = clone(state)
		delete(state, payload.Key)
		return state, nil

	case types.TypeStatusChanged:
		var payload struct {
			Target string `json:"target"`
		}
		if err := json.Unmarshal(t.Data, &payload); err != nil {
			return state, fmt.Errorf("reduce: status_changed payload: %w", err)
		}
		state = clone(state)
		state["status"] = payload.Target
		return state, nil

	case types.TypeFeatureCreated, types.TypeFeatureAttributeSet, types.TypeFeatureStatusChanged:
		return reduceFeature(state, t)

	case types.TypeMemberAdded, types.TypeMemberRemoved:
		return reduceMember(state, t)

	case types.TypeTemporalAnchorSet:
		var payload map[string]any
		if err := json.Unmarshal(t.Data, &payload); err != nil {
			return state, fmt.Errorf("reduce: temporal_anchor_set payload: %w", err)
		}
		state = clone(state)
		state["temporal_anchor"] = payload
		return state, nil

	default:
		return state, nil
	}
}

// clone makes a shallow copy so reducers never mutate the caller's
// previous-state map in place — materialize callers may hold onto an
// intermediate state (e.g. for getHistory's per-tessella snapshots).
func clone(state map[string]any) map[string]any {
	out := make(map[string]any, len(state)+1)
	for k, v := range state {
		out[k] = v
	}
	return out
}

func featuresMap(state map[string]any) map[string]any {
	raw, ok := state["features"].(map[string]any)
	if !ok {
		raw = map[string]any{}
	}
	return raw
}

func reduceFeature(state map[string]any, t types.Tessella) (map[string]any, error) {
	var payload map[string]any
	if err := json.Unmarshal(t.Data, &payload); err != nil {
		return state, fmt.Errorf("reduce: feature payload: %w", err)
	}
	featureID, _ := payload["feature_id"].(string)
	if featureID == "" {
		return state, fmt.Errorf("reduce: feature tessella missing feature_id")
	}

	state = clone(state)
	features := featuresMap(state)
	features = cloneAny(features)

	feature, _ := features[featureID].(map[string]any)
	feature = cloneAny(orEmpty(feature))

	switch t.Type {
	case types.TypeFeatureCreated:
		for k, v := range payload {
			if k == "feature_id" {
				continue
			}
			feature[k] = v
		}
	case types.TypeFeatureAttributeSet:
		key, _ := payload["key"].(string)
		feature[key] = payload["value"]
	case types.TypeFeatureStatusChanged:
		feature["status"] = payload["target"]
	}

	features[featureID] = feature
	state["features"] = features
	return state, nil
}

func reduceMember(state map[string]any, t types.Tessella) (map[string]any, error) {
	var payload struct {
		Role     string `json:"role"`
		EntityID string `json:"entity_id"`
	}
	if err := json.Unmarshal(t.Data, &payload); err != nil {
		return state, fmt.Errorf("reduce: member payload: %w", err)
	}

	state = clone(state)
	members, _ := state["members"].(map[string][]string)
	if members == nil {
		members = map[string][]string{}
	} else {
		members = cloneMembers(members)
	}

	switch t.Type {
	case types.TypeMemberAdded:
		if !contains(members[payload.Role], payload.EntityID) {
			members[payload.Role] = append(members[payload.Role], payload.EntityID)
		}
	case types.TypeMemberRemoved:
		members[payload.Role] = remove(members[payload.Role], payload.EntityID)
	}

	state["members"] = members
	return state, nil
}

func cloneAny(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func cloneMembers(m map[string][]string) map[string][]string {
	out := make(map[string][]string, len(m))
	for k, v := range m {
		cp := make([]string, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func remove(list []string, v string) []string {
	out := list[:0:0]
	for _, item := range list {
		if item != v {
			out = append(out, item)
		}
	}
	return out
}
