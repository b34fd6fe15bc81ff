package reduce

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/farant/smaragda/internal/types"
)

// GenusAttribute is one entry in genus.state.attributes.
type GenusAttribute struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// GenusState is one entry in genus.state.states.
type GenusState struct {
	Name    string `json:"name"`
	Initial bool   `json:"initial"`
}

// GenusTransition is one entry in genus.state.transitions.
type GenusTransition struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// GenusRole is one entry in genus.state.roles (spec.md §4.3 "Roles
// have cardinality... and valid_member_genera").
type GenusRole struct {
	Name              string   `json:"name"`
	Cardinality       string   `json:"cardinality"`
	ValidMemberGenera []string `json:"valid_member_genera"`
	Required          bool     `json:"required"`
}

// Genus folds genus-definition tessellae into
// {attributes, states, transitions, roles, meta} (spec.md §4.2 "Its
// state is built by genusReducer"). Handles the five generic
// define-operation tessella types; the action/process/serialization
// reducers handle their own extra tessella types (action_*_defined
// etc.) and pass every other type through to this one.
func Genus(state map[string]any, t types.Tessella) (map[string]any, error) {
	switch t.Type {
	case types.TypeCreated:
		return map[string]any{
			"attributes":   map[string]GenusAttribute{},
			"states":       map[string]GenusState{},
			"transitions":  []GenusTransition{},
			"roles":        map[string]GenusRole{},
			"meta":         map[string]any{},
		}, nil

	case types.TypeGenusAttributeDefined:
		var attr GenusAttribute
		if err := json.Unmarshal(t.Data, &attr); err != nil {
			return state, fmt.Errorf("reduce: genus_attribute_defined: %w", err)
		}
		state = clone(state)
		attrs := cloneAttrMap(genusAttributes(state))
		attrs[attr.Name] = attr
		state["attributes"] = attrs
		return state, nil

	case types.TypeGenusStateDefined:
		var st GenusState
		if err := json.Unmarshal(t.Data, &st); err != nil {
			return state, fmt.Errorf("reduce: genus_state_defined: %w", err)
		}
		state = clone(state)
		states := cloneStateMap(genusStates(state))
		states[st.Name] = st
		state["states"] = states
		return state, nil

	case types.TypeGenusTransitionDefined:
		var tr GenusTransition
		if err := json.Unmarshal(t.Data, &tr); err != nil {
			return state, fmt.Errorf("reduce: genus_transition_defined: %w", err)
		}
		state = clone(state)
		transitions := append([]GenusTransition{}, genusTransitions(state)...)
		transitions = append(transitions, tr)
		state["transitions"] = transitions
		return state, nil

	case types.TypeGenusRoleDefined:
		var role GenusRole
		if err := json.Unmarshal(t.Data, &role); err != nil {
			return state, fmt.Errorf("reduce: genus_role_defined: %w", err)
		}
		state = clone(state)
		roles := cloneRoleMap(genusRoles(state))
		// Evolve merges valid_member_genera as a set (spec.md §4.2
		// "Role evolution merges valid_member_genera as a set
		// (case-insensitive dedup)").
		if existing, ok := roles[role.Name]; ok {
			role.ValidMemberGenera = mergeGenusSet(existing.ValidMemberGenera, role.ValidMemberGenera)
		}
		roles[role.Name] = role
		state["roles"] = roles
		return state, nil

	case types.TypeGenusMetaSet:
		var payload struct {
			Key   string `json:"key"`
			Value any    `json:"value"`
		}
		if err := json.Unmarshal(t.Data, &payload); err != nil {
			return state, fmt.Errorf("reduce: genus_meta_set: %w", err)
		}
		state = clone(state)
		meta := cloneAny(genusMeta(state))
		meta[payload.Key] = payload.Value
		state["meta"] = meta
		return state, nil

	default:
		return state, nil
	}
}

func genusAttributes(state map[string]any) map[string]GenusAttribute {
	m, _ := state["attributes"].(map[string]GenusAttribute)
	return m
}

func genusStates(state map[string]any) map[string]GenusState {
	m, _ := state["states"].(map[string]GenusState)
	return m
}

func genusTransitions(state map[string]any) []GenusTransition {
	m, _ := state["transitions"].([]GenusTransition)
	return m
}

func genusRoles(state map[string]any) map[string]GenusRole {
	m, _ := state["roles"].(map[string]GenusRole)
	return m
}

func genusMeta(state map[string]any) map[string]any {
	m, _ := state["meta"].(map[string]any)
	if m == nil {
		m = map[string]any{}
	}
	return m
}

func cloneAttrMap(m map[string]GenusAttribute) map[string]GenusAttribute {
	out := make(map[string]GenusAttribute, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneStateMap(m map[string]GenusState) map[string]GenusState {
	out := make(map[string]GenusState, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneRoleMap(m map[string]GenusRole) map[string]GenusRole {
	out := make(map[string]GenusRole, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// mergeGenusSet merges b into a, case-insensitive deduped, preserving
// a's order and appending new entries from b.
func mergeGenusSet(a, b []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(a)+len(b))
	for _, v := range a {
		key := strings.ToLower(v)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	for _, v := range b {
		key := strings.ToLower(v)
		if !seen[key] {
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}
