package reduce

import (
	"encoding/json"
	"fmt"

	"github.com/farant/smaragda/internal/types"
)

// ActionResource is one entry in action.state.resources (spec.md §4.4
// "resources: {name -> {genus_name, required_status?}}").
type ActionResource struct {
	Name           string `json:"name"`
	GenusName      string `json:"genus_name"`
	RequiredStatus string `json:"required_status,omitempty"`
}

// ActionParameter is one entry in action.state.parameters.
type ActionParameter struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

// SideEffect is one handler step (spec.md §4.4 "Side-effect kinds").
// Payload carries whatever fields that Kind needs; internal/action
// interprets it by Kind at execution time.
type SideEffect struct {
	Kind    string         `json:"kind"`
	Payload map[string]any `json:"payload"`
}

// Action folds an action genus's definition tessellae on top of Genus,
// accumulating {resources, parameters, handler} (spec.md §4.4).
func Action(state map[string]any, t types.Tessella) (map[string]any, error) {
	switch t.Type {
	case types.TypeActionResourceDefined:
		var res ActionResource
		if err := json.Unmarshal(t.Data, &res); err != nil {
			return state, fmt.Errorf("reduce: action_resource_defined: %w", err)
		}
		state = clone(state)
		resources := cloneResourceMap(actionResources(state))
		resources[res.Name] = res
		state["resources"] = resources
		return state, nil

	case types.TypeActionParameterDefined:
		var p ActionParameter
		if err := json.Unmarshal(t.Data, &p); err != nil {
			return state, fmt.Errorf("reduce: action_parameter_defined: %w", err)
		}
		state = clone(state)
		params := cloneParamMap(actionParameters(state))
		params[p.Name] = p
		state["parameters"] = params
		return state, nil

	case types.TypeActionHandlerDefined:
		var step SideEffect
		if err := json.Unmarshal(t.Data, &step); err != nil {
			return state, fmt.Errorf("reduce: action_handler_defined: %w", err)
		}
		state = clone(state)
		handler := append([]SideEffect{}, actionHandler(state)...)
		handler = append(handler, step)
		state["handler"] = handler
		return state, nil

	default:
		return Genus(state, t)
	}
}

func actionResources(state map[string]any) map[string]ActionResource {
	m, _ := state["resources"].(map[string]ActionResource)
	return m
}

func actionParameters(state map[string]any) map[string]ActionParameter {
	m, _ := state["parameters"].(map[string]ActionParameter)
	return m
}

func actionHandler(state map[string]any) []SideEffect {
	m, _ := state["handler"].([]SideEffect)
	return m
}

func cloneResourceMap(m map[string]ActionResource) map[string]ActionResource {
	out := make(map[string]ActionResource, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneParamMap(m map[string]ActionParameter) map[string]ActionParameter {
	out := make(map[string]ActionParameter, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
