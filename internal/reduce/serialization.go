package reduce

import (
	"encoding/json"
	"fmt"

	"github.com/farant/smaragda/internal/types"
)

// SerializationInput describes a serialization genus's entity-
// selection query (spec.md §4.8 "{query_type, genus_name?}").
type SerializationInput struct {
	QueryType string `json:"query_type"` // by_genus | by_id
	GenusName string `json:"genus_name,omitempty"`
}

// SerializationOutput describes output shape (spec.md §4.8
// "{format, output_shape}").
type SerializationOutput struct {
	Format      string `json:"format"`
	OutputShape string `json:"output_shape"`
}

// TreeNode is one handler entry of a serialization genus (spec.md
// §4.8 "TreeNode is file | directory | for_each_feature").
type TreeNode struct {
	Kind     string         `json:"kind"`
	Fields   map[string]any `json:"fields"`
	Children []TreeNode     `json:"children,omitempty"`
}

// Serialization folds serialization genus definition tessellae on top
// of Genus, accumulating {input, output, handler} (spec.md §4.8).
func Serialization(state map[string]any, t types.Tessella) (map[string]any, error) {
	switch t.Type {
	case types.TypeSerializationInputDefined:
		var in SerializationInput
		if err := json.Unmarshal(t.Data, &in); err != nil {
			return state, fmt.Errorf("reduce: serialization_input_defined: %w", err)
		}
		state = clone(state)
		state["input"] = in
		return state, nil

	case types.TypeSerializationOutputDefined:
		var out SerializationOutput
		if err := json.Unmarshal(t.Data, &out); err != nil {
			return state, fmt.Errorf("reduce: serialization_output_defined: %w", err)
		}
		state = clone(state)
		state["output"] = out
		return state, nil

	case types.TypeSerializationHandlerDefined:
		var node TreeNode
		if err := json.Unmarshal(t.Data, &node); err != nil {
			return state, fmt.Errorf("reduce: serialization_handler_defined: %w", err)
		}
		state = clone(state)
		handler := append([]TreeNode{}, serializationHandler(state)...)
		handler = append(handler, node)
		state["handler"] = handler
		return state, nil

	default:
		return Genus(state, t)
	}
}

func serializationHandler(state map[string]any) []TreeNode {
	m, _ := state["handler"].([]TreeNode)
	return m
}
