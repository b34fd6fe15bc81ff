// Package serialize implements serialization genus definition, export
// (runSerialization), filetree I/O, and filetree import (spec.md
// §4.8).
package serialize

import (
	"context"

	"github.com/farant/smaragda/internal/genus"
	"github.com/farant/smaragda/internal/reduce"
	"github.com/farant/smaragda/internal/smerr"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

// Input, Output, and TreeNode mirror reduce's accumulator shapes at
// the definition API boundary.
type Input = reduce.SerializationInput
type Output = reduce.SerializationOutput
type TreeNode = reduce.TreeNode

// TreeNode kinds (spec.md §4.8 "TreeNode is file | directory | for_each_feature").
const (
	NodeFile           = "file"
	NodeDirectory      = "directory"
	NodeForEachFeature = "for_each_feature"
)

// Definition is the full set of defining facts for a new serialization
// genus (spec.md §4.8 "{input, output, handler}").
type Definition struct {
	Name       string
	TaxonomyID string
	Input      Input
	Output     Output
	Handler    []TreeNode
}

// Define creates the serialization genus res with all of its
// definition tessellae in one batch, mirroring internal/action and
// internal/process's Define shape for meta-kind genera.
func Define(ctx context.Context, st *store.Store, def Definition) (string, error) {
	id, err := st.CreateRes(ctx, types.SentinelMeta, types.MainBranch, nil)
	if err != nil {
		return "", err
	}

	items := []store.PendingTessella{
		{ResID: id, Type: types.TypeCreated, Data: map[string]any{}},
		{ResID: id, Type: types.TypeSerializationInputDefined, Data: def.Input},
		{ResID: id, Type: types.TypeSerializationOutputDefined, Data: def.Output},
	}
	for _, node := range def.Handler {
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeSerializationHandlerDefined, Data: node})
	}

	meta := map[string]any{"kind": string(genus.KindSerialization), "name": def.Name}
	if def.TaxonomyID != "" {
		meta["taxonomy_id"] = def.TaxonomyID
	}
	for k, v := range meta {
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeGenusMetaSet, Data: map[string]any{"key": k, "value": v}})
	}

	if _, err := st.AppendBatch(ctx, items, store.AppendOpts{}); err != nil {
		return "", err
	}
	return id, nil
}

// Serialization is the materialized view of a serialization genus.
type Serialization struct {
	ID         string
	Name       string
	Deprecated bool
	Input      Input
	Output     Output
	Handler    []TreeNode
}

// Get materializes a serialization genus by id.
func Get(ctx context.Context, st *store.Store, id string) (Serialization, error) {
	state, err := st.Materialize(ctx, id, store.ReplayOpts{}, reduce.Serialization)
	if err != nil {
		return Serialization{}, err
	}
	if len(state) == 0 {
		return Serialization{}, smerr.Newf(smerr.ErrGenusNotFound, "serialization %q not found", id).WithField("genus_id", id)
	}

	s := Serialization{ID: id}
	if in, ok := state["input"].(Input); ok {
		s.Input = in
	}
	if out, ok := state["output"].(Output); ok {
		s.Output = out
	}
	if handler, ok := state["handler"].([]TreeNode); ok {
		s.Handler = handler
	}
	if meta, ok := state["meta"].(map[string]any); ok {
		if name, ok := meta["name"].(string); ok {
			s.Name = name
		}
		if dep, ok := meta["deprecated"].(bool); ok {
			s.Deprecated = dep
		}
	}
	return s, nil
}
