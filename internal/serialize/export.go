package serialize

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"

	"github.com/farant/smaragda/internal/genus"
	"github.com/farant/smaragda/internal/reduce"
	"github.com/farant/smaragda/internal/smerr"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

var templateRef = regexp.MustCompile(`\{\{(entity|feature)\.([a-zA-Z0-9_]+)\}\}`)

// substitute expands every {{entity.attr}}/{{feature.attr}} reference
// in s, reading entity from entityState and feature from featureState
// (spec.md §4.8 "template substitution ({{entity.attr}}, {{feature.attr}},
// {{entity.status}}, ...)"). An unresolvable reference is left as-is.
func substitute(s string, entityState, featureState map[string]any) string {
	return templateRef.ReplaceAllStringFunc(s, func(m string) string {
		groups := templateRef.FindStringSubmatch(m)
		scope, key := groups[1], groups[2]
		src := entityState
		if scope == "feature" {
			src = featureState
		}
		v, ok := src[key]
		if !ok {
			return m
		}
		return fmt.Sprintf("%v", v)
	})
}

// RunOpts scopes Run to a single entity, overriding the serialization
// genus's declared input query (spec.md §4.8 "runSerialization(target,
// {entity_id?})").
type RunOpts struct {
	EntityID string
}

// RunResult is what one export produces.
type RunResult struct {
	Trees map[string]*types.FiletreeNode // entity id -> root node

	// Manifest is the entity id -> on-disk directory name mapping.
	// Run has no concept of a directory (it never touches disk), so
	// this is left empty here and filled in by Export, the only place
	// that actually chooses directory names.
	Manifest map[string]string
}

// Run resolves the entity set per the serialization genus's declared
// input, evaluates the handler for each entity, and returns the
// resulting filetree per entity. Run does not touch disk, so the
// returned Manifest is empty; Export fills it in (spec.md §4.8
// "Export").
func Run(ctx context.Context, st *store.Store, targetID string, opts RunOpts) (RunResult, error) {
	target, err := Get(ctx, st, targetID)
	if err != nil {
		return RunResult{}, err
	}

	entityIDs, err := resolveEntities(ctx, st, target.Input, opts)
	if err != nil {
		return RunResult{}, err
	}

	result := RunResult{Trees: map[string]*types.FiletreeNode{}, Manifest: map[string]string{}}
	for _, id := range entityIDs {
		state, err := st.Materialize(ctx, id, store.ReplayOpts{}, reduce.Default)
		if err != nil {
			return RunResult{}, err
		}
		nodes, err := evalNodes(target.Handler, state, nil)
		if err != nil {
			return RunResult{}, err
		}
		if len(nodes) == 0 {
			continue
		}
		root := nodes[0]
		if len(nodes) > 1 {
			root = &types.FiletreeNode{Name: id, Type: types.FiletreeDirectory, Children: nodes}
		}
		result.Trees[id] = root
	}
	return result, nil
}

// Export runs the serialization genus identified by targetID, writes
// each resulting entity filetree under its own subdirectory of dir —
// named after the entity id, so two entities sharing an identical
// handler-generated tree (the common by_genus case) still land in
// distinct, unambiguous directories — writes the _manifest.json
// mapping, and records the run in serialization_run (spec.md §4.8
// "Export", "Serialization runs are recorded in serialization_run").
func Export(ctx context.Context, st *store.Store, targetID, dir string, opts RunOpts) (RunResult, error) {
	result, err := Run(ctx, st, targetID, opts)
	if err != nil {
		return RunResult{}, err
	}

	result.Manifest = map[string]string{}
	for id, root := range result.Trees {
		entityDir := filepath.Join(dir, id)
		if err := WriteFiletree(entityDir, root); err != nil {
			return RunResult{}, err
		}
		result.Manifest[id] = id
	}
	if err := WriteManifest(dir, result.Manifest); err != nil {
		return RunResult{}, err
	}

	manifestJSON, err := json.Marshal(result.Manifest)
	if err != nil {
		return RunResult{}, fmt.Errorf("serialize: marshal manifest for run record: %w", err)
	}
	if _, err := st.RecordSerializationRun(ctx, targetID, opts.EntityID, string(manifestJSON)); err != nil {
		return RunResult{}, err
	}
	return result, nil
}

func resolveEntities(ctx context.Context, st *store.Store, in Input, opts RunOpts) ([]string, error) {
	if opts.EntityID != "" {
		return []string{opts.EntityID}, nil
	}
	switch in.QueryType {
	case "by_id":
		return nil, smerr.New(smerr.ErrMissingRequiredParameter, "serialization input is by_id but no entity_id was given")
	case "by_genus":
		genusID, err := genus.FindByName(ctx, st, in.GenusName)
		if err != nil {
			return nil, err
		}
		return st.ResIDsByGenus(ctx, genusID)
	default:
		return nil, smerr.Newf(smerr.ErrUndefinedTokenReference, "unknown serialization query_type %q", in.QueryType)
	}
}

func evalNodes(nodes []TreeNode, entityState, featureState map[string]any) ([]*types.FiletreeNode, error) {
	var out []*types.FiletreeNode
	for _, node := range nodes {
		produced, err := evalNode(node, entityState, featureState)
		if err != nil {
			return nil, err
		}
		out = append(out, produced...)
	}
	return out, nil
}

func evalNode(node TreeNode, entityState, featureState map[string]any) ([]*types.FiletreeNode, error) {
	switch node.Kind {
	case NodeFile:
		name, _ := node.Fields["name"].(string)
		content, _ := node.Fields["content"].(string)
		return []*types.FiletreeNode{{
			Name:    substitute(name, entityState, featureState),
			Type:    types.FiletreeFile,
			Content: substitute(content, entityState, featureState),
		}}, nil

	case NodeDirectory:
		name, _ := node.Fields["name"].(string)
		children, err := evalNodes(node.Children, entityState, featureState)
		if err != nil {
			return nil, err
		}
		return []*types.FiletreeNode{{
			Name:     substitute(name, entityState, featureState),
			Type:     types.FiletreeDirectory,
			Children: children,
		}}, nil

	case NodeForEachFeature:
		features, _ := entityState["features"].(map[string]any)
		var out []*types.FiletreeNode
		for _, raw := range features {
			feature, _ := raw.(map[string]any)
			children, err := evalNodes(node.Children, entityState, feature)
			if err != nil {
				return nil, err
			}
			out = append(out, children...)
		}
		return out, nil

	default:
		return nil, smerr.Newf(smerr.ErrUndefinedTokenReference, "unknown handler node kind %q", node.Kind)
	}
}

