package serialize

import (
	"context"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/farant/smaragda/internal/reduce"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

// Frontmatter is a YAML block delimited by lines of "---" at the top of
// a file (spec.md §6 "Serialization frontmatter"). Keys become
// attributes; status is reserved and read-only.
type Frontmatter map[string]any

// ParseFrontmatter splits content into its leading "---"-delimited
// YAML block and the remaining body. content with no frontmatter block
// returns an empty Frontmatter and the content unchanged.
func ParseFrontmatter(content string) (Frontmatter, string, error) {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return Frontmatter{}, content, nil
	}
	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end == -1 {
		return Frontmatter{}, content, nil
	}

	block := strings.Join(lines[1:end], "\n")
	fm := Frontmatter{}
	if strings.TrimSpace(block) != "" {
		if err := yaml.Unmarshal([]byte(block), &fm); err != nil {
			return nil, "", fmt.Errorf("serialize: parse frontmatter: %w", err)
		}
	}
	body := strings.Join(lines[end+1:], "\n")
	return fm, strings.TrimPrefix(body, "\n"), nil
}

// AttributeDelta is one changed attribute found by Diff.
type AttributeDelta struct {
	Key      string
	OldValue any
	NewValue any
}

// Diff reports the attributes present in updated whose value differs
// from (or is absent from) current, comparing by type-aware equality
// the way the teacher's internal/importer/utils.go fieldComparator
// compares an incoming update against a materialized Issue: strings,
// numbers, and bools each get their own equality rule instead of a
// blind reflect.DeepEqual, so that e.g. a float64 5 decoded from YAML
// and an int 5 already in state do not register as a spurious delta.
func Diff(current, updated map[string]any) []AttributeDelta {
	var deltas []AttributeDelta
	for key, newVal := range updated {
		oldVal := current[key]
		if !valuesEqual(oldVal, newVal) {
			deltas = append(deltas, AttributeDelta{Key: key, OldValue: oldVal, NewValue: newVal})
		}
	}
	return deltas
}

func valuesEqual(a, b any) bool {
	af, aok := asFloat(a)
	bf, bok := asFloat(b)
	if aok && bok {
		return af == bf
	}
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// ImportWarning records an attribute the importer declined to apply.
type ImportWarning struct {
	EntityID string
	Key      string
	Message  string
}

// ImportResult summarizes one importFiletree run.
type ImportResult struct {
	Applied  []AttributeDelta
	Warnings []ImportWarning
}

// Import diffs frontmatter against the current materialized state of
// entityID and appends attribute_set tessellae only for the keys that
// changed (spec.md §4.8 "importFiletree"). status is read-only in
// frontmatter: an attempt to set it is skipped with a warning pointing
// at transitionStatus instead of silently applied or rejected outright.
func Import(ctx context.Context, st *store.Store, entityID string, fm Frontmatter) (ImportResult, error) {
	state, err := st.Materialize(ctx, entityID, store.ReplayOpts{}, reduce.Default)
	if err != nil {
		return ImportResult{}, err
	}

	updates := map[string]any{}
	var warnings []ImportWarning
	for key, val := range fm {
		if key == "status" {
			warnings = append(warnings, ImportWarning{
				EntityID: entityID,
				Key:      key,
				Message:  "status is read-only in frontmatter; use transitionStatus to change it",
			})
			continue
		}
		updates[key] = val
	}

	deltas := Diff(state, updates)
	for _, d := range deltas {
		if _, err := st.Append(ctx, entityID, types.TypeAttributeSet, map[string]any{"key": d.Key, "value": d.NewValue}, store.AppendOpts{}); err != nil {
			return ImportResult{}, err
		}
	}
	return ImportResult{Applied: deltas, Warnings: warnings}, nil
}

// ImportFiletree matches each of root's top-level children against
// manifest's entity id -> directory mapping and imports that entity
// from everything under its matched subtree. Matching by directory —
// rather than by leaf filename, which every entity of the same genus
// shares via an identical handler template — is required for the
// manifest's id -> directory mapping to resolve entities unambiguously
// (spec.md §4.8/§6 entity <-> directory contract). Top-level entries
// not named in manifest are skipped.
func ImportFiletree(ctx context.Context, st *store.Store, root *types.FiletreeNode, manifest map[string]string) (map[string]ImportResult, error) {
	if root == nil {
		return map[string]ImportResult{}, nil
	}
	dirToEntity := map[string]string{}
	for entityID, dirName := range manifest {
		dirToEntity[dirName] = entityID
	}

	results := map[string]ImportResult{}
	for _, child := range root.Children {
		entityID, ok := dirToEntity[child.Name]
		if !ok {
			continue
		}
		fm, err := mergeFrontmatter(child)
		if err != nil {
			return nil, err
		}
		result, err := Import(ctx, st, entityID, fm)
		if err != nil {
			return nil, err
		}
		results[entityID] = result
	}
	return results, nil
}

// mergeFrontmatter walks one entity's exported subtree and merges the
// frontmatter of every file it contains, later files winning on key
// collision. Handler templates normally produce a single frontmatter
// file per entity, so the merge only matters for multi-file handlers.
func mergeFrontmatter(node *types.FiletreeNode) (Frontmatter, error) {
	merged := Frontmatter{}
	var walk func(n *types.FiletreeNode) error
	walk = func(n *types.FiletreeNode) error {
		if n == nil {
			return nil
		}
		if n.Type == types.FiletreeFile {
			fm, _, err := ParseFrontmatter(n.Content)
			if err != nil {
				return err
			}
			for k, v := range fm {
				merged[k] = v
			}
			return nil
		}
		for _, child := range n.Children {
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(node); err != nil {
		return nil, err
	}
	return merged, nil
}
