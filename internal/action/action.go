// Package action implements action genus definition and execution
// (spec.md §4.4): resource/parameter binding, token substitution, and
// sequential side-effect handler steps.
package action

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/farant/smaragda/internal/entity"
	"github.com/farant/smaragda/internal/genus"
	"github.com/farant/smaragda/internal/reduce"
	"github.com/farant/smaragda/internal/smerr"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

// ResourceDef, ParamDef, and Step mirror reduce's accumulator shapes
// at the definition API boundary.
type ResourceDef = reduce.ActionResource
type ParamDef = reduce.ActionParameter
type Step = reduce.SideEffect

// Definition is the full set of defining facts for a new action genus
// (spec.md §4.4 "An action genus's state has {resources, parameters,
// handler}").
type Definition struct {
	Name       string
	TaxonomyID string
	Resources  []ResourceDef
	Parameters []ParamDef
	Handler    []Step
}

// Define validates the handler against declared resources/parameters
// (spec.md §4.2 "validateActionHandler rejects references to
// undefined resources/parameters") and, if valid, creates the action
// genus res with all of its definition tessellae in one batch.
func Define(ctx context.Context, st *store.Store, def Definition) (string, error) {
	if err := validateHandler(def); err != nil {
		return "", err
	}

	id, err := st.CreateRes(ctx, types.SentinelMeta, types.MainBranch, nil)
	if err != nil {
		return "", err
	}

	items := []store.PendingTessella{{ResID: id, Type: types.TypeCreated, Data: map[string]any{}}}
	for _, r := range def.Resources {
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeActionResourceDefined, Data: r})
	}
	for _, p := range def.Parameters {
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeActionParameterDefined, Data: p})
	}
	for _, s := range def.Handler {
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeActionHandlerDefined, Data: s})
	}
	meta := map[string]any{"kind": string(genus.KindAction), "name": def.Name}
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

// validateHandler rejects a step referencing an undefined resource or
// parameter token (spec.md §4.4 "Unknown tokens are left as literals
// -- but validation at definition time... rejects references to
// undefined resources/parameters").
func validateHandler(def Definition) error {
	resources := map[string]bool{}
	for _, r := range def.Resources {
		resources[r.Name] = true
	}
	params := map[string]bool{}
	for _, p := range def.Parameters {
		params[p.Name] = true
	}

	var walk func(v any) error
	walk = func(v any) error {
		switch val := v.(type) {
		case string:
			return checkTokenRefs(val, resources, params)
		case map[string]any:
			for _, child := range val {
				if err := walk(child); err != nil {
					return err
				}
			}
		case []any:
			for _, child := range val {
				if err := walk(child); err != nil {
					return err
				}
			}
		}
		return nil
	}

	for _, step := range def.Handler {
		if err := walk(step.Payload); err != nil {
			return err
		}
	}
	return nil
}

func checkTokenRefs(s string, resources, params map[string]bool) error {
	for _, tok := range extractTokens(s) {
		switch {
		case tok == "now":
		case strings.HasPrefix(tok, "res."):
			name := strings.TrimSuffix(strings.TrimPrefix(tok, "res."), ".id")
			if !resources[name] {
				return smerr.Newf(smerr.ErrUndefinedTokenReference, "handler references undefined resource %q", name).WithField("resource", name)
			}
		case strings.HasPrefix(tok, "param."):
			name := strings.TrimPrefix(tok, "param.")
			if !params[name] {
				return smerr.Newf(smerr.ErrUndefinedTokenReference, "handler references undefined parameter %q", name).WithField("parameter", name)
			}
		}
	}
	return nil
}

// extractTokens finds every $token.path reference in s.
func extractTokens(s string) []string {
	var out []string
	for i := 0; i < len(s); i++ {
		if s[i] != '$' {
			continue
		}
		j := i + 1
		for j < len(s) && isTokenChar(s[j]) {
			j++
		}
		if j > i+1 {
			out = append(out, s[i+1:j])
		}
		i = j
	}
	return out
}

func isTokenChar(c byte) bool {
	return c == '.' || c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Action is the materialized view of an action genus: the generic
// genus fields plus its {resources, parameters, handler} (spec.md
// §4.4). genus.Genus itself has no room for these kind-specific
// fields, so action.Get materializes with reduce.Action directly
// rather than going through genus.Get.
type Action struct {
	ID         string
	Name       string
	Deprecated bool
	Resources  map[string]ResourceDef
	Parameters map[string]ParamDef
	Handler    []Step
}

// Get materializes an action genus by id.
func Get(ctx context.Context, st *store.Store, id string) (Action, error) {
	state, err := st.Materialize(ctx, id, store.ReplayOpts{}, reduce.Action)
	if err != nil {
		return Action{}, err
	}
	if len(state) == 0 {
		return Action{}, smerr.Newf(smerr.ErrGenusNotFound, "action %q not found", id).WithField("genus_id", id)
	}

	a := Action{ID: id}
	if resources, ok := state["resources"].(map[string]ResourceDef); ok {
		a.Resources = resources
	}
	if params, ok := state["parameters"].(map[string]ParamDef); ok {
		a.Parameters = params
	}
	if handler, ok := state["handler"].([]Step); ok {
		a.Handler = handler
	}
	if meta, ok := state["meta"].(map[string]any); ok {
		if name, ok := meta["name"].(string); ok {
			a.Name = name
		}
		if dep, ok := meta["deprecated"].(bool); ok {
			a.Deprecated = dep
		}
	}
	return a, nil
}

// ExecuteOpts carries resource bindings, parameters, and the input
// source tag for one invocation (spec.md §4.4 "executeAction(action_id,
// resource_bindings, params, {source?})").
type ExecuteOpts struct {
	ResourceBindings map[string]string // resource name -> bound res id
	Params           map[string]any
	Source           string
	Now              string // ISO-8601 instant substituted for $now
}

// Result is what Execute returns on success.
type Result struct {
	ActionTakenID int64
	TessellaeIDs  []int64
}

// Execute performs the four steps of spec.md §4.4: bind resources,
// validate parameters, run handler steps sequentially, then (only on
// full success) record action_taken. Partial failures do not roll
// back already-written tessellae (spec.md §9 Open Question 2; see
// DESIGN.md) -- the action is simply never recorded.
func Execute(ctx context.Context, st *store.Store, actionID string, opts ExecuteOpts) (Result, error) {
	a, err := Get(ctx, st, actionID)
	if err != nil {
		return Result{}, err
	}
	if a.Deprecated {
		return Result{}, smerr.Newf(smerr.ErrDeprecatedGenus, "action %q is deprecated", actionID).WithField("genus_id", actionID)
	}

	for name, res := range a.Resources {
		boundID, ok := opts.ResourceBindings[name]
		if !ok {
			return Result{}, smerr.Newf(smerr.ErrMissingResourceBinding, "missing resource binding for %q", name).WithField("resource", name)
		}
		bound, err := st.GetRes(ctx, boundID)
		if err != nil {
			return Result{}, err
		}
		boundGenus, err := genus.Get(ctx, st, bound.GenusID)
		if err != nil {
			return Result{}, err
		}
		if !strings.EqualFold(boundGenus.Name, res.GenusName) {
			return Result{}, smerr.Newf(smerr.ErrResourceGenusMismatch, "resource %q must be a %q, got %q", name, res.GenusName, boundGenus.Name).
				WithField("resource", name)
		}
		if res.RequiredStatus != "" {
			state, err := entity.Materialize(ctx, st, boundID, store.ReplayOpts{})
			if err != nil {
				return Result{}, err
			}
			if status, _ := state["status"].(string); status != res.RequiredStatus {
				return Result{}, smerr.Newf(smerr.ErrResourceStatusMismatch, "resource %q must have status %q, has %q", name, res.RequiredStatus, status).
					WithField("resource", name)
			}
		}
	}

	for name, p := range a.Parameters {
		v, ok := opts.Params[name]
		if !ok {
			if p.Required {
				return Result{}, smerr.Newf(smerr.ErrMissingRequiredParameter, "missing required parameter %q", name).WithField("parameter", name)
			}
			continue
		}
		if !paramTypeMatches(p.Type, v) {
			return Result{}, smerr.Newf(smerr.ErrTypeMismatch, "Type mismatch for parameter %q: expected %s, got %T", name, p.Type, v).
				WithField("parameter", name)
		}
	}

	now := opts.Now
	if now == "" {
		now = time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	}
	tokenCtx := tokenContext{now: now, resources: opts.ResourceBindings, params: opts.Params}

	var tessellaeIDs []int64
	for _, step := range a.Handler {
		ids, err := runStep(ctx, st, step, tokenCtx, opts.Source)
		if err != nil {
			return Result{}, fmt.Errorf("action step %q: %w", step.Kind, err)
		}
		tessellaeIDs = append(tessellaeIDs, ids...)
	}

	actionTakenID, err := st.RecordActionTaken(ctx, actionID, opts.ResourceBindings, opts.Params, tessellaeIDs)
	if err != nil {
		return Result{}, err
	}

	return Result{ActionTakenID: actionTakenID, TessellaeIDs: tessellaeIDs}, nil
}

// ExecuteSafe wraps Execute for callers that must never propagate a Go
// error across an at-most-once dispatch boundary (spec.md §7
// "executeAction and tickCron catch exceptions and return them as
// error strings"). It logs the failure fire-and-forget style,
// matching the teacher's eventbus dispatch idiom.
func ExecuteSafe(ctx context.Context, st *store.Store, actionID string, opts ExecuteOpts) (Result, string) {
	result, err := Execute(ctx, st, actionID, opts)
	if err != nil {
		log.Printf("smaragda/action: execute %s failed: %v", actionID, err)
		return Result{}, err.Error()
	}
	return result, ""
}

// HistoryEntry pairs a tessella with the action invocation that
// produced it, if any (spec.md §4.4 "getHistory(res_id) joins replay
// with action_taken.tessellae_ids").
type HistoryEntry struct {
	Tessella    types.Tessella
	ActionTaken *store.ActionTakenRecord
}

// GetHistory replays res_id and annotates each tessella with the
// action_taken row that produced it, if any.
func GetHistory(ctx context.Context, st *store.Store, resID string) ([]HistoryEntry, error) {
	tessellae, err := st.Replay(ctx, resID, store.ReplayOpts{})
	if err != nil {
		return nil, err
	}
	out := make([]HistoryEntry, 0, len(tessellae))
	for _, t := range tessellae {
		rec, err := st.ActionTakenForTessella(ctx, t.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, HistoryEntry{Tessella: t, ActionTaken: rec})
	}
	return out, nil
}

func paramTypeMatches(declared string, v any) bool {
	switch declared {
	case "text":
		_, ok := v.(string)
		return ok
	case "number":
		switch v.(type) {
		case float64, float32, int, int64:
			return true
		default:
			return false
		}
	case "boolean":
		_, ok := v.(bool)
		return ok
	default:
		return true
	}
}
