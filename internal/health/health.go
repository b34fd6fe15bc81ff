// Package health implements evaluateHealth/listUnhealthy (spec.md
// §4.9): structural checks over a materialized entity plus an
// associated-errors check driven by internal/action's Error journal
// entities.
package health

import (
	"context"

	"github.com/farant/smaragda/internal/genus"
	"github.com/farant/smaragda/internal/reduce"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

// Issue is one health finding.
type Issue struct {
	Type     string
	Severity string
	Message  string
}

// Report is the result of evaluateHealth.
type Report struct {
	ResID   string
	Healthy bool
	Issues  []Issue
}

// Evaluate checks resID against its genus's declared attributes and
// states, plus outstanding Error entities that reference it (spec.md
// §4.9 "every required attribute present; every attribute value
// matches declared type; status (if any) is a defined state; all
// errors associated with the res are acknowledged").
func Evaluate(ctx context.Context, st *store.Store, resID string) (Report, error) {
	r, err := st.GetRes(ctx, resID)
	if err != nil {
		return Report{}, err
	}
	g, err := genus.Get(ctx, st, r.GenusID)
	if err != nil {
		return Report{}, err
	}
	state, err := st.Materialize(ctx, resID, store.ReplayOpts{}, reduce.Default)
	if err != nil {
		return Report{}, err
	}

	var issues []Issue

	for name, attr := range g.Attributes {
		v, present := state[name]
		if !present {
			if attr.Required {
				issues = append(issues, Issue{
					Type:     "missing_attribute",
					Severity: "error",
					Message:  "required attribute \"" + name + "\" is not set",
				})
			}
			continue
		}
		if !typeMatches(attr.Type, v) {
			issues = append(issues, Issue{
				Type:     "type_mismatch",
				Severity: "error",
				Message:  "attribute \"" + name + "\" does not match declared type " + attr.Type,
			})
		}
	}

	if len(g.States) > 0 {
		status, _ := state["status"].(string)
		if _, ok := g.States[status]; !ok {
			issues = append(issues, Issue{
				Type:     "undefined_state",
				Severity: "error",
				Message:  "status \"" + status + "\" is not a defined state",
			})
		}
	}

	unacked, err := unacknowledgedErrors(ctx, st, resID)
	if err != nil {
		return Report{}, err
	}
	for _, errID := range unacked {
		issues = append(issues, Issue{
			Type:     "unacknowledged_error",
			Severity: "warning",
			Message:  "error " + errID + " associated with this res is not acknowledged",
		})
	}

	return Report{ResID: resID, Healthy: len(issues) == 0, Issues: issues}, nil
}

// unacknowledgedErrors scans every Error journal entity and returns the
// ids of those whose context_res_id matches resID and whose status is
// not "acknowledged". Error entities are schema-free journal res (like
// Log/Task), so there is no index from res to its associated errors;
// this linear scan mirrors the one genus.FindByName already uses over
// SentinelMeta.
func unacknowledgedErrors(ctx context.Context, st *store.Store, resID string) ([]string, error) {
	ids, err := st.ResIDsByGenus(ctx, types.SentinelError)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, id := range ids {
		state, err := st.Materialize(ctx, id, store.ReplayOpts{}, reduce.Default)
		if err != nil {
			return nil, err
		}
		ctxRes, _ := state["context_res_id"].(string)
		if ctxRes != resID {
			continue
		}
		if status, _ := state["status"].(string); status == "acknowledged" {
			continue
		}
		out = append(out, id)
	}
	return out, nil
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

// ListOpts scopes ListUnhealthy.
type ListOpts struct {
	GenusID string
}

// ListUnhealthy materializes every relevant entity (optionally
// restricted to one genus) and returns only the ones with issues
// (spec.md §4.9 "listUnhealthy({genus_id?})").
func ListUnhealthy(ctx context.Context, st *store.Store, opts ListOpts) ([]Report, error) {
	var ids []string
	var err error
	if opts.GenusID != "" {
		ids, err = st.ResIDsByGenus(ctx, opts.GenusID)
	} else {
		ids, err = st.AllResIDs(ctx)
	}
	if err != nil {
		return nil, err
	}

	var out []Report
	for _, id := range ids {
		r, err := st.GetRes(ctx, id)
		if err != nil {
			return nil, err
		}
		if types.IsSentinel(r.GenusID) {
			continue
		}
		rep, err := Evaluate(ctx, st, id)
		if err != nil {
			return nil, err
		}
		if !rep.Healthy {
			out = append(out, rep)
		}
	}
	return out, nil
}
