// Package process implements process genus definition and instance
// execution (spec.md §4.5): lanes, typed steps, activation, and
// advance-on-completion.
package process

import (
	"context"

	"github.com/farant/smaragda/internal/genus"
	"github.com/farant/smaragda/internal/reduce"
	"github.com/farant/smaragda/internal/smerr"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

// LaneDef, StepDef, and TriggerDef mirror reduce's accumulator shapes
// at the definition API boundary.
type LaneDef = reduce.ProcessLane
type StepDef = reduce.ProcessStep
type TriggerDef = reduce.ProcessTrigger

// Definition is the full set of defining facts for a new process genus
// (spec.md §4.5 "A process genus has lanes, steps, triggers, meta").
type Definition struct {
	Name       string
	TaxonomyID string
	Lanes      []LaneDef
	Steps      []StepDef
	Triggers   []TriggerDef
}

// Define validates step.lane references and, if valid, creates the
// process genus res with all of its definition tessellae in one
// batch. Step.Order is assigned here from declaration order within
// each lane, since the caller only states sequence, not a number.
func Define(ctx context.Context, st *store.Store, def Definition) (string, error) {
	lanes := map[string]bool{}
	for _, l := range def.Lanes {
		lanes[l.Name] = true
	}
	nextOrder := map[string]int{}
	steps := make([]StepDef, len(def.Steps))
	for i, s := range def.Steps {
		if !lanes[s.Lane] {
			return "", smerr.Newf(smerr.ErrStateUndefined, "step %q references undefined lane %q", s.Name, s.Lane).WithField("lane", s.Lane)
		}
		s.Order = nextOrder[s.Lane]
		nextOrder[s.Lane]++
		steps[i] = s
	}

	id, err := st.CreateRes(ctx, types.SentinelMeta, types.MainBranch, nil)
	if err != nil {
		return "", err
	}

	items := []store.PendingTessella{{ResID: id, Type: types.TypeCreated, Data: map[string]any{}}}
	for _, l := range def.Lanes {
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeProcessLaneDefined, Data: l})
	}
	for _, s := range steps {
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeProcessStepDefined, Data: s})
	}
	for _, tr := range def.Triggers {
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeProcessTriggerDefined, Data: tr})
	}
	meta := map[string]any{"kind": string(genus.KindProcess), "name": def.Name}
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

// Process is the materialized view of a process genus.
type Process struct {
	ID         string
	Name       string
	Deprecated bool
	Lanes      map[string]LaneDef
	Steps      map[string]StepDef
	Triggers   []TriggerDef
}

// Get materializes a process genus by id.
func Get(ctx context.Context, st *store.Store, id string) (Process, error) {
	state, err := st.Materialize(ctx, id, store.ReplayOpts{}, reduce.ProcessDef)
	if err != nil {
		return Process{}, err
	}
	if len(state) == 0 {
		return Process{}, smerr.Newf(smerr.ErrGenusNotFound, "process %q not found", id).WithField("genus_id", id)
	}

	p := Process{ID: id}
	if lanes, ok := state["lanes"].(map[string]LaneDef); ok {
		p.Lanes = lanes
	}
	if steps, ok := state["steps"].(map[string]StepDef); ok {
		p.Steps = steps
	}
	if triggers, ok := state["triggers"].([]TriggerDef); ok {
		p.Triggers = triggers
	}
	if meta, ok := state["meta"].(map[string]any); ok {
		if name, ok := meta["name"].(string); ok {
			p.Name = name
		}
		if dep, ok := meta["deprecated"].(bool); ok {
			p.Deprecated = dep
		}
	}
	return p, nil
}

// stepsInLane returns a lane's steps ordered by StepDef.Order.
func stepsInLane(p Process, lane string) []StepDef {
	var out []StepDef
	for _, s := range p.Steps {
		if s.Lane == lane {
			out = append(out, s)
		}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Order < out[j-1].Order; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
