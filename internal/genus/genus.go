// Package genus implements the genus layer: meta-defined schemas
// bootstrapped self-referentially through the tessella log (spec.md
// §4.2). A genus is itself a res whose genus_id is the META sentinel;
// its materialized state accumulates {attributes, states, transitions,
// roles, meta}, with meta.kind distinguishing entity/action/
// relationship/process/serialization genera.
package genus

import (
	"context"
	"strings"

	"github.com/farant/smaragda/internal/reduce"
	"github.com/farant/smaragda/internal/smerr"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

// Kind is the value of meta.kind for a genus (spec.md §4.2 "The kind
// of genus... is stored in meta.kind").
type Kind string

const (
	KindEntity         Kind = "entity"
	KindAction         Kind = "action"
	KindRelationship   Kind = "relationship"
	KindProcess        Kind = "process"
	KindSerialization  Kind = "serialization"
)

// Attribute, State, Transition, and Role mirror the reduce package's
// accumulator element types at the genus API boundary.
type Attribute = reduce.GenusAttribute
type State = reduce.GenusState
type Transition = reduce.GenusTransition
type Role = reduce.GenusRole

// Definition is the full set of defining facts for a new genus
// (spec.md §4.2 "Define operations... allocate res -> append created
// -> append one tessella per attribute, state, transition, role, meta
// key").
type Definition struct {
	Kind        Kind
	Name        string
	TaxonomyID  string
	Attributes  []Attribute
	States      []State
	Transitions []Transition
	Roles       []Role
	Meta        map[string]any
}

// Genus is the materialized view of a genus res (spec.md §4.2).
type Genus struct {
	ID          string
	Kind        Kind
	Name        string
	Attributes  map[string]Attribute
	States      map[string]State
	Transitions []Transition
	Roles       map[string]Role
	Meta        map[string]any
	Deprecated  bool
}

// reducerFor picks the reduce package function matching kind so that a
// single Materialize pass captures both the generic genus fields and
// any kind-specific ones (action resources/parameters/handler,
// process lanes/steps/triggers, serialization input/output/handler).
func reducerFor(kind Kind) store.Reducer {
	switch kind {
	case KindAction:
		return reduce.Action
	case KindProcess:
		return reduce.ProcessDef
	case KindSerialization:
		return reduce.Serialization
	default:
		return reduce.Genus
	}
}

// Get materializes a genus by id. It first peeks the generic shape to
// learn meta.kind, then re-materializes with the kind-specific reducer
// if needed, since the kind is not known ahead of time.
func Get(ctx context.Context, st *store.Store, id string) (Genus, error) {
	generic, err := st.Materialize(ctx, id, store.ReplayOpts{}, reduce.Genus)
	if err != nil {
		return Genus{}, err
	}
	if len(generic) == 0 {
		return Genus{}, smerr.Newf(smerr.ErrGenusNotFound, "genus %q not found", id).WithField("genus_id", id)
	}

	kind, _ := genusKind(generic)
	state := generic
	if reducer := reducerFor(kind); kind != KindEntity && kind != "" {
		state, err = st.Materialize(ctx, id, store.ReplayOpts{}, reducer)
		if err != nil {
			return Genus{}, err
		}
	}

	return toGenus(id, kind, state), nil
}

func genusKind(state map[string]any) (Kind, bool) {
	meta, _ := state["meta"].(map[string]any)
	if meta == nil {
		return KindEntity, false
	}
	k, ok := meta["kind"].(string)
	if !ok {
		return KindEntity, false
	}
	return Kind(k), true
}

func toGenus(id string, kind Kind, state map[string]any) Genus {
	g := Genus{ID: id, Kind: kind, Attributes: map[string]Attribute{}, States: map[string]State{}, Roles: map[string]Role{}, Meta: map[string]any{}}
	if attrs, ok := state["attributes"].(map[string]Attribute); ok {
		g.Attributes = attrs
	}
	if states, ok := state["states"].(map[string]State); ok {
		g.States = states
	}
	if transitions, ok := state["transitions"].([]Transition); ok {
		g.Transitions = transitions
	}
	if roles, ok := state["roles"].(map[string]Role); ok {
		g.Roles = roles
	}
	if meta, ok := state["meta"].(map[string]any); ok {
		g.Meta = meta
		if name, ok := meta["name"].(string); ok {
			g.Name = name
		}
		if dep, ok := meta["deprecated"].(bool); ok {
			g.Deprecated = dep
		}
	}
	return g
}

// Define validates def and, if valid, appends the created tessella
// plus one tessella per attribute/state/transition/role/meta key in a
// single batch (spec.md §4.2: "not transactional across tessellae...
// but atomic at the API boundary: validation runs first; if it
// throws, no tessellae are appended").
func Define(ctx context.Context, st *store.Store, def Definition) (string, error) {
	if err := validateDefinition(def); err != nil {
		return "", err
	}

	id, err := st.CreateRes(ctx, types.SentinelMeta, types.MainBranch, nil)
	if err != nil {
		return "", err
	}

	items := []store.PendingTessella{
		{ResID: id, Type: types.TypeCreated, Data: map[string]any{}},
	}
	for _, a := range def.Attributes {
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeGenusAttributeDefined, Data: a})
	}
	for _, s := range def.States {
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeGenusStateDefined, Data: s})
	}
	for _, tr := range def.Transitions {
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeGenusTransitionDefined, Data: tr})
	}
	for _, r := range def.Roles {
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeGenusRoleDefined, Data: r})
	}

	meta := map[string]any{"kind": string(def.Kind), "name": def.Name}
	if def.TaxonomyID != "" {
		meta["taxonomy_id"] = def.TaxonomyID
	}
	for k, v := range def.Meta {
		meta[k] = v
	}
	for k, v := range meta {
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeGenusMetaSet, Data: map[string]any{"key": k, "value": v}})
	}

	if _, err := st.AppendBatch(ctx, items, store.AppendOpts{}); err != nil {
		return "", err
	}
	return id, nil
}

func validateDefinition(def Definition) error {
	if strings.TrimSpace(def.Name) == "" {
		return smerr.New(smerr.ErrDuplicateName, "genus name must not be empty")
	}
	seenAttr := map[string]bool{}
	for _, a := range def.Attributes {
		if seenAttr[a.Name] {
			return smerr.Newf(smerr.ErrDuplicateName, "duplicate attribute %q", a.Name)
		}
		seenAttr[a.Name] = true
		if !validAttrType(a.Type) {
			return smerr.Newf(smerr.ErrTypeMismatch, "attribute %q has unknown type %q", a.Name, a.Type)
		}
	}
	stateNames := map[string]bool{}
	for _, s := range def.States {
		stateNames[s.Name] = true
	}
	for _, tr := range def.Transitions {
		if !stateNames[tr.From] || !stateNames[tr.To] {
			return smerr.Newf(smerr.ErrStateUndefined, "transition %s->%s references an undefined state", tr.From, tr.To)
		}
	}
	for _, r := range def.Roles {
		if !validCardinality(r.Cardinality) {
			return smerr.Newf(smerr.ErrRoleCardinalityViolation, "role %q has invalid cardinality %q", r.Name, r.Cardinality)
		}
	}
	return nil
}

// FindByName resolves a genus by its case-insensitive name. Genera all
// share genus_id == META, so there is no direct index by name; this
// scans every genus res and materializes just enough to compare names
// (spec.md §4.4 "create_res{genus_name,...}").
func FindByName(ctx context.Context, st *store.Store, name string) (string, error) {
	ids, err := st.ResIDsByGenus(ctx, types.SentinelMeta)
	if err != nil {
		return "", err
	}
	for _, id := range ids {
		g, err := Get(ctx, st, id)
		if err != nil {
			continue
		}
		if strings.EqualFold(g.Name, name) {
			return id, nil
		}
	}
	return "", smerr.Newf(smerr.ErrGenusNotFound, "no genus named %q", name).WithField("name", name)
}

func validAttrType(t string) bool {
	switch t {
	case "text", "number", "boolean", "filetree":
		return true
	default:
		return false
	}
}

func validCardinality(c string) bool {
	switch c {
	case "one", "one_or_more", "zero_or_more":
		return true
	default:
		return false
	}
}
