package genus

import (
	"context"

	"github.com/farant/smaragda/internal/smerr"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

// Evolution is an additive change to an existing genus (spec.md §4.2
// "Evolve. Additive only: new attributes, states, transitions, roles,
// meta keys").
type Evolution struct {
	Attributes  []Attribute
	States      []State
	Transitions []Transition
	Roles       []Role
	Meta        map[string]any
}

// Evolve appends only the tessellae that change the genus's
// materialized state, skipping anything already present (spec.md
// §4.2 "Non-idempotent evolution... must be suppressed: if the target
// set already contains the value, skip the append"; spec.md §8
// "evolveGenus with a subset of already-present... appends no
// tessellae"). A deprecated genus is auto-restored unless its owning
// taxonomy is archived (spec.md §4.2 "evolveGenus auto-restores (if
// taxonomy allows)").
func Evolve(ctx context.Context, st *store.Store, id string, ev Evolution) error {
	g, err := Get(ctx, st, id)
	if err != nil {
		return err
	}

	var items []store.PendingTessella

	for _, a := range ev.Attributes {
		if existing, ok := g.Attributes[a.Name]; ok && existing == a {
			continue
		}
		if !validAttrType(a.Type) {
			return smerr.Newf(smerr.ErrTypeMismatch, "attribute %q has unknown type %q", a.Name, a.Type)
		}
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeGenusAttributeDefined, Data: a})
	}
	for _, s := range ev.States {
		if existing, ok := g.States[s.Name]; ok && existing == s {
			continue
		}
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeGenusStateDefined, Data: s})
	}
	for _, tr := range ev.Transitions {
		if containsTransition(g.Transitions, tr) {
			continue
		}
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeGenusTransitionDefined, Data: tr})
	}
	for _, r := range ev.Roles {
		if roleUnchanged(g.Roles, r) {
			continue
		}
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeGenusRoleDefined, Data: r})
	}
	for k, v := range ev.Meta {
		if existing, ok := g.Meta[k]; ok && existing == v {
			continue
		}
		items = append(items, store.PendingTessella{ResID: id, Type: types.TypeGenusMetaSet, Data: map[string]any{"key": k, "value": v}})
	}

	if g.Deprecated {
		restorable, err := canRestore(ctx, st, g)
		if err != nil {
			return err
		}
		if restorable {
			items = append(items,
				store.PendingTessella{ResID: id, Type: types.TypeGenusMetaSet, Data: map[string]any{"key": "deprecated", "value": false}},
				store.PendingTessella{ResID: id, Type: types.TypeGenusMetaSet, Data: map[string]any{"key": "deprecated_at", "value": nil}},
			)
		}
	}

	if len(items) == 0 {
		return nil
	}
	_, err = st.AppendBatch(ctx, items, store.AppendOpts{})
	return err
}

func containsTransition(list []Transition, tr Transition) bool {
	for _, existing := range list {
		if existing == tr {
			return true
		}
	}
	return false
}

func roleUnchanged(roles map[string]Role, r Role) bool {
	existing, ok := roles[r.Name]
	if !ok {
		return false
	}
	if existing.Cardinality != r.Cardinality || existing.Required != r.Required {
		return false
	}
	for _, v := range r.ValidMemberGenera {
		found := false
		for _, ev := range existing.ValidMemberGenera {
			if v == ev {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Deprecate flips meta.deprecated/meta.deprecated_at (spec.md §4.2
// "Deprecate / Restore. Flip meta.deprecated and
// meta.deprecated_at. Rejected on sentinels").
func Deprecate(ctx context.Context, st *store.Store, id string, now string) error {
	if types.IsSentinel(id) {
		return smerr.Newf(smerr.ErrSentinelProtected, "sentinel %q cannot be deprecated", id).WithField("genus_id", id)
	}
	_, err := Get(ctx, st, id)
	if err != nil {
		return err
	}
	_, err = st.AppendBatch(ctx, []store.PendingTessella{
		{ResID: id, Type: types.TypeGenusMetaSet, Data: map[string]any{"key": "deprecated", "value": true}},
		{ResID: id, Type: types.TypeGenusMetaSet, Data: map[string]any{"key": "deprecated_at", "value": now}},
	}, store.AppendOpts{})
	return err
}

// Restore un-deprecates a genus, forbidden if its owning taxonomy is
// archived (spec.md §4.2 "restore forbidden if the owning taxonomy is
// archived").
func Restore(ctx context.Context, st *store.Store, id string) error {
	g, err := Get(ctx, st, id)
	if err != nil {
		return err
	}
	restorable, err := canRestore(ctx, st, g)
	if err != nil {
		return err
	}
	if !restorable {
		return smerr.Newf(smerr.ErrArchivedTaxonomy, "genus %q's taxonomy is archived", id).WithField("genus_id", id)
	}
	_, err = st.AppendBatch(ctx, []store.PendingTessella{
		{ResID: id, Type: types.TypeGenusMetaSet, Data: map[string]any{"key": "deprecated", "value": false}},
		{ResID: id, Type: types.TypeGenusMetaSet, Data: map[string]any{"key": "deprecated_at", "value": nil}},
	}, store.AppendOpts{})
	return err
}

func canRestore(ctx context.Context, st *store.Store, g Genus) (bool, error) {
	taxID, _ := g.Meta["taxonomy_id"].(string)
	if taxID == "" {
		return true, nil
	}
	tax, err := Get(ctx, st, taxID)
	if err != nil {
		return false, err
	}
	archived, _ := tax.Meta["archived"].(bool)
	return !archived, nil
}
