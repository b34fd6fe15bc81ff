package branch

import (
	"context"

	"github.com/farant/smaragda/internal/reduce"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

// IndexRebuilder rebuilds one secondary index after a merge makes
// previously source-only tessellae visible on target (spec.md §4.6
// "Rebuild secondary indexes that may contain newly-visible entries").
// DESIGN.md Open Question decision 4: a narrow one-method interface so
// Merge can run an arbitrary registered set without knowing their
// concrete shapes.
type IndexRebuilder interface {
	Rebuild(ctx context.Context, st *store.Store) error
}

// RelationshipMemberRebuilder rebuilds relationship_member for every
// relationship res on main, replaying member_added/member_removed in
// order so removals (including any later re-adds) land correctly —
// this is the one index this module owns the row shape for.
type RelationshipMemberRebuilder struct{}

func (RelationshipMemberRebuilder) Rebuild(ctx context.Context, st *store.Store) error {
	relationshipIDs, err := st.ResIDsWithType(ctx, []string{types.TypeMemberAdded, types.TypeMemberRemoved})
	if err != nil {
		return err
	}

	for _, id := range relationshipIDs {
		state, err := st.Materialize(ctx, id, store.ReplayOpts{}, reduce.Default)
		if err != nil {
			return err
		}
		if err := st.ClearRelationshipMembers(ctx, id); err != nil {
			return err
		}
		members, _ := state["members"].(map[string][]string)
		for role, entities := range members {
			for _, entityID := range entities {
				if err := st.UpsertRelationshipMember(ctx, id, role, entityID); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// NoOpRebuilder stands in for indexes this module doesn't own the row
// shape for (palace_room/scroll/npc — palace is an out-of-scope
// external collaborator per spec.md §1). It exists so Merge's
// rebuilder list can name every index spec.md §4.6 mentions without
// this package inventing palace's schema.
type NoOpRebuilder struct{ Name string }

func (NoOpRebuilder) Rebuild(ctx context.Context, st *store.Store) error {
	return nil
}

// DefaultRebuilders returns the rebuilder set a kernel registers by
// default (spec.md §4.6 step 4's full index list).
func DefaultRebuilders() []IndexRebuilder {
	return []IndexRebuilder{
		RelationshipMemberRebuilder{},
		NoOpRebuilder{Name: "palace_room_index"},
		NoOpRebuilder{Name: "palace_scroll_index"},
		NoOpRebuilder{Name: "palace_npc_index"},
	}
}
