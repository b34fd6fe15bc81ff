package entity

import (
	"context"
	"strings"

	"github.com/farant/smaragda/internal/genus"
	"github.com/farant/smaragda/internal/smerr"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

// CreateRelationshipOpts binds initial members by role at creation
// time (spec.md §4.3 "createRelationship validates that every
// one/one_or_more role has at least one member...").
type CreateRelationshipOpts struct {
	Branch      string
	WorkspaceID *string
	Members     map[string][]string // role -> entity ids
}

// CreateRelationship validates role cardinality/membership and
// creates the relationship res plus member_added tessellae, upserting
// the relationship_member index in step (spec.md §4.3).
func CreateRelationship(ctx context.Context, st *store.Store, genusID string, opts CreateRelationshipOpts) (string, error) {
	g, err := genus.Get(ctx, st, genusID)
	if err != nil {
		return "", err
	}
	if g.Deprecated {
		return "", smerr.Newf(smerr.ErrDeprecatedGenus, "genus %q is deprecated", genusID).WithField("genus_id", genusID)
	}

	for role, members := range opts.Members {
		roleDef, ok := g.Roles[role]
		if !ok {
			return "", smerr.Newf(smerr.ErrUnknownRole, "unknown role %q", role).WithField("role", role)
		}
		if err := checkCardinality(roleDef, len(members)); err != nil {
			return "", err
		}
		for _, m := range members {
			if err := checkMemberGenus(ctx, st, roleDef, m); err != nil {
				return "", err
			}
		}
	}
	for name, roleDef := range g.Roles {
		if requiresAtLeastOne(roleDef) && len(opts.Members[name]) == 0 {
			return "", smerr.Newf(smerr.ErrMissingRequiredRole, "role %q requires at least one member", name).WithField("role", name)
		}
	}

	branch := opts.Branch
	if branch == "" {
		branch = types.MainBranch
	}

	id, err := st.CreateRes(ctx, genusID, branch, opts.WorkspaceID)
	if err != nil {
		return "", err
	}

	items := []store.PendingTessella{{ResID: id, Type: types.TypeCreated, Data: map[string]any{}}}
	for role, members := range opts.Members {
		for _, m := range members {
			items = append(items, store.PendingTessella{ResID: id, Type: types.TypeMemberAdded, Data: map[string]any{"role": role, "entity_id": m}})
		}
	}
	if _, err := st.AppendBatch(ctx, items, store.AppendOpts{Branch: branch}); err != nil {
		return "", err
	}
	for role, members := range opts.Members {
		for _, m := range members {
			if err := st.UpsertRelationshipMember(ctx, id, role, m); err != nil {
				return "", err
			}
		}
	}

	return id, nil
}

func requiresAtLeastOne(r genus.Role) bool {
	return r.Cardinality == "one" || r.Cardinality == "one_or_more"
}

func checkCardinality(r genus.Role, count int) error {
	switch r.Cardinality {
	case "one":
		if count > 1 {
			return smerr.Newf(smerr.ErrRoleCardinalityViolation, "role %q allows at most one member", r.Name).WithField("role", r.Name)
		}
	case "one_or_more", "zero_or_more":
		// no upper bound
	}
	return nil
}

func checkMemberGenus(ctx context.Context, st *store.Store, r genus.Role, entityID string) error {
	if len(r.ValidMemberGenera) == 0 {
		return nil
	}
	member, err := st.GetRes(ctx, entityID)
	if err != nil {
		return err
	}
	memberGenus, err := genus.Get(ctx, st, member.GenusID)
	if err != nil {
		return err
	}
	for _, allowed := range r.ValidMemberGenera {
		if strings.EqualFold(allowed, memberGenus.Name) {
			return nil
		}
	}
	return smerr.Newf(smerr.ErrMemberGenusMismatch, "entity %q (genus %q) is not a valid member of role %q", entityID, memberGenus.Name, r.Name).
		WithField("role", r.Name).WithField("entity_id", entityID)
}

// AddMember appends member_added and upserts the index, enforcing
// cardinality against the role's current row count in the
// relationship_member index (spec.md §4.3
// "addMember/removeMember enforce cardinality").
func AddMember(ctx context.Context, st *store.Store, relationshipID, role, entityID string) error {
	r, err := st.GetRes(ctx, relationshipID)
	if err != nil {
		return err
	}
	g, err := genus.Get(ctx, st, r.GenusID)
	if err != nil {
		return err
	}
	roleDef, ok := g.Roles[role]
	if !ok {
		return smerr.Newf(smerr.ErrUnknownRole, "unknown role %q", role).WithField("role", role)
	}
	if err := checkMemberGenus(ctx, st, roleDef, entityID); err != nil {
		return err
	}

	current, err := st.MembersOfRelationship(ctx, relationshipID)
	if err != nil {
		return err
	}
	count := 0
	for _, m := range current {
		if m.Role == role {
			count++
		}
	}
	if roleDef.Cardinality == "one" && count >= 1 {
		return smerr.Newf(smerr.ErrRoleCardinalityViolation, "role %q allows at most one member", role).WithField("role", role)
	}

	if _, err := st.Append(ctx, relationshipID, types.TypeMemberAdded, map[string]any{"role": role, "entity_id": entityID}, store.AppendOpts{}); err != nil {
		return err
	}
	return st.UpsertRelationshipMember(ctx, relationshipID, role, entityID)
}

// RemoveMember appends member_removed and clears the corresponding
// index row.
func RemoveMember(ctx context.Context, st *store.Store, relationshipID, role, entityID string) error {
	if _, err := st.Append(ctx, relationshipID, types.TypeMemberRemoved, map[string]any{"role": role, "entity_id": entityID}, store.AppendOpts{}); err != nil {
		return err
	}
	return st.RemoveRelationshipMember(ctx, relationshipID, role, entityID)
}
