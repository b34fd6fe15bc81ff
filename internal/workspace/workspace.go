// Package workspace implements workspace scoping and search (spec.md
// §4.7): every res carries an optional workspace_id, NULL meaning
// global/visible-everywhere; a Workspace itself is a schema-free
// entity under SentinelWorkspace, the same journal-entity pattern
// internal/action uses for Log/Error/Task.
package workspace

import (
	"context"
	"strings"

	"github.com/farant/smaragda/internal/genus"
	"github.com/farant/smaragda/internal/reduce"
	"github.com/farant/smaragda/internal/smerr"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
)

// Create registers a new workspace as a schema-free entity res.
func Create(ctx context.Context, st *store.Store, name string) (string, error) {
	id, err := st.CreateRes(ctx, types.SentinelWorkspace, types.MainBranch, nil)
	if err != nil {
		return "", err
	}
	if _, err := st.Append(ctx, id, types.TypeCreated, map[string]any{}, store.AppendOpts{}); err != nil {
		return "", err
	}
	if _, err := st.Append(ctx, id, types.TypeAttributeSet, map[string]any{"key": "name", "value": name}, store.AppendOpts{}); err != nil {
		return "", err
	}
	if _, err := st.Append(ctx, id, types.TypeStatusChanged, map[string]any{"target": "active"}, store.AppendOpts{}); err != nil {
		return "", err
	}
	return id, nil
}

// ListOpts scopes List.
type ListOpts struct {
	GenusID       string
	Workspace     string
	AllWorkspaces bool
}

// List returns res ids in scope (spec.md §4.7 "listEntities defaults
// to (workspace_id IS NULL OR workspace_id = currentWorkspace) --
// NULL means global").
func List(ctx context.Context, st *store.Store, opts ListOpts) ([]string, error) {
	return st.ListRes(ctx, store.ResFilter{
		GenusID:       opts.GenusID,
		Workspace:     opts.Workspace,
		AllWorkspaces: opts.AllWorkspaces,
	})
}

// Assign moves a single res into workspaceID (empty string clears it
// back to global).
func Assign(ctx context.Context, st *store.Store, resID, workspaceID string) error {
	return st.SetResWorkspace(ctx, resID, workspaceID)
}

// AssignByGenus bulk-moves every res of genusID (spec.md §4.7
// "assignWorkspaceByGenus").
func AssignByGenus(ctx context.Context, st *store.Store, genusID, workspaceID string) error {
	return st.SetWorkspaceByGenus(ctx, genusID, workspaceID)
}

// AssignByTaxonomy bulk-moves every res belonging to a genus tagged
// with taxonomyID (spec.md §4.7 "assignWorkspaceByTaxonomy"). Taxonomy
// membership lives on the genus's own meta.taxonomy_id, not on res
// directly, so this resolves the owning genera first.
func AssignByTaxonomy(ctx context.Context, st *store.Store, taxonomyID, workspaceID string) error {
	genusIDs, err := st.ResIDsByGenus(ctx, types.SentinelMeta)
	if err != nil {
		return err
	}
	for _, gid := range genusIDs {
		g, err := genus.Get(ctx, st, gid)
		if err != nil {
			continue
		}
		tid, _ := g.Meta["taxonomy_id"].(string)
		if tid != taxonomyID {
			continue
		}
		if err := st.SetWorkspaceByGenus(ctx, gid, workspaceID); err != nil {
			return err
		}
	}
	return nil
}

// Merge reassigns every res in src to tgt then deletes src (spec.md
// §4.7 "mergeWorkspaces(src, tgt) reassigns and deletes src").
func Merge(ctx context.Context, st *store.Store, src, tgt string) error {
	if err := st.ReassignWorkspace(ctx, src, tgt); err != nil {
		return err
	}
	return Delete(ctx, st, src)
}

// Delete marks a workspace deleted, rejecting non-empty ones (spec.md
// §4.7 "deleteWorkspace rejects non-empty workspaces").
func Delete(ctx context.Context, st *store.Store, workspaceID string) error {
	n, err := st.CountResInWorkspace(ctx, workspaceID)
	if err != nil {
		return err
	}
	if n > 0 {
		return smerr.Newf(smerr.ErrWorkspaceNotEmpty, "workspace %q still has %d res assigned", workspaceID, n).
			WithField("workspace_id", workspaceID).WithField("count", n)
	}
	_, err = st.Append(ctx, workspaceID, types.TypeStatusChanged, map[string]any{"target": "deleted"}, store.AppendOpts{})
	return err
}

// SearchOpts scopes Search.
type SearchOpts struct {
	GenusID       string
	Workspace     string
	AllWorkspaces bool
	Limit         int
}

// Hit is one search result: the res id and which string-typed
// attributes matched.
type Hit struct {
	ResID             string
	MatchedAttributes []string
}

// Search scans every res in scope and matches query as a
// case-insensitive substring against string-typed declared attribute
// values only -- not status, features, or members (spec.md §4.7
// "searchEntities... matches query only against string-typed
// attributes, returns hits with matched_attributes").
func Search(ctx context.Context, st *store.Store, query string, opts SearchOpts) ([]Hit, error) {
	ids, err := st.ListRes(ctx, store.ResFilter{
		GenusID:       opts.GenusID,
		Workspace:     opts.Workspace,
		AllWorkspaces: opts.AllWorkspaces,
	})
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	genusCache := map[string]genus.Genus{}

	var hits []Hit
	for _, id := range ids {
		r, err := st.GetRes(ctx, id)
		if err != nil {
			return nil, err
		}
		g, ok := genusCache[r.GenusID]
		if !ok {
			g, err = genus.Get(ctx, st, r.GenusID)
			if err != nil {
				continue
			}
			genusCache[r.GenusID] = g
		}

		state, err := st.Materialize(ctx, id, store.ReplayOpts{}, reduce.Default)
		if err != nil {
			return nil, err
		}

		var matched []string
		for key, attr := range g.Attributes {
			if attr.Type != "text" {
				continue
			}
			s, ok := state[key].(string)
			if !ok {
				continue
			}
			if strings.Contains(strings.ToLower(s), needle) {
				matched = append(matched, key)
			}
		}
		if len(matched) > 0 {
			hits = append(hits, Hit{ResID: id, MatchedAttributes: matched})
			if opts.Limit > 0 && len(hits) >= opts.Limit {
				break
			}
		}
	}
	return hits, nil
}
