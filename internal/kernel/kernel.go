// Package kernel wires the tessella store together with the two
// pieces of state spec.md describes as living outside the log itself:
// "a kernel holds a currentBranch field" (spec.md §4.6) and "a kernel
// has a currentWorkspace field" (spec.md §4.7). Both are per-kernel
// mutable fields whose mutations must be serialized with store
// mutations (spec.md §5), so Kernel guards them with the same mutex
// that would otherwise need to live at each call site.
package kernel

import (
	"context"
	"sync"

	"github.com/farant/smaragda/internal/branch"
	"github.com/farant/smaragda/internal/entity"
	"github.com/farant/smaragda/internal/kernelconfig"
	"github.com/farant/smaragda/internal/store"
	"github.com/farant/smaragda/internal/types"
	"github.com/farant/smaragda/internal/workspace"
)

// Kernel is a single-writer handle combining a Store with the
// currentBranch/currentWorkspace fields spec.md attributes to "the
// kernel" rather than to the store itself.
type Kernel struct {
	St *store.Store

	mu        sync.Mutex
	branch    string
	workspace string
}

// Init opens (or creates) the store at cfg.StorePath and returns a
// Kernel seeded with cfg's default branch/workspace. store.Open's own
// bootstrap already seeds the sentinel genera idempotently (spec.md §6
// "detect by existence of META res"), so running Init twice against
// the same store path is a no-op beyond reopening the connection
// (spec.md §8 "initKernel run twice on the same store is a no-op").
func Init(ctx context.Context, cfg kernelconfig.Config) (*Kernel, error) {
	st, err := store.Open(ctx, cfg.StorePath)
	if err != nil {
		return nil, err
	}

	branchName := cfg.DefaultBranch
	if branchName == "" {
		branchName = types.MainBranch
	}

	return &Kernel{St: st, branch: branchName, workspace: cfg.DefaultWorkspace}, nil
}

// Close releases the underlying store handle.
func (k *Kernel) Close() error {
	return k.St.Close()
}

// CurrentBranch returns the kernel's active branch.
func (k *Kernel) CurrentBranch() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.branch
}

// CurrentWorkspace returns the kernel's active workspace id, "" meaning
// global.
func (k *Kernel) CurrentWorkspace() string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.workspace
}

// SwitchBranch validates name via branch.Switch and, if it succeeds,
// updates currentBranch under the same lock so no mutation can
// interleave between the check and the field update.
func (k *Kernel) SwitchBranch(ctx context.Context, name string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := branch.Switch(ctx, k.St, name); err != nil {
		return err
	}
	k.branch = name
	return nil
}

// SetWorkspace updates currentWorkspace. An empty id means global.
func (k *Kernel) SetWorkspace(id string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.workspace = id
}

// CreateEntity creates a new entity on the kernel's current branch,
// stamping currentWorkspace onto it when opts doesn't specify one
// (spec.md §4.7 "createEntity stamps it").
func (k *Kernel) CreateEntity(ctx context.Context, genusID string, opts entity.CreateOpts) (string, error) {
	k.mu.Lock()
	if opts.Branch == "" {
		opts.Branch = k.branch
	}
	if opts.WorkspaceID == nil && k.workspace != "" {
		ws := k.workspace
		opts.WorkspaceID = &ws
	}
	k.mu.Unlock()
	return entity.Create(ctx, k.St, genusID, opts)
}

// ListEntities lists res in scope, defaulting opts.Workspace to the
// kernel's currentWorkspace when the caller didn't ask for a specific
// workspace or for all of them (spec.md §4.7 "listEntities defaults to
// (workspace_id IS NULL OR workspace_id = currentWorkspace)").
func (k *Kernel) ListEntities(ctx context.Context, opts workspace.ListOpts) ([]string, error) {
	if opts.Workspace == "" && !opts.AllWorkspaces {
		opts.Workspace = k.CurrentWorkspace()
	}
	return workspace.List(ctx, k.St, opts)
}
