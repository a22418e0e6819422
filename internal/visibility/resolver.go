// Package visibility decides which ledger rows a logged-in identity may
// see, and produces the working set the aggregation functions consume.
package visibility

import (
	"context"
	"log/slog"

	"kakeibo/internal/core"
	"kakeibo/internal/storage"
)

// ViewAsAll is the sentinel prepended to the administrator's view-as
// candidate list.
const ViewAsAll = "all"

// Ledger is the read side of the entry store needed by the resolver.
type Ledger interface {
	ListEntries(ctx context.Context, f storage.EntryFilter) ([]core.Entry, error)
}

// Options carries the per-request view switches.
type Options struct {
	ShowDeleted bool
	// ViewAs narrows the administrator's view to one owner. Ignored for
	// everyone else. Empty or ViewAsAll keeps all owners.
	ViewAs string
}

// Resolver scopes ledger reads by role. The administrator identity is an
// external configuration value injected once at startup, not a stored
// attribute.
type Resolver struct {
	ledger    Ledger
	adminUser string
}

func NewResolver(ledger Ledger, adminUser string) *Resolver {
	return &Resolver{ledger: ledger, adminUser: adminUser}
}

// IsAdmin reports whether identity has cross-user read visibility.
func (r *Resolver) IsAdmin(identity string) bool {
	return r.adminUser != "" && identity == r.adminUser
}

// Load fetches the working set for one request. The snapshot is freshly
// fetched each call; nothing is cached between interactions.
//
// An unreachable store degrades to an empty snapshot: callers render an
// empty-state message instead of failing the request.
func (r *Resolver) Load(ctx context.Context, identity string, opts Options) core.Snapshot {
	if identity == "" {
		return core.Snapshot{}
	}

	filter := storage.EntryFilter{Deleted: opts.ShowDeleted}
	if !r.IsAdmin(identity) {
		// Non-administrators only ever see their own rows, regardless
		// of any requested view-as filter.
		filter.Owner = identity
	}

	entries, err := r.ledger.ListEntries(ctx, filter)
	if err != nil {
		slog.ErrorContext(ctx, "Working set fetch failed, degrading to empty set",
			"identity", identity,
			"show_deleted", opts.ShowDeleted,
			"error", err)
		return core.Snapshot{}
	}

	snap := core.Snapshot{Entries: entries}
	if r.IsAdmin(identity) {
		// View-as candidates come from the owners present in the
		// unrestricted fetch, so the list only offers users who have
		// at least one entry.
		snap.Owners = append([]string{ViewAsAll}, core.DistinctOwners(entries)...)

		if opts.ViewAs != "" && opts.ViewAs != ViewAsAll {
			narrowed := make([]core.Entry, 0, len(entries))
			for _, e := range entries {
				if e.Owner == opts.ViewAs {
					narrowed = append(narrowed, e)
				}
			}
			snap.Entries = narrowed
		}
	}
	return snap
}
