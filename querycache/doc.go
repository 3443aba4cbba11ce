// Package querycache is an in-process cache of remote query results with
// subscriber notification, prefix invalidation and mutations.
//
// # Overview
//
// A Store maps query keys (see package cache) to entries. Every entry holds
// an immutable State snapshot: the last fetched data, a status and the
// bookkeeping needed to decide staleness. Snapshots are replaced wholly on
// every change, so comparing pointers or DataVersion is enough to detect
// one.
//
// Entries with observers or a fetch in flight live in a lock-free active
// table. The rest are demoted to an idle tier that evicts them once the GC
// window elapses or capacity runs out.
//
// # Basic Usage
//
//	store, err := querycache.New(querycache.DefaultConfig(), querycache.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	defer store.Close()
//
//	q := querycache.Query[[]Student]{
//		Key:   cache.ListKey{Entity: "students", Filters: filters},
//		Fetch: func(ctx context.Context) ([]Student, error) { return client.List(ctx, filters) },
//	}
//
//	obs := querycache.Observe(store, q)
//	defer obs.Close()
//	for range obs.Changes() {
//		render(obs.Result())
//	}
//
// # Fetch Attempts
//
// At most one attempt is in flight per exact key; concurrent EnsureFetch
// calls and observers join it. Every attempt is numbered per key and only
// the newest one may write the entry. Invalidating an observed entry starts
// a new attempt right away, superseding the running one, whose response is
// discarded when it arrives. Waiters of a superseded attempt follow its
// successor.
//
// Failed reads are retried with exponential backoff. A failure that
// exhausts the retries sets Status to StatusError but keeps the last good
// data around.
//
// # Mutations
//
// Mutation wraps a write. The write function runs exactly once per call.
// On success the mutation runs its callbacks and then invalidates the
// prefixes returned by Invalidates. Optimistic updates are applied before
// the write is sent and rolled back on failure unless the mutation opts
// out; a rollback never overwrites a newer write.
package querycache
