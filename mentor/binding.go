package mentor

import (
	"context"

	"github.com/goliatone/go-query-cache/api"
	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/querycache"
)

// Binding ties one REST resource to the store: its cache keys, its read
// queries and its write mutations together with the invalidation each write
// implies.
type Binding[T any] struct {
	Entity string

	store *querycache.Store
	res   api.Resource[T]
	opts  []querycache.QueryOption
}

// NewBinding binds T to /<entity>. An empty entity derives the name from T.
func NewBinding[T any](s *querycache.Store, c *api.Client, entity string, opts ...querycache.QueryOption) *Binding[T] {
	if entity == "" {
		entity = EntityName[T]()
	}
	return &Binding[T]{
		Entity: entity,
		store:  s,
		res:    api.NewResource[T](c, entity),
		opts:   opts,
	}
}

// Store returns the store the binding reads from and writes to.
func (b *Binding[T]) Store() *querycache.Store {
	return b.store
}

// Resource returns the underlying REST client.
func (b *Binding[T]) Resource() api.Resource[T] {
	return b.res
}

// All covers every entry of the entity.
func (b *Binding[T]) All() cache.Key {
	return cache.EntityKey{Entity: b.Entity}
}

// Lists covers every list of the entity, whatever the filters.
func (b *Binding[T]) Lists() cache.Key {
	return cache.Lists(b.Entity)
}

func (b *Binding[T]) List(filters any) cache.Key {
	return cache.ListKey{Entity: b.Entity, Filters: filters}
}

func (b *Binding[T]) Details() cache.Key {
	return cache.Details(b.Entity)
}

func (b *Binding[T]) Detail(id int64) cache.Key {
	return cache.DetailKey{Entity: b.Entity, ID: id}
}

// Relation addresses a nested collection such as a class's students.
func (b *Binding[T]) Relation(id int64, relation string, filters any) cache.Key {
	return cache.RelationKey{Entity: b.Entity, ID: id, Relation: relation, Filters: filters}
}

// Relations covers a nested collection under every filter combination.
func (b *Binding[T]) Relations(id int64, relation string) cache.Key {
	return cache.Path(b.Entity, string(cache.ScopeDetail), id, relation)
}

// ListQuery reads the collection filtered by filters.
func (b *Binding[T]) ListQuery(filters any) querycache.Query[[]T] {
	return querycache.Query[[]T]{
		Key: b.List(filters),
		Fetch: func(ctx context.Context) ([]T, error) {
			return b.res.List(ctx, filters)
		},
		Options: b.opts,
	}
}

// DetailQuery reads one record.
func (b *Binding[T]) DetailQuery(id int64) querycache.Query[T] {
	return querycache.Query[T]{
		Key: b.Detail(id),
		Fetch: func(ctx context.Context) (T, error) {
			return b.res.Get(ctx, id)
		},
		Options: b.opts,
	}
}

// RelationQuery reads the collection nested under record id of b.
func RelationQuery[R, T any](b *Binding[T], id int64, relation string, filters any) querycache.Query[[]R] {
	return querycache.Query[[]R]{
		Key: b.Relation(id, relation, filters),
		Fetch: func(ctx context.Context) ([]R, error) {
			return api.ListRelated[R](ctx, b.res, id, relation, filters)
		},
		Options: b.opts,
	}
}

func (b *Binding[T]) ObserveList(filters any) *querycache.Observer[[]T] {
	return querycache.Observe(b.store, b.ListQuery(filters))
}

func (b *Binding[T]) ObserveDetail(id int64) *querycache.Observer[T] {
	return querycache.Observe(b.store, b.DetailQuery(id))
}

// FetchList returns the cached list, fetching it when missing or stale.
func (b *Binding[T]) FetchList(ctx context.Context, filters any) ([]T, error) {
	return querycache.FetchQuery(ctx, b.store, b.ListQuery(filters))
}

// FetchDetail returns the cached record, fetching it when missing or stale.
func (b *Binding[T]) FetchDetail(ctx context.Context, id int64) (T, error) {
	return querycache.FetchQuery(ctx, b.store, b.DetailQuery(id))
}

// UpdateInput is a partial update of record ID.
type UpdateInput struct {
	ID     int64
	Fields any
}

// Create posts a new record. On success the record is written into its
// detail entry and every list is invalidated.
func (b *Binding[T]) Create() *querycache.Mutation[any, T] {
	return querycache.NewMutation(b.store,
		func(ctx context.Context, body any) (T, error) {
			return b.res.Create(ctx, body)
		},
		querycache.MutationOptions[any, T]{
			OnSuccess: func(_ context.Context, _ any, out T) { b.prime(out) },
			Invalidates: func(any, T) []cache.Key {
				return []cache.Key{b.Lists()}
			},
		})
}

// Update patches a record. The response replaces the detail entry and every
// list is invalidated.
func (b *Binding[T]) Update() *querycache.Mutation[UpdateInput, T] {
	return querycache.NewMutation(b.store,
		func(ctx context.Context, in UpdateInput) (T, error) {
			return b.res.Update(ctx, in.ID, in.Fields)
		},
		querycache.MutationOptions[UpdateInput, T]{
			OnSuccess: func(_ context.Context, in UpdateInput, out T) { b.primeID(in.ID, out) },
			Invalidates: func(UpdateInput, T) []cache.Key {
				return []cache.Key{b.Lists()}
			},
		})
}

// Delete removes a record and invalidates every list and the record's
// detail entry.
func (b *Binding[T]) Delete() *querycache.Mutation[int64, struct{}] {
	return querycache.NewMutation(b.store,
		func(ctx context.Context, id int64) (struct{}, error) {
			return struct{}{}, b.res.Delete(ctx, id)
		},
		querycache.MutationOptions[int64, struct{}]{
			Invalidates: func(id int64, _ struct{}) []cache.Key {
				return []cache.Key{b.Lists(), b.Detail(id)}
			},
		})
}

// Action posts to /<entity>/<id>/<name> and treats the response as the
// updated record.
func (b *Binding[T]) Action(name string) *querycache.Mutation[int64, T] {
	return querycache.NewMutation(b.store,
		func(ctx context.Context, id int64) (T, error) {
			var out T
			err := b.res.Action(ctx, id, name, nil, &out)
			return out, err
		},
		querycache.MutationOptions[int64, T]{
			OnSuccess: func(_ context.Context, id int64, out T) { b.primeID(id, out) },
			Invalidates: func(int64, T) []cache.Key {
				return []cache.Key{b.Lists()}
			},
		})
}

func (b *Binding[T]) prime(record T) {
	if id, ok := extractID(record); ok {
		querycache.SetData(b.store, b.Detail(id), record)
	}
}

// primeID writes record into the detail entry of id. Responses without a
// record body only mark the entry stale.
func (b *Binding[T]) primeID(id int64, record T) {
	if _, ok := extractID(record); !ok {
		b.store.Invalidate(b.Detail(id))
		return
	}
	querycache.SetData(b.store, b.Detail(id), record)
}

// Publishable is a resource with a publish action.
type Publishable[T any] struct {
	*Binding[T]
}

func (p Publishable[T]) Publish() *querycache.Mutation[int64, T] {
	return p.Action("publish")
}

func (p Publishable[T]) Unpublish() *querycache.Mutation[int64, T] {
	return p.Action("unpublish")
}

// Blockable is an account resource that can be blocked.
type Blockable[T any] struct {
	*Binding[T]
}

func (b Blockable[T]) Block() *querycache.Mutation[int64, T] {
	return b.Action("block")
}

func (b Blockable[T]) Unblock() *querycache.Mutation[int64, T] {
	return b.Action("unblock")
}
