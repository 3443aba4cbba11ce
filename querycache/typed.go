package querycache

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/goliatone/go-query-cache/cache"
)

// ErrInvalidResultType is returned when cached data does not hold the type
// the caller asked for. It usually means two call sites share a key but
// fetch different shapes.
var ErrInvalidResultType = errors.New("querycache: cached data has unexpected type")

// Query binds a key to a typed fetch function.
type Query[T any] struct {
	Key     cache.Key
	Fetch   func(ctx context.Context) (T, error)
	Options []QueryOption
}

func (q Query[T]) fetchFunc() FetchFunc {
	if q.Fetch == nil {
		return nil
	}
	return func(ctx context.Context) (any, error) {
		v, err := q.Fetch(ctx)
		if err != nil {
			return nil, err
		}
		return v, nil
	}
}

func (q Query[T]) prefetch(ctx context.Context, s *Store) error {
	_, err := s.Fetch(ctx, q.Key, q.fetchFunc(), q.Options...)
	return err
}

// Prefetcher is implemented by Query.
type Prefetcher interface {
	prefetch(ctx context.Context, s *Store) error
}

// Prefetch warms several queries concurrently and returns the first error.
// Queries that are already fresh are not refetched.
func (s *Store) Prefetch(ctx context.Context, queries ...Prefetcher) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, q := range queries {
		g.Go(func() error {
			return q.prefetch(ctx, s)
		})
	}
	return g.Wait()
}

// FetchQuery returns the data for q, fetching it when missing or stale.
func FetchQuery[T any](ctx context.Context, s *Store, q Query[T]) (T, error) {
	state, err := s.Fetch(ctx, q.Key, q.fetchFunc(), q.Options...)
	if err != nil {
		var zero T
		return zero, err
	}
	return dataAs[T](state)
}

// GetData returns the cached data for key without fetching. ok is false when
// there is no data or it has a different type.
func GetData[T any](s *Store, key cache.Key) (T, bool) {
	state, ok := s.Read(key)
	if !ok || !state.HasData {
		var zero T
		return zero, false
	}
	v, err := dataAs[T](state)
	return v, err == nil
}

// SetData writes v as the authoritative data for key.
func SetData[T any](s *Store, key cache.Key, v T) *State {
	return s.SetData(key, v)
}

// UpdateData replaces the data for key with fn(old). fn receives the zero
// value and false when nothing of type T is cached.
func UpdateData[T any](s *Store, key cache.Key, fn func(old T, ok bool) T) *State {
	state, _ := s.UpdateData(key, func(prev *State) (any, bool) {
		var (
			old T
			ok  bool
		)
		if prev != nil && prev.HasData {
			v, err := dataAs[T](prev)
			old, ok = v, err == nil
		}
		return fn(old, ok), true
	})
	return state
}

// Patch rewrites the cached data for key only when data of type T is
// present. It reports whether a write happened.
func Patch[T any](s *Store, key cache.Key, fn func(old T) T) bool {
	_, ok := s.UpdateData(key, func(prev *State) (any, bool) {
		if prev == nil || !prev.HasData {
			return nil, false
		}
		old, err := dataAs[T](prev)
		if err != nil {
			return nil, false
		}
		return fn(old), true
	})
	return ok
}

func dataAs[T any](state *State) (T, error) {
	var zero T
	if state == nil || state.Data == nil {
		return zero, nil
	}
	v, ok := state.Data.(T)
	if !ok {
		return zero, fmt.Errorf("%w: have %T, want %T", ErrInvalidResultType, state.Data, zero)
	}
	return v, nil
}
