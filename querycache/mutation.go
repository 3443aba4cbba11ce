package querycache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/goliatone/go-query-cache/cache"
)

// MutationStatus is the lifecycle stage of a single mutation call.
type MutationStatus uint8

const (
	MutationIdle MutationStatus = iota
	MutationPending
	MutationSuccess
	MutationError
)

func (s MutationStatus) String() string {
	switch s {
	case MutationIdle:
		return "idle"
	case MutationPending:
		return "pending"
	case MutationSuccess:
		return "success"
	case MutationError:
		return "error"
	default:
		return "unknown"
	}
}

// MutationFunc performs one write against the source of truth.
type MutationFunc[In, Out any] func(ctx context.Context, in In) (Out, error)

// OptimisticUpdate describes a cache write applied before the mutation
// runs. Apply receives the cached data and whether there was any.
type OptimisticUpdate struct {
	Key   cache.Key
	Apply func(old any, ok bool) any
}

// Optimistically builds a typed OptimisticUpdate.
func Optimistically[T any](key cache.Key, fn func(old T, ok bool) T) OptimisticUpdate {
	return OptimisticUpdate{
		Key: key,
		Apply: func(old any, ok bool) any {
			var v T
			if ok {
				v, ok = old.(T)
			}
			return fn(v, ok)
		},
	}
}

// MutationOptions configure what a mutation does to the cache.
type MutationOptions[In, Out any] struct {
	// Invalidates lists the key prefixes a successful write affects. They
	// are invalidated after the success callbacks ran.
	Invalidates func(in In, out Out) []cache.Key

	// Optimistic lists cache writes applied before the request is sent.
	// In-flight fetches of those keys are canceled first so a late
	// response cannot overwrite the optimistic value.
	Optimistic func(in In) []OptimisticUpdate

	// KeepOptimisticOnError leaves optimistic writes in place when the
	// mutation fails. By default they are rolled back.
	KeepOptimisticOnError bool

	OnSuccess func(ctx context.Context, in In, out Out)
	OnError   func(ctx context.Context, in In, err error)
	OnSettled func(ctx context.Context, in In, out Out, err error)
}

// Callbacks are per-call hooks. They run after the mutation-level ones.
type Callbacks[Out any] struct {
	OnSuccess func(out Out)
	OnError   func(err error)
	OnSettled func(out Out, err error)
}

// MutationCall is one invocation of a mutation.
type MutationCall[Out any] struct {
	ID        uuid.UUID
	StartedAt time.Time

	mu     sync.Mutex
	status MutationStatus
	out    Out
	err    error
	done   chan struct{}
}

// Status reports the call's current stage.
func (c *MutationCall[Out]) Status() MutationStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Done is closed once the write settled and every callback and
// invalidation has run.
func (c *MutationCall[Out]) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until Done and returns the outcome.
func (c *MutationCall[Out]) Wait(ctx context.Context) (Out, error) {
	select {
	case <-c.done:
	case <-ctx.Done():
		var zero Out
		return zero, ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out, c.err
}

func (c *MutationCall[Out]) settle(status MutationStatus, out Out, err error) {
	c.mu.Lock()
	c.status, c.out, c.err = status, out, err
	c.mu.Unlock()
}

// Mutation wraps one write operation bound to a store.
type Mutation[In, Out any] struct {
	store *Store
	fn    MutationFunc[In, Out]
	opts  MutationOptions[In, Out]

	mu      sync.Mutex
	pending int
	last    *MutationCall[Out]
}

// NewMutation binds fn to s.
func NewMutation[In, Out any](s *Store, fn MutationFunc[In, Out], opts MutationOptions[In, Out]) *Mutation[In, Out] {
	return &Mutation[In, Out]{store: s, fn: fn, opts: opts}
}

// Mutate starts the write and returns immediately. Optimistic updates are
// visible in the cache by the time Mutate returns. fn runs exactly once;
// writes are never retried.
func (m *Mutation[In, Out]) Mutate(ctx context.Context, in In, cbs ...Callbacks[Out]) *MutationCall[Out] {
	call := &MutationCall[Out]{
		ID:        uuid.New(),
		StartedAt: m.store.now(),
		status:    MutationPending,
		done:      make(chan struct{}),
	}

	m.mu.Lock()
	m.pending++
	m.last = call
	m.mu.Unlock()

	snaps := m.applyOptimistic(in)
	go m.execute(ctx, call, in, snaps, cbs)
	return call
}

// Exec runs the write and waits for it to settle.
func (m *Mutation[In, Out]) Exec(ctx context.Context, in In, cbs ...Callbacks[Out]) (Out, error) {
	return m.Mutate(ctx, in, cbs...).Wait(ctx)
}

// IsPending reports whether any call of this mutation is still running.
func (m *Mutation[In, Out]) IsPending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending > 0
}

// Last returns the most recent call, or nil.
func (m *Mutation[In, Out]) Last() *MutationCall[Out] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Reset forgets the most recent call. Running calls are not affected.
func (m *Mutation[In, Out]) Reset() {
	m.mu.Lock()
	m.last = nil
	m.mu.Unlock()
}

func (m *Mutation[In, Out]) execute(ctx context.Context, call *MutationCall[Out], in In, snaps []optimisticSnapshot, cbs []Callbacks[Out]) {
	defer func() {
		m.mu.Lock()
		m.pending--
		m.mu.Unlock()
		close(call.done)
	}()

	out, err := m.fn(ctx, in)
	if err != nil {
		if !m.opts.KeepOptimisticOnError {
			m.rollback(snaps)
		}
		call.settle(MutationError, out, err)
		m.store.logger.Debug("mutation failed", "id", call.ID, "err", err)

		if m.opts.OnError != nil {
			m.opts.OnError(ctx, in, err)
		}
		for _, cb := range cbs {
			if cb.OnError != nil {
				cb.OnError(err)
			}
		}
		m.settled(ctx, in, out, err, cbs)
		return
	}

	call.settle(MutationSuccess, out, nil)
	m.store.logger.Debug("mutation succeeded", "id", call.ID)

	if m.opts.OnSuccess != nil {
		m.opts.OnSuccess(ctx, in, out)
	}
	for _, cb := range cbs {
		if cb.OnSuccess != nil {
			cb.OnSuccess(out)
		}
	}
	if m.opts.Invalidates != nil {
		for _, prefix := range m.opts.Invalidates(in, out) {
			m.store.Invalidate(prefix)
		}
	}
	m.settled(ctx, in, out, nil, cbs)
}

func (m *Mutation[In, Out]) settled(ctx context.Context, in In, out Out, err error, cbs []Callbacks[Out]) {
	if m.opts.OnSettled != nil {
		m.opts.OnSettled(ctx, in, out, err)
	}
	for _, cb := range cbs {
		if cb.OnSettled != nil {
			cb.OnSettled(out, err)
		}
	}
}

type optimisticSnapshot struct {
	key     cache.Key
	prev    *State
	version uint64
}

func (m *Mutation[In, Out]) applyOptimistic(in In) []optimisticSnapshot {
	if m.opts.Optimistic == nil {
		return nil
	}
	var snaps []optimisticSnapshot
	for _, u := range m.opts.Optimistic(in) {
		var prev *State
		wrote, _ := m.store.update(u.Key, func(p *State) (any, bool) {
			prev = p
			var old any
			ok := p != nil && p.HasData
			if ok {
				old = p.Data
			}
			return u.Apply(old, ok), true
		}, true)
		snaps = append(snaps, optimisticSnapshot{key: u.Key, prev: prev, version: wrote.DataVersion})
	}
	return snaps
}

func (m *Mutation[In, Out]) rollback(snaps []optimisticSnapshot) {
	for i := len(snaps) - 1; i >= 0; i-- {
		snap := snaps[i]
		if !m.store.restore(snap.key, snap.prev, snap.version) {
			m.store.logger.Debug("optimistic write superseded, not rolled back", "key", cache.Hash(cache.MustSerialize(snap.key)))
		}
	}
}

// restore puts prev back on key when the entry still holds the write that
// produced version. A later write wins over the rollback.
func (s *Store) restore(k cache.Key, prev *State, version uint64) bool {
	_, hash := s.keyOf(k)

	s.mu.Lock()
	e, ok := s.lookup(hash)
	if !ok {
		s.mu.Unlock()
		return false
	}
	cur := e.state.Load()
	if cur.DataVersion != version {
		s.mu.Unlock()
		return false
	}

	base := prev
	if base == nil {
		base = emptyState
	}
	next := base.clone()
	next.DataVersion = version + 1
	next.IsFetching = e.call != nil
	switch {
	case next.IsFetching && !next.HasData:
		next.Status = StatusLoading
	case !next.IsFetching:
		next.Status = settledStatus(next)
	}
	e.hasFingerprint = false
	notify := s.publish(e, next)
	s.mu.Unlock()

	run(notify)
	return true
}
