package querycache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Result is the view of a cache entry an observer exposes.
type Result[T any] struct {
	Data    T
	HasData bool
	Status  Status

	// IsLoading is true while the first fetch runs and there is no data.
	IsLoading bool
	// IsFetching is true while any fetch runs, including background ones.
	IsFetching bool
	IsError    bool
	IsSuccess  bool
	IsStale    bool

	Err          error
	UpdatedAt    time.Time
	FailureCount int
	DataVersion  uint64
}

// signature holds the comparable parts of a Result. A new signature means
// the observer has something new to show.
type signature struct {
	entry          *entry
	status         Status
	hasData        bool
	isFetching     bool
	isInvalidated  bool
	updatedAt      time.Time
	errorUpdatedAt time.Time
	failureCount   int
	dataVersion    uint64
}

// Observer keeps one subscription to the store and reports changes of its
// entry. It plays the part of a mounted component: create it on mount,
// Close it on unmount.
type Observer[T any] struct {
	store *Store

	mu    sync.Mutex
	query Query[T]
	opts  fetchOptions
	id    uint64

	cur atomic.Pointer[entry]

	sigMu   sync.Mutex
	last    signature
	closed  bool
	changes chan struct{}
}

// Observe subscribes to q.Key and starts a fetch when the entry is missing
// or stale and the query is enabled.
func Observe[T any](s *Store, q Query[T]) *Observer[T] {
	o := &Observer[T]{
		store:   s,
		changes: make(chan struct{}, 1),
	}
	o.mu.Lock()
	o.attach(q)
	o.mu.Unlock()
	o.resetSignature()
	return o
}

// attach must be called with o.mu held.
func (o *Observer[T]) attach(q Query[T]) {
	o.query = q
	o.opts = o.store.resolveOptions(q.Options)
	e, id := o.store.subscribe(q.Key, q.fetchFunc(), o.opts, o.signal)
	o.id = id
	o.cur.Store(e)
}

// Changes delivers a signal whenever Result changes. Signals coalesce: a
// slow reader sees one pending signal, never a backlog. The channel is
// closed by Close.
func (o *Observer[T]) Changes() <-chan struct{} {
	return o.changes
}

// Result derives the current view from the entry.
func (o *Observer[T]) Result() Result[T] {
	o.mu.Lock()
	staleTime := o.opts.staleTime
	o.mu.Unlock()

	state := o.cur.Load().state.Load()
	return o.resultOf(state, staleTime)
}

func (o *Observer[T]) resultOf(state *State, staleTime time.Duration) Result[T] {
	r := Result[T]{
		HasData:      state.HasData,
		Status:       state.Status,
		IsLoading:    state.Status == StatusLoading,
		IsFetching:   state.IsFetching,
		IsError:      state.Status == StatusError,
		IsSuccess:    state.Status == StatusSuccess,
		IsStale:      state.IsStale(o.store.now(), staleTime),
		Err:          state.Err,
		UpdatedAt:    state.UpdatedAt,
		FailureCount: state.FailureCount,
		DataVersion:  state.DataVersion,
	}
	data, err := dataAs[T](state)
	if err != nil {
		r.HasData = false
		r.IsError = true
		r.IsSuccess = false
		r.Err = err
		return r
	}
	r.Data = data
	return r
}

// SetKey moves the observer to another query, as a component does when its
// parameters change. The old entry is released to the store.
func (o *Observer[T]) SetKey(q Query[T]) {
	o.mu.Lock()
	if o.isClosed() {
		o.mu.Unlock()
		return
	}
	old, oldID := o.cur.Load(), o.id
	o.attach(q)
	o.store.unsubscribe(old, oldID)
	o.mu.Unlock()

	o.signal()
}

// SetEnabled toggles fetching. Enabling a query whose entry is missing or
// stale starts a fetch.
func (o *Observer[T]) SetEnabled(enabled bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.isClosed() {
		return
	}
	o.opts.enabled = enabled
	o.store.setListenerEnabled(o.cur.Load(), o.id, enabled, o.opts)
}

// Refetch starts a new attempt even when the data is fresh and waits for
// it to settle.
func (o *Observer[T]) Refetch(ctx context.Context) (Result[T], error) {
	h := o.store.refetch(o.cur.Load())
	if _, err := h.Wait(ctx); err != nil {
		return o.Result(), err
	}
	return o.Result(), nil
}

// Await waits for the fetch in flight, if any, and returns the settled
// result. The error is the fetch error, or ctx's.
func (o *Observer[T]) Await(ctx context.Context) (Result[T], error) {
	h := o.store.current(o.cur.Load())
	if _, err := h.Wait(ctx); err != nil {
		return o.Result(), err
	}
	return o.Result(), nil
}

// Close releases the subscription. The entry stays cached for the GC
// window.
func (o *Observer[T]) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.sigMu.Lock()
	if o.closed {
		o.sigMu.Unlock()
		return
	}
	o.closed = true
	close(o.changes)
	o.sigMu.Unlock()

	o.store.unsubscribe(o.cur.Load(), o.id)
}

func (o *Observer[T]) isClosed() bool {
	o.sigMu.Lock()
	defer o.sigMu.Unlock()
	return o.closed
}

func (o *Observer[T]) resetSignature() {
	sig := signatureOf(o.cur.Load())
	o.sigMu.Lock()
	o.last = sig
	o.sigMu.Unlock()
}

// signal is the store listener. It runs outside the store lock.
func (o *Observer[T]) signal() {
	e := o.cur.Load()
	if e == nil {
		return
	}
	sig := signatureOf(e)

	o.sigMu.Lock()
	defer o.sigMu.Unlock()
	if o.closed || sig == o.last {
		return
	}
	o.last = sig
	select {
	case o.changes <- struct{}{}:
	default:
	}
}

func signatureOf(e *entry) signature {
	st := e.state.Load()
	return signature{
		entry:          e,
		status:         st.Status,
		hasData:        st.HasData,
		isFetching:     st.IsFetching,
		isInvalidated:  st.IsInvalidated,
		updatedAt:      st.UpdatedAt,
		errorUpdatedAt: st.ErrorUpdatedAt,
		failureCount:   st.FailureCount,
		dataVersion:    st.DataVersion,
	}
}
