package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/internal/cacheinfra"
	"github.com/goliatone/go-query-cache/internal/logging"
)

var (
	// ErrStoreClosed is returned by fetches issued after Close.
	ErrStoreClosed = errors.New("querycache: store is closed")
	// ErrCanceled settles waiters of an attempt dropped by Remove or Clear.
	ErrCanceled = errors.New("querycache: fetch canceled")
)

// Logger is the logging surface used by the store.
type Logger = logging.Logger

// Option customizes a Store.
type Option func(*Store)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock replaces time.Now, mostly for staleness tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithRetryPolicy decides which read failures are retried.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Store) {
		if p != nil {
			s.shouldRetry = p
		}
	}
}

// WithKeySerializer replaces the default key serializer.
func WithKeySerializer(ks cache.KeySerializer) Option {
	return func(s *Store) {
		if ks != nil {
			s.serializer = ks
		}
	}
}

// Stats is a point-in-time summary of the store.
type Stats struct {
	Active   int
	Idle     int
	InFlight int
}

// Store maps query keys to cache entries. Entries that are observed or have
// a fetch in flight live in the active table; the rest are retained in the
// idle tier until the GC window elapses.
//
// A Store is safe for concurrent use. All writes to an entry go through
// EnsureFetch, SetData, UpdateData, Invalidate, Cancel and Remove.
type Store struct {
	cfg Config

	mu     sync.Mutex
	active *xsync.MapOf[string, *entry]
	idle   *cacheinfra.IdleTier[*entry]

	serializer  cache.KeySerializer
	logger      Logger
	now         func() time.Time
	shouldRetry RetryPolicy

	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	nextListener uint64
}

// New builds a Store. Construct one per application instance and pass it
// explicitly to whoever needs it.
func New(cfg Config, opts ...Option) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	idle, err := cacheinfra.NewIdleTier[*entry](cfg.toIdle())
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		cfg:         cfg,
		active:      xsync.NewMapOf[string, *entry](),
		idle:        idle,
		serializer:  cache.NewDefaultKeySerializer(),
		logger:      logging.NewNopLogger(),
		now:         time.Now,
		shouldRetry: DefaultRetryPolicy,
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "querycache")
	return s, nil
}

// Config returns the configuration the store was built with.
func (s *Store) Config() Config {
	return s.cfg
}

// Handle lets callers await the fetch attempt they joined.
type Handle struct {
	store *Store
	call  *fetchCall
}

// Wait blocks until the attempt settles. When the attempt is superseded the
// wait follows the attempt that replaced it, so every waiter observes the
// newest result.
func (h *Handle) Wait(ctx context.Context) (*State, error) {
	call := h.call
	for {
		select {
		case <-call.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		h.store.mu.Lock()
		next, result, err := call.next, call.result, call.err
		h.store.mu.Unlock()

		if next == nil {
			return result, err
		}
		call = next
	}
}

// Read returns the current snapshot for key without triggering a fetch.
func (s *Store) Read(k cache.Key) (*State, bool) {
	_, hash := s.keyOf(k)
	if e, ok := s.active.Load(hash); ok {
		return e.state.Load(), true
	}
	if e, ok := s.idle.Get(hash); ok {
		return e.state.Load(), true
	}
	return nil, false
}

// EnsureFetch starts a fetch for key when its entry is missing or stale and
// no fetch is already in flight. The returned handle is shared by every
// caller that joined the same attempt.
func (s *Store) EnsureFetch(k cache.Key, fn FetchFunc, opts ...QueryOption) *Handle {
	o := s.resolveOptions(opts)
	segs, hash := s.keyOf(k)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &Handle{store: s, call: settledCall(emptyState, ErrStoreClosed)}
	}
	e := s.lookupOrCreate(k, segs, hash, false)
	call, notify := s.ensureLocked(e, fn, o)
	s.mu.Unlock()

	run(notify)
	return &Handle{store: s, call: call}
}

// Fetch is EnsureFetch followed by Wait.
func (s *Store) Fetch(ctx context.Context, k cache.Key, fn FetchFunc, opts ...QueryOption) (*State, error) {
	return s.EnsureFetch(k, fn, opts...).Wait(ctx)
}

// Invalidate marks every entry under prefix as stale and returns how many
// entries matched. Observed entries and entries with a fetch in flight
// refetch right away; the new attempt supersedes the old one, whose
// response predates the invalidation and is discarded. Other entries
// refetch on their next subscription.
func (s *Store) Invalidate(prefix cache.Key) int {
	segs, _ := s.keyOf(prefix)

	s.mu.Lock()
	matched := s.matchLocked(segs)
	var notify []func()
	for _, e := range matched {
		next := e.state.Load().clone()
		next.IsInvalidated = true
		notify = append(notify, s.publish(e, next)...)

		if (e.hasEnabledListener() || e.call != nil) && e.fetchFn != nil && !s.closed {
			_, started := s.startLocked(e, "invalidate")
			notify = append(notify, started...)
		}
	}
	s.mu.Unlock()

	run(notify)
	s.logger.Debug("invalidated", "prefix", cache.Hash(segs), "matched", len(matched))
	return len(matched)
}

// SetData writes value as the entry's authoritative data, creating the
// entry when needed. A fetch in flight for the key is superseded and its
// response discarded.
func (s *Store) SetData(k cache.Key, value any) *State {
	segs, hash := s.keyOf(k)

	s.mu.Lock()
	e := s.lookupOrCreate(k, segs, hash, false)
	next, notify := s.writeLocked(e, value, false)
	s.mu.Unlock()

	run(notify)
	return next
}

// UpdateData derives the entry's new data from its current snapshot. prev
// is nil when the entry does not exist. Returning ok=false leaves the entry
// untouched. fn runs under the store lock and must not call the store.
func (s *Store) UpdateData(k cache.Key, fn func(prev *State) (value any, ok bool)) (*State, bool) {
	return s.update(k, fn, false)
}

// update is UpdateData. With abort set, a fetch in flight is also canceled
// at the transport; its waiters still receive the written state.
func (s *Store) update(k cache.Key, fn func(prev *State) (value any, ok bool), abort bool) (*State, bool) {
	segs, hash := s.keyOf(k)

	s.mu.Lock()
	e, found := s.lookup(hash)
	var prev *State
	if found {
		prev = e.state.Load()
	}
	value, ok := fn(prev)
	if !ok {
		s.mu.Unlock()
		return prev, false
	}
	if !found {
		e = s.lookupOrCreate(k, segs, hash, false)
	}
	next, notify := s.writeLocked(e, value, abort)
	s.mu.Unlock()

	run(notify)
	return next, true
}

// Cancel abandons fetches in flight under prefix and returns how many were
// canceled. The entries go back to their last settled status and waiters
// resolve with that state.
func (s *Store) Cancel(prefix cache.Key) int {
	segs, _ := s.keyOf(prefix)

	s.mu.Lock()
	var notify []func()
	canceled := 0
	for _, e := range s.matchLocked(segs) {
		if e.call == nil {
			continue
		}
		notify = append(notify, s.abortLocked(e, nil)...)
		s.demoteIfUnused(e)
		canceled++
	}
	s.mu.Unlock()

	run(notify)
	return canceled
}

// Remove evicts unobserved entries under prefix and returns how many were
// evicted. Observed entries are kept.
func (s *Store) Remove(prefix cache.Key) int {
	segs, _ := s.keyOf(prefix)

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, e := range s.matchLocked(segs) {
		if len(e.listeners) > 0 {
			continue
		}
		s.evictLocked(e)
		removed++
	}
	return removed
}

// Clear drops every unobserved entry and resets observed ones to an empty
// state. Use it to isolate tests that share a store.
func (s *Store) Clear() {
	s.mu.Lock()
	var notify []func()
	for _, e := range s.matchLocked(nil) {
		if len(e.listeners) == 0 {
			s.evictLocked(e)
			continue
		}
		if e.call != nil {
			s.abortLocked(e, ErrCanceled)
		}
		e.hasFingerprint = false
		notify = append(notify, s.publish(e, emptyState)...)
	}
	s.mu.Unlock()

	run(notify)
}

// Close cancels the context of every fetch in flight and rejects new ones.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.cancel()
	s.idle.Clear()
	return nil
}

// Stats reports the number of active, idle and in-flight entries.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Active: s.active.Size(), Idle: s.idle.Len()}
	s.active.Range(func(_ string, e *entry) bool {
		if e.call != nil {
			st.InFlight++
		}
		return true
	})
	return st
}

func (s *Store) keyOf(k cache.Key) ([]string, string) {
	segs, err := s.serializer.SerializeKey(k)
	if err != nil {
		panic(fmt.Sprintf("querycache: invalid query key %#v: %v", k, err))
	}
	return segs, cache.Hash(segs)
}

// The methods below must be called with s.mu held.

func (s *Store) lookup(hash string) (*entry, bool) {
	if e, ok := s.active.Load(hash); ok {
		return e, true
	}
	if e, ok := s.idle.Get(hash); ok {
		return e, true
	}
	return nil, false
}

func (s *Store) lookupOrCreate(k cache.Key, segs []string, hash string, activate bool) *entry {
	if e, ok := s.lookup(hash); ok {
		if activate {
			s.promote(e)
		}
		return e
	}
	e := newEntry(k, segs, hash)
	if activate {
		e.active = true
		s.active.Store(hash, e)
	} else {
		s.idle.Set(hash, e)
	}
	return e
}

// promote moves e into the active table. The store happens before the idle
// delete so lock-free readers always find the entry.
func (s *Store) promote(e *entry) {
	if e.active {
		return
	}
	s.active.Store(e.hash, e)
	s.idle.Delete(e.hash)
	e.active = true
}

func (s *Store) demoteIfUnused(e *entry) {
	if !e.active || len(e.listeners) > 0 || e.call != nil {
		return
	}
	s.idle.Set(e.hash, e)
	s.active.Delete(e.hash)
	e.active = false
}

func (s *Store) evictLocked(e *entry) {
	if e.call != nil {
		s.abortLocked(e, ErrCanceled)
	}
	s.active.Delete(e.hash)
	s.idle.Delete(e.hash)
	e.active = false
}

func (s *Store) matchLocked(prefix []string) []*entry {
	var out []*entry
	seen := make(map[*entry]struct{})
	collect := func(_ string, e *entry) bool {
		if _, dup := seen[e]; dup {
			return true
		}
		if cache.HasPrefix(e.segs, prefix) {
			seen[e] = struct{}{}
			out = append(out, e)
		}
		return true
	}
	s.active.Range(collect)
	s.idle.Scan(collect)
	return out
}

func (s *Store) publish(e *entry, next *State) []func() {
	e.state.Store(next)
	return e.notifyFuncs()
}

func (s *Store) ensureLocked(e *entry, fn FetchFunc, o fetchOptions) (*fetchCall, []func()) {
	if fn != nil {
		e.fetchFn = fn
	}
	if e.call != nil {
		return e.call, nil
	}
	e.opts = o

	st := e.state.Load()
	if e.fetchFn == nil || !o.enabled || !st.IsStale(s.now(), o.staleTime) {
		return settledCall(st, nil), nil
	}
	return s.startLocked(e, "ensure")
}

// startLocked issues a new attempt for e. A previous attempt still in
// flight is settled with a pointer to the new one and its response will be
// discarded on arrival.
func (s *Store) startLocked(e *entry, reason string) (*fetchCall, []func()) {
	e.seq++
	call := newFetchCall(e.seq)
	ctx, cancel := context.WithCancel(s.ctx)
	call.cancel = cancel

	if prev := e.call; prev != nil {
		prev.settle(e.state.Load(), nil, call)
	}
	e.call = call
	s.promote(e)

	next := e.state.Load().clone()
	next.IsFetching = true
	if !next.HasData {
		next.Status = StatusLoading
		next.Err = nil
	}
	notify := s.publish(e, next)

	info := FetchInfo{Key: e.key, Segments: e.segs, Seq: call.seq}
	go s.run(ctx, e, call, e.fetchFn, e.opts, info)

	s.logger.Debug("fetch started", "key", e.hash, "seq", call.seq, "reason", reason)
	return call, notify
}

// abortLocked cancels e's attempt and settles its waiters with the entry's
// settled state and err.
func (s *Store) abortLocked(e *entry, err error) []func() {
	call := e.call
	e.seq++
	call.cancel()

	next := e.state.Load().clone()
	next.IsFetching = false
	next.Status = settledStatus(next)
	notify := s.publish(e, next)

	call.settle(next, err, nil)
	e.call = nil
	return notify
}

func (s *Store) writeLocked(e *entry, value any, abort bool) (*State, []func()) {
	now := s.now()
	prev := e.state.Load()
	next := prev.clone()
	next.Data = value
	next.HasData = true
	next.Status = StatusSuccess
	next.Err = nil
	next.UpdatedAt = now
	next.IsFetching = false
	next.IsInvalidated = false
	next.FailureCount = 0
	next.DataVersion = prev.DataVersion + 1
	e.hasFingerprint = false

	notify := s.publish(e, next)

	if call := e.call; call != nil {
		e.seq++
		if abort {
			call.cancel()
		}
		call.settle(next, nil, nil)
		e.call = nil
	}

	if e.active {
		s.demoteIfUnused(e)
	} else {
		// restart the GC window
		s.idle.Set(e.hash, e)
	}
	return next, notify
}

// Fetch execution. These methods acquire s.mu themselves.

func (s *Store) run(ctx context.Context, e *entry, call *fetchCall, fn FetchFunc, o fetchOptions, info FetchInfo) {
	defer call.cancel()

	failures := 0
	for {
		info.Attempt = failures
		data, err := fn(withFetchInfo(ctx, info))
		if err == nil {
			s.complete(e, call, data)
			return
		}

		failures++
		if failures > o.retry || ctx.Err() != nil || !s.shouldRetry(failures, err) {
			s.fail(e, call, err, failures)
			return
		}
		if !s.recordFailure(e, call, failures) {
			return
		}

		delay := backoff(failures, o.retryBase, o.retryMax)
		s.logger.Debug("retrying fetch", "key", e.hash, "seq", call.seq, "failures", failures, "delay", delay, "err", err)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-call.done:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			s.fail(e, call, ctx.Err(), failures)
			return
		}
	}
}

func (s *Store) superseded(e *entry, call *fetchCall) bool {
	return call.settled || e.seq != call.seq
}

func (s *Store) complete(e *entry, call *fetchCall, data any) {
	var (
		fp   uint64
		fpOK bool
	)
	if s.cfg.StructuralSharing {
		fp, fpOK = fingerprint(data)
	}

	s.mu.Lock()
	if s.superseded(e, call) {
		s.mu.Unlock()
		s.logger.Debug("discarding superseded response", "key", e.hash, "seq", call.seq)
		return
	}

	prev := e.state.Load()
	next := prev.clone()
	if fpOK && prev.HasData && e.hasFingerprint && e.fingerprint == fp {
		next.Data = prev.Data
	} else {
		next.Data = data
		next.DataVersion = prev.DataVersion + 1
	}
	e.fingerprint, e.hasFingerprint = fp, fpOK

	next.HasData = true
	next.Status = StatusSuccess
	next.Err = nil
	next.UpdatedAt = s.now()
	next.IsFetching = false
	next.IsInvalidated = false
	next.FailureCount = 0

	notify := s.publish(e, next)
	call.settle(next, nil, nil)
	e.call = nil
	s.demoteIfUnused(e)
	s.mu.Unlock()

	run(notify)
}

func (s *Store) fail(e *entry, call *fetchCall, err error, failures int) {
	s.mu.Lock()
	if s.superseded(e, call) {
		s.mu.Unlock()
		s.logger.Debug("discarding superseded failure", "key", e.hash, "seq", call.seq, "err", err)
		return
	}

	next := e.state.Load().clone()
	next.Status = StatusError
	next.Err = err
	next.ErrorUpdatedAt = s.now()
	next.IsFetching = false
	next.FailureCount = failures

	notify := s.publish(e, next)
	call.settle(next, err, nil)
	e.call = nil
	s.demoteIfUnused(e)
	s.mu.Unlock()

	run(notify)
	s.logger.Warn("fetch failed", "key", e.hash, "seq", call.seq, "failures", failures, "err", err)
}

func (s *Store) recordFailure(e *entry, call *fetchCall, failures int) bool {
	s.mu.Lock()
	if s.superseded(e, call) {
		s.mu.Unlock()
		return false
	}
	next := e.state.Load().clone()
	next.FailureCount = failures
	notify := s.publish(e, next)
	s.mu.Unlock()

	run(notify)
	return true
}

// Subscriptions, used by observers.

func (s *Store) subscribe(k cache.Key, fn FetchFunc, o fetchOptions, notify func()) (*entry, uint64) {
	segs, hash := s.keyOf(k)

	s.mu.Lock()
	e := s.lookupOrCreate(k, segs, hash, true)
	s.nextListener++
	id := s.nextListener
	e.listeners[id] = &listener{id: id, enabled: o.enabled, notify: notify}

	var started []func()
	if fn != nil {
		e.fetchFn = fn
	}
	if o.enabled && !s.closed {
		_, started = s.ensureLocked(e, fn, o)
	}
	s.mu.Unlock()

	run(started)
	return e, id
}

func (s *Store) unsubscribe(e *entry, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(e.listeners, id)
	s.demoteIfUnused(e)
}

func (s *Store) setListenerEnabled(e *entry, id uint64, enabled bool, o fetchOptions) {
	s.mu.Lock()
	l, ok := e.listeners[id]
	if !ok {
		s.mu.Unlock()
		return
	}
	l.enabled = enabled

	var started []func()
	if enabled && !s.closed {
		_, started = s.ensureLocked(e, nil, o)
	}
	s.mu.Unlock()

	run(started)
}

// refetch forces a new attempt for an observed entry.
func (s *Store) refetch(e *entry) *Handle {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &Handle{store: s, call: settledCall(e.state.Load(), ErrStoreClosed)}
	}
	if e.fetchFn == nil {
		st := e.state.Load()
		s.mu.Unlock()
		return &Handle{store: s, call: settledCall(st, nil)}
	}
	call, notify := s.startLocked(e, "refetch")
	s.mu.Unlock()

	run(notify)
	return &Handle{store: s, call: call}
}

// current returns the handle of the attempt in flight for e, or a settled
// one carrying the current state.
func (s *Store) current(e *entry) *Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.call != nil {
		return &Handle{store: s, call: e.call}
	}
	return &Handle{store: s, call: settledCall(e.state.Load(), nil)}
}

func run(notify []func()) {
	for _, fn := range notify {
		fn()
	}
}
