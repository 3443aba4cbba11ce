package querycache

import (
	"context"
	"sync/atomic"

	"github.com/goliatone/go-query-cache/cache"
)

// FetchFunc loads the value for one key from the source of truth.
type FetchFunc func(ctx context.Context) (any, error)

// entry is owned by the Store. The state pointer may be read without locks;
// every other field is guarded by Store.mu.
type entry struct {
	key  cache.Key
	segs []string
	hash string

	state atomic.Pointer[State]

	// seq is the number of the most recently issued attempt. Only that
	// attempt may write state.
	seq  uint64
	call *fetchCall

	fetchFn   FetchFunc
	opts      fetchOptions
	listeners map[uint64]*listener

	fingerprint    uint64
	hasFingerprint bool

	// active is true while the entry lives in the active table.
	active bool
}

type listener struct {
	id      uint64
	enabled bool
	notify  func()
}

func newEntry(key cache.Key, segs []string, hash string) *entry {
	e := &entry{
		key:       key,
		segs:      segs,
		hash:      hash,
		listeners: make(map[uint64]*listener),
	}
	e.state.Store(emptyState)
	return e
}

func (e *entry) hasEnabledListener() bool {
	for _, l := range e.listeners {
		if l.enabled {
			return true
		}
	}
	return false
}

func (e *entry) notifyFuncs() []func() {
	if len(e.listeners) == 0 {
		return nil
	}
	out := make([]func(), 0, len(e.listeners))
	for _, l := range e.listeners {
		out = append(out, l.notify)
	}
	return out
}

// fetchCall is one fetch attempt, retries included. Waiters block on done;
// a superseded call is settled early and points at its successor, if any.
type fetchCall struct {
	seq    uint64
	done   chan struct{}
	cancel context.CancelFunc

	settled bool
	next    *fetchCall
	result  *State
	err     error
}

func newFetchCall(seq uint64) *fetchCall {
	return &fetchCall{seq: seq, done: make(chan struct{})}
}

func settledCall(state *State, err error) *fetchCall {
	c := &fetchCall{done: make(chan struct{}), settled: true, result: state, err: err}
	close(c.done)
	return c
}

// settle must be called with Store.mu held.
func (c *fetchCall) settle(state *State, err error, next *fetchCall) {
	if c.settled {
		return
	}
	c.settled = true
	c.result = state
	c.err = err
	c.next = next
	close(c.done)
}
