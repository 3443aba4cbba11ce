package testsupport

import (
	"context"
	"sync"
	"testing"
	"time"
)

// DefaultWait bounds every blocking helper in this package.
const DefaultWait = 2 * time.Second

// Fetcher is a fetch function whose calls stay pending until the test
// resolves them, in any order.
type Fetcher[T any] struct {
	mu          sync.Mutex
	calls       []*Call[T]
	inFlight    int
	maxInFlight int
	arrived     chan *Call[T]
}

// Call is one pending invocation of a Fetcher.
type Call[T any] struct {
	// N is the 1-based invocation number.
	N   int
	Ctx context.Context

	outcome chan outcome[T]
	once    sync.Once
}

type outcome[T any] struct {
	value T
	err   error
}

// NewFetcher returns a Fetcher with room for many unclaimed calls.
func NewFetcher[T any]() *Fetcher[T] {
	return &Fetcher[T]{arrived: make(chan *Call[T], 256)}
}

// Fetch blocks until the call is resolved or ctx is done.
func (f *Fetcher[T]) Fetch(ctx context.Context) (T, error) {
	call := &Call[T]{Ctx: ctx, outcome: make(chan outcome[T], 1)}

	f.mu.Lock()
	f.calls = append(f.calls, call)
	call.N = len(f.calls)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	f.arrived <- call

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	select {
	case o := <-call.outcome:
		return o.value, o.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Next waits for the next call that reached the fetcher.
func (f *Fetcher[T]) Next(t testing.TB) *Call[T] {
	t.Helper()
	select {
	case call := <-f.arrived:
		return call
	case <-time.After(DefaultWait):
		t.Fatalf("timed out waiting for fetch call")
		return nil
	}
}

// NoCall asserts that no call arrives within d.
func (f *Fetcher[T]) NoCall(t testing.TB, d time.Duration) {
	t.Helper()
	select {
	case call := <-f.arrived:
		t.Fatalf("unexpected fetch call #%d", call.N)
	case <-time.After(d):
	}
}

// Calls reports how many times Fetch was invoked.
func (f *Fetcher[T]) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// MaxInFlight reports the highest number of concurrently pending calls.
func (f *Fetcher[T]) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// Resolve completes the call with v.
func (c *Call[T]) Resolve(v T) {
	c.once.Do(func() { c.outcome <- outcome[T]{value: v} })
}

// Reject completes the call with err.
func (c *Call[T]) Reject(err error) {
	c.once.Do(func() { c.outcome <- outcome[T]{err: err} })
}

// Eventually polls cond until it holds or DefaultWait elapses.
func Eventually(t testing.TB, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(DefaultWait)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met: %s", msg)
}

// Receive waits for a signal on ch.
func Receive(t testing.TB, ch <-chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(DefaultWait):
		t.Fatalf("timed out waiting for signal: %s", msg)
	}
}
