package querycache

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/pkg/testsupport"
)

func TestMutation_SuccessRunsCallbacksThenInvalidates(t *testing.T) {
	s := newTestStore(t, testConfig())
	f := testsupport.NewFetcher[string]()

	obs := Observe(s, Query[string]{Key: studentsList, Fetch: f.Fetch})
	defer obs.Close()
	f.Next(t).Resolve("before")
	if _, err := obs.Await(waitCtx(t)); err != nil {
		t.Fatalf("Await() failed: %v", err)
	}

	var (
		mu     sync.Mutex
		events []string
	)
	record := func(event string) {
		mu.Lock()
		events = append(events, event)
		mu.Unlock()
	}
	fetching := func() bool {
		st, _ := s.Read(studentsList)
		return st.IsFetching
	}

	m := NewMutation(s, func(_ context.Context, name string) (int, error) {
		record("write " + name)
		return 8, nil
	}, MutationOptions[string, int]{
		Invalidates: func(string, int) []cache.Key {
			return []cache.Key{cache.Lists("students")}
		},
		OnSuccess: func(_ context.Context, _ string, out int) {
			if fetching() {
				record("invalidated too early")
			}
			record("hook success")
		},
		OnSettled: func(_ context.Context, _ string, _ int, err error) {
			if !fetching() {
				record("not invalidated")
			}
			record("hook settled")
		},
	})

	out, err := m.Exec(waitCtx(t), "Ada", Callbacks[int]{
		OnSuccess: func(out int) { record("call success") },
		OnSettled: func(int, error) { record("call settled") },
	})
	if err != nil || out != 8 {
		t.Fatalf("Exec() = %d, %v", out, err)
	}

	want := []string{"write Ada", "hook success", "call success", "hook settled", "call settled"}
	mu.Lock()
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("event order mismatch (-want +got):\n%s", diff)
	}
	mu.Unlock()

	f.Next(t).Resolve("after")
	res, err := obs.Await(waitCtx(t))
	if err != nil || res.Data != "after" {
		t.Errorf("expected observed list to refetch, got %+v (%v)", res, err)
	}
}

func TestMutation_ErrorIsNotRetried(t *testing.T) {
	cfg := testConfig()
	cfg.Retry = 3
	s := newTestStore(t, cfg)

	var calls atomic.Int32
	boom := errors.New("conflict")
	var gotErr error
	m := NewMutation(s, func(context.Context, int) (string, error) {
		calls.Add(1)
		return "", boom
	}, MutationOptions[int, string]{
		Invalidates: func(int, string) []cache.Key {
			t.Error("invalidation must not run on failure")
			return nil
		},
		OnError: func(_ context.Context, _ int, err error) { gotErr = err },
	})

	call := m.Mutate(waitCtx(t), 7)
	if _, err := call.Wait(waitCtx(t)); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("expected exactly one write, got %d", calls.Load())
	}
	if !errors.Is(gotErr, boom) {
		t.Errorf("expected OnError to receive boom, got %v", gotErr)
	}
	if call.Status() != MutationError {
		t.Errorf("expected error status, got %v", call.Status())
	}
}

func TestMutation_StateMachine(t *testing.T) {
	s := newTestStore(t, testConfig())
	release := make(chan struct{})

	m := NewMutation(s, func(ctx context.Context, in string) (string, error) {
		<-release
		return in + "!", nil
	}, MutationOptions[string, string]{})

	if m.IsPending() || m.Last() != nil {
		t.Fatal("expected fresh mutation to be idle")
	}

	first := m.Mutate(waitCtx(t), "a")
	second := m.Mutate(waitCtx(t), "b")
	if first.ID == second.ID {
		t.Error("expected distinct call IDs")
	}
	if first.Status() != MutationPending || !m.IsPending() {
		t.Errorf("expected pending, got %v", first.Status())
	}
	if m.Last() != second {
		t.Error("expected Last to be the most recent call")
	}

	close(release)
	out, err := first.Wait(waitCtx(t))
	if err != nil || out != "a!" {
		t.Fatalf("Wait() = %q, %v", out, err)
	}
	<-second.Done()

	if first.Status() != MutationSuccess || second.Status() != MutationSuccess {
		t.Errorf("expected both calls to succeed, got %v and %v", first.Status(), second.Status())
	}
	if m.IsPending() {
		t.Error("expected nothing pending")
	}

	m.Reset()
	if m.Last() != nil {
		t.Error("expected Reset to forget the last call")
	}
}

func TestMutation_OptimisticRollback(t *testing.T) {
	key := cache.RelationKey{Entity: "chat_threads", ID: 1, Relation: "messages"}

	tests := []struct {
		name      string
		keep      bool
		interpose []string
		want      []string
	}{
		{name: "rolled back", want: []string{"hi"}},
		{name: "kept on request", keep: true, want: []string{"hi", "pending"}},
		{name: "newer write wins", interpose: []string{"server"}, want: []string{"server"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t, testConfig())
			s.SetData(key, []string{"hi"})

			release := make(chan struct{})
			m := NewMutation(s, func(context.Context, string) (struct{}, error) {
				<-release
				return struct{}{}, errors.New("send failed")
			}, MutationOptions[string, struct{}]{
				Optimistic: func(text string) []OptimisticUpdate {
					return []OptimisticUpdate{
						Optimistically(key, func(old []string, _ bool) []string {
							return append(slices.Clone(old), text)
						}),
					}
				},
				KeepOptimisticOnError: tt.keep,
			})

			call := m.Mutate(waitCtx(t), "pending")
			if got, _ := GetData[[]string](s, key); !slices.Equal(got, []string{"hi", "pending"}) {
				t.Fatalf("expected optimistic value right after Mutate, got %v", got)
			}
			if tt.interpose != nil {
				s.SetData(key, tt.interpose)
			}

			close(release)
			if _, err := call.Wait(waitCtx(t)); err == nil {
				t.Fatal("expected mutation error")
			}

			got, _ := GetData[[]string](s, key)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("cache mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMutation_OptimisticCancelsInFlightFetch(t *testing.T) {
	logger := newRecordingLogger()
	s := newTestStore(t, testConfig(), WithLogger(logger))
	f := testsupport.NewFetcher[[]string]()
	key := cache.DetailKey{Entity: "homeworks", ID: 4}

	s.EnsureFetch(key, fetchOf(f))
	pending := f.Next(t)

	m := NewMutation(s, func(context.Context, string) (string, error) {
		return "ok", nil
	}, MutationOptions[string, string]{
		Optimistic: func(in string) []OptimisticUpdate {
			return []OptimisticUpdate{
				Optimistically(key, func(_ []string, _ bool) []string { return []string{in} }),
			}
		},
	})

	if _, err := m.Exec(waitCtx(t), "assigned"); err != nil {
		t.Fatalf("Exec() failed: %v", err)
	}
	if pending.Ctx.Err() == nil {
		t.Error("expected in-flight fetch to be canceled")
	}

	pending.Resolve([]string{"stale"})
	time.Sleep(10 * time.Millisecond)

	got, _ := GetData[[]string](s, key)
	if !slices.Equal(got, []string{"assigned"}) {
		t.Errorf("expected optimistic value to survive, got %v", got)
	}
}

func TestMutation_OptimisticSettlesPendingReaders(t *testing.T) {
	s := newTestStore(t, testConfig())
	f := testsupport.NewFetcher[[]string]()
	key := cache.RelationKey{Entity: "chat_threads", ID: 1, Relation: "messages"}
	ctx := waitCtx(t)

	type read struct {
		v   []string
		err error
	}
	done := make(chan read, 1)
	go func() {
		v, err := FetchQuery(ctx, s, Query[[]string]{Key: key, Fetch: f.Fetch})
		done <- read{v, err}
	}()
	pending := f.Next(t)

	m := NewMutation(s, func(context.Context, string) (string, error) {
		return "sent", nil
	}, MutationOptions[string, string]{
		Optimistic: func(in string) []OptimisticUpdate {
			return []OptimisticUpdate{
				Optimistically(key, func(old []string, _ bool) []string {
					return append(slices.Clone(old), in)
				}),
			}
		},
	})
	if _, err := m.Exec(ctx, "hello"); err != nil {
		t.Fatalf("Exec() failed: %v", err)
	}

	select {
	case got := <-done:
		if got.err != nil || !slices.Equal(got.v, []string{"hello"}) {
			t.Errorf("expected reader to get the optimistic data, got %v (%v)", got.v, got.err)
		}
	case <-ctx.Done():
		t.Fatal("reader still blocked after optimistic write")
	}
	if pending.Ctx.Err() == nil {
		t.Error("expected in-flight fetch to be canceled")
	}
}
