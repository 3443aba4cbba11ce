package querycache

import (
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/pkg/testsupport"
)

type student struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func TestObserve_LoadingThenData(t *testing.T) {
	s := newTestStore(t, testConfig())
	f := testsupport.NewFetcher[[]student]()

	obs := Observe(s, Query[[]student]{Key: studentsList, Fetch: f.Fetch})
	defer obs.Close()

	res := obs.Result()
	if !res.IsLoading || res.HasData || res.Data != nil {
		t.Fatalf("expected loading without data, got %+v", res)
	}

	f.Next(t).Resolve([]student{{ID: 1, Name: "Ada"}})
	testsupport.Receive(t, obs.Changes(), "result after fetch")

	testsupport.Eventually(t, func() bool { return !obs.Result().IsFetching }, "fetch settled")
	res = obs.Result()
	if res.IsLoading || !res.IsSuccess || len(res.Data) != 1 || res.Data[0].Name != "Ada" {
		t.Errorf("expected loaded students, got %+v", res)
	}
}

func TestObserve_SubscribersShareOneFetch(t *testing.T) {
	s := newTestStore(t, testConfig())
	f := testsupport.NewFetcher[[]student]()
	key := cache.ListKey{Entity: "students", Filters: map[string]any{"grade": 5}}

	observers := make([]*Observer[[]student], 5)
	var wg sync.WaitGroup
	for i := range observers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			observers[i] = Observe(s, Query[[]student]{Key: key, Fetch: f.Fetch})
		}()
	}
	wg.Wait()
	defer func() {
		for _, o := range observers {
			o.Close()
		}
	}()

	f.Next(t).Resolve([]student{{ID: 3}})
	f.NoCall(t, 20*time.Millisecond)

	for i, o := range observers {
		res, err := o.Await(waitCtx(t))
		if err != nil {
			t.Fatalf("observer %d: Await() failed: %v", i, err)
		}
		if len(res.Data) != 1 || &res.Data[0] != &observers[0].Result().Data[0] {
			t.Errorf("observer %d: expected the shared data reference", i)
		}
	}
	if f.MaxInFlight() != 1 {
		t.Errorf("expected at most one call in flight, got %d", f.MaxInFlight())
	}
}

func TestObserve_Disabled(t *testing.T) {
	s := newTestStore(t, testConfig())
	f := testsupport.NewFetcher[string]()

	obs := Observe(s, Query[string]{Key: studentsList, Fetch: f.Fetch, Options: []QueryOption{Enabled(false)}})
	defer obs.Close()

	f.NoCall(t, 20*time.Millisecond)
	if res := obs.Result(); res.Status != StatusIdle || res.IsFetching {
		t.Errorf("expected idle disabled query, got %+v", res)
	}

	// an enabled listener is required for Invalidate to refetch
	s.SetData(studentsList, "seed")
	s.Invalidate(studentsList)
	f.NoCall(t, 20*time.Millisecond)

	obs.SetEnabled(true)
	f.Next(t).Resolve("fetched")
	res, err := obs.Await(waitCtx(t))
	if err != nil || res.Data != "fetched" {
		t.Errorf("expected data after enabling, got %+v (%v)", res, err)
	}
}

func TestObserve_SetKey(t *testing.T) {
	s := newTestStore(t, testConfig())
	f := testsupport.NewFetcher[string]()
	first := cache.DetailKey{Entity: "students", ID: 1}
	second := cache.DetailKey{Entity: "students", ID: 2}

	obs := Observe(s, Query[string]{Key: first, Fetch: f.Fetch})
	defer obs.Close()
	f.Next(t).Resolve("one")
	if _, err := obs.Await(waitCtx(t)); err != nil {
		t.Fatalf("Await() failed: %v", err)
	}
	drain(obs.Changes())

	obs.SetKey(Query[string]{Key: second, Fetch: f.Fetch})
	testsupport.Receive(t, obs.Changes(), "key change")
	if res := obs.Result(); !res.IsLoading {
		t.Errorf("expected new key to load, got %+v", res)
	}

	f.Next(t).Resolve("two")
	res, err := obs.Await(waitCtx(t))
	if err != nil || res.Data != "two" {
		t.Fatalf("expected data for the new key, got %+v (%v)", res, err)
	}

	if stats := s.Stats(); stats.Active != 1 || stats.Idle != 1 {
		t.Errorf("expected old entry demoted, got %+v", stats)
	}
	if v, ok := GetData[string](s, first); !ok || v != "one" {
		t.Errorf("expected old entry retained, got %q (ok=%v)", v, ok)
	}
}

func TestObserve_NotifiesOnlyOnChange(t *testing.T) {
	s := newTestStore(t, testConfig())
	key := cache.DetailKey{Entity: "schools", ID: 5}
	s.SetData(key, "v1")

	obs := Observe(s, Query[string]{Key: key, Options: []QueryOption{StaleTime(NeverStale)}})
	defer obs.Close()

	s.Invalidate(cache.EntityKey{Entity: "students"})
	select {
	case <-obs.Changes():
		t.Fatal("unexpected notification for unrelated invalidation")
	case <-time.After(20 * time.Millisecond):
	}

	s.SetData(key, "v2")
	s.SetData(key, "v3")
	testsupport.Receive(t, obs.Changes(), "data change")
	select {
	case <-obs.Changes():
		t.Fatal("expected notifications to coalesce")
	default:
	}
	if res := obs.Result(); res.Data != "v3" {
		t.Errorf("expected latest data, got %v", res.Data)
	}
}

func TestObserve_Refetch(t *testing.T) {
	s := newTestStore(t, testConfig())
	f := testsupport.NewFetcher[string]()

	obs := Observe(s, Query[string]{Key: studentsList, Fetch: f.Fetch, Options: []QueryOption{StaleTime(NeverStale)}})
	defer obs.Close()
	f.Next(t).Resolve("v1")
	if _, err := obs.Await(waitCtx(t)); err != nil {
		t.Fatalf("Await() failed: %v", err)
	}

	ctx := waitCtx(t)
	done := make(chan Result[string], 1)
	go func() {
		res, _ := obs.Refetch(ctx)
		done <- res
	}()
	f.Next(t).Resolve("v2")

	select {
	case res := <-done:
		if res.Data != "v2" {
			t.Errorf("expected refetched data, got %v", res.Data)
		}
	case <-time.After(testsupport.DefaultWait):
		t.Fatal("timed out waiting for Refetch")
	}
}

func TestObserve_TypeMismatch(t *testing.T) {
	s := newTestStore(t, testConfig())
	s.SetData(studentsList, 42)

	obs := Observe(s, Query[string]{Key: studentsList, Options: []QueryOption{StaleTime(NeverStale)}})
	defer obs.Close()

	res := obs.Result()
	if !res.IsError || res.HasData {
		t.Errorf("expected type mismatch to surface as error, got %+v", res)
	}
}

func TestObserve_CloseDemotesAndClosesChannel(t *testing.T) {
	s := newTestStore(t, testConfig())
	s.SetData(studentsList, "v1")

	obs := Observe(s, Query[string]{Key: studentsList, Options: []QueryOption{StaleTime(NeverStale)}})
	if stats := s.Stats(); stats.Active != 1 {
		t.Fatalf("expected observed entry to be active, got %+v", stats)
	}

	obs.Close()
	obs.Close()

	if _, open := <-obs.Changes(); open {
		t.Error("expected Changes to be closed")
	}
	if stats := s.Stats(); stats.Active != 0 || stats.Idle != 1 {
		t.Errorf("expected entry demoted after Close, got %+v", stats)
	}

	s.SetData(studentsList, "v2")
}

func drain(ch <-chan struct{}) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
