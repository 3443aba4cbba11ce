package mentor

import (
	"context"
	"net/http"
	"reflect"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/goliatone/go-query-cache/api"
	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/pkg/testsupport"
	"github.com/goliatone/go-query-cache/querycache"
)

func newTestServices(t *testing.T) (*Services, *querycache.Store, *testsupport.APIServer) {
	t.Helper()
	srv := testsupport.NewAPIServer(t)

	cfg := querycache.DefaultConfig()
	cfg.StaleTime = querycache.NeverStale
	cfg.Retry = 2
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryMaxDelay = 2 * time.Millisecond

	store, err := querycache.New(cfg, querycache.WithRetryPolicy(api.RetryPolicy))
	if err != nil {
		t.Fatalf("querycache.New() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	client, err := api.New(srv.URL)
	if err != nil {
		t.Fatalf("api.New() failed: %v", err)
	}
	return NewServices(store, client), store, srv
}

func testCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testsupport.DefaultWait)
	t.Cleanup(cancel)
	return ctx
}

func settled[T any](o *querycache.Observer[T]) func() bool {
	return func() bool {
		r := o.Result()
		return !r.IsFetching && (r.HasData || r.IsError)
	}
}

func TestFiltersKeyMatchesBareList(t *testing.T) {
	svc, _, _ := newTestServices(t)

	bare := cache.MustSerialize(cache.ListKey{Entity: "students"})
	empty := cache.MustSerialize(svc.Students.List(Filters{}))
	if diff := cmp.Diff(bare, empty); diff != "" {
		t.Errorf("empty filters must address the bare list (-want +got):\n%s", diff)
	}

	active := cache.MustSerialize(svc.Students.List(Filters{Status: StatusActive, Page: 2}))
	if diff := cmp.Diff([]string{`"students"`, `"list"`, `{"page":2,"status":"active"}`}, active); diff != "" {
		t.Errorf("unexpected filtered key (-want +got):\n%s", diff)
	}
	if !cache.HasPrefix(active, cache.MustSerialize(svc.Students.Lists())) {
		t.Error("filtered list must fall under the lists prefix")
	}
}

func TestStudents_LoadingThenData(t *testing.T) {
	svc, _, srv := newTestServices(t)
	release := srv.OnGated(http.MethodGet, "/students", http.StatusOK, []Student{{ID: 1, Name: "Ada"}})

	obs := svc.Students.ObserveList(nil)
	defer obs.Close()

	res := obs.Result()
	if !res.IsLoading || res.HasData || res.Data != nil {
		t.Fatalf("expected loading without data, got %+v", res)
	}

	release()
	testsupport.Eventually(t, settled(obs), "student list loaded")

	res = obs.Result()
	if res.IsLoading || !res.IsSuccess {
		t.Errorf("expected success, got %+v", res)
	}
	if diff := cmp.Diff([]Student{{ID: 1, Name: "Ada"}}, res.Data); diff != "" {
		t.Errorf("data mismatch (-want +got):\n%s", diff)
	}
}

func TestStudents_DeleteInvalidatesListAndDetail(t *testing.T) {
	svc, _, srv := newTestServices(t)
	ctx := testCtx(t)

	srv.On(http.MethodGet, "/students", http.StatusOK, []Student{{ID: 7, Name: "Ada"}, {ID: 8, Name: "Grace"}})
	srv.On(http.MethodGet, "/students/7", http.StatusOK, Student{ID: 7, Name: "Ada"})

	list := svc.Students.ObserveList(nil)
	defer list.Close()
	detail := svc.Students.ObserveDetail(7)
	defer detail.Close()
	testsupport.Eventually(t, settled(list), "list loaded")
	testsupport.Eventually(t, settled(detail), "detail loaded")

	srv.On(http.MethodDelete, "/students/7", http.StatusNoContent, nil)
	srv.On(http.MethodGet, "/students", http.StatusOK, []Student{{ID: 8, Name: "Grace"}})
	srv.On(http.MethodGet, "/students/7", http.StatusNotFound, map[string]any{
		"code":    "NOT_FOUND",
		"message": "student 7 not found",
	})

	if _, err := svc.Students.Delete().Exec(ctx, 7); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	testsupport.Eventually(t, func() bool {
		r := list.Result()
		return !r.IsFetching && len(r.Data) == 1
	}, "list refetched")
	testsupport.Eventually(t, func() bool {
		r := detail.Result()
		return !r.IsFetching && r.IsError
	}, "detail refetch failed")

	res := detail.Result()
	if !api.IsNotFound(res.Err) {
		t.Errorf("expected not found error, got %v", res.Err)
	}
	if !res.HasData || res.Data.ID != 7 {
		t.Errorf("expected last good record to be kept, got %+v", res)
	}
	if hits := srv.Hits(http.MethodGet, "/students/7"); hits != 2 {
		t.Errorf("expected the 404 not to be retried (2 hits), got %d", hits)
	}
	if hits := srv.Hits(http.MethodGet, "/students"); hits != 2 {
		t.Errorf("expected one list refetch, got %d hits", hits)
	}
}

func TestStudents_DeleteMarksUnobservedDetailStale(t *testing.T) {
	svc, store, srv := newTestServices(t)
	ctx := testCtx(t)

	srv.On(http.MethodGet, "/students/7", http.StatusOK, Student{ID: 7, Name: "Ada"})
	if _, err := svc.Students.FetchDetail(ctx, 7); err != nil {
		t.Fatalf("FetchDetail() failed: %v", err)
	}

	srv.On(http.MethodDelete, "/students/7", http.StatusNoContent, nil)
	if _, err := svc.Students.Delete().Exec(ctx, 7); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}

	state, ok := store.Read(svc.Students.Detail(7))
	if !ok || !state.IsInvalidated {
		t.Fatalf("expected invalidated detail entry, got %+v", state)
	}
	if hits := srv.Hits(http.MethodGet, "/students/7"); hits != 1 {
		t.Errorf("unobserved entries refetch lazily, got %d hits", hits)
	}
}

func TestSchools_SubscribersShareOneRequest(t *testing.T) {
	svc, _, srv := newTestServices(t)
	release := srv.OnGated(http.MethodGet, "/schools", http.StatusOK, []School{{ID: 5, Name: "North", Status: StatusActive}})

	filters := Filters{Status: StatusActive}
	a := svc.Schools.ObserveList(filters)
	defer a.Close()
	b := svc.Schools.ObserveList(Filters{Status: StatusActive})
	defer b.Close()

	release()
	testsupport.Eventually(t, settled(a), "first observer loaded")
	testsupport.Eventually(t, settled(b), "second observer loaded")

	if hits := srv.Hits(http.MethodGet, "/schools"); hits != 1 {
		t.Errorf("expected exactly one request, got %d", hits)
	}
	ra, rb := a.Result(), b.Result()
	if len(ra.Data) != 1 || reflect.ValueOf(ra.Data).Pointer() != reflect.ValueOf(rb.Data).Pointer() {
		t.Errorf("expected both observers to share one slice, got %p and %p", ra.Data, rb.Data)
	}
	req, _ := srv.LastRequest(http.MethodGet, "/schools")
	if req.Query.Get("status") != StatusActive {
		t.Errorf("expected status filter in query, got %v", req.Query)
	}
}

func TestStudents_CreatePrimesDetail(t *testing.T) {
	svc, store, srv := newTestServices(t)
	ctx := testCtx(t)

	srv.On(http.MethodGet, "/students", http.StatusOK, []Student{})
	list := svc.Students.ObserveList(nil)
	defer list.Close()
	testsupport.Eventually(t, settled(list), "list loaded")

	srv.On(http.MethodPost, "/students", http.StatusCreated, Student{ID: 9, Name: "Linus"})
	srv.On(http.MethodGet, "/students", http.StatusOK, []Student{{ID: 9, Name: "Linus"}})

	created, err := svc.Students.Create().Exec(ctx, map[string]string{"name": "Linus"})
	if err != nil || created.ID != 9 {
		t.Fatalf("Create() = %+v, %v", created, err)
	}

	got, ok := querycache.GetData[Student](store, svc.Students.Detail(9))
	if !ok || got.Name != "Linus" {
		t.Errorf("expected created record in detail entry, got %+v", got)
	}
	testsupport.Eventually(t, func() bool { return len(list.Result().Data) == 1 }, "list refetched after create")
	if srv.Hits(http.MethodGet, "/students/9") != 0 {
		t.Error("detail must be served from the create response")
	}
}

func TestStudents_UpdateWritesDetail(t *testing.T) {
	svc, _, srv := newTestServices(t)
	ctx := testCtx(t)

	srv.On(http.MethodGet, "/students/3", http.StatusOK, Student{ID: 3, Name: "Ada"})
	detail := svc.Students.ObserveDetail(3)
	defer detail.Close()
	testsupport.Eventually(t, settled(detail), "detail loaded")

	srv.On(http.MethodPatch, "/students/3", http.StatusOK, Student{ID: 3, Name: "Ada L."})
	if _, err := svc.Students.Update().Exec(ctx, UpdateInput{ID: 3, Fields: map[string]string{"name": "Ada L."}}); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}

	if got := detail.Result().Data.Name; got != "Ada L." {
		t.Errorf("expected updated name, got %q", got)
	}
	if hits := srv.Hits(http.MethodGet, "/students/3"); hits != 1 {
		t.Errorf("update must not refetch the detail, got %d hits", hits)
	}
	req, _ := srv.LastRequest(http.MethodPatch, "/students/3")
	if string(req.Body) != `{"name":"Ada L."}` {
		t.Errorf("unexpected patch body %s", req.Body)
	}
}

func TestActions(t *testing.T) {
	svc, store, srv := newTestServices(t)
	ctx := testCtx(t)

	srv.On(http.MethodPost, "/schools/5/publish", http.StatusOK, School{ID: 5, Name: "North", Status: StatusPublished})
	school, err := svc.Schools.Publish().Exec(ctx, 5)
	if err != nil || school.Status != StatusPublished {
		t.Fatalf("Publish() = %+v, %v", school, err)
	}
	if got, _ := querycache.GetData[School](store, svc.Schools.Detail(5)); got.Status != StatusPublished {
		t.Errorf("expected published school in cache, got %+v", got)
	}

	srv.On(http.MethodPost, "/teachers/2/block", http.StatusNoContent, nil)
	srv.On(http.MethodGet, "/teachers/2", http.StatusOK, Teacher{ID: 2, Name: "Bob"})
	if _, err := svc.Teachers.FetchDetail(ctx, 2); err != nil {
		t.Fatalf("FetchDetail() failed: %v", err)
	}
	if _, err := svc.Teachers.Block().Exec(ctx, 2); err != nil {
		t.Fatalf("Block() failed: %v", err)
	}
	state, _ := store.Read(svc.Teachers.Detail(2))
	if !state.IsInvalidated || state.Data.(Teacher).Name != "Bob" {
		t.Errorf("empty action response must only invalidate the detail, got %+v", state)
	}

	srv.On(http.MethodPost, "/tests/4/publish", http.StatusConflict, map[string]any{"code": "CONFLICT", "message": "already published"})
	if _, err := svc.Tests.Publish().Exec(ctx, 4); api.StatusOf(err) != http.StatusConflict {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestParents_AddChildrenInvalidatesStudents(t *testing.T) {
	svc, store, srv := newTestServices(t)
	ctx := testCtx(t)

	srv.On(http.MethodGet, "/students/7", http.StatusOK, Student{ID: 7, Name: "Ada"})
	if _, err := svc.Students.FetchDetail(ctx, 7); err != nil {
		t.Fatalf("FetchDetail() failed: %v", err)
	}

	srv.On(http.MethodPost, "/parents/1/children", http.StatusOK, Parent{ID: 1, Name: "Marie", StudentIDs: []int64{7}})
	parent, err := svc.Parents.AddChildren().Exec(ctx, AddChildrenInput{ParentID: 1, StudentIDs: []int64{7}})
	if err != nil {
		t.Fatalf("AddChildren() failed: %v", err)
	}
	if diff := cmp.Diff([]int64{7}, parent.StudentIDs); diff != "" {
		t.Errorf("children mismatch (-want +got):\n%s", diff)
	}

	req, _ := srv.LastRequest(http.MethodPost, "/parents/1/children")
	if string(req.Body) != `{"student_ids":[7]}` {
		t.Errorf("unexpected body %s", req.Body)
	}
	if state, _ := store.Read(svc.Students.Detail(7)); !state.IsInvalidated {
		t.Error("expected student entries to be invalidated")
	}
	if got, ok := querycache.GetData[Parent](store, svc.Parents.Detail(1)); !ok || got.Name != "Marie" {
		t.Errorf("expected parent detail to be written, got %+v", got)
	}
}

func TestClasses_StudentsRelation(t *testing.T) {
	svc, _, srv := newTestServices(t)
	ctx := testCtx(t)

	srv.On(http.MethodGet, "/classes/3/students", http.StatusOK, []Student{{ID: 1}, {ID: 2}})
	students, err := querycache.FetchQuery(ctx, svc.Students.store, svc.Classes.Students(3, Filters{Q: "a"}))
	if err != nil {
		t.Fatalf("FetchQuery() failed: %v", err)
	}
	if len(students) != 2 {
		t.Errorf("expected 2 students, got %d", len(students))
	}
	req, _ := srv.LastRequest(http.MethodGet, "/classes/3/students")
	if req.Query.Get("q") != "a" {
		t.Errorf("expected q filter, got %v", req.Query)
	}
}

func TestSubmissions_GradeInvalidatesHomeworkSubmissions(t *testing.T) {
	svc, store, srv := newTestServices(t)
	ctx := testCtx(t)

	srv.On(http.MethodGet, "/homeworks/5/submissions", http.StatusOK, []Submission{{ID: 11, HomeworkID: 5, StudentID: 7}})
	all := querycache.Observe(store, svc.Homeworks.Submissions(5, nil))
	defer all.Close()
	pending := querycache.Observe(store, svc.Homeworks.Submissions(5, Filters{Status: "submitted"}))
	defer pending.Close()
	testsupport.Eventually(t, settled(all), "all submissions loaded")
	testsupport.Eventually(t, settled(pending), "filtered submissions loaded")

	score := 9.5
	srv.On(http.MethodPost, "/submissions/11/grade", http.StatusOK, Submission{ID: 11, HomeworkID: 5, StudentID: 7, Score: &score, Status: "graded"})
	srv.On(http.MethodGet, "/homeworks/5/submissions", http.StatusOK, []Submission{{ID: 11, HomeworkID: 5, StudentID: 7, Score: &score, Status: "graded"}})

	graded, err := svc.Submissions.Grade().Exec(ctx, GradeInput{SubmissionID: 11, Score: score, Feedback: "well done"})
	if err != nil || graded.Status != "graded" {
		t.Fatalf("Grade() = %+v, %v", graded, err)
	}

	for name, obs := range map[string]*querycache.Observer[[]Submission]{"all": all, "filtered": pending} {
		testsupport.Eventually(t, func() bool {
			r := obs.Result()
			return !r.IsFetching && len(r.Data) == 1 && r.Data[0].Status == "graded"
		}, name+" submissions refetched")
	}
	if hits := srv.Hits(http.MethodGet, "/homeworks/5/submissions"); hits != 4 {
		t.Errorf("expected both relation entries to refetch (4 hits), got %d", hits)
	}
	req, _ := srv.LastRequest(http.MethodPost, "/submissions/11/grade")
	if string(req.Body) != `{"score":9.5,"feedback":"well done"}` {
		t.Errorf("unexpected grade body %s", req.Body)
	}
}

func TestHomeworks_Assign(t *testing.T) {
	svc, store, srv := newTestServices(t)
	ctx := testCtx(t)

	srv.On(http.MethodPost, "/homeworks/5/assign", http.StatusOK, Homework{ID: 5, Title: "Fractions", ClassIDs: []int64{3}})
	hw, err := svc.Homeworks.Assign().Exec(ctx, AssignInput{HomeworkID: 5, ClassIDs: []int64{3}})
	if err != nil {
		t.Fatalf("Assign() failed: %v", err)
	}
	if diff := cmp.Diff([]int64{3}, hw.ClassIDs); diff != "" {
		t.Errorf("class ids mismatch (-want +got):\n%s", diff)
	}
	if got, ok := querycache.GetData[Homework](store, svc.Homeworks.Detail(5)); !ok || got.Title != "Fractions" {
		t.Errorf("expected homework detail to be written, got %+v", got)
	}
	req, _ := srv.LastRequest(http.MethodPost, "/homeworks/5/assign")
	if string(req.Body) != `{"class_ids":[3]}` {
		t.Errorf("unexpected assign body %s", req.Body)
	}
}

func TestChat_SendMessageOptimistic(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   any
		want   []ChatMessage
	}{
		{
			name:   "sent",
			status: http.StatusCreated,
			body:   ChatMessage{ID: 2, ThreadID: 3, Role: "user", Body: "hi"},
			want: []ChatMessage{
				{ID: 1, ThreadID: 3, Role: "assistant", Body: "hello"},
				{ID: 2, ThreadID: 3, Role: "user", Body: "hi"},
			},
		},
		{
			name:   "rolled back",
			status: http.StatusInternalServerError,
			body:   map[string]any{"code": "INTERNAL", "message": "model unavailable"},
			want:   []ChatMessage{{ID: 1, ThreadID: 3, Role: "assistant", Body: "hello"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, srv := newTestServices(t)
			ctx := testCtx(t)

			first := []ChatMessage{{ID: 1, ThreadID: 3, Role: "assistant", Body: "hello"}}
			srv.On(http.MethodGet, "/chat_threads/3/messages", http.StatusOK, first)
			msgs := querycache.Observe(svc.Chat.store, svc.Chat.Messages(3))
			defer msgs.Close()
			testsupport.Eventually(t, settled(msgs), "messages loaded")

			release := srv.OnGated(http.MethodPost, "/chat_threads/3/messages", tt.status, tt.body)
			srv.On(http.MethodGet, "/chat_threads/3/messages", http.StatusOK, tt.want)

			call := svc.Chat.SendMessage().Mutate(ctx, SendMessageInput{ThreadID: 3, Body: "hi"})

			optimistic := msgs.Result().Data
			if len(optimistic) != 2 || !optimistic[1].Pending || optimistic[1].Body != "hi" {
				t.Fatalf("expected pending message appended, got %+v", optimistic)
			}

			release()
			_, err := call.Wait(ctx)
			if (err != nil) != (tt.status >= 300) {
				t.Fatalf("unexpected mutation error %v", err)
			}

			testsupport.Eventually(t, func() bool {
				r := msgs.Result()
				return !r.IsFetching && cmp.Equal(tt.want, r.Data)
			}, "messages settled")
		})
	}
}
