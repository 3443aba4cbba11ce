package testsupport

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
)

// APIServer is a fake backend answering canned JSON responses per route.
// Unknown routes answer 404 with the backend's JSON error body.
type APIServer struct {
	*httptest.Server

	mu       sync.Mutex
	routes   map[string]*Route
	hits     map[string]int
	requests map[string][]RecordedRequest
}

// Route is the canned response for one method and path.
type Route struct {
	Status int
	Body   any
	// Gate, when set, holds the response until it is closed or receives.
	Gate chan struct{}
}

// RecordedRequest captures what the client sent.
type RecordedRequest struct {
	Query  url.Values
	Header http.Header
	Body   []byte
}

// NewAPIServer starts a fake backend closed automatically with the test.
func NewAPIServer(t testing.TB) *APIServer {
	t.Helper()
	s := &APIServer{
		routes:   make(map[string]*Route),
		hits:     make(map[string]int),
		requests: make(map[string][]RecordedRequest),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// On registers the response for method and path, replacing any previous one.
func (s *APIServer) On(method, path string, status int, body any) *Route {
	route := &Route{Status: status, Body: body}
	s.mu.Lock()
	s.routes[method+" "+path] = route
	s.mu.Unlock()
	return route
}

// OnGated registers a response that is held back until release is called.
func (s *APIServer) OnGated(method, path string, status int, body any) (release func()) {
	gate := make(chan struct{})
	s.mu.Lock()
	s.routes[method+" "+path] = &Route{Status: status, Body: body, Gate: gate}
	s.mu.Unlock()

	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Hits reports how many requests reached method and path.
func (s *APIServer) Hits(method, path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[method+" "+path]
}

// LastRequest returns the most recent request for method and path.
func (s *APIServer) LastRequest(method, path string) (RecordedRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reqs := s.requests[method+" "+path]
	if len(reqs) == 0 {
		return RecordedRequest{}, false
	}
	return reqs[len(reqs)-1], true
}

func (s *APIServer) serve(w http.ResponseWriter, r *http.Request) {
	id := r.Method + " " + r.URL.Path
	body, _ := io.ReadAll(r.Body)

	s.mu.Lock()
	s.hits[id]++
	s.requests[id] = append(s.requests[id], RecordedRequest{
		Query:  r.URL.Query(),
		Header: r.Header.Clone(),
		Body:   body,
	})
	route, ok := s.routes[id]
	s.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"code":    "NOT_FOUND",
			"message": "no route for " + id,
		})
		return
	}

	if route.Gate != nil {
		select {
		case <-route.Gate:
		case <-r.Context().Done():
			return
		}
	}

	if route.Status == http.StatusNoContent {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, route.Status, route.Body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
