package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// RESTServer is an in-process PostgREST-style endpoint serving chat_sessions
// and messages rows filtered by user_id / session_id
type RESTServer struct {
	srv *httptest.Server

	mu       sync.Mutex
	sessions map[string][]string
	messages map[string][]string
	failures map[string]int
	requests []string
	apiKey   string
}

// NewRESTServer starts a server that is closed when the test ends. Requests
// must carry apiKey in the apikey header.
func NewRESTServer(t *testing.T, apiKey string) *RESTServer {
	t.Helper()
	rs := &RESTServer{
		sessions: make(map[string][]string),
		messages: make(map[string][]string),
		failures: make(map[string]int),
		apiKey:   apiKey,
	}
	rs.srv = httptest.NewServer(http.HandlerFunc(rs.serve))
	t.Cleanup(rs.srv.Close)
	return rs
}

// URL returns the base URL
func (rs *RESTServer) URL() string {
	return rs.srv.URL
}

// SetSessions replaces the chat_sessions rows of userID
func (rs *RESTServer) SetSessions(userID string, rows ...string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.sessions[userID] = rows
}

// SetMessages replaces the messages rows of sessionID
func (rs *RESTServer) SetMessages(sessionID string, rows ...string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.messages[sessionID] = rows
}

// FailNext makes the next n requests to table answer 500
func (rs *RESTServer) FailNext(table string, n int) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.failures[table] = n
}

// Requests returns the request URIs seen so far
func (rs *RESTServer) Requests() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.requests...)
}

func (rs *RESTServer) serve(w http.ResponseWriter, r *http.Request) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.requests = append(rs.requests, r.URL.RequestURI())

	if rs.apiKey != "" && r.Header.Get("apikey") != rs.apiKey {
		http.Error(w, `{"message":"invalid api key"}`, http.StatusUnauthorized)
		return
	}

	table := strings.TrimPrefix(r.URL.Path, "/rest/v1/")
	if n := rs.failures[table]; n > 0 {
		rs.failures[table] = n - 1
		http.Error(w, `{"message":"upstream unavailable"}`, http.StatusInternalServerError)
		return
	}

	var rows []string
	switch table {
	case "chat_sessions":
		rows = rs.sessions[eqValue(r.URL.Query().Get("user_id"))]
	case "messages":
		rows = rs.messages[eqValue(r.URL.Query().Get("session_id"))]
	case "":
		w.WriteHeader(http.StatusOK)
		return
	default:
		http.Error(w, fmt.Sprintf(`{"message":"relation %q does not exist"}`, table), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, "[%s]", strings.Join(rows, ","))
}

func eqValue(filter string) string {
	return strings.TrimPrefix(filter, "eq.")
}
