package remote

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/testutil"
)

func newTestClient(t *testing.T, rs *testutil.RESTServer, apiKey string) *Client {
	t.Helper()
	c, err := NewClient(Options{BaseURL: rs.URL(), APIKey: apiKey, AccessToken: "token", Timeout: 5 * time.Second})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func TestNewClient_RequiresURL(t *testing.T) {
	if _, err := NewClient(Options{}); err == nil {
		t.Error("NewClient() without URL should fail")
	}
}

func TestListSessions(t *testing.T) {
	rs := testutil.NewRESTServer(t, "anon")
	at := internal.TestEpoch
	rs.SetSessions("u1",
		testutil.SessionRow("s2", "u1", "Second", at.Add(time.Hour)),
		testutil.SessionRow("s1", "u1", "First", at),
		`{"title":"no id"}`,
	)
	rs.SetSessions("u2", testutil.SessionRow("other", "u2", "Other", at))

	c := newTestClient(t, rs, "anon")
	sessions, err := c.ListSessions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("ListSessions() = %d sessions, want 2", len(sessions))
	}
	if sessions[0].ID != "s2" || sessions[0].Title != "Second" {
		t.Errorf("ListSessions()[0] = %+v", sessions[0])
	}
	if !sessions[1].UpdatedAt.Equal(at) {
		t.Errorf("UpdatedAt = %v, want %v", sessions[1].UpdatedAt, at)
	}

	reqs := rs.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %v", reqs)
	}
	for _, want := range []string{"/rest/v1/chat_sessions", "user_id=eq.u1", "order=updated_at.desc"} {
		if !strings.Contains(reqs[0], want) {
			t.Errorf("request %q should contain %q", reqs[0], want)
		}
	}
}

func TestListMessages(t *testing.T) {
	rs := testutil.NewRESTServer(t, "anon")
	rs.SetMessages("s1",
		testutil.MessageRow("m1", "s1", "user", "hi", internal.TestEpoch),
		testutil.MessageRow("m2", "s1", "assistant", "hello", internal.TestEpoch.Add(time.Second)),
		testutil.MessageRow("m3", "s1", "robot", "bad role", internal.TestEpoch),
	)

	c := newTestClient(t, rs, "anon")
	messages, err := c.ListMessages(context.Background(), "s1")
	if err != nil {
		t.Fatalf("ListMessages() error = %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("ListMessages() = %d messages, want 2", len(messages))
	}
	if messages[1].Role != internal.RoleAssistant || messages[1].SessionID != "s1" {
		t.Errorf("ListMessages()[1] = %+v", messages[1])
	}
}

func TestListSessions_Errors(t *testing.T) {
	rs := testutil.NewRESTServer(t, "anon")

	bad := newTestClient(t, rs, "wrong")
	if _, err := bad.ListSessions(context.Background(), "u1"); err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("ListSessions() with bad key error = %v, want status 401", err)
	}

	rs.FailNext("chat_sessions", 1)
	c := newTestClient(t, rs, "anon")
	if _, err := c.ListSessions(context.Background(), "u1"); err == nil {
		t.Error("ListSessions() should surface a 500")
	}
	if _, err := c.ListSessions(context.Background(), "u1"); err != nil {
		t.Errorf("ListSessions() after recovery error = %v", err)
	}
}

func TestRetryOnServerError(t *testing.T) {
	rs := testutil.NewRESTServer(t, "")
	rs.FailNext("messages", 1)
	c, err := NewClient(Options{BaseURL: rs.URL(), RetryCount: 2})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.ListMessages(context.Background(), "s1"); err != nil {
		t.Errorf("ListMessages() with retries error = %v", err)
	}
}

func TestPing(t *testing.T) {
	rs := testutil.NewRESTServer(t, "anon")
	c := newTestClient(t, rs, "anon")
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}

func TestStaticIdentity(t *testing.T) {
	tests := []struct {
		id     string
		wantOK bool
	}{
		{"u1", true},
		{"", false},
	}
	for _, tt := range tests {
		got, ok := StaticIdentity{ID: tt.id}.UserID()
		if got != tt.id || ok != tt.wantOK {
			t.Errorf("UserID() = %q, %v, want %q, %v", got, ok, tt.id, tt.wantOK)
		}
	}
}
