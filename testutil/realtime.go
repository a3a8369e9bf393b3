package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

// RealtimeServer is an in-process realtime endpoint speaking the channel
// protocol: it acknowledges joins and leaves, answers heartbeats and lets a
// test push change events to joined topics.
type RealtimeServer struct {
	srv *httptest.Server

	mu      sync.Mutex
	conns   map[*websocket.Conn]struct{}
	joined  map[string]*websocket.Conn
	rejects map[string]bool
	joins   []string
	leaves  []string
	beats   int
}

// NewRealtimeServer starts a server that is closed when the test ends
func NewRealtimeServer(t *testing.T) *RealtimeServer {
	t.Helper()
	rs := &RealtimeServer{
		conns:   make(map[*websocket.Conn]struct{}),
		joined:  make(map[string]*websocket.Conn),
		rejects: make(map[string]bool),
	}
	rs.srv = httptest.NewServer(http.HandlerFunc(rs.serve))
	t.Cleanup(rs.Close)
	return rs
}

// URL returns the ws:// endpoint
func (rs *RealtimeServer) URL() string {
	return "ws" + strings.TrimPrefix(rs.srv.URL, "http")
}

// Reject makes joins for topic fail with an error reply
func (rs *RealtimeServer) Reject(topic string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.rejects[topic] = true
}

// Joined reports whether topic currently has a joined channel
func (rs *RealtimeServer) Joined(topic string) bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	_, ok := rs.joined[topic]
	return ok
}

// JoinCount returns how many times topic was joined
func (rs *RealtimeServer) JoinCount(topic string) int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	n := 0
	for _, j := range rs.joins {
		if j == topic {
			n++
		}
	}
	return n
}

// Leaves returns the topics left so far
func (rs *RealtimeServer) Leaves() []string {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return append([]string(nil), rs.leaves...)
}

// Heartbeats returns the number of heartbeats received
func (rs *RealtimeServer) Heartbeats() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.beats
}

// WaitJoined blocks until topic is joined
func (rs *RealtimeServer) WaitJoined(t *testing.T, topic string) {
	t.Helper()
	Eventually(t, 5*time.Second, func() bool { return rs.Joined(topic) }, "join of "+topic)
}

// Emit pushes a change event to the connection joined on topic. record and old
// are raw JSON objects, either may be empty.
func (rs *RealtimeServer) Emit(ctx context.Context, topic, eventType, table, record, old string) error {
	rs.mu.Lock()
	conn := rs.joined[topic]
	rs.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("topic not joined: %s", topic)
	}

	data := map[string]interface{}{
		"type":   eventType,
		"table":  table,
		"schema": "public",
	}
	if record != "" {
		data["record"] = json.RawMessage(record)
	}
	if old != "" {
		data["old_record"] = json.RawMessage(old)
	}
	return rs.write(ctx, conn, "realtime:"+topic, "postgres_changes", map[string]interface{}{"data": data}, "")
}

// CloseTopic sends a server-side close for topic
func (rs *RealtimeServer) CloseTopic(ctx context.Context, topic string) error {
	rs.mu.Lock()
	conn := rs.joined[topic]
	delete(rs.joined, topic)
	rs.mu.Unlock()
	if conn == nil {
		return nil
	}
	return rs.write(ctx, conn, "realtime:"+topic, "phx_close", map[string]interface{}{}, "")
}

// DropConnections closes every client connection; clients are expected to reconnect
func (rs *RealtimeServer) DropConnections() {
	rs.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(rs.conns))
	for c := range rs.conns {
		conns = append(conns, c)
	}
	rs.conns = make(map[*websocket.Conn]struct{})
	rs.joined = make(map[string]*websocket.Conn)
	rs.mu.Unlock()

	for _, c := range conns {
		_ = c.Close(websocket.StatusGoingAway, "server restart")
	}
}

// Close stops the server and all connections
func (rs *RealtimeServer) Close() {
	rs.DropConnections()
	rs.srv.Close()
}

func (rs *RealtimeServer) serve(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	conn.SetReadLimit(4 << 20)

	rs.mu.Lock()
	rs.conns[conn] = struct{}{}
	rs.mu.Unlock()

	ctx := context.Background()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			rs.forget(conn)
			return
		}
		frame := gjson.ParseBytes(data)
		wireTopic := frame.Get("topic").String()
		topic := strings.TrimPrefix(wireTopic, "realtime:")
		ref := frame.Get("ref").String()

		switch frame.Get("event").String() {
		case "heartbeat":
			rs.mu.Lock()
			rs.beats++
			rs.mu.Unlock()
			_ = rs.reply(ctx, conn, wireTopic, ref, "ok")
		case "phx_join":
			rs.mu.Lock()
			rejected := rs.rejects[topic]
			if !rejected {
				rs.joined[topic] = conn
				rs.joins = append(rs.joins, topic)
			}
			rs.mu.Unlock()
			if rejected {
				_ = rs.reply(ctx, conn, wireTopic, ref, "error")
			} else {
				_ = rs.reply(ctx, conn, wireTopic, ref, "ok")
			}
		case "phx_leave":
			rs.mu.Lock()
			if rs.joined[topic] == conn {
				delete(rs.joined, topic)
			}
			rs.leaves = append(rs.leaves, topic)
			rs.mu.Unlock()
			_ = rs.reply(ctx, conn, wireTopic, ref, "ok")
		}
	}
}

func (rs *RealtimeServer) forget(conn *websocket.Conn) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	delete(rs.conns, conn)
	for topic, c := range rs.joined {
		if c == conn {
			delete(rs.joined, topic)
		}
	}
}

func (rs *RealtimeServer) reply(ctx context.Context, conn *websocket.Conn, topic, ref, status string) error {
	payload := map[string]interface{}{"status": status, "response": map[string]interface{}{}}
	if status != "ok" {
		payload["response"] = map[string]interface{}{"reason": "join rejected"}
	}
	return rs.write(ctx, conn, topic, "phx_reply", payload, ref)
}

func (rs *RealtimeServer) write(ctx context.Context, conn *websocket.Conn, topic, event string, payload interface{}, ref string) error {
	frame := map[string]interface{}{
		"topic":   topic,
		"event":   event,
		"payload": payload,
		"ref":     nil,
	}
	if ref != "" {
		frame["ref"] = ref
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
