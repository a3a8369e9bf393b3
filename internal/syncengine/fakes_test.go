package syncengine

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/feed"
	"github.com/iksnae/chatsync/internal/remote"
	"github.com/iksnae/chatsync/internal/store"
	"github.com/iksnae/chatsync/internal/view"
	"github.com/iksnae/chatsync/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

const testUser = "u1"

// fakeFeed confirms every join synchronously, so statuses are queued right
// behind the step that subscribed
type fakeFeed struct {
	mu           sync.Mutex
	connected    bool
	ref          int
	subs         map[string]*fakeSub
	joins        map[string]int
	unsubscribed []string
	failLeave    map[string]bool
	reject       map[string]bool
	connCbs      []feed.ConnectivityFunc
}

type fakeSub struct {
	handle   feed.Handle
	filter   feed.Filter
	handler  feed.Handler
	onStatus feed.StatusFunc
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{
		connected: true,
		subs:      make(map[string]*fakeSub),
		joins:     make(map[string]int),
		failLeave: make(map[string]bool),
		reject:    make(map[string]bool),
	}
}

func (f *fakeFeed) Subscribe(_ context.Context, topic string, filter feed.Filter, handler feed.Handler, onStatus feed.StatusFunc) (feed.Handle, error) {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return feed.Handle{}, &internal.SubscriptionError{Topic: topic, Op: "subscribe", Err: feed.ErrNotConnected}
	}
	if _, ok := f.subs[topic]; ok {
		f.mu.Unlock()
		return feed.Handle{}, &internal.SubscriptionError{Topic: topic, Op: "subscribe", Err: feed.ErrAlreadySubscribed}
	}
	f.ref++
	sub := &fakeSub{handle: feed.NewHandle(topic, strconv.Itoa(f.ref)), filter: filter, handler: handler, onStatus: onStatus}
	f.subs[topic] = sub
	f.joins[topic]++
	rejected := f.reject[topic]
	if rejected {
		delete(f.subs, topic)
	}
	f.mu.Unlock()

	if rejected {
		onStatus(feed.StatusChannelError, errors.New("join rejected"))
	} else {
		onStatus(feed.StatusSubscribed, nil)
	}
	return sub.handle, nil
}

func (f *fakeFeed) Unsubscribe(_ context.Context, h feed.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sub, ok := f.subs[h.Topic()]
	if !ok || sub.handle != h {
		return nil
	}
	delete(f.subs, h.Topic())
	f.unsubscribed = append(f.unsubscribed, h.Topic())
	if f.failLeave[h.Topic()] {
		return &internal.SubscriptionError{Topic: h.Topic(), Op: "unsubscribe", Err: errors.New("write failed")}
	}
	return nil
}

func (f *fakeFeed) OnConnectivityChange(cb feed.ConnectivityFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connCbs = append(f.connCbs, cb)
}

func (f *fakeFeed) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

// setConnected flips the transport and reports it like the real client:
// every channel is gone after a loss
func (f *fakeFeed) setConnected(up bool) {
	f.mu.Lock()
	f.connected = up
	kind := feed.ConnEstablished
	if !up {
		kind = feed.ConnLost
		f.subs = make(map[string]*fakeSub)
	}
	cbs := append([]feed.ConnectivityFunc(nil), f.connCbs...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(kind, nil)
	}
}

// emit delivers a change the way the reader goroutine would
func (f *fakeFeed) emit(t *testing.T, topic string, typ feed.ChangeType, table, record, old string) {
	t.Helper()
	f.mu.Lock()
	sub, ok := f.subs[topic]
	f.mu.Unlock()
	require.True(t, ok, "no subscription for %s", topic)
	c := feed.Change{Topic: topic, Table: table, Type: typ}
	if record != "" {
		c.New = json.RawMessage(record)
	}
	if old != "" {
		c.Old = json.RawMessage(old)
	}
	sub.handler(c)
}

func (f *fakeFeed) closeTopic(topic string) {
	f.mu.Lock()
	sub, ok := f.subs[topic]
	delete(f.subs, topic)
	f.mu.Unlock()
	if ok {
		sub.onStatus(feed.StatusClosed, nil)
	}
}

func (f *fakeFeed) topics() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.subs))
	for t := range f.subs {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (f *fakeFeed) joinCount(topic string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joins[topic]
}

func (f *fakeFeed) left() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.unsubscribed...)
}

type fakeRemote struct {
	mu           sync.Mutex
	sessions     []*internal.ChatSession
	messages     map[string][]internal.Message
	err          error
	sessionCalls int
	messageCalls int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{messages: make(map[string][]internal.Message)}
}

func (r *fakeRemote) ListSessions(_ context.Context, userID string) ([]*internal.ChatSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionCalls++
	if r.err != nil {
		return nil, r.err
	}
	out := make([]*internal.ChatSession, len(r.sessions))
	for i, s := range r.sessions {
		out[i] = s.Clone()
	}
	return out, nil
}

func (r *fakeRemote) ListMessages(_ context.Context, sessionID string) ([]internal.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messageCalls++
	out := make([]internal.Message, 0, len(r.messages[sessionID]))
	for _, m := range r.messages[sessionID] {
		out = append(out, m.Clone())
	}
	return out, nil
}

func (r *fakeRemote) calls() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionCalls, r.messageCalls
}

type notes struct {
	mu   sync.Mutex
	list []string
}

func (n *notes) Notify(_ Level, msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.list = append(n.list, msg)
}

// testNow is the fixed clock for local stamps, a day after the fixtures
var testNow = internal.TestEpoch.Add(24 * time.Hour)

type harness struct {
	t        *testing.T
	ctx      context.Context
	engine   *Engine
	store    *store.Store
	view     *view.State
	feed     *fakeFeed
	remote   *fakeRemote
	notes    *notes
	registry *prometheus.Registry
	dir      string
}

type harnessOption func(*Options)

func withoutFeed() harnessOption {
	return func(o *Options) { o.Feed = nil }
}

func withIdentity(id string) harnessOption {
	return func(o *Options) { o.Identity = remote.StaticIdentity{ID: id} }
}

// newHarness opens a fresh store seeded with sessions; Start is left to the test
func newHarness(t *testing.T, seed []*internal.ChatSession, opts ...harnessOption) *harness {
	t.Helper()
	ctx := context.Background()
	dir := testutil.CreateTempDir(t)

	st, err := store.Open(ctx, filepath.Join(dir, "chatsync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	for _, s := range seed {
		require.NoError(t, st.UpsertSession(ctx, s))
		require.NoError(t, st.BulkUpsertMessages(ctx, s.Messages))
	}

	h := &harness{
		t:        t,
		ctx:      ctx,
		store:    st,
		view:     view.New(),
		feed:     newFakeFeed(),
		remote:   newFakeRemote(),
		notes:    &notes{},
		registry: prometheus.NewRegistry(),
		dir:      dir,
	}
	o := Options{
		Store:       st,
		View:        h.view,
		Feed:        h.feed,
		Remote:      h.remote,
		Identity:    remote.StaticIdentity{ID: testUser},
		Notifier:    h.notes,
		Checkpoints: internal.NewStateFile(filepath.Join(dir, "sync-state.yaml")),
		Registry:    h.registry,
		Now:         func() time.Time { return testNow },
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.Feed == nil {
		h.feed = nil
	}
	h.engine, err = New(o)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.engine.Teardown(context.Background()) })
	return h
}

func (h *harness) start() {
	h.t.Helper()
	require.NoError(h.t, h.engine.Start(h.ctx))
	h.flush()
}

// flush waits until every step queued so far, and the steps those queue in
// turn, have run
func (h *harness) flush() {
	h.t.Helper()
	for i := 0; i < 3; i++ {
		_, err := h.engine.Topics(h.ctx)
		require.NoError(h.t, err)
	}
}

func (h *harness) snapshot() *view.Snapshot {
	return h.view.Snapshot()
}

func (h *harness) stored() []*internal.ChatSession {
	h.t.Helper()
	sessions, err := h.store.LoadAllSessions(h.ctx)
	require.NoError(h.t, err)
	return sessions
}

func (h *harness) dump() *internal.Snapshot {
	h.t.Helper()
	snap, err := h.store.Dump(h.ctx)
	require.NoError(h.t, err)
	snap.ExportDate = ""
	return snap
}

func sessionIDs(sessions []*internal.ChatSession) []string {
	ids := make([]string, len(sessions))
	for i, s := range sessions {
		ids[i] = s.ID
	}
	return ids
}

func messageIDs(s *internal.ChatSession) []string {
	if s == nil {
		return nil
	}
	ids := make([]string, len(s.Messages))
	for i, m := range s.Messages {
		ids[i] = m.ID
	}
	return ids
}

func requireSorted(t *testing.T, sessions []*internal.ChatSession) {
	t.Helper()
	for i := 1; i < len(sessions); i++ {
		require.False(t, sessions[i].UpdatedAt.After(sessions[i-1].UpdatedAt),
			"sessions out of order at %d: %v", i, sessionIDs(sessions))
	}
}
