package syncengine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/feed"
	"github.com/iksnae/chatsync/internal/view"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresStoreAndView(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)

	h := newHarness(t, nil)
	_, err = New(Options{Store: h.store})
	require.Error(t, err)
}

func TestStart_HydratesThenSubscribes(t *testing.T) {
	h := newHarness(t, []*internal.ChatSession{
		internal.CreateTestSession("s1", 0),
		internal.CreateTestSession("s2", time.Hour),
	})

	var (
		mu          sync.Mutex
		transitions []string
	)
	h.engine.OnStateChange(func(from, to ConnState) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, from.String()+">"+to.String())
	})

	require.NoError(t, h.engine.Start(h.ctx))
	snap := h.snapshot()
	require.Equal(t, []string{"s2", "s1"}, sessionIDs(snap.Sessions))
	require.Equal(t, "s2", snap.CurrentID)
	require.Equal(t, []string{"s2-m1", "s2-m2"}, messageIDs(snap.Find("s2")))

	h.flush()
	require.Equal(t, Connected, h.engine.State())
	require.Equal(t, []string{"chat_sessions:u1", "messages:s1", "messages:s2"}, h.feed.topics())

	topics, err := h.engine.Topics(h.ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"chat_sessions:u1", "messages:s1", "messages:s2"}, topics)

	mu.Lock()
	require.Equal(t, []string{"disconnected>connecting", "connecting>connected"}, transitions)
	mu.Unlock()

	require.Equal(t, 3.0, promtest.ToFloat64(h.engine.metrics.OpenTopics))
	require.Equal(t, float64(Connected), promtest.ToFloat64(h.engine.metrics.ConnectionState))
	require.Error(t, h.engine.Start(h.ctx), "second Start")
}

func TestStart_LocalOnlyWithoutIdentity(t *testing.T) {
	h := newHarness(t, []*internal.ChatSession{internal.CreateTestSession("s1", 0)}, withIdentity(""))
	h.start()

	require.Equal(t, Disconnected, h.engine.State())
	require.Empty(t, h.feed.topics())
	require.Equal(t, []string{"s1"}, sessionIDs(h.snapshot().Sessions))

	err := h.engine.SyncWithRemote(h.ctx)
	var rerr *internal.ResyncError
	require.ErrorAs(t, err, &rerr)
	require.ErrorIs(t, err, ErrNoRemote)
}

func TestStart_WaitsForTransport(t *testing.T) {
	h := newHarness(t, []*internal.ChatSession{internal.CreateTestSession("s1", 0)})
	h.feed.connected = false
	h.start()

	require.Equal(t, Connecting, h.engine.State())
	require.Empty(t, h.feed.topics())

	h.feed.setConnected(true)
	h.flush()
	require.Equal(t, Connected, h.engine.State())
	require.Equal(t, []string{"chat_sessions:u1", "messages:s1"}, h.feed.topics())

	// first connection: no resync
	sessionCalls, _ := h.remote.calls()
	require.Zero(t, sessionCalls)
}

func TestSessionTopicRejected(t *testing.T) {
	h := newHarness(t, []*internal.ChatSession{internal.CreateTestSession("s1", 0)})
	h.feed.reject["chat_sessions:u1"] = true
	h.start()

	require.Equal(t, Disconnected, h.engine.State())
	require.Empty(t, h.feed.topics())
	require.NotEmpty(t, h.notes.list)
}

func TestConnectivityLossAndRecovery(t *testing.T) {
	h := newHarness(t, []*internal.ChatSession{internal.CreateTestSession("s1", 0)})
	h.remote.sessions = []*internal.ChatSession{internal.CreateTestSession("s1", 0), internal.CreateTestSession("s9", time.Hour)}
	h.start()
	require.Equal(t, Connected, h.engine.State())

	h.feed.setConnected(false)
	h.flush()
	require.Equal(t, Disconnected, h.engine.State())
	topics, err := h.engine.Topics(h.ctx)
	require.NoError(t, err)
	require.Empty(t, topics)

	h.feed.setConnected(true)
	h.flush()
	require.Equal(t, 2, h.feed.joinCount("chat_sessions:u1"))

	// the reconnect runs a resync that fills the gap
	require.Eventually(t, func() bool {
		return h.snapshot().Find("s9") != nil
	}, 5*time.Second, 10*time.Millisecond)
	h.flush()
	require.Equal(t, Connected, h.engine.State())
	require.Contains(t, h.feed.topics(), "messages:s9")
}

func TestSetOnline(t *testing.T) {
	h := newHarness(t, []*internal.ChatSession{internal.CreateTestSession("s1", 0)})
	h.start()

	h.engine.SetOnline(false)
	h.flush()
	require.Equal(t, Disconnected, h.engine.State())
	require.ElementsMatch(t, []string{"chat_sessions:u1", "messages:s1"}, h.feed.left())
	require.Empty(t, h.feed.topics())

	h.engine.SetOnline(true)
	h.flush()
	require.Equal(t, Connected, h.engine.State())
	require.Equal(t, 2, h.feed.joinCount("chat_sessions:u1"))
	require.Eventually(t, func() bool {
		calls, _ := h.remote.calls()
		return calls == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestTeardown(t *testing.T) {
	h := newHarness(t, []*internal.ChatSession{
		internal.CreateTestSession("s1", 0),
		internal.CreateTestSession("s2", time.Hour),
	})
	h.start()
	h.feed.failLeave["messages:s1"] = true

	require.NoError(t, h.engine.Teardown(h.ctx))
	require.Equal(t, Disconnected, h.engine.State())
	// a failing unsubscribe does not block the others
	require.ElementsMatch(t, []string{"chat_sessions:u1", "messages:s1", "messages:s2"}, h.feed.left())

	_, err := h.engine.CreateSession(h.ctx, "late", "")
	require.ErrorIs(t, err, ErrStopped)
	require.NoError(t, h.engine.Teardown(h.ctx), "second teardown")

	// feed callbacks after teardown are dropped without blocking
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.engine.enqueue("late", func(context.Context) {})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("enqueue blocked after teardown")
	}
}

func TestTeardown_CancelledContextBehindSlowStep(t *testing.T) {
	h := newHarness(t, []*internal.ChatSession{internal.CreateTestSession("s1", 0)})
	h.start()
	require.Equal(t, Connected, h.engine.State())

	running := make(chan struct{})
	h.engine.enqueue("slow", func(context.Context) {
		close(running)
		time.Sleep(50 * time.Millisecond)
	})
	<-running

	ctx, cancel := context.WithCancel(h.ctx)
	cancel()
	require.NoError(t, h.engine.Teardown(ctx))
	require.Equal(t, Disconnected, h.engine.State())
	require.Empty(t, h.feed.topics())
	require.ElementsMatch(t, []string{"chat_sessions:u1", "messages:s1"}, h.feed.left())
	require.Zero(t, promtest.ToFloat64(h.engine.metrics.OpenTopics))
}

func TestNotStarted(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.engine.CreateSession(h.ctx, "x", "")
	require.ErrorIs(t, err, ErrNotStarted)
	require.ErrorIs(t, h.engine.SyncWithRemote(h.ctx), ErrNotStarted)
	require.NoError(t, h.engine.Teardown(h.ctx))
}

func TestStepsPublishOneSnapshotEach(t *testing.T) {
	h := newHarness(t, []*internal.ChatSession{internal.CreateTestSession("s1", 0)})

	var (
		mu    sync.Mutex
		snaps []*view.Snapshot
	)
	h.view.OnPublish(func(s *view.Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		snaps = append(snaps, s)
	})
	h.start()

	mu.Lock()
	before := len(snaps)
	mu.Unlock()

	// an insert touches both collections but is seen as one step
	h.feed.emit(t, "messages:s1", feed.Insert, "messages",
		`{"id":"m9","session_id":"s1","role":"user","content":"x","timestamp":"2024-05-01T13:00:00Z"}`, "")
	h.flush()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, before+1, len(snaps))
	last := snaps[len(snaps)-1]
	s1 := last.Find("s1")
	require.Contains(t, messageIDs(s1), "m9")
	require.True(t, s1.UpdatedAt.Equal(testNow))
}

func TestQueueDepthAndErrorsAreObservable(t *testing.T) {
	h := newHarness(t, nil)
	h.start()
	require.Zero(t, promtest.ToFloat64(h.engine.metrics.QueueDepth))
	require.Nil(t, h.engine.LastResyncError())

	h.remote.err = errors.New("503")
	require.Error(t, h.engine.SyncWithRemote(h.ctx))
	require.Error(t, h.engine.LastResyncError())
}
