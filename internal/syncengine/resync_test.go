package syncengine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/feed"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestResync_ConvergesAndKeepsMessages(t *testing.T) {
	t1 := internal.TestEpoch
	t2 := t1.Add(6 * time.Hour)
	local := internal.CreateTestSession("S", 0)
	h := newHarness(t, []*internal.ChatSession{local})
	h.start()

	share := "sh-1"
	authoritative := &internal.ChatSession{
		ID:         "S",
		Title:      "Server title",
		CreatedAt:  t1,
		UpdatedAt:  t2,
		Model:      "claude",
		TokenCount: 42,
		Archived:   true,
		Shared:     true,
		ShareID:    &share,
	}
	h.remote.sessions = []*internal.ChatSession{authoritative}

	require.NoError(t, h.engine.SyncWithRemote(h.ctx))

	got := h.snapshot().Find("S")
	require.Equal(t, "Server title", got.Title)
	require.True(t, got.UpdatedAt.Equal(t2))
	require.Equal(t, "claude", got.Model)
	require.Equal(t, 42, got.TokenCount)
	require.True(t, got.Archived)
	require.Equal(t, "sh-1", *got.ShareID)
	require.Equal(t, []string{"S-m1", "S-m2"}, messageIDs(got))

	stored := h.stored()[0]
	require.Equal(t, "Server title", stored.Title)
	require.Equal(t, 42, stored.TokenCount)
	require.Equal(t, []string{"S-m1", "S-m2"}, messageIDs(stored))

	// realtime is live, so message lists are not fetched
	_, messageCalls := h.remote.calls()
	require.Zero(t, messageCalls)
	require.Equal(t, Connected, h.engine.State())

	cp, ok, err := internal.NewStateFile(filepath.Join(h.dir, "sync-state.yaml")).LoadCheckpoint()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, testUser, cp.UserID)
	require.Equal(t, 1, cp.SessionCount)
	require.Equal(t, "connected", cp.State)
	require.True(t, cp.LastSyncTime.Equal(testNow))
	require.Equal(t, 1.0, promtest.ToFloat64(h.engine.metrics.ResyncRuns.WithLabelValues("success")))
}

func TestResync_NeverDeletesLocalSessions(t *testing.T) {
	h := newHarness(t, []*internal.ChatSession{
		internal.CreateTestSession("local-only", 0),
		internal.CreateTestSession("shared", time.Hour),
	})
	h.start()
	h.remote.sessions = []*internal.ChatSession{internal.CreateTestSession("shared", 2*time.Hour)}

	require.NoError(t, h.engine.SyncWithRemote(h.ctx))
	require.Equal(t, []string{"shared", "local-only"}, sessionIDs(h.snapshot().Sessions))
	require.Len(t, h.stored(), 2)
}

func TestResync_DegradedFetchesMessageLists(t *testing.T) {
	h := newHarness(t, []*internal.ChatSession{internal.CreateTestSession("s1", 0)}, withoutFeed())
	h.start()
	require.Equal(t, Disconnected, h.engine.State())

	h.remote.sessions = []*internal.ChatSession{
		{ID: "s1", Title: "one", CreatedAt: internal.TestEpoch, UpdatedAt: internal.TestEpoch},
		{ID: "s9", Title: "nine", CreatedAt: internal.TestEpoch, UpdatedAt: internal.TestEpoch.Add(time.Hour)},
	}
	h.remote.messages["s1"] = []internal.Message{
		internal.CreateTestMessage("s1-m2", "s1", internal.RoleAssistant, "server copy", internal.TestEpoch.Add(time.Second)),
		internal.CreateTestMessage("r1", "s1", internal.RoleUser, "from elsewhere", internal.TestEpoch.Add(time.Minute)),
	}
	h.remote.messages["s9"] = []internal.Message{
		internal.CreateTestMessage("r9", "", internal.RoleUser, "nine", internal.TestEpoch),
	}

	var states []ConnState
	h.engine.OnStateChange(func(_, to ConnState) { states = append(states, to) })

	require.NoError(t, h.engine.SyncWithRemote(h.ctx))

	snap := h.snapshot()
	require.Equal(t, []string{"s9", "s1"}, sessionIDs(snap.Sessions))
	s1 := snap.Find("s1")
	require.Equal(t, []string{"s1-m1", "s1-m2", "r1"}, messageIDs(s1))
	require.Equal(t, "server copy", s1.Messages[1].Content)
	require.Equal(t, []string{"r9"}, messageIDs(snap.Find("s9")))
	require.Equal(t, "s9", snap.Find("s9").Messages[0].SessionID)

	stored := h.stored()
	require.Equal(t, []string{"s9", "s1"}, sessionIDs(stored))
	require.Equal(t, []string{"s1-m1", "s1-m2", "r1"}, messageIDs(stored[1]))

	_, messageCalls := h.remote.calls()
	require.Equal(t, 2, messageCalls)
	require.Equal(t, Disconnected, h.engine.State())
	require.Equal(t, []ConnState{Syncing, Disconnected}, states)
}

func TestResync_DegradedMessagesOption(t *testing.T) {
	h := newHarness(t, nil, func(o *Options) { o.DegradedMessages = true })
	h.start()
	h.remote.sessions = []*internal.ChatSession{{ID: "s1", UpdatedAt: internal.TestEpoch}}

	require.NoError(t, h.engine.SyncWithRemote(h.ctx))
	_, messageCalls := h.remote.calls()
	require.Equal(t, 1, messageCalls)
}

func TestResync_FailureKeepsLiveFeedConnected(t *testing.T) {
	h := newHarness(t, []*internal.ChatSession{internal.CreateTestSession("s1", 0)})
	h.start()
	before := h.dump()
	h.remote.err = errors.New("connection refused")

	err := h.engine.SyncWithRemote(h.ctx)
	var rerr *internal.ResyncError
	require.ErrorAs(t, err, &rerr)
	require.Equal(t, "sessions", rerr.Stage)

	h.flush()
	require.Equal(t, Connected, h.engine.State())
	require.Equal(t, before, h.dump())
	require.NotEmpty(t, h.notes.list)
	require.Equal(t, 1.0, promtest.ToFloat64(h.engine.metrics.ResyncRuns.WithLabelValues("failure")))

	// events on the still-joined topics apply under a connected state
	h.feed.emit(t, "messages:s1", feed.Insert, "messages",
		`{"id":"m9","session_id":"s1","role":"user","content":"x","timestamp":"2024-05-01T13:00:00Z"}`, "")
	h.flush()
	require.Equal(t, []string{"s1-m1", "s1-m2", "m9"}, messageIDs(h.snapshot().Find("s1")))
	require.Equal(t, Connected, h.engine.State())

	// the next manual sync recovers
	h.remote.mu.Lock()
	h.remote.err = nil
	h.remote.mu.Unlock()
	require.NoError(t, h.engine.SyncWithRemote(h.ctx))
	require.Nil(t, h.engine.LastResyncError())
}

func TestResync_FailureWithoutFeedIsDisconnected(t *testing.T) {
	h := newHarness(t, []*internal.ChatSession{internal.CreateTestSession("s1", 0)}, withoutFeed())
	h.start()
	h.remote.err = errors.New("connection refused")

	require.Error(t, h.engine.SyncWithRemote(h.ctx))
	h.flush()
	require.Equal(t, Disconnected, h.engine.State())
}

func TestResync_ContextCancelled(t *testing.T) {
	h := newHarness(t, nil)
	h.start()

	ctx, cancel := context.WithCancel(h.ctx)
	cancel()
	require.ErrorIs(t, h.engine.SyncWithRemote(ctx), context.Canceled)
}

func TestMergeMessages(t *testing.T) {
	at := internal.TestEpoch
	local := []internal.Message{
		internal.CreateTestMessage("a", "s", internal.RoleUser, "local a", at),
		internal.CreateTestMessage("c", "s", internal.RoleUser, "local c", at.Add(2*time.Second)),
	}
	remote := []internal.Message{
		internal.CreateTestMessage("b", "s", internal.RoleAssistant, "remote b", at.Add(time.Second)),
		internal.CreateTestMessage("a", "s", internal.RoleUser, "remote a", at),
	}

	got := mergeMessages(local, remote)
	ids := make([]string, len(got))
	for i, m := range got {
		ids[i] = m.ID
	}
	require.Equal(t, []string{"a", "b", "c"}, ids)
	require.Equal(t, "remote a", got[0].Content)
	require.Equal(t, "local c", got[2].Content)
}
