package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/store"
	"golang.org/x/sync/errgroup"
)

// SyncWithRemote pulls the authoritative session list and upserts it into the
// store and the view. Message lists are fetched too when the realtime feed is
// not live or DegradedMessages is set. Local sessions and messages missing
// from the listing are kept. Concurrent calls share one run.
func (e *Engine) SyncWithRemote(ctx context.Context) error {
	if !e.started.Load() {
		return ErrNotStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	ch := e.resyncs.DoChan("resync", func() (any, error) {
		return nil, e.resync(ctx)
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) resync(ctx context.Context) error {
	start := time.Now()

	var (
		userID   string
		realtime bool
		prev     ConnState
	)
	err := e.do(ctx, "resync begin", func(context.Context) error {
		if e.remote == nil || e.userID == "" {
			return ErrNoRemote
		}
		userID, realtime, prev = e.userID, e.sessionsJoined(), e.State()
		e.setState(Syncing)
		return nil
	})
	if errors.Is(err, ErrNoRemote) {
		return &internal.ResyncError{Stage: "sessions", Err: err}
	}
	if err != nil {
		// the begin step may still run after the caller gave up
		e.enqueue("resync abort", func(context.Context) {
			if e.State() == Syncing {
				e.setState(e.settledState())
			}
		})
		return err
	}

	sessions, err := e.remote.ListSessions(ctx, userID)
	if err != nil {
		return e.resyncFailed(&internal.ResyncError{Stage: "sessions", Err: err})
	}

	var fetched map[string][]internal.Message
	if !realtime || e.degradedMessages {
		if fetched, err = e.fetchMessages(ctx, sessions); err != nil {
			return e.resyncFailed(&internal.ResyncError{Stage: "messages", Err: err})
		}
	}

	err = e.do(ctx, "resync apply", func(ctx context.Context) error {
		return e.applyResync(ctx, sessions, fetched, prev)
	})
	if err != nil {
		return e.resyncFailed(&internal.ResyncError{Stage: "apply", Err: err})
	}

	e.lastResyncErr.Store(nil)
	e.metrics.ResyncRuns.WithLabelValues("success").Inc()
	e.metrics.ResyncDuration.Observe(time.Since(start).Seconds())
	return nil
}

// fetchMessages lists the messages of every session with bounded parallelism
func (e *Engine) fetchMessages(ctx context.Context, sessions []*internal.ChatSession) (map[string][]internal.Message, error) {
	var mu sync.Mutex
	out := make(map[string][]internal.Message, len(sessions))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.resyncConcurrency)
	for _, s := range sessions {
		id := s.ID
		g.Go(func() error {
			messages, err := e.remote.ListMessages(gctx, id)
			if err != nil {
				return fmt.Errorf("session %s: %w", id, err)
			}
			mu.Lock()
			out[id] = messages
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) applyResync(ctx context.Context, remoteSessions []*internal.ChatSession, fetched map[string][]internal.Message, prev ConnState) error {
	ops := make([]store.Op, 0, len(remoteSessions)*2)
	merged := make([]*internal.ChatSession, 0, len(remoteSessions))

	for _, rs := range remoteSessions {
		s := rs.Clone()
		var messages []internal.Message
		if cur := e.view.Get(s.ID); cur != nil {
			if s.CreatedAt.IsZero() {
				s.CreatedAt = cur.CreatedAt
			}
			s.UpdatedAt = internal.LaterOf(cur.UpdatedAt, s.UpdatedAt)
			messages = cur.Messages
		}
		ops = append(ops, store.PutSession(s))

		if remoteMessages, ok := fetched[s.ID]; ok && len(remoteMessages) > 0 {
			for i := range remoteMessages {
				remoteMessages[i].SessionID = s.ID
			}
			messages = mergeMessages(messages, remoteMessages)
			ops = append(ops, store.PutMessages(remoteMessages...))
		}
		if messages == nil {
			messages = []internal.Message{}
		}
		s.Messages = messages
		merged = append(merged, s)
	}

	if err := e.store.RunAtomic(ctx, ops...); err != nil {
		e.metrics.StorageFailures.Inc()
		return err
	}

	for _, s := range merged {
		isNew := !e.view.Has(s.ID)
		e.view.UpsertSession(s, false)
		if isNew {
			e.ensureMessageTopic(ctx, s.ID)
		}
	}
	e.view.Sort()
	if e.view.CurrentID() == "" {
		if sessions := e.view.Sessions(); len(sessions) > 0 {
			e.view.SetCurrent(sessions[0].ID)
		}
	}

	switch {
	case e.sessionsJoined():
		e.setState(Connected)
	case e.State() == Syncing:
		if prev == Connected || prev == Syncing {
			prev = Disconnected
		}
		e.setState(prev)
	}

	if e.checkpoint != nil {
		cp := internal.Checkpoint{
			UserID:       e.userID,
			LastSyncTime: e.now().UTC(),
			SessionCount: len(remoteSessions),
			State:        e.State().String(),
		}
		if err := e.checkpoint.SaveCheckpoint(cp); err != nil {
			internal.LogWarn("Failed to save sync checkpoint: %v", err)
		}
	}
	internal.LogInfo("Resync applied %d sessions (%d with message lists)", len(remoteSessions), len(fetched))
	return nil
}

// settledState is the state to leave Syncing for when no resync is applied
func (e *Engine) settledState() ConnState {
	if e.sessionsJoined() {
		return Connected
	}
	return Disconnected
}

func (e *Engine) resyncFailed(err error) error {
	e.lastResyncErr.Store(&err)
	e.metrics.ResyncRuns.WithLabelValues("failure").Inc()
	internal.LogWarn("Resync failed: %v", err)
	e.enqueue("resync failed", func(context.Context) {
		e.notifier.Notify(LevelWarn, "Sync with server failed")
		// live topics keep applying events, so a joined feed stays connected
		e.setState(e.settledState())
	})
	return err
}

// mergeMessages overlays remote messages on the local list by id and keeps
// local-only ones, ordered by timestamp
func mergeMessages(local, remote []internal.Message) []internal.Message {
	out := make([]internal.Message, 0, len(local)+len(remote))
	pos := make(map[string]int, len(local)+len(remote))
	for _, m := range local {
		pos[m.ID] = len(out)
		out = append(out, m.Clone())
	}
	for _, m := range remote {
		if i, ok := pos[m.ID]; ok {
			out[i] = m.Clone()
			continue
		}
		pos[m.ID] = len(out)
		out = append(out, m.Clone())
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID < out[j].ID
	})
	return out
}
