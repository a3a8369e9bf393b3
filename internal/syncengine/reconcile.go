package syncengine

import (
	"context"
	"errors"
	"strings"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/feed"
	"github.com/iksnae/chatsync/internal/store"
)

// applyRemote reconciles one change from the feed. Skipped events are logged
// and counted, storage failures degrade the connection state.
func (e *Engine) applyRemote(ctx context.Context, c feed.Change) {
	var (
		applied bool
		err     error
	)
	switch c.Table {
	case sessionsTable:
		applied, err = e.applySessionChange(ctx, c)
	case messagesTable:
		applied, err = e.applyMessageChange(ctx, c)
	default:
		err = &internal.ReconciliationSkipped{Table: c.Table, ChangeType: string(c.Type), Reason: "unknown table"}
	}

	var skipped *internal.ReconciliationSkipped
	switch {
	case errors.As(err, &skipped):
		e.metrics.EventsSkipped.WithLabelValues(c.Table, string(c.Type)).Inc()
		internal.LogWarn("%v", skipped)
	case err != nil:
		e.storageFailed("apply "+string(c.Type)+" "+c.Table, err)
	case applied:
		e.metrics.EventsApplied.WithLabelValues(c.Table, string(c.Type)).Inc()
	default:
		internal.LogDebug("No-op %s %s on %s", c.Type, c.Table, c.Topic)
	}
}

func (e *Engine) applySessionChange(ctx context.Context, c feed.Change) (bool, error) {
	if c.Type == feed.Delete {
		id := e.normalizer.RowID(c.Old)
		if id == "" {
			return false, skip(c, "", "delete without id")
		}
		return e.deleteSession(ctx, id)
	}

	s, err := e.normalizer.NormalizeSession(c.New)
	if err != nil {
		return false, skip(c, e.normalizer.RowID(c.New), err.Error())
	}
	if c.Type == feed.Insert {
		return e.insertSession(ctx, s)
	}
	return e.updateSession(ctx, s)
}

func (e *Engine) applyMessageChange(ctx context.Context, c feed.Change) (bool, error) {
	if c.Type == feed.Delete {
		id := e.normalizer.RowID(c.Old)
		if id == "" {
			return false, skip(c, "", "delete without id")
		}
		return e.deleteMessage(ctx, e.normalizer.RowField(c.Old, "session_id"), id)
	}

	m, err := e.normalizer.NormalizeMessage(c.New)
	if err != nil {
		return false, skip(c, e.normalizer.RowID(c.New), err.Error())
	}
	m.Streaming = e.normalizer.NormalizeStreamingFlag(c.New)
	if m.SessionID == "" {
		m.SessionID = strings.TrimPrefix(c.Topic, messagesTable+":")
	}
	if c.Type == feed.Insert {
		return e.insertMessage(ctx, m)
	}
	return e.updateMessage(ctx, m.SessionID, m)
}

func skip(c feed.Change, id, reason string) error {
	return &internal.ReconciliationSkipped{Table: c.Table, ChangeType: string(c.Type), RecordID: id, Reason: reason}
}

// The entry points below are shared by remote events and local commands.
// Each writes the store first and touches the view only when the write landed.

// insertSession adds a session that is not in the view yet. A known id is an
// idempotent duplicate.
func (e *Engine) insertSession(ctx context.Context, s *internal.ChatSession) (bool, error) {
	if e.view.Has(s.ID) {
		return false, nil
	}
	s = s.Clone()
	s.Messages = []internal.Message{}
	if err := e.store.UpsertSession(ctx, s); err != nil {
		return false, err
	}
	e.view.UpsertSession(s, false)
	e.view.Sort()
	e.ensureMessageTopic(ctx, s.ID)
	return true, nil
}

// updateSession replaces the mutable fields of a known session and keeps its
// messages. Unknown ids are never materialized.
func (e *Engine) updateSession(ctx context.Context, s *internal.ChatSession) (bool, error) {
	cur := e.view.Get(s.ID)
	if cur == nil {
		return false, nil
	}
	next := s.Clone()
	next.Messages = nil
	if next.CreatedAt.IsZero() {
		next.CreatedAt = cur.CreatedAt
	}
	next.UpdatedAt = internal.LaterOf(cur.UpdatedAt, s.UpdatedAt)

	if err := e.store.UpsertSession(ctx, next); err != nil {
		return false, err
	}
	e.view.UpsertSession(next, true)
	e.view.Sort()
	return true, nil
}

// deleteSession cascades through the store, closes the session's topic and
// moves the current selection to the most recent remaining session.
func (e *Engine) deleteSession(ctx context.Context, id string) (bool, error) {
	if !e.view.Has(id) {
		return false, nil
	}
	wasCurrent := e.view.CurrentID() == id

	if err := e.store.DeleteSession(ctx, id); err != nil {
		return false, err
	}
	e.view.RemoveSession(id)
	e.closeMessageTopic(ctx, id)

	if wasCurrent {
		e.view.Sort()
		if sessions := e.view.Sessions(); len(sessions) > 0 {
			e.view.SetCurrent(sessions[0].ID)
		}
	}
	return true, nil
}

// insertMessage appends a message to a known session and stamps the session.
// Re-delivery of identical content is a no-op, different content replaces.
func (e *Engine) insertMessage(ctx context.Context, m internal.Message) (bool, error) {
	cur := e.view.Get(m.SessionID)
	if cur == nil {
		return false, &internal.ReconciliationSkipped{
			Table:      messagesTable,
			ChangeType: string(feed.Insert),
			RecordID:   m.ID,
			Reason:     "unknown session " + m.SessionID,
		}
	}
	if j := cur.MessageIndex(m.ID); j >= 0 && internal.SameMessage(cur.Messages[j], m) {
		return false, nil
	}

	session := e.stamped(cur)
	if err := e.store.RunAtomic(ctx, store.PutSession(session), store.PutMessages(m)); err != nil {
		return false, err
	}
	e.view.UpsertMessageInSession(m.SessionID, m)
	e.view.UpsertSession(session, true)
	e.view.Sort()
	return true, nil
}

// updateMessage replaces the mutable fields of a known message; id, role and
// timestamp stay as they are.
func (e *Engine) updateMessage(ctx context.Context, sessionID string, m internal.Message) (bool, error) {
	owner, ok := e.resolveOwner(sessionID, m.ID)
	if !ok {
		return false, nil
	}
	cur := e.view.Get(owner)
	j := cur.MessageIndex(m.ID)
	prev := cur.Messages[j]

	next := prev.Clone()
	next.Content = m.Content
	next.Streaming = m.Streaming
	next.Error = m.Error
	next.Metadata = m.Metadata
	if internal.SameMessage(prev, next) {
		return false, nil
	}

	if err := e.store.BulkUpsertMessages(ctx, []internal.Message{next}); err != nil {
		return false, err
	}
	e.view.UpsertMessageInSession(owner, next)
	return true, nil
}

// deleteMessage removes a known message and stamps its session
func (e *Engine) deleteMessage(ctx context.Context, sessionID, messageID string) (bool, error) {
	owner, ok := e.resolveOwner(sessionID, messageID)
	if !ok {
		return false, nil
	}

	session := e.stamped(e.view.Get(owner))
	if err := e.store.RunAtomic(ctx, store.RemoveMessage(messageID), store.PutSession(session)); err != nil {
		return false, err
	}
	e.view.RemoveMessageFromSession(owner, messageID)
	e.view.UpsertSession(session, true)
	e.view.Sort()
	return true, nil
}

// resolveOwner finds the session holding messageID. Delete events often carry
// only the primary key, so the view's owner index fills in a missing session.
func (e *Engine) resolveOwner(sessionID, messageID string) (string, bool) {
	if sessionID == "" {
		var ok bool
		if sessionID, ok = e.view.MessageOwner(messageID); !ok {
			return "", false
		}
	}
	cur := e.view.Get(sessionID)
	if cur == nil || cur.MessageIndex(messageID) < 0 {
		return "", false
	}
	return sessionID, true
}

// stamped returns the session row with updatedAt moved to now, never back
func (e *Engine) stamped(cur *internal.ChatSession) *internal.ChatSession {
	s := *cur
	s.Messages = nil
	s.UpdatedAt = internal.LaterOf(cur.UpdatedAt, e.now().UTC())
	return &s
}
