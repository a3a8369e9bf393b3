package syncengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/feed"
)

var (
	// ErrUnknownSession is returned by local commands naming a missing session
	ErrUnknownSession = errors.New("unknown session")
	// ErrUnknownMessage is returned by local commands naming a missing message
	ErrUnknownMessage = errors.New("unknown message")
)

// Local commands are optimistic: they land in the store and the view before
// any remote confirmation, through the same entry points as remote events.

// CreateSession creates an empty session and makes it current
func (e *Engine) CreateSession(ctx context.Context, title, model string) (*internal.ChatSession, error) {
	now := e.now().UTC()
	s := &internal.ChatSession{
		ID:        uuid.NewString(),
		Title:     title,
		Messages:  []internal.Message{},
		CreatedAt: now,
		UpdatedAt: now,
		Model:     model,
	}
	err := e.do(ctx, "create session", func(ctx context.Context) error {
		if _, err := e.insertSession(ctx, s); err != nil {
			return err
		}
		e.view.SetCurrent(s.ID)
		e.metrics.EventsApplied.WithLabelValues(sessionsTable, string(feed.Insert)).Inc()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// RenameSession changes a session's title
func (e *Engine) RenameSession(ctx context.Context, id, title string) error {
	return e.do(ctx, "rename session", func(ctx context.Context) error {
		cur := e.view.Get(id)
		if cur == nil {
			return fmt.Errorf("%w: %s", ErrUnknownSession, id)
		}
		next := e.stamped(cur)
		next.Title = title
		_, err := e.updateSession(ctx, next)
		return err
	})
}

// AddMessage appends a new message to a session
func (e *Engine) AddMessage(ctx context.Context, sessionID string, role internal.Role, content string) (internal.Message, error) {
	if _, err := internal.ParseRole(string(role)); err != nil {
		return internal.Message{}, err
	}
	m := internal.Message{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: e.now().UTC(),
		Metadata:  map[string]any{},
	}
	err := e.do(ctx, "add message", func(ctx context.Context) error {
		_, err := e.insertMessage(ctx, m)
		var skipped *internal.ReconciliationSkipped
		if errors.As(err, &skipped) {
			return fmt.Errorf("%w: %s", ErrUnknownSession, sessionID)
		}
		if err == nil {
			e.metrics.EventsApplied.WithLabelValues(messagesTable, string(feed.Insert)).Inc()
		}
		return err
	})
	return m, err
}

// EditMessage replaces the content of a message and clears its streaming flag
func (e *Engine) EditMessage(ctx context.Context, messageID, content string) error {
	return e.do(ctx, "edit message", func(ctx context.Context) error {
		owner, ok := e.resolveOwner("", messageID)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
		}
		cur := e.view.Get(owner)
		next := cur.Messages[cur.MessageIndex(messageID)].Clone()
		next.Content = content
		next.Streaming = false
		_, err := e.updateMessage(ctx, owner, next)
		return err
	})
}

// DeleteSession deletes a session with its messages and attachments
func (e *Engine) DeleteSession(ctx context.Context, id string) error {
	return e.do(ctx, "delete session", func(ctx context.Context) error {
		deleted, err := e.deleteSession(ctx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("%w: %s", ErrUnknownSession, id)
		}
		e.metrics.EventsApplied.WithLabelValues(sessionsTable, string(feed.Delete)).Inc()
		return nil
	})
}

// DeleteMessage deletes a message wherever it lives
func (e *Engine) DeleteMessage(ctx context.Context, messageID string) error {
	return e.do(ctx, "delete message", func(ctx context.Context) error {
		deleted, err := e.deleteMessage(ctx, "", messageID)
		if err != nil {
			return err
		}
		if !deleted {
			return fmt.Errorf("%w: %s", ErrUnknownMessage, messageID)
		}
		e.metrics.EventsApplied.WithLabelValues(messagesTable, string(feed.Delete)).Inc()
		return nil
	})
}

// OpenSession makes a session current and makes sure its topic is open
func (e *Engine) OpenSession(ctx context.Context, id string) error {
	return e.do(ctx, "open session", func(ctx context.Context) error {
		if !e.view.Has(id) {
			return fmt.Errorf("%w: %s", ErrUnknownSession, id)
		}
		e.view.SetCurrent(id)
		e.ensureMessageTopic(ctx, id)
		return nil
	})
}
