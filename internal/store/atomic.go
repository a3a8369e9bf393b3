package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/iksnae/chatsync/internal"
)

// Op is one write inside a RunAtomic batch
type Op struct {
	name       string
	collection Collection
	apply      func(ctx context.Context, tx *sql.Tx) error
}

// String describes the operation for logs
func (o Op) String() string {
	return o.name + " " + string(o.collection)
}

// RunAtomic applies every op in one transaction: either all of them take
// effect or none do
func (s *Store) RunAtomic(ctx context.Context, ops ...Op) error {
	if len(ops) == 0 {
		return nil
	}
	collection := ops[0].collection
	opName := ops[0].name
	if len(ops) > 1 {
		collection, opName = "", "atomic"
	}
	return s.withTx(ctx, collection, opName, func(tx *sql.Tx) error {
		for _, op := range ops {
			if err := op.apply(ctx, tx); err != nil {
				return &internal.StorageError{Collection: string(op.collection), Op: op.name, Err: err}
			}
		}
		return nil
	})
}

// PutSession upserts the session row
func PutSession(session *internal.ChatSession) Op {
	return Op{name: "upsert", collection: Sessions, apply: func(ctx context.Context, tx *sql.Tx) error {
		if session == nil || session.ID == "" {
			return fmt.Errorf("session without id")
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sessions (id, title, created_at, updated_at, model, token_count, archived, shared, share_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				created_at = excluded.created_at,
				updated_at = excluded.updated_at,
				model = excluded.model,
				token_count = excluded.token_count,
				archived = excluded.archived,
				shared = excluded.shared,
				share_id = excluded.share_id`,
			session.ID, session.Title, formatStoreTime(session.CreatedAt), formatStoreTime(session.UpdatedAt),
			session.Model, session.TokenCount, boolInt(session.Archived), boolInt(session.Shared), nullString(session.ShareID))
		return err
	}}
}

// PutMessages upserts messages and replaces their attachments. Streaming is
// always stored as false.
func PutMessages(messages ...internal.Message) Op {
	return Op{name: "upsert", collection: Messages, apply: func(ctx context.Context, tx *sql.Tx) error {
		for _, m := range messages {
			if m.ID == "" || m.SessionID == "" {
				return fmt.Errorf("message %q without id or session", m.ID)
			}
			var metadata sql.NullString
			if len(m.Metadata) > 0 {
				data, err := json.Marshal(m.Metadata)
				if err != nil {
					return fmt.Errorf("message %s metadata: %w", m.ID, err)
				}
				metadata = sql.NullString{String: string(data), Valid: true}
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO messages (id, session_id, role, content, timestamp, model, streaming, error, metadata)
				VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					session_id = excluded.session_id,
					role = excluded.role,
					content = excluded.content,
					timestamp = excluded.timestamp,
					model = excluded.model,
					streaming = 0,
					error = excluded.error,
					metadata = excluded.metadata`,
				m.ID, m.SessionID, string(m.Role), m.Content, formatStoreTime(m.Timestamp), m.Model, boolInt(m.Error), metadata); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM attachments WHERE message_id = ?", m.ID); err != nil {
				return err
			}
			for _, a := range m.Attachments {
				a.MessageID = m.ID
				if err := putAttachment(ctx, tx, a); err != nil {
					return err
				}
			}
		}
		return nil
	}}
}

// PutAttachments upserts attachment rows
func PutAttachments(attachments ...internal.Attachment) Op {
	return Op{name: "upsert", collection: Attachments, apply: func(ctx context.Context, tx *sql.Tx) error {
		for _, a := range attachments {
			if err := putAttachment(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	}}
}

func putAttachment(ctx context.Context, tx *sql.Tx, a internal.Attachment) error {
	if a.ID == "" || a.MessageID == "" {
		return fmt.Errorf("attachment %q without id or message", a.ID)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO attachments (id, message_id, type, name, size, content, url, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			message_id = excluded.message_id,
			type = excluded.type,
			name = excluded.name,
			size = excluded.size,
			content = excluded.content,
			url = excluded.url,
			created_at = excluded.created_at`,
		a.ID, a.MessageID, string(a.Type), a.Name, a.Size, nullString(a.Content), nullString(a.URL), formatStoreTime(a.CreatedAt))
	return err
}

// RemoveSession deletes the session with its messages and their attachments.
// Attachments go first: they are found through the messages being removed.
func RemoveSession(id string) Op {
	return Op{name: "delete", collection: Sessions, apply: func(ctx context.Context, tx *sql.Tx) error {
		stmts := []string{
			"DELETE FROM attachments WHERE message_id IN (SELECT id FROM messages WHERE session_id = ?)",
			"DELETE FROM messages WHERE session_id = ?",
			"DELETE FROM sessions WHERE id = ?",
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return err
			}
		}
		return nil
	}}
}

// RemoveMessage deletes the message and its attachments
func RemoveMessage(id string) Op {
	return Op{name: "delete", collection: Messages, apply: func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM attachments WHERE message_id = ?", id); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM messages WHERE id = ?", id)
		return err
	}}
}

// ClearCollection empties a collection together with the collections that
// reference it: clearing sessions clears everything, clearing messages also
// clears attachments
func ClearCollection(c Collection) Op {
	return Op{name: "clear", collection: c, apply: func(ctx context.Context, tx *sql.Tx) error {
		var tables []Collection
		switch c {
		case Sessions:
			tables = []Collection{Attachments, Messages, Sessions}
		case Messages:
			tables = []Collection{Attachments, Messages}
		case Attachments:
			tables = []Collection{Attachments}
		default:
			return fmt.Errorf("unknown collection %q", c)
		}
		for _, t := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+string(t)); err != nil {
				return err
			}
		}
		return nil
	}}
}
