package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/iksnae/chatsync/internal"
)

// Record is one row keyed by field name
type Record map[string]any

const (
	sessionColumns    = "id, title, created_at, updated_at, model, token_count, archived, shared, share_id"
	messageColumns    = "id, session_id, role, content, timestamp, model, streaming, error, metadata"
	attachmentColumns = "id, message_id, type, name, size, content, url, created_at"
)

// LoadAllSessions returns every session, most recently updated first, with
// messages in timestamp order and attachments populated
func (s *Store) LoadAllSessions(ctx context.Context) ([]*internal.ChatSession, error) {
	sessions, err := s.loadSessions(ctx, "SELECT "+sessionColumns+" FROM sessions ORDER BY updated_at DESC, id")
	if err != nil {
		return nil, err
	}
	messages, err := s.loadMessages(ctx,
		"SELECT "+messageColumns+" FROM messages ORDER BY timestamp ASC, id",
		"SELECT "+attachmentColumns+" FROM attachments ORDER BY created_at, id")
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*internal.ChatSession, len(sessions))
	for _, session := range sessions {
		byID[session.ID] = session
	}
	for _, m := range messages {
		owner, ok := byID[m.SessionID]
		if !ok {
			internal.LogDebug("Skipping message %s of missing session %s", m.ID, m.SessionID)
			continue
		}
		owner.Messages = append(owner.Messages, m)
	}
	return sessions, nil
}

// MessagesForSession returns the messages of one session in timestamp order
func (s *Store) MessagesForSession(ctx context.Context, sessionID string) ([]internal.Message, error) {
	return s.loadMessages(ctx,
		"SELECT "+messageColumns+" FROM messages WHERE session_id = ? ORDER BY timestamp ASC, id",
		"SELECT "+attachmentColumns+" FROM attachments WHERE message_id IN (SELECT id FROM messages WHERE session_id = ?) ORDER BY created_at, id",
		sessionID)
}

// AttachmentsForMessage returns the attachments of one message
func (s *Store) AttachmentsForMessage(ctx context.Context, messageID string) ([]internal.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+attachmentColumns+" FROM attachments WHERE message_id = ? ORDER BY created_at, id", messageID)
	if err != nil {
		return nil, &internal.StorageError{Collection: string(Attachments), Op: "query", Err: err}
	}
	defer rows.Close()

	var out []internal.Attachment
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, &internal.StorageError{Collection: string(Attachments), Op: "query", Err: err}
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, &internal.StorageError{Collection: string(Attachments), Op: "query", Err: err}
	}
	return out, nil
}

// Query returns the rows of collection whose indexed field equals value.
// Non-indexed fields are rejected.
func (s *Store) Query(ctx context.Context, collection Collection, field string, value any) ([]Record, error) {
	fields, ok := indexedFields[collection]
	if !ok {
		return nil, &internal.StorageError{Collection: string(collection), Op: "query", Err: fmt.Errorf("unknown collection")}
	}
	column, ok := fields[field]
	if !ok {
		return nil, &internal.StorageError{Collection: string(collection), Op: "query", Err: fmt.Errorf("field %q is not indexed", field)}
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE %s = ? ORDER BY rowid", collection, column), bindValue(value))
	if err != nil {
		return nil, &internal.StorageError{Collection: string(collection), Op: "query", Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &internal.StorageError{Collection: string(collection), Op: "query", Err: err}
	}

	var records []Record
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &internal.StorageError{Collection: string(collection), Op: "query", Err: err}
		}
		rec := make(Record, len(columns))
		for i, col := range columns {
			name := fieldNames[col]
			if name == "" {
				name = col
			}
			if b, ok := values[i].([]byte); ok {
				rec[name] = string(b)
			} else {
				rec[name] = values[i]
			}
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &internal.StorageError{Collection: string(collection), Op: "query", Err: err}
	}
	return records, nil
}

// bindValue converts Go values to their stored representation
func bindValue(v any) any {
	switch x := v.(type) {
	case bool:
		return boolInt(x)
	case time.Time:
		return formatStoreTime(x)
	case internal.Role:
		return string(x)
	case internal.AttachmentType:
		return string(x)
	default:
		return v
	}
}

// SearchSessions returns sessions whose title or any message content contains
// query, case-insensitively, most recently updated first
func (s *Store) SearchSessions(ctx context.Context, query string) ([]*internal.ChatSession, error) {
	all, err := s.LoadAllSessions(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(query) == "" {
		return all, nil
	}

	pattern := "%" + escapeLike(strings.ToLower(query)) + "%"
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM sessions WHERE lower(title) LIKE ? ESCAPE '\'
		UNION
		SELECT session_id FROM messages WHERE lower(content) LIKE ? ESCAPE '\'`, pattern, pattern)
	if err != nil {
		return nil, &internal.StorageError{Collection: string(Sessions), Op: "search", Err: err}
	}
	defer rows.Close()

	matched := make(map[string]bool)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, &internal.StorageError{Collection: string(Sessions), Op: "search", Err: err}
		}
		matched[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, &internal.StorageError{Collection: string(Sessions), Op: "search", Err: err}
	}

	out := make([]*internal.ChatSession, 0, len(matched))
	for _, session := range all {
		if matched[session.ID] {
			out = append(out, session)
		}
	}
	return out, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func (s *Store) loadSessions(ctx context.Context, query string, args ...any) ([]*internal.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &internal.StorageError{Collection: string(Sessions), Op: "query", Err: err}
	}
	defer rows.Close()

	sessions := make([]*internal.ChatSession, 0)
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, &internal.StorageError{Collection: string(Sessions), Op: "query", Err: err}
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, &internal.StorageError{Collection: string(Sessions), Op: "query", Err: err}
	}
	return sessions, nil
}

// loadMessages runs a message query, then the matching attachment query with
// the same arguments
func (s *Store) loadMessages(ctx context.Context, messageQuery, attachmentQuery string, args ...any) ([]internal.Message, error) {
	rows, err := s.db.QueryContext(ctx, messageQuery, args...)
	if err != nil {
		return nil, &internal.StorageError{Collection: string(Messages), Op: "query", Err: err}
	}
	var messages []internal.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			rows.Close()
			return nil, &internal.StorageError{Collection: string(Messages), Op: "query", Err: err}
		}
		messages = append(messages, m)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, &internal.StorageError{Collection: string(Messages), Op: "query", Err: err}
	}
	if len(messages) == 0 {
		return messages, nil
	}

	// the single connection must be released before the attachment query
	attachments, err := s.attachmentsByMessage(ctx, attachmentQuery, args...)
	if err != nil {
		return nil, err
	}
	for i := range messages {
		messages[i].Attachments = attachments[messages[i].ID]
	}
	return messages, nil
}

func (s *Store) attachmentsByMessage(ctx context.Context, query string, args ...any) (map[string][]internal.Attachment, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &internal.StorageError{Collection: string(Attachments), Op: "query", Err: err}
	}
	defer rows.Close()

	out := make(map[string][]internal.Attachment)
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, &internal.StorageError{Collection: string(Attachments), Op: "query", Err: err}
		}
		out[a.MessageID] = append(out[a.MessageID], a)
	}
	if err := rows.Err(); err != nil {
		return nil, &internal.StorageError{Collection: string(Attachments), Op: "query", Err: err}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*internal.ChatSession, error) {
	var (
		session          internal.ChatSession
		created, updated string
		archived, shared int
		shareID          sql.NullString
	)
	if err := row.Scan(&session.ID, &session.Title, &created, &updated, &session.Model, &session.TokenCount, &archived, &shared, &shareID); err != nil {
		return nil, err
	}
	var err error
	if session.CreatedAt, err = parseStoreTime(created); err != nil {
		return nil, fmt.Errorf("session %s created_at: %w", session.ID, err)
	}
	if session.UpdatedAt, err = parseStoreTime(updated); err != nil {
		return nil, fmt.Errorf("session %s updated_at: %w", session.ID, err)
	}
	session.Archived = archived != 0
	session.Shared = shared != 0
	session.ShareID = stringPtr(shareID)
	session.Messages = []internal.Message{}
	return &session, nil
}

func scanMessage(row scanner) (internal.Message, error) {
	var (
		m                internal.Message
		role, ts         string
		streaming, isErr int
		metadata         sql.NullString
	)
	if err := row.Scan(&m.ID, &m.SessionID, &role, &m.Content, &ts, &m.Model, &streaming, &isErr, &metadata); err != nil {
		return m, err
	}
	var err error
	if m.Role, err = internal.ParseRole(role); err != nil {
		return m, fmt.Errorf("message %s: %w", m.ID, err)
	}
	if m.Timestamp, err = parseStoreTime(ts); err != nil {
		return m, fmt.Errorf("message %s timestamp: %w", m.ID, err)
	}
	m.Error = isErr != 0
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &m.Metadata); err != nil {
			return m, fmt.Errorf("message %s metadata: %w", m.ID, err)
		}
	}
	return m, nil
}

func scanAttachment(row scanner) (internal.Attachment, error) {
	var (
		a            internal.Attachment
		typ, created string
		content, url sql.NullString
	)
	if err := row.Scan(&a.ID, &a.MessageID, &typ, &a.Name, &a.Size, &content, &url, &created); err != nil {
		return a, err
	}
	var err error
	if a.Type, err = internal.ParseAttachmentType(typ); err != nil {
		return a, fmt.Errorf("attachment %s: %w", a.ID, err)
	}
	if a.CreatedAt, err = parseStoreTime(created); err != nil {
		return a, fmt.Errorf("attachment %s created_at: %w", a.ID, err)
	}
	a.Content = stringPtr(content)
	a.URL = stringPtr(url)
	return a, nil
}
