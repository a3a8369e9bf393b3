package internal

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// remoteTimeLayouts are the timestamp shapes the backend emits: PostgREST uses
// RFC 3339, realtime payloads sometimes drop the "T" separator.
var remoteTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999",
}

// Normalizer converts remote snake_case rows into domain records
type Normalizer struct{}

// NewNormalizer creates a new Normalizer
func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// RowID returns the primary key of a raw row, or "" when absent
func (n *Normalizer) RowID(raw []byte) string {
	return gjson.GetBytes(raw, "id").String()
}

// RowField returns a string column of a raw row
func (n *Normalizer) RowField(raw []byte, field string) string {
	return gjson.GetBytes(raw, field).String()
}

// NormalizeSession converts a chat_sessions row to a ChatSession with no messages
func (n *Normalizer) NormalizeSession(raw []byte) (*ChatSession, error) {
	if !gjson.ValidBytes(raw) {
		return nil, &ParseError{Source: "remote", Key: "chat_sessions", Err: fmt.Errorf("invalid JSON")}
	}
	row := gjson.ParseBytes(raw)
	id := row.Get("id").String()
	if id == "" {
		return nil, &ParseError{Source: "remote", Key: "chat_sessions", Err: fmt.Errorf("row without id")}
	}

	created, err := parseRemoteTime(row.Get("created_at").String())
	if err != nil {
		return nil, &ParseError{Source: "remote", Key: id, Err: fmt.Errorf("created_at: %w", err)}
	}
	updated, err := parseRemoteTime(row.Get("updated_at").String())
	if err != nil {
		return nil, &ParseError{Source: "remote", Key: id, Err: fmt.Errorf("updated_at: %w", err)}
	}
	if updated.IsZero() {
		updated = created
	}

	session := &ChatSession{
		ID:         id,
		Title:      row.Get("title").String(),
		Messages:   []Message{},
		CreatedAt:  created,
		UpdatedAt:  updated,
		Model:      row.Get("model").String(),
		TokenCount: int(row.Get("token_count").Int()),
		Archived:   row.Get("archived").Bool(),
		Shared:     row.Get("shared").Bool(),
	}
	if share := row.Get("share_id"); share.Exists() && share.Type != gjson.Null && share.String() != "" {
		s := share.String()
		session.ShareID = &s
	}
	if session.TokenCount < 0 {
		session.TokenCount = 0
	}
	return session, nil
}

// NormalizeMessage converts a messages row to a Message. Streaming is always
// cleared: a message materialized from a row is complete.
func (n *Normalizer) NormalizeMessage(raw []byte) (Message, error) {
	if !gjson.ValidBytes(raw) {
		return Message{}, &ParseError{Source: "remote", Key: "messages", Err: fmt.Errorf("invalid JSON")}
	}
	row := gjson.ParseBytes(raw)
	id := row.Get("id").String()
	if id == "" {
		return Message{}, &ParseError{Source: "remote", Key: "messages", Err: fmt.Errorf("row without id")}
	}

	role, err := ParseRole(row.Get("role").String())
	if err != nil {
		return Message{}, &ParseError{Source: "remote", Key: id, Err: err}
	}
	ts, err := parseRemoteTime(row.Get("timestamp").String())
	if err != nil {
		return Message{}, &ParseError{Source: "remote", Key: id, Err: fmt.Errorf("timestamp: %w", err)}
	}

	msg := Message{
		ID:        id,
		SessionID: row.Get("session_id").String(),
		Role:      role,
		Content:   row.Get("content").String(),
		Timestamp: ts,
		Model:     row.Get("model").String(),
		Error:     row.Get("error").Bool(),
		Metadata:  map[string]any{},
	}

	if meta := row.Get("metadata"); meta.IsObject() {
		if err := json.Unmarshal([]byte(meta.Raw), &msg.Metadata); err != nil {
			return Message{}, &ParseError{Source: "remote", Key: id, Err: fmt.Errorf("metadata: %w", err)}
		}
	}

	row.Get("attachments").ForEach(func(_, a gjson.Result) bool {
		att, err := n.normalizeAttachment(a, id)
		if err != nil {
			LogDebug("Dropping attachment of message %s: %v", id, err)
			return true
		}
		msg.Attachments = append(msg.Attachments, att)
		return true
	})

	return msg, nil
}

// NormalizeStreamingFlag reports the raw streaming column, which only matters
// for in-memory UPDATE reconciliation
func (n *Normalizer) NormalizeStreamingFlag(raw []byte) bool {
	return gjson.GetBytes(raw, "streaming").Bool()
}

func (n *Normalizer) normalizeAttachment(a gjson.Result, messageID string) (Attachment, error) {
	id := a.Get("id").String()
	if id == "" {
		return Attachment{}, fmt.Errorf("attachment without id")
	}
	typ, err := ParseAttachmentType(a.Get("type").String())
	if err != nil {
		return Attachment{}, err
	}
	createdRaw := a.Get("created_at").String()
	if createdRaw == "" {
		createdRaw = a.Get("createdAt").String()
	}
	created, err := parseRemoteTime(createdRaw)
	if err != nil {
		return Attachment{}, err
	}

	att := Attachment{
		ID:        id,
		MessageID: messageID,
		Type:      typ,
		Name:      a.Get("name").String(),
		Size:      a.Get("size").Int(),
		CreatedAt: created,
	}
	if c := a.Get("content"); c.Exists() && c.Type != gjson.Null {
		s := c.String()
		att.Content = &s
	}
	if u := a.Get("url"); u.Exists() && u.Type != gjson.Null {
		s := u.String()
		att.URL = &s
	}
	return att, nil
}

// parseRemoteTime parses the timestamp shapes emitted by the backend
func parseRemoteTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range remoteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
