package internal

import (
	"encoding/json"
	"fmt"
	"time"
)

// SnapshotVersion is the only snapshot version Import accepts
const SnapshotVersion = 1

// TimeLayout is the ISO-8601 layout used for every persisted timestamp
const TimeLayout = time.RFC3339Nano

// SessionRecord is the durable form of a ChatSession (no embedded messages)
type SessionRecord struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	CreatedAt  string  `json:"createdAt"`
	UpdatedAt  string  `json:"updatedAt"`
	Model      string  `json:"model"`
	TokenCount int     `json:"tokenCount"`
	Archived   bool    `json:"archived"`
	Shared     bool    `json:"shared"`
	ShareID    *string `json:"shareId,omitempty"`
}

// MessageRecord is the durable form of a Message
type MessageRecord struct {
	ID        string         `json:"id"`
	SessionID string         `json:"sessionId"`
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Timestamp string         `json:"timestamp"`
	Model     string         `json:"model,omitempty"`
	Streaming bool           `json:"streaming"`
	Error     bool           `json:"error"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AttachmentRecord is the durable form of an Attachment
type AttachmentRecord struct {
	ID        string  `json:"id"`
	MessageID string  `json:"messageId"`
	Type      string  `json:"type"`
	Name      string  `json:"name"`
	Size      int64   `json:"size"`
	Content   *string `json:"content,omitempty"`
	URL       *string `json:"url,omitempty"`
	CreatedAt string  `json:"createdAt"`
}

// Snapshot is the flat export of all three collections
type Snapshot struct {
	Version     int                `json:"version"`
	ExportDate  string             `json:"exportDate"`
	Sessions    []SessionRecord    `json:"sessions"`
	Messages    []MessageRecord    `json:"messages"`
	Attachments []AttachmentRecord `json:"attachments"`
}

// NewSnapshot creates an empty version 1 snapshot stamped with the current time
func NewSnapshot() *Snapshot {
	return &Snapshot{
		Version:     SnapshotVersion,
		ExportDate:  FormatTime(time.Now()),
		Sessions:    []SessionRecord{},
		Messages:    []MessageRecord{},
		Attachments: []AttachmentRecord{},
	}
}

// Validate checks the snapshot version and the references between collections
func (s *Snapshot) Validate() error {
	if s.Version != SnapshotVersion {
		return &ImportVersionError{Version: s.Version}
	}
	sessions := make(map[string]bool, len(s.Sessions))
	for _, r := range s.Sessions {
		if r.ID == "" {
			return &ParseError{Source: "snapshot", Key: "sessions", Err: fmt.Errorf("session without id")}
		}
		sessions[r.ID] = true
	}
	messages := make(map[string]bool, len(s.Messages))
	for _, r := range s.Messages {
		if r.ID == "" {
			return &ParseError{Source: "snapshot", Key: "messages", Err: fmt.Errorf("message without id")}
		}
		if !sessions[r.SessionID] {
			return &ParseError{Source: "snapshot", Key: r.ID, Err: fmt.Errorf("message references unknown session %q", r.SessionID)}
		}
		messages[r.ID] = true
	}
	for _, r := range s.Attachments {
		if !messages[r.MessageID] {
			return &ParseError{Source: "snapshot", Key: r.ID, Err: fmt.Errorf("attachment references unknown message %q", r.MessageID)}
		}
	}
	return nil
}

// DecodeSnapshot parses snapshot JSON, rejecting unsupported versions before
// looking at the collections
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var probe struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &ParseError{Source: "snapshot", Key: "version", Err: err}
	}
	if probe.Version != SnapshotVersion {
		return nil, &ImportVersionError{Version: probe.Version}
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &ParseError{Source: "snapshot", Key: "body", Err: err}
	}
	return &snap, nil
}

// FormatTime renders a time in the persisted ISO-8601 layout
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a persisted timestamp; empty strings yield the zero time
func ParseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(TimeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return t, nil
}

// ToRecord converts a session to its durable form
func (s *ChatSession) ToRecord() SessionRecord {
	return SessionRecord{
		ID:         s.ID,
		Title:      s.Title,
		CreatedAt:  FormatTime(s.CreatedAt),
		UpdatedAt:  FormatTime(s.UpdatedAt),
		Model:      s.Model,
		TokenCount: s.TokenCount,
		Archived:   s.Archived,
		Shared:     s.Shared,
		ShareID:    s.ShareID,
	}
}

// ToSession converts a durable record back to a session with no messages
func (r SessionRecord) ToSession() (*ChatSession, error) {
	created, err := ParseTime(r.CreatedAt)
	if err != nil {
		return nil, &ParseError{Source: "store", Key: r.ID, Err: fmt.Errorf("createdAt: %w", err)}
	}
	updated, err := ParseTime(r.UpdatedAt)
	if err != nil {
		return nil, &ParseError{Source: "store", Key: r.ID, Err: fmt.Errorf("updatedAt: %w", err)}
	}
	return &ChatSession{
		ID:         r.ID,
		Title:      r.Title,
		Messages:   []Message{},
		CreatedAt:  created,
		UpdatedAt:  updated,
		Model:      r.Model,
		TokenCount: r.TokenCount,
		Archived:   r.Archived,
		Shared:     r.Shared,
		ShareID:    r.ShareID,
	}, nil
}

// ToRecord converts a message to its durable form. Streaming is transient and
// is never persisted as true.
func (m Message) ToRecord() MessageRecord {
	return MessageRecord{
		ID:        m.ID,
		SessionID: m.SessionID,
		Role:      string(m.Role),
		Content:   m.Content,
		Timestamp: FormatTime(m.Timestamp),
		Model:     m.Model,
		Streaming: false,
		Error:     m.Error,
		Metadata:  m.Metadata,
	}
}

// ToMessage converts a durable record back to a message without attachments
func (r MessageRecord) ToMessage() (Message, error) {
	role, err := ParseRole(r.Role)
	if err != nil {
		return Message{}, &ParseError{Source: "store", Key: r.ID, Err: err}
	}
	ts, err := ParseTime(r.Timestamp)
	if err != nil {
		return Message{}, &ParseError{Source: "store", Key: r.ID, Err: fmt.Errorf("timestamp: %w", err)}
	}
	return Message{
		ID:        r.ID,
		SessionID: r.SessionID,
		Role:      role,
		Content:   r.Content,
		Timestamp: ts,
		Model:     r.Model,
		Error:     r.Error,
		Metadata:  r.Metadata,
	}, nil
}

// ToRecord converts an attachment to its durable form
func (a Attachment) ToRecord() AttachmentRecord {
	return AttachmentRecord{
		ID:        a.ID,
		MessageID: a.MessageID,
		Type:      string(a.Type),
		Name:      a.Name,
		Size:      a.Size,
		Content:   a.Content,
		URL:       a.URL,
		CreatedAt: FormatTime(a.CreatedAt),
	}
}

// ToAttachment converts a durable record back to an attachment
func (r AttachmentRecord) ToAttachment() (Attachment, error) {
	typ, err := ParseAttachmentType(r.Type)
	if err != nil {
		return Attachment{}, &ParseError{Source: "store", Key: r.ID, Err: err}
	}
	created, err := ParseTime(r.CreatedAt)
	if err != nil {
		return Attachment{}, &ParseError{Source: "store", Key: r.ID, Err: fmt.Errorf("createdAt: %w", err)}
	}
	return Attachment{
		ID:        r.ID,
		MessageID: r.MessageID,
		Type:      typ,
		Name:      r.Name,
		Size:      r.Size,
		Content:   r.Content,
		URL:       r.URL,
		CreatedAt: created,
	}, nil
}
