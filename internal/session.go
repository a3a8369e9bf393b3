package internal

import (
	"fmt"
	"time"
)

// Role identifies the author of a message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole converts a raw role string, rejecting unknown values
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleUser, RoleAssistant, RoleSystem:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// AttachmentType is the kind of file attached to a message
type AttachmentType string

const (
	AttachmentImage    AttachmentType = "image"
	AttachmentDocument AttachmentType = "document"
	AttachmentCode     AttachmentType = "code"
)

// ParseAttachmentType converts a raw attachment type string
func ParseAttachmentType(s string) (AttachmentType, error) {
	switch AttachmentType(s) {
	case AttachmentImage, AttachmentDocument, AttachmentCode:
		return AttachmentType(s), nil
	default:
		return "", fmt.Errorf("unknown attachment type %q", s)
	}
}

// ChatSession is a single conversation thread
type ChatSession struct {
	ID         string    `json:"id" yaml:"id"`
	Title      string    `json:"title" yaml:"title"`
	Messages   []Message `json:"messages" yaml:"messages"`
	CreatedAt  time.Time `json:"createdAt" yaml:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" yaml:"updated_at"`
	Model      string    `json:"model" yaml:"model"`
	TokenCount int       `json:"tokenCount" yaml:"token_count"`
	Archived   bool      `json:"archived" yaml:"archived"`
	Shared     bool      `json:"shared" yaml:"shared"`
	ShareID    *string   `json:"shareId,omitempty" yaml:"share_id,omitempty"`
}

// Message is one entry of a session. SessionID is the owner reference.
type Message struct {
	ID          string         `json:"id" yaml:"id"`
	SessionID   string         `json:"sessionId" yaml:"session_id"`
	Role        Role           `json:"role" yaml:"role"`
	Content     string         `json:"content" yaml:"content"`
	Timestamp   time.Time      `json:"timestamp" yaml:"timestamp"`
	Model       string         `json:"model,omitempty" yaml:"model,omitempty"`
	Streaming   bool           `json:"streaming" yaml:"streaming"`
	Error       bool           `json:"error" yaml:"error"`
	Attachments []Attachment   `json:"attachments,omitempty" yaml:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Attachment is a file referenced by a message
type Attachment struct {
	ID        string         `json:"id" yaml:"id"`
	MessageID string         `json:"messageId" yaml:"message_id"`
	Type      AttachmentType `json:"type" yaml:"type"`
	Name      string         `json:"name" yaml:"name"`
	Size      int64          `json:"size" yaml:"size"`
	Content   *string        `json:"content,omitempty" yaml:"content,omitempty"`
	URL       *string        `json:"url,omitempty" yaml:"url,omitempty"`
	CreatedAt time.Time      `json:"createdAt" yaml:"created_at"`
}

// Clone returns a deep copy of the session, including messages and attachments
func (s *ChatSession) Clone() *ChatSession {
	if s == nil {
		return nil
	}
	c := *s
	if s.ShareID != nil {
		id := *s.ShareID
		c.ShareID = &id
	}
	if s.Messages != nil {
		c.Messages = make([]Message, len(s.Messages))
		for i := range s.Messages {
			c.Messages[i] = s.Messages[i].Clone()
		}
	}
	return &c
}

// Clone returns a deep copy of the message
func (m Message) Clone() Message {
	c := m
	if m.Attachments != nil {
		c.Attachments = make([]Attachment, len(m.Attachments))
		copy(c.Attachments, m.Attachments)
	}
	if m.Metadata != nil {
		c.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// MessageIndex returns the position of the message with the given id, or -1
func (s *ChatSession) MessageIndex(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// LaterOf returns the later of two times. Used for the display ordering key,
// which must never move backward.
func LaterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
