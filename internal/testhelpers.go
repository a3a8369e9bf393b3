package internal

import (
	"fmt"
	"time"
)

// TestEpoch is the fixed base time used by fixtures
var TestEpoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

// CreateTestSession creates a session with two messages, updated at TestEpoch plus offset
func CreateTestSession(id string, offset time.Duration) *ChatSession {
	at := TestEpoch.Add(offset)
	return &ChatSession{
		ID:        id,
		Title:     "Session " + id,
		CreatedAt: at,
		UpdatedAt: at,
		Model:     "gpt-4",
		Messages: []Message{
			CreateTestMessage(id+"-m1", id, RoleUser, "Hello, how are you?", at),
			CreateTestMessage(id+"-m2", id, RoleAssistant, "I'm doing well, thank you!", at.Add(time.Second)),
		},
	}
}

// CreateTestSessionWithMessages creates a session holding the given messages
func CreateTestSessionWithMessages(id string, messages []Message) *ChatSession {
	s := &ChatSession{
		ID:        id,
		Title:     "Session " + id,
		CreatedAt: TestEpoch,
		UpdatedAt: TestEpoch,
		Messages:  messages,
	}
	for i := range s.Messages {
		s.Messages[i].SessionID = id
	}
	return s
}

// CreateTestMessage creates a message owned by sessionID
func CreateTestMessage(id, sessionID string, role Role, content string, at time.Time) Message {
	return Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Timestamp: at,
	}
}

// CreateTestAttachment creates a code attachment for messageID
func CreateTestAttachment(id, messageID string) Attachment {
	content := fmt.Sprintf("package %s", id)
	return Attachment{
		ID:        id,
		MessageID: messageID,
		Type:      AttachmentCode,
		Name:      id + ".go",
		Size:      int64(len(content)),
		Content:   &content,
		CreatedAt: TestEpoch,
	}
}
