package internal

import (
	"testing"
	"time"
)

func TestMessageFingerprint(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	base := Message{ID: "m1", SessionID: "s1", Role: RoleUser, Content: "hi", Timestamp: at, Metadata: map[string]any{"a": 1, "b": "x"}}

	tests := []struct {
		name   string
		mutate func(m *Message)
		same   bool
	}{
		{"identical", func(m *Message) {}, true},
		{"metadata key order", func(m *Message) { m.Metadata = map[string]any{"b": "x", "a": 1} }, true},
		{"content", func(m *Message) { m.Content = "hello" }, false},
		{"role", func(m *Message) { m.Role = RoleAssistant }, false},
		{"error flag", func(m *Message) { m.Error = true }, false},
		{"streaming flag", func(m *Message) { m.Streaming = true }, false},
		{"timestamp", func(m *Message) { m.Timestamp = at.Add(time.Second) }, false},
		{"attachment", func(m *Message) { m.Attachments = []Attachment{{ID: "a1", Name: "f"}} }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			other := base.Clone()
			tt.mutate(&other)
			if got := SameMessage(base, other); got != tt.same {
				t.Errorf("SameMessage() = %v, want %v", got, tt.same)
			}
		})
	}
}

func TestMessageFingerprint_Stable(t *testing.T) {
	m := CreateTestMessage("m1", "s1", RoleUser, "hi", TestEpoch)
	if MessageFingerprint(m) != MessageFingerprint(m) {
		t.Error("MessageFingerprint() is not deterministic")
	}
	if len(MessageFingerprint(m)) != 64 {
		t.Errorf("MessageFingerprint() len = %d, want 64", len(MessageFingerprint(m)))
	}
}
