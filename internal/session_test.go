package internal

import (
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	for _, s := range []string{"user", "assistant", "system"} {
		if _, err := ParseRole(s); err != nil {
			t.Errorf("ParseRole(%q) error = %v", s, err)
		}
	}
	if _, err := ParseRole("tool"); err == nil {
		t.Error("ParseRole(tool) should fail")
	}
}

func TestParseAttachmentType(t *testing.T) {
	for _, s := range []string{"image", "document", "code"} {
		if _, err := ParseAttachmentType(s); err != nil {
			t.Errorf("ParseAttachmentType(%q) error = %v", s, err)
		}
	}
	if _, err := ParseAttachmentType("video"); err == nil {
		t.Error("ParseAttachmentType(video) should fail")
	}
}

func TestChatSession_Clone(t *testing.T) {
	s := CreateTestSession("s1", 0)
	s.Messages[0].Metadata = map[string]any{"k": "v"}
	s.Messages[0].Attachments = []Attachment{CreateTestAttachment("a1", "s1-m1")}

	c := s.Clone()
	c.Title = "changed"
	c.Messages[0].Content = "changed"
	c.Messages[0].Metadata["k"] = "changed"
	c.Messages[0].Attachments[0].Name = "changed"
	c.Messages = append(c.Messages, Message{ID: "extra"})

	if s.Title == "changed" || s.Messages[0].Content == "changed" {
		t.Error("Clone() shares scalar fields with the original")
	}
	if s.Messages[0].Metadata["k"] != "v" {
		t.Error("Clone() shares metadata with the original")
	}
	if s.Messages[0].Attachments[0].Name == "changed" {
		t.Error("Clone() shares attachments with the original")
	}
	if len(s.Messages) != 2 {
		t.Errorf("original Messages len = %d, want 2", len(s.Messages))
	}

	var nilSession *ChatSession
	if nilSession.Clone() != nil {
		t.Error("Clone() of nil should be nil")
	}
}

func TestChatSession_MessageIndex(t *testing.T) {
	s := CreateTestSession("s1", 0)
	if got := s.MessageIndex("s1-m2"); got != 1 {
		t.Errorf("MessageIndex() = %d, want 1", got)
	}
	if got := s.MessageIndex("nope"); got != -1 {
		t.Errorf("MessageIndex() = %d, want -1", got)
	}
}

func TestLaterOf(t *testing.T) {
	a := TestEpoch
	b := TestEpoch.Add(time.Minute)
	if got := LaterOf(a, b); !got.Equal(b) {
		t.Errorf("LaterOf(a, b) = %v, want %v", got, b)
	}
	if got := LaterOf(b, a); !got.Equal(b) {
		t.Errorf("LaterOf(b, a) = %v, want %v", got, b)
	}
}
