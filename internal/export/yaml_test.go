package export

import (
	"bytes"
	"testing"

	"github.com/iksnae/chatsync/internal"
	"gopkg.in/yaml.v3"
)

func TestYAMLExporter_Export(t *testing.T) {
	session := internal.CreateTestSession("s1", 0)

	var buf bytes.Buffer
	if err := (&YAMLExporter{}).Export(session, &buf); err != nil {
		t.Fatalf("YAMLExporter.Export() error = %v", err)
	}

	var got internal.ChatSession
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("Output is not valid YAML: %v\nOutput: %s", err, buf.String())
	}
	if got.ID != "s1" || got.Title != "Session s1" {
		t.Errorf("decoded session = %s %q", got.ID, got.Title)
	}
	if len(got.Messages) != 2 || got.Messages[1].Role != internal.RoleAssistant {
		t.Errorf("decoded messages = %+v", got.Messages)
	}
	if !got.UpdatedAt.Equal(session.UpdatedAt) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, session.UpdatedAt)
	}
}

func TestYAMLExporter_Extension(t *testing.T) {
	exporter := &YAMLExporter{}
	if got := exporter.Extension(); got != "yaml" {
		t.Errorf("YAMLExporter.Extension() = %v, want yaml", got)
	}
}
