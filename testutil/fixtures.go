package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// CreateFile writes data to path, creating parent directories
func CreateFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create fixture directory: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write fixture %s: %v", path, err)
	}
}

// SessionRow builds a chat_sessions row as the backend emits it
func SessionRow(id, userID, title string, updatedAt time.Time) string {
	row := map[string]interface{}{
		"id":          id,
		"user_id":     userID,
		"title":       title,
		"created_at":  updatedAt.Add(-time.Hour).UTC().Format(time.RFC3339Nano),
		"updated_at":  updatedAt.UTC().Format(time.RFC3339Nano),
		"model":       "gpt-4",
		"token_count": 0,
		"archived":    false,
		"shared":      false,
		"share_id":    nil,
	}
	data, _ := json.Marshal(row)
	return string(data)
}

// MessageRow builds a messages row as the backend emits it
func MessageRow(id, sessionID, role, content string, ts time.Time) string {
	row := map[string]interface{}{
		"id":         id,
		"session_id": sessionID,
		"role":       role,
		"content":    content,
		"timestamp":  ts.UTC().Format(time.RFC3339Nano),
		"streaming":  false,
		"error":      false,
	}
	data, _ := json.Marshal(row)
	return string(data)
}

// IDRow builds a row holding only a primary key, the shape of DELETE old records
func IDRow(id string) string {
	data, _ := json.Marshal(map[string]string{"id": id})
	return string(data)
}
