package export

import (
	"encoding/json"
	"io"

	"github.com/iksnae/chatsync/internal"
)

// JSONExporter exports a session with its messages as one pretty-printed document
type JSONExporter struct{}

// Export exports a session to JSON format
func (e *JSONExporter) Export(session *internal.ChatSession, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")

	return enc.Encode(session)
}

// Extension returns the file extension for this format
func (e *JSONExporter) Extension() string {
	return "json"
}
