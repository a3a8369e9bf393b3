package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/iksnae/chatsync/internal"
)

// WriteSnapshot encodes snap as indented JSON
func WriteSnapshot(w io.Writer, snap *internal.Snapshot) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return &internal.ExportError{Format: "snapshot", Err: err}
	}
	return nil
}

// ReadSnapshot decodes a snapshot, rejecting versions other than 1 with
// *internal.ImportVersionError
func ReadSnapshot(r io.Reader) (*internal.Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return internal.DecodeSnapshot(data)
}

// SessionFileName returns the file name a session is exported to
func SessionFileName(session *internal.ChatSession, exp Exporter) string {
	return fmt.Sprintf("session_%s.%s", session.ID, exp.Extension())
}

// WriteSessionFile exports one session into dir and returns the file path
func WriteSessionFile(dir string, session *internal.ChatSession, exp Exporter) (string, error) {
	path := filepath.Join(dir, SessionFileName(session, exp))
	f, err := os.Create(path)
	if err != nil {
		return "", &internal.ExportError{Format: exp.Extension(), Path: path, Err: err}
	}
	if err := exp.Export(session, f); err != nil {
		_ = f.Close()
		return "", &internal.ExportError{Format: exp.Extension(), Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return "", &internal.ExportError{Format: exp.Extension(), Path: path, Err: err}
	}
	return path, nil
}
