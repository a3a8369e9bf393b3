package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// StateFileVersion is written into every checkpoint file
const StateFileVersion = "1.0"

// Checkpoint records the outcome of the last successful resync
type Checkpoint struct {
	UserID       string    `yaml:"user_id"`
	LastSyncTime time.Time `yaml:"last_sync_time"`
	SessionCount int       `yaml:"session_count"`
	State        string    `yaml:"state"`
}

// stateDocument is the on-disk YAML layout
type stateDocument struct {
	Version    string     `yaml:"version"`
	Checkpoint Checkpoint `yaml:"checkpoint"`
	History    []string   `yaml:"history,omitempty"`
}

// maxHistory bounds the list of recent sync times kept in the file
const maxHistory = 20

// StateFile persists sync checkpoints as YAML next to the local store
type StateFile struct {
	path string
}

// NewStateFile creates a state file manager for path
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// Path returns the file location
func (sf *StateFile) Path() string {
	return sf.path
}

// SaveCheckpoint writes the checkpoint, keeping a short history of sync times
func (sf *StateFile) SaveCheckpoint(cp Checkpoint) error {
	if err := os.MkdirAll(filepath.Dir(sf.path), 0o755); err != nil {
		return err
	}

	doc, err := sf.load()
	if err != nil {
		LogWarn("Discarding unreadable state file %s: %v", sf.path, err)
		doc = &stateDocument{}
	}
	doc.Version = StateFileVersion
	doc.Checkpoint = cp
	doc.History = append(doc.History, FormatTime(cp.LastSyncTime))
	if len(doc.History) > maxHistory {
		doc.History = doc.History[len(doc.History)-maxHistory:]
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	// write-then-rename so a crash never leaves a truncated file
	tmp := sf.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, sf.path)
}

// LoadCheckpoint returns the last checkpoint; ok is false when none was saved
func (sf *StateFile) LoadCheckpoint() (Checkpoint, bool, error) {
	doc, err := sf.load()
	if err != nil {
		return Checkpoint{}, false, err
	}
	if doc.Version == "" {
		return Checkpoint{}, false, nil
	}
	return doc.Checkpoint, true, nil
}

// History returns recent sync times, oldest first
func (sf *StateFile) History() ([]string, error) {
	doc, err := sf.load()
	if err != nil {
		return nil, err
	}
	return doc.History, nil
}

// Clear removes the state file
func (sf *StateFile) Clear() error {
	if err := os.Remove(sf.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (sf *StateFile) load() (*stateDocument, error) {
	data, err := os.ReadFile(sf.path)
	if os.IsNotExist(err) {
		return &stateDocument{}, nil
	}
	if err != nil {
		return nil, err
	}

	var doc stateDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal state: %w", err)
	}
	return &doc, nil
}
