package internal

import "fmt"

// StorageError represents a LocalStore I/O failure
type StorageError struct {
	Collection string // "sessions", "messages", "attachments", or "" for the whole store
	Op         string // "open", "migrate", "upsert", "delete", "query", "atomic", "clear"
	Err        error
}

func (e *StorageError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("storage error: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("storage error: %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// SubscriptionError represents a change feed subscribe/unsubscribe failure
type SubscriptionError struct {
	Topic string
	Op    string // "subscribe", "unsubscribe"
	Err   error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("subscription error [%s] %s: %v", e.Topic, e.Op, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// ReconciliationSkipped marks an event that was structurally invalid or arrived
// out of order. It is logged, never retried.
type ReconciliationSkipped struct {
	Table      string
	ChangeType string
	RecordID   string
	Reason     string
}

func (e *ReconciliationSkipped) Error() string {
	return fmt.Sprintf("reconciliation skipped [%s %s] %s: %s", e.ChangeType, e.Table, e.RecordID, e.Reason)
}

// ResyncError represents a full-resync failure
type ResyncError struct {
	Stage string // "sessions", "messages", "apply"
	Err   error
}

func (e *ResyncError) Error() string {
	return fmt.Sprintf("resync error [%s]: %v", e.Stage, e.Err)
}

func (e *ResyncError) Unwrap() error {
	return e.Err
}

// ImportVersionError is returned when a snapshot has an unsupported version
type ImportVersionError struct {
	Version int
}

func (e *ImportVersionError) Error() string {
	return fmt.Sprintf("unsupported snapshot version %d (supported: %d)", e.Version, SnapshotVersion)
}

// ParseError represents a remote row that could not be normalized
type ParseError struct {
	Source string // "feed", "rest", "snapshot"
	Key    string // table or record id
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error [%s] %s: %v", e.Source, e.Key, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ExportError represents errors during export
type ExportError struct {
	Format string
	Path   string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [%s] %s: %v", e.Format, e.Path, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}
