// Package store is the durable on-device LocalStore: sessions, messages and
// attachments in a single SQLite file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/iksnae/chatsync/internal"
	_ "modernc.org/sqlite"
)

// storeTimeLayout is fixed width so that text ordering equals time ordering
const storeTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is the SQLite-backed local store. It never touches the view or the
// network.
type Store struct {
	db   *sql.DB
	path string
}

// Counts holds per-collection row counts
type Counts struct {
	Sessions    int `json:"sessions" yaml:"sessions"`
	Messages    int `json:"messages" yaml:"messages"`
	Attachments int `json:"attachments" yaml:"attachments"`
}

// Open opens (creating if needed) the store at path and applies the schema.
// ":memory:" opens a private in-memory store.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, &internal.StorageError{Op: "open", Err: err}
		}
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	dsn += pragmaSeparator(dsn) + "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, &internal.StorageError{Op: "open", Err: err}
	}
	// one connection: transactions serialize and an in-memory store stays a single database
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &internal.StorageError{Op: "open", Err: fmt.Errorf("database ping failed: %w", err)}
	}

	s := &Store{db: db, path: path}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	internal.LogDebug("Opened local store at %s", path)
	return s, nil
}

func pragmaSeparator(dsn string) string {
	if strings.Contains(dsn, "?") {
		return "&"
	}
	return "?"
}

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return &internal.StorageError{Op: "migrate", Err: err}
	}
	if version > schemaVersion {
		return &internal.StorageError{Op: "migrate", Err: fmt.Errorf("store schema version %d is newer than supported %d", version, schemaVersion)}
	}

	return s.withTx(ctx, "", "migrate", func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", schemaVersion))
		return err
	})
}

// Path returns the file the store was opened from
func (s *Store) Path() string {
	return s.path
}

// Close closes the database
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return &internal.StorageError{Op: "close", Err: err}
	}
	return nil
}

// withTx runs fn in a transaction, wrapping any failure in a StorageError
func (s *Store) withTx(ctx context.Context, collection Collection, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &internal.StorageError{Collection: string(collection), Op: op, Err: err}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		var se *internal.StorageError
		if errors.As(err, &se) {
			return err
		}
		return &internal.StorageError{Collection: string(collection), Op: op, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &internal.StorageError{Collection: string(collection), Op: op, Err: err}
	}
	return nil
}

// UpsertSession writes the session row, replacing any previous version.
// Messages are not touched.
func (s *Store) UpsertSession(ctx context.Context, session *internal.ChatSession) error {
	return s.RunAtomic(ctx, PutSession(session))
}

// BulkUpsertMessages writes all messages in one transaction, replacing each
// message's attachments with its attachment list
func (s *Store) BulkUpsertMessages(ctx context.Context, messages []internal.Message) error {
	if len(messages) == 0 {
		return nil
	}
	return s.RunAtomic(ctx, PutMessages(messages...))
}

// DeleteSession removes the session, its messages and their attachments atomically
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	return s.RunAtomic(ctx, RemoveSession(id))
}

// DeleteMessage removes the message and its attachments atomically
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	return s.RunAtomic(ctx, RemoveMessage(id))
}

// ClearAll empties every collection
func (s *Store) ClearAll(ctx context.Context) error {
	return s.RunAtomic(ctx, ClearCollection(Sessions))
}

// Counts returns the number of rows per collection
func (s *Store) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	targets := []struct {
		collection Collection
		dst        *int
	}{
		{Sessions, &c.Sessions},
		{Messages, &c.Messages},
		{Attachments, &c.Attachments},
	}
	for _, t := range targets {
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+string(t.collection)).Scan(t.dst); err != nil {
			return Counts{}, &internal.StorageError{Collection: string(t.collection), Op: "count", Err: err}
		}
	}
	return c, nil
}

func formatStoreTime(t time.Time) string {
	return t.UTC().Format(storeTimeLayout)
}

func parseStoreTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
