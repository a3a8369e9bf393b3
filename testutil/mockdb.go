package testutil

import (
	"database/sql"
	"testing"

	_ "modernc.org/sqlite"
)

// OpenRawDB opens a SQLite file directly, bypassing the store, so tests can
// inspect or tamper with persisted rows
func OpenRawDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// CountRows returns the number of rows in table
func CountRows(t *testing.T, db *sql.DB, table string) int {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("Failed to count %s: %v", table, err)
	}
	return n
}

// CreateCorruptDB writes a file that is not a SQLite database
func CreateCorruptDB(t *testing.T, path string) {
	t.Helper()
	CreateFile(t, path, []byte("this is not a database"))
}
