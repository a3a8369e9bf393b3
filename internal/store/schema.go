package store

// schemaVersion is stored in PRAGMA user_version
const schemaVersion = 1

// Foreign keys are checked per statement: a RunAtomic batch writes parents
// before children and deletes children first.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL,
		model       TEXT NOT NULL DEFAULT '',
		token_count INTEGER NOT NULL DEFAULT 0,
		archived    INTEGER NOT NULL DEFAULT 0,
		shared      INTEGER NOT NULL DEFAULT 0,
		share_id    TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_title ON sessions(title);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_updated_at ON sessions(updated_at);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_archived ON sessions(archived);`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_shared ON sessions(shared);`,
	`CREATE TABLE IF NOT EXISTS messages (
		id         TEXT PRIMARY KEY,
		session_id TEXT NOT NULL REFERENCES sessions(id),
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		timestamp  TEXT NOT NULL,
		model      TEXT NOT NULL DEFAULT '',
		streaming  INTEGER NOT NULL DEFAULT 0,
		error      INTEGER NOT NULL DEFAULT 0,
		metadata   TEXT
	);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_session_id ON messages(session_id);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_role ON messages(role);`,
	`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp);`,
	`CREATE TABLE IF NOT EXISTS attachments (
		id         TEXT PRIMARY KEY,
		message_id TEXT NOT NULL REFERENCES messages(id),
		type       TEXT NOT NULL,
		name       TEXT NOT NULL,
		size       INTEGER NOT NULL DEFAULT 0,
		content    TEXT,
		url        TEXT,
		created_at TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS idx_attachments_message_id ON attachments(message_id);`,
	`CREATE INDEX IF NOT EXISTS idx_attachments_type ON attachments(type);`,
	`CREATE INDEX IF NOT EXISTS idx_attachments_created_at ON attachments(created_at);`,
}

// Collection names one of the three durable collections
type Collection string

const (
	Sessions    Collection = "sessions"
	Messages    Collection = "messages"
	Attachments Collection = "attachments"
)

// indexedFields maps the queryable field names of each collection to columns.
// Query rejects anything not listed here.
var indexedFields = map[Collection]map[string]string{
	Sessions: {
		"id":        "id",
		"title":     "title",
		"createdAt": "created_at",
		"updatedAt": "updated_at",
		"archived":  "archived",
		"shared":    "shared",
	},
	Messages: {
		"id":        "id",
		"sessionId": "session_id",
		"role":      "role",
		"timestamp": "timestamp",
	},
	Attachments: {
		"id":        "id",
		"messageId": "message_id",
		"type":      "type",
		"createdAt": "created_at",
	},
}

// fieldNames maps columns back to the field names used in Records
var fieldNames = map[string]string{
	"id":          "id",
	"title":       "title",
	"created_at":  "createdAt",
	"updated_at":  "updatedAt",
	"model":       "model",
	"token_count": "tokenCount",
	"archived":    "archived",
	"shared":      "shared",
	"share_id":    "shareId",
	"session_id":  "sessionId",
	"role":        "role",
	"content":     "content",
	"timestamp":   "timestamp",
	"streaming":   "streaming",
	"error":       "error",
	"metadata":    "metadata",
	"message_id":  "messageId",
	"type":        "type",
	"name":        "name",
	"size":        "size",
	"url":         "url",
}
