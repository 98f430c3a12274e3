// Package sqlite is the standalone storage backend: the same schema and
// uniqueness guarantees as the Postgres backend in a single local file.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"modernc.org/sqlite"

	"github.com/nextlevelbuilder/unibox/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	conversation_id  TEXT PRIMARY KEY,
	channel          TEXT NOT NULL,
	platform_user_id TEXT NOT NULL,
	last_message     TEXT NOT NULL DEFAULT '',
	last_ts          INTEGER NOT NULL,
	reply_mode       TEXT NOT NULL DEFAULT 'ai' CHECK (reply_mode IN ('ai', 'manual')),
	created_at       INTEGER NOT NULL,
	updated_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_last_ts ON conversations (last_ts DESC);

CREATE TABLE IF NOT EXISTS messages (
	id              TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations (conversation_id) ON DELETE CASCADE,
	channel         TEXT NOT NULL,
	message_id      TEXT NOT NULL,
	sender          TEXT NOT NULL,
	type            TEXT NOT NULL,
	text            TEXT NOT NULL DEFAULT '',
	attachments     TEXT NOT NULL DEFAULT '[]',
	metadata        TEXT NOT NULL DEFAULT '{}',
	timestamp       INTEGER NOT NULL,
	created_at      INTEGER NOT NULL,
	UNIQUE (channel, message_id)
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation_created ON messages (conversation_id, created_at);
`

// Extended result codes for constraint failures.
const (
	constraintUnique     = 2067
	constraintPrimaryKey = 1555
)

// DB wraps the SQLite handle shared by the conversation and message stores.
// Times are stored as unix milliseconds.
type DB struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the database at path and applies the schema.
// path ":memory:" gives a private in-memory database.
func Open(path string) (*DB, error) {
	dsn := "file::memory:?_pragma=foreign_keys(1)"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create database directory %s: %w", dir, err)
			}
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer connection; also keeps an in-memory database alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &DB{db: db, now: time.Now}, nil
}

// SetNowFunc overrides the clock used for created_at/updated_at.
func (d *DB) SetNowFunc(now func() time.Time) { d.now = now }

// Close closes the database.
func (d *DB) Close() error { return d.db.Close() }

// NewStores opens path and returns all stores backed by it (standalone mode).
func NewStores(cfg store.StoreConfig) (*store.Stores, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "unibox.db"
	}
	d, err := Open(path)
	if err != nil {
		return nil, err
	}
	return d.Stores(), nil
}

// Stores returns the store container over d.
func (d *DB) Stores() *store.Stores {
	return &store.Stores{
		Conversations: &ConversationStore{d: d},
		Messages:      &MessageStore{d: d},
		Close:         d.Close,
	}
}

func (d *DB) nowMillis() int64 { return d.now().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqlErr *sqlite.Error
	if errors.As(err, &sqlErr) {
		code := sqlErr.Code()
		return code == constraintUnique || code == constraintPrimaryKey
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}
