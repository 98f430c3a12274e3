package store

import (
	"github.com/google/uuid"
)

// Stores is the top-level container for all storage backends.
// Both the Postgres (managed) and SQLite (standalone) backends fill every field.
type Stores struct {
	Conversations ConversationStore
	Messages      MessageStore

	// Close releases the underlying database handle.
	Close func() error
}

// StoreConfig selects and configures a storage backend.
type StoreConfig struct {
	PostgresDSN string
	SQLitePath  string
}

// GenNewID returns a time-ordered UUID v7 for new rows.
func GenNewID() uuid.UUID {
	return uuid.Must(uuid.NewV7())
}
