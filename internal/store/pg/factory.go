package pg

import (
	"fmt"

	"github.com/nextlevelbuilder/unibox/internal/store"
)

// NewPGStores opens Postgres, applies pending migrations and returns all
// stores backed by it (managed mode).
func NewPGStores(cfg store.StoreConfig) (*store.Stores, error) {
	if err := MigrateUp(cfg.PostgresDSN); err != nil {
		return nil, err
	}
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	return &store.Stores{
		Conversations: NewPGConversationStore(db),
		Messages:      NewPGMessageStore(db),
		Close:         db.Close,
	}, nil
}
