// Package upgrade reports whether the Postgres schema matches this binary.
package upgrade

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RequiredSchemaVersion is the highest migration shipped in
// internal/store/pg/migrations.
const RequiredSchemaVersion uint = 1

// SchemaStatus compares the applied migration with RequiredSchemaVersion.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

// Querier is satisfied by *sql.DB.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CheckSchema reads schema_migrations. A missing table or row means nothing
// has been applied yet.
func CheckSchema(ctx context.Context, db Querier) (*SchemaStatus, error) {
	s := &SchemaStatus{RequiredVersion: RequiredSchemaVersion}

	var exists bool
	err := db.QueryRowContext(ctx, `SELECT to_regclass('schema_migrations') IS NOT NULL`).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("check schema_migrations: %w", err)
	}
	if !exists {
		s.NeedsMigration = true
		return s, nil
	}

	err = db.QueryRowContext(ctx, `SELECT version, dirty FROM schema_migrations LIMIT 1`).Scan(&s.CurrentVersion, &s.Dirty)
	if errors.Is(err, sql.ErrNoRows) {
		s.NeedsMigration = true
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}

	switch {
	case s.Dirty:
	case s.CurrentVersion == RequiredSchemaVersion:
		s.Compatible = true
	case s.CurrentVersion < RequiredSchemaVersion:
		s.NeedsMigration = true
	}
	return s, nil
}

// Describe renders s as one line with the command that fixes it.
func (s *SchemaStatus) Describe() string {
	switch {
	case s.Dirty:
		return fmt.Sprintf("v%d (DIRTY, run: unibox migrate force %d)", s.CurrentVersion, s.CurrentVersion-1)
	case s.Compatible:
		return fmt.Sprintf("v%d (up to date)", s.CurrentVersion)
	case s.NeedsMigration:
		return fmt.Sprintf("v%d (requires v%d, run: unibox migrate up)", s.CurrentVersion, s.RequiredVersion)
	default:
		return fmt.Sprintf("v%d (binary too old, requires v%d)", s.CurrentVersion, s.RequiredVersion)
	}
}
