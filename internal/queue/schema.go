package queue

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// migrations[i] moves the database from user_version i to i+1.
var migrations = []string{
	schemaSQL,
}

// schemaVersion is the user_version a fully migrated database carries.
var schemaVersion = len(migrations)

// ErrSchemaMismatch indicates the database was written by a newer taskbeat.
var ErrSchemaMismatch = errors.New("schema version mismatch")

// initSchema applies pending migrations, each in its own transaction.
func (s *Store) initSchema(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("%w: database has version %d, this build knows %d (upgrade taskbeat or move the database aside)",
			ErrSchemaMismatch, version, schemaVersion)
	}
	for ; version < schemaVersion; version++ {
		if err := s.migrate(ctx, version+1, migrations[version]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context, to int, script string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", to, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return fmt.Errorf("apply migration %d: %w", to, err)
	}
	// PRAGMA arguments cannot be bound.
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", to)); err != nil {
		return fmt.Errorf("record schema version %d: %w", to, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", to, err)
	}
	return nil
}
