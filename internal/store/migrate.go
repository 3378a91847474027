package store

import (
	"context"
	_ "embed"
	"fmt"

	"go.uber.org/zap"

	"github.com/roach88/potluck/internal/querysql"
)

//go:embed schema/sqlite.sql
var sqliteSchema string

//go:embed schema/postgres.sql
var postgresSchema string

// Schema version tracking (SQLite user_version):
// 0 - empty database
// 1 - initial potluck schema
const currentSchemaVersion = 1

// Schema returns the DDL for a dialect.
func Schema(d querysql.Dialect) string {
	if d == querysql.Postgres {
		return postgresSchema
	}
	return sqliteSchema
}

// Migrate creates any missing tables and indexes for the configured dialect.
//
// The DDL only uses CREATE ... IF NOT EXISTS, so Migrate is idempotent:
// running it against an up-to-date database is a no-op, and it is safe to
// call on every start (store.migrate in the config does exactly that).
// On SQLite it also stamps PRAGMA user_version with currentSchemaVersion.
//
// Migrate never drops or alters existing tables.
func (s *Store) Migrate(ctx context.Context) error {
	db, err := s.pool(ctx)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, Schema(s.cfg.Dialect)); err != nil {
		return classify("migrate", fmt.Errorf("failed to execute schema: %w", err))
	}

	if s.cfg.Dialect == querysql.SQLite {
		stmt := fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return classify("migrate", fmt.Errorf("set user_version: %w", err))
		}
	}

	s.logger.Info("schema applied", zap.Int("schema_version", currentSchemaVersion))
	return nil
}
