package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"folderwatch/internal/logging"
	"folderwatch/internal/services"
)

//go:embed schema_sqlite.sql
var sqliteSchemaSQL string

//go:embed schema_postgres.sql
var postgresSchemaSQL string

// schemaVersion is the current schema version. Bump this when the schema changes.
const schemaVersion = 1

// CreateAllTables creates the employees, ingestion_ledger, and schema_version
// tables if they do not exist and verifies the recorded schema version. It is
// safe to call repeatedly.
func (g *Gateway) CreateAllTables(ctx context.Context) error {
	ctx = ensureContext(ctx)
	db := g.handle()
	if db == nil {
		return services.Wrap(services.ErrSchema, "storage", "create tables", "not connected", nil)
	}

	var found int
	err := g.withTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, g.dialect.schemaSQL); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		var version int
		err := tx.QueryRowContext(ctx, "SELECT version FROM schema_version LIMIT 1").Scan(&version)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, g.dialect.rebind("INSERT INTO schema_version (version) VALUES (?)"), schemaVersion); err != nil {
				return fmt.Errorf("record schema version: %w", err)
			}
			found = schemaVersion
			return nil
		case err != nil:
			return fmt.Errorf("read schema version: %w", err)
		}
		found = version
		return nil
	})
	if err != nil {
		return services.Wrap(services.ErrSchema, "storage", "create tables", "", err)
	}
	if found != schemaVersion {
		return services.Wrap(services.ErrSchema, "storage", "create tables",
			fmt.Sprintf("database has schema version %d, expected %d (drop the tables or point at a fresh database)", found, schemaVersion), nil)
	}

	g.logger.Debug("schema ready",
		logging.String(logging.FieldEventType, "schema_ready"),
		logging.Int("schema_version", schemaVersion),
	)
	return nil
}
