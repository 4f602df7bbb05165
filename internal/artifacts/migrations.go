package artifacts

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

// catalogSchemaVersion is the latest catalog schema this package writes.
const catalogSchemaVersion = 2

// migration is one forward-only catalog schema change.
type migration struct {
	Up          func(*sql.Tx) error
	Description string
	Version     int
}

var catalogMigrations = []migration{
	{
		Version:     1,
		Description: "Create model_versions table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS model_versions (
				version TEXT PRIMARY KEY,
				created_at DATETIME NOT NULL,
				data_hash TEXT NOT NULL DEFAULT '',
				metrics TEXT
			)`)
			return err
		},
	},
	{
		Version:     2,
		Description: "Track removed versions",
		Up: func(tx *sql.Tx) error {
			queries := []string{
				`ALTER TABLE model_versions ADD COLUMN removed_at DATETIME`,
				`CREATE INDEX IF NOT EXISTS idx_model_versions_data_hash ON model_versions(data_hash)`,
			}
			for _, query := range queries {
				if _, err := tx.Exec(query); err != nil {
					return fmt.Errorf("failed to execute query: %w", err)
				}
			}
			return nil
		},
	},
}

// Migrate applies all pending catalog migrations.
func (c *Catalog) Migrate(ctx context.Context) error {
	var currentVersion int
	if err := c.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&currentVersion); err != nil {
		return fmt.Errorf("failed to get catalog schema version: %w", err)
	}

	for _, m := range catalogMigrations {
		if m.Version <= currentVersion {
			continue
		}

		tx, err := c.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}

		if err := m.Up(tx); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("catalog migration %d failed: %w", m.Version, err)
		}

		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("failed to update catalog schema version: %w", err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit catalog migration %d: %w", m.Version, err)
		}

		slog.Debug("Applied catalog migration", "version", m.Version, "description", m.Description)
	}

	var finalVersion int
	if err := c.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&finalVersion); err != nil {
		return fmt.Errorf("failed to verify catalog schema version: %w", err)
	}
	if finalVersion != catalogSchemaVersion {
		return fmt.Errorf("catalog schema version mismatch: expected %d, got %d", catalogSchemaVersion, finalVersion)
	}
	return nil
}
