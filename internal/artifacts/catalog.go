package artifacts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Catalog records every version the store has produced in a SQLite table,
// so version history survives retention.
type Catalog struct {
	db *sql.DB
}

// CatalogEntry is one row of the version history.
type CatalogEntry struct {
	CreatedAt time.Time
	RemovedAt *time.Time
	Metrics   map[string]any
	Version   string
	DataHash  string
}

// OpenCatalog opens (creating if needed) the catalog database and applies migrations.
// Pass ":memory:" for a throwaway catalog.
func OpenCatalog(ctx context.Context, dbPath string) (*Catalog, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), dirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
		dsn = dbPath + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	// A single connection keeps ":memory:" databases alive and shared
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping catalog: %w", err)
	}

	c := &Catalog{db: db}
	if err := c.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

// Record inserts or replaces the row for m.Version.
func (c *Catalog) Record(ctx context.Context, m *Manifest) error {
	metricsJSON, err := json.Marshal(m.Metrics)
	if err != nil {
		return err
	}

	query := `
		INSERT OR REPLACE INTO model_versions
		(version, created_at, data_hash, metrics, removed_at)
		VALUES (?, ?, ?, ?, NULL)
	`
	_, err = c.db.ExecContext(ctx, query, m.Version, m.CreatedAt.UTC(), m.DataHash, string(metricsJSON))
	return err
}

// MarkRemoved stamps a version as deleted by retention.
func (c *Catalog) MarkRemoved(ctx context.Context, version string) error {
	_, err := c.db.ExecContext(ctx,
		"UPDATE model_versions SET removed_at = ? WHERE version = ?",
		time.Now().UTC(), version)
	return err
}

// List returns all recorded versions, newest first.
func (c *Catalog) List(ctx context.Context) ([]CatalogEntry, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT version, created_at, data_hash, metrics, removed_at
		FROM model_versions
		ORDER BY version DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Error("failed to close catalog rows", "error", closeErr)
		}
	}()

	var entries []CatalogEntry
	for rows.Next() {
		var (
			entry       CatalogEntry
			metricsJSON sql.NullString
			removedAt   sql.NullTime
		)
		if err := rows.Scan(&entry.Version, &entry.CreatedAt, &entry.DataHash, &metricsJSON, &removedAt); err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		if metricsJSON.Valid && metricsJSON.String != "" {
			if err := json.Unmarshal([]byte(metricsJSON.String), &entry.Metrics); err != nil {
				slog.Warn("skipping unreadable catalog metrics", "version", entry.Version, "error", err)
			}
		}
		if removedAt.Valid {
			t := removedAt.Time
			entry.RemovedAt = &t
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
