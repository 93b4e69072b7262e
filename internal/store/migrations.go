package store

import (
	"database/sql"
	"fmt"

	"github.com/samber/lo"

	apperrors "github.com/Laynholt/ymd2/internal/errors"
)

// schemaStep is one versioned change to the registry tables. Per-playlist
// history tables are created on demand by HistoryStore.EnsureTable, not here.
type schemaStep struct {
	version int
	name    string
	up      string
}

var schemaSteps = []schemaStep{
	{
		version: 1,
		name:    "playlist_registry",
		up: `
CREATE TABLE IF NOT EXISTS playlist_tables (
    table_name TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`,
	},
	{
		version: 2,
		name:    "register_existing_tables",
		up: `
-- Databases written before the registry existed already hold playlist tables
INSERT OR IGNORE INTO playlist_tables (table_name, title)
SELECT name, name FROM sqlite_master
WHERE type = 'table' AND name LIKE 'table\_%' ESCAPE '\';
`,
	},
}

const versionTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version INTEGER PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
)`

// RunMigrations applies the schema steps newer than the recorded version
func RunMigrations(db *sql.DB) error {
	if _, err := db.Exec(versionTable); err != nil {
		return apperrors.NewDatabaseError("failed to create schema_migrations", err)
	}

	var applied int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&applied); err != nil {
		return apperrors.NewDatabaseError("failed to read schema version", err)
	}

	pending := lo.Filter(schemaSteps, func(s schemaStep, _ int) bool { return s.version > applied })
	for _, step := range pending {
		if err := step.apply(db); err != nil {
			return err
		}
	}
	return nil
}

// apply runs the step and records its version in one transaction
func (s schemaStep) apply(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return apperrors.NewDatabaseError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(s.up); err != nil {
		return apperrors.NewDatabaseError(fmt.Sprintf("failed to apply step %d (%s)", s.version, s.name), err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name) VALUES (?, ?)", s.version, s.name); err != nil {
		return apperrors.NewDatabaseError(fmt.Sprintf("failed to record step %d", s.version), err)
	}
	if err := tx.Commit(); err != nil {
		return apperrors.NewDatabaseError(fmt.Sprintf("failed to commit step %d", s.version), err)
	}
	return nil
}
