package store

import (
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Migration represents a database schema migration.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// migrations contains all database migrations in order.
var migrations = []Migration{
	{
		Version:     1,
		Description: "Anchors table keyed by widget name",
		Up:          migrationV1Up,
		Down:        migrationV1Down,
	},
	{
		Version:     2,
		Description: "Add replay_runs table for replay session history",
		Up:          migrationV2Up,
		Down:        migrationV2Down,
	},
}

const migrationV1Up = `
CREATE TABLE IF NOT EXISTS anchors (
    id          TEXT PRIMARY KEY,
    widget      TEXT NOT NULL UNIQUE,
    kind        TEXT NOT NULL,
    pos_x       REAL NOT NULL,
    pos_y       REAL NOT NULL,
    pos_z       REAL NOT NULL,
    rot_w       REAL NOT NULL,
    rot_x       REAL NOT NULL,
    rot_y       REAL NOT NULL,
    rot_z       REAL NOT NULL,
    scale_x     REAL NOT NULL,
    scale_y     REAL NOT NULL,
    scale_z     REAL NOT NULL,
    updated_at  INTEGER NOT NULL
);
`

const migrationV1Down = `
DROP TABLE IF EXISTS anchors;
`

const migrationV2Up = `
CREATE TABLE IF NOT EXISTS replay_runs (
    id            TEXT PRIMARY KEY,
    fixture       TEXT NOT NULL,
    frames        INTEGER NOT NULL,
    errors        INTEGER NOT NULL,
    started_at    INTEGER NOT NULL,
    completed_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_replay_runs_started ON replay_runs(started_at);
`

const migrationV2Down = `
DROP INDEX IF EXISTS idx_replay_runs_started;
DROP TABLE IF EXISTS replay_runs;
`

const createMigrationsTable = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version     INTEGER PRIMARY KEY,
    applied_at  INTEGER NOT NULL,
    description TEXT
);
`

// MigrateDB brings the schema up to the latest version. Each step runs in
// its own transaction, so a failure leaves earlier steps applied.
func MigrateDB(db *sql.DB) error {
	if _, err := db.Exec(createMigrationsTable); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := inTx(db, m.Up,
			"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
			m.Version, time.Now().UnixNano(), m.Description)
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}
	}
	return nil
}

// inTx runs ddl and then one bookkeeping statement atomically.
func inTx(db *sql.DB, ddl, record string, args ...any) (err error) {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.Exec(ddl); err != nil {
		return err
	}
	if _, err = tx.Exec(record, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func currentVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// RollbackMigration undoes the newest applied migration.
func RollbackMigration(db *sql.DB) error {
	v, err := currentVersion(db)
	if err != nil {
		return err
	}
	if v == 0 {
		return errors.New("schema is already empty")
	}
	i := slices.IndexFunc(migrations, func(m Migration) bool { return m.Version == v })
	if i < 0 {
		return fmt.Errorf("unknown schema version %d", v)
	}
	if err := inTx(db, migrations[i].Down, "DELETE FROM schema_migrations WHERE version = ?", v); err != nil {
		return fmt.Errorf("roll back migration %d: %w", v, err)
	}
	return nil
}

// MigrationStatus is the applied and pending migration state.
type MigrationStatus struct {
	CurrentVersion int
	LatestVersion  int
	Pending        []Migration
}

// GetMigrationStatus returns the current migration status.
func GetMigrationStatus(db *sql.DB) (*MigrationStatus, error) {
	v, err := currentVersion(db)
	if err != nil {
		return nil, err
	}
	status := &MigrationStatus{
		CurrentVersion: v,
		LatestVersion:  migrations[len(migrations)-1].Version,
	}
	for _, m := range migrations {
		if m.Version > v {
			status.Pending = append(status.Pending, m)
		}
	}
	return status, nil
}

// ValidateSchema checks that all expected tables exist.
func ValidateSchema(db *sql.DB) error {
	for _, table := range []string{"anchors", "replay_runs", "schema_migrations"} {
		var count int
		err := db.QueryRow(
			"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&count)
		if err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if count == 0 {
			return fmt.Errorf("missing required table: %s", table)
		}
	}
	return nil
}
