package jobstore

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

const SchemaVersion = 2

// Default per-backend table names.
const (
	TableGrid  = "arcjobs"
	TableWMS   = "diracjobs"
	TableLocal = "slurmjobs"
)

// DefaultTables are created by Migrate.
var DefaultTables = []string{TableGrid, TableWMS, TableLocal}

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateTable(table string) error {
	if !tableNamePattern.MatchString(table) {
		return &FieldError{Field: "table", Value: table, Err: ErrInvalidTable}
	}
	return nil
}

// Migrate creates (or upgrades) the job schema in-place.
//
// v1: per-backend record tables.
// v2: active flag on record tables and the job_states breakdown table.
func Migrate(ctx context.Context, db *sql.DB, tables ...string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if db == nil {
		return fmt.Errorf("db is nil")
	}
	if len(tables) == 0 {
		tables = DefaultTables
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL
		);`,
		`INSERT INTO schema_meta (id, schema_version)
			VALUES (1, 0)
			ON CONFLICT(id) DO NOTHING;`,

		`CREATE TABLE IF NOT EXISTS job_states (
			table_name TEXT NOT NULL,
			record_id INTEGER NOT NULL,
			position INTEGER NOT NULL,
			jobid TEXT NOT NULL,
			status TEXT NOT NULL,
			polled_at TEXT NOT NULL,
			PRIMARY KEY(table_name, record_id, position)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}

	for _, table := range tables {
		if err := ensureTable(ctx, tx, table); err != nil {
			return err
		}
	}

	var current int
	if err := tx.QueryRowContext(ctx, `SELECT schema_version FROM schema_meta WHERE id=1`).Scan(&current); err != nil {
		return fmt.Errorf("read schema_version: %w", err)
	}
	if current != SchemaVersion {
		if _, err := tx.ExecContext(ctx, `UPDATE schema_meta SET schema_version=? WHERE id=1`, SchemaVersion); err != nil {
			return fmt.Errorf("update schema_version: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// EnsureTable creates a record table outside of Migrate, e.g. for a table
// name configured per site.
func (s *Store) EnsureTable(ctx context.Context, table string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := ensureTable(ctx, tx, table); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func ensureTable(ctx context.Context, tx *sql.Tx, table string) error {
	if err := validateTable(table); err != nil {
		return err
	}

	create := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		jobid TEXT NOT NULL DEFAULT '',
		date TEXT NOT NULL,
		runcard TEXT NOT NULL,
		runfolder TEXT NOT NULL,
		pathfolder TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'unknown',
		jobtype TEXT NOT NULL,
		iseed INTEGER NOT NULL DEFAULT 0,
		sub_status TEXT NOT NULL DEFAULT '',
		queue TEXT NOT NULL DEFAULT '',
		no_runs INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 1
	);`, table)
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}

	// Databases written before the active flag existed.
	alter := fmt.Sprintf(`ALTER TABLE %s ADD COLUMN active INTEGER NOT NULL DEFAULT 1;`, table)
	if _, err := tx.ExecContext(ctx, alter); err != nil {
		msg := err.Error()
		// SQLite/libsql report duplicate columns as an error; treat as idempotent.
		if !strings.Contains(msg, "duplicate column name") && !strings.Contains(msg, "already exists") {
			return fmt.Errorf("exec migration statement: %w", err)
		}
	}

	index := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_identity ON %s(runcard, runfolder);`, table, table)
	if _, err := tx.ExecContext(ctx, index); err != nil {
		return fmt.Errorf("create index on %s: %w", table, err)
	}
	return nil
}
