package db

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	embeddedmigrations "github.com/solatis/formkeeper/migrations"
)

// MigrationStatus represents the state of a single migration.
type MigrationStatus struct {
	ID          string
	Checksum    string
	Applied     bool
	AppliedAt   *time.Time
	ExecutionMs int64
}

// migration is one embedded .sql file.
type migration struct {
	ID       string
	Checksum string
	SQL      string
}

// appliedRow is one row of the migrations table.
type appliedRow struct {
	ID          string `db:"migration_id"`
	Checksum    string `db:"checksum"`
	AppliedAt   any    `db:"applied_at"`
	ExecutionMs int64  `db:"execution_ms"`
}

// migrator pairs a database with the migration files of its driver.
type migrator struct {
	db    *sqlx.DB
	files []migration
}

func newMigrator(db *sqlx.DB) (*migrator, error) {
	fsys, dir, err := embeddedmigrations.ForDriver(db.DriverName())
	if err != nil {
		return nil, err
	}
	files, err := readMigrations(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to parse migrations: %w", err)
	}
	if err := ensureMigrationsTable(db); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}
	return &migrator{db: db, files: files}, nil
}

// applied returns the recorded migrations keyed by ID.
func (m *migrator) applied() (map[string]appliedRow, error) {
	var rows []appliedRow
	if err := m.db.Select(&rows, "SELECT migration_id, checksum, applied_at, execution_ms FROM migrations"); err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	out := make(map[string]appliedRow, len(rows))
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// verify rejects a database whose history diverges from the embedded files.
func (m *migrator) verify(applied map[string]appliedRow) error {
	known := make(map[string]string, len(m.files))
	for _, f := range m.files {
		known[f.ID] = f.Checksum
	}
	for id, row := range applied {
		want, ok := known[id]
		if !ok {
			return fmt.Errorf("migration %s exists in database but not in embedded files", id)
		}
		if row.Checksum != want {
			return fmt.Errorf("checksum mismatch for migration %s: expected %s, got %s", id, want, row.Checksum)
		}
	}
	return nil
}

// run applies f and records it in one transaction.
func (m *migrator) run(f migration) error {
	start := time.Now()
	tx, err := m.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %s: %w", f.ID, err)
	}
	defer tx.Rollback()

	// lib/pq rejects multiple statements per Exec.
	for _, stmt := range splitStatements(f.SQL) {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", f.ID, err)
		}
	}

	var appliedAt any = time.Now().UTC()
	if tx.DriverName() == "sqlite3" {
		appliedAt = time.Now().UTC().Format(time.RFC3339)
	}
	_, err = tx.Exec(tx.Rebind("INSERT INTO migrations (migration_id, checksum, applied_at, execution_ms) VALUES (?, ?, ?, ?)"),
		f.ID, f.Checksum, appliedAt, time.Since(start).Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record migration %s: %w", f.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", f.ID, err)
	}
	return nil
}

// MigrateUp runs all pending migrations against the database and returns
// the IDs it applied. Checksums of already applied migrations must match
// the embedded files.
func MigrateUp(db *sqlx.DB) ([]string, error) {
	m, err := newMigrator(db)
	if err != nil {
		return nil, err
	}
	applied, err := m.applied()
	if err != nil {
		return nil, err
	}
	if err := m.verify(applied); err != nil {
		return nil, fmt.Errorf("migration checksum validation failed: %w", err)
	}

	var ran []string
	for _, f := range m.files {
		if _, ok := applied[f.ID]; ok {
			continue
		}
		if err := m.run(f); err != nil {
			return ran, err
		}
		ran = append(ran, f.ID)
	}
	return ran, nil
}

// Applied reports whether the migration with the given file name has run.
func Applied(db *sqlx.DB, id string) (bool, error) {
	if err := ensureMigrationsTable(db); err != nil {
		return false, err
	}
	var n int
	if err := db.Get(&n, db.Rebind("SELECT COUNT(*) FROM migrations WHERE migration_id = ?"), id); err != nil {
		return false, err
	}
	return n > 0, nil
}

// MigrateStatus lists every embedded migration with its applied state.
func MigrateStatus(db *sqlx.DB) ([]MigrationStatus, error) {
	m, err := newMigrator(db)
	if err != nil {
		return nil, err
	}
	applied, err := m.applied()
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(m.files))
	for _, f := range m.files {
		row, ok := applied[f.ID]
		if !ok {
			statuses = append(statuses, MigrationStatus{ID: f.ID, Checksum: f.Checksum})
			continue
		}
		statuses = append(statuses, MigrationStatus{
			ID:          row.ID,
			Checksum:    row.Checksum,
			Applied:     true,
			AppliedAt:   parseAppliedAt(row.AppliedAt),
			ExecutionMs: row.ExecutionMs,
		})
	}
	return statuses, nil
}

// parseAppliedAt reads applied_at from either driver: sqlite stores RFC3339
// text, postgres a timestamp.
func parseAppliedAt(v any) *time.Time {
	var raw string
	switch t := v.(type) {
	case time.Time:
		return &t
	case string:
		raw = t
	case []byte:
		raw = string(t)
	default:
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &parsed
}

// readMigrations loads the .sql files of dir ordered by name. Checksums
// are sha256 of the file content.
func readMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		sum := sha256.Sum256(content)
		out = append(out, migration{ID: e.Name(), Checksum: hex.EncodeToString(sum[:]), SQL: string(content)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

const (
	sqliteMigrationsTable = `
		CREATE TABLE IF NOT EXISTS migrations (
			migration_id TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TEXT NOT NULL,
			execution_ms INTEGER NOT NULL,
			CHECK (applied_at LIKE '____-__-__T__:__:__Z')
		)`
	postgresMigrationsTable = `
		CREATE TABLE IF NOT EXISTS migrations (
			migration_id TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TIMESTAMP WITHOUT TIME ZONE NOT NULL,
			execution_ms INTEGER NOT NULL
		)`
)

func ensureMigrationsTable(db *sqlx.DB) error {
	ddl := postgresMigrationsTable
	if db.DriverName() == "sqlite3" {
		ddl = sqliteMigrationsTable
	}
	_, err := db.Exec(ddl)
	return err
}

// splitStatements splits a migration on semicolons after dropping full-line
// "--" comments.
func splitStatements(sql string) []string {
	var kept []string
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	var out []string
	for _, stmt := range strings.Split(strings.Join(kept, "\n"), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
