package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"
)

// migrationSource holds the embedded schema scripts. The migrations
// package registers its embed.FS here at init time, so any binary that
// imports it carries the full schema.
var migrationSource fs.FS

// RegisterMigrations supplies the filesystem Migrate reads its
// .up.sql/.down.sql scripts from. The migrations package calls this
// from init(); tests call it with fixture filesystems.
func RegisterMigrations(fsys fs.FS) {
	migrationSource = fsys
}

// migration is one versioned schema change, read from a pair of
// <version>_<name>.up.sql / <version>_<name>.down.sql scripts.
type migration struct {
	version string // YYYYMMDD_HHMMSS, orders application
	name    string
	up      string
	down    string
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
)`

// Migrate brings the schema up to date, applying every script the
// ledger has not yet recorded, oldest first.
//
// Each migration runs in its own transaction: a failure rolls back that
// script alone, earlier ones stay committed, later ones are not
// attempted. Re-running after a fix continues where it stopped, which
// suits SQLite's single-writer model.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: First migration failure, already rolled back
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.ExecContext(ctx, ledgerSchema); err != nil {
		return fmt.Errorf("creating migration ledger: %w", err)
	}

	scripts, err := readMigrations()
	if err != nil {
		return err
	}
	if len(scripts) == 0 {
		return nil
	}

	applied, err := db.appliedVersions(ctx)
	if err != nil {
		return err
	}

	for _, m := range scripts {
		if applied[m.version] {
			continue
		}
		if err := db.runMigration(ctx, m); err != nil {
			return fmt.Errorf("migration %s_%s: %w", m.version, m.name, err)
		}
	}

	return nil
}

// Rollback reverts the most recently applied migration. Development and
// test helper; the daemons never call it.
//
// Returns:
//   - error: If the migration lacks a down script or the revert fails
func (db *DB) Rollback(ctx context.Context) error {
	version, err := db.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	if version == "" {
		return nil
	}

	scripts, err := readMigrations()
	if err != nil {
		return err
	}

	var target *migration
	for i := range scripts {
		if scripts[i].version == version {
			target = &scripts[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("applied migration %s has no scripts on disk", version)
	}
	if target.down == "" {
		return fmt.Errorf("migration %s has no down script", version)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op once committed

	if _, err := tx.ExecContext(ctx, target.down); err != nil {
		return fmt.Errorf("reverting %s: %w", version, err)
	}
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM schema_migrations WHERE version = ?", version,
	); err != nil {
		return fmt.Errorf("clearing ledger row: %w", err)
	}

	return tx.Commit()
}

// SchemaVersion returns the version of the most recently applied
// migration, or "" when nothing has been applied yet. Migrate must have
// run at least once so the ledger table exists.
func (db *DB) SchemaVersion(ctx context.Context) (string, error) {
	var version string
	err := db.QueryRowContext(ctx,
		"SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1",
	).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// appliedVersions returns the set of versions the ledger records.
func (db *DB) appliedVersions(ctx context.Context) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("reading migration ledger: %w", err)
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scanning ledger row: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating migration ledger: %w", err)
	}
	return applied, nil
}

// runMigration applies one script and records it, atomically.
func (db *DB) runMigration(ctx context.Context, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck // No-op once committed

	if _, err := tx.ExecContext(ctx, m.up); err != nil {
		return fmt.Errorf("executing up script: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)",
		m.version, time.Now().UTC().Format(time.RFC3339),
	); err != nil {
		return fmt.Errorf("recording version: %w", err)
	}

	return tx.Commit()
}

// readMigrations loads every script pair from the registered
// filesystem, sorted oldest first. A down script without a matching up
// script is an error; an up script without a down is allowed (that
// migration just cannot be rolled back).
func readMigrations() ([]migration, error) {
	if migrationSource == nil {
		return nil, nil
	}

	entries, err := fs.ReadDir(migrationSource, ".")
	if err != nil {
		return nil, fmt.Errorf("reading migration scripts: %w", err)
	}

	byVersion := make(map[string]*migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		version, name, direction, ok := splitScriptName(entry.Name())
		if !ok {
			continue
		}

		body, err := fs.ReadFile(migrationSource, entry.Name())
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", entry.Name(), err)
		}

		m := byVersion[version]
		if m == nil {
			m = &migration{version: version, name: name}
			byVersion[version] = m
		}
		if direction == "up" {
			m.up = string(body)
		} else {
			m.down = string(body)
		}
	}

	scripts := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == "" {
			return nil, fmt.Errorf("migration %s has a down script but no up script", m.version)
		}
		scripts = append(scripts, *m)
	}

	sort.Slice(scripts, func(i, j int) bool {
		return scripts[i].version < scripts[j].version
	})

	return scripts, nil
}

// splitScriptName parses "20260815_120000_door_events.up.sql" into
// version "20260815_120000", name "door_events" and direction "up".
// Files that do not match the pattern are skipped, not errors, so a
// README or .gitkeep in the migrations directory stays harmless.
func splitScriptName(filename string) (version, name, direction string, ok bool) {
	base, found := strings.CutSuffix(filename, ".sql")
	if !found {
		return "", "", "", false
	}

	switch {
	case strings.HasSuffix(base, ".up"):
		direction = "up"
	case strings.HasSuffix(base, ".down"):
		direction = "down"
	default:
		return "", "", "", false
	}
	base = strings.TrimSuffix(base, "."+direction)

	// The version is the leading date_time pair; everything after is
	// the descriptive name.
	parts := strings.SplitN(base, "_", 3)
	if len(parts) < 2 {
		return "", "", "", false
	}
	version = parts[0] + "_" + parts[1]
	if len(parts) == 3 {
		name = parts[2]
	}
	return version, name, direction, true
}
