// Package sqlitemigrate applies embedded "-- +migrate Up" SQL files to a
// SQLite database, recording each applied file in schema_migrations.
package sqlitemigrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

const (
	migrationTable = "schema_migrations"
	upMarker       = "-- +migrate Up"
	downMarker     = "-- +migrate Down"
)

// Migration is one SQL file discovered under a migration root.
type Migration struct {
	// Name is the key recorded in schema_migrations (root-relative path).
	Name string
	// Up holds the statements of the Up section.
	Up string
}

// Load reads the .sql files under root in lexical order.
func Load(migrationFS fs.FS, root string) ([]Migration, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	entries, err := fs.ReadDir(migrationFS, root)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	migrations := make([]Migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(migrationFS, path.Join(root, name))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		key := name
		if root != "." {
			key = path.Join(root, name)
		}
		migrations = append(migrations, Migration{Name: key, Up: ExtractUpMigration(string(content))})
	}
	return migrations, nil
}

// ApplyMigrations executes migrations from root at most once per file, each
// inside its own transaction.
func ApplyMigrations(ctx context.Context, sqlDB *sql.DB, migrationFS fs.FS, root string) error {
	if sqlDB == nil {
		return fmt.Errorf("sql db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	migrations, err := Load(migrationFS, root)
	if err != nil {
		return err
	}

	createSQL := `CREATE TABLE IF NOT EXISTS ` + migrationTable + ` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
);`
	if _, err := sqlDB.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, migration := range migrations {
		applied, err := isApplied(ctx, sqlDB, migration.Name)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", migration.Name, err)
		}
		if applied || strings.TrimSpace(migration.Up) == "" {
			continue
		}
		if err := apply(ctx, sqlDB, migration); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, sqlDB *sql.DB, migration Migration) error {
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", migration.Name, err)
	}
	if _, err := tx.ExecContext(ctx, migration.Up); err != nil && !IsAlreadyExistsError(err) {
		_ = tx.Rollback()
		return fmt.Errorf("exec migration %s: %w", migration.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO "+migrationTable+" (name, applied_at) VALUES (?, ?)",
		migration.Name,
		time.Now().UTC().UnixMilli(),
	); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", migration.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", migration.Name, err)
	}
	return nil
}

// ExtractUpMigration returns the SQL between the Up and Down markers. Files
// without an Up marker are treated as Up in full.
func ExtractUpMigration(content string) string {
	upIdx := strings.Index(content, upMarker)
	if upIdx == -1 {
		return content
	}
	body := content[upIdx+len(upMarker):]
	if downIdx := strings.Index(body, downMarker); downIdx != -1 {
		body = body[:downIdx]
	}
	return body
}

// IsAlreadyExistsError reports whether this error indicates idempotent DDL success.
func IsAlreadyExistsError(err error) bool {
	value := strings.ToLower(err.Error())
	return strings.Contains(value, "already exists") || strings.Contains(value, "duplicate column name")
}

func isApplied(ctx context.Context, sqlDB *sql.DB, name string) (bool, error) {
	var found int
	err := sqlDB.QueryRowContext(ctx, "SELECT 1 FROM "+migrationTable+" WHERE name = ?", name).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
