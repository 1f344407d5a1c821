package sqlitemigrate

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"testing/fstest"

	_ "modernc.org/sqlite"
)

func TestApplyMigrationsRecordsApplied(t *testing.T) {
	db := openInMemoryDB(t)

	migrations := fstest.MapFS{
		"001_blocks.sql": &fstest.MapFile{
			Data: []byte("-- +migrate Up\nCREATE TABLE blocks(hash BLOB PRIMARY KEY);\n-- +migrate Down\nDROP TABLE blocks;"),
		},
	}
	if err := ApplyMigrations(context.Background(), db, migrations, ""); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	if rows := queryInt64(t, db, "SELECT COUNT(*) FROM schema_migrations"); rows != 1 {
		t.Fatalf("expected 1 migration row, got %d", rows)
	}
	if !tableExists(t, db, "blocks") {
		t.Fatal("expected applied table to exist")
	}
}

func TestApplyMigrationsSkipsAlreadyApplied(t *testing.T) {
	db := openInMemoryDB(t)
	migrations := fstest.MapFS{
		"001_blocks.sql": &fstest.MapFile{
			Data: []byte("-- +migrate Up\nCREATE TABLE blocks(hash BLOB PRIMARY KEY);"),
		},
	}
	for i := 0; i < 2; i++ {
		if err := ApplyMigrations(context.Background(), db, migrations, ""); err != nil {
			t.Fatalf("apply migrations pass %d: %v", i, err)
		}
	}
	if rows := queryInt64(t, db, "SELECT COUNT(*) FROM schema_migrations"); rows != 1 {
		t.Fatalf("expected single migration row after replay, got %d", rows)
	}
}

func TestApplyMigrationsDoesNotRecordFailedMigration(t *testing.T) {
	db := openInMemoryDB(t)

	bad := fstest.MapFS{
		"001_bad.sql": &fstest.MapFile{Data: []byte("-- +migrate Up\nCREAT table things(id INT);")},
	}
	if err := ApplyMigrations(context.Background(), db, bad, ""); err == nil {
		t.Fatal("expected bad migration to fail")
	}
	if rows := queryInt64(t, db, "SELECT COUNT(*) FROM schema_migrations"); rows != 0 {
		t.Fatalf("expected failed migration to stay unrecorded, got %d rows", rows)
	}

	good := fstest.MapFS{
		"001_bad.sql": &fstest.MapFile{Data: []byte("-- +migrate Up\nCREATE TABLE things(id INTEGER PRIMARY KEY);")},
	}
	if err := ApplyMigrations(context.Background(), db, good, ""); err != nil {
		t.Fatalf("apply fixed migration: %v", err)
	}
	if rows := queryInt64(t, db, "SELECT COUNT(*) FROM schema_migrations"); rows != 1 {
		t.Fatalf("expected fixed migration to be recorded, got %d rows", rows)
	}
}

func TestLoadOrdersFilesAndKeysByRoot(t *testing.T) {
	migrations := fstest.MapFS{
		"chain/002_logs.sql":   &fstest.MapFile{Data: []byte("-- +migrate Up\nCREATE TABLE log_blocks(id TEXT);")},
		"chain/001_blocks.sql": &fstest.MapFile{Data: []byte("CREATE TABLE blocks(id TEXT);")},
		"chain/README.md":      &fstest.MapFile{Data: []byte("ignored")},
	}
	loaded, err := Load(migrations, "chain")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(loaded))
	}
	if loaded[0].Name != "chain/001_blocks.sql" || loaded[1].Name != "chain/002_logs.sql" {
		t.Fatalf("unexpected order: %q, %q", loaded[0].Name, loaded[1].Name)
	}
	if loaded[0].Up != "CREATE TABLE blocks(id TEXT);" {
		t.Fatalf("expected markerless file to be used in full, got %q", loaded[0].Up)
	}
}

func TestExtractUpMigrationStopsAtDown(t *testing.T) {
	got := ExtractUpMigration("-- +migrate Up\nCREATE TABLE a(id INT);\n-- +migrate Down\nDROP TABLE a;")
	if got != "\nCREATE TABLE a(id INT);\n" {
		t.Fatalf("unexpected up section %q", got)
	}
}

func TestApplyMigrationsRequiresDB(t *testing.T) {
	if err := ApplyMigrations(context.Background(), nil, fstest.MapFS{}, ""); err == nil {
		t.Fatal("expected missing db error")
	}
}

func openInMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open in-memory db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Fatalf("close db: %v", err)
		}
	})
	return db
}

func queryInt64(t *testing.T, db *sql.DB, query string) int64 {
	t.Helper()
	var value int64
	if err := db.QueryRow(query).Scan(&value); err != nil {
		t.Fatalf("query int value: %v", err)
	}
	return value
}

func tableExists(t *testing.T, db *sql.DB, tableName string) bool {
	t.Helper()
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name = ?", tableName).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false
	}
	if err != nil {
		t.Fatalf("check table exists: %v", err)
	}
	return name == tableName
}
