package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/louisbranch/sigchain/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/sigchain/internal/services/sigchain/storage"
	"github.com/louisbranch/sigchain/internal/services/sigchain/storage/sqlite/migrations"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements storage.Store over SQLite.
type Store struct {
	sqlDB *sql.DB
	db    dbtx
	inTx  bool
	now   func() time.Time
}

// Open opens a SQLite sigchain store and applies embedded migrations.
//
// Write transactions begin IMMEDIATE, so a transaction holds the write lock
// from its first read and a check-then-append is linearizable per database.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := "file:" + cleanPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, db: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil || s.inTx {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) withTx(tx *sql.Tx) *Store {
	cloned := *s
	cloned.db = tx
	cloned.inTx = true
	return &cloned
}

// WithinTx runs fn inside one write transaction. Nested calls join the
// enclosing transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx storage.Store) error) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if s.inTx {
		return fn(ctx, s)
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		if isBusyError(err) {
			return fmt.Errorf("begin tx: %w: %v", storage.ErrChainConflict, err)
		}
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, s.withTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		if isBusyError(err) {
			return fmt.Errorf("commit tx: %w: %v", storage.ErrChainConflict, err)
		}
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.db == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

func isConstraintError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3lib.SQLITE_CONSTRAINT || code == sqlite3lib.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY
}

func isBusyError(err error) bool {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3lib.SQLITE_BUSY || code == sqlite3lib.SQLITE_LOCKED
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

var _ storage.Store = (*Store)(nil)
