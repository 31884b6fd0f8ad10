package sessionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"portalauth/internal/sessionstore/migrations"
)

// SQLiteBackend keeps sessions in a single SQLite database, for setups
// where many sessions are stored or the directory is shared.
type SQLiteBackend struct {
	db   *sql.DB
	path string
}

// NewSQLiteBackend opens (creating if needed) the database at path and
// applies pending migrations.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}
	// SQLite allows one writer; serialising here avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	b := &SQLiteBackend{db: db, path: path}
	if err := b.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate session database: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = db.Close()
		return nil, fmt.Errorf("failed to restrict session database: %w", err)
	}
	return b, nil
}

func (b *SQLiteBackend) applyMigrations() error {
	driver, err := migratesqlite.WithInstance(b.db, &migratesqlite.Config{})
	if err != nil {
		return err
	}

	source, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return err
	}

	instance, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return err
	}

	// instance.Close would close b.db as well.
	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

// Path returns the database file.
func (b *SQLiteBackend) Path() string {
	return b.path
}

func (b *SQLiteBackend) Put(ctx context.Context, blob Blob) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO sessions (key, saved_at, data, encrypted) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			saved_at = excluded.saved_at,
			data = excluded.data,
			encrypted = excluded.encrypted`,
		blob.Key, blob.SavedAt.UnixMilli(), blob.Data, blob.Encrypted)
	if err != nil {
		return fmt.Errorf("failed to write session: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) Get(ctx context.Context, key string) (Blob, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT key, saved_at, data, encrypted FROM sessions WHERE key = ?`, key)
	blob, err := scanBlob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Blob{}, ErrNotFound
	}
	if err != nil {
		return Blob{}, fmt.Errorf("failed to read session: %w", err)
	}
	return blob, nil
}

func (b *SQLiteBackend) Delete(ctx context.Context, key string) error {
	if _, err := b.db.ExecContext(ctx, `DELETE FROM sessions WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) List(ctx context.Context) ([]Blob, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT key, saved_at, data, encrypted FROM sessions ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var blobs []Blob
	for rows.Next() {
		blob, err := scanBlob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to list sessions: %w", err)
		}
		blobs = append(blobs, blob)
	}
	return blobs, rows.Err()
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBlob(row scanner) (Blob, error) {
	var (
		blob    Blob
		savedAt int64
	)
	if err := row.Scan(&blob.Key, &savedAt, &blob.Data, &blob.Encrypted); err != nil {
		return Blob{}, err
	}
	blob.SavedAt = time.UnixMilli(savedAt).UTC()
	return blob, nil
}
