package device

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS device_tokens (
		token      TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		platform   TEXT NOT NULL DEFAULT 'unknown',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)
`

// SQLiteRepository is a SQLite implementation of Repository for single-node deployments.
type SQLiteRepository struct {
	db *sql.DB
}

// OpenSQLiteRepository opens (and migrates) the SQLite database at path.
func OpenSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers, which keeps Upsert atomic.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.ExecContext(ctx, "PRAGMA journal_mode = WAL")
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteRepository{db: db}, nil
}

// Ping checks that the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the underlying database.
func (r *SQLiteRepository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Upsert creates or updates a token record.
func (r *SQLiteRepository) Upsert(ctx context.Context, d *DeviceToken) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var existingCreatedAt int64
	err = tx.QueryRowContext(ctx, `SELECT created_at FROM device_tokens WHERE token = ?`, d.Token).Scan(&existingCreatedAt)
	created := errors.Is(err, sql.ErrNoRows)
	if err != nil && !created {
		return false, err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO device_tokens (token, user_id, platform, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (token) DO UPDATE SET
			user_id = excluded.user_id,
			platform = excluded.platform,
			updated_at = excluded.updated_at
	`,
		d.Token,
		d.UserID,
		string(d.Platform),
		d.CreatedAt.UnixMilli(),
		d.UpdatedAt.UnixMilli(),
	)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	if !created {
		d.CreatedAt = time.UnixMilli(existingCreatedAt).UTC()
	}
	return created, nil
}

// Find returns the record for token.
func (r *SQLiteRepository) Find(ctx context.Context, token string) (*DeviceToken, error) {
	var (
		d                    DeviceToken
		platform             string
		createdAt, updatedAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT token, user_id, platform, created_at, updated_at FROM device_tokens WHERE token = ?`,
		token,
	).Scan(&d.Token, &d.UserID, &platform, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Platform = Platform(platform)
	d.CreatedAt = time.UnixMilli(createdAt).UTC()
	d.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &d, nil
}

// ListTokens returns every registered token.
func (r *SQLiteRepository) ListTokens(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT token FROM device_tokens WHERE token <> ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	return tokens, rows.Err()
}

// DeleteByToken deletes the record for token.
func (r *SQLiteRepository) DeleteByToken(ctx context.Context, token string) (int, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM device_tokens WHERE token = ?`, token)
	if err != nil {
		return 0, err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

var _ Repository = (*SQLiteRepository)(nil)
