package device

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS device_tokens (
		token      TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		platform   TEXT NOT NULL DEFAULT 'unknown',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)
`

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL token repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// EnsureSchema creates the device_tokens table if it does not exist.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, postgresSchema)
	return err
}

// Upsert creates or updates a token record.
// Returns true if a new record was created, false if updated.
func (r *PostgresRepository) Upsert(ctx context.Context, d *DeviceToken) (bool, error) {
	// The primary key on token makes this a single atomic find-or-create.
	query := `
		INSERT INTO device_tokens (token, user_id, platform, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			platform = EXCLUDED.platform,
			updated_at = EXCLUDED.updated_at
		RETURNING (xmax = 0) AS inserted, created_at
	`

	var inserted bool
	err := r.pool.QueryRow(ctx, query,
		d.Token,
		d.UserID,
		string(d.Platform),
		d.CreatedAt,
		d.UpdatedAt,
	).Scan(&inserted, &d.CreatedAt)
	if err != nil {
		return false, err
	}

	return inserted, nil
}

// Find returns the record for token.
func (r *PostgresRepository) Find(ctx context.Context, token string) (*DeviceToken, error) {
	query := `
		SELECT token, user_id, platform, created_at, updated_at
		FROM device_tokens
		WHERE token = $1
	`

	var (
		d        DeviceToken
		platform string
	)
	err := r.pool.QueryRow(ctx, query, token).Scan(
		&d.Token,
		&d.UserID,
		&platform,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTokenNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Platform = Platform(platform)
	return &d, nil
}

// ListTokens returns every registered token.
func (r *PostgresRepository) ListTokens(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT token FROM device_tokens WHERE token <> ''`)
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

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return tokens, nil
}

// DeleteByToken deletes the record for token.
func (r *PostgresRepository) DeleteByToken(ctx context.Context, token string) (int, error) {
	result, err := r.pool.Exec(ctx, `DELETE FROM device_tokens WHERE token = $1`, token)
	if err != nil {
		return 0, err
	}
	return int(result.RowsAffected()), nil
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
