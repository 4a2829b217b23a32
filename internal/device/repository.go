package device

import "context"

// Repository defines the interface for token persistence.
type Repository interface {
	// Upsert creates the record for d.Token or updates its owner and platform.
	// It must be atomic per token. Returns true if a new record was created.
	// On update d.CreatedAt is replaced with the stored creation time.
	Upsert(ctx context.Context, d *DeviceToken) (created bool, err error)

	// Find returns the record for token, or ErrTokenNotFound.
	Find(ctx context.Context, token string) (*DeviceToken, error)

	// ListTokens returns every registered token, skipping empty values.
	ListTokens(ctx context.Context) ([]string, error)

	// DeleteByToken removes all records holding token and returns how many were removed.
	// Removing a token that does not exist is not an error.
	DeleteByToken(ctx context.Context, token string) (int, error)
}
