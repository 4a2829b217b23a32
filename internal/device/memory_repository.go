package device

import (
	"context"
	"sync"
)

// InMemoryRepository is an in-memory implementation of Repository.
// This is intended for testing and local development.
type InMemoryRepository struct {
	mu     sync.RWMutex
	tokens map[string]*DeviceToken // keyed by token
}

// NewInMemoryRepository creates a new in-memory token repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		tokens: make(map[string]*DeviceToken),
	}
}

// Upsert creates or updates the record for d.Token.
func (r *InMemoryRepository) Upsert(_ context.Context, d *DeviceToken) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.tokens[d.Token]; ok {
		existing.UserID = d.UserID
		existing.Platform = d.Platform
		existing.UpdatedAt = d.UpdatedAt
		d.CreatedAt = existing.CreatedAt
		return false, nil
	}

	r.tokens[d.Token] = copyToken(d)
	return true, nil
}

// ListTokens returns all registered tokens.
func (r *InMemoryRepository) ListTokens(_ context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tokens := make([]string, 0, len(r.tokens))
	for token := range r.tokens {
		if token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens, nil
}

// DeleteByToken removes the record for token.
func (r *InMemoryRepository) DeleteByToken(_ context.Context, token string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[token]; !ok {
		return 0, nil
	}
	delete(r.tokens, token)
	return 1, nil
}

// Find returns a copy of the record for token.
func (r *InMemoryRepository) Find(_ context.Context, token string) (*DeviceToken, error) {
	if d := r.Get(token); d != nil {
		return d, nil
	}
	return nil, ErrTokenNotFound
}

// Get returns a copy of the record for token, or nil.
func (r *InMemoryRepository) Get(token string) *DeviceToken {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyToken(r.tokens[token])
}

// Len returns the number of stored records.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}

func copyToken(d *DeviceToken) *DeviceToken {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

var _ Repository = (*InMemoryRepository)(nil)
