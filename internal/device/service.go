package device

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TokensResult is the outcome of reading the registry.
// On failure Tokens is empty and Err is set; callers log and carry on.
type TokensResult struct {
	Tokens []string
	Err    error
}

// PruneResult is the outcome of removing a token.
type PruneResult struct {
	Token   string
	Removed int
	Err     error
}

// Service provides token registry operations.
type Service struct {
	repo   Repository
	logger zerolog.Logger
	now    func() time.Time
}

// ServiceConfig holds configuration for the token service.
type ServiceConfig struct {
	Repository Repository
	Logger     zerolog.Logger
	// Now overrides the clock; defaults to time.Now.
	Now func() time.Time
}

// NewService creates a new token service.
func NewService(cfg ServiceConfig) *Service {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:   cfg.Repository,
		logger: cfg.Logger.With().Str("component", "token_registry").Logger(),
		now:    now,
	}
}

// Register stores token for userID, creating the record or transferring it to
// the new owner. Returns the stored record, with its original CreatedAt on
// update, and whether it was newly created.
func (s *Service) Register(ctx context.Context, userID, token, platform string) (*DeviceToken, bool, error) {
	userID = strings.TrimSpace(userID)
	token = strings.TrimSpace(token)
	if userID == "" {
		return nil, false, ErrUserIDRequired
	}
	if token == "" {
		return nil, false, ErrTokenRequired
	}

	now := s.now().UTC()
	d := &DeviceToken{
		Token:     token,
		UserID:    userID,
		Platform:  NormalizePlatform(platform),
		CreatedAt: now,
		UpdatedAt: now,
	}

	created, err := s.repo.Upsert(ctx, d)
	if err != nil {
		return nil, false, fmt.Errorf("upserting token: %w", err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("token_last4", d.TokenLast4()).
		Str("platform", string(d.Platform)).
		Bool("created", created).
		Msg("token registered")

	return d, created, nil
}

// Tokens returns every registered token.
func (s *Service) Tokens(ctx context.Context) TokensResult {
	tokens, err := s.repo.ListTokens(ctx)
	if err != nil {
		return TokensResult{Err: fmt.Errorf("listing tokens: %w", err)}
	}
	return TokensResult{Tokens: tokens}
}

// Prune removes every record holding token. Removing an unknown token is a no-op.
func (s *Service) Prune(ctx context.Context, token string) PruneResult {
	removed, err := s.repo.DeleteByToken(ctx, token)
	if err != nil {
		return PruneResult{Token: token, Err: fmt.Errorf("deleting token: %w", err)}
	}
	return PruneResult{Token: token, Removed: removed}
}
