package crm

import (
	"context"

	"github.com/rs/zerolog"
)

// BotSource provides the bot directory.
type BotSource interface {
	FetchBots(ctx context.Context) ([]Bot, error)
}

// Resolver looks up bot metadata for messages.
type Resolver struct {
	source BotSource
	logger zerolog.Logger
}

// NewResolver creates a resolver over source.
func NewResolver(source BotSource, logger zerolog.Logger) *Resolver {
	return &Resolver{
		source: source,
		logger: logger.With().Str("component", "bot_resolver").Logger(),
	}
}

// ResolveBot returns the metadata for botID. The second result is false when
// the bot is not listed or the directory could not be fetched; the fetch
// error is logged and not returned.
func (r *Resolver) ResolveBot(ctx context.Context, botID ID) (BotInfo, bool) {
	bots, err := r.source.FetchBots(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Int64("bot_id", int64(botID)).Msg("bot directory unavailable")
		return BotInfo{}, false
	}

	for _, b := range bots {
		if b.Matches(botID) {
			return BotInfo{Name: string(b.Name), TokenID: string(b.TokenID)}, true
		}
	}

	r.logger.Debug().Int64("bot_id", int64(botID)).Int("bots", len(bots)).Msg("bot not found")
	return BotInfo{}, false
}
