package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/crmpush/crmpush/internal/provider/resilience"
)

const (
	// DefaultBotsURL is the bot directory endpoint.
	DefaultBotsURL = "https://crm.1set.biz/api/v1/crm/bots"

	// Upstream names used for circuit breakers and health reporting.
	MessagesProviderName = "crm-messages"
	BotsProviderName     = "crm-bots"

	apiKeyHeader   = "api-key"
	maxPayloadSize = 8 << 20
)

// HTTPDoer abstracts HTTP request execution.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// ClientConfig holds configuration for the CRM client.
type ClientConfig struct {
	// MessagesURL is the message feed endpoint. Required.
	MessagesURL string

	// BotsURL is the bot directory endpoint (defaults to DefaultBotsURL).
	BotsURL string

	// APIKey is sent in the api-key header.
	APIKey string

	// HTTPClient overrides the per-endpoint resilient clients.
	HTTPClient HTTPDoer

	// Timeout for individual requests (default: 10s).
	Timeout time.Duration

	// MaxRetries is the number of in-request retries on transient failures.
	MaxRetries uint64

	// CircuitBreaker enables a breaker per endpoint. When false (the default)
	// every call reaches the upstream, so a failed fetch is simply retried on
	// the next poll tick.
	CircuitBreaker bool

	// Registry receives the resilient clients for health reporting.
	Registry *resilience.Registry

	Logger zerolog.Logger
}

// Client fetches the message feed and the bot directory.
type Client struct {
	messagesURL string
	botsURL     string
	apiKey      string
	messages    HTTPDoer
	bots        HTTPDoer
	logger      zerolog.Logger
}

// NewClient creates a new CRM client. Each endpoint gets its own resilient
// client so health is reported per upstream.
func NewClient(cfg ClientConfig) *Client {
	botsURL := cfg.BotsURL
	if botsURL == "" {
		botsURL = DefaultBotsURL
	}

	messages, bots := cfg.HTTPClient, cfg.HTTPClient
	if cfg.HTTPClient == nil {
		messages = newUpstream(MessagesProviderName, cfg)
		bots = newUpstream(BotsProviderName, cfg)
	}

	return &Client{
		messagesURL: cfg.MessagesURL,
		botsURL:     botsURL,
		apiKey:      cfg.APIKey,
		messages:    messages,
		bots:        bots,
		logger:      cfg.Logger.With().Str("component", "crm_client").Logger(),
	}
}

func newUpstream(name string, cfg ClientConfig) *resilience.Client {
	rc := resilience.DefaultClientConfig(name)
	if cfg.Timeout > 0 {
		rc.Timeout = cfg.Timeout
	}
	rc.MaxRetries = cfg.MaxRetries
	if !cfg.CircuitBreaker {
		breaker := resilience.PassThroughBreakerConfig(name)
		rc.Breaker = &breaker
	}
	rc.Registry = cfg.Registry
	return resilience.NewClient(rc)
}

// FetchMessages returns the current message batch. Entries that cannot be
// decoded are logged and skipped so one bad record cannot stall the feed.
func (c *Client) FetchMessages(ctx context.Context) ([]Message, error) {
	raw, err := c.getArray(ctx, c.messages, c.messagesURL)
	if err != nil {
		return nil, fmt.Errorf("fetch messages: %w", err)
	}
	return decodeEach[Message](raw, c.logger, "message"), nil
}

// FetchBots returns the bot directory, skipping entries that cannot be decoded.
func (c *Client) FetchBots(ctx context.Context) ([]Bot, error) {
	raw, err := c.getArray(ctx, c.bots, c.botsURL)
	if err != nil {
		return nil, fmt.Errorf("fetch bots: %w", err)
	}
	return decodeEach[Bot](raw, c.logger, "bot"), nil
}

func decodeEach[T any](raw []json.RawMessage, logger zerolog.Logger, kind string) []T {
	out := make([]T, 0, len(raw))
	for i, entry := range raw {
		if bytes.Equal(bytes.TrimSpace(entry), []byte("null")) {
			continue
		}
		var v T
		if err := json.Unmarshal(entry, &v); err != nil {
			logger.Warn().Err(err).Int("index", i).Str("kind", kind).Msg("skipping undecodable entry")
			continue
		}
		out = append(out, v)
	}
	return out
}

func (c *Client) getArray(ctx context.Context, doer HTTPDoer, url string) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := doer.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadSize))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '[' {
		return nil, fmt.Errorf("%w: expected JSON array", ErrUnexpectedPayload)
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return entries, nil
}
