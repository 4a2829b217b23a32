package fcm

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"github.com/rs/zerolog"

	"github.com/crmpush/crmpush/internal/device"
	"github.com/crmpush/crmpush/internal/push"
)

// MessageSender is the part of messaging.Client used here.
type MessageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// Client sends notifications to single tokens.
type Client struct {
	messaging MessageSender
	logger    zerolog.Logger
}

// NewClient creates a client from an initialised Firebase app.
func NewClient(ctx context.Context, app *firebase.App, logger zerolog.Logger) (*Client, error) {
	mc, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting messaging client: %w", err)
	}
	return NewClientWithSender(mc, logger), nil
}

// NewClientWithSender creates a client over an arbitrary MessageSender.
func NewClientWithSender(sender MessageSender, logger zerolog.Logger) *Client {
	return &Client{
		messaging: sender,
		logger:    logger.With().Str("component", "fcm").Logger(),
	}
}

// Send delivers payload to token. Failures are returned as *push.SendError.
func (c *Client) Send(ctx context.Context, token string, payload push.Payload) error {
	id, err := c.messaging.Send(ctx, Message(token, payload))
	if err != nil {
		return &push.SendError{Kind: Classify(err), Err: err}
	}
	c.logger.Debug().Str("token_last4", device.Last4(token)).Str("message_id", id).Msg("fcm message accepted")
	return nil
}

// Message builds the FCM message for token.
func Message(token string, payload push.Payload) *messaging.Message {
	data := make(map[string]string, len(payload.Data))
	for k, v := range payload.Data {
		data[k] = v
	}
	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: payload.Title,
			Body:  payload.Body,
		},
		Data: data,
	}
}

// Classify maps an FCM error onto a push.ErrorKind.
func Classify(err error) push.ErrorKind {
	switch {
	case err == nil:
		return ""
	case messaging.IsUnregistered(err):
		return push.KindUnregistered
	case messaging.IsInvalidArgument(err):
		return push.KindInvalidArgument
	case messaging.IsQuotaExceeded(err):
		return push.KindQuotaExceeded
	case messaging.IsUnavailable(err), messaging.IsInternal(err):
		return push.KindUnavailable
	default:
		return push.KindUnknown
	}
}

// DryRunSender logs payloads instead of sending them.
type DryRunSender struct {
	logger zerolog.Logger
}

// NewDryRunSender creates a sender for local development without Firebase.
func NewDryRunSender(logger zerolog.Logger) *DryRunSender {
	return &DryRunSender{logger: logger.With().Str("component", "fcm_dry_run").Logger()}
}

// Send logs the notification and reports success.
func (s *DryRunSender) Send(_ context.Context, token string, payload push.Payload) error {
	s.logger.Info().
		Str("token_last4", device.Last4(token)).
		Str("title", payload.Title).
		Str("body", payload.Body).
		Interface("data", payload.Data).
		Msg("dry run: notification not sent")
	return nil
}
