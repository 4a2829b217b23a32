// Package dispatch fans a message out as push notifications to every
// registered device and prunes tokens the provider reports as dead.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/crmpush/crmpush/internal/crm"
	"github.com/crmpush/crmpush/internal/device"
	"github.com/crmpush/crmpush/internal/push"
)

const meterName = "github.com/crmpush/crmpush/internal/dispatch"

// Sender delivers a payload to a single device token.
type Sender interface {
	Send(ctx context.Context, token string, payload push.Payload) error
}

// TokenRegistry is the subset of the device service used by the dispatcher.
type TokenRegistry interface {
	Tokens(ctx context.Context) device.TokensResult
	Prune(ctx context.Context, token string) device.PruneResult
}

// Config holds configuration for the dispatcher.
type Config struct {
	Sender   Sender
	Registry TokenRegistry
	Logger   zerolog.Logger

	// SendTimeout bounds each individual send (default: 10s).
	SendTimeout time.Duration

	// MaxConcurrency caps in-flight sends. Zero means one goroutine per token.
	MaxConcurrency int

	// RatePerSecond paces sends across a broadcast. Zero means unlimited.
	RatePerSecond float64
}

// Outcome is the result of sending to one token.
type Outcome struct {
	Token  string
	Err    error
	Kind   push.ErrorKind
	Pruned bool
}

// Report summarises a broadcast.
type Report struct {
	Total    int
	Sent     int
	Failed   int
	Pruned   int
	Outcomes []Outcome
}

// Dispatcher broadcasts messages to the token registry.
type Dispatcher struct {
	sender   Sender
	registry TokenRegistry
	logger   zerolog.Logger
	timeout  time.Duration
	sem      chan struct{}
	limiter  *rate.Limiter

	sendTotal  metric.Int64Counter
	pruneTotal metric.Int64Counter
}

// New creates a dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	d := &Dispatcher{
		sender:   cfg.Sender,
		registry: cfg.Registry,
		logger:   cfg.Logger.With().Str("component", "dispatcher").Logger(),
		timeout:  timeout,
	}
	if cfg.MaxConcurrency > 0 {
		d.sem = make(chan struct{}, cfg.MaxConcurrency)
	}
	if cfg.RatePerSecond > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	meter := otel.Meter(meterName)
	var err error
	d.sendTotal, err = meter.Int64Counter(
		"push.send.total",
		metric.WithDescription("Push sends by outcome"),
		metric.WithUnit("{send}"),
	)
	if err != nil {
		return nil, err
	}
	d.pruneTotal, err = meter.Int64Counter(
		"push.prune.total",
		metric.WithDescription("Tokens removed after permanent delivery failures"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}

	return d, nil
}

// Broadcast sends msg to every registered token and waits for all sends.
// Failures are isolated per token and never returned; they are reported.
func (d *Dispatcher) Broadcast(ctx context.Context, msg crm.Message) Report {
	logger := d.logger.With().Int64("message_id", int64(msg.ID)).Logger()

	res := d.registry.Tokens(ctx)
	if res.Err != nil {
		logger.Error().Err(res.Err).Msg("failed to read token registry")
	}
	tokens := Dedupe(res.Tokens)
	if len(tokens) == 0 {
		logger.Info().Msg("no tokens registered, skipping broadcast")
		return Report{}
	}

	payload := BuildPayload(msg)
	outcomes := make([]Outcome, len(tokens))

	var wg sync.WaitGroup
	for i, token := range tokens {
		wg.Add(1)
		go func(i int, token string) {
			defer wg.Done()
			outcomes[i] = d.deliver(ctx, logger, token, payload)
		}(i, token)
	}
	wg.Wait()

	report := Report{Total: len(tokens), Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Err == nil {
			report.Sent++
			continue
		}
		report.Failed++
		if o.Pruned {
			report.Pruned++
		}
	}

	logger.Info().
		Int("total", report.Total).
		Int("sent", report.Sent).
		Int("failed", report.Failed).
		Int("pruned", report.Pruned).
		Msg("broadcast complete")

	return report
}

func (d *Dispatcher) deliver(ctx context.Context, logger zerolog.Logger, token string, payload push.Payload) (out Outcome) {
	out.Token = token
	tokenLog := logger.With().Str("token_last4", device.Last4(token)).Logger()

	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("panic during send: %v", r)
			out.Kind = push.KindUnknown
			tokenLog.Error().Interface("panic", r).Msg("recovered panic during send")
		}
		d.sendTotal.Add(context.Background(), 1, metric.WithAttributes(outcomeAttr(out)))
	}()

	if d.sem != nil {
		select {
		case d.sem <- struct{}{}:
			defer func() { <-d.sem }()
		case <-ctx.Done():
			out.Err, out.Kind = ctx.Err(), push.KindUnknown
			return out
		}
	}
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			out.Err, out.Kind = err, push.KindUnknown
			return out
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	err := d.sender.Send(sendCtx, token, payload)
	if err == nil {
		tokenLog.Debug().Msg("notification sent")
		return out
	}

	out.Err = err
	out.Kind = push.KindOf(err)
	if !out.Kind.Permanent() {
		tokenLog.Warn().Err(err).Str("kind", string(out.Kind)).Msg("send failed")
		return out
	}

	pr := d.registry.Prune(ctx, token)
	if pr.Err != nil {
		tokenLog.Error().Err(pr.Err).Str("kind", string(out.Kind)).Msg("failed to prune token")
		return out
	}
	out.Pruned = true
	d.pruneTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", string(out.Kind))))
	tokenLog.Info().Str("kind", string(out.Kind)).Int("removed", pr.Removed).Msg("pruned invalid token")
	return out
}

func outcomeAttr(o Outcome) attribute.KeyValue {
	if o.Err == nil {
		return attribute.String("outcome", "sent")
	}
	return attribute.String("outcome", string(o.Kind))
}

// Dedupe removes duplicate and empty tokens, keeping first-seen order.
func Dedupe(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
