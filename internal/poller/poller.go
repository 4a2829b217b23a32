package poller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/crmpush/crmpush/internal/crm"
	"github.com/crmpush/crmpush/internal/dispatch"
)

const tracerName = "github.com/crmpush/crmpush/internal/poller"

// DefaultInterval is the poll interval used when none is configured.
const DefaultInterval = 5 * time.Second

// Source fetches the current message batch.
type Source interface {
	FetchMessages(ctx context.Context) ([]crm.Message, error)
}

// BotResolver looks up bot metadata.
type BotResolver interface {
	ResolveBot(ctx context.Context, botID crm.ID) (crm.BotInfo, bool)
}

// Broadcaster delivers a message to all registered devices.
type Broadcaster interface {
	Broadcast(ctx context.Context, msg crm.Message) dispatch.Report
}

// Config holds configuration for the poller.
type Config struct {
	Source      Source
	Resolver    BotResolver
	Broadcaster Broadcaster
	Logger      zerolog.Logger

	// Interval between the end of one cycle and the start of the next.
	Interval time.Duration
}

// Stats is a snapshot of poller activity.
type Stats struct {
	Running         bool      `json:"running"`
	Cycles          int64     `json:"cycles"`
	FetchFailures   int64     `json:"fetch_failures"`
	Broadcasts      int64     `json:"broadcasts"`
	Panics          int64     `json:"panics"`
	Watermark       *int64    `json:"watermark,omitempty"`
	LastCycleAt     time.Time `json:"last_cycle_at,omitzero"`
	LastBroadcastAt time.Time `json:"last_broadcast_at,omitzero"`
	LastError       string    `json:"last_error,omitempty"`
}

// Poller runs detection cycles one at a time and owns the watermark.
type Poller struct {
	source      Source
	resolver    BotResolver
	broadcaster Broadcaster
	logger      zerolog.Logger
	interval    time.Duration
	tracer      trace.Tracer
	trigger     chan struct{}

	mu        sync.RWMutex
	watermark Watermark
	stats     Stats
}

// New creates a poller.
func New(cfg Config) (*Poller, error) {
	if cfg.Source == nil {
		return nil, errors.New("poller: source is required")
	}
	if cfg.Broadcaster == nil {
		return nil, errors.New("poller: broadcaster is required")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	return &Poller{
		source:      cfg.Source,
		resolver:    cfg.Resolver,
		broadcaster: cfg.Broadcaster,
		logger:      cfg.Logger.With().Str("component", "poller").Logger(),
		interval:    interval,
		tracer:      otel.Tracer(tracerName),
		trigger:     make(chan struct{}, 1),
	}, nil
}

// Run polls immediately and then once per interval until ctx is done. The
// next cycle is scheduled only after the current one returns, so cycles
// never overlap.
func (p *Poller) Run(ctx context.Context) {
	p.setRunning(true)
	defer p.setRunning(false)

	p.logger.Info().Dur("interval", p.interval).Msg("poller started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("poller stopped")
			return
		case <-timer.C:
		case <-p.trigger:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		p.Poll(ctx)
		timer.Reset(p.interval)
	}
}

// Trigger requests an immediate cycle. Requests made while one is already
// pending are coalesced. Returns false if the request was coalesced.
func (p *Poller) Trigger() bool {
	select {
	case p.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Poll runs a single detection cycle. Panics are recovered and counted.
func (p *Poller) Poll(ctx context.Context) {
	ctx, span := p.tracer.Start(ctx, "poller.cycle")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("panic in poll cycle: %v", r)
			span.RecordError(err)
			span.SetStatus(codes.Error, "panic")
			p.logger.Error().Interface("panic", r).Msg("recovered panic in poll cycle")
			p.mu.Lock()
			p.stats.Panics++
			p.stats.LastError = err.Error()
			p.mu.Unlock()
		}
	}()

	p.mu.Lock()
	p.stats.Cycles++
	p.stats.LastCycleAt = time.Now()
	prev := p.watermark
	p.mu.Unlock()

	batch, err := p.source.FetchMessages(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		p.logger.Warn().Err(err).Msg("failed to fetch messages")
		p.mu.Lock()
		p.stats.FetchFailures++
		p.stats.LastError = err.Error()
		p.mu.Unlock()
		return
	}

	next, msg := Detect(prev, batch)

	p.mu.Lock()
	p.watermark = next
	p.mu.Unlock()

	span.SetAttributes(
		attribute.Int("poller.batch_size", len(batch)),
		attribute.Int64("poller.watermark", int64(next.ID)),
	)

	if !prev.Valid && next.Valid {
		p.logger.Info().Int64("watermark", int64(next.ID)).Msg("watermark initialised")
	}
	if msg == nil {
		return
	}

	logger := p.logger.With().
		Int64("message_id", int64(msg.ID)).
		Int64("bot_id", int64(msg.BotID)).
		Logger()
	logger.Info().Int64("previous", int64(prev.ID)).Msg("new message detected")

	enriched := *msg
	if p.resolver != nil {
		if info, ok := p.resolver.ResolveBot(ctx, msg.BotID); ok {
			enriched = msg.Enrich(info)
		} else {
			logger.Info().Msg("bot metadata unavailable, sending without enrichment")
		}
	}

	report := p.broadcaster.Broadcast(ctx, enriched)
	span.SetAttributes(
		attribute.Int("push.total", report.Total),
		attribute.Int("push.sent", report.Sent),
		attribute.Int("push.pruned", report.Pruned),
	)

	p.mu.Lock()
	p.stats.Broadcasts++
	p.stats.LastBroadcastAt = time.Now()
	p.mu.Unlock()
}

// Watermark returns the current watermark.
func (p *Poller) Watermark() Watermark {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.watermark
}

// Stats returns a snapshot of poller activity.
func (p *Poller) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s := p.stats
	if p.watermark.Valid {
		id := int64(p.watermark.ID)
		s.Watermark = &id
	}
	return s
}

func (p *Poller) setRunning(running bool) {
	p.mu.Lock()
	p.stats.Running = running
	p.mu.Unlock()
}
