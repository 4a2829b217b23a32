// Package worker processes out-of-band jobs for the poller, delivered over Pub/Sub.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/crmpush/crmpush/internal/provider/resilience"
)

// Job types understood by the worker.
const (
	JobPollNow     = "poll_now"
	JobHealthCheck = "health_check"
)

// ErrMalformedJob is returned for payloads that are not a JSON job message.
var ErrMalformedJob = errors.New("malformed job message")

// JobMessage is the Pub/Sub payload.
type JobMessage struct {
	JobType string `json:"job_type"`
}

// PollTrigger requests an immediate poll cycle.
type PollTrigger interface {
	Trigger() bool
}

// HealthReporter lists upstream health.
type HealthReporter interface {
	All() []*resilience.ProviderHealth
}

// Jobs dispatches job messages.
type Jobs struct {
	poller PollTrigger
	health HealthReporter
	logger zerolog.Logger
}

// NewJobs creates a job dispatcher. health may be nil.
func NewJobs(poller PollTrigger, health HealthReporter, logger zerolog.Logger) *Jobs {
	return &Jobs{
		poller: poller,
		health: health,
		logger: logger.With().Str("component", "worker").Logger(),
	}
}

// Handle runs the job encoded in data and returns its type.
// Unknown job types are logged and ignored.
func (j *Jobs) Handle(_ context.Context, data []byte) (string, error) {
	var msg JobMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedJob, err)
	}

	switch msg.JobType {
	case JobPollNow:
		queued := j.poller.Trigger()
		j.logger.Info().Bool("queued", queued).Msg("poll requested")
	case JobHealthCheck:
		j.reportHealth()
	default:
		j.logger.Warn().Str("job_type", msg.JobType).Msg("unknown job type")
	}
	return msg.JobType, nil
}

func (j *Jobs) reportHealth() {
	if j.health == nil {
		return
	}
	for _, h := range j.health.All() {
		ev := j.logger.Info()
		if h.Status() != resilience.StatusHealthy {
			ev = j.logger.Warn()
		}
		ev.Str("provider", h.Name).
			Str("status", h.Status()).
			Uint32("consecutive_failures", h.Counts.ConsecutiveFailures).
			Str("last_error", h.LastError).
			Msg("provider health")
	}
}
