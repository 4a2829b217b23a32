package worker_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmpush/crmpush/internal/provider/resilience"
	"github.com/crmpush/crmpush/internal/worker"
)

type countingTrigger struct {
	calls int
}

func (c *countingTrigger) Trigger() bool {
	c.calls++
	return true
}

func TestJobs_PollNow(t *testing.T) {
	trigger := &countingTrigger{}
	jobs := worker.NewJobs(trigger, nil, zerolog.Nop())

	jobType, err := jobs.Handle(context.Background(), []byte(`{"job_type":"poll_now"}`))
	require.NoError(t, err)
	assert.Equal(t, worker.JobPollNow, jobType)
	assert.Equal(t, 1, trigger.calls)
}

func TestJobs_HealthCheck(t *testing.T) {
	registry := resilience.NewRegistry()
	cfg := resilience.DefaultClientConfig("crm-messages")
	cfg.Registry = registry
	_ = resilience.NewClient(cfg)

	trigger := &countingTrigger{}
	jobs := worker.NewJobs(trigger, registry, zerolog.Nop())

	jobType, err := jobs.Handle(context.Background(), []byte(`{"job_type":"health_check"}`))
	require.NoError(t, err)
	assert.Equal(t, worker.JobHealthCheck, jobType)
	assert.Zero(t, trigger.calls)
}

func TestJobs_UnknownTypeIgnored(t *testing.T) {
	trigger := &countingTrigger{}
	jobs := worker.NewJobs(trigger, nil, zerolog.Nop())

	jobType, err := jobs.Handle(context.Background(), []byte(`{"job_type":"provider_refresh"}`))
	require.NoError(t, err)
	assert.Equal(t, "provider_refresh", jobType)
	assert.Zero(t, trigger.calls)
}

func TestJobs_Malformed(t *testing.T) {
	jobs := worker.NewJobs(&countingTrigger{}, nil, zerolog.Nop())

	_, err := jobs.Handle(context.Background(), []byte(`not json`))
	assert.ErrorIs(t, err, worker.ErrMalformedJob)
}
