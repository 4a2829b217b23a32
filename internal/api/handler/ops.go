package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/crmpush/crmpush/internal/api/models"
	"github.com/crmpush/crmpush/internal/api/response"
	"github.com/crmpush/crmpush/internal/poller"
	"github.com/crmpush/crmpush/internal/provider/resilience"
)

const readinessTimeout = 3 * time.Second

// PollerStats reports poller activity.
type PollerStats interface {
	Stats() poller.Stats
}

// ProviderHealth reports the health of upstream CRM endpoints.
type ProviderHealth interface {
	All() []*resilience.ProviderHealth
}

// ReadinessCheck is a named dependency check run by the readiness endpoint.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// OpsConfig holds the dependencies of OpsHandler. All but the version fields
// are optional.
type OpsConfig struct {
	Version   string
	BuildTime string
	Poller    PollerStats
	Providers ProviderHealth
	Checks    []ReadinessCheck
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
	now func() time.Time
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{cfg: cfg, now: time.Now}
}

// HealthCheck handles GET /health and GET /api/v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.now()),
		Details: map[string]any{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	})
}

// ReadinessCheck handles GET /api/v1/ops/ready. Any failing check turns the
// response into a 503.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	subsystems := h.runChecks(r.Context())

	health := models.Health{Status: models.HealthStatusOK, Time: models.Timestamp(h.now())}
	details := make(map[string]any, len(subsystems))
	for _, s := range subsystems {
		details[s.Name] = s.Status
		if s.Status == models.HealthStatusFail {
			health.Status = models.HealthStatusFail
		}
	}
	if len(details) > 0 {
		health.Details = details
	}

	status := http.StatusOK
	if health.Status == models.HealthStatusFail {
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, health)
}

// SystemStatus handles GET /api/v1/ops/status - subsystem, upstream and
// poller status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(h.now()),
		Subsystems: h.runChecks(r.Context()),
		Providers:  []models.ProviderStatus{},
	}

	for _, s := range status.Subsystems {
		status.Status = worst(status.Status, s.Status)
	}

	if h.cfg.Providers != nil {
		for _, p := range h.cfg.Providers.All() {
			ps := providerStatus(p)
			status.Providers = append(status.Providers, ps)
			status.Status = worst(status.Status, degradeOnly(ps.Status))
		}
	}

	if h.cfg.Poller != nil {
		ps := pollerStatus(h.cfg.Poller.Stats())
		status.Poller = &ps
		if !ps.Running {
			status.Status = worst(status.Status, models.HealthStatusDegraded)
		}
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) runChecks(ctx context.Context) []models.SubsystemStatus {
	out := make([]models.SubsystemStatus, len(h.cfg.Checks))
	if len(out) == 0 {
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for i, c := range h.cfg.Checks {
		wg.Add(1)
		go func(i int, c ReadinessCheck) {
			defer wg.Done()
			out[i] = models.SubsystemStatus{Name: c.Name, Status: models.HealthStatusOK}
			if err := c.Check(ctx); err != nil {
				msg := err.Error()
				out[i].Status = models.HealthStatusFail
				out[i].Detail = &msg
			}
		}(i, c)
	}
	wg.Wait()
	return out
}

func providerStatus(p *resilience.ProviderHealth) models.ProviderStatus {
	ps := models.ProviderStatus{
		Provider:      p.Name,
		CircuitState:  p.CircuitState.String(),
		LastSuccessAt: models.NewTimestamp(p.LastSuccessAt),
		LastFailureAt: models.NewTimestamp(p.LastFailureAt),
	}
	switch p.Status() {
	case resilience.StatusHealthy:
		ps.Status = models.HealthStatusOK
	case resilience.StatusDegraded:
		ps.Status = models.HealthStatusDegraded
	default:
		ps.Status = models.HealthStatusFail
	}
	if p.LastError != "" {
		msg := p.LastError
		ps.Message = &msg
	}
	return ps
}

func pollerStatus(s poller.Stats) models.PollerStatus {
	ps := models.PollerStatus{
		Running:       s.Running,
		Cycles:        s.Cycles,
		FetchFailures: s.FetchFailures,
		Broadcasts:    s.Broadcasts,
		Panics:        s.Panics,
		Watermark:     s.Watermark,
	}
	if !s.LastCycleAt.IsZero() {
		ps.LastCycleAt = models.NewTimestamp(&s.LastCycleAt)
	}
	if !s.LastBroadcastAt.IsZero() {
		ps.LastBroadcastAt = models.NewTimestamp(&s.LastBroadcastAt)
	}
	if s.LastError != "" {
		msg := s.LastError
		ps.LastError = &msg
	}
	return ps
}

// An unreachable upstream degrades the service; the API itself keeps serving.
func degradeOnly(s models.HealthStatus) models.HealthStatus {
	if s == models.HealthStatusFail {
		return models.HealthStatusDegraded
	}
	return s
}

func worst(a, b models.HealthStatus) models.HealthStatus {
	rank := map[models.HealthStatus]int{
		models.HealthStatusOK:       0,
		models.HealthStatusDegraded: 1,
		models.HealthStatusFail:     2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
