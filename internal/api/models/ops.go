package models

// Health represents the health status of the service.
type Health struct {
	Status  HealthStatus   `json:"status"`
	Time    Timestamp      `json:"time"`
	Details map[string]any `json:"details,omitempty"`
}

// SystemStatus represents the overall system status.
type SystemStatus struct {
	Status     HealthStatus      `json:"status"`
	Time       Timestamp         `json:"time"`
	Subsystems []SubsystemStatus `json:"subsystems"`
	Providers  []ProviderStatus  `json:"providers"`
	Poller     *PollerStatus     `json:"poller,omitempty"`
}

// SubsystemStatus represents the status of a subsystem.
type SubsystemStatus struct {
	Name   string       `json:"name"`
	Status HealthStatus `json:"status"`
	Detail *string      `json:"detail,omitempty"`
}

// ProviderStatus represents the status of an upstream the service calls.
type ProviderStatus struct {
	Provider      string       `json:"provider"`
	Status        HealthStatus `json:"status"`
	CircuitState  string       `json:"circuitState"`
	LastSuccessAt *Timestamp   `json:"lastSuccessAt,omitempty"`
	LastFailureAt *Timestamp   `json:"lastFailureAt,omitempty"`
	Message       *string      `json:"message,omitempty"`
}

// PollerStatus reports message poller activity.
type PollerStatus struct {
	Running         bool       `json:"running"`
	Cycles          int64      `json:"cycles"`
	FetchFailures   int64      `json:"fetchFailures"`
	Broadcasts      int64      `json:"broadcasts"`
	Panics          int64      `json:"panics"`
	Watermark       *int64     `json:"watermark,omitempty"`
	LastCycleAt     *Timestamp `json:"lastCycleAt,omitempty"`
	LastBroadcastAt *Timestamp `json:"lastBroadcastAt,omitempty"`
	LastError       *string    `json:"lastError,omitempty"`
}
