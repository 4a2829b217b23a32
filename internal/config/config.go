// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Configuration errors.
var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalidValue    = errors.New("invalid configuration value")
)

// Token store backends.
const (
	StoreFirestore = "firestore"
	StorePostgres  = "postgres"
	StoreSQLite    = "sqlite"
	StoreMemory    = "memory"
)

// DefaultBotsURL is the CRM bot directory endpoint.
const DefaultBotsURL = "https://crm.1set.biz/api/v1/crm/bots"

// Config is the full service configuration.
type Config struct {
	Env      string
	LogLevel string
	Port     string

	CRM          CRMConfig
	Poller       PollerConfig
	Registration RegistrationConfig
	Firebase     FirebaseConfig
	Store        StoreConfig
	Push         PushConfig
	Telemetry    TelemetryConfig
	PubSub       PubSubConfig

	CORSAllowedOrigins []string
	RequireTLS         bool
}

// CRMConfig configures the message feed and bot directory client.
type CRMConfig struct {
	MessagesURL string
	BotsURL     string
	APIKey      string
	Timeout     time.Duration
	MaxRetries  uint64
	// Breaker enables a circuit breaker on the CRM endpoints. Off by default
	// so every poll tick reaches the feed.
	Breaker bool
}

// PollerConfig configures the change detector loop.
type PollerConfig struct {
	Enabled  bool
	Interval time.Duration
}

// RegistrationConfig configures the token registration endpoint.
type RegistrationConfig struct {
	APIKey string
	// RateLimit is the number of requests per minute allowed per client IP.
	// Zero disables rate limiting.
	RateLimit int
}

// FirebaseConfig locates the service account credentials.
type FirebaseConfig struct {
	CredentialsJSON string
	CredentialsFile string
}

// StoreConfig selects the token registry backend.
type StoreConfig struct {
	Backend    string
	SQLitePath string
}

// PushConfig tunes the broadcast dispatcher.
type PushConfig struct {
	SendTimeout    time.Duration
	MaxConcurrency int
	RatePerSecond  float64
	DryRun         bool
}

// TelemetryConfig configures OpenTelemetry export.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	SampleRatio  float64
}

// PubSubConfig configures the optional poll trigger subscription.
type PubSubConfig struct {
	ProjectID    string
	Subscription string
}

// NeedsFirebase reports whether any configured component talks to Firebase.
func (c Config) NeedsFirebase() bool {
	return !c.Push.DryRun || c.Store.Backend == StoreFirestore
}

// Load reads .env (if present) and then the process environment.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from lookup, which has the os.LookupEnv signature.
func FromLookup(lookup func(string) (string, bool)) (Config, error) {
	r := reader{lookup: lookup}

	cfg := Config{
		Env:      r.str("APP_ENV", "development"),
		LogLevel: r.str("LOG_LEVEL", "info"),
		Port:     r.str("PORT", r.str("APP_PORT", "3000")),
		CRM: CRMConfig{
			MessagesURL: r.required("API_URL"),
			APIKey:      r.required("API_KEY"),
			BotsURL:     r.str("CRM_BOTS_URL", DefaultBotsURL),
			Timeout:     r.duration("CRM_TIMEOUT", 10*time.Second),
			MaxRetries:  uint64(r.nonNegativeInt("CRM_MAX_RETRIES", 0)), //nolint:gosec // checked non-negative
			Breaker:     r.boolean("CRM_CIRCUIT_BREAKER", false),
		},
		Poller: PollerConfig{
			Enabled:  r.boolean("POLLER_ENABLED", true),
			Interval: time.Duration(r.positiveInt("POLL_INTERVAL_MS", 5000)) * time.Millisecond,
		},
		Firebase: FirebaseConfig{
			CredentialsJSON: r.str("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
			CredentialsFile: r.str("FIREBASE_KEY_PATH", r.str("GOOGLE_APPLICATION_CREDENTIALS", "")),
		},
		Store: StoreConfig{
			Backend:    strings.ToLower(r.str("TOKEN_STORE", StoreFirestore)),
			SQLitePath: r.str("SQLITE_PATH", "crmpush.db"),
		},
		Push: PushConfig{
			SendTimeout:    r.duration("PUSH_SEND_TIMEOUT", 10*time.Second),
			MaxConcurrency: r.nonNegativeInt("PUSH_MAX_CONCURRENCY", 0),
			RatePerSecond:  r.nonNegativeFloat("PUSH_RATE_PER_SEC", 0),
			DryRun:         r.boolean("PUSH_DRY_RUN", false),
		},
		Telemetry: TelemetryConfig{
			Enabled:      r.boolean("OTEL_ENABLED", false),
			OTLPEndpoint: r.str("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			SampleRatio:  r.nonNegativeFloat("OTEL_SAMPLE_RATIO", 1),
		},
		PubSub: PubSubConfig{
			ProjectID:    r.str("PUBSUB_PROJECT_ID", r.str("GOOGLE_CLOUD_PROJECT", "")),
			Subscription: r.str("PUBSUB_SUBSCRIPTION", ""),
		},
		CORSAllowedOrigins: r.list("CORS_ALLOWED_ORIGINS", []string{"*"}),
		RequireTLS:         r.boolean("REQUIRE_TLS", false),
	}
	cfg.Registration = RegistrationConfig{
		APIKey:    r.str("REGISTRATION_API_KEY", cfg.CRM.APIKey),
		RateLimit: r.nonNegativeInt("REGISTRATION_RATE_LIMIT", 60),
	}

	switch cfg.Store.Backend {
	case StoreFirestore, StorePostgres, StoreSQLite, StoreMemory:
	default:
		r.fail(fmt.Errorf("%w: TOKEN_STORE=%q", ErrInvalidValue, cfg.Store.Backend))
	}

	if len(r.errs) > 0 {
		return Config{}, errors.Join(r.errs...)
	}
	return cfg, nil
}

type reader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *reader) fail(err error) {
	r.errs = append(r.errs, err)
}

func (r *reader) raw(key string) (string, bool) {
	v, ok := r.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (r *reader) str(key, def string) string {
	if v, ok := r.raw(key); ok {
		return v
	}
	return def
}

func (r *reader) required(key string) string {
	v, ok := r.raw(key)
	if !ok {
		r.fail(fmt.Errorf("%w: %s", ErrMissingRequired, key))
	}
	return v
}

func (r *reader) boolean(key string, def bool) bool {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.fail(fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, v))
		return def
	}
	return b
}

func (r *reader) nonNegativeInt(key string, def int) int {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		r.fail(fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, v))
		return def
	}
	return n
}

func (r *reader) positiveInt(key string, def int) int {
	n := r.nonNegativeInt(key, def)
	if n == 0 {
		r.fail(fmt.Errorf("%w: %s must be positive", ErrInvalidValue, key))
		return def
	}
	return n
}

func (r *reader) nonNegativeFloat(key string, def float64) float64 {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		r.fail(fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, v))
		return def
	}
	return f
}

func (r *reader) duration(key string, def time.Duration) time.Duration {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		r.fail(fmt.Errorf("%w: %s=%q", ErrInvalidValue, key, v))
		return def
	}
	return d
}

func (r *reader) list(key string, def []string) []string {
	v, ok := r.raw(key)
	if !ok {
		return def
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
