package app_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmpush/crmpush/internal/app"
	"github.com/crmpush/crmpush/internal/config"
	"github.com/crmpush/crmpush/internal/crm"
	"github.com/crmpush/crmpush/internal/fcm"
	"github.com/crmpush/crmpush/internal/push"
)

type recordingSender struct {
	mu   sync.Mutex
	sent map[string]push.Payload
}

func (s *recordingSender) Send(_ context.Context, token string, payload push.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sent == nil {
		s.sent = make(map[string]push.Payload)
	}
	s.sent[token] = payload
	return nil
}

func testConfig(t *testing.T, env map[string]string) config.Config {
	t.Helper()
	base := map[string]string{
		"API_URL":      "http://crm.invalid/messages",
		"API_KEY":      "k",
		"TOKEN_STORE":  "memory",
		"PUSH_DRY_RUN": "true",
	}
	for k, v := range env {
		base[k] = v
	}
	cfg, err := config.FromLookup(func(key string) (string, bool) {
		v, ok := base[key]
		return v, ok
	})
	require.NoError(t, err)
	return cfg
}

func TestBuild_MemoryDryRun(t *testing.T) {
	c, err := app.Build(context.Background(), testConfig(t, nil), zerolog.Nop(), app.Options{})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	assert.NotNil(t, c.Tokens)
	assert.NotNil(t, c.Dispatcher)
	assert.NotNil(t, c.Poller)
	assert.Empty(t, c.Checks)
	assert.Equal(t, 2, c.Providers.Len(), "messages and bots upstreams are tracked")
}

func TestBuild_SQLiteAddsReadinessCheck(t *testing.T) {
	cfg := testConfig(t, map[string]string{
		"TOKEN_STORE": "sqlite",
		"SQLITE_PATH": filepath.Join(t.TempDir(), "tokens.db"),
	})

	c, err := app.Build(context.Background(), cfg, zerolog.Nop(), app.Options{})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	require.Len(t, c.Checks, 1)
	assert.Equal(t, "sqlite", c.Checks[0].Name)
	assert.NoError(t, c.Checks[0].Check(context.Background()))
}

func TestBuild_RequiresFirebaseCredentials(t *testing.T) {
	cfg := testConfig(t, map[string]string{"PUSH_DRY_RUN": "false"})

	_, err := app.Build(context.Background(), cfg, zerolog.Nop(), app.Options{})

	assert.ErrorIs(t, err, fcm.ErrNoCredentials)
}

func TestBuild_InjectedSenderSkipsFirebase(t *testing.T) {
	cfg := testConfig(t, map[string]string{"PUSH_DRY_RUN": "false"})

	c, err := app.Build(context.Background(), cfg, zerolog.Nop(), app.Options{Sender: &recordingSender{}})
	require.NoError(t, err)
	c.Close()
}

func TestBuild_PollsAndBroadcasts(t *testing.T) {
	var batch atomic.Value
	batch.Store(`[{"id":5,"bot_id":42,"chat_id":"c1","first_name":"Old","message":"seen"}]`)

	crmServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/messages":
			_, _ = w.Write([]byte(batch.Load().(string)))
		case "/bots":
			_ = json.NewEncoder(w).Encode([]map[string]any{{"id": 42, "name": "Sales", "token_id": "tk1"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(crmServer.Close)

	cfg := testConfig(t, map[string]string{
		"API_URL":      crmServer.URL + "/messages",
		"CRM_BOTS_URL": crmServer.URL + "/bots",
	})
	sender := &recordingSender{}

	c, err := app.Build(context.Background(), cfg, zerolog.Nop(), app.Options{Sender: sender})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	ctx := context.Background()
	_, _, err = c.Tokens.Register(ctx, "u1", "A", "ios")
	require.NoError(t, err)
	_, _, err = c.Tokens.Register(ctx, "u2", "B", "android")
	require.NoError(t, err)

	c.Poller.Poll(ctx)
	assert.Equal(t, crm.ID(5), c.Poller.Watermark().ID)
	assert.Empty(t, sender.sent, "the first batch only sets the watermark")

	batch.Store(`[{"id":7,"bot_id":42,"chat_id":"c9","first_name":"Ana","last_name":"Lopez","username":"ana","message":"hi"}]`)
	c.Poller.Poll(ctx)

	require.Len(t, sender.sent, 2)
	payload := sender.sent["A"]
	assert.Equal(t, "Sales - Ana Lopez", payload.Title)
	assert.Equal(t, "hi", payload.Body)
	assert.Equal(t, "tk1", payload.Data["botToken"])
	assert.Equal(t, sender.sent["A"], sender.sent["B"])
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name     string
		env      string
		level    string
		wantJSON bool
		wantLvl  zerolog.Level
	}{
		{"production json", "production", "debug", true, zerolog.DebugLevel},
		{"development console", "development", "warn", false, zerolog.WarnLevel},
		{"bad level falls back to info", "production", "loud", true, zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			cfg := config.Config{Env: tt.env, LogLevel: tt.level}

			logger := app.NewLogger(cfg, &buf, "crmpush-test", "v1")
			assert.Equal(t, tt.wantLvl, logger.GetLevel())

			logger.Error().Msg("hello")
			if tt.wantJSON {
				var entry map[string]any
				require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
				assert.Equal(t, "crmpush-test", entry["service"])
				assert.Equal(t, "v1", entry["version"])
			} else {
				assert.Contains(t, buf.String(), "hello")
				assert.False(t, json.Valid(buf.Bytes()))
			}
		})
	}
}
