package crm_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmpush/crmpush/internal/crm"
	"github.com/crmpush/crmpush/internal/provider/resilience"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *crm.Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return crm.NewClient(crm.ClientConfig{
		MessagesURL: server.URL + "/messages",
		BotsURL:     server.URL + "/bots",
		APIKey:      "secret",
	})
}

func TestClient_FetchMessages(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"id": 12, "bot_id": "3", "chat_id": 998877, "first_name": "Ann", "last_name": "Lee", "username": "ann", "message": "hi"},
			{"id": "13", "bot_id": 3, "chat_id": "c-1", "first_name": null, "last_name": "Solo", "username": null, "message": null}
		]`))
	})

	messages, err := client.FetchMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, crm.ID(12), messages[0].ID)
	assert.Equal(t, crm.ID(3), messages[0].BotID)
	assert.Equal(t, crm.Text("998877"), messages[0].ChatID)
	assert.Equal(t, "hi", messages[0].Text)

	assert.Equal(t, crm.ID(13), messages[1].ID)
	assert.Equal(t, crm.Text("c-1"), messages[1].ChatID)
	assert.Empty(t, messages[1].FirstName)
	assert.Empty(t, messages[1].Text)
}

func TestClient_FetchMessages_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"error":"nope"}`},
		{name: "object instead of array", status: http.StatusOK, body: `{"data":[]}`},
		{name: "empty body", status: http.StatusOK, body: ``},
		{name: "malformed json", status: http.StatusOK, body: `[{"id":1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			messages, err := client.FetchMessages(context.Background())
			assert.Error(t, err)
			assert.Nil(t, messages)
		})
	}
}

func TestClient_FetchMessages_NotArrayIsUnexpectedPayload(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`"maintenance"`))
	})

	_, err := client.FetchMessages(context.Background())
	assert.ErrorIs(t, err, crm.ErrUnexpectedPayload)
}

func TestClient_FetchBots(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bots", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		_, _ = w.Write([]byte(`[{"id":"7","name":"Support","token_id":"tok-7"},{"id":8,"name":"Sales","token_id":88}]`))
	})

	bots, err := client.FetchBots(context.Background())
	require.NoError(t, err)
	require.Len(t, bots, 2)
	assert.Equal(t, crm.Bot{ID: "7", Name: "Support", TokenID: "tok-7"}, bots[0])
	assert.Equal(t, crm.Bot{ID: "8", Name: "Sales", TokenID: "88"}, bots[1])
}

func TestClient_FetchMessages_SkipsUndecodableEntries(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id": 12, "bot_id": 3, "chat_id": "c-1", "first_name": "Ann", "username": 12345, "message": 404},
			{"id": "abc", "bot_id": 3, "message": "unordered"},
			null,
			{"id": 14, "bot_id": {"nested": true}},
			{"id": 15, "bot_id": 3, "first_name": "Bo", "last_name": null, "message": "latest"}
		]`))
	})

	messages, err := client.FetchMessages(context.Background())
	require.NoError(t, err)
	require.Len(t, messages, 2)

	assert.Equal(t, crm.ID(12), messages[0].ID)
	assert.Equal(t, "12345", messages[0].Username)
	assert.Equal(t, "404", messages[0].Text)
	assert.Equal(t, crm.ID(15), messages[1].ID)
	assert.Equal(t, "latest", messages[1].Text)
}

func TestClient_FetchBots_MixedIDTypes(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[
			{"id": 42, "name": "Sales", "token_id": "tk1"},
			{"id": "support-bot", "name": "Support", "token_id": "tk2"},
			{"id": [1], "name": "Broken"}
		]`))
	})

	bots, err := client.FetchBots(context.Background())
	require.NoError(t, err)
	require.Len(t, bots, 2)

	info, ok := crm.NewResolver(client, zerolog.Nop()).ResolveBot(context.Background(), 42)
	assert.True(t, ok)
	assert.Equal(t, crm.BotInfo{Name: "Sales", TokenID: "tk1"}, info)
}

func TestClient_UpstreamFailuresDoNotOpenBreaker(t *testing.T) {
	var (
		hits    atomic.Int32
		healthy atomic.Bool
	)
	client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		if !healthy.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`[{"id":1}]`))
	})

	for i := 0; i < 10; i++ {
		_, err := client.FetchMessages(context.Background())
		require.Error(t, err)
	}
	require.Equal(t, int32(10), hits.Load())

	healthy.Store(true)
	messages, err := client.FetchMessages(context.Background())
	require.NoError(t, err)
	assert.Len(t, messages, 1)
	assert.Equal(t, int32(11), hits.Load())
}

func TestClient_OptInBreakerOpens(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	client := crm.NewClient(crm.ClientConfig{
		MessagesURL:    server.URL,
		APIKey:         "secret",
		CircuitBreaker: true,
	})

	for i := 0; i < 6; i++ {
		_, _ = client.FetchMessages(context.Background())
	}

	_, err := client.FetchMessages(context.Background())
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(5), hits.Load())
}
