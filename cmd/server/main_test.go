package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpn/hpn-g-relay/internal/app"
	"github.com/hpn/hpn-g-relay/internal/config"
	"github.com/hpn/hpn-g-relay/internal/domain"
)

// mockCommunity answers every chat completion with a fixed text.
func mockCommunity(t *testing.T, answer string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"role": "assistant", "content": answer}}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, communityURL string) *config.Configuration {
	t.Helper()
	t.Setenv("HPN_OPENAI_KEYS", "")
	t.Setenv("HPN_AUTH_TOKENS", "")
	t.Setenv("HPN_MODERATION_KEYS", "")

	cfg, err := config.Load("")
	require.NoError(t, err)

	cfg.History.Backend = "memory"
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerSecond = 100
	cfg.RateLimit.Burst = 100
	cfg.Providers = []domain.Provider{
		{Name: "community-a", Type: domain.BackendOpenAI, BaseURL: communityURL, Enabled: true},
		{Name: "disabled", Type: domain.BackendOpenAI, BaseURL: "http://127.0.0.1:1", Enabled: false},
	}
	return cfg
}

func TestRouter_AskThroughCommunity(t *testing.T) {
	cfg := testConfig(t, mockCommunity(t, "community says hi").URL)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	relay, err := app.Build(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer relay.Close()
	assert.Equal(t, 1, relay.Community)

	router := newRouter(cfg, relay, logger)

	req := httptest.NewRequest(http.MethodPost, "/v1/ask", strings.NewReader(`{"prompt":"hello","mode":"fast","user_id":"1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "community says hi", resp["answer"])

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
