package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hpn/hpn-g-relay/internal/config"
	"github.com/hpn/hpn-g-relay/internal/domain"
	"github.com/hpn/hpn-g-relay/internal/orchestrator"
)

func baseConfig(t *testing.T) *config.Configuration {
	t.Helper()
	t.Setenv("HPN_OPENAI_KEYS", "")
	t.Setenv("HPN_AUTH_TOKENS", "")
	t.Setenv("HPN_MODERATION_KEYS", "")

	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBuild_Pools(t *testing.T) {
	cfg := baseConfig(t)
	cfg.History.Backend = "memory"
	cfg.Official.Keys = []string{"k1", "k2"}
	cfg.Moderation.Keys = []string{"m1"}

	a, err := Build(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()

	require.Len(t, a.Pools, 3)
	assert.Equal(t, []string{PoolOfficial, PoolToken, PoolModeration},
		[]string{a.Pools[0].Name(), a.Pools[1].Name(), a.Pools[2].Name()})
	assert.Equal(t, 2, a.Pools[0].ActiveCount())
	assert.Equal(t, 0, a.Pools[1].ActiveCount())

	summaries := a.PoolSummaries()
	assert.Equal(t, 1, summaries[2].Active)
	assert.NotNil(t, a.Gate)
	assert.NotNil(t, a.Moderator)
}

func TestBuild_SQLiteHistory(t *testing.T) {
	cfg := baseConfig(t)
	cfg.History.Backend = "sqlite"
	cfg.History.DSN = filepath.Join(t.TempDir(), "history.db")

	a, err := Build(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	require.NoError(t, a.Close())
}

func TestBuild_HistoryDisabled(t *testing.T) {
	cfg := baseConfig(t)
	cfg.History.Enabled = false
	cfg.Providers = []domain.Provider{
		{Name: "g", Type: domain.BackendGemini, BaseURL: "http://127.0.0.1:1", Enabled: true, TimeoutSeconds: 1},
	}

	a, err := Build(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, 1, a.Community)
	assert.NoError(t, a.Close())

	answer, err := a.Orchestrator.Run(context.Background(), orchestrator.Request{Prompt: "q", Mode: domain.ModeFast, UserID: "1"})
	require.NoError(t, err)
	assert.Empty(t, answer)
}

func TestBuild_UnknownHistoryBackend(t *testing.T) {
	cfg := baseConfig(t)
	cfg.History.Backend = "redis"

	_, err := Build(context.Background(), cfg, quietLogger())
	assert.Error(t, err)
}

func TestBuild_NilConfig(t *testing.T) {
	_, err := Build(context.Background(), nil, quietLogger())
	assert.Error(t, err)
}

func TestBuild_OfficialFailureDelay(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := baseConfig(t)
	cfg.History.Enabled = false
	cfg.Official.BaseURL = srv.URL
	cfg.Official.Keys = []string{"k1"}
	cfg.Orchestrator.OfficialFailureDelayMS = 150

	a, err := Build(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	defer a.Close()

	for _, mode := range []domain.Mode{domain.ModeFast, domain.ModeAll} {
		t.Run(string(mode), func(t *testing.T) {
			before := calls.Load()
			start := time.Now()
			answer, err := a.Orchestrator.Run(context.Background(), orchestrator.Request{Prompt: "q", Mode: mode})
			require.NoError(t, err)
			assert.Empty(t, answer)
			assert.Greater(t, calls.Load(), before)
			assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond, "a failed official call waits before reporting")
		})
	}
}
