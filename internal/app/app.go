// Package app assembles the relay from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hpn/hpn-g-relay/internal/adapter"
	"github.com/hpn/hpn-g-relay/internal/config"
	"github.com/hpn/hpn-g-relay/internal/domain"
	"github.com/hpn/hpn-g-relay/internal/history"
	"github.com/hpn/hpn-g-relay/internal/moderation"
	"github.com/hpn/hpn-g-relay/internal/orchestrator"
	"github.com/hpn/hpn-g-relay/internal/quality"
	"github.com/hpn/hpn-g-relay/internal/ui"
)

// Pool names as they appear in logs and /health.
const (
	PoolOfficial   = "official"
	PoolToken      = "token"
	PoolModeration = "moderation"
)

// App is a fully wired relay.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	Moderator    *moderation.Moderator
	Gate         *quality.Gate
	Pools        []*domain.KeyPool
	Community    int

	closeStore func() error
}

// Close releases the history store.
func (a *App) Close() error {
	if a.closeStore == nil {
		return nil
	}
	return a.closeStore()
}

// PoolSummaries reports active credentials per pool for the console.
func (a *App) PoolSummaries() []ui.PoolSummary {
	out := make([]ui.PoolSummary, len(a.Pools))
	for i, p := range a.Pools {
		out[i] = ui.PoolSummary{Name: p.Name(), Active: p.ActiveCount()}
	}
	return out
}

// Build wires every component described by cfg.
func Build(ctx context.Context, cfg *config.Configuration, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("nil configuration")
	}
	verbose := cfg.Logging.Verbose

	onEvict := func(pool, key, reason string) {
		if verbose {
			ui.PrintEvictedKey(pool, key, reason)
		}
	}

	officialPool := domain.NewKeyPool(PoolOfficial, cfg.Official.Keys)
	tokenPool := domain.NewKeyPool(PoolToken, cfg.Token.Keys)
	moderationPool := domain.NewKeyPool(PoolModeration, cfg.Moderation.Keys)

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithVerbose(verbose),
		orchestrator.WithMaxPromptLength(cfg.Orchestrator.MaxPromptLength),
		orchestrator.WithPersona(cfg.Orchestrator.DefaultPersona),
		orchestrator.WithRacePolicy(orchestrator.RacePolicy(cfg.Orchestrator.RacePolicy)),
		orchestrator.WithOfficialCallOptions(adapter.CallOptions{
			Timeout:      cfg.Official.Timeout(),
			FailureDelay: cfg.OfficialFailureDelay(),
		}),
		orchestrator.WithCommunityCallOptions(adapter.CallOptions{
			Timeout:      cfg.CommunityTimeout(),
			FailureDelay: cfg.FailureDelay(),
		}),
		orchestrator.WithAllModeCallOptions(adapter.CallOptions{
			Timeout:      adapter.DefaultTimeout,
			FailureDelay: cfg.OfficialFailureDelay(),
		}),
	}

	if officialPool.TotalCount() > 0 {
		opts = append(opts, orchestrator.WithOfficial(credentialed(PoolOfficial, officialPool, cfg.Official, cfg, logger, onEvict)))
	}
	if tokenPool.TotalCount() > 0 {
		opts = append(opts, orchestrator.WithToken(credentialed(PoolToken, tokenPool, cfg.Token, cfg, logger, onEvict)))
	}

	community := communityProviders(cfg, logger)
	opts = append(opts, orchestrator.WithCommunity(community...))

	var closeStore func() error
	if cfg.History.Enabled {
		store, closeFn, err := history.Open(ctx, cfg.History.Backend, cfg.History.Dir, cfg.History.DSN)
		if err != nil {
			return nil, fmt.Errorf("open history store: %w", err)
		}
		closeStore = closeFn
		opts = append(opts,
			orchestrator.WithHistory(store),
			orchestrator.WithMaxHistoryLength(cfg.History.MaxLength),
		)
	}

	retryDelay, maxRetries := cfg.ModerationRetry()
	moderator := moderation.New(moderationPool, cfg.Moderation.Endpoint, cfg.Moderation.KeyPrefix,
		moderation.WithRetry(retryDelay, maxRetries),
		moderation.WithRequestTimeout(time.Duration(cfg.Moderation.TimeoutSeconds)*time.Second),
		moderation.WithCacheTTL(time.Duration(cfg.Moderation.CacheTTLSeconds)*time.Second),
		moderation.WithLogger(logger),
		moderation.WithEvictHook(onEvict),
	)

	checkers := []quality.Checker{quality.NewProfanityChecker(nil)}
	if moderationPool.TotalCount() > 0 {
		checkers = append(checkers, quality.NewModerationChecker(moderator, cfg.Quality.FailOpen, logger))
	}
	gate := quality.NewGate(checkers,
		quality.WithMaxAttempts(cfg.Quality.MaxAttempts),
		quality.WithLogger(logger),
	)

	if verbose {
		ui.PrintRelayInfo(fmt.Sprintf("verbose mode on: %d community providers, history=%t", len(community), cfg.History.Enabled))
	}
	logger.Info("relay assembled",
		slog.Int("official_keys", officialPool.TotalCount()),
		slog.Int("token_keys", tokenPool.TotalCount()),
		slog.Int("moderation_keys", moderationPool.TotalCount()),
		slog.Int("community", len(community)),
		slog.Bool("history", cfg.History.Enabled),
	)

	return &App{
		Orchestrator: orchestrator.New(opts...),
		Moderator:    moderator,
		Gate:         gate,
		Pools:        []*domain.KeyPool{officialPool, tokenPool, moderationPool},
		Community:    len(community),
		closeStore:   closeStore,
	}, nil
}

// credentialed builds an official backend that rotates through pool.
func credentialed(name string, pool *domain.KeyPool, cc config.CredentialConfig, cfg *config.Configuration, logger *slog.Logger, onEvict func(pool, key, reason string)) *adapter.CredentialedProvider {
	factory := func(key string) adapter.Backend {
		return adapter.NewChatClient(
			adapter.WithName(name),
			adapter.WithBaseURL(cc.BaseURL),
			adapter.WithModel(cc.Model),
			adapter.WithAPIKey(cc.KeyPrefix+key),
		)
	}
	return adapter.NewCredentialedProvider(name, pool, factory,
		adapter.WithBackoff(cfg.CredentialBackoff()),
		adapter.WithCredentialLogger(logger),
		adapter.WithCredentialDeadFragments(cfg.Orchestrator.DeadFragments),
		adapter.WithEvictHook(onEvict),
	)
}

// communityProviders builds one adapter per enabled provider, in config order.
func communityProviders(cfg *config.Configuration, logger *slog.Logger) []adapter.Provider {
	enabled := cfg.EnabledProviders()
	out := make([]adapter.Provider, 0, len(enabled))

	for _, p := range enabled {
		clientOpts := []adapter.ClientOption{
			adapter.WithName(p.Name),
			adapter.WithBaseURL(p.BaseURL),
			adapter.WithModel(p.Model),
			adapter.WithAPIKey(p.APIKey),
		}

		var backend adapter.Backend
		switch p.Type {
		case domain.BackendGemini:
			backend = adapter.NewGeminiBackend(clientOpts...)
		default:
			backend = adapter.NewChatClient(clientOpts...)
		}

		out = append(out, adapter.NewAdapter(p.Name, backend,
			adapter.WithDeadFragments(cfg.Orchestrator.DeadFragments),
			adapter.WithCallTimeout(p.Timeout(0)),
			adapter.WithAdapterLogger(logger),
		))
	}
	return out
}
