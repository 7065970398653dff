package adapter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hpn/hpn-g-relay/internal/domain"
)

// BackendFactory builds a Backend bound to one credential.
type BackendFactory func(credential string) Backend

// CredentialedProvider rotates through a KeyPool, evicting credentials the
// backend rejects. It replaces recursion on failure with a loop bounded by
// the pool size at call time.
type CredentialedProvider struct {
	name          string
	pool          *domain.KeyPool
	factory       BackendFactory
	backoff       time.Duration
	deadFragments []string
	logger        *slog.Logger
	onEvict       func(pool, key, reason string)
}

// CredentialedOption is a functional option for configuring CredentialedProvider.
type CredentialedOption func(*CredentialedProvider)

// WithBackoff sets the delay slept once the pool is exhausted.
func WithBackoff(d time.Duration) CredentialedOption {
	return func(p *CredentialedProvider) {
		p.backoff = d
	}
}

// WithCredentialLogger sets a custom logger.
func WithCredentialLogger(logger *slog.Logger) CredentialedOption {
	return func(p *CredentialedProvider) {
		p.logger = logger
	}
}

// WithEvictHook registers a callback fired after a credential is evicted.
func WithEvictHook(fn func(pool, key, reason string)) CredentialedOption {
	return func(p *CredentialedProvider) {
		p.onEvict = fn
	}
}

// WithCredentialDeadFragments replaces the dead-provider URL fragments.
func WithCredentialDeadFragments(fragments []string) CredentialedOption {
	return func(p *CredentialedProvider) {
		p.deadFragments = fragments
	}
}

// NewCredentialedProvider creates a provider over pool.
func NewCredentialedProvider(name string, pool *domain.KeyPool, factory BackendFactory, opts ...CredentialedOption) *CredentialedProvider {
	p := &CredentialedProvider{
		name:          name,
		pool:          pool,
		factory:       factory,
		backoff:       time.Second,
		deadFragments: DefaultDeadFragments,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Name returns the provider identifier.
func (p *CredentialedProvider) Name() string {
	return p.name
}

// Pool exposes the credential pool for health reporting.
func (p *CredentialedProvider) Pool() *domain.KeyPool {
	return p.pool
}

// Invoke tries credentials until one is accepted or the pool runs dry.
func (p *CredentialedProvider) Invoke(ctx context.Context, messages []domain.ConversationTurn, opts CallOptions) domain.ProviderOutcome {
	start := time.Now()
	attempts := p.pool.ActiveCount()

	for attempt := 1; attempt <= attempts; attempt++ {
		key, err := p.pool.Next()
		if err != nil {
			break
		}

		a := NewAdapter(p.name, p.factory(key), WithDeadFragments(p.deadFragments), WithAdapterLogger(p.logger))
		text, err := a.send(ctx, messages, opts.Timeout)
		if err == nil || !errors.Is(err, domain.ErrAuthenticationRejected) {
			return a.settle(ctx, text, err, opts, start)
		}

		if p.pool.Evict(key) {
			p.logger.Warn("credential rejected, evicted from pool",
				slog.String("provider", p.name),
				slog.String("pool", p.pool.Name()),
				slog.Int("attempt", attempt),
				slog.Int("remaining", p.pool.ActiveCount()),
				slog.String("error", err.Error()),
			)
			if p.onEvict != nil {
				p.onEvict(p.pool.Name(), key, err.Error())
			}
		}
		if ctx.Err() != nil {
			break
		}
	}

	if err := ctx.Err(); err != nil {
		out := domain.Failure(p.name, err.Error())
		out.Latency = time.Since(start)
		return out
	}

	p.logger.Error("no credentials remaining",
		slog.String("provider", p.name),
		slog.String("pool", p.pool.Name()),
	)
	_ = Sleep(ctx, p.backoff)

	out := domain.Failure(p.name, domain.ErrNoCredentials.Error())
	out.Latency = time.Since(start)
	return out
}
