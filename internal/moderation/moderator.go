// Package moderation classifies text against a remote moderation endpoint.
// Verdicts are memoised per exact text and remote calls are serialised
// system-wide so the endpoint's rate limit is never exceeded.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/hpn/hpn-g-relay/internal/adapter"
	"github.com/hpn/hpn-g-relay/internal/domain"
)

const (
	// MinTextLength is the shortest text, in code points, that is sent for moderation.
	MinTextLength = 3

	// DefaultRetryDelay is the constant wait between failed attempts.
	DefaultRetryDelay = 3 * time.Second

	// DefaultMaxRetries bounds the retries after the first attempt.
	DefaultMaxRetries = 20

	// DefaultRequestTimeout bounds one remote call.
	DefaultRequestTimeout = 30 * time.Second
)

// Classifier is the remote call the Moderator drives.
type Classifier interface {
	Classify(ctx context.Context, key, text string) (domain.ModerationVerdict, error)
}

// Moderator answers Check requests from its cache or the remote classifier.
type Moderator struct {
	classifier     Classifier
	pool           *domain.KeyPool
	cache          *VerdictCache
	group          singleflight.Group
	sem            *semaphore.Weighted
	retryDelay     time.Duration
	maxRetries     uint64
	requestTimeout time.Duration
	cacheTTL       time.Duration
	logger         *slog.Logger
	onEvict        func(pool, key, reason string)
}

// Option is a functional option for configuring Moderator.
type Option func(*Moderator)

// WithRetry sets the constant retry delay and the retry cap.
func WithRetry(delay time.Duration, maxRetries uint64) Option {
	return func(m *Moderator) {
		m.retryDelay = delay
		m.maxRetries = maxRetries
	}
}

// WithRequestTimeout bounds each remote call.
func WithRequestTimeout(d time.Duration) Option {
	return func(m *Moderator) {
		m.requestTimeout = d
	}
}

// WithCacheTTL expires memoised verdicts after d. Zero keeps them forever.
func WithCacheTTL(d time.Duration) Option {
	return func(m *Moderator) {
		m.cacheTTL = d
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Moderator) {
		m.logger = logger
	}
}

// WithEvictHook registers a callback fired after a key is evicted.
func WithEvictHook(fn func(pool, key, reason string)) Option {
	return func(m *Moderator) {
		m.onEvict = fn
	}
}

// WithClassifier replaces the remote classifier.
func WithClassifier(c Classifier) Option {
	return func(m *Moderator) {
		m.classifier = c
	}
}

// New creates a Moderator over pool talking to endpoint.
func New(pool *domain.KeyPool, endpoint, keyPrefix string, opts ...Option) *Moderator {
	m := &Moderator{
		pool:           pool,
		sem:            semaphore.NewWeighted(1),
		retryDelay:     DefaultRetryDelay,
		maxRetries:     DefaultMaxRetries,
		requestTimeout: DefaultRequestTimeout,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.classifier == nil {
		m.classifier = NewClient(endpoint, keyPrefix, &http.Client{})
	}
	m.cache = NewVerdictCache(m.cacheTTL, m.logger)

	return m
}

// Pool exposes the moderation key pool for health reporting.
func (m *Moderator) Pool() *domain.KeyPool {
	return m.pool
}

// Stats returns verdict cache statistics.
func (m *Moderator) Stats() (hits, misses int64, size int) {
	return m.cache.Stats()
}

// Check classifies text. A degraded verdict is returned together with
// domain.ErrModerationDegraded and is never cached. If ctx ends first,
// Check returns ctx.Err() and the remote call keeps running for the
// other callers.
func (m *Moderator) Check(ctx context.Context, text string) (domain.ModerationVerdict, error) {
	if m.pool == nil || m.pool.ActiveCount() == 0 {
		m.logger.Error("no moderation keys configured, treating text as clean")
		return domain.CleanVerdict(), nil
	}
	if utf8.RuneCountInString(text) < MinTextLength {
		return domain.CleanVerdict(), nil
	}

	if v, ok := m.cache.Get(text); ok {
		return v, nil
	}

	// The flight outlives any single caller so a caller with a short
	// deadline cannot fail the others waiting on the same text. Each
	// attempt is still bounded by requestTimeout.
	flightCtx := context.WithoutCancel(ctx)
	ch := m.group.DoChan(HashText(text), func() (interface{}, error) {
		if err := m.sem.Acquire(flightCtx, 1); err != nil {
			return nil, err
		}
		defer m.sem.Release(1)

		// Another caller may have filled the entry while we waited.
		if v, ok := m.cache.Peek(text); ok {
			return v, nil
		}

		v, err := m.classify(flightCtx, text)
		if err != nil {
			return v, err
		}
		m.cache.Set(text, v)
		return v, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return domain.ModerationVerdict{}, ctx.Err()
	case res = <-ch:
	}

	if res.Shared {
		m.logger.Debug("moderation request shared", slog.Int("length", len(text)))
	}

	v, _ := res.Val.(domain.ModerationVerdict)
	err := res.Err
	if err != nil && !v.Degraded {
		v = domain.ModerationVerdict{Degraded: true, Detail: err.Error()}
		err = fmt.Errorf("%w: %w", domain.ErrModerationDegraded, err)
	}
	return v, err
}

// classify calls the remote endpoint with constant-backoff retries.
func (m *Moderator) classify(ctx context.Context, text string) (domain.ModerationVerdict, error) {
	var (
		verdict    domain.ModerationVerdict
		lastStatus int
		attempts   int
	)

	backoff := retry.WithMaxRetries(m.maxRetries, retry.NewConstant(m.retryDelay))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++

		key, err := m.pool.Next()
		if err != nil {
			return err
		}

		callCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
		defer cancel()

		v, err := m.classifier.Classify(callCtx, key, text)
		if err == nil {
			verdict = v
			return nil
		}

		var statusErr *adapter.StatusError
		if errors.As(err, &statusErr) {
			lastStatus = statusErr.StatusCode
			if statusErr.StatusCode == http.StatusUnauthorized && m.pool.Evict(key) {
				m.logger.Warn("moderation key rejected, evicted from pool",
					slog.String("pool", m.pool.Name()),
					slog.Int("remaining", m.pool.ActiveCount()),
				)
				if m.onEvict != nil {
					m.onEvict(m.pool.Name(), key, err.Error())
				}
			}
		}

		m.logger.Warn("moderation request failed",
			slog.Int("attempt", attempts),
			slog.String("error", err.Error()),
		)
		return retry.RetryableError(err)
	})

	if err != nil {
		m.logger.Error("moderation degraded",
			slog.Int("attempts", attempts),
			slog.Int("last_status", lastStatus),
			slog.String("error", err.Error()),
		)
		return domain.ModerationVerdict{
			Degraded: true,
			Detail:   fmt.Sprintf("Request failed with status code: %d", lastStatus),
		}, fmt.Errorf("%w: %w", domain.ErrModerationDegraded, err)
	}

	return verdict, nil
}
