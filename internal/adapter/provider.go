// Package adapter provides implementations for external AI provider integrations.
// It uses the Adapter pattern to hide every backend behind one Invoke contract
// that never fails across the boundary: errors become tagged outcomes.
package adapter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hpn/hpn-g-relay/internal/domain"
)

// DefaultTimeout is the default per-call timeout for network backends.
const DefaultTimeout = 30 * time.Second

// Backend is the opaque transport to one chat-completion service.
type Backend interface {
	// Send delivers the conversation and returns the raw answer text.
	Send(ctx context.Context, messages []domain.ConversationTurn) (string, error)
}

// Provider defines the interface the orchestrator drives.
// Invoke must not panic and must not block past its timeout plus FailureDelay.
type Provider interface {
	// Invoke runs one completion and normalizes the result.
	Invoke(ctx context.Context, messages []domain.ConversationTurn, opts CallOptions) domain.ProviderOutcome

	// Name returns the provider's identifier string.
	Name() string
}

// CallOptions are set per call site.
type CallOptions struct {
	// Timeout bounds the backend call. Zero means DefaultTimeout.
	Timeout time.Duration

	// FailureDelay is slept before returning an Empty or Failure outcome.
	FailureDelay time.Duration
}

// Adapter wraps a Backend with timeout, normalization and fence repair.
type Adapter struct {
	name          string
	backend       Backend
	deadFragments []string
	timeout       time.Duration
	logger        *slog.Logger
}

// AdapterOption is a functional option for configuring Adapter.
type AdapterOption func(*Adapter)

// WithDeadFragments replaces the list of dead-provider URL fragments.
func WithDeadFragments(fragments []string) AdapterOption {
	return func(a *Adapter) {
		a.deadFragments = fragments
	}
}

// WithCallTimeout overrides the call-site timeout for this provider.
func WithCallTimeout(d time.Duration) AdapterOption {
	return func(a *Adapter) {
		a.timeout = d
	}
}

// WithAdapterLogger sets a custom logger.
func WithAdapterLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// NewAdapter creates an Adapter named name around backend.
func NewAdapter(name string, backend Backend, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		name:          name,
		backend:       backend,
		deadFragments: DefaultDeadFragments,
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Name returns the provider identifier.
func (a *Adapter) Name() string {
	return a.name
}

// Invoke sends messages to the backend and returns a normalized outcome.
func (a *Adapter) Invoke(ctx context.Context, messages []domain.ConversationTurn, opts CallOptions) domain.ProviderOutcome {
	start := time.Now()
	if a.timeout > 0 {
		opts.Timeout = a.timeout
	}
	text, err := a.send(ctx, messages, opts.Timeout)
	return a.settle(ctx, text, err, opts, start)
}

// send calls the backend under a timeout and converts panics into errors.
func (a *Adapter) send(ctx context.Context, messages []domain.ConversationTurn, timeout time.Duration) (text string, err error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backend panic: %v", r)
		}
	}()

	return a.backend.Send(ctx, messages)
}

// settle turns a raw backend result into an outcome, sleeping on the failure paths.
func (a *Adapter) settle(ctx context.Context, text string, err error, opts CallOptions, start time.Time) domain.ProviderOutcome {
	var out domain.ProviderOutcome
	switch {
	case err != nil:
		out = domain.Failure(a.name, err.Error())
		a.logger.Debug("provider failed",
			slog.String("provider", a.name),
			slog.String("error", err.Error()),
		)
	case IsEmptyResponse(text, a.deadFragments):
		out = domain.Empty(a.name, domain.ErrEmptyResponse.Error())
		a.logger.Debug("provider returned empty result",
			slog.String("provider", a.name),
		)
	default:
		out = domain.Success(a.name, RepairCodeFences(text, FenceDelimiter))
	}
	out.Latency = time.Since(start)

	if !out.OK() {
		_ = Sleep(ctx, opts.FailureDelay)
	}
	return out
}

// Sleep pauses for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
