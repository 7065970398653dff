package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hpn/hpn-g-relay/internal/adapter"
	"github.com/hpn/hpn-g-relay/internal/domain"
	"github.com/hpn/hpn-g-relay/internal/ui"
)

// fast tries the official backends in order, then races the community pool.
func (o *Orchestrator) fast(ctx context.Context, window []domain.ConversationTurn, prompt string, limited bool) domain.ProviderOutcome {
	for _, p := range o.officialPath(limited) {
		out := o.invoke(ctx, p, window, o.officialOpts)
		if !out.OK() {
			continue
		}
		if strings.Contains(out.Text, prompt) {
			o.logger.Warn("official answer echoes the prompt, ignoring",
				slog.String("provider", out.Provider),
			)
			continue
		}
		o.announce(out)
		return out
	}

	out := o.race(ctx, window)
	if out.Provider != "" {
		o.announce(out)
	}
	return out
}

// officialPath lists the official backends in precedence order: key, then token.
func (o *Orchestrator) officialPath(limited bool) []adapter.Provider {
	path := make([]adapter.Provider, 0, 2)
	if o.official != nil {
		path = append(path, o.official)
	}
	if o.token != nil && !limited {
		path = append(path, o.token)
	}
	return path
}

// race runs the community pool concurrently and picks a winner by policy.
// Losers are cancelled; their results are discarded.
func (o *Orchestrator) race(ctx context.Context, window []domain.ConversationTurn) domain.ProviderOutcome {
	if len(o.community) == 0 {
		return domain.Failure("", "no community providers")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Buffered so late finishers never block after the winner is taken.
	results := make(chan domain.ProviderOutcome, len(o.community))
	for _, p := range o.community {
		go func(p adapter.Provider) {
			results <- o.invoke(ctx, p, window, o.communityOpts)
		}(p)
	}

	var first domain.ProviderOutcome
	for i := 0; i < len(o.community); i++ {
		var out domain.ProviderOutcome
		select {
		case out = <-results:
		case <-ctx.Done():
			return domain.Failure("", ctx.Err().Error())
		}

		if i == 0 {
			first = out
		}
		if o.racePolicy == FirstCompletion || out.OK() {
			return out
		}
	}
	return first
}

func (o *Orchestrator) announce(out domain.ProviderOutcome) {
	o.logger.Info("provider won",
		slog.String("provider", out.Provider),
		slog.String("outcome", out.Kind.String()),
		slog.Duration("latency", out.Latency),
	)
	if o.verbose {
		ui.PrintWinner(out.Provider, out.Latency)
	}
}
