package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/sourcegraph/conc/iter"

	"github.com/hpn/hpn-g-relay/internal/adapter"
	"github.com/hpn/hpn-g-relay/internal/domain"
)

// all runs every community provider and both official paths to completion.
// It returns the joined answers and the first surviving answer for history.
func (o *Orchestrator) all(ctx context.Context, window []domain.ConversationTurn, limited bool) (string, string) {
	providers := make([]adapter.Provider, 0, len(o.community)+2)
	providers = append(providers, o.community...)
	providers = append(providers, o.officialPath(limited)...)
	if len(providers) == 0 {
		return "", ""
	}

	mapper := iter.Mapper[adapter.Provider, domain.ProviderOutcome]{MaxGoroutines: len(providers)}
	outcomes := mapper.Map(providers, func(p *adapter.Provider) domain.ProviderOutcome {
		return o.invoke(ctx, *p, window, o.allOpts)
	})

	answers := make([]string, 0, len(outcomes))
	for _, out := range outcomes {
		if out.OK() && strings.TrimSpace(out.Text) != "" {
			answers = append(answers, out.Text)
		}
	}

	o.logger.Info("all mode finished",
		slog.Int("providers", len(providers)),
		slog.Int("answers", len(answers)),
	)

	if len(answers) == 0 {
		return "", ""
	}
	return strings.Join(answers, AnswerSeparator), answers[0]
}
