package orchestrator

import (
	"context"
	"log/slog"
	"strings"

	"github.com/hpn/hpn-g-relay/internal/domain"
)

// SummaryChunkLength is the size of each piece of text sent for summarising.
const SummaryChunkLength = 3950

// refusalPrefixes mark chunk answers that are dropped from a summary.
var refusalPrefixes = []string{"I'm sorry", "Извините", "I cannot provide", "Сожалею"}

// Summarize splits text into chunks, runs prompt+chunk through fast mode for
// at most limit+1 chunks and joins the usable answers with newlines.
// A negative limit sends nothing. Chunks are sent anonymously so no
// history is kept.
func (o *Orchestrator) Summarize(ctx context.Context, prompt, text string, limit int, limited bool) (string, error) {
	chunks := splitRunes(text, SummaryChunkLength)
	switch {
	case limit < 0:
		chunks = nil
	case len(chunks) > limit+1:
		chunks = chunks[:limit+1]
	}

	parts := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return strings.Join(parts, "\n"), err
		}

		answer, err := o.Run(ctx, Request{
			Prompt:  prompt + chunk,
			Mode:    domain.ModeFast,
			UserID:  domain.UserID("0"),
			Limited: limited,
		})
		if err != nil {
			return strings.Join(parts, "\n"), err
		}
		if answer == "" || isRefusal(answer) {
			o.logger.Info("summary chunk skipped", slog.Int("chunk", i))
			continue
		}
		parts = append(parts, answer)
	}

	return strings.Join(parts, "\n"), nil
}

func isRefusal(answer string) bool {
	for _, p := range refusalPrefixes {
		if strings.HasPrefix(answer, p) {
			return true
		}
	}
	return false
}

// splitRunes cuts s into pieces of at most n runes.
func splitRunes(s string, n int) []string {
	runes := []rune(s)
	chunks := make([]string, 0, len(runes)/n+1)
	for start := 0; start < len(runes); start += n {
		end := start + n
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
