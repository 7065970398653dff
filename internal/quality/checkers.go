package quality

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"unicode"

	"github.com/hpn/hpn-g-relay/internal/domain"
)

// DefaultProfanityStems are matched against the start of each word.
var DefaultProfanityStems = []string{
	"хуй", "хуе", "хуё", "хуя", "пизд", "ебал", "ебан", "ебат", "ебу", "ёб", "бля", "сука", "муда", "пидор",
	"fuck", "shit", "cunt", "bitch",
}

// ProfanityChecker rejects text containing a word that starts with a listed stem.
type ProfanityChecker struct {
	stems []string
}

// NewProfanityChecker creates a checker over stems; nil means DefaultProfanityStems.
func NewProfanityChecker(stems []string) *ProfanityChecker {
	if stems == nil {
		stems = DefaultProfanityStems
	}
	lowered := make([]string, len(stems))
	for i, s := range stems {
		lowered[i] = strings.ToLower(s)
	}
	return &ProfanityChecker{stems: lowered}
}

// Reject reports whether text contains profanity.
func (p *ProfanityChecker) Reject(_ context.Context, text string) (bool, error) {
	_, found := p.Find(text)
	return found, nil
}

// Find returns the first offending word.
func (p *ProfanityChecker) Find(text string) (string, bool) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})
	for _, w := range words {
		for _, stem := range p.stems {
			if strings.HasPrefix(w, stem) {
				return w, true
			}
		}
	}
	return "", false
}

// Moderator is the moderation dependency of ModerationChecker.
type Moderator interface {
	Check(ctx context.Context, text string) (domain.ModerationVerdict, error)
}

// ModerationChecker rejects flagged text. A degraded verdict is rejected
// unless FailOpen is set.
type ModerationChecker struct {
	moderator Moderator
	failOpen  bool
	logger    *slog.Logger
}

// NewModerationChecker adapts m to Checker.
func NewModerationChecker(m Moderator, failOpen bool, logger *slog.Logger) *ModerationChecker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ModerationChecker{moderator: m, failOpen: failOpen, logger: logger}
}

// Reject reports whether the moderation verdict forbids text.
func (c *ModerationChecker) Reject(ctx context.Context, text string) (bool, error) {
	v, err := c.moderator.Check(ctx, text)
	if err != nil && !errors.Is(err, domain.ErrModerationDegraded) {
		return false, err
	}
	if v.Degraded {
		c.logger.Warn("moderation degraded",
			slog.Bool("fail_open", c.failOpen),
			slog.String("detail", v.Detail),
		)
		return !c.failOpen, nil
	}
	return v.Flagged, nil
}
