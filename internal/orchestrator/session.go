package orchestrator

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/hpn/hpn-g-relay/internal/domain"
	"github.com/hpn/hpn-g-relay/internal/quality"
)

// Session is a single fast-mode exchange that can be regenerated.
// History is written only when a candidate is rated RatingHigh.
type Session struct {
	o      *Orchestrator
	req    Request
	prompt string
	window []domain.ConversationTurn
}

var _ quality.Session = (*Session)(nil)

// NewSession opens a regenerable exchange for the user and role of req.
// The request's Prompt and Mode are ignored.
func (o *Orchestrator) NewSession(req Request) *Session {
	req.Mode = domain.ModeFast
	return &Session{o: o, req: req}
}

// Send builds the window for message and returns the first candidate.
func (s *Session) Send(ctx context.Context, message string) (quality.Candidate, error) {
	s.prompt = s.o.truncate(message)
	hist := s.o.load(ctx, s.req.UserID)
	turns := domain.Trim(hist.Append(domain.RoleUser, s.prompt), s.o.maxHistory)
	s.window = s.o.window(turns, s.req)
	return s.generate(ctx)
}

// Next regenerates the answer for the same window.
func (s *Session) Next(ctx context.Context, _ quality.Candidate) (quality.Candidate, error) {
	if s.window == nil {
		return quality.Candidate{}, quality.ErrNoCandidate
	}
	return s.generate(ctx)
}

// Rate records score; RatingHigh commits the candidate to history.
func (s *Session) Rate(ctx context.Context, c quality.Candidate, score int) error {
	s.o.logger.Debug("candidate rated",
		slog.String("candidate_id", c.ID),
		slog.String("provider", c.Provider),
		slog.Int("score", score),
	)
	if score >= quality.RatingHigh {
		s.o.commit(ctx, s.req.UserID, s.prompt, c.Text)
	}
	return nil
}

func (s *Session) generate(ctx context.Context) (quality.Candidate, error) {
	out := s.o.fast(ctx, s.window, s.prompt, s.req.Limited)
	if !out.OK() {
		if err := ctx.Err(); err != nil {
			return quality.Candidate{}, err
		}
		return quality.Candidate{}, quality.ErrNoCandidate
	}
	return quality.Candidate{ID: uuid.NewString(), Text: out.Text, Provider: out.Provider}, nil
}
