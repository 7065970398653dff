// Package quality keeps regenerating an answer until it passes a content check.
// Rejected candidates are rated low, the accepted one is rated high.
package quality

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

const (
	// RatingLow is given to a rejected candidate.
	RatingLow = 1
	// RatingHigh is given to the accepted candidate.
	RatingHigh = 5

	// DefaultMaxAttempts caps candidates per message.
	DefaultMaxAttempts = 10
)

var (
	// ErrAllCandidatesRejected is returned once MaxAttempts candidates failed the check.
	ErrAllCandidatesRejected = errors.New("all candidates rejected")

	// ErrNoCandidate is returned by a Session that could not produce any text.
	ErrNoCandidate = errors.New("no candidate produced")
)

// Candidate is one generated answer.
type Candidate struct {
	ID       string
	Text     string
	Provider string
}

// Session is a conversation that can regenerate its last answer and accept ratings.
type Session interface {
	// Send posts message and returns the first candidate.
	Send(ctx context.Context, message string) (Candidate, error)

	// Next asks for another candidate for the same turn.
	Next(ctx context.Context, prev Candidate) (Candidate, error)

	// Rate scores a candidate between RatingLow and RatingHigh.
	Rate(ctx context.Context, c Candidate, score int) error
}

// Checker decides whether text must be rejected.
type Checker interface {
	Reject(ctx context.Context, text string) (bool, error)
}

// Gate drives a Session until a candidate passes every checker.
type Gate struct {
	checkers    []Checker
	maxAttempts int
	logger      *slog.Logger
}

// GateOption is a functional option for configuring Gate.
type GateOption func(*Gate)

// WithMaxAttempts caps candidates per message.
func WithMaxAttempts(n int) GateOption {
	return func(g *Gate) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) GateOption {
	return func(g *Gate) {
		g.logger = logger
	}
}

// NewGate creates a Gate that rejects a candidate when any checker does.
func NewGate(checkers []Checker, opts ...GateOption) *Gate {
	g := &Gate{
		checkers:    checkers,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(g)
	}

	return g
}

// Answer sends message and returns the first candidate every checker accepts.
// Past MaxAttempts it fails closed with ErrAllCandidatesRejected.
func (g *Gate) Answer(ctx context.Context, s Session, message string) (Candidate, error) {
	c, err := s.Send(ctx, message)
	if err != nil {
		return Candidate{}, err
	}

	for attempt := 1; ; attempt++ {
		rejected, err := g.rejects(ctx, c.Text)
		if err != nil {
			return Candidate{}, err
		}
		if !rejected {
			if err := s.Rate(ctx, c, RatingHigh); err != nil {
				g.logger.Warn("failed to rate accepted candidate", slog.String("error", err.Error()))
			}
			return c, nil
		}

		if err := s.Rate(ctx, c, RatingLow); err != nil {
			g.logger.Warn("failed to rate rejected candidate", slog.String("error", err.Error()))
		}
		g.logger.Info("candidate rejected",
			slog.Int("attempt", attempt),
			slog.String("provider", c.Provider),
		)

		if attempt >= g.maxAttempts {
			g.logger.Error("quality gate exhausted", slog.Int("attempts", attempt))
			return Candidate{}, fmt.Errorf("%w after %d attempts", ErrAllCandidatesRejected, attempt)
		}

		c, err = s.Next(ctx, c)
		if err != nil {
			return Candidate{}, err
		}
	}
}

func (g *Gate) rejects(ctx context.Context, text string) (bool, error) {
	for _, c := range g.checkers {
		rejected, err := c.Reject(ctx, text)
		if err != nil {
			return false, err
		}
		if rejected {
			return true, nil
		}
	}
	return false, nil
}
