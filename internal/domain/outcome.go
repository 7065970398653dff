package domain

import (
	"fmt"
	"time"
)

// OutcomeKind tags the result of a single adapter invocation.
type OutcomeKind int

const (
	// OutcomeSuccess carries usable text.
	OutcomeSuccess OutcomeKind = iota
	// OutcomeEmpty means the backend answered with blank or garbage content.
	OutcomeEmpty
	// OutcomeFailure means the call itself failed.
	OutcomeFailure
)

// String returns the label used in logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeEmpty:
		return "empty"
	case OutcomeFailure:
		return "failure"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// ProviderOutcome is the normalized result of one adapter call.
type ProviderOutcome struct {
	Kind     OutcomeKind
	Provider string
	Text     string
	Reason   string
	Latency  time.Duration
}

// Success builds a successful outcome.
func Success(provider, text string) ProviderOutcome {
	return ProviderOutcome{Kind: OutcomeSuccess, Provider: provider, Text: text}
}

// Empty builds an empty-result outcome.
func Empty(provider, reason string) ProviderOutcome {
	return ProviderOutcome{Kind: OutcomeEmpty, Provider: provider, Reason: reason}
}

// Failure builds a failed outcome.
func Failure(provider, reason string) ProviderOutcome {
	return ProviderOutcome{Kind: OutcomeFailure, Provider: provider, Reason: reason}
}

// OK reports whether the outcome carries usable text.
func (o ProviderOutcome) OK() bool {
	return o.Kind == OutcomeSuccess
}
