package domain

import "errors"

var (
	// ErrAuthenticationRejected is returned by a backend that refused the credential.
	// The credential is evicted from its pool and never used again.
	ErrAuthenticationRejected = errors.New("authentication rejected")

	// ErrEmptyResponse marks blank, "None", HTML or dead-provider payloads.
	ErrEmptyResponse = errors.New("empty or malformed response")

	// ErrTransientNetwork wraps timeouts and connection errors.
	ErrTransientNetwork = errors.New("transient network failure")

	// ErrNoCredentials is returned when a credential pool has been exhausted.
	ErrNoCredentials = errors.New("no credentials")

	// ErrNoModeSelected is returned for an unknown orchestrator mode.
	ErrNoModeSelected = errors.New("no GPT mode selected")

	// ErrModerationDegraded is returned when the moderation endpoint kept failing.
	ErrModerationDegraded = errors.New("moderation service degraded")
)
