package adapter

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/hpn/hpn-g-relay/internal/domain"
)

// authRejectionPhrases are the messages backends use for a bad credential,
// sometimes under a non-401 status.
var authRejectionPhrases = []string{
	"Incorrect API key provided",
	"Could not parse your authentication token",
	"API key not valid",
}

// StatusError is a non-2xx answer from a backend.
type StatusError struct {
	Backend    string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error [%d]: %s", e.Backend, e.StatusCode, e.Message)
}

// Unwrap classifies the status into the domain error taxonomy so callers can
// use errors.Is(err, domain.ErrAuthenticationRejected).
func (e *StatusError) Unwrap() error {
	if e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden {
		return domain.ErrAuthenticationRejected
	}
	for _, phrase := range authRejectionPhrases {
		if strings.Contains(e.Message, phrase) {
			return domain.ErrAuthenticationRejected
		}
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500 {
		return domain.ErrTransientNetwork
	}
	return nil
}

// wrapTransport marks timeouts and connection errors as transient.
func wrapTransport(backend string, err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%s request: %w: %v", backend, domain.ErrTransientNetwork, err)
	}
	return fmt.Errorf("%s request: %w", backend, err)
}
