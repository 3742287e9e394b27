package gcal

import (
	"context"
	"errors"
	"net"
	"strings"

	"google.golang.org/api/googleapi"

	"github.com/ManuelReschke/SlotFox/internal/pkg/timed"
)

// Stable error codes surfaced to the orchestrator and logs.
var (
	// ErrOAuthNotConfigured means client id/secret/redirect are missing from
	// the environment. A deployment problem, never retried.
	ErrOAuthNotConfigured = errors.New("GOOGLE_OAUTH_NOT_CONFIGURED")
	// ErrNoTokens means the business has not connected Google Calendar.
	ErrNoTokens = errors.New("NO_GOOGLE_TOKENS")
	// ErrTimeout mirrors timed.ErrTimeout with the calendar-specific code.
	ErrTimeout = errors.New("GOOGLE_TIMEOUT")
)

// ErrorClass buckets calendar errors for the retry policy.
type ErrorClass int

const (
	// ClassRetryable covers transport faults, 5xx and 429.
	ClassRetryable ErrorClass = iota
	// ClassClient covers non-retryable 4xx responses.
	ClassClient
	// ClassConfig covers missing OAuth configuration.
	ClassConfig
	// ClassNoCredential covers a business without stored tokens.
	ClassNoCredential
)

// Classify buckets an error from the calendar API.
func Classify(err error) ErrorClass {
	if errors.Is(err, ErrOAuthNotConfigured) {
		return ClassConfig
	}
	if errors.Is(err, ErrNoTokens) {
		return ClassNoCredential
	}
	if errors.Is(err, timed.ErrTimeout) || errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return ClassRetryable
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code >= 500 || apiErr.Code == 429:
			return ClassRetryable
		case apiErr.Code >= 400:
			return ClassClient
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassRetryable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ClassRetryable
	}

	msg := err.Error()
	if strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") || strings.Contains(msg, "EOF") {
		return ClassRetryable
	}
	return ClassClient
}

// Retryable reports whether the retry policy may attempt the call again.
func Retryable(err error) bool {
	return err != nil && Classify(err) == ClassRetryable
}
