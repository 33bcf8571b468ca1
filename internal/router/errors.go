// File path: internal/router/errors.go
package router

import (
	"errors"
	"fmt"
)

// PermissionError marks a call rejected before any repository access
// because the principal lacks a named capability. It is never retried.
type PermissionError struct {
	Capability string
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permission denied: missing capability %q", e.Capability)
}

// IsPermissionError reports whether err is an access-denied rejection.
func IsPermissionError(err error) bool {
	var pe *PermissionError
	return errors.As(err, &pe)
}

// RateLimitError marks a throttled call. RetryAfter tells the caller how
// many seconds to wait; Blocked principals are short-circuited until an
// operator clears them.
type RateLimitError struct {
	RetryAfter int
	Blocked    bool
}

func (e *RateLimitError) Error() string {
	if e.Blocked {
		return "rate limit: principal blocked for abuse"
	}
	return fmt.Sprintf("rate limit exceeded, retry after %ds", e.RetryAfter)
}

// IsRateLimitError reports whether err is retryable throttling.
func IsRateLimitError(err error) bool {
	var re *RateLimitError
	return errors.As(err, &re)
}
