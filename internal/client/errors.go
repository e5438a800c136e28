// Package client provides the REST and WebSocket client for the
// knowledge-base pipeline backend.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for backend operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrServer indicates the backend rejected or failed the request.
	ErrServer = errors.New("server error")
)

// StatusError carries the HTTP status of a failed request.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether err is worth retrying on the next poll
// tick: network failures, timeouts, and not-found races while the
// backend is still materializing a resource. Transient errors are never
// surfaced as task failures.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	return false
}
