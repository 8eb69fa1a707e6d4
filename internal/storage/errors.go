package storage

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when the requested remote object does not exist.
	ErrNotFound = errors.New("remote object not found")

	// ErrTransport marks connection-level failures: DNS, TLS, resets, timeouts.
	ErrTransport = errors.New("transport failure")
)

// RemoteError is a non-success response from a provider.
type RemoteError struct {
	// Op names the attempted operation, e.g. "upload archive".
	Op string
	// StatusCode is the HTTP status.
	StatusCode int
	// Code is the provider error code when one was returned.
	Code string
	// Message is the provider's human-readable message.
	Message string
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no message"
	}
	if e.Code != "" {
		return fmt.Sprintf("%s rejected with status %d (%s): %s", e.Op, e.StatusCode, e.Code, msg)
	}
	return fmt.Sprintf("%s rejected with status %d: %s", e.Op, e.StatusCode, msg)
}

// Transport wraps a connection-level error so it matches ErrTransport.
func Transport(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}
