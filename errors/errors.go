package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

var (
	ErrWorkerPanic            = fmt.Errorf("worker panic")
	ErrTransport              = fmt.Errorf("transport error")
	ErrNotConnected           = fmt.Errorf("%w: session is not connected", ErrTransport)
	ErrHandshake              = fmt.Errorf("%w: handshake failed", ErrTransport)
	ErrOutboundFull           = fmt.Errorf("outbound queue is full")
	ErrSendTimeout            = fmt.Errorf("send timed out")
	ErrTranslationUnavailable = fmt.Errorf("translation unavailable")
	ErrLookupFailure          = fmt.Errorf("lookup failure")
	ErrStaleEvent             = fmt.Errorf("stale event")
	ErrInvariantViolation     = fmt.Errorf("invariant violation")
	ErrNotJoined              = fmt.Errorf("conversation is not joined")
	ErrUnknownMessage         = fmt.Errorf("unknown message")
	ErrNotRetryable           = fmt.Errorf("message is not retryable")
	ErrInvalidMessage         = fmt.Errorf("invalid message")
	ErrInvalidInput           = fmt.Errorf("invalid input")
	ErrEmptyQuery             = fmt.Errorf("no search terms have been found")
	ErrLoopStopped            = fmt.Errorf("loop stopped")
)

// APIError is returned by the chat API client for non 2xx responses.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("chat api: %d %s", e.Status, http.StatusText(e.Status))
	}
	return fmt.Sprintf("chat api: %d %s", e.Status, e.Detail)
}

// Unwrap maps a missing resource onto ErrLookupFailure.
func (e *APIError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrLookupFailure
	}
	return nil
}

// Violation builds an invariant violation carrying the offending identifiers.
func Violation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvariantViolation, fmt.Sprintf(format, args...))
}

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }
