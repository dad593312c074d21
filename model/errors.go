package model

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation rejects an empty submission before any network call.
	ErrValidation = errors.New("message is empty")

	// ErrQuotaExceeded blocks submissions once the turn counter reaches its limit.
	ErrQuotaExceeded = errors.New("question limit reached")

	// ErrStaleWrite means another writer advanced the record since it was read.
	ErrStaleWrite = errors.New("conversation was modified by another writer")

	// ErrNotFound is returned when a conversation does not exist.
	ErrNotFound = errors.New("conversation not found")

	// ErrTurnInFlight is returned when a conversation already has an active turn.
	ErrTurnInFlight = errors.New("a turn is already in flight")
)

// NetworkError reports a non-2xx response or a transport failure.
type NetworkError struct {
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("network error (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// DecodeError reports one malformed event line. It never aborts a turn.
type DecodeError struct {
	Line string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode event %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// UpstreamError reports a credential/session provider failure.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Service, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// UserMessage returns the banner text shown for err.
func UserMessage(err error) string {
	var netErr *NetworkError
	var upErr *UpstreamError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "Type a message or attach a file first."
	case errors.Is(err, ErrQuotaExceeded):
		return "You have reached the question limit."
	case errors.Is(err, ErrStaleWrite):
		return "This chat was changed elsewhere. Reload it and try again."
	case errors.Is(err, ErrTurnInFlight):
		return "Wait for the current answer to finish."
	case errors.As(err, &upErr):
		return "Could not verify your session. Check your access token."
	case errors.As(err, &netErr):
		return "Could not reach the assistant. Check your connection."
	default:
		return err.Error()
	}
}
