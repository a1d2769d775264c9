package gateway

import (
	"context"
	"errors"
	"fmt"
)

// DefaultErrorMessage is the last-resort text for a failed call.
const DefaultErrorMessage = "Request failed"

// RequestError is a network or backend failure.
type RequestError struct {
	// Status is the HTTP status code, or 0 when the transport failed.
	Status  int
	Message string
	Err     error
}

func (e *RequestError) Error() string {
	if e.Status == 0 {
		if e.Err != nil {
			return fmt.Sprintf("request error: %s: %v", e.Message, e.Err)
		}
		return "request error: " + e.Message
	}
	return fmt.Sprintf("request error (%d): %s", e.Status, e.Message)
}

// UserMessage is the text surfaced on the status line.
func (e *RequestError) UserMessage() string { return e.Message }

func (e *RequestError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is a backend 404.
func IsNotFound(err error) bool {
	var re *RequestError
	return errors.As(err, &re) && re.Status == 404
}

func transportError(err error) *RequestError {
	msg := DefaultErrorMessage
	switch {
	case errors.Is(err, context.Canceled):
		msg = "Request cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		msg = "Request timed out"
	}
	return &RequestError{Message: msg, Err: err}
}

// ExtractMessage picks the human-readable message from a decoded error body.
// Precedence: detail[0].msg, then a scalar detail, then statusText, then
// DefaultErrorMessage. Non-string and empty candidates are skipped.
func ExtractMessage(data any, statusText string) string {
	if m, ok := data.(map[string]any); ok {
		if list, ok := m["detail"].([]any); ok && len(list) > 0 {
			if first, ok := list[0].(map[string]any); ok {
				if s, ok := first["msg"].(string); ok && s != "" {
					return s
				}
			}
		}
		if s, ok := m["detail"].(string); ok && s != "" {
			return s
		}
	}
	if statusText != "" {
		return statusText
	}
	return DefaultErrorMessage
}

// BestEffort carries the outcome of a fetch whose failure must not fail the
// surrounding flow. A flow may inspect or drop it.
type BestEffort[T any] struct {
	Value T
	Err   error
}

// Try wraps a (value, error) pair.
func Try[T any](v T, err error) BestEffort[T] {
	return BestEffort[T]{Value: v, Err: err}
}

// OK reports whether the fetch succeeded.
func (b BestEffort[T]) OK() bool { return b.Err == nil }
