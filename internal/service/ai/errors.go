package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind buckets completion failures by how callers should react.
type Kind int

const (
	// KindTransient failures (rate limits, timeouts) are retryable.
	KindTransient Kind = iota
	// KindConfig failures (bad credentials, unknown deployment) are fatal.
	KindConfig
	// KindInvalid failures (malformed request) are fatal for this turn only.
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "configuration"
	case KindInvalid:
		return "invalid_request"
	default:
		return "transient"
	}
}

// Error wraps a completion failure with its classified kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("completion %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// WrapError classifies an error from the completion gateway. Provider SDKs do
// not expose a common error type, so classification inspects the message.
func WrapError(err error) *Error {
	if err == nil {
		return nil
	}
	var wrapped *Error
	if errors.As(err, &wrapped) {
		return wrapped
	}
	return &Error{Kind: classify(err), Err: err}
}

func classify(err error) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTransient
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "overloaded"),
		strings.Contains(msg, "temporarily"),
		strings.Contains(msg, "connection"):
		return KindTransient
	case strings.Contains(msg, "401"),
		strings.Contains(msg, "403"),
		strings.Contains(msg, "api key"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "forbidden"),
		strings.Contains(msg, "deployment"),
		strings.Contains(msg, "model not found"):
		return KindConfig
	case strings.Contains(msg, "400"),
		strings.Contains(msg, "invalid"),
		strings.Contains(msg, "bad request"),
		strings.Contains(msg, "context length"),
		strings.Contains(msg, "too long"):
		return KindInvalid
	default:
		return KindTransient
	}
}
