package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

type ErrorClass int

const (
	ClassUnknown ErrorClass = iota
	ClassClient             // 4xx other than 429, terminal
	ClassRateLimited        // 429, terminal
	ClassRetryable          // 5xx, connection reset/abort
	ClassTimeout            // connect-phase or overall deadline
	ClassCanceled           // caller went away
)

// ProviderError is the terminal error surfaced by a Stream call.
type ProviderError struct {
	Class    ErrorClass
	Status   int
	Attempts int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("provider: status %d after %d attempt(s): %v", e.Status, e.Attempts, e.Err)
	}
	return fmt.Sprintf("provider: %v (attempts=%d)", e.Err, e.Attempts)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// UserMessage maps the internal classification onto the small stable
// vocabulary clients see. Provider-specific text never leaks through here.
func (e *ProviderError) UserMessage() string {
	switch e.Class {
	case ClassRateLimited:
		return "rate-limited"
	case ClassRetryable:
		return "server error"
	case ClassTimeout:
		return "timeout"
	default:
		return "provider error"
	}
}

type httpStatusError struct {
	status int
	body   string
}

func (e *httpStatusError) Error() string {
	if e.body != "" {
		return fmt.Sprintf("status %d: %s", e.status, e.body)
	}
	return fmt.Sprintf("status %d", e.status)
}

func classifyStatus(status int) ErrorClass {
	switch {
	case status == 429:
		return ClassRateLimited
	case status >= 400 && status < 500:
		return ClassClient
	case status >= 500:
		return ClassRetryable
	default:
		return ClassUnknown
	}
}

func classify(err error) ErrorClass {
	var se *httpStatusError
	if errors.As(err, &se) {
		return classifyStatus(se.status)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ClassTimeout
	}
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return ClassRetryable
	}
	// remaining transport-level failures are treated as transient
	return ClassRetryable
}

func statusOf(err error) int {
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.status
	}
	return 0
}
