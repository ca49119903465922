package agentcore

import (
	"fmt"
	"strconv"
	"time"
)

// ErrLLM wraps a provider-side failure that the router has not (yet)
// classified into retryable/context-overflow/fatal.
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string { return fmt.Sprintf("%s: %s", e.Provider, e.Message) }

// ErrHTTP carries the HTTP status and any Retry-After hint from a failed
// provider call, consumed by internal/router's error classifier.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string { return fmt.Sprintf("http %d: %s", e.Status, e.Body) }

// ParseRetryAfter parses an HTTP Retry-After header value, which is
// either an integer number of seconds or absent. Unparseable values
// yield 0 (no minimum delay imposed).
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// ErrToolPolicy reports a tool-execution loop policy gate rejection
// (deny-listed, not allow-listed, or per-run quota exceeded). It is
// always a local, run-nonfatal error: the loop records a tool error
// result and continues.
type ErrToolPolicy struct {
	Tool   string
	Reason string
}

func (e *ErrToolPolicy) Error() string { return fmt.Sprintf("tool %q: %s", e.Tool, e.Reason) }

// ErrValidation reports a malformed request (missing fields, bad JSON).
type ErrValidation struct {
	Message string
}

func (e *ErrValidation) Error() string { return e.Message }
