package aruna

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrHTTP is a raw wire-level failure from a provider endpoint. Adapters
// wrap it into a classified ProviderError via ClassifyHTTP; it is exported
// so adapters outside this package can construct it.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ParseRetryAfter parses an HTTP Retry-After header value (delta-seconds or
// HTTP-date) into a duration. Returns 0 for empty or unparseable values.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// --- ProviderError ---

// ProviderErrorKind classifies a provider failure so the Router can decide
// whether to retry, switch providers, or abort the turn.
type ProviderErrorKind string

const (
	ProviderAuth           ProviderErrorKind = "auth"
	ProviderRateLimit      ProviderErrorKind = "rate_limit"
	ProviderTimeout        ProviderErrorKind = "timeout"
	ProviderInvalidRequest ProviderErrorKind = "invalid_request"
	ProviderTransient      ProviderErrorKind = "transient"
)

// ProviderError is a classified failure from one provider adapter.
type ProviderError struct {
	Provider   string
	Kind       ProviderErrorKind
	Retriable  bool
	RetryAfter time.Duration // server-requested delay floor, 0 if absent
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ClassifyHTTP converts a wire-level ErrHTTP into a classified ProviderError.
// 429 and 5xx are retriable; auth and request-shape failures are not.
func ClassifyHTTP(provider string, err *ErrHTTP) *ProviderError {
	pe := &ProviderError{Provider: provider, Err: err, RetryAfter: err.RetryAfter}
	switch {
	case err.Status == http.StatusUnauthorized || err.Status == http.StatusForbidden:
		pe.Kind = ProviderAuth
	case err.Status == http.StatusTooManyRequests:
		pe.Kind = ProviderRateLimit
		pe.Retriable = true
	case err.Status == http.StatusRequestTimeout || err.Status == http.StatusGatewayTimeout:
		pe.Kind = ProviderTimeout
		pe.Retriable = true
	case err.Status >= 500:
		pe.Kind = ProviderTransient
		pe.Retriable = true
	default:
		pe.Kind = ProviderInvalidRequest
	}
	return pe
}

// --- ToolError ---

// ToolErrorKind classifies a tool invocation failure.
type ToolErrorKind string

const (
	ToolInvalidArguments ToolErrorKind = "invalid_arguments"
	ToolExecutionFailure ToolErrorKind = "execution_failure"
)

// ToolError is a failure from the tool registry. invalid_arguments means the
// handler was never called.
type ToolError struct {
	Tool   string
	Kind   ToolErrorKind
	Detail string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %s: %s", e.Tool, e.Kind, e.Detail)
}

// --- MemoryError ---

// MemoryErrorKind classifies a memory operation failure.
type MemoryErrorKind string

const (
	MemoryNotFound    MemoryErrorKind = "not_found"
	MemoryPermission  MemoryErrorKind = "permission"
	MemoryUnavailable MemoryErrorKind = "unavailable"
)

// MemoryError is a failure from the memory manager. not_found and permission
// are recoverable: the workflow logs and proceeds with the turn.
type MemoryError struct {
	Kind MemoryErrorKind
	ID   string
	Err  error
}

func (e *MemoryError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("memory %s: %s: %v", e.ID, e.Kind, e.Err)
	}
	return fmt.Sprintf("memory: %s: %v", e.Kind, e.Err)
}

func (e *MemoryError) Unwrap() error { return e.Err }

// --- Router / workflow terminal errors ---

// ProvidersExhaustedError is surfaced by the Router when every provider in
// the fallback chain has failed after its retry budget.
type ProvidersExhaustedError struct {
	Providers int   // chain length
	Last      error // last provider's classified error
}

func (e *ProvidersExhaustedError) Error() string {
	return fmt.Sprintf("all %d providers exhausted: %v", e.Providers, e.Last)
}

func (e *ProvidersExhaustedError) Unwrap() error { return e.Last }

// WorkflowErrorKind classifies an unrecoverable workflow failure.
type WorkflowErrorKind string

const (
	WorkflowProvidersExhausted WorkflowErrorKind = "all_providers_exhausted"
	WorkflowToolLoopExceeded   WorkflowErrorKind = "tool_loop_exceeded"
)

// WorkflowError is the only error class that reaches the workflow's terminal
// Failed state. The channel layer never sees it raw: Failed always yields
// the deterministic fallback reply.
type WorkflowError struct {
	Kind WorkflowErrorKind
	Err  error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("workflow: %s: %v", e.Kind, e.Err)
}

func (e *WorkflowError) Unwrap() error { return e.Err }
