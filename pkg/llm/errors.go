package llm

import "errors"

// Sentinel errors for each upstream failure class. Callers classify with
// errors.Is and derive the fallback verdict reasoning from Kind.
var (
	// ErrDeadlineExceeded: the request deadline expired before a response.
	ErrDeadlineExceeded = errors.New("llm deadline exceeded")

	// ErrCircuitOpen: the circuit breaker rejected the call without HTTP traffic.
	ErrCircuitOpen = errors.New("llm circuit open")

	// ErrTransient: connection failures, 5xx, or 429 after retries were exhausted.
	ErrTransient = errors.New("llm transient failure")

	// ErrBadRequest: a non-retryable 4xx; indicates a caller bug, not upstream
	// health, and is not counted by the circuit breaker.
	ErrBadRequest = errors.New("llm bad request")

	// ErrUnparseable: the response text could not be parsed into a verdict.
	ErrUnparseable = errors.New("llm response unparseable")

	// ErrUpstream: a structurally invalid response envelope.
	ErrUpstream = errors.New("llm upstream error")
)

// Kind returns the stable failure-kind name for an LLM error, used in
// fallback verdict reasoning and metrics labels.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrDeadlineExceeded):
		return "LLMDeadlineExceeded"
	case errors.Is(err, ErrCircuitOpen):
		return "LLMCircuitOpen"
	case errors.Is(err, ErrTransient):
		return "LLMTransient"
	case errors.Is(err, ErrBadRequest):
		return "LLMBadRequest"
	case errors.Is(err, ErrUnparseable):
		return "LLMUnparseable"
	case errors.Is(err, ErrUpstream):
		return "LLMUpstreamError"
	default:
		return "LLMUnknownError"
	}
}
