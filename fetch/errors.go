package fetch

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrCanceled is returned when a request is canceled through
	// Result.Cancel. Cancellation takes priority over any in-flight
	// failure, so a canceled request never surfaces a transport error.
	ErrCanceled = errors.New("fetch: request canceled")

	// ErrRateLimited is returned when a request is rejected by the
	// client-level rate limiter in fail-fast mode.
	ErrRateLimited = errors.New("fetch: rate limit exceeded")

	// ErrRetryRequested can be returned by an AfterResponse hook to ask
	// the retry coordinator for another attempt. The retry still counts
	// against the configured limit.
	ErrRetryRequested = errors.New("fetch: retry requested by hook")

	// ErrBodyNotBuffered is returned by the body accessors when the
	// request was executed in streaming mode.
	ErrBodyNotBuffered = errors.New("fetch: body not buffered in streaming mode")

	// errMissingLocation marks a redirect response without a Location
	// header.
	errMissingLocation = errors.New("fetch: redirect response missing Location header")
)

// RequestInfo identifies the request that produced an error.
// Every error surfaced by this package carries enough of the descriptor
// to reproduce the failing call without inspecting internals.
type RequestInfo struct {
	// Method is the HTTP method of the failing attempt.
	Method string

	// Host is the resolved hostname.
	Host string

	// Path is the resolved request path.
	Path string
}

func (ri RequestInfo) target() string {
	if ri.Host == "" && ri.Path == "" {
		return "<unresolved>"
	}
	return ri.Host + ri.Path
}

// OptionError reports invalid or conflicting options. It is raised by
// the normalizer before any network I/O and is never retried.
type OptionError struct {
	RequestInfo

	// Reason describes what is wrong with the options,
	// including the offending value where applicable.
	Reason string
}

func (e *OptionError) Error() string {
	if e.Method == "" && e.Host == "" {
		return fmt.Sprintf("fetch: invalid options: %s", e.Reason)
	}
	return fmt.Sprintf("fetch: invalid options for %s %s: %s", e.Method, e.target(), e.Reason)
}

// TimeoutPhase names the request phase whose timer expired.
type TimeoutPhase string

// Request phases with independent timeout timers.
const (
	PhaseLookup   TimeoutPhase = "lookup"
	PhaseConnect  TimeoutPhase = "connect"
	PhaseTLS      TimeoutPhase = "secureConnect"
	PhaseSend     TimeoutPhase = "send"
	PhaseResponse TimeoutPhase = "response"
	PhaseIdle     TimeoutPhase = "idle"
	PhaseTotal    TimeoutPhase = "total"
)

// TransportError wraps a connection, DNS, TLS or timeout failure from
// the underlying transport. Transport errors are retryable per policy.
type TransportError struct {
	RequestInfo

	// Err is the underlying transport failure.
	Err error

	// Timeout reports whether the failure was a phase timer expiring.
	Timeout bool

	// Phase is the request phase the failure was classified into.
	// Only set for timeout failures.
	Phase TimeoutPhase
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("fetch: %s %s: %s timeout: %v", e.Method, e.target(), e.Phase, e.Err)
	}
	return fmt.Sprintf("fetch: %s %s: %v", e.Method, e.target(), e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// HTTPError reports a non-2xx final response. The attached Response has
// its body already parsed with the requested response type, so callers
// can inspect structured error payloads directly.
type HTTPError struct {
	RequestInfo

	// Response is the final response, body included.
	Response *Response
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetch: %s %s responded with %d %s",
		e.Method, e.target(), e.Response.StatusCode, e.Response.reasonPhrase())
}

// StatusCode returns the response status code.
func (e *HTTPError) StatusCode() int { return e.Response.StatusCode }

// MaxRedirectsError reports that the redirect chain grew past the
// configured maximum hop count. It is terminal and never retried.
type MaxRedirectsError struct {
	RequestInfo

	// Limit is the configured maximum hop count.
	Limit int

	// Chain holds the URLs visited before the limit was hit, in order.
	Chain []string

	// Response is the redirect response that would have added one hop
	// too many.
	Response *Response
}

func (e *MaxRedirectsError) Error() string {
	return fmt.Sprintf("fetch: %s %s: redirect count exceeded %d hops",
		e.Method, e.target(), e.Limit)
}

// ParseError reports a body decoding failure. It is terminal and
// carries the raw text alongside the already-resolved Response, whose
// status code reflects the real server answer (for example 200 with a
// malformed JSON payload).
type ParseError struct {
	RequestInfo

	// Err is the underlying decode failure.
	Err error

	// Text is the raw body that failed to decode.
	Text string

	// Response is the resolved response the body came from.
	Response *Response
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("fetch: %s %s: cannot parse response body: %v (status %d)",
		e.Method, e.target(), e.Err, e.Response.StatusCode)
}

func (e *ParseError) Unwrap() error { return e.Err }

// CancelError reports a caller-initiated cancellation. It matches
// ErrCanceled under errors.Is.
type CancelError struct {
	RequestInfo
}

func (e *CancelError) Error() string {
	if e.Method == "" {
		return ErrCanceled.Error()
	}
	return fmt.Sprintf("fetch: %s %s: request canceled", e.Method, e.target())
}

func (e *CancelError) Is(target error) bool { return target == ErrCanceled }

// requestInfoOf extracts the public-safe request identity from a
// descriptor. Safe to call with a nil descriptor (pre-normalization
// failures).
func requestInfoOf(d *Descriptor) RequestInfo {
	if d == nil || d.URL == nil {
		return RequestInfo{}
	}
	return RequestInfo{
		Method: d.Method,
		Host:   d.URL.Hostname(),
		Path:   d.URL.Path,
	}
}
