package fetch

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig holds the retry behavior for one request lineage.
//
// A retry happens when a transport failure is classified as transient,
// when the response status is in StatusCodes (idempotent methods only),
// or when an AfterResponse hook returns ErrRetryRequested. The wait
// before each resubmission is exponential backoff with jitter, floored
// by the server's Retry-After header when present.
//
// Example:
//
//	cfg := fetch.DefaultRetryConfig()
//	cfg.Limit = 5
//	client := fetch.New(fetch.WithRetry(cfg))
type RetryConfig struct {
	// Limit is the maximum number of resubmissions. The initial attempt
	// is not counted. Zero disables retries.
	// Default: 2
	Limit uint

	// Methods is the set of methods eligible for status-triggered
	// retries. Transport-level connection failures may retry any method
	// since no bytes were necessarily sent.
	// Default: GET, HEAD, PUT, DELETE, OPTIONS, TRACE
	Methods []string

	// StatusCodes is the retryable status set.
	// Default: 408, 413, 429, 500, 502, 503, 504, 521, 522, 524
	StatusCodes []int

	// InitialInterval is the first backoff interval.
	// Default: 500ms
	InitialInterval time.Duration

	// MaxInterval caps the computed backoff interval.
	// Default: 30s
	MaxInterval time.Duration

	// Multiplier controls exponential growth between attempts.
	// Default: 2.0
	Multiplier float64

	// JitterFactor randomizes each interval (0.0-1.0) to prevent
	// synchronized retry storms.
	// Default: 0.5
	JitterFactor float64

	// MaxRetryAfter caps the server-supplied Retry-After header. When
	// the server asks for a longer wait, the retry is vetoed and the
	// error propagates instead.
	// Default: 1m
	MaxRetryAfter time.Duration

	// MaxElapsedTime is the total time budget for the retry sequence.
	// Zero means only Limit applies.
	// Default: 2m
	MaxElapsedTime time.Duration
}

// Default values for RetryConfig.
const (
	DefaultRetryLimit      = 2
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 30 * time.Second
	DefaultMultiplier      = 2.0
	DefaultJitterFactor    = 0.5
	DefaultMaxRetryAfter   = time.Minute
	DefaultMaxElapsedTime  = 2 * time.Minute
)

// defaultRetryMethods are the methods retried on a retryable status.
var defaultRetryMethods = []string{"GET", "HEAD", "PUT", "DELETE", "OPTIONS", "TRACE"}

// defaultRetryStatusCodes are the statuses eligible for resubmission.
var defaultRetryStatusCodes = []int{408, 413, 429, 500, 502, 503, 504, 521, 522, 524}

// DefaultRetryConfig returns balanced defaults for general use.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Limit:           DefaultRetryLimit,
		Methods:         defaultRetryMethods,
		StatusCodes:     defaultRetryStatusCodes,
		InitialInterval: DefaultInitialInterval,
		MaxInterval:     DefaultMaxInterval,
		Multiplier:      DefaultMultiplier,
		JitterFactor:    DefaultJitterFactor,
		MaxRetryAfter:   DefaultMaxRetryAfter,
		MaxElapsedTime:  DefaultMaxElapsedTime,
	}
}

// NoRetryConfig disables retries entirely.
func NoRetryConfig() RetryConfig {
	return RetryConfig{}
}

// IsEnabled reports whether retries are enabled.
func (c RetryConfig) IsEnabled() bool { return c.Limit > 0 }

func (c RetryConfig) methodAllowed(method string) bool {
	for _, m := range c.Methods {
		if m == method {
			return true
		}
	}
	return false
}

func (c RetryConfig) statusRetryable(code int) bool {
	for _, s := range c.StatusCodes {
		if s == code {
			return true
		}
	}
	return false
}

// RetryState is handed to a DelayStrategy before each resubmission.
type RetryState struct {
	// Attempt is the upcoming attempt number; 1 for the first retry.
	Attempt int

	// Error is the failure that triggered the retry.
	Error error

	// ComputedDelay is the default backoff the engine computed,
	// Retry-After floor already applied.
	ComputedDelay time.Duration
}

// DelayStrategy overrides the computed retry delay. Returning zero or
// a negative duration vetoes the retry and the error propagates.
type DelayStrategy func(RetryState) time.Duration

// retryState tracks one lineage across its resubmissions. It lives for
// the duration of one logical request and is discarded on settle.
type retryState struct {
	attempts int
	errs     []error
	backoff  *backoff.ExponentialBackOff
	started  time.Time
}

func newRetryState(cfg RetryConfig) *retryState {
	return &retryState{
		backoff: newExponentialBackOff(cfg),
		started: time.Now(),
	}
}

// decideRetry evaluates one failure and returns the wait before the
// resubmission. ok is false when the failure must propagate.
func decideRetry(d *Descriptor, resp *Response, cause error, st *retryState) (delay time.Duration, ok bool) {
	cfg := d.Retry
	if !cfg.IsEnabled() || st.attempts >= int(cfg.Limit) {
		return 0, false
	}
	if !d.hasReplayableBody() {
		return 0, false
	}

	switch {
	case cause != nil && errors.Is(cause, ErrRetryRequested):
		// Hook-requested: always eligible.
	case cause != nil:
		if errors.Is(cause, ErrCanceled) || !isRetryableNetworkError(cause) || isPermanentError(cause) {
			return 0, false
		}
	case resp != nil:
		if !cfg.statusRetryable(resp.StatusCode) || !cfg.methodAllowed(d.Method) {
			return 0, false
		}
	default:
		return 0, false
	}

	delay = st.backoff.NextBackOff()

	// A server-supplied Retry-After is a floor on the wait, and a veto
	// past MaxRetryAfter.
	if resp != nil {
		if ra := parseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ra > 0 {
			if cfg.MaxRetryAfter > 0 && ra > cfg.MaxRetryAfter {
				return 0, false
			}
			if ra > delay {
				delay = ra
			}
		}
	}

	if cfg.MaxElapsedTime > 0 && time.Since(st.started)+delay > cfg.MaxElapsedTime {
		return 0, false
	}

	if d.CalculateDelay != nil {
		delay = d.CalculateDelay(RetryState{
			Attempt:       st.attempts + 1,
			Error:         cause,
			ComputedDelay: delay,
		})
		if delay <= 0 {
			return 0, false
		}
	}

	return delay, true
}

// record notes a resubmission and the error that caused it.
func (st *retryState) record(cause error) {
	st.attempts++
	if cause != nil {
		st.errs = append(st.errs, cause)
	}
}
