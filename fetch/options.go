// Package fetch provides a resilient HTTP request client with retries,
// redirect following, response parsing, caching, hooks, and a cancelable
// result.
//
// # Quick Start
//
//	client := fetch.New(
//	    fetch.WithBaseURL("https://api.example.com"),
//	    fetch.WithServiceName("payment-service"),
//	)
//
//	var payment Payment
//	res := client.Post(ctx, "/payments", fetch.WithJSON(payment))
//	if err := res.JSON(&created); err != nil {
//	    return err
//	}
//
// # Configuration
//
// Clients are configured with functional options. Option layers merge
// key-by-key: package defaults, then New options, then Extend options,
// then per-call options. Headers merge per key and hooks append in
// registration order; everything else is replaced by the later layer.
package fetch

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// scope is the instrumentation scope name for OpenTelemetry.
	scope = "github.com/lodestar-labs/fetch-go/fetch"

	// defaultUserAgent is sent when the caller does not set one.
	defaultUserAgent = "fetch-go/1.0 (+https://github.com/lodestar-labs/fetch-go)"
)

// =============================================================================
// Timeouts - Per-Phase Timeout Configuration
// =============================================================================

// Timeouts holds the per-phase timeout configuration. Each phase is
// timed independently; an expiring phase timer cancels the in-flight
// attempt and surfaces a timeout-classified TransportError naming the
// phase.
//
// A zero value disables the timer for that phase.
type Timeouts struct {
	// Lookup limits DNS resolution for one attempt.
	Lookup time.Duration

	// Connect limits TCP connection establishment.
	Connect time.Duration

	// SecureConnect limits the TLS handshake.
	SecureConnect time.Duration

	// Send limits writing the request headers and body.
	Send time.Duration

	// Response limits the wait for response headers after the request
	// has been fully written.
	Response time.Duration

	// Idle limits the gap between consecutive body reads.
	Idle time.Duration

	// Total limits the entire lifecycle of one logical request,
	// including every retry and redirect hop.
	Total time.Duration
}

// DefaultTimeouts returns balanced per-phase timeouts for typical API
// traffic.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Lookup:        5 * time.Second,
		Connect:       5 * time.Second,
		SecureConnect: 10 * time.Second,
		Send:          10 * time.Second,
		Response:      15 * time.Second,
		Idle:          0,
		Total:         60 * time.Second,
	}
}

// =============================================================================
// PoolConfig - Connection Pool Configuration
// =============================================================================

// PoolConfig holds connection pool settings for the underlying agent.
// Use DefaultPoolConfig() as a starting point, then adjust fields.
type PoolConfig struct {
	// MaxIdleConns is the maximum idle connections across all hosts.
	// Default: 100
	MaxIdleConns int

	// MaxIdleConnsPerHost is the maximum idle connections kept per host.
	// Often the most important setting: connection churn to a single
	// downstream shows up here first.
	// Default: 20
	MaxIdleConnsPerHost int

	// MaxConnsPerHost limits total (idle + active) connections per host.
	// Zero means unlimited.
	// Default: 100
	MaxConnsPerHost int

	// IdleConnTimeout is how long an idle connection stays pooled.
	// Default: 90s
	IdleConnTimeout time.Duration

	// KeepAlive is the TCP keep-alive probe interval.
	// Default: 30s
	KeepAlive time.Duration

	// ForceHTTP2 forces HTTP/2 (requires HTTPS).
	// Default: false (negotiated via ALPN)
	ForceHTTP2 bool
}

// DefaultPoolConfig returns a balanced pool configuration suitable for
// most microservice traffic patterns.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     100,
		IdleConnTimeout:     90 * time.Second,
		KeepAlive:           30 * time.Second,
	}
}

// =============================================================================
// Internal Settings
// =============================================================================

// settings is the fully merged option state for one layer. A Client
// holds its resolved settings; Extend and each call clone them before
// applying the next layer, so no layer ever mutates an earlier one.
type settings struct {
	// Request defaults
	baseURL      string
	header       http.Header
	searchParams url.Values
	userAgent    string
	body         *bodySpec

	// Lifecycle policy
	timeouts        Timeouts
	retry           RetryConfig
	calculateDelay  DelayStrategy
	followRedirect  bool
	maxRedirects    int
	responseType    ResponseType
	throwHTTPErrors bool
	decompress      bool
	allowGetBody    bool
	stream          bool

	// Collaborators
	storage      Storage
	cacheEnabled bool
	jar          http.CookieJar
	resolver     Resolver

	// Hooks and lifecycle observation
	hooks   Hooks
	onEvent func(Event)

	// Agent construction (only honored at New / NewWithTransport time)
	pool      PoolConfig
	tlsConfig *tls.Config
	proxyURL  *url.URL
	rateLimit RateLimitConfig
	breaker   *BreakerConfig

	// Observability
	serviceName    string
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	debug          bool
	generateCurl   bool
}

// newSettings creates the package-default settings and applies options.
func newSettings(opts ...Option) *settings {
	s := &settings{
		header:          make(http.Header),
		searchParams:    make(url.Values),
		userAgent:       defaultUserAgent,
		timeouts:        DefaultTimeouts(),
		retry:           DefaultRetryConfig(),
		followRedirect:  true,
		maxRedirects:    10,
		responseType:    ResponseText,
		throwHTTPErrors: true,
		decompress:      true,
		pool:            DefaultPoolConfig(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// clone produces a deep-enough copy for the next option layer.
// Headers, search params and hook lists are copied; collaborators are
// shared by reference.
func (s *settings) clone() *settings {
	out := *s
	out.header = s.header.Clone()
	if out.header == nil {
		out.header = make(http.Header)
	}
	out.searchParams = cloneValues(s.searchParams)
	out.hooks = s.hooks.clone()
	if s.body != nil {
		b := *s.body
		out.body = &b
	}
	return &out
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vs := range v {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// apply layers per-call options on a fresh copy.
func (s *settings) apply(opts ...Option) *settings {
	out := s.clone()
	for _, opt := range opts {
		opt(out)
	}
	return out
}

// =============================================================================
// Options
// =============================================================================

// Option configures a Client or a single call.
type Option func(*settings)

// WithBaseURL sets the prefix URL that per-call paths are resolved
// against. A per-call absolute URL overrides it entirely.
//
// Example:
//
//	client := fetch.New(fetch.WithBaseURL("https://api.example.com"))
//	res := client.Get(ctx, "/users/42")
func WithBaseURL(base string) Option {
	return func(s *settings) { s.baseURL = base }
}

// WithHeader sets a single header. Later layers override the same key;
// other keys are preserved.
func WithHeader(key, value string) Option {
	return func(s *settings) { s.header.Set(key, value) }
}

// WithHeaders sets multiple headers at once.
func WithHeaders(h map[string]string) Option {
	return func(s *settings) {
		for k, v := range h {
			s.header.Set(k, v)
		}
	}
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(s *settings) { s.userAgent = ua }
}

// WithSearchParam adds a query string parameter.
func WithSearchParam(key, value string) Option {
	return func(s *settings) { s.searchParams.Set(key, value) }
}

// WithSearchParams adds multiple query string parameters.
func WithSearchParams(params map[string]string) Option {
	return func(s *settings) {
		for k, v := range params {
			s.searchParams.Set(k, v)
		}
	}
}

// WithQuery is a deprecated alias for WithSearchParams. The values are
// rewritten to search params; a warning is logged once per process.
//
// Deprecated: Use WithSearchParams.
func WithQuery(params map[string]string) Option {
	return func(s *settings) {
		warnDeprecated("WithQuery", "WithSearchParams")
		for k, v := range params {
			s.searchParams.Set(k, v)
		}
	}
}

// WithTimeouts replaces the per-phase timeout configuration.
func WithTimeouts(t Timeouts) Option {
	return func(s *settings) { s.timeouts = t }
}

// WithTotalTimeout sets only the total lifecycle timeout, keeping the
// other phase timers.
func WithTotalTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeouts.Total = d }
}

// WithRetry replaces the retry configuration.
func WithRetry(cfg RetryConfig) Option {
	return func(s *settings) { s.retry = cfg }
}

// WithRetryDisabled turns automatic retries off.
func WithRetryDisabled() Option {
	return func(s *settings) { s.retry = NoRetryConfig() }
}

// WithCalculateDelay installs a delay strategy consulted before every
// retry. The strategy receives the retry state including the computed
// default delay; returning zero or a negative duration vetoes the retry
// and the error propagates instead.
//
// Example - cap every retry wait at one second:
//
//	fetch.WithCalculateDelay(func(st fetch.RetryState) time.Duration {
//	    return min(st.ComputedDelay, time.Second)
//	})
func WithCalculateDelay(fn DelayStrategy) Option {
	return func(s *settings) { s.calculateDelay = fn }
}

// WithFollowRedirect enables or disables redirect following.
// Default: enabled with a maximum of 10 hops.
func WithFollowRedirect(follow bool) Option {
	return func(s *settings) { s.followRedirect = follow }
}

// WithMaxRedirects sets the redirect hop limit.
func WithMaxRedirects(n int) Option {
	return func(s *settings) { s.maxRedirects = n }
}

// WithResponseType sets the representation the buffered body is parsed
// into: ResponseBuffer, ResponseText or ResponseJSON. An unrecognized
// value fails before any network I/O.
func WithResponseType(rt ResponseType) Option {
	return func(s *settings) { s.responseType = rt }
}

// WithThrowHTTPErrors controls whether a non-2xx final response rejects
// the result (default) or resolves normally with the error-status
// response attached.
func WithThrowHTTPErrors(throw bool) Option {
	return func(s *settings) { s.throwHTTPErrors = throw }
}

// WithDecompress controls inline decompression of compressed response
// bodies. Default: enabled.
func WithDecompress(decompress bool) Option {
	return func(s *settings) { s.decompress = decompress }
}

// WithAllowGetBody permits an explicit body on GET and HEAD requests,
// which the normalizer otherwise rejects.
func WithAllowGetBody() Option {
	return func(s *settings) { s.allowGetBody = true }
}

// WithStream switches the call to streaming consumption: the caller
// reads the body directly from Result.Stream and body parsing is
// skipped entirely. Buffered accessors return ErrBodyNotBuffered.
func WithStream() Option {
	return func(s *settings) { s.stream = true }
}

// WithCache enables response caching backed by the given storage
// adapter. Cacheable GET/HEAD responses are served from storage without
// opening a connection; concurrent fills for the same key are coalesced.
func WithCache(storage Storage) Option {
	return func(s *settings) {
		s.storage = storage
		s.cacheEnabled = storage != nil
	}
}

// WithCacheDisabled turns the cache off for this layer while keeping
// the storage adapter configured for others.
func WithCacheDisabled() Option {
	return func(s *settings) { s.cacheEnabled = false }
}

// WithCookieJar installs a cookie jar consulted before send and updated
// after receive. Cookies are not forwarded across hosts on redirect.
func WithCookieJar(jar http.CookieJar) Option {
	return func(s *settings) { s.jar = jar }
}

// WithResolver installs a pluggable DNS resolver, consulted by the
// agent before connecting. Lookup failures propagate as transport
// errors. See NewCacheResolver.
func WithResolver(r Resolver) Option {
	return func(s *settings) { s.resolver = r }
}

// WithRateLimit enables client-level rate limiting on the agent.
func WithRateLimit(cfg RateLimitConfig) Option {
	return func(s *settings) { s.rateLimit = cfg }
}

// WithBreaker wraps the agent in a circuit breaker.
func WithBreaker(cfg BreakerConfig) Option {
	return func(s *settings) { s.breaker = &cfg }
}

// WithBeforeRequestHook appends a hook run before each logical request
// (and before each retry resubmission's BeforeRetry hooks).
func WithBeforeRequestHook(h BeforeRequestHook) Option {
	return func(s *settings) { s.hooks.BeforeRequest = append(s.hooks.BeforeRequest, h) }
}

// WithBeforeRetryHook appends a hook run before each retry attempt.
func WithBeforeRetryHook(h BeforeRetryHook) Option {
	return func(s *settings) { s.hooks.BeforeRetry = append(s.hooks.BeforeRetry, h) }
}

// WithBeforeRedirectHook appends a hook run before each redirect hop.
func WithBeforeRedirectHook(h BeforeRedirectHook) Option {
	return func(s *settings) { s.hooks.BeforeRedirect = append(s.hooks.BeforeRedirect, h) }
}

// WithAfterResponseHook appends a hook run after the response has been
// assembled, before body parsing.
func WithAfterResponseHook(h AfterResponseHook) Option {
	return func(s *settings) { s.hooks.AfterResponse = append(s.hooks.AfterResponse, h) }
}

// WithBeforeErrorHook appends a hook that may transform or replace the
// terminal error before the result rejects.
func WithBeforeErrorHook(h BeforeErrorHook) Option {
	return func(s *settings) { s.hooks.BeforeError = append(s.hooks.BeforeError, h) }
}

// WithOnEvent registers an observer for lifecycle events
// (socket acquired, headers received, data chunks, end, error).
// Events are delivered in order; none are delivered after cancellation.
func WithOnEvent(fn func(Event)) Option {
	return func(s *settings) { s.onEvent = fn }
}

// WithPool replaces the connection pool configuration.
// Honored only when constructing a client.
func WithPool(cfg PoolConfig) Option {
	return func(s *settings) { s.pool = cfg }
}

// WithTLSConfig sets a custom TLS configuration for the agent.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(s *settings) { s.tlsConfig = cfg }
}

// WithProxyURL routes all requests through the given proxy.
func WithProxyURL(proxy *url.URL) Option {
	return func(s *settings) { s.proxyURL = proxy }
}

// WithServiceName identifies this client in traces and metrics as the
// "http.client.name" attribute.
func WithServiceName(name string) Option {
	return func(s *settings) { s.serviceName = name }
}

// WithTracerProvider sets a custom OpenTelemetry TracerProvider.
// If not called, the global provider is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *settings) { s.tracerProvider = tp }
}

// WithMeterProvider sets a custom OpenTelemetry MeterProvider.
// If not called, the global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *settings) { s.meterProvider = mp }
}

// WithDebug enables request/response logging through zerolog.
func WithDebug() Option {
	return func(s *settings) { s.debug = true }
}

// WithGenerateCurl attaches an equivalent cURL command to each
// response for debugging.
func WithGenerateCurl() Option {
	return func(s *settings) { s.generateCurl = true }
}
