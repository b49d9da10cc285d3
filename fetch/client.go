package fetch

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const tracerName = "github.com/lodestar-labs/fetch-go"

// Client executes logical requests: it normalizes options into a
// descriptor, drives the attempt loop with retries and redirects, and
// settles a Result per call. A Client is safe for concurrent use.
//
// Create a Client with New:
//
//	client := fetch.New(
//	    fetch.WithBaseURL("https://api.example.com"),
//	    fetch.WithServiceName("payment-service"),
//	)
//
//	var out map[string]any
//	if err := client.Get(ctx, "/payments/42").JSON(&out); err != nil {
//	    return err
//	}
type Client struct {
	settings *settings

	// agent is the transport chain: rate limit -> breaker -> otel -> base.
	agent http.RoundTripper

	jar          http.CookieJar
	storage      Storage
	metrics      *clientMetrics
	tracer       trace.Tracer
	debug        bool
	generateCurl bool

	// group coalesces concurrent identical cacheable GETs into one
	// network fetch.
	group singleflight.Group
}

// New creates a Client with production-ready defaults: per-phase
// timeouts, connection pooling, retry with exponential backoff,
// redirect following, and OpenTelemetry instrumentation.
//
// Example with retry tuning:
//
//	client := fetch.New(
//	    fetch.WithBaseURL("https://api.example.com"),
//	    fetch.WithRetry(fetch.RetryConfig{Limit: 4}),
//	)
func New(opts ...Option) *Client {
	s := newSettings(opts...)
	return newClient(s, buildBaseTransport(s))
}

// NewWithTransport creates a Client on top of a caller-supplied base
// transport. The rate limit, breaker and instrumentation layers still
// wrap it; pool and TLS options are ignored since the base transport
// owns them.
//
// Use this with MockTransport in tests:
//
//	mock := fetch.NewMockTransport().StubResponse(200, `{"data":"dog"}`)
//	client := fetch.NewWithTransport(mock)
func NewWithTransport(base http.RoundTripper, opts ...Option) *Client {
	s := newSettings(opts...)
	return newClient(s, base)
}

func newClient(s *settings, base http.RoundTripper) *Client {
	tp := s.tracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	mp := s.meterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	tracer := tp.Tracer(tracerName)

	metrics, err := newClientMetrics(mp.Meter(tracerName), s.serviceName)
	if err != nil {
		// Instrument registration only fails on malformed names; run
		// uninstrumented rather than refuse to construct.
		metrics = nil
	}

	return &Client{
		settings:     s,
		agent:        buildAgent(base, s, metrics, tracer),
		jar:          s.jar,
		storage:      s.storage,
		metrics:      metrics,
		tracer:       tracer,
		debug:        s.debug,
		generateCurl: s.generateCurl,
	}
}

// Extend derives a new Client that layers the given options on top of
// this client's settings. The transport chain is shared; the cookie jar
// and cache storage are inherited unless the options replace them.
// Everything else is copied, so neither client can mutate the other.
//
//	api := fetch.New(fetch.WithBaseURL("https://api.example.com"))
//	admin := api.Extend(fetch.WithHeader("X-Admin", "1"))
func (c *Client) Extend(opts ...Option) *Client {
	s := c.settings.apply(opts...)
	return &Client{
		settings:     s,
		agent:        c.agent,
		jar:          s.jar,
		storage:      s.storage,
		metrics:      c.metrics,
		tracer:       c.tracer,
		debug:        s.debug,
		generateCurl: s.generateCurl,
	}
}

// Do starts a logical request and returns its Result immediately. The
// request runs in the background; every Result accessor blocks until
// it settles. Per-call options layer on top of the client's settings.
func (c *Client) Do(ctx context.Context, method, url string, opts ...Option) *Result {
	s := c.settings.apply(opts...)

	rctx, cancel := context.WithCancelCause(ctx)
	result := newResult(cancel)

	go c.run(rctx, cancel, s, method, url, result)

	return result
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, url string, opts ...Option) *Result {
	return c.Do(ctx, http.MethodGet, url, opts...)
}

// Head issues a HEAD request.
func (c *Client) Head(ctx context.Context, url string, opts ...Option) *Result {
	return c.Do(ctx, http.MethodHead, url, opts...)
}

// Post issues a POST request.
func (c *Client) Post(ctx context.Context, url string, opts ...Option) *Result {
	return c.Do(ctx, http.MethodPost, url, opts...)
}

// Put issues a PUT request.
func (c *Client) Put(ctx context.Context, url string, opts ...Option) *Result {
	return c.Do(ctx, http.MethodPut, url, opts...)
}

// Patch issues a PATCH request.
func (c *Client) Patch(ctx context.Context, url string, opts ...Option) *Result {
	return c.Do(ctx, http.MethodPatch, url, opts...)
}

// Delete issues a DELETE request.
func (c *Client) Delete(ctx context.Context, url string, opts ...Option) *Result {
	return c.Do(ctx, http.MethodDelete, url, opts...)
}

// run drives one logical request to settlement. It owns the request
// context: for buffered requests it is released on return; for
// streaming requests it stays alive until the caller closes the
// stream, with the total timer still covering the transfer.
func (c *Client) run(ctx context.Context, cancel context.CancelCauseFunc, s *settings, method, url string, result *Result) {
	sink := newEventSink(s.onEvent)
	c.metrics.recordActiveStart(ctx)
	defer c.metrics.recordActiveEnd(ctx)

	if s.timeouts.Total > 0 {
		limit := s.timeouts.Total
		time.AfterFunc(limit, func() {
			cancel(&phaseTimeoutError{phase: PhaseTotal, limit: limit})
		})
	}

	streaming := false
	defer func() {
		if !streaming {
			cancel(nil)
		}
	}()

	finishErr := func(d *Descriptor, err error) {
		if cancelWon(ctx) {
			sink.stop()
			result.Cancel()
			return
		}
		if d != nil {
			err = d.Hooks.runBeforeError(ctx, err)
		}
		result.reject(err)
	}

	d, err := normalize(method, url, s)
	if err != nil {
		finishErr(nil, err)
		return
	}

	d, err = d.Hooks.runBeforeRequest(ctx, d)
	if err != nil {
		finishErr(d, err)
		return
	}

	resp, err := c.dispatch(ctx, d, sink)
	if err != nil {
		finishErr(d, err)
		return
	}
	if cancelWon(ctx) {
		sink.stop()
		result.Cancel()
		return
	}

	if d.Stream {
		if resp.stream != nil {
			inner := resp.stream
			resp.stream = &streamBody{r: inner, closer: inner, done: func() { cancel(nil) }}
		}
		streaming = true
		result.fulfill(resp)
		return
	}

	parsed, perr := parseBody(d, resp)
	if perr == nil {
		resp.parsed = parsed
		resp.parsedSet = true
	}

	ok := resp.IsSuccess() || resp.StatusCode == http.StatusNotModified
	if d.ThrowHTTPErrors && !ok {
		finishErr(d, &HTTPError{RequestInfo: d.info(), Response: resp})
		return
	}
	if perr != nil {
		finishErr(d, perr)
		return
	}
	result.fulfill(resp)
}

// cancelWon reports whether the result's Cancel caused the context to
// end. Cancellation outranks any error produced by the same race.
func cancelWon(ctx context.Context) bool {
	return errors.Is(context.Cause(ctx), ErrCanceled)
}

// dispatch routes through the response cache when enabled, coalescing
// concurrent identical fetches, and falls through to the attempt loop.
func (c *Client) dispatch(ctx context.Context, d *Descriptor, sink *eventSink) (*Response, error) {
	if !d.CacheEnabled || c.storage == nil || d.Stream ||
		(d.Method != http.MethodGet && d.Method != http.MethodHead) {
		return c.execute(ctx, d, sink)
	}

	key := cacheKey(d.Method, d.URL)
	if data, found, err := c.storage.Get(ctx, key); err == nil && found {
		if resp, rerr := restoreResponse(d, data); rerr == nil {
			c.metrics.recordCacheLookup(ctx, "hit")
			return c.afterResponseOnly(ctx, d, resp)
		}
	}
	c.metrics.recordCacheLookup(ctx, "miss")

	v, err, shared := c.group.Do(key, func() (any, error) {
		resp, err := c.execute(ctx, d, sink)
		if err != nil {
			return nil, err
		}
		if cacheable(d, resp) {
			if data, serr := snapshotResponse(resp); serr == nil {
				// Best effort: a failing store never fails the request.
				_ = c.storage.Set(ctx, key, data, cacheTTL(resp))
			}
		}
		return resp, nil
	})
	if err != nil {
		return nil, err
	}
	resp := v.(*Response)
	if shared {
		// Followers get their own copy so accessor state is not shared.
		if data, serr := snapshotResponse(resp); serr == nil {
			if copied, rerr := restoreResponse(d, data); rerr == nil {
				return c.afterResponseOnly(ctx, d, copied)
			}
		}
	}
	return resp, nil
}

// afterResponseOnly runs the AfterResponse hooks for responses that
// skipped the attempt loop (cache hits and coalesced followers).
// ErrRetryRequested makes no sense without an attempt loop and is
// treated as terminal there.
func (c *Client) afterResponseOnly(ctx context.Context, d *Descriptor, resp *Response) (*Response, error) {
	return d.Hooks.runAfterResponse(ctx, resp)
}

// execute is the attempt loop: invoke, follow redirects, coordinate
// retries, run response hooks.
func (c *Client) execute(ctx context.Context, d *Descriptor, sink *eventSink) (*Response, error) {
	st := newRetryState(d.Retry)

	for {
		resp, err := c.invoke(ctx, d, sink)

		if err == nil && d.FollowRedirect && isRedirectStatus(resp.StatusCode) {
			next, rerr := nextRedirect(d, resp)
			if rerr != nil {
				resp.discardBody()
				return nil, rerr
			}
			next, rerr = next.Hooks.runBeforeRedirect(ctx, next, resp)
			if rerr != nil {
				resp.discardBody()
				return nil, rerr
			}
			resp.discardBody()
			d = next
			continue
		}

		if err == nil {
			resp.RetryCount = st.attempts

			// Status-triggered retries are decided on the raw response.
			if delay, ok := decideRetry(d, resp, nil, st); ok {
				resp.discardBody()
				next, werr := c.waitRetry(ctx, d, st, delay, nil)
				if werr != nil {
					return nil, werr
				}
				d = next
				continue
			}

			hooked, herr := d.Hooks.runAfterResponse(ctx, resp)
			if herr != nil {
				if errors.Is(herr, ErrRetryRequested) {
					if delay, ok := decideRetry(d, resp, herr, st); ok {
						resp.discardBody()
						next, werr := c.waitRetry(ctx, d, st, delay, herr)
						if werr != nil {
							return nil, werr
						}
						d = next
						continue
					}
				}
				return nil, herr
			}
			return hooked, nil
		}

		if delay, ok := decideRetry(d, nil, err, st); ok {
			next, werr := c.waitRetry(ctx, d, st, delay, err)
			if werr != nil {
				return nil, werr
			}
			d = next
			continue
		}
		if st.attempts > 0 {
			c.metrics.recordRetryExhausted(ctx)
		}
		return nil, err
	}
}

// waitRetry sleeps the computed delay (abandoning on context end),
// records the resubmission, and runs the BeforeRetry hooks. It returns
// the descriptor for the upcoming attempt, which a hook may have
// replaced.
func (c *Client) waitRetry(ctx context.Context, d *Descriptor, st *retryState, delay time.Duration, cause error) (*Descriptor, error) {
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, c.classifyTransportFailure(ctx, d, context.Cause(ctx))
		}
	}

	st.record(cause)
	c.metrics.recordRetryAttempt(ctx, st.attempts)

	next, err := d.Hooks.runBeforeRetry(ctx, d, cause, st.attempts)
	if err != nil {
		return nil, err
	}
	return next.nextAttempt(), nil
}
