package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// clientMetrics holds the metric instruments for the client.
type clientMetrics struct {
	service string

	// requestDuration measures the total per-attempt duration in
	// seconds, with buckets per OTel semconv for HTTP latencies.
	requestDuration metric.Float64Histogram

	// requestErrors counts transport failures by error type.
	requestErrors metric.Int64Counter

	// retryAttempts counts retries issued by the coordinator.
	retryAttempts metric.Int64Counter

	// retryExhausted counts requests that used up their retry budget.
	retryExhausted metric.Int64Counter

	// activeRequests tracks in-flight requests.
	activeRequests metric.Int64UpDownCounter

	// breakerRequests counts breaker outcomes (success/failure/rejected).
	breakerRequests metric.Int64Counter

	// breakerState records state transitions of the circuit breaker.
	breakerState metric.Int64Counter

	// cacheLookups counts cache hits and misses.
	cacheLookups metric.Int64Counter
}

func newClientMetrics(meter metric.Meter, service string) (*clientMetrics, error) {
	m := &clientMetrics{service: service}
	var err error

	m.requestDuration, err = meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("Duration of HTTP client requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(
			0.005, 0.01, 0.025, 0.05, 0.075, 0.1, 0.25, 0.5, 0.75, 1, 2.5, 5, 7.5, 10,
		),
	)
	if err != nil {
		return nil, err
	}

	m.requestErrors, err = meter.Int64Counter(
		"http.client.request.error",
		metric.WithDescription("Number of HTTP client request errors"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	m.retryAttempts, err = meter.Int64Counter(
		"http.client.retry.attempts",
		metric.WithDescription("Number of HTTP client retry attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, err
	}

	m.retryExhausted, err = meter.Int64Counter(
		"http.client.retry.exhausted",
		metric.WithDescription("Number of requests that exhausted all retries"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.activeRequests, err = meter.Int64UpDownCounter(
		"http.client.active_requests",
		metric.WithDescription("Number of active HTTP client requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.breakerRequests, err = meter.Int64Counter(
		"http.client.breaker.requests",
		metric.WithDescription("Circuit breaker request outcomes"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.breakerState, err = meter.Int64Counter(
		"http.client.breaker.state_changes",
		metric.WithDescription("Circuit breaker state transitions"),
		metric.WithUnit("{change}"),
	)
	if err != nil {
		return nil, err
	}

	m.cacheLookups, err = meter.Int64Counter(
		"http.client.cache.lookups",
		metric.WithDescription("Response cache lookups by outcome"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *clientMetrics) baseAttributes() []attribute.KeyValue {
	if m == nil || m.service == "" {
		return nil
	}
	return []attribute.KeyValue{attribute.String("service.name", m.service)}
}

func (m *clientMetrics) recordRequestDuration(ctx context.Context, d time.Duration, attrs []attribute.KeyValue) {
	if m == nil || m.requestDuration == nil {
		return
	}
	m.requestDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

func (m *clientMetrics) recordError(ctx context.Context, errorType string, attrs []attribute.KeyValue) {
	if m == nil || m.requestErrors == nil {
		return
	}
	all := append(append([]attribute.KeyValue(nil), attrs...),
		attribute.String("error.type", errorType))
	m.requestErrors.Add(ctx, 1, metric.WithAttributes(all...))
}

func (m *clientMetrics) recordRetryAttempt(ctx context.Context, attempt int) {
	if m == nil || m.retryAttempts == nil {
		return
	}
	all := append(m.baseAttributes(), attribute.Int("retry.attempt", attempt))
	m.retryAttempts.Add(ctx, 1, metric.WithAttributes(all...))
}

func (m *clientMetrics) recordRetryExhausted(ctx context.Context) {
	if m == nil || m.retryExhausted == nil {
		return
	}
	m.retryExhausted.Add(ctx, 1, metric.WithAttributes(m.baseAttributes()...))
}

func (m *clientMetrics) recordActiveStart(ctx context.Context) {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Add(ctx, 1, metric.WithAttributes(m.baseAttributes()...))
}

func (m *clientMetrics) recordActiveEnd(ctx context.Context) {
	if m == nil || m.activeRequests == nil {
		return
	}
	m.activeRequests.Add(ctx, -1, metric.WithAttributes(m.baseAttributes()...))
}

func (m *clientMetrics) recordBreakerRequest(ctx context.Context, name, outcome string) {
	if m == nil || m.breakerRequests == nil {
		return
	}
	m.breakerRequests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("breaker.name", name),
		attribute.String("breaker.outcome", outcome),
	))
}

func (m *clientMetrics) recordBreakerState(name string, state int64) {
	if m == nil || m.breakerState == nil {
		return
	}
	m.breakerState.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("breaker.name", name),
		attribute.Int64("breaker.state", state),
	))
}

func (m *clientMetrics) recordCacheLookup(ctx context.Context, outcome string) {
	if m == nil || m.cacheLookups == nil {
		return
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("cache.outcome", outcome),
	))
}

// Compile-time interface check.
var _ http.RoundTripper = (*otelTransport)(nil)

// otelTransport wraps an http.RoundTripper with OpenTelemetry
// instrumentation: one client span per attempt, trace context
// propagation, and duration/error metrics.
type otelTransport struct {
	base       http.RoundTripper
	tracer     trace.Tracer
	metrics    *clientMetrics
	propagator propagation.TextMapPropagator
}

func newOtelTransport(base http.RoundTripper, tracer trace.Tracer, metrics *clientMetrics) *otelTransport {
	return &otelTransport{
		base:    base,
		tracer:  tracer,
		metrics: metrics,
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}
}

// RoundTrip implements http.RoundTripper.
func (t *otelTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	ctx := req.Context()

	ctx, span := t.tracer.Start(ctx, "HTTP "+req.Method,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(requestAttributes(t.metrics.baseAttributes(), req)...),
	)
	defer span.End()

	t.propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	t.metrics.recordActiveStart(ctx)
	defer t.metrics.recordActiveEnd(ctx)

	req = req.WithContext(ctx)
	resp, err := t.base.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		t.metrics.recordError(ctx, errorType(err), t.metrics.baseAttributes())
		t.metrics.recordRequestDuration(ctx, duration, t.metrics.baseAttributes())
		return nil, err
	}

	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	attrs := append(requestAttributes(t.metrics.baseAttributes(), req),
		attribute.Int("http.response.status_code", resp.StatusCode))
	t.metrics.recordRequestDuration(ctx, duration, attrs)
	return resp, nil
}

func requestAttributes(base []attribute.KeyValue, req *http.Request) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(base)+5)
	attrs = append(attrs, base...)
	attrs = append(attrs, attribute.String("http.request.method", req.Method))
	if req.URL != nil {
		attrs = append(attrs, attribute.String("url.full", req.URL.String()))
		if host := req.URL.Hostname(); host != "" {
			attrs = append(attrs, attribute.String("server.address", host))
		}
		if port := req.URL.Port(); port != "" {
			if p, err := strconv.Atoi(port); err == nil {
				attrs = append(attrs, attribute.Int("server.port", p))
			}
		}
	}
	return attrs
}

// errorType gives a coarse label for the error metric.
func errorType(err error) string {
	var te *TransportError
	switch {
	case errors.As(err, &te) && te.Timeout:
		return "timeout"
	case errors.As(err, &te):
		return "transport"
	default:
		return "other"
	}
}
