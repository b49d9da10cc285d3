package fetch

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestNewClientMetrics(t *testing.T) {
	mp := sdkmetric.NewMeterProvider()
	defer mp.Shutdown(context.Background())

	m, err := newClientMetrics(mp.Meter("test"), "payment-service")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.NotNil(t, m.requestDuration)
	assert.NotNil(t, m.requestErrors)
	assert.NotNil(t, m.retryAttempts)
	assert.NotNil(t, m.retryExhausted)
	assert.NotNil(t, m.activeRequests)
	assert.NotNil(t, m.breakerRequests)
	assert.NotNil(t, m.breakerState)
	assert.NotNil(t, m.cacheLookups)
}

func TestClientMetrics_NilSafe(t *testing.T) {
	var m *clientMetrics
	ctx := context.Background()

	m.recordRequestDuration(ctx, time.Second, nil)
	m.recordError(ctx, "timeout", nil)
	m.recordRetryAttempt(ctx, 1)
	m.recordRetryExhausted(ctx)
	m.recordActiveStart(ctx)
	m.recordActiveEnd(ctx)
	m.recordBreakerRequest(ctx, "svc", "success")
	m.recordBreakerState("svc", 1)
	m.recordCacheLookup(ctx, "hit")
	assert.Nil(t, m.baseAttributes())
}

func TestClientMetrics_Record(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer mp.Shutdown(context.Background())

	m, err := newClientMetrics(mp.Meter("test"), "payment-service")
	require.NoError(t, err)

	ctx := context.Background()
	m.recordRequestDuration(ctx, 100*time.Millisecond, m.baseAttributes())
	m.recordRetryAttempt(ctx, 1)
	m.recordCacheLookup(ctx, "miss")

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.NotEmpty(t, rm.ScopeMetrics)

	names := make(map[string]bool)
	for _, sm := range rm.ScopeMetrics {
		for _, inst := range sm.Metrics {
			names[inst.Name] = true
		}
	}
	assert.True(t, names["http.client.request.duration"])
	assert.True(t, names["http.client.retry.attempts"])
	assert.True(t, names["http.client.cache.lookups"])
}

func TestOtelTransport_SpansAndPropagation(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	defer tp.Shutdown(context.Background())

	mock := NewMockTransport().StubResponse(200, "ok")
	client := NewWithTransport(mock,
		WithRetryDisabled(),
		WithTracerProvider(tp),
		WithServiceName("payment-service"),
	)

	_, err := client.Get(context.Background(), "https://api.example.com/payments").Response()
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.NotEmpty(t, spans)
	assert.Equal(t, "HTTP GET", spans[0].Name)
	assert.Equal(t, trace.SpanKindClient, spans[0].SpanKind)

	last := mock.LastRequest()
	require.NotNil(t, last)
	assert.NotEmpty(t, last.Header.Get("Traceparent"), "trace context must propagate")
}

func TestErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			"given phase timeout, then timeout",
			&TransportError{Err: errors.New("deadline"), Timeout: true, Phase: PhaseConnect},
			"timeout",
		},
		{
			"given plain transport error, then transport",
			&TransportError{Err: errors.New("connection refused")},
			"transport",
		},
		{"given unrelated error, then other", errors.New("boom"), "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, errorType(tt.err))
		})
	}
}
