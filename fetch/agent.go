package fetch

import (
	"net"
	"net/http"
	"net/url"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// buildBaseTransport constructs the http.Transport from pool, TLS,
// proxy and resolver settings. Per-phase deadlines are enforced by the
// request lifecycle, not here; the transport only carries the pool
// shape and the expect-continue knob.
func buildBaseTransport(s *settings) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   s.timeouts.Connect,
		KeepAlive: s.pool.KeepAlive,
	}

	t := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConns:          s.pool.MaxIdleConns,
		MaxIdleConnsPerHost:   s.pool.MaxIdleConnsPerHost,
		MaxConnsPerHost:       s.pool.MaxConnsPerHost,
		IdleConnTimeout:       s.pool.IdleConnTimeout,
		TLSHandshakeTimeout:   s.timeouts.SecureConnect,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     s.pool.ForceHTTP2,
		// Decompression is handled in the assembly step so the raw
		// Content-Encoding header stays observable when disabled.
		DisableCompression: true,
	}
	if s.tlsConfig != nil {
		t.TLSClientConfig = s.tlsConfig.Clone()
	}
	if s.proxyURL != nil {
		proxy := s.proxyURL
		t.Proxy = func(*http.Request) (*url.URL, error) { return proxy, nil }
	}
	if s.resolver != nil {
		t.DialContext = resolverDialContext(s.resolver, dialer)
	}
	return t
}

// buildAgent assembles the transport chain around base:
//
//	rate limit -> circuit breaker -> otel instrumentation -> base
//
// Layers whose configuration is absent collapse to pass-through.
func buildAgent(base http.RoundTripper, s *settings, metrics *clientMetrics, tracer trace.Tracer) http.RoundTripper {
	agent := newOtelTransport(base, tracer, metrics)
	withBreaker := newBreakerTransport(agent, s.breaker, s.serviceName, metrics)
	return newRateLimitTransport(withBreaker, s.rateLimit)
}
