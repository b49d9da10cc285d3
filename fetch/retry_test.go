package fetch

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRetryConfig(t *testing.T) {
	cfg := DefaultRetryConfig()

	assert.Equal(t, uint(2), cfg.Limit)
	assert.Equal(t, 500*time.Millisecond, cfg.InitialInterval)
	assert.Equal(t, 30*time.Second, cfg.MaxInterval)
	assert.InDelta(t, 2.0, cfg.Multiplier, 0.001)
	assert.ElementsMatch(t,
		[]string{"GET", "HEAD", "PUT", "DELETE", "OPTIONS", "TRACE"},
		cfg.Methods)
	assert.Contains(t, cfg.StatusCodes, 429)
	assert.Contains(t, cfg.StatusCodes, 503)
	assert.NotContains(t, cfg.StatusCodes, 501)
}

func TestRetryConfig_IsEnabled(t *testing.T) {
	assert.True(t, DefaultRetryConfig().IsEnabled())
	assert.False(t, NoRetryConfig().IsEnabled())
	assert.True(t, RetryConfig{Limit: 1}.IsEnabled())
}

func testDescriptor(t *testing.T, method string, opts ...Option) *Descriptor {
	t.Helper()
	d, err := normalize(method, "https://api.example.com/items", newSettings(opts...))
	require.NoError(t, err)
	return d
}

func fastRetryConfig(limit uint) RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.Limit = limit
	cfg.InitialInterval = time.Millisecond
	cfg.MaxInterval = 2 * time.Millisecond
	return cfg
}

func statusResponse(code int, header http.Header) *Response {
	if header == nil {
		header = make(http.Header)
	}
	u, _ := url.Parse("https://api.example.com/items")
	return &Response{
		StatusCode: code,
		Status:     fmt.Sprintf("%d %s", code, http.StatusText(code)),
		Header:     header,
		URL:        u,
	}
}

func TestDecideRetry_StatusTriggers(t *testing.T) {
	tests := []struct {
		name   string
		method string
		status int
		want   bool
	}{
		{"given GET 503, then retries", "GET", 503, true},
		{"given GET 429, then retries", "GET", 429, true},
		{"given GET 521, then retries", "GET", 521, true},
		{"given GET 404, then does not retry", "GET", 404, false},
		{"given GET 501, then does not retry", "GET", 501, false},
		{"given POST 503, then does not retry", "POST", 503, false},
		{"given DELETE 503, then retries", "DELETE", 503, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDescriptor(t, tt.method, WithRetry(fastRetryConfig(2)))
			st := newRetryState(d.Retry)

			_, ok := decideRetry(d, statusResponse(tt.status, nil), nil, st)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestDecideRetry_LimitExhaustion(t *testing.T) {
	d := testDescriptor(t, "GET", WithRetry(fastRetryConfig(2)))
	st := newRetryState(d.Retry)

	_, ok := decideRetry(d, statusResponse(503, nil), nil, st)
	require.True(t, ok)
	st.record(nil)

	_, ok = decideRetry(d, statusResponse(503, nil), nil, st)
	require.True(t, ok)
	st.record(nil)

	_, ok = decideRetry(d, statusResponse(503, nil), nil, st)
	assert.False(t, ok, "third retry exceeds limit of 2")
}

func TestDecideRetry_DisabledConfig(t *testing.T) {
	d := testDescriptor(t, "GET", WithRetryDisabled())
	st := newRetryState(d.Retry)

	_, ok := decideRetry(d, statusResponse(503, nil), nil, st)
	assert.False(t, ok)
}

func TestDecideRetry_TransportErrors(t *testing.T) {
	tests := []struct {
		name   string
		method string
		cause  error
		want   bool
	}{
		{
			name:   "given connection refused on POST, then retries",
			method: "POST",
			cause:  &TransportError{Err: errors.New("dial tcp: connection refused")},
			want:   true,
		},
		{
			name:   "given phase timeout, then retries",
			method: "GET",
			cause:  &TransportError{Err: errors.New("response phase exceeded 1s"), Timeout: true, Phase: PhaseResponse},
			want:   true,
		},
		{
			name:   "given cancellation, then does not retry",
			method: "GET",
			cause:  &CancelError{},
			want:   false,
		},
		{
			name:   "given certificate failure, then does not retry",
			method: "GET",
			cause:  &TransportError{Err: errors.New("x509: certificate signed by unknown authority")},
			want:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDescriptor(t, tt.method, WithRetry(fastRetryConfig(2)))
			st := newRetryState(d.Retry)

			_, ok := decideRetry(d, nil, tt.cause, st)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestDecideRetry_HookRequested(t *testing.T) {
	d := testDescriptor(t, "POST", WithRetry(fastRetryConfig(2)))
	st := newRetryState(d.Retry)

	// Hook-requested retries bypass the method allowlist.
	_, ok := decideRetry(d, statusResponse(401, nil), ErrRetryRequested, st)
	assert.True(t, ok)
}

func TestDecideRetry_StreamingBodyVetoes(t *testing.T) {
	d := testDescriptor(t, "POST",
		WithRetry(fastRetryConfig(2)),
		WithBodyReader(strings.NewReader("one-shot"), "text/plain"),
	)
	st := newRetryState(d.Retry)

	_, ok := decideRetry(d, nil, &TransportError{Err: errors.New("connection reset")}, st)
	assert.False(t, ok, "a consumed stream cannot be replayed")
}

func TestDecideRetry_RetryAfter(t *testing.T) {
	t.Run("given Retry-After above computed delay, then floors the wait", func(t *testing.T) {
		cfg := fastRetryConfig(2)
		cfg.MaxRetryAfter = time.Minute
		d := testDescriptor(t, "GET", WithRetry(cfg))
		st := newRetryState(d.Retry)

		h := make(http.Header)
		h.Set("Retry-After", "2")
		delay, ok := decideRetry(d, statusResponse(429, h), nil, st)
		require.True(t, ok)
		assert.GreaterOrEqual(t, delay, 2*time.Second)
	})

	t.Run("given Retry-After past MaxRetryAfter, then vetoes the retry", func(t *testing.T) {
		cfg := fastRetryConfig(2)
		cfg.MaxRetryAfter = time.Second
		d := testDescriptor(t, "GET", WithRetry(cfg))
		st := newRetryState(d.Retry)

		h := make(http.Header)
		h.Set("Retry-After", "30")
		_, ok := decideRetry(d, statusResponse(503, h), nil, st)
		assert.False(t, ok)
	})
}

func TestDecideRetry_MaxElapsedTime(t *testing.T) {
	cfg := fastRetryConfig(5)
	cfg.MaxElapsedTime = time.Nanosecond
	d := testDescriptor(t, "GET", WithRetry(cfg))
	st := newRetryState(d.Retry)
	st.started = time.Now().Add(-time.Second)

	_, ok := decideRetry(d, statusResponse(503, nil), nil, st)
	assert.False(t, ok)
}

func TestDecideRetry_DelayStrategy(t *testing.T) {
	t.Run("given strategy override, then its delay wins", func(t *testing.T) {
		d := testDescriptor(t, "GET",
			WithRetry(fastRetryConfig(2)),
			WithCalculateDelay(func(st RetryState) time.Duration {
				assert.Equal(t, 1, st.Attempt)
				return 42 * time.Millisecond
			}),
		)
		st := newRetryState(d.Retry)

		delay, ok := decideRetry(d, statusResponse(503, nil), nil, st)
		require.True(t, ok)
		assert.Equal(t, 42*time.Millisecond, delay)
	})

	t.Run("given strategy returns zero, then retry is vetoed", func(t *testing.T) {
		d := testDescriptor(t, "GET",
			WithRetry(fastRetryConfig(2)),
			WithCalculateDelay(func(RetryState) time.Duration { return 0 }),
		)
		st := newRetryState(d.Retry)

		_, ok := decideRetry(d, statusResponse(503, nil), nil, st)
		assert.False(t, ok)
	})
}
