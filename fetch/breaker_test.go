package fetch

import (
	"context"
	"errors"
	"net/http"
	"syscall"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultBreakerClassifier(t *testing.T) {
	tests := []struct {
		name string
		resp *http.Response
		err  error
		want bool
	}{
		{"given 200, then not a failure", &http.Response{StatusCode: 200}, nil, false},
		{"given 429, then not a failure", &http.Response{StatusCode: 429}, nil, false},
		{"given 500, then failure", &http.Response{StatusCode: 500}, nil, true},
		{"given 503, then failure", &http.Response{StatusCode: 503}, nil, true},
		{"given connection refused, then failure", nil, syscall.ECONNREFUSED, true},
		{"given application error, then not a failure", nil, errors.New("bad payload"), false},
		{"given no response and no error, then not a failure", nil, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultBreakerClassifier(tt.resp, tt.err))
		})
	}
}

func TestBreakerTransport_NilConfigPassesThrough(t *testing.T) {
	mock := NewMockTransport()
	assert.Same(t, http.RoundTripper(mock), newBreakerTransport(mock, nil, "svc", nil))
}

func TestBreakerTransport_OpensAfterConsecutiveFailures(t *testing.T) {
	mock := NewMockTransport().StubError(syscall.ECONNREFUSED)
	cfg := BreakerConfig{
		MaxRequests:         1,
		Timeout:             time.Minute,
		ConsecutiveFailures: 3,
		Classifier:          DefaultBreakerClassifier,
	}
	rt := newBreakerTransport(mock, &cfg, "svc", nil)

	req, err := http.NewRequest(http.MethodGet, "https://api.example.com", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, rerr := rt.RoundTrip(req)
		require.ErrorIs(t, rerr, syscall.ECONNREFUSED)
	}

	_, err = rt.RoundTrip(req)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 3, mock.RequestCount(), "an open circuit rejects without dialing")
}

func TestBreakerTransport_ServerErrorCountsButPassesThrough(t *testing.T) {
	mock := NewMockTransport().StubResponse(500, "boom")
	cfg := DefaultBreakerConfig()
	rt := newBreakerTransport(mock, &cfg, "svc", nil)

	req, err := http.NewRequest(http.MethodGet, "https://api.example.com", nil)
	require.NoError(t, err)

	resp, err := rt.RoundTrip(req)
	require.NoError(t, err, "a 500 trips counters but is still delivered")
	require.NotNil(t, resp)
	assert.Equal(t, 500, resp.StatusCode)
	resp.Body.Close()
}

func TestBreakerTransport_StateChangeCallback(t *testing.T) {
	mock := NewMockTransport().StubError(syscall.ECONNRESET)
	var transitions []gobreaker.State
	cfg := BreakerConfig{
		Timeout:             time.Minute,
		ConsecutiveFailures: 2,
		OnStateChange: func(_ string, _, to gobreaker.State) {
			transitions = append(transitions, to)
		},
	}
	rt := newBreakerTransport(mock, &cfg, "svc", nil)

	req, err := http.NewRequest(http.MethodGet, "https://api.example.com", nil)
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		rt.RoundTrip(req)
	}

	require.NotEmpty(t, transitions)
	assert.Equal(t, gobreaker.StateOpen, transitions[len(transitions)-1])
}

func TestClient_BreakerRejectsWhenOpen(t *testing.T) {
	mock := NewMockTransport().StubError(syscall.ECONNREFUSED)
	client := NewWithTransport(mock,
		WithRetryDisabled(),
		WithBreaker(BreakerConfig{
			Timeout:             time.Minute,
			ConsecutiveFailures: 2,
		}),
	)

	for i := 0; i < 2; i++ {
		_, err := client.Get(context.Background(), "https://api.example.com").Response()
		require.Error(t, err)
	}

	_, err := client.Get(context.Background(), "https://api.example.com").Response()
	require.Error(t, err)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, mock.RequestCount())
}
