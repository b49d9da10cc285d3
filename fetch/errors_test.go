package fetch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessages(t *testing.T) {
	info := RequestInfo{Method: "GET", Host: "api.example.com", Path: "/users/42"}

	tests := []struct {
		name string
		err  error
		want string
	}{
		{
			name: "option error",
			err:  &OptionError{RequestInfo: info, Reason: `unknown response type "xml"`},
			want: `fetch: invalid options for GET api.example.com/users/42: unknown response type "xml"`,
		},
		{
			name: "transport error",
			err:  &TransportError{RequestInfo: info, Err: errors.New("connection refused")},
			want: "fetch: GET api.example.com/users/42: connection refused",
		},
		{
			name: "transport timeout",
			err: &TransportError{
				RequestInfo: info,
				Err:         errors.New("lookup phase exceeded 5s"),
				Timeout:     true,
				Phase:       PhaseLookup,
			},
			want: "fetch: GET api.example.com/users/42: lookup timeout: lookup phase exceeded 5s",
		},
		{
			name: "http error",
			err: &HTTPError{
				RequestInfo: info,
				Response:    statusResponse(500, nil),
			},
			want: "fetch: GET api.example.com/users/42 responded with 500 Internal Server Error",
		},
		{
			name: "max redirects error",
			err: &MaxRedirectsError{
				RequestInfo: info,
				Limit:       3,
				Chain:       []string{"a", "b", "c", "d"},
			},
			want: "fetch: GET api.example.com/users/42: redirect count exceeded 3 hops",
		},
		{
			name: "cancel error",
			err:  &CancelError{RequestInfo: info},
			want: "fetch: GET api.example.com/users/42: request canceled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestCancelError_MatchesSentinel(t *testing.T) {
	err := error(&CancelError{RequestInfo: RequestInfo{Method: "GET"}})
	assert.ErrorIs(t, err, ErrCanceled)
	assert.NotErrorIs(t, err, ErrRetryRequested)
}

func TestTransportError_Unwrap(t *testing.T) {
	inner := errors.New("inner")
	err := &TransportError{Err: inner}
	assert.ErrorIs(t, err, inner)
}

func TestRequestInfoOf(t *testing.T) {
	assert.Equal(t, RequestInfo{}, requestInfoOf(nil))

	d := testDescriptor(t, "PUT")
	info := requestInfoOf(d)
	require.Equal(t, "PUT", info.Method)
	assert.Equal(t, "api.example.com", info.Host)
	assert.Equal(t, "/items", info.Path)
}
