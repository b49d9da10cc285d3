package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bufferedResponse(t *testing.T, body string, opts ...Option) (*Descriptor, *Response) {
	t.Helper()
	d := testDescriptor(t, "GET", opts...)
	resp := statusResponse(200, nil)
	resp.body = []byte(body)
	resp.descriptor = d
	return d, resp
}

func TestParseBody(t *testing.T) {
	tests := []struct {
		name         string
		responseType ResponseType
		body         string
		want         any
	}{
		{
			name:         "given text type, then returns string",
			responseType: ResponseText,
			body:         "hello",
			want:         "hello",
		},
		{
			name:         "given buffer type, then returns raw bytes",
			responseType: ResponseBuffer,
			body:         "raw",
			want:         []byte("raw"),
		},
		{
			name:         "given json type with object, then returns decoded map",
			responseType: ResponseJSON,
			body:         `{"data":"dog"}`,
			want:         map[string]any{"data": "dog"},
		},
		{
			name:         "given json type with array, then returns decoded slice",
			responseType: ResponseJSON,
			body:         `[1,2]`,
			want:         []any{float64(1), float64(2)},
		},
		{
			name:         "given json type with empty body, then returns empty string",
			responseType: ResponseJSON,
			body:         "",
			want:         "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, resp := bufferedResponse(t, tt.body, WithResponseType(tt.responseType))

			got, err := parseBody(d, resp)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseBody_MalformedJSON(t *testing.T) {
	d, resp := bufferedResponse(t, "<html>oops</html>", WithResponseType(ResponseJSON))

	_, err := parseBody(d, resp)
	require.Error(t, err)

	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "<html>oops</html>", perr.Text)
	assert.Equal(t, 200, perr.Response.StatusCode)
	assert.Contains(t, perr.Error(), "status 200")
}

func TestParseBody_UnknownTypeFromHook(t *testing.T) {
	d, resp := bufferedResponse(t, "x")
	d.ResponseType = "yaml"

	_, err := parseBody(d, resp)
	require.Error(t, err)
	var oerr *OptionError
	assert.ErrorAs(t, err, &oerr)
}
