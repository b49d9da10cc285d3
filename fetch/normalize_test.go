package fetch

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_URLResolution(t *testing.T) {
	tests := []struct {
		name    string
		baseURL string
		rawURL  string
		wantURL string
		wantErr bool
	}{
		{
			name:    "given absolute URL, then used as-is",
			rawURL:  "https://api.example.com/users",
			wantURL: "https://api.example.com/users",
		},
		{
			name:    "given base URL and path, then joined",
			baseURL: "https://api.example.com",
			rawURL:  "/users/42",
			wantURL: "https://api.example.com/users/42",
		},
		{
			name:    "given base URL with trailing slash, then single separator",
			baseURL: "https://api.example.com/",
			rawURL:  "users",
			wantURL: "https://api.example.com/users",
		},
		{
			name:    "given absolute per-call URL, then base is overridden",
			baseURL: "https://api.example.com",
			rawURL:  "https://other.example.org/health",
			wantURL: "https://other.example.org/health",
		},
		{
			name:    "given URL without hostname, then fails before I/O",
			rawURL:  "/relative/only",
			wantErr: true,
		},
		{
			name:    "given empty URL, then fails before I/O",
			rawURL:  "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSettings(WithBaseURL(tt.baseURL))
			d, err := normalize("GET", tt.rawURL, s)

			if tt.wantErr {
				require.Error(t, err)
				var oerr *OptionError
				assert.ErrorAs(t, err, &oerr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantURL, d.URL.String())
		})
	}
}

func TestNormalize_MethodHandling(t *testing.T) {
	s := newSettings()

	d, err := normalize("", "https://api.example.com", s)
	require.NoError(t, err)
	assert.Equal(t, "GET", d.Method)

	d, err = normalize("post", "https://api.example.com", s)
	require.NoError(t, err)
	assert.Equal(t, "POST", d.Method)
}

func TestNormalize_SearchParamsMergedIntoQuery(t *testing.T) {
	s := newSettings(
		WithSearchParam("page", "2"),
		WithSearchParams(map[string]string{"limit": "50"}),
	)

	d, err := normalize("GET", "https://api.example.com/items?sort=asc", s)
	require.NoError(t, err)

	q := d.URL.Query()
	assert.Equal(t, "asc", q.Get("sort"))
	assert.Equal(t, "2", q.Get("page"))
	assert.Equal(t, "50", q.Get("limit"))
}

func TestNormalize_InvalidResponseType(t *testing.T) {
	s := newSettings(WithResponseType("xml"))

	_, err := normalize("GET", "https://api.example.com/users", s)
	require.Error(t, err)

	var oerr *OptionError
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, "api.example.com", oerr.Host)
	assert.Equal(t, "/users", oerr.Path)
	assert.Contains(t, err.Error(), `"xml"`)
}

func TestNormalize_GetBodyRejected(t *testing.T) {
	s := newSettings(WithText("hello"))

	_, err := normalize("GET", "https://api.example.com", s)
	require.Error(t, err)
	var oerr *OptionError
	assert.ErrorAs(t, err, &oerr)

	s = newSettings(WithText("hello"), WithAllowGetBody())
	d, err := normalize("GET", "https://api.example.com", s)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), d.Body)
}

func TestNormalize_DefaultHeaders(t *testing.T) {
	s := newSettings()
	d, err := normalize("GET", "https://api.example.com", s)
	require.NoError(t, err)

	assert.Equal(t, defaultUserAgent, d.Header.Get("User-Agent"))
	assert.Equal(t, "gzip, deflate", d.Header.Get("Accept-Encoding"))

	s = newSettings(WithUserAgent("custom/1.0"), WithDecompress(false))
	d, err = normalize("GET", "https://api.example.com", s)
	require.NoError(t, err)
	assert.Equal(t, "custom/1.0", d.Header.Get("User-Agent"))
	assert.Empty(t, d.Header.Get("Accept-Encoding"))
}

func TestWithBody_ContentTypeDetection(t *testing.T) {
	tests := []struct {
		name            string
		body            any
		wantContentType string
		wantBody        string
	}{
		{
			name:            "given string, then text/plain",
			body:            "raw text",
			wantContentType: "text/plain; charset=utf-8",
			wantBody:        "raw text",
		},
		{
			name:            "given bytes, then octet-stream",
			body:            []byte{0x1, 0x2},
			wantContentType: "application/octet-stream",
			wantBody:        "\x01\x02",
		},
		{
			name:            "given url.Values, then form encoded",
			body:            url.Values{"a": {"1"}, "b": {"2"}},
			wantContentType: "application/x-www-form-urlencoded",
			wantBody:        "a=1&b=2",
		},
		{
			name:            "given struct, then JSON",
			body:            map[string]string{"name": "dog"},
			wantContentType: "application/json",
			wantBody:        `{"name":"dog"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newSettings(WithBody(tt.body))
			d, err := normalize("POST", "https://api.example.com", s)
			require.NoError(t, err)

			assert.Equal(t, tt.wantContentType, d.Header.Get("Content-Type"))
			assert.Equal(t, tt.wantBody, string(d.Body))
		})
	}
}

func TestWithJSON_SetsAcceptHeader(t *testing.T) {
	s := newSettings(WithJSON(map[string]int{"n": 1}))
	d, err := normalize("POST", "https://api.example.com", s)
	require.NoError(t, err)

	assert.Equal(t, "application/json", d.Header.Get("Content-Type"))
	assert.Equal(t, "application/json", d.Header.Get("Accept"))
}

func TestWithJSON_EncodeErrorSurfacesAtNormalize(t *testing.T) {
	s := newSettings(WithJSON(func() {}))

	_, err := normalize("POST", "https://api.example.com", s)
	require.Error(t, err)
	var oerr *OptionError
	require.ErrorAs(t, err, &oerr)
	assert.Contains(t, oerr.Reason, "cannot encode request body")
}

func TestWithBodyReader_DisablesReplay(t *testing.T) {
	s := newSettings(WithBodyReader(strings.NewReader("streamed"), "text/plain"))
	d, err := normalize("POST", "https://api.example.com", s)
	require.NoError(t, err)

	assert.NotNil(t, d.BodyStream)
	assert.False(t, d.hasReplayableBody())
}

func TestDescriptor_CloneIsolation(t *testing.T) {
	s := newSettings(WithHeader("X-A", "1"))
	d, err := normalize("GET", "https://api.example.com/a", s)
	require.NoError(t, err)

	c := d.clone()
	c.Header.Set("X-A", "2")
	c.RedirectChain = append(c.RedirectChain, "https://api.example.com/b")
	c.URL.Path = "/changed"

	assert.Equal(t, "1", d.Header.Get("X-A"))
	assert.Empty(t, d.RedirectChain)
	assert.Equal(t, "/a", d.URL.Path)
}

func TestDescriptor_NextAttempt(t *testing.T) {
	s := newSettings()
	d, err := normalize("GET", "https://api.example.com", s)
	require.NoError(t, err)

	next := d.nextAttempt()
	assert.Equal(t, 0, d.Attempt)
	assert.Equal(t, 1, next.Attempt)
}
