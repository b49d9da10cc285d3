package fetch

import (
	"io"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"
)

// Response is the assembled answer to one logical request: final
// status, headers, buffered (or streaming) body, timing measurements
// and the retry/redirect history that produced it.
//
// In buffered mode the body has been fully read and the accessors
// below parse the cached bytes; calling several accessors reuses the
// same buffer and never re-invokes the network. In streaming mode the
// caller owns the body reader and the buffered accessors return
// ErrBodyNotBuffered.
type Response struct {
	// StatusCode is the final HTTP status code.
	StatusCode int

	// Status is the full status line, e.g. "200 OK".
	Status string

	// Header holds the response headers. When the body was
	// decompressed inline, Content-Encoding and Content-Length no
	// longer describe the bytes and are removed.
	Header http.Header

	// URL is the final resolved URL after redirects.
	URL *url.URL

	// RedirectChain lists the URLs visited while following redirects,
	// in order.
	RedirectChain []string

	// RetryCount is the number of resubmissions that preceded this
	// response.
	RetryCount int

	// FromCache reports whether the response was served from the
	// storage adapter without a network round trip.
	FromCache bool

	// Timings holds per-phase timing measurements for the final
	// attempt. Nil for cache hits.
	Timings *Timings

	body      []byte
	stream    io.ReadCloser
	streaming bool

	parsed    any
	parsedSet bool

	curlCommand string
	descriptor  *Descriptor
}

// Bytes returns the buffered body unchanged.
func (r *Response) Bytes() ([]byte, error) {
	if r.streaming {
		return nil, ErrBodyNotBuffered
	}
	return r.body, nil
}

// Text returns the buffered body decoded as text.
func (r *Response) Text() (string, error) {
	if r.streaming {
		return "", ErrBodyNotBuffered
	}
	return string(r.body), nil
}

// JSON decodes the buffered body into v. An empty body is not a decode
// failure; v is left untouched.
func (r *Response) JSON(v any) error {
	if r.streaming {
		return ErrBodyNotBuffered
	}
	if len(r.body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.body, v); err != nil {
		return &ParseError{
			RequestInfo: r.descriptor.info(),
			Err:         err,
			Text:        string(r.body),
			Response:    r,
		}
	}
	return nil
}

// Parsed returns the body representation selected by the request's
// response type: []byte, string, or the decoded JSON value. For a
// non-2xx response with an unparsable body this is the raw text.
func (r *Response) Parsed() (any, error) {
	if r.streaming {
		return nil, ErrBodyNotBuffered
	}
	if r.parsedSet {
		return r.parsed, nil
	}
	return string(r.body), nil
}

// Stream returns the body reader in streaming mode. The caller must
// close it. Returns nil when the call buffered the body.
func (r *Response) Stream() io.ReadCloser {
	return r.stream
}

// discardBody releases an open streaming body. Called before a request
// is resubmitted so a redirect hop or retry never leaks the prior
// response's connection.
func (r *Response) discardBody() {
	if r.stream != nil {
		r.stream.Close()
		r.stream = nil
	}
}

// IsSuccess reports a 2xx status.
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError reports a 4xx or 5xx status.
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// CurlCommand returns the cURL equivalent of the request that produced
// this response. Only populated with WithGenerateCurl.
func (r *Response) CurlCommand() string { return r.curlCommand }

// Descriptor returns the descriptor of the final attempt.
func (r *Response) Descriptor() *Descriptor { return r.descriptor }

// reasonPhrase extracts the textual reason from the status line,
// falling back to the registry text for the code.
func (r *Response) reasonPhrase() string {
	if i := strings.IndexByte(r.Status, ' '); i >= 0 {
		return r.Status[i+1:]
	}
	if text := http.StatusText(r.StatusCode); text != "" {
		return text
	}
	return r.Status
}
