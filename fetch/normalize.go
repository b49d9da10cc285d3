package fetch

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	json "github.com/goccy/go-json"
)

// Descriptor is the fully resolved, immutable parameter set for one
// logical request. The normalizer creates exactly one per call; retry
// and redirect cycles derive new descriptors through clone/derive and
// never mutate an existing one.
type Descriptor struct {
	// Method is the upper-cased HTTP method.
	Method string

	// URL is the absolute request URL, query string included.
	URL *url.URL

	// Header holds the outgoing headers. Keys are canonicalized and
	// unique; values merged per key across option layers.
	Header http.Header

	// Body is the buffered request body, nil when the request has none.
	Body []byte

	// BodyStream is a streaming request body. A streaming body cannot
	// be replayed, so status-triggered retries are disabled for it.
	BodyStream io.Reader

	// Timeouts are the per-phase timers for each attempt.
	Timeouts Timeouts

	// Retry is the retry policy for this lineage.
	Retry RetryConfig

	// CalculateDelay optionally overrides the computed retry delay.
	CalculateDelay DelayStrategy

	// FollowRedirect enables 3xx following, bounded by MaxRedirects.
	FollowRedirect bool

	// MaxRedirects bounds the redirect chain length.
	MaxRedirects int

	// ResponseType selects the parsed body representation.
	ResponseType ResponseType

	// ThrowHTTPErrors rejects non-2xx final responses when set.
	ThrowHTTPErrors bool

	// Decompress enables inline decompression of compressed bodies.
	Decompress bool

	// Stream selects streaming consumption instead of buffering.
	Stream bool

	// CacheEnabled consults the storage adapter before dialing.
	CacheEnabled bool

	// Attempt counts resubmissions of this lineage, starting at 0.
	Attempt int

	// RedirectChain lists the URLs visited while following redirects.
	RedirectChain []string

	// Hooks travel with the descriptor so a hook can replace them
	// along with everything else.
	Hooks Hooks
}

// clone returns a copy with its own header and chain backing arrays.
func (d *Descriptor) clone() *Descriptor {
	out := *d
	out.Header = d.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}
	out.RedirectChain = append([]string(nil), d.RedirectChain...)
	out.Hooks = d.Hooks.clone()
	if d.URL != nil {
		u := *d.URL
		out.URL = &u
	}
	return &out
}

// nextAttempt derives the descriptor for a retry resubmission.
func (d *Descriptor) nextAttempt() *Descriptor {
	out := d.clone()
	out.Attempt++
	return out
}

// info returns the public-safe request identity.
func (d *Descriptor) info() RequestInfo { return requestInfoOf(d) }

// =============================================================================
// Request Body
// =============================================================================

// bodySpec captures the caller-supplied body before normalization.
type bodySpec struct {
	data        []byte
	reader      io.Reader
	contentType string
	isJSON      bool
	encodeErr   error
}

// WithBody sets the request body with automatic content type detection.
//
// Encoding rules:
//   - string: raw text (Content-Type: text/plain)
//   - []byte: raw bytes (Content-Type: application/octet-stream)
//   - io.Reader: streaming passthrough
//   - url.Values: form encoded (Content-Type: application/x-www-form-urlencoded)
//   - anything else: JSON (Content-Type: application/json)
func WithBody(v any) Option {
	return func(s *settings) {
		if v == nil {
			return
		}
		switch body := v.(type) {
		case string:
			s.body = &bodySpec{data: []byte(body), contentType: "text/plain; charset=utf-8"}
		case []byte:
			s.body = &bodySpec{data: body, contentType: "application/octet-stream"}
		case io.Reader:
			s.body = &bodySpec{reader: body}
		case url.Values:
			s.body = &bodySpec{data: []byte(body.Encode()), contentType: "application/x-www-form-urlencoded"}
		default:
			WithJSON(v)(s)
		}
	}
}

// WithJSON encodes the body as JSON and marks the request as a JSON
// exchange: content-type and accept are both set to application/json
// unless the caller overrode them.
func WithJSON(v any) Option {
	return func(s *settings) {
		data, err := json.Marshal(v)
		if err != nil {
			s.body = &bodySpec{encodeErr: err}
			return
		}
		s.body = &bodySpec{data: data, contentType: "application/json", isJSON: true}
	}
}

// WithText sets a plain text body.
func WithText(text string) Option {
	return func(s *settings) {
		s.body = &bodySpec{data: []byte(text), contentType: "text/plain; charset=utf-8"}
	}
}

// WithForm sets a form-encoded body.
func WithForm(form map[string]string) Option {
	return func(s *settings) {
		values := make(url.Values, len(form))
		for k, v := range form {
			values.Set(k, v)
		}
		s.body = &bodySpec{data: []byte(values.Encode()), contentType: "application/x-www-form-urlencoded"}
	}
}

// WithBodyReader sets a streaming request body. The stream is consumed
// by the first attempt, so status-triggered retries are disabled.
func WithBodyReader(r io.Reader, contentType string) Option {
	return func(s *settings) {
		s.body = &bodySpec{reader: r, contentType: contentType}
	}
}

// =============================================================================
// Normalization
// =============================================================================

// methodForbidsBody lists methods that reject an explicit body unless
// WithAllowGetBody is set.
func methodForbidsBody(method string) bool {
	return method == http.MethodGet || method == http.MethodHead
}

// normalize merges the option layers into one immutable descriptor.
// It validates everything that can be validated locally so that no
// configuration problem survives to the network phase.
func normalize(method, rawURL string, s *settings) (*Descriptor, error) {
	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	u, err := resolveURL(s.baseURL, rawURL)
	if err != nil {
		return nil, &OptionError{
			RequestInfo: RequestInfo{Method: method},
			Reason:      err.Error(),
		}
	}

	info := RequestInfo{Method: method, Host: u.Hostname(), Path: u.Path}

	if u.Hostname() == "" {
		return nil, &OptionError{RequestInfo: info, Reason: "no hostname resolved from " + quoteURL(rawURL)}
	}

	// Response type is checked before any network I/O.
	if !s.responseType.valid() {
		return nil, &OptionError{
			RequestInfo: info,
			Reason:      fmt.Sprintf("unknown response type %q", string(s.responseType)),
		}
	}

	// Merge explicit search params into the URL query.
	if len(s.searchParams) > 0 {
		q := u.Query()
		for k, vs := range s.searchParams {
			q[k] = append([]string(nil), vs...)
		}
		u.RawQuery = q.Encode()
	}

	d := &Descriptor{
		Method:          method,
		URL:             u,
		Header:          s.header.Clone(),
		Timeouts:        s.timeouts,
		Retry:           s.retry,
		CalculateDelay:  s.calculateDelay,
		FollowRedirect:  s.followRedirect,
		MaxRedirects:    s.maxRedirects,
		ResponseType:    s.responseType,
		ThrowHTTPErrors: s.throwHTTPErrors,
		Decompress:      s.decompress,
		Stream:          s.stream,
		CacheEnabled:    s.cacheEnabled,
		Hooks:           s.hooks.clone(),
	}
	if d.Header == nil {
		d.Header = make(http.Header)
	}
	if d.MaxRedirects < 0 {
		d.MaxRedirects = 0
	}

	if err := applyBody(d, s, info); err != nil {
		return nil, err
	}

	if d.Header.Get("User-Agent") == "" {
		d.Header.Set("User-Agent", s.userAgent)
	}
	if d.Decompress && d.Header.Get("Accept-Encoding") == "" {
		d.Header.Set("Accept-Encoding", "gzip, deflate")
	}

	return d, nil
}

// applyBody validates and attaches the request body.
func applyBody(d *Descriptor, s *settings, info RequestInfo) error {
	b := s.body
	if b == nil {
		return nil
	}
	if b.encodeErr != nil {
		return &OptionError{RequestInfo: info, Reason: "cannot encode request body: " + b.encodeErr.Error()}
	}
	if methodForbidsBody(d.Method) && !s.allowGetBody {
		return &OptionError{
			RequestInfo: info,
			Reason:      d.Method + " request has a body; use WithAllowGetBody to force it",
		}
	}

	if b.reader != nil {
		d.BodyStream = b.reader
	} else {
		d.Body = b.data
	}
	if b.contentType != "" && d.Header.Get("Content-Type") == "" {
		d.Header.Set("Content-Type", b.contentType)
	}
	if b.isJSON && d.Header.Get("Accept") == "" {
		d.Header.Set("Accept", "application/json")
	}
	return nil
}

// resolveURL resolves a per-call path against the prefix URL.
func resolveURL(base, raw string) (*url.URL, error) {
	if base == "" {
		return url.Parse(raw)
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.IsAbs() {
		return u, nil
	}

	joined := strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(raw, "/")
	out, err := url.Parse(joined)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// quoteURL quotes a possibly empty URL for error messages.
func quoteURL(raw string) string {
	if raw == "" {
		return `""`
	}
	return `"` + raw + `"`
}

// bodyReaderFor returns a fresh reader over the buffered body for each
// attempt, or the one-shot stream on the first attempt only.
func (d *Descriptor) bodyReaderFor() io.Reader {
	if d.Body != nil {
		return bytes.NewReader(d.Body)
	}
	return d.BodyStream
}

// hasReplayableBody reports whether the body can be re-sent on retry.
func (d *Descriptor) hasReplayableBody() bool {
	return d.BodyStream == nil
}
