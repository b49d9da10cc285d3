package fetch

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"regexp"
	"sync"
)

// MockTransport is a configurable http.RoundTripper for tests. Stubs
// match in registration order; the first match wins. A stub registered
// with StubSequence answers each call with the next entry, repeating
// the last one once the sequence is exhausted. Every request passing
// through is recorded for later assertions.
type MockTransport struct {
	mu          sync.Mutex
	stubs       []*mockStub
	defaultResp *mockReply
	requests    []*http.Request
	requestHook func(*http.Request)
}

type mockReply struct {
	status int
	header http.Header
	body   string
	err    error
}

type mockStub struct {
	matcher func(*http.Request) bool
	replies []mockReply
	served  int
}

// NewMockTransport creates an empty MockTransport.
func NewMockTransport() *MockTransport {
	return &MockTransport{}
}

// StubResponse makes every unmatched request return the given response.
func (m *MockTransport) StubResponse(statusCode int, body string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResp = &mockReply{status: statusCode, body: body, header: make(http.Header)}
	return m
}

// StubError makes every unmatched request fail with err.
func (m *MockTransport) StubError(err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultResp = &mockReply{err: err}
	return m
}

// StubPath answers requests for an exact URL path.
func (m *MockTransport) StubPath(path string, statusCode int, body string) *MockTransport {
	return m.StubFunc(func(req *http.Request) bool {
		return req.URL.Path == path
	}, statusCode, body)
}

// StubPathRegex answers requests whose path matches the pattern.
func (m *MockTransport) StubPathRegex(pattern string, statusCode int, body string) *MockTransport {
	re := regexp.MustCompile(pattern)
	return m.StubFunc(func(req *http.Request) bool {
		return re.MatchString(req.URL.Path)
	}, statusCode, body)
}

// StubMethod answers requests with the given method.
func (m *MockTransport) StubMethod(method string, statusCode int, body string) *MockTransport {
	return m.StubFunc(func(req *http.Request) bool {
		return req.Method == method
	}, statusCode, body)
}

// StubFunc answers requests matching the predicate.
func (m *MockTransport) StubFunc(matcher func(*http.Request) bool, statusCode int, body string) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, &mockStub{
		matcher: matcher,
		replies: []mockReply{{status: statusCode, body: body, header: make(http.Header)}},
	})
	return m
}

// StubFuncError fails requests matching the predicate with err.
func (m *MockTransport) StubFuncError(matcher func(*http.Request) bool, err error) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stubs = append(m.stubs, &mockStub{
		matcher: matcher,
		replies: []mockReply{{err: err}},
	})
	return m
}

// StubSequence answers matching requests with each reply in turn. The
// replies alternate (status, body) pairs built via Reply and ReplyErr.
func (m *MockTransport) StubSequence(matcher func(*http.Request) bool, replies ...MockReply) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs := make([]mockReply, len(replies))
	for i, r := range replies {
		rs[i] = mockReply(r)
	}
	m.stubs = append(m.stubs, &mockStub{matcher: matcher, replies: rs})
	return m
}

// MockReply is a single scripted answer for StubSequence.
type MockReply mockReply

// Reply builds a scripted response.
func Reply(statusCode int, body string) MockReply {
	return MockReply{status: statusCode, body: body, header: make(http.Header)}
}

// ReplyWithHeader builds a scripted response carrying one header.
func ReplyWithHeader(statusCode int, body, headerKey, headerValue string) MockReply {
	h := make(http.Header)
	h.Set(headerKey, headerValue)
	return MockReply{status: statusCode, body: body, header: h}
}

// ReplyErr builds a scripted transport failure.
func ReplyErr(err error) MockReply {
	return MockReply{err: err}
}

// OnRequest installs a hook called for each request, useful for
// capturing request details.
func (m *MockTransport) OnRequest(fn func(*http.Request)) *MockTransport {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestHook = fn
	return m
}

// RoundTrip implements http.RoundTripper.
func (m *MockTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	hook := m.requestHook

	var reply *mockReply
	for _, s := range m.stubs {
		if s.matcher(req) {
			idx := s.served
			if idx >= len(s.replies) {
				idx = len(s.replies) - 1
			}
			s.served++
			r := s.replies[idx]
			reply = &r
			break
		}
	}
	if reply == nil {
		reply = m.defaultResp
	}
	m.mu.Unlock()

	if hook != nil {
		hook(req)
	}

	if reply == nil {
		return nil, errors.New("no stub found for request: " + req.Method + " " + req.URL.String())
	}
	if reply.err != nil {
		return nil, reply.err
	}

	header := reply.header
	if header == nil {
		header = make(http.Header)
	}
	return &http.Response{
		StatusCode:    reply.status,
		Status:        http.StatusText(reply.status),
		Header:        header.Clone(),
		Body:          io.NopCloser(bytes.NewBufferString(reply.body)),
		ContentLength: int64(len(reply.body)),
		Request:       req,
	}, nil
}

// Requests returns a copy of all recorded requests.
func (m *MockTransport) Requests() []*http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*http.Request{}, m.requests...)
}

// RequestCount returns the number of recorded requests.
func (m *MockTransport) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// LastRequest returns the most recent request, or nil if none.
func (m *MockTransport) LastRequest() *http.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// Reset clears all recorded requests and stubs.
func (m *MockTransport) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.stubs = nil
	m.defaultResp = nil
	m.requestHook = nil
}
