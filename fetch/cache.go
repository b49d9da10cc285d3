package fetch

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// Storage is the backing store for the response cache. Implementations
// must be safe for concurrent use. See NewMemoryStorage and
// NewRedisStorage.
type Storage interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// defaultCacheTTL applies when a cacheable response carries no max-age.
const defaultCacheTTL = 5 * time.Minute

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// memoryStorage is an in-process Storage with per-entry expiry.
type memoryStorage struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

// NewMemoryStorage returns an in-memory Storage. Expired entries are
// dropped lazily on read.
func NewMemoryStorage() Storage {
	return &memoryStorage{entries: make(map[string]memoryEntry)}
}

func (m *memoryStorage) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !entry.expires.IsZero() && time.Now().After(entry.expires) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return nil, false, nil
	}
	return entry.value, true, nil
}

func (m *memoryStorage) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expires = time.Now().Add(ttl)
	}
	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

func (m *memoryStorage) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// cacheKey identifies a cache entry by method and full URL.
func cacheKey(method string, u *url.URL) string {
	return method + " " + u.String()
}

// cacheable reports whether the request/response pair may be stored.
// Only safe methods with 200/203/300/301/404/410 statuses qualify, and
// Cache-Control: no-store on the response opts out.
func cacheable(d *Descriptor, resp *Response) bool {
	if d.Method != http.MethodGet && d.Method != http.MethodHead {
		return false
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusNonAuthoritativeInfo, http.StatusMultipleChoices,
		http.StatusMovedPermanently, http.StatusNotFound, http.StatusGone:
	default:
		return false
	}
	return !strings.Contains(strings.ToLower(resp.Header.Get("Cache-Control")), "no-store")
}

// cacheTTL derives the entry lifetime from Cache-Control max-age,
// falling back to the default TTL.
func cacheTTL(resp *Response) time.Duration {
	cc := resp.Header.Get("Cache-Control")
	for _, directive := range strings.Split(cc, ",") {
		directive = strings.TrimSpace(strings.ToLower(directive))
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
				return time.Duration(secs) * time.Second
			}
		}
	}
	return defaultCacheTTL
}

// responseSnapshot is the wire form of a cached response.
type responseSnapshot struct {
	StatusCode int         `json:"statusCode"`
	Status     string      `json:"status"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	URL        string      `json:"url"`
	StoredAt   time.Time   `json:"storedAt"`
}

func snapshotResponse(resp *Response) ([]byte, error) {
	snap := responseSnapshot{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       resp.body,
		URL:        resp.URL.String(),
		StoredAt:   time.Now(),
	}
	return json.Marshal(snap)
}

func restoreResponse(d *Descriptor, data []byte) (*Response, error) {
	var snap responseSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	u, err := url.Parse(snap.URL)
	if err != nil {
		u = d.URL
	}
	return &Response{
		StatusCode: snap.StatusCode,
		Status:     snap.Status,
		Header:     snap.Header,
		URL:        u,
		FromCache:  true,
		body:       snap.Body,
		descriptor: d,
	}, nil
}
