package fetch

import (
	"context"
	"net"
	"sync"
	"time"
)

// Resolver resolves hostnames to addresses. It is consulted by the
// agent's dialer; lookup failures surface as lookup-phase transport
// errors.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// systemResolver delegates to the platform resolver.
type systemResolver struct{}

func (systemResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	return net.DefaultResolver.LookupHost(ctx, host)
}

type dnsEntry struct {
	addrs   []string
	expires time.Time
}

// cacheResolver caches successful lookups for a fixed TTL. Negative
// results are not cached.
type cacheResolver struct {
	next Resolver
	ttl  time.Duration

	mu      sync.RWMutex
	entries map[string]dnsEntry
}

// NewCacheResolver wraps next with a TTL cache. A zero TTL defaults to
// one minute.
func NewCacheResolver(next Resolver, ttl time.Duration) Resolver {
	if next == nil {
		next = systemResolver{}
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &cacheResolver{
		next:    next,
		ttl:     ttl,
		entries: make(map[string]dnsEntry),
	}
}

func (r *cacheResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	r.mu.RLock()
	entry, ok := r.entries[host]
	r.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.addrs, nil
	}

	addrs, err := r.next.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.entries[host] = dnsEntry{addrs: addrs, expires: time.Now().Add(r.ttl)}
	r.mu.Unlock()
	return addrs, nil
}

// resolverDialContext builds a DialContext that resolves through the
// given resolver and tries each returned address in order.
func resolverDialContext(r Resolver, dialer *net.Dialer) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		if net.ParseIP(host) != nil {
			return dialer.DialContext(ctx, network, addr)
		}
		addrs, err := r.LookupHost(ctx, host)
		if err != nil {
			return nil, err
		}
		var lastErr error
		for _, a := range addrs {
			conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(a, port))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
		if lastErr == nil {
			lastErr = &net.DNSError{Err: "no addresses", Name: host, IsNotFound: true}
		}
		return nil, lastErr
	}
}
