package fetch

import (
	"sync/atomic"
	"time"
)

// EventKind identifies a lifecycle signal.
type EventKind int

// Lifecycle signals, delivered in this order for a given invocation:
// socket, headers, zero or more data chunks, then end or error.
const (
	// EventSocket fires when a connection has been acquired.
	EventSocket EventKind = iota + 1

	// EventHeaders fires when the response headers have been received.
	EventHeaders

	// EventData fires for each body chunk read.
	EventData

	// EventEnd fires when the body has been fully consumed.
	EventEnd

	// EventError fires when an attempt fails.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventSocket:
		return "socket"
	case EventHeaders:
		return "headers"
	case EventData:
		return "data"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one lifecycle signal observed by the caller through
// WithOnEvent.
type Event struct {
	// Kind is the signal type.
	Kind EventKind

	// Attempt is the resubmission counter of the emitting invocation.
	Attempt int

	// Bytes is the chunk size for EventData.
	Bytes int

	// Reused reports connection reuse for EventSocket.
	Reused bool

	// Err is the failure for EventError.
	Err error
}

// eventSink fans lifecycle signals out to the registered observer.
// After stop (cancellation) no further signals are delivered.
type eventSink struct {
	fn      func(Event)
	stopped atomic.Bool
}

func newEventSink(fn func(Event)) *eventSink {
	return &eventSink{fn: fn}
}

func (s *eventSink) emit(e Event) {
	if s == nil || s.fn == nil || s.stopped.Load() {
		return
	}
	s.fn(e)
}

func (s *eventSink) stop() {
	if s != nil {
		s.stopped.Store(true)
	}
}

// Timings holds per-phase timing measurements for the final attempt of
// a request.
type Timings struct {
	// DNSLookup is the duration of name resolution. Zero for pooled
	// connections and IP literals.
	DNSLookup time.Duration

	// Connect is the TCP connection establishment time.
	Connect time.Duration

	// TLSHandshake is the TLS handshake time. Zero for plain HTTP.
	TLSHandshake time.Duration

	// Wait is the time from the request being fully written to the
	// first response byte (TTFB).
	Wait time.Duration

	// Total is the attempt duration up to response headers.
	Total time.Duration
}
