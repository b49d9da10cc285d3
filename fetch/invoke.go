package fetch

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"
)

// phaseTimeoutError is the cancellation cause installed when a phase
// timer expires. It is translated into a timeout-classified
// TransportError when the attempt unwinds.
type phaseTimeoutError struct {
	phase TimeoutPhase
	limit time.Duration
}

func (e *phaseTimeoutError) Error() string {
	return string(e.phase) + " phase exceeded " + e.limit.String()
}

func (e *phaseTimeoutError) Timeout() bool { return true }

// phaseTimers drives the per-phase timeout clocks of one attempt.
// At most one phase timer is armed at a time; an expiry cancels the
// attempt context with a phase-tagged cause.
type phaseTimers struct {
	cancel   context.CancelCauseFunc
	timeouts Timeouts

	mu     sync.Mutex
	active *time.Timer
}

func (p *phaseTimers) arm(phase TimeoutPhase, limit time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		p.active.Stop()
		p.active = nil
	}
	if limit <= 0 {
		return
	}
	p.active = time.AfterFunc(limit, func() {
		p.cancel(&phaseTimeoutError{phase: phase, limit: limit})
	})
}

func (p *phaseTimers) disarm() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.active != nil {
		p.active.Stop()
		p.active = nil
	}
}

// attemptTracer records phase boundaries for the Timings measurement.
type attemptTracer struct {
	start     time.Time
	dnsStart  time.Time
	dnsDone   time.Time
	connStart time.Time
	connDone  time.Time
	tlsStart  time.Time
	tlsDone   time.Time
	wrote     time.Time
	firstByte time.Time
}

func (t *attemptTracer) timings() *Timings {
	out := &Timings{}
	if !t.dnsStart.IsZero() && !t.dnsDone.IsZero() {
		out.DNSLookup = t.dnsDone.Sub(t.dnsStart)
	}
	if !t.connStart.IsZero() && !t.connDone.IsZero() {
		out.Connect = t.connDone.Sub(t.connStart)
	}
	if !t.tlsStart.IsZero() && !t.tlsDone.IsZero() {
		out.TLSHandshake = t.tlsDone.Sub(t.tlsStart)
	}
	if !t.wrote.IsZero() && !t.firstByte.IsZero() {
		out.Wait = t.firstByte.Sub(t.wrote)
	}
	if !t.start.IsZero() && !t.firstByte.IsZero() {
		out.Total = t.firstByte.Sub(t.start)
	}
	return out
}

// clientTrace wires the tracer, the phase timers and the lifecycle
// sink into one httptrace.ClientTrace.
func clientTrace(tracer *attemptTracer, timers *phaseTimers, sink *eventSink, attempt int) *httptrace.ClientTrace {
	to := timers.timeouts
	return &httptrace.ClientTrace{
		DNSStart: func(_ httptrace.DNSStartInfo) {
			tracer.dnsStart = time.Now()
			timers.arm(PhaseLookup, to.Lookup)
		},
		DNSDone: func(_ httptrace.DNSDoneInfo) {
			tracer.dnsDone = time.Now()
			timers.arm(PhaseConnect, to.Connect)
		},
		ConnectStart: func(_, _ string) {
			if tracer.connStart.IsZero() {
				tracer.connStart = time.Now()
			}
			timers.arm(PhaseConnect, to.Connect)
		},
		ConnectDone: func(_, _ string, _ error) {
			tracer.connDone = time.Now()
		},
		TLSHandshakeStart: func() {
			tracer.tlsStart = time.Now()
			timers.arm(PhaseTLS, to.SecureConnect)
		},
		TLSHandshakeDone: func(_ tls.ConnectionState, _ error) {
			tracer.tlsDone = time.Now()
		},
		GotConn: func(info httptrace.GotConnInfo) {
			sink.emit(Event{Kind: EventSocket, Attempt: attempt, Reused: info.Reused})
			timers.arm(PhaseSend, to.Send)
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) {
			tracer.wrote = time.Now()
			timers.arm(PhaseResponse, to.Response)
		},
		GotFirstResponseByte: func() {
			tracer.firstByte = time.Now()
			timers.disarm()
		},
	}
}

// invoke opens exactly one underlying request for the descriptor and
// produces either an assembled Response or a classified transport
// failure. It never resolves more than once per invocation.
func (c *Client) invoke(ctx context.Context, d *Descriptor, sink *eventSink) (*Response, error) {
	actx, cancel := context.WithCancelCause(ctx)

	timers := &phaseTimers{cancel: cancel, timeouts: d.Timeouts}
	tracer := &attemptTracer{start: time.Now()}
	actx = httptrace.WithClientTrace(actx, clientTrace(tracer, timers, sink, d.Attempt))

	req, err := http.NewRequestWithContext(actx, d.Method, d.URL.String(), d.bodyReaderFor())
	if err != nil {
		cancel(nil)
		return nil, &OptionError{RequestInfo: d.info(), Reason: err.Error()}
	}
	req.Header = d.Header.Clone()
	if d.Body != nil {
		body := d.Body
		req.ContentLength = int64(len(body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	if c.jar != nil {
		for _, ck := range c.jar.Cookies(d.URL) {
			req.AddCookie(ck)
		}
	}

	if c.debug {
		logRequest(debugLogger, req, d.Attempt)
	}

	// The connect timer covers pooled-connection acquisition too: the
	// httptrace callbacks only fire on a fresh dial.
	timers.arm(PhaseConnect, d.Timeouts.Connect)

	start := time.Now()
	hr, err := c.agent.RoundTrip(req)
	if err != nil {
		timers.disarm()
		cancel(nil)
		terr := c.classifyTransportFailure(actx, d, err)
		sink.emit(Event{Kind: EventError, Attempt: d.Attempt, Err: terr})
		return nil, terr
	}
	timers.disarm()

	if c.debug {
		logResponse(debugLogger, hr, time.Since(start))
	}

	sink.emit(Event{Kind: EventHeaders, Attempt: d.Attempt})

	if c.jar != nil {
		if cookies := hr.Cookies(); len(cookies) > 0 {
			c.jar.SetCookies(req.URL, cookies)
		}
	}

	resp, err := assemble(d, hr, sink, cancel, timers)
	if err != nil {
		sink.emit(Event{Kind: EventError, Attempt: d.Attempt, Err: err})
		return nil, err
	}
	resp.Timings = tracer.timings()
	if c.generateCurl {
		resp.curlCommand = generateCurlCommand(req, d.Body)
	}
	return resp, nil
}

// classifyTransportFailure turns a RoundTrip error into the typed
// taxonomy: phase timeouts, total-deadline expiry, cancellation, or a
// plain transport error.
func (c *Client) classifyTransportFailure(actx context.Context, d *Descriptor, err error) error {
	var pt *phaseTimeoutError
	if cause := context.Cause(actx); cause != nil && errors.As(cause, &pt) {
		return &TransportError{RequestInfo: d.info(), Err: cause, Timeout: true, Phase: pt.phase}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{RequestInfo: d.info(), Err: err, Timeout: true, Phase: PhaseTotal}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCanceled) {
		return &CancelError{RequestInfo: d.info()}
	}
	return &TransportError{RequestInfo: d.info(), Err: err}
}
