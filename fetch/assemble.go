package fetch

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
)

// assemble converts an http.Response into a Response, applying inline
// decompression, emitting data/end lifecycle events, and either
// buffering the body or handing back a live stream. In streaming mode
// the caller's cancel is deferred to the stream's Close.
func assemble(d *Descriptor, hr *http.Response, sink *eventSink, cancel context.CancelCauseFunc, timers *phaseTimers) (*Response, error) {
	resp := &Response{
		StatusCode:    hr.StatusCode,
		Status:        hr.Status,
		Header:        hr.Header.Clone(),
		URL:           d.URL,
		RedirectChain: append([]string(nil), d.RedirectChain...),
		descriptor:    d,
	}

	body := io.Reader(hr.Body)
	if d.Decompress {
		decoded, wrapped, err := decodeBody(hr)
		if err != nil {
			hr.Body.Close()
			cancel(nil)
			return nil, &TransportError{RequestInfo: d.info(), Err: err}
		}
		if wrapped {
			resp.Header.Del("Content-Encoding")
			resp.Header.Del("Content-Length")
		}
		body = decoded
	}

	body = &eventReader{
		r:       body,
		sink:    sink,
		attempt: d.Attempt,
		timers:  timers,
		idle:    d.Timeouts.Idle,
	}

	if d.Stream {
		resp.streaming = true
		if d.Timeouts.Idle > 0 {
			timers.arm(PhaseIdle, d.Timeouts.Idle)
		}
		resp.stream = &streamBody{
			r:      body,
			closer: hr.Body,
			done: func() {
				timers.disarm()
				cancel(nil)
			},
		}
		return resp, nil
	}

	if d.Timeouts.Idle > 0 {
		timers.arm(PhaseIdle, d.Timeouts.Idle)
	}
	data, err := io.ReadAll(body)
	timers.disarm()
	hr.Body.Close()
	cancel(nil)
	if err != nil {
		var pt *phaseTimeoutError
		if errors.As(err, &pt) {
			return nil, &TransportError{RequestInfo: d.info(), Err: err, Timeout: true, Phase: pt.phase}
		}
		return nil, &TransportError{RequestInfo: d.info(), Err: err}
	}
	resp.body = data
	return resp, nil
}

// decodeBody wraps the response body with the decoder named by
// Content-Encoding. Unknown encodings pass through untouched.
func decodeBody(hr *http.Response) (io.Reader, bool, error) {
	switch strings.ToLower(strings.TrimSpace(hr.Header.Get("Content-Encoding"))) {
	case "gzip":
		gr, err := gzip.NewReader(hr.Body)
		if err != nil {
			return nil, false, err
		}
		return gr, true, nil
	case "deflate":
		return flate.NewReader(hr.Body), true, nil
	default:
		return hr.Body, false, nil
	}
}

// eventReader reports body progress on the lifecycle sink and resets
// the idle timer on every successful read.
type eventReader struct {
	r       io.Reader
	sink    *eventSink
	attempt int
	timers  *phaseTimers
	idle    time.Duration
	total   int
	ended   bool
}

func (er *eventReader) Read(p []byte) (int, error) {
	n, err := er.r.Read(p)
	if n > 0 {
		er.total += n
		er.sink.emit(Event{Kind: EventData, Attempt: er.attempt, Bytes: n})
		if er.idle > 0 {
			er.timers.arm(PhaseIdle, er.idle)
		}
	}
	if err == io.EOF && !er.ended {
		er.ended = true
		er.sink.emit(Event{Kind: EventEnd, Attempt: er.attempt, Bytes: er.total})
	}
	return n, err
}

// streamBody exposes a streaming response body; Close releases the
// underlying connection and the attempt context.
type streamBody struct {
	r      io.Reader
	closer io.Closer
	done   func()
	closed bool
}

func (sb *streamBody) Read(p []byte) (int, error) { return sb.r.Read(p) }

func (sb *streamBody) Close() error {
	if sb.closed {
		return nil
	}
	sb.closed = true
	err := sb.closer.Close()
	if sb.done != nil {
		sb.done()
	}
	return err
}
