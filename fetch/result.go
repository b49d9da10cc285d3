package fetch

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
)

// ResultState tracks the lifecycle of an in-flight request.
type ResultState int32

const (
	// StatePending means the request is still executing.
	StatePending ResultState = iota
	// StateFulfilled means the request settled with a response.
	StateFulfilled
	// StateRejected means the request settled with an error.
	StateRejected
	// StateCanceled means Cancel won the race against settlement.
	StateCanceled
)

func (s ResultState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateFulfilled:
		return "fulfilled"
	case StateRejected:
		return "rejected"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Result is the handle returned by Client.Do. It settles exactly once:
// with a response, with an error, or as canceled. All accessors block
// until settlement.
//
// Example:
//
//	res := client.Get(ctx, "https://api.example.com/things")
//	var things []Thing
//	if err := res.JSON(&things); err != nil {
//	    return err
//	}
type Result struct {
	state  atomic.Int32
	done   chan struct{}
	cancel context.CancelCauseFunc

	once sync.Once
	resp *Response
	err  error
}

func newResult(cancel context.CancelCauseFunc) *Result {
	return &Result{done: make(chan struct{}), cancel: cancel}
}

// fulfill settles the result with a response. It is a no-op if the
// result already settled.
func (r *Result) fulfill(resp *Response) {
	r.once.Do(func() {
		r.resp = resp
		r.state.Store(int32(StateFulfilled))
		close(r.done)
	})
}

// reject settles the result with an error. A CancelError settles the
// result as canceled rather than rejected.
func (r *Result) reject(err error) {
	r.once.Do(func() {
		r.err = err
		var ce *CancelError
		if errors.As(err, &ce) {
			r.state.Store(int32(StateCanceled))
		} else {
			r.state.Store(int32(StateRejected))
		}
		close(r.done)
	})
}

// Cancel aborts the in-flight request. Cancellation takes priority over
// any concurrent failure: once Cancel wins the race the result reports
// StateCanceled and ErrCanceled regardless of how the transport failed.
// Canceling a settled result is a no-op.
func (r *Result) Cancel() {
	r.once.Do(func() {
		r.err = ErrCanceled
		r.state.Store(int32(StateCanceled))
		r.cancel(ErrCanceled)
		close(r.done)
	})
}

// State reports the current lifecycle state without blocking.
func (r *Result) State() ResultState {
	return ResultState(r.state.Load())
}

// Done returns a channel closed when the result settles.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the result settles or ctx expires.
func (r *Result) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Response blocks until settlement and returns the response, if any.
// In canceled state it returns ErrCanceled even when a response raced
// in before the cancel.
func (r *Result) Response() (*Response, error) {
	<-r.done
	if r.State() == StateCanceled {
		return nil, r.err
	}
	return r.resp, r.err
}

// Bytes blocks until settlement and returns the raw body. Repeated
// accessor calls share the single buffered body; no second fetch is
// performed.
func (r *Result) Bytes() ([]byte, error) {
	resp, err := r.Response()
	if err != nil {
		return nil, err
	}
	return resp.Bytes()
}

// Text blocks until settlement and returns the body as a string.
func (r *Result) Text() (string, error) {
	resp, err := r.Response()
	if err != nil {
		return "", err
	}
	return resp.Text()
}

// JSON blocks until settlement and unmarshals the body into v.
func (r *Result) JSON(v any) error {
	resp, err := r.Response()
	if err != nil {
		return err
	}
	return resp.JSON(v)
}

// Stream blocks until settlement and returns the live body stream.
// Only valid for requests executed with WithStream.
func (r *Result) Stream() (io.ReadCloser, error) {
	resp, err := r.Response()
	if err != nil {
		return nil, err
	}
	return resp.Stream(), nil
}
