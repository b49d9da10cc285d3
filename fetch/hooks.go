package fetch

import (
	"context"

	"github.com/google/uuid"
)

// BeforeRequestHook runs before a request (or resubmission) is sent.
// It may return a replacement descriptor; returning nil keeps the
// current one. An error aborts the pipeline and becomes terminal.
//
// Common use cases:
//   - Adding authentication headers (Bearer tokens, API keys)
//   - Injecting correlation IDs
//   - Request logging
type BeforeRequestHook func(ctx context.Context, d *Descriptor) (*Descriptor, error)

// BeforeRetryHook runs after a retry has been decided and slept for,
// immediately before the resubmission. It receives the error that
// triggered the retry and the upcoming attempt number (1-based).
type BeforeRetryHook func(ctx context.Context, d *Descriptor, cause error, attempt int) (*Descriptor, error)

// BeforeRedirectHook runs before a redirect hop is followed. The
// descriptor is the already-rewritten one for the target URL; the
// response is the 3xx answer that triggered the hop.
type BeforeRedirectHook func(ctx context.Context, d *Descriptor, resp *Response) (*Descriptor, error)

// AfterResponseHook runs once the response has been assembled, before
// body parsing. It may return a replacement response. Returning an
// error wrapping ErrRetryRequested asks the retry coordinator for
// another attempt; any other error becomes terminal.
type AfterResponseHook func(ctx context.Context, resp *Response) (*Response, error)

// BeforeErrorHook may transform or replace the terminal error before
// the result rejects.
type BeforeErrorHook func(ctx context.Context, err error) error

// Hooks groups the user callbacks per extension point. Hooks at the
// same point run sequentially in registration order; each completes
// before the engine proceeds.
type Hooks struct {
	BeforeRequest  []BeforeRequestHook
	BeforeRetry    []BeforeRetryHook
	BeforeRedirect []BeforeRedirectHook
	AfterResponse  []AfterResponseHook
	BeforeError    []BeforeErrorHook
}

func (h Hooks) clone() Hooks {
	return Hooks{
		BeforeRequest:  append([]BeforeRequestHook(nil), h.BeforeRequest...),
		BeforeRetry:    append([]BeforeRetryHook(nil), h.BeforeRetry...),
		BeforeRedirect: append([]BeforeRedirectHook(nil), h.BeforeRedirect...),
		AfterResponse:  append([]AfterResponseHook(nil), h.AfterResponse...),
		BeforeError:    append([]BeforeErrorHook(nil), h.BeforeError...),
	}
}

func (h Hooks) runBeforeRequest(ctx context.Context, d *Descriptor) (*Descriptor, error) {
	for _, hook := range h.BeforeRequest {
		next, err := hook(ctx, d)
		if err != nil {
			return d, err
		}
		if next != nil {
			d = next
		}
	}
	return d, nil
}

func (h Hooks) runBeforeRetry(ctx context.Context, d *Descriptor, cause error, attempt int) (*Descriptor, error) {
	for _, hook := range h.BeforeRetry {
		next, err := hook(ctx, d, cause, attempt)
		if err != nil {
			return d, err
		}
		if next != nil {
			d = next
		}
	}
	return d, nil
}

func (h Hooks) runBeforeRedirect(ctx context.Context, d *Descriptor, resp *Response) (*Descriptor, error) {
	for _, hook := range h.BeforeRedirect {
		next, err := hook(ctx, d, resp)
		if err != nil {
			return d, err
		}
		if next != nil {
			d = next
		}
	}
	return d, nil
}

func (h Hooks) runAfterResponse(ctx context.Context, resp *Response) (*Response, error) {
	for _, hook := range h.AfterResponse {
		next, err := hook(ctx, resp)
		if err != nil {
			return resp, err
		}
		if next != nil {
			resp = next
		}
	}
	return resp, nil
}

func (h Hooks) runBeforeError(ctx context.Context, err error) error {
	for _, hook := range h.BeforeError {
		if replaced := hook(ctx, err); replaced != nil {
			err = replaced
		}
	}
	return err
}

// Common hook helpers

// BearerAuthHook returns a BeforeRequest hook that adds a Bearer token.
func BearerAuthHook(token string) BeforeRequestHook {
	return func(_ context.Context, d *Descriptor) (*Descriptor, error) {
		out := d.clone()
		out.Header.Set("Authorization", "Bearer "+token)
		return out, nil
	}
}

// BearerAuthFuncHook returns a BeforeRequest hook that fetches the
// token from a function, useful for refreshable credentials.
func BearerAuthFuncHook(tokenFunc func() (string, error)) BeforeRequestHook {
	return func(_ context.Context, d *Descriptor) (*Descriptor, error) {
		token, err := tokenFunc()
		if err != nil {
			return nil, err
		}
		out := d.clone()
		out.Header.Set("Authorization", "Bearer "+token)
		return out, nil
	}
}

// APIKeyHook returns a BeforeRequest hook that adds an API key header.
func APIKeyHook(headerName, apiKey string) BeforeRequestHook {
	return func(_ context.Context, d *Descriptor) (*Descriptor, error) {
		out := d.clone()
		out.Header.Set(headerName, apiKey)
		return out, nil
	}
}

// CorrelationIDHook returns a BeforeRequest hook that stamps each
// logical request with a fresh UUID under the given header, keeping the
// same ID across its retries and redirects.
func CorrelationIDHook(headerName string) BeforeRequestHook {
	return func(_ context.Context, d *Descriptor) (*Descriptor, error) {
		if d.Header.Get(headerName) != "" {
			return nil, nil
		}
		out := d.clone()
		out.Header.Set(headerName, uuid.NewString())
		return out, nil
	}
}
