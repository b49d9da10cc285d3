package fetch

import (
	json "github.com/goccy/go-json"
)

// ResponseType selects the representation the buffered body is parsed
// into before the result settles.
type ResponseType string

// Recognized response types. Any other value is a configuration error
// raised before network I/O.
const (
	// ResponseBuffer returns the body bytes unchanged.
	ResponseBuffer ResponseType = "buffer"

	// ResponseText decodes the body as text.
	ResponseText ResponseType = "text"

	// ResponseJSON decodes the body as JSON into a generic value.
	// An empty body parses to the empty string, not an error.
	ResponseJSON ResponseType = "json"
)

func (rt ResponseType) valid() bool {
	switch rt {
	case ResponseBuffer, ResponseText, ResponseJSON:
		return true
	default:
		return false
	}
}

// parseBody converts the assembled raw body into the requested
// representation. It runs regardless of HTTP status; the caller
// decides whether the outcome feeds a fulfillment or an HTTPError.
func parseBody(d *Descriptor, resp *Response) (any, error) {
	switch d.ResponseType {
	case ResponseBuffer:
		return resp.body, nil
	case ResponseText:
		return string(resp.body), nil
	case ResponseJSON:
		// An empty body is the literal empty string: not an error and
		// not null.
		if len(resp.body) == 0 {
			return "", nil
		}
		var v any
		if err := json.Unmarshal(resp.body, &v); err != nil {
			return nil, &ParseError{
				RequestInfo: d.info(),
				Err:         err,
				Text:        string(resp.body),
				Response:    resp,
			}
		}
		return v, nil
	default:
		// normalize rejects unknown values before any I/O, but hooks
		// may build descriptors by hand.
		return nil, &OptionError{
			RequestInfo: d.info(),
			Reason:      "unknown response type \"" + string(d.ResponseType) + "\"",
		}
	}
}
