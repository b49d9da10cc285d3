package fetch

import (
	"net/http"
	"net/url"
	"strings"
)

// nextRedirect builds the descriptor for the request that follows a
// redirect response. It returns a MaxRedirectsError once the chain
// exceeds the descriptor's hop limit.
func nextRedirect(d *Descriptor, resp *Response) (*Descriptor, error) {
	location := resp.Header.Get("Location")
	if location == "" {
		return nil, &TransportError{RequestInfo: d.info(), Err: errMissingLocation}
	}
	ref, err := url.Parse(location)
	if err != nil {
		return nil, &TransportError{RequestInfo: d.info(), Err: err}
	}
	target := d.URL.ResolveReference(ref)

	next := d.clone()
	next.RedirectChain = append(next.RedirectChain, target.String())
	if len(next.RedirectChain) > d.MaxRedirects {
		return nil, &MaxRedirectsError{
			RequestInfo: d.info(),
			Limit:       d.MaxRedirects,
			Chain:       next.RedirectChain,
			Response:    resp,
		}
	}
	next.URL = target

	if redirectDowngradesMethod(resp.StatusCode, d.Method) {
		next.Method = http.MethodGet
		next.Body = nil
		next.BodyStream = nil
		next.Header.Del("Content-Type")
		next.Header.Del("Content-Length")
	}

	if !sameHost(d.URL, target) {
		next.Header.Del("Authorization")
		next.Header.Del("Cookie")
	}
	return next, nil
}

// redirectDowngradesMethod reports whether the redirect rewrites the
// request method to GET. 303 rewrites everything but GET and HEAD;
// 301 and 302 rewrite body-bearing methods; 307 and 308 never rewrite.
func redirectDowngradesMethod(status int, method string) bool {
	switch status {
	case http.StatusSeeOther:
		return method != http.MethodGet && method != http.MethodHead
	case http.StatusMovedPermanently, http.StatusFound:
		switch method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
			return true
		}
	}
	return false
}

// sameHost compares hosts only; scheme and port changes alone do not
// count as a host change for credential stripping.
func sameHost(a, b *url.URL) bool {
	return strings.EqualFold(a.Hostname(), b.Hostname())
}
