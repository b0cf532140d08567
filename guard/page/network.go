package page

import (
	"context"
	"net/http"
)

// Request is an outgoing request as seen by an interceptor.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// Response is a completed response.
type Response struct {
	URL    string
	Status int
	Header http.Header
	Body   []byte
}

// ContentType returns the response Content-Type header.
func (r *Response) ContentType() string {
	if r == nil || r.Header == nil {
		return ""
	}
	return r.Header.Get("Content-Type")
}

// Fetcher performs a request.
type Fetcher func(ctx context.Context, req *Request) (*Response, error)

// Interceptor decorates a Fetcher without changing its semantics.
type Interceptor func(next Fetcher) Fetcher

// Chain composes interceptors so that the first one is the outermost.
func Chain(ics ...Interceptor) Interceptor {
	return func(next Fetcher) Fetcher {
		for i := len(ics) - 1; i >= 0; i-- {
			next = ics[i](next)
		}
		return next
	}
}
