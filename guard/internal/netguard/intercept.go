package netguard

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/hazyhaar/tamperguard/guard/page"
	"github.com/hazyhaar/tamperguard/horosafe"
)

// Observer receives completed HTML responses.
type Observer func(ctx context.Context, resp *page.Response)

// Transport wraps base so that every HTML response body is handed to fn.
// The caller still reads the full, unchanged body. Bodies larger than
// maxBody are passed through without being observed.
func Transport(base http.RoundTripper, maxBody int64, fn Observer) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if maxBody <= 0 {
		maxBody = horosafe.MaxResponseBody
	}
	return &transport{base: base, maxBody: maxBody, fn: fn}
}

type transport struct {
	base    http.RoundTripper
	maxBody int64
	fn      Observer
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil || resp == nil || resp.Body == nil {
		return resp, err
	}
	if !IsHTML(resp.Header.Get("Content-Type")) {
		return resp, nil
	}

	// Read one byte past the limit so oversized bodies can be told apart;
	// everything read is handed back to the caller either way.
	data, rerr := io.ReadAll(io.LimitReader(resp.Body, t.maxBody+1))
	switch {
	case rerr != nil:
		resp.Body = &replayBody{Reader: io.MultiReader(bytes.NewReader(data), errReader{rerr}), closer: resp.Body}
	case int64(len(data)) > t.maxBody:
		resp.Body = &replayBody{Reader: io.MultiReader(bytes.NewReader(data), resp.Body), closer: resp.Body}
	default:
		resp.Body.Close()
		resp.Body = io.NopCloser(bytes.NewReader(data))
		t.fn(req.Context(), &page.Response{
			URL:    req.URL.String(),
			Status: resp.StatusCode,
			Header: resp.Header.Clone(),
			Body:   data,
		})
	}
	return resp, nil
}

type replayBody struct {
	io.Reader
	closer io.Closer
}

func (r *replayBody) Close() error { return r.closer.Close() }

type errReader struct{ err error }

func (e errReader) Read([]byte) (int, error) { return 0, e.err }

// Middleware returns an Interceptor that hands HTML responses to fn.
func Middleware(fn Observer) page.Interceptor {
	return func(next page.Fetcher) page.Fetcher {
		return func(ctx context.Context, req *page.Request) (*page.Response, error) {
			resp, err := next(ctx, req)
			if err == nil && resp != nil && IsHTML(resp.ContentType()) {
				obs := *resp
				if obs.URL == "" {
					obs.URL = req.URL
				}
				fn(ctx, &obs)
			}
			return resp, err
		}
	}
}
