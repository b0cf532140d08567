package rodhost

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/tamperguard/guard/page"
)

// interceptedTypes are the resource types whose responses can carry a
// rewritten document.
var interceptedTypes = map[proto.NetworkResourceType]bool{
	proto.NetworkResourceTypeDocument: true,
	proto.NetworkResourceTypeXHR:      true,
	proto.NetworkResourceTypeFetch:    true,
}

// Intercept routes document, XHR and fetch traffic of the tab through ic.
// Responses are fetched by client (http.DefaultClient when nil) and
// fulfilled unchanged. Other requests continue untouched.
func (h *Host) Intercept(ic page.Interceptor, client *http.Client) error {
	if client == nil {
		client = http.DefaultClient
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return fmt.Errorf("rodhost: host closed")
	}
	if h.router != nil {
		return fmt.Errorf("rodhost: interception already active")
	}

	router := h.page.HijackRequests()
	err := router.Add("*", "", func(hj *rod.Hijack) {
		if !interceptedTypes[hj.Request.Type()] {
			hj.ContinueRequest(&proto.FetchContinueRequest{})
			return
		}
		fetch := ic(hijackFetcher(hj, client))
		if _, err := fetch(hj.Request.Req().Context(), requestOf(hj)); err != nil {
			h.logger.Debug("rodhost: intercepted fetch failed", "url", hj.Request.URL().String(), "error", err)
			hj.Response.Fail(proto.NetworkErrorReasonFailed)
		}
	})
	if err != nil {
		return fmt.Errorf("rodhost: hijack: %w", err)
	}
	go router.Run()
	h.router = router
	return nil
}

func requestOf(hj *rod.Hijack) *page.Request {
	header := make(http.Header)
	for k, v := range hj.Request.Headers() {
		header.Set(k, v.Str())
	}
	return &page.Request{
		Method: hj.Request.Method(),
		URL:    hj.Request.URL().String(),
		Header: header,
		Body:   []byte(hj.Request.Body()),
	}
}

// hijackFetcher loads the real response into the hijack context; the
// browser receives it when the handler returns.
func hijackFetcher(hj *rod.Hijack, client *http.Client) page.Fetcher {
	return func(_ context.Context, req *page.Request) (*page.Response, error) {
		if err := hj.LoadResponse(client, true); err != nil {
			return nil, err
		}
		payload := hj.Response.Payload()
		header := make(http.Header)
		for _, h := range payload.ResponseHeaders {
			header.Add(h.Name, h.Value)
		}
		return &page.Response{
			URL:    req.URL,
			Status: payload.ResponseCode,
			Header: header,
			Body:   payload.Body,
		}, nil
	}
}

// IsIntercepted reports whether a CDP resource type name is routed
// through the interceptor.
func IsIntercepted(resourceType string) bool {
	for t := range interceptedTypes {
		if strings.EqualFold(string(t), resourceType) {
			return true
		}
	}
	return false
}
