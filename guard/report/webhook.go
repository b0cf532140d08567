package report

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/tamperguard/horosafe"
)

// ReportPath is appended to the collector base URL.
const ReportPath = "/tamper/report-tampering"

// Webhook POSTs each event once to the collector. There is no retry: a
// failed delivery is returned to the caller and discarded.
type Webhook struct {
	url    string
	client *http.Client
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// NewWebhook creates a Webhook sink for the collector at base.
func NewWebhook(base string, opts ...WebhookOption) (*Webhook, error) {
	if err := horosafe.ValidateEndpoint(base); err != nil {
		return nil, fmt.Errorf("report: webhook: %w", err)
	}
	w := &Webhook{
		url:    strings.TrimRight(base, "/") + ReportPath,
		client: &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// URL returns the full report endpoint.
func (w *Webhook) URL() string { return w.url }

func (w *Webhook) Send(ctx context.Context, ev TamperEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("report: marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("report: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("report: post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := horosafe.LimitedReadAll(resp.Body, 512)
		return fmt.Errorf("report: collector returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, horosafe.MaxResponseBody))
	return nil
}

func (w *Webhook) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
