package rodhost

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/tamperguard/guard"
	"github.com/hazyhaar/tamperguard/guard/page"
)

//go:embed hook.js
var hookJS string

// Binding is the name of the CDP binding the page hook reports through.
const Binding = "__tamperguard_binding"

// ErrNoElement is returned when an element id or XPath resolves to nothing.
var ErrNoElement = errors.New("rodhost: element not found")

// Options configure Open.
type Options struct {
	// Stealth opens the tab with go-rod/stealth evasions. Default true via Open.
	Stealth bool

	// NavigateTimeout bounds navigation and load. Default: 30s.
	NavigateTimeout time.Duration

	Logger *slog.Logger
}

// Host is one Chrome tab exposed as a page.Host.
type Host struct {
	page   *rod.Page
	url    string
	logger *slog.Logger

	mu     sync.Mutex
	router *rod.HijackRouter
	closed bool
}

var _ page.Host = (*Host)(nil)

// Open creates a tab, installs the page hook so it runs before any page
// script, and navigates to pageURL.
func Open(ctx context.Context, b *Browser, pageURL string, opts Options) (*Host, error) {
	rb := b.Rod()
	if rb == nil {
		return nil, fmt.Errorf("rodhost: no active browser")
	}
	if opts.NavigateTimeout <= 0 {
		opts.NavigateTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	var (
		p   *rod.Page
		err error
	)
	if opts.Stealth {
		p, err = stealth.Page(rb)
	} else {
		p, err = rb.Page(proto.TargetCreateTarget{URL: ""})
	}
	if err != nil {
		return nil, fmt.Errorf("rodhost: create tab: %w", err)
	}

	if err := (proto.RuntimeAddBinding{Name: Binding}).Call(p); err != nil {
		p.Close()
		return nil, fmt.Errorf("rodhost: add binding: %w", err)
	}
	if _, err := p.EvalOnNewDocument(hookPrelude() + hookJS); err != nil {
		p.Close()
		return nil, fmt.Errorf("rodhost: install hook: %w", err)
	}

	h := &Host{page: p, url: pageURL, logger: opts.Logger}
	if pageURL == "" {
		return h, nil
	}

	navCtx, cancel := context.WithTimeout(ctx, opts.NavigateTimeout)
	defer cancel()
	if err := p.Context(navCtx).Navigate(pageURL); err != nil {
		p.Close()
		return nil, fmt.Errorf("rodhost: navigate %s: %w", pageURL, err)
	}
	if err := p.Context(navCtx).WaitLoad(); err != nil {
		opts.Logger.Warn("rodhost: wait load timeout", "url", pageURL, "error", err)
	}
	return h, nil
}

func hookPrelude() string {
	cfg, _ := json.Marshal(map[string]string{"binding": Binding, "tag": guard.Tag})
	return "window.__tamperguardConfig = " + string(cfg) + ";\n"
}

// Page returns the underlying rod page.
func (h *Host) Page() *rod.Page { return h.page }

func (h *Host) eval(ctx context.Context, js string, args ...any) (*proto.RuntimeRemoteObject, error) {
	return h.page.Context(ctx).Eval(js, args...)
}

// Ready reports whether the document has loaded and rendered children.
func (h *Host) Ready(ctx context.Context) (bool, error) {
	res, err := h.eval(ctx, `() => document.readyState === "complete" && !!document.body && document.body.children.length > 0`)
	if err != nil {
		return false, fmt.Errorf("rodhost: ready: %w", err)
	}
	return res.Value.Bool(), nil
}

// Content serialises the whole document.
func (h *Host) Content(ctx context.Context) (string, error) {
	res, err := h.eval(ctx, `() => document.documentElement ? document.documentElement.outerHTML : ""`)
	if err != nil {
		return "", fmt.Errorf("rodhost: content: %w", err)
	}
	return res.Value.Str(), nil
}

// ElementText returns the text of the element with the given id.
func (h *Host) ElementText(ctx context.Context, id string) (string, error) {
	res, err := h.eval(ctx, `(id) => { const el = document.getElementById(id); return el ? el.textContent : null }`, id)
	if err != nil {
		return "", fmt.Errorf("rodhost: element text: %w", err)
	}
	if res.Value.Nil() {
		return "", fmt.Errorf("%w: %s", ErrNoElement, id)
	}
	return res.Value.Str(), nil
}

const restoreJS = `(target, attr, value, remove) => {
	let node = null;
	if (target.startsWith("/")) {
		node = document.evaluate(target, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	} else {
		node = document.getElementById(target);
	}
	if (!node) return false;
	if (remove) {
		node.remove();
	} else if (attr) {
		node.setAttribute(attr, value);
	} else if (node.nodeType === Node.TEXT_NODE) {
		node.data = value;
	} else {
		node.textContent = value;
	}
	return true;
}`

// Restore writes a known-good value back to one node.
func (h *Host) Restore(ctx context.Context, r page.Restoration) error {
	res, err := h.eval(ctx, restoreJS, r.Target, r.Attr, r.Value, r.Remove)
	if err != nil {
		return fmt.Errorf("rodhost: restore %s: %w", r.Target, err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("%w: %s", ErrNoElement, r.Target)
	}
	return nil
}

// Replace swaps the document element for one parsed from content. Scripts
// in content are not executed.
func (h *Host) Replace(ctx context.Context, content string) error {
	_, err := h.eval(ctx, `(html) => {
		const doc = new DOMParser().parseFromString(html, "text/html");
		document.replaceChild(document.adoptNode(doc.documentElement), document.documentElement);
	}`, content)
	if err != nil {
		return fmt.Errorf("rodhost: replace: %w", err)
	}
	return nil
}

// Subscribe delivers hook batches to fn on a dedicated goroutine until the
// returned cancel is called or ctx ends.
func (h *Host) Subscribe(ctx context.Context, fn func(iter.Seq[page.Record])) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	wait := h.page.Context(ctx).EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != Binding {
			return
		}
		recs, err := DecodeBatch(e.Payload)
		if err != nil {
			h.logger.Warn("rodhost: bad hook payload", "error", err)
			return
		}
		if len(recs) > 0 {
			fn(page.Batch(recs...))
		}
	})
	go wait()
	return cancel, nil
}

// Env reports the page environment.
func (h *Host) Env(ctx context.Context) (page.Env, error) {
	res, err := h.eval(ctx, `() => ({
		url: location.href,
		path: location.pathname,
		title: document.title,
		referrer: document.referrer,
		userAgent: navigator.userAgent,
		screenWidth: screen.width,
		screenHeight: screen.height,
	})`)
	if err != nil {
		return page.Env{}, fmt.Errorf("rodhost: env: %w", err)
	}
	var env page.Env
	if err := res.Value.Unmarshal(&env); err != nil {
		return page.Env{}, fmt.Errorf("rodhost: env: %w", err)
	}
	return env, nil
}

// PresentOverlay renders (or refreshes) the lockdown overlay.
func (h *Host) PresentOverlay(ctx context.Context, o page.Overlay) error {
	secs := int(o.Countdown.Round(time.Second) / time.Second)
	_, err := h.eval(ctx, `(t, m, s) => window.__tamperguard && window.__tamperguard.overlay(t, m, s)`, o.Title, o.Message, secs)
	if err != nil {
		return fmt.Errorf("rodhost: overlay: %w", err)
	}
	return nil
}

// ShowWatermark dispatches the show-watermark event on the page.
func (h *Host) ShowWatermark(ctx context.Context) error {
	_, err := h.eval(ctx, `() => window.__tamperguard && window.__tamperguard.watermark()`)
	if err != nil {
		return fmt.Errorf("rodhost: watermark: %w", err)
	}
	return nil
}

// Terminate closes the tab.
func (h *Host) Terminate(ctx context.Context) error {
	return h.Close()
}

// Close stops interception and closes the tab.
func (h *Host) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	if h.router != nil {
		_ = h.router.Stop()
		h.router = nil
	}
	return h.page.Close()
}

// jsRecord is the wire form emitted by hook.js.
type jsRecord struct {
	Op       string   `json:"op"`
	Target   string   `json:"target"`
	NodeType int      `json:"node_type"`
	Tag      string   `json:"tag"`
	ID       string   `json:"id"`
	Class    string   `json:"class"`
	Ancestry []string `json:"ancestry"`
	Name     string   `json:"name"`
	Value    string   `json:"value"`
	OldValue string   `json:"old_value"`
	HTML     string   `json:"html"`
}

// DecodeBatch parses one hook payload. Records with an unknown op are
// dropped.
func DecodeBatch(payload string) ([]page.Record, error) {
	var raw []jsRecord
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("rodhost: decode batch: %w", err)
	}
	out := make([]page.Record, 0, len(raw))
	for _, r := range raw {
		op := page.Op(strings.ToLower(r.Op))
		switch op {
		case page.OpInsert, page.OpRemove, page.OpText, page.OpAttr, page.OpAttrDel, page.OpDocReset:
		default:
			continue
		}
		out = append(out, page.Record{
			Op:       op,
			Target:   r.Target,
			NodeType: r.NodeType,
			Tag:      r.Tag,
			ID:       r.ID,
			Class:    r.Class,
			Ancestry: r.Ancestry,
			Name:     r.Name,
			Value:    r.Value,
			OldValue: r.OldValue,
			HTML:     r.HTML,
		})
	}
	return out, nil
}
