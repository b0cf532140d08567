package guard

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/tamperguard/guard/internal/sched"
	"github.com/hazyhaar/tamperguard/guard/page"
	"github.com/hazyhaar/tamperguard/guard/report"
	"github.com/hazyhaar/tamperguard/idgen"
	"github.com/hazyhaar/tamperguard/logging"
)

const basePage = `<html><head><title>Home</title></head><body>` +
	`<h1 id="brand">Happy TTS</h1>` +
	`<p id="tagline">Free online text to speech for everyone. Convert any writing into natural sounding voices in seconds with no sign-up needed.</p>` +
	`<footer id="foot">Made with care in a small studio.</footer>` +
	`</body></html>`

var tamperedBrand = strings.Replace(basePage, `<h1 id="brand">Happy TTS</h1>`, `<h1 id="brand">Happy TS </h1>`, 1)

// fakeHost is an in-memory page.
type fakeHost struct {
	mu         sync.Mutex
	ready      bool
	content    string
	elements   map[string]string
	env        page.Env
	fn         func(iter.Seq[page.Record])
	restores   []page.Restoration
	replaced   []string
	overlays   []page.Overlay
	watermarks int
	terminated bool
	replaceErr error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		ready:    true,
		content:  basePage,
		elements: map[string]string{"brand": "Happy TTS"},
		env: page.Env{
			URL: "https://app.example/", Path: "/", Title: "Home",
			UserAgent: "test-agent", ScreenWidth: 1280, ScreenHeight: 720,
		},
	}
}

func (h *fakeHost) Ready(context.Context) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ready, nil
}

func (h *fakeHost) Content(context.Context) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.content, nil
}

func (h *fakeHost) ElementText(_ context.Context, id string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	text, ok := h.elements[id]
	if !ok {
		return "", errors.New("no such element")
	}
	return text, nil
}

func (h *fakeHost) Restore(_ context.Context, r page.Restoration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.restores = append(h.restores, r)
	if _, ok := h.elements[r.Target]; ok {
		if r.Remove {
			delete(h.elements, r.Target)
		} else {
			h.elements[r.Target] = r.Value
		}
	}
	return nil
}

func (h *fakeHost) Replace(_ context.Context, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.replaceErr != nil {
		return h.replaceErr
	}
	h.replaced = append(h.replaced, content)
	h.content = content
	return nil
}

func (h *fakeHost) Subscribe(_ context.Context, fn func(iter.Seq[page.Record])) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fn = fn
	return func() {
		h.mu.Lock()
		h.fn = nil
		h.mu.Unlock()
	}, nil
}

func (h *fakeHost) Env(context.Context) (page.Env, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.env, nil
}

func (h *fakeHost) PresentOverlay(_ context.Context, o page.Overlay) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.overlays = append(h.overlays, o)
	return nil
}

func (h *fakeHost) ShowWatermark(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.watermarks++
	return nil
}

func (h *fakeHost) Terminate(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.terminated = true
	return nil
}

func (h *fakeHost) setContent(c string) {
	h.mu.Lock()
	h.content = c
	h.mu.Unlock()
}

// navigate moves the page to a new location without reloading it.
func (h *fakeHost) navigate(url, path, title string) {
	h.mu.Lock()
	h.env.URL, h.env.Path, h.env.Title = url, path, title
	h.mu.Unlock()
}

func (h *fakeHost) subscribed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fn != nil
}

// mutate delivers one batch the way a live page would.
func (h *fakeHost) mutate(records ...page.Record) {
	h.mu.Lock()
	fn := h.fn
	h.mu.Unlock()
	if fn != nil {
		fn(page.Batch(records...))
	}
}

// brandTamper rewrites the brand heading and delivers the change.
func (h *fakeHost) brandTamper() {
	h.setContent(tamperedBrand)
	h.mutate(page.Record{Op: page.OpText, Target: "brand", ID: "brand", Tag: "h1", OldValue: "Happy TTS", Value: "Happy TS "})
}

type eventLog struct {
	mu     sync.Mutex
	events []report.TamperEvent
}

func (l *eventLog) add(_ context.Context, ev report.TamperEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) ofType(eventType string) []report.TamperEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []report.TamperEvent
	for _, ev := range l.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

type harness struct {
	e     *Engine
	host  *fakeHost
	clock *sched.Fake
	log   *eventLog
}

func (h *harness) flush(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.e.FlushReports(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.IntegritySecret = bytes.Repeat([]byte("i"), 32)
	cfg.NetworkSecret = bytes.Repeat([]byte("n"), 32)
	return cfg
}

// newHarness builds an engine on a fake host and clock, started but not
// yet captured unless capture is true.
func newHarness(t *testing.T, host *fakeHost, capture bool, opts ...Option) *harness {
	t.Helper()
	clock := sched.NewFake(time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC))
	log := &eventLog{}
	opts = append([]Option{
		WithLogger(logging.Nop()),
		WithClock(clock),
		WithSinks(report.Callback(log.add)),
		WithIDGenerator(idgen.Sequence("tev_")),
	}, opts...)
	e, err := New(testConfig(), host, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })
	if err := e.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if capture {
		clock.Advance(0)
		if st := e.Status(); st.Phase != PhaseRunning {
			t.Fatalf("phase = %s, want running", st.Phase)
		}
	}
	return &harness{e: e, host: host, clock: clock, log: log}
}

func TestNew_RequiresSecrets(t *testing.T) {
	_, err := New(DefaultConfig(), newFakeHost())
	if err == nil {
		t.Fatal("expected error without secrets")
	}
	if !IsEngineError(err) {
		t.Errorf("error %v is not an engine error", err)
	}
}

func TestStart_Twice(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	err := h.e.Start(context.Background())
	if !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("err = %v, want ErrAlreadyStarted", err)
	}
}

func TestCapture_BaselineAndCritical(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	st := h.e.Status()
	if !st.Baseline.Captured || st.Baseline.Length != len(basePage) {
		t.Fatalf("baseline = %+v", st.Baseline)
	}
	want := []string{"Happy TTS", "text to speech"}
	if strings.Join(st.Baseline.Critical, "|") != strings.Join(want, "|") {
		t.Errorf("critical = %v, want %v", st.Baseline.Critical, want)
	}
	if st.IntegrityRecords != 2 {
		t.Errorf("integrity records = %d, want 2", st.IntegrityRecords)
	}
	if !h.host.subscribed() {
		t.Error("engine did not subscribe to mutations")
	}
}

func TestCapture_PollsUntilReady(t *testing.T) {
	host := newFakeHost()
	host.ready = false
	h := newHarness(t, host, false)

	h.clock.Advance(0)
	if st := h.e.Status(); st.Phase != PhaseCapturing {
		t.Fatalf("phase = %s, want capturing", st.Phase)
	}
	host.mu.Lock()
	host.ready = true
	host.mu.Unlock()
	h.clock.Advance(500 * time.Millisecond)
	if st := h.e.Status(); st.Phase != PhaseRunning {
		t.Fatalf("phase = %s, want running", st.Phase)
	}
}

func TestCapture_RetriesShortContent(t *testing.T) {
	host := newFakeHost()
	host.content = "<html><body>loading</body></html>"
	h := newHarness(t, host, false)

	h.clock.Advance(0)
	if st := h.e.Status(); st.Baseline.Captured {
		t.Fatal("short content captured as baseline")
	}
	host.setContent(basePage)
	h.clock.Advance(500 * time.Millisecond)
	if st := h.e.Status(); !st.Baseline.Captured {
		t.Fatal("baseline not captured after retry")
	}
}

func TestExemption_ShortCircuits(t *testing.T) {
	host := newFakeHost()
	host.env.URL = "https://app.example/upload"
	host.env.Path = "/upload"
	h := newHarness(t, host, false)

	h.clock.Advance(0)
	st := h.e.Status()
	if st.Phase != PhaseExempt {
		t.Fatalf("phase = %s, want exempt", st.Phase)
	}
	if st.Baseline.Captured || host.subscribed() {
		t.Error("exempt page was captured or observed")
	}
	if _, err := h.e.Check(context.Background(), ScopePage, "", true); !errors.Is(err, ErrNotStarted) {
		t.Errorf("check on exempt page: %v", err)
	}
}

func TestExemption_AfterNavigation(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	ctx := context.Background()
	h.host.navigate("https://app.example/upload", "/upload", "Upload")

	h.host.brandTamper()
	const u = "https://app.example/pricing"
	h.e.ObserveResponse(ctx, htmlResponse(u, basePage))
	h.e.ObserveResponse(ctx, htmlResponse(u, basePage+"<!-- proxied by mitmproxy -->"))
	h.clock.Advance(5 * time.Second)
	res, err := h.e.Check(ctx, ScopePage, "", true)
	if err != nil || !res.Skipped {
		t.Errorf("check on exempt path: %+v %v", res, err)
	}

	st := h.e.Status()
	if st.Incidents != 0 || st.State != "normal" || st.FalsePositives != 0 || st.NetworkRecords != 0 {
		t.Fatalf("exempt path was checked: %+v", st)
	}
	h.flush(t)
	if n := len(h.log.ofType(report.EventTamperDetected)); n != 0 {
		t.Fatalf("tamper events on exempt path: %d", n)
	}

	h.host.navigate("https://app.example/", "/", "Home")
	h.host.brandTamper()
	if st := h.e.Status(); st.State != "soft_recovery" {
		t.Errorf("after navigating back: state = %s, want soft_recovery", st.State)
	}
}

func TestDOMTamper_SoftRecovery(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	h.host.brandTamper()

	st := h.e.Status()
	if st.State != "soft_recovery" {
		t.Fatalf("state = %s, want soft_recovery", st.State)
	}
	if st.Attempts["brand"] != 1 {
		t.Errorf("attempts = %v, want brand:1", st.Attempts)
	}
	h.host.mu.Lock()
	restores := append([]page.Restoration(nil), h.host.restores...)
	h.host.mu.Unlock()
	if len(restores) != 1 || restores[0].Target != "brand" || restores[0].Value != "Happy TTS" {
		t.Errorf("restores = %+v", restores)
	}

	h.flush(t)
	det := h.log.ofType(report.EventTamperDetected)
	if len(det) != 1 {
		t.Fatalf("tamper_detected events = %d, want 1", len(det))
	}
	ev := det[0]
	if ev.TamperType != report.TamperDOM || ev.ElementID != "brand" || ev.DetectionMethod != MethodMutation {
		t.Errorf("event = %+v", ev)
	}
	if ev.Confidence < 20 {
		t.Errorf("confidence = %d, want the missing-phrase weight", ev.Confidence)
	}
	if ev.URL != "https://app.example/" || ev.AdditionalInfo["userAgent"] != "test-agent" {
		t.Errorf("environment not attached: url=%q info=%v", ev.URL, ev.AdditionalInfo)
	}
	if len(h.log.ofType(report.EventSoftRecovery)) != 1 {
		t.Error("no soft_recovery event")
	}
}

func TestInjection_SoftRecoveryRemovesNode(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	const target = "/html[1]/body[1]/div[2]"
	inject := func() {
		h.host.mutate(page.Record{Op: page.OpInsert, Target: target, Tag: "div",
			HTML: `<div><script src="https://cdn.evil.example/x.js"></script></div>`})
	}
	inject()

	st := h.e.Status()
	if st.State != "soft_recovery" || st.Attempts[target] != 1 {
		t.Fatalf("state=%s attempts=%v", st.State, st.Attempts)
	}
	h.host.mu.Lock()
	restores := append([]page.Restoration(nil), h.host.restores...)
	replaced := len(h.host.replaced)
	h.host.mu.Unlock()
	if len(restores) != 1 || !restores[0].Remove || restores[0].Target != target {
		t.Errorf("restores = %+v", restores)
	}
	if replaced != 0 {
		t.Error("document replaced for a single injected node")
	}

	for range 3 {
		inject()
	}
	if st := h.e.Status(); st.State != "emergency_recovery" {
		t.Errorf("after 4 injections: state = %s, want emergency_recovery", st.State)
	}
	h.flush(t)
	det := h.log.ofType(report.EventTamperDetected)
	if len(det) != 4 || det[0].TamperType != report.TamperInjection {
		t.Errorf("tamper_detected = %d", len(det))
	}
}

func TestDOMTamper_CooldownExit(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	h.host.brandTamper()
	h.clock.Advance(5 * time.Second)

	if st := h.e.Status(); st.State != "normal" {
		t.Fatalf("state = %s, want normal", st.State)
	}
	h.flush(t)
	if len(h.log.ofType(report.EventRecoveryExit)) != 1 {
		t.Error("no recovery_exit event")
	}
}

func TestDOMTamper_EscalatesAfterMaxAttempts(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	for range 3 {
		h.host.brandTamper()
	}
	if st := h.e.Status(); st.State != "soft_recovery" || st.Attempts["brand"] != 3 {
		t.Fatalf("after 3: state=%s attempts=%v", st.State, st.Attempts)
	}

	h.host.brandTamper()
	if st := h.e.Status(); st.State != "emergency_recovery" {
		t.Fatalf("after 4: state = %s, want emergency_recovery", st.State)
	}
	h.host.mu.Lock()
	replaced := append([]string(nil), h.host.replaced...)
	content := h.host.content
	h.host.mu.Unlock()
	if len(replaced) != 1 || replaced[0] != basePage || content != basePage {
		t.Errorf("document not restored from baseline: %d replacements", len(replaced))
	}
	h.flush(t)
	if len(h.log.ofType(report.EventEmergencyRecovery)) != 1 {
		t.Error("no emergency_recovery event")
	}
}

func TestSettleWindow_IgnoresOwnRestore(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	if _, err := h.e.Recover(context.Background(), "emergency"); err != nil {
		t.Fatal(err)
	}
	h.host.brandTamper()
	if st := h.e.Status(); st.State != "emergency_recovery" {
		t.Fatalf("state = %s, mutation inside the settle window was handled", st.State)
	}
}

func TestLockdown_CountdownAndTerminate(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	for range 4 {
		h.host.brandTamper()
	}
	h.clock.Advance(2 * time.Second) // past the settle window, inside the cool-down
	h.host.brandTamper()

	st := h.e.Status()
	if st.State != "lockdown" || st.Countdown != "10s" {
		t.Fatalf("state=%s countdown=%s", st.State, st.Countdown)
	}

	h.clock.Advance(10 * time.Second)
	h.host.mu.Lock()
	overlays, watermarks, terminated := len(h.host.overlays), h.host.watermarks, h.host.terminated
	h.host.mu.Unlock()
	if overlays != 11 {
		t.Errorf("overlay renders = %d, want 11", overlays)
	}
	if watermarks != 1 || !terminated {
		t.Errorf("watermarks=%d terminated=%v", watermarks, terminated)
	}
	if st := h.e.Status(); st.Phase != PhaseTerminated {
		t.Errorf("phase = %s, want terminated", st.Phase)
	}
	if h.host.subscribed() {
		t.Error("still observing after termination")
	}
	if err := h.e.Control(context.Background(), ActionResume); !errors.Is(err, ErrTerminated) {
		t.Errorf("control after termination: %v", err)
	}
	h.flush(t)
	if n := len(h.log.ofType(report.EventLockdown)); n != 2 {
		t.Errorf("lockdown events = %d, want 2", n)
	}
}

func TestEmergencyRestoreFailure_ClearsToNormal(t *testing.T) {
	host := newFakeHost()
	h := newHarness(t, host, true)
	host.mu.Lock()
	host.replaceErr = errors.New("detached")
	host.mu.Unlock()

	if _, err := h.e.Simulate(context.Background(), "proxy", "", ""); err != nil {
		t.Fatal(err)
	}
	if st := h.e.Status(); st.State != "normal" {
		t.Fatalf("state = %s, want normal", st.State)
	}
	h.flush(t)
	failed := h.log.ofType(report.EventRecoveryFailed)
	if len(failed) != 1 || failed[0].AdditionalInfo["error"] != "detached" {
		t.Errorf("recovery_failed events = %+v", failed)
	}
}

func htmlResponse(url, body string) *page.Response {
	return &page.Response{
		URL:    url,
		Status: http.StatusOK,
		Header: http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:   []byte(body),
	}
}

func TestNetwork_ProxyRewriteGoesToEmergency(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	ctx := context.Background()
	const u = "https://app.example/pricing"

	h.e.ObserveResponse(ctx, htmlResponse(u, basePage))
	h.e.ObserveResponse(ctx, htmlResponse(u, basePage+"<!-- proxied by mitmproxy -->"))

	if st := h.e.Status(); st.State != "emergency_recovery" {
		t.Fatalf("state = %s, want emergency_recovery", st.State)
	}
	h.flush(t)
	det := h.log.ofType(report.EventTamperDetected)
	if len(det) != 1 {
		t.Fatalf("tamper_detected = %d", len(det))
	}
	ev := det[0]
	if ev.TamperType != report.TamperProxy || ev.Confidence < 50 {
		t.Errorf("event type=%s confidence=%d", ev.TamperType, ev.Confidence)
	}
	if ev.AdditionalInfo["hasProxyTampering"] != true || ev.AdditionalInfo["requestUrl"] != u {
		t.Errorf("info = %v", ev.AdditionalInfo)
	}
}

func TestNetwork_ProxyRewriteWithLiveRegion(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	ctx := context.Background()
	const u = "https://app.example/status"
	first := strings.Replace(basePage, "</footer>", `</footer><div aria-live="polite">All systems normal</div>`, 1)

	h.e.ObserveResponse(ctx, htmlResponse(u, first))
	h.e.ObserveResponse(ctx, htmlResponse(u, first+"<!-- proxied by mitmproxy -->"))

	st := h.e.Status()
	if st.State != "emergency_recovery" || st.FalsePositives != 0 {
		t.Fatalf("state=%s false positives=%d", st.State, st.FalsePositives)
	}
	h.flush(t)
	det := h.log.ofType(report.EventTamperDetected)
	if len(det) != 1 || det[0].TamperType != report.TamperProxy || det[0].Confidence < 50 {
		t.Errorf("tamper_detected = %+v", det)
	}
}

func TestNetwork_FirstResponseWins(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	ctx := context.Background()
	const u = "https://app.example/pricing"

	for range 3 {
		h.e.ObserveResponse(ctx, htmlResponse(u, basePage))
	}
	st := h.e.Status()
	if st.NetworkRecords != 1 || st.Incidents != 0 || st.State != "normal" {
		t.Errorf("status = %+v", st)
	}
}

func TestNetwork_IgnoresNonHTML(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	ctx := context.Background()
	resp := &page.Response{URL: "https://app.example/api", Status: 200,
		Header: http.Header{"Content-Type": []string{"application/json"}}, Body: []byte(`{}`)}
	h.e.ObserveResponse(ctx, resp)
	if st := h.e.Status(); st.NetworkRecords != 0 {
		t.Errorf("network records = %d, want 0", st.NetworkRecords)
	}
}

func TestPeriodicCheck_DynamicGrowthIsFalsePositive(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	grown := strings.Replace(basePage, "</footer>",
		`</footer><div data-live="true">`+strings.Repeat("news item ", 50)+`</div>`, 1)
	h.host.setContent(grown)

	h.clock.Advance(5 * time.Second)
	st := h.e.Status()
	if st.FalsePositives != 1 || st.Incidents != 0 || st.State != "normal" {
		t.Errorf("status = %+v", st)
	}
}

func TestPeriodicCheck_Desensitizes(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	grown := strings.Replace(basePage, "</footer>",
		`</footer><div data-live="true">`+strings.Repeat("news item ", 50)+`</div>`, 1)
	h.host.setContent(grown)

	h.clock.Advance(25 * time.Second)
	st := h.e.Status()
	if !st.Desensitized || st.FalsePositives != 5 {
		t.Fatalf("status = %+v", st)
	}
	if st.CheckInterval != "30s" {
		t.Errorf("interval = %s, want 30s", st.CheckInterval)
	}
	h.flush(t)
	if fp := h.log.ofType(report.EventFalsePositive); len(fp) != 1 || fp[0].TamperType != "" {
		t.Errorf("false_positive events = %+v", fp)
	}
	h.clock.Advance(29 * time.Second)
	if st := h.e.Status(); st.FalsePositives != 5 {
		t.Errorf("check ran before the widened interval: %d", st.FalsePositives)
	}
}

func TestCheck_PageRewriteIsProxyIncident(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	h.host.setContent("<html><body><p>This page has been replaced entirely by an intermediary.</p></body></html>")

	res, err := h.e.Check(context.Background(), ScopePage, "", false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Tampered || res.Confidence < 30 {
		t.Errorf("result = %+v", res)
	}
	if res.State != "emergency_recovery" {
		t.Errorf("state = %s", res.State)
	}
}

func TestCheck_Element(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	ctx := context.Background()
	if err := h.e.SetIntegrity(ctx, "brand", ""); err != nil {
		t.Fatal(err)
	}
	res, err := h.e.Check(ctx, ScopeElement, "brand", false)
	if err != nil || res.Tampered {
		t.Fatalf("clean check: %+v %v", res, err)
	}

	h.host.mu.Lock()
	h.host.elements["brand"] = "Happy TS"
	h.host.mu.Unlock()
	res, err = h.e.Check(ctx, ScopeElement, "brand", false)
	if err != nil {
		t.Fatal(err)
	}
	if !res.Tampered || res.State != "soft_recovery" {
		t.Errorf("result = %+v", res)
	}
	text, _ := h.host.ElementText(ctx, "brand")
	if text != "Happy TTS" {
		t.Errorf("element not restored: %q", text)
	}

	if _, err := h.e.Check(ctx, ScopeElement, "", false); !errors.Is(err, ErrMissingElement) {
		t.Errorf("missing id: %v", err)
	}
}

func TestCheck_UnknownScope(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	_, err := h.e.Check(context.Background(), "everything", "", false)
	if !errors.Is(err, ErrUnknownScope) || !IsEngineError(err) {
		t.Errorf("err = %v", err)
	}
}

func TestControl_PauseResume(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	ctx := context.Background()
	if err := h.e.Control(ctx, ActionPause); err != nil {
		t.Fatal(err)
	}
	h.host.brandTamper()
	if st := h.e.Status(); st.Incidents != 0 || !st.Paused {
		t.Fatalf("paused engine handled a mutation: %+v", st)
	}
	res, err := h.e.Check(ctx, ScopePage, "", false)
	if err != nil || !res.Skipped {
		t.Errorf("paused check: %+v %v", res, err)
	}
	res, err = h.e.Check(ctx, ScopePage, "", true)
	if err != nil || res.Skipped || res.Checked != 1 {
		t.Errorf("forced check: %+v %v", res, err)
	}

	if err := h.e.Control(ctx, ActionResume); err != nil {
		t.Fatal(err)
	}
	if st := h.e.Status(); st.Paused {
		t.Error("still paused")
	}
}

func TestControl_Disable(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	ctx := context.Background()
	if err := h.e.Control(ctx, ActionDisable); err != nil {
		t.Fatal(err)
	}
	if h.host.subscribed() {
		t.Error("still observing after disable")
	}
	_, err := h.e.Check(ctx, ScopePage, "", true)
	if !errors.Is(err, ErrDisabled) || !IsEngineError(err) {
		t.Errorf("err = %v", err)
	}
}

func TestControl_ResetAndReinit(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	ctx := context.Background()
	h.host.brandTamper()

	if err := h.e.Control(ctx, ActionReset); err != nil {
		t.Fatal(err)
	}
	if st := h.e.Status(); st.State != "normal" || len(st.Attempts) != 0 {
		t.Errorf("after reset: %+v", st)
	}

	h.host.setContent(basePage)
	if err := h.e.Control(ctx, ActionReinit); err != nil {
		t.Fatal(err)
	}
	if st := h.e.Status(); st.Phase != PhaseCapturing || st.Baseline.Captured {
		t.Fatalf("after reinit: %+v", st)
	}
	h.clock.Advance(0)
	if st := h.e.Status(); st.Phase != PhaseRunning || !st.Baseline.Captured {
		t.Errorf("after recapture: %+v", st)
	}

	if err := h.e.Control(ctx, "explode"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("unknown action: %v", err)
	}
}

func TestRecapture_AcceptsLegitimateUpdate(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	ctx := context.Background()
	updated := strings.Replace(basePage, "small studio", "small studio in Lyon, now with forty voices and a brand new pricing page for teams", 1)
	h.host.setContent(updated)
	if err := h.e.Recapture(ctx); err != nil {
		t.Fatal(err)
	}
	res, err := h.e.Check(ctx, ScopePage, "", false)
	if err != nil || res.Tampered || res.Confidence != 0 {
		t.Errorf("check after recapture: %+v %v", res, err)
	}
}

func TestSimulate(t *testing.T) {
	tests := []struct {
		kind  string
		state string
	}{
		{"dom", "soft_recovery"},
		{"injection", "soft_recovery"},
		{"network", "emergency_recovery"},
		{"proxy", "emergency_recovery"},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			h := newHarness(t, newFakeHost(), true)
			res, err := h.e.Simulate(context.Background(), tt.kind, "", "")
			if err != nil {
				t.Fatal(err)
			}
			if !res.Detected || res.State != tt.state || res.EventID == "" {
				t.Errorf("result = %+v", res)
			}
			h.flush(t)
			if len(h.log.ofType(report.EventSimulation)) != 1 {
				t.Error("no simulation event")
			}
		})
	}
}

func TestSimulate_UnknownKind(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	if _, err := h.e.Simulate(context.Background(), "quantum", "", ""); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("err = %v", err)
	}
}

func TestReport_Manual(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	ev, err := h.e.Report(context.Background(), ReportFields{
		TamperType:    "dom",
		TamperContent: "Happy TS",
		Confidence:    40,
	})
	if err != nil {
		t.Fatal(err)
	}
	if ev.ID != "tev_1" || ev.EventType != report.EventManual || ev.DetectionMethod != MethodManual {
		t.Errorf("event = %+v", ev)
	}
	h.flush(t)
	got := h.log.ofType(report.EventManual)
	if len(got) != 1 || got[0].AdditionalInfo["source"] != "api" {
		t.Errorf("manual events = %+v", got)
	}

	if _, err := h.e.Report(context.Background(), ReportFields{TamperType: "aliens"}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("bad tamper type: %v", err)
	}
}

func TestRecover_Manual(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	ctx := context.Background()

	if _, err := h.e.Recover(ctx, "soft"); !errors.Is(err, ErrMissingElement) {
		t.Errorf("soft without records: %v", err)
	}
	if err := h.e.SetIntegrity(ctx, "brand", "Happy TTS"); err != nil {
		t.Fatal(err)
	}
	state, err := h.e.Recover(ctx, "soft")
	if err != nil || state != "soft_recovery" {
		t.Errorf("soft: %s %v", state, err)
	}
	state, err = h.e.Recover(ctx, "exit")
	if err != nil || state != "normal" {
		t.Errorf("exit: %s %v", state, err)
	}
	if _, err := h.e.Recover(ctx, "panic"); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("unknown kind: %v", err)
	}
}

func TestDebug_TogglesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, lvl, err := logging.New(logging.Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatal(err)
	}
	h := newHarness(t, newFakeHost(), true, WithLogger(logger), WithLevel(lvl))
	h.e.Debug(true)
	if !lvl.Debug() || !h.e.Status().Debug {
		t.Error("debug not enabled")
	}
	h.e.Debug(false)
	if lvl.Debug() {
		t.Error("debug still enabled")
	}
}

func TestHandleMutations_RecoversPanic(t *testing.T) {
	h := newHarness(t, newFakeHost(), true)
	h.e.HandleMutations(func(yield func(page.Record) bool) {
		panic("broken observer")
	})
	if st := h.e.Status(); st.Phase != PhaseRunning {
		t.Errorf("phase = %s", st.Phase)
	}
}

func TestIsEngineError(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("boom"), false},
		{engineErr("check", ErrDisabled), true},
		{errors.New(Tag + " check: engine disabled"), true},
	}
	for _, tt := range tests {
		if got := IsEngineError(tt.err); got != tt.want {
			t.Errorf("IsEngineError(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
