package guard

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/tamperguard/guard/integrity"
	"github.com/hazyhaar/tamperguard/guard/internal/baseline"
	"github.com/hazyhaar/tamperguard/guard/internal/recovery"
	"github.com/hazyhaar/tamperguard/guard/internal/scoring"
	"github.com/hazyhaar/tamperguard/guard/page"
	"github.com/hazyhaar/tamperguard/guard/report"
	"github.com/hazyhaar/tamperguard/horosafe"
	"github.com/hazyhaar/tamperguard/kit"
)

// Check scopes.
const (
	ScopePage    = "page"
	ScopeElement = "element"
	ScopeNetwork = "network"
	ScopeAll     = "all"
)

// Control actions.
const (
	ActionPause   = "pause"
	ActionResume  = "resume"
	ActionDisable = "disable"
	ActionReset   = "reset"
	ActionReinit  = "reinit"
)

// CheckResult is the outcome of an on-demand check.
type CheckResult struct {
	Scope             string   `json:"scope"`
	Checked           int      `json:"checked"`
	Skipped           bool     `json:"skipped,omitempty"`
	Tampered          bool     `json:"tampered"`
	Findings          []string `json:"findings,omitempty"`
	Confidence        int      `json:"confidence"`
	Threshold         int      `json:"threshold"`
	Signals           []string `json:"signals,omitempty"`
	MissingCritical   []string `json:"missingCritical,omitempty"`
	HasProxyTampering bool     `json:"hasProxyTampering"`
	LengthDelta       int      `json:"lengthDelta"`
	State             string   `json:"state"`
}

func (r *CheckResult) fill(a scoring.Assessment) {
	r.Confidence = a.Confidence
	r.Threshold = a.Threshold
	r.Signals = signalNames(a)
	r.MissingCritical = a.MissingCritical
	r.HasProxyTampering = a.HasProxyTampering
	r.LengthDelta = a.LengthDelta
}

func (r *CheckResult) merge(o CheckResult) {
	r.Checked += o.Checked
	r.Tampered = r.Tampered || o.Tampered
	r.Findings = append(r.Findings, o.Findings...)
	r.HasProxyTampering = r.HasProxyTampering || o.HasProxyTampering
	if o.Confidence > r.Confidence {
		r.Confidence = o.Confidence
	}
	if o.Threshold != 0 {
		r.Threshold = o.Threshold
	}
	r.State = o.State
}

// ReportFields are the caller-supplied fields of a manual report.
type ReportFields struct {
	ElementID       string         `json:"elementId,omitempty"`
	EventType       string         `json:"eventType,omitempty"`
	TamperType      string         `json:"tamperType,omitempty"`
	DetectionMethod string         `json:"detectionMethod,omitempty"`
	OriginalContent string         `json:"originalContent,omitempty"`
	TamperContent   string         `json:"tamperContent,omitempty"`
	Confidence      int            `json:"confidence,omitempty"`
	AdditionalInfo  map[string]any `json:"additionalInfo,omitempty"`
}

// SimulationResult is the outcome of Simulate.
type SimulationResult struct {
	Kind       string `json:"kind"`
	EventID    string `json:"eventId"`
	Detected   bool   `json:"detected"`
	Confidence int    `json:"confidence"`
	State      string `json:"state"`
}

// BaselineStatus summarises the captured baseline.
type BaselineStatus struct {
	Captured   bool      `json:"captured"`
	Length     int       `json:"length,omitempty"`
	Checksum   string    `json:"checksum,omitempty"`
	CapturedAt time.Time `json:"capturedAt,omitzero"`
	Critical   []string  `json:"critical,omitempty"`
}

// Status is a snapshot of the engine.
type Status struct {
	Phase            Phase          `json:"phase"`
	State            string         `json:"state"`
	Paused           bool           `json:"paused"`
	Debug            bool           `json:"debug"`
	Desensitized     bool           `json:"desensitized"`
	FalsePositives   int            `json:"falsePositives"`
	Incidents        int            `json:"incidents"`
	Attempts         map[string]int `json:"attempts"`
	Baseline         BaselineStatus `json:"baseline"`
	IntegrityRecords int            `json:"integrityRecords"`
	NetworkRecords   int            `json:"networkRecords"`
	CheckInterval    string         `json:"checkInterval"`
	LastCheck        time.Time      `json:"lastCheck,omitzero"`
	Countdown        string         `json:"countdown,omitempty"`
}

// usable returns why the engine cannot act, if it cannot. e.mu held.
func (e *Engine) usable(force bool) error {
	switch e.phase {
	case PhaseDisabled:
		return ErrDisabled
	case PhaseTerminated:
		return ErrTerminated
	case PhaseRunning:
	default:
		return ErrNotStarted
	}
	if e.paused && !force {
		return ErrPaused
	}
	return nil
}

// Check runs an on-demand check. force runs it while paused and logs
// low-confidence changes even after desensitization.
func (e *Engine) Check(ctx context.Context, scope, elementID string, force bool) (CheckResult, error) {
	switch scope {
	case ScopePage, ScopeElement:
		e.mu.Lock()
		defer e.mu.Unlock()
		res, err := e.checkLocked(ctx, scope, elementID, force)
		return res, engineErr("check", err)
	case ScopeNetwork:
		res, err := e.checkNetwork(ctx, force)
		return res, engineErr("check", err)
	case ScopeAll:
		return e.checkAll(ctx, force)
	}
	return CheckResult{Scope: scope}, engineErr("check", fmt.Errorf("%w: %q", ErrUnknownScope, scope))
}

// checkLocked runs a page or element check. e.mu held.
func (e *Engine) checkLocked(ctx context.Context, scope, elementID string, force bool) (CheckResult, error) {
	if err := e.usable(force); err != nil {
		if errors.Is(err, ErrPaused) {
			return CheckResult{Scope: scope, Skipped: true, State: e.machine.State().String()}, nil
		}
		return CheckResult{Scope: scope}, err
	}
	var (
		res CheckResult
		err error
	)
	e.safely("check", func() {
		if scope == ScopePage || strings.HasPrefix(elementID, baseline.CriticalPrefix) {
			res, err = e.checkPage(ctx, force)
			res.Scope = scope
			return
		}
		res, err = e.checkElement(ctx, elementID)
	})
	return res, err
}

// checkElement verifies one integrity record against the live element.
// A checksum mismatch on a registered element is conclusive. e.mu held.
func (e *Engine) checkElement(ctx context.Context, id string) (CheckResult, error) {
	res := CheckResult{Scope: ScopeElement, Threshold: e.scorer.Threshold()}
	if id == "" {
		return res, ErrMissingElement
	}
	if e.exemptNow(ctx) {
		res.Skipped = true
		res.State = e.machine.State().String()
		return res, nil
	}
	rec, ok := e.store.Get(id)
	if !ok {
		return res, fmt.Errorf("no integrity record for %q", id)
	}
	text, err := e.host.ElementText(ctx, id)
	if err != nil {
		return res, fmt.Errorf("read element %q: %w", id, err)
	}
	e.lastCheck = e.now()
	res.Checked = 1
	same, err := e.store.Verify(id, text)
	if err != nil {
		return res, err
	}
	if !same {
		res.Tampered = true
		res.Confidence = 100
		res.Findings = []string{id}
		e.incident(ctx, recovery.Incident{
			Kind:       report.TamperDOM,
			ElementID:  id,
			Target:     id,
			Original:   rec.Content,
			Observed:   text,
			Restore:    rec.Content,
			Confidence: 100,
			Method:     MethodElement,
		}, map[string]any{"recordChecksum": rec.Checksum, "recordSignature": rec.Signature})
	}
	res.State = e.machine.State().String()
	return res, nil
}

// checkNetwork re-fetches every known URL and compares it with the first
// response recorded for it. Fetches run without the engine lock.
func (e *Engine) checkNetwork(ctx context.Context, force bool) (CheckResult, error) {
	res := CheckResult{Scope: ScopeNetwork}
	e.mu.Lock()
	if err := e.usable(force); err != nil {
		e.mu.Unlock()
		if errors.Is(err, ErrPaused) {
			res.Skipped = true
			return res, nil
		}
		return res, err
	}
	urls := e.net.URLs()
	maxBody := e.cfg.Network.MaxBody
	res.Threshold = e.scorer.Threshold()
	e.mu.Unlock()

	for _, u := range urls {
		resp, err := e.fetch(ctx, u, maxBody)
		if err != nil {
			e.logger.Debug("tamperguard: network check fetch failed", "url", u, "error", err)
			continue
		}
		res.Checked++
		e.mu.Lock()
		var hit bool
		e.safely("network check", func() { hit = e.observeResponse(ctx, resp) })
		e.mu.Unlock()
		if hit {
			res.Tampered = true
			res.Findings = append(res.Findings, u)
		}
	}
	e.mu.Lock()
	res.State = e.machine.State().String()
	e.mu.Unlock()
	return res, nil
}

func (e *Engine) fetch(ctx context.Context, u string, maxBody int64) (*page.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if maxBody <= 0 {
		maxBody = horosafe.MaxResponseBody
	}
	body, err := horosafe.LimitedReadAll(resp.Body, maxBody)
	if err != nil {
		return nil, err
	}
	return &page.Response{URL: u, Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// checkAll runs the page check, every element record and the network check.
func (e *Engine) checkAll(ctx context.Context, force bool) (CheckResult, error) {
	e.mu.Lock()
	res, err := e.checkLocked(ctx, ScopePage, "", force)
	if err != nil || res.Skipped {
		e.mu.Unlock()
		res.Scope = ScopeAll
		return res, engineErr("check", err)
	}
	for _, id := range e.store.IDs() {
		if strings.HasPrefix(id, baseline.CriticalPrefix) || e.escalated() {
			continue
		}
		er, err := e.checkLocked(ctx, ScopeElement, id, force)
		if err != nil {
			e.logger.Debug("tamperguard: element check failed", "element", id, "error", err)
			continue
		}
		res.merge(er)
	}
	e.mu.Unlock()

	nr, err := e.checkNetwork(ctx, force)
	if err != nil {
		res.Scope = ScopeAll
		return res, engineErr("check", err)
	}
	res.merge(nr)
	res.Scope = ScopeAll
	return res, nil
}

// Report sends an operator-supplied event through the reporting sink.
func (e *Engine) Report(ctx context.Context, f ReportFields) (report.TamperEvent, error) {
	kind := report.TamperType(f.TamperType)
	if kind != "" && !kind.Valid() {
		return report.TamperEvent{}, engineErr("report", fmt.Errorf("%w: tamper type %q", ErrUnknownKind, f.TamperType))
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ev := e.event(ctx, firstNonEmpty(f.EventType, report.EventManual), kind,
		firstNonEmpty(f.ElementID, "page"), firstNonEmpty(f.DetectionMethod, MethodManual))
	ev.OriginalContent = f.OriginalContent
	ev.TamperContent = f.TamperContent
	ev.Confidence = f.Confidence
	if f.TamperContent != "" {
		ev.Checksum = integrity.Checksum(f.TamperContent)
	}
	for k, v := range f.AdditionalInfo {
		ev.AdditionalInfo[k] = v
	}
	ev.AdditionalInfo["source"] = kit.GetTransport(ctx)
	ev, ok := e.reporter.Report(ev)
	if !ok {
		return ev, engineErr("report", errors.New("event not queued"))
	}
	return ev, nil
}

// Recover forces a recovery step: soft, emergency, lockdown or exit.
// Soft recovery restores every registered element to its recorded text.
func (e *Engine) Recover(ctx context.Context, kind string) (string, error) {
	to, err := recovery.ParseState(kind)
	if err != nil {
		return "", engineErr("recover", fmt.Errorf("%w: %q", ErrUnknownKind, kind))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.usable(true); err != nil {
		return e.machine.State().String(), engineErr("recover", err)
	}

	inc := recovery.Incident{ElementID: "page", Method: MethodManual}
	switch to {
	case recovery.SoftRecovery:
		restored := 0
		for _, id := range e.store.IDs() {
			if strings.HasPrefix(id, baseline.CriticalPrefix) {
				continue
			}
			rec, _ := e.store.Get(id)
			err := e.machine.Escalate(ctx, recovery.SoftRecovery, recovery.Incident{
				Kind: report.TamperDOM, ElementID: id, Target: id,
				Original: rec.Content, Restore: rec.Content, Method: MethodManual,
			})
			if err != nil {
				return e.machine.State().String(), engineErr("recover", err)
			}
			restored++
		}
		if restored == 0 {
			return e.machine.State().String(), engineErr("recover", fmt.Errorf("%w: no element records to restore", ErrMissingElement))
		}
	default:
		if to == recovery.EmergencyRecovery && !e.store.Valid() {
			return e.machine.State().String(), engineErr("recover", ErrNoBaseline)
		}
		if err := e.machine.Escalate(ctx, to, inc); err != nil {
			return e.machine.State().String(), engineErr("recover", err)
		}
	}
	return e.machine.State().String(), nil
}

// Simulate injects a synthetic incident of kind (dom, network, proxy,
// injection) through the detection pipeline. A simulation event is
// reported first so the collector can tell drills from real incidents.
func (e *Engine) Simulate(ctx context.Context, kind, elementID, content string) (SimulationResult, error) {
	tt := report.TamperType(kind)
	if !tt.Valid() {
		return SimulationResult{Kind: kind}, engineErr("simulate", fmt.Errorf("%w: %q", ErrUnknownKind, kind))
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	res := SimulationResult{Kind: kind}
	if err := e.usable(false); err != nil {
		return res, engineErr("simulate", err)
	}
	base, err := e.store.Current()
	if err != nil {
		return res, engineErr("simulate", ErrNoBaseline)
	}

	ev := e.event(ctx, report.EventSimulation, tt, firstNonEmpty(elementID, "simulated"), MethodManual)
	ev.TamperContent = content
	ev.AdditionalInfo["source"] = kit.GetTransport(ctx)
	ev, _ = e.reporter.Report(ev)
	res.EventID = ev.ID

	before := e.incidents
	e.safely("simulate", func() {
		switch tt {
		case report.TamperDOM:
			id := firstNonEmpty(elementID, "simulated-title")
			e.handleBatch(ctx, page.Batch(page.Record{
				Op: page.OpText, Target: id, ID: id,
				OldValue: firstNonEmpty(e.firstProtected(), "Happy TTS"),
				Value:    firstNonEmpty(content, "Happy TS "),
			}))
		case report.TamperInjection:
			id := firstNonEmpty(elementID, "simulated-injection")
			e.handleBatch(ctx, page.Batch(page.Record{
				Op: page.OpInsert, Target: id, ID: id, Tag: "div",
				HTML: firstNonEmpty(content, `<div>injected by simulation<script src="https://simulated.invalid/x.js"></script></div>`),
			}))
		default:
			current := content
			if current == "" {
				current = base.Content + "<!-- proxied by mitmproxy -->"
				if tt == report.TamperNetwork {
					current = "<html><body><p>simulated network rewrite</p></body></html>"
				}
			}
			a := e.scorer.Score(base.Content, current, base.Critical)
			res.Confidence = a.Confidence
			info := assessmentInfo(a)
			info["simulated"] = true
			e.incident(ctx, recovery.Incident{
				Kind:       tt,
				ElementID:  firstNonEmpty(elementID, "simulated-response"),
				Original:   base.Content,
				Observed:   current,
				Confidence: a.Confidence,
				Method:     MethodManual,
			}, info)
		}
	})
	res.Detected = e.incidents > before
	if res.Detected && res.Confidence == 0 && (tt == report.TamperDOM || tt == report.TamperInjection) {
		if c, err := e.host.Content(ctx); err == nil {
			res.Confidence = e.scorer.Score(base.Content, c, base.Critical).Confidence
		}
	}
	res.State = e.machine.State().String()
	return res, nil
}

func (e *Engine) firstProtected() string {
	if len(e.cfg.Monitor.Protected) == 0 {
		return ""
	}
	return e.cfg.Monitor.Protected[0].Expected
}

// Status returns a snapshot of the engine.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Status{
		Phase:            e.phase,
		State:            e.machine.State().String(),
		Paused:           e.paused,
		Debug:            e.debug,
		Desensitized:     e.desensitized,
		FalsePositives:   e.falsePositives,
		Incidents:        e.incidents,
		Attempts:         e.machine.AttemptCounts(),
		IntegrityRecords: e.store.Len(),
		NetworkRecords:   e.net.Len(),
		CheckInterval:    e.interval.String(),
		LastCheck:        e.lastCheck,
	}
	if b, err := e.store.Current(); err == nil {
		st.Baseline = BaselineStatus{
			Captured:   true,
			Length:     len(b.Content),
			Checksum:   b.Checksum,
			CapturedAt: b.CapturedAt,
			Critical:   b.Critical,
		}
	}
	if e.machine.State() == recovery.Lockdown {
		st.Countdown = e.machine.Remaining().String()
	}
	return st
}

// Debug switches debug logging.
func (e *Engine) Debug(enable bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.debug = enable
	if e.level != nil {
		e.level.SetDebug(enable)
	}
	e.logger.Info("tamperguard: debug logging", "enabled", enable)
}

// Control applies a lifecycle action: pause, resume, disable, reset or
// reinit.
func (e *Engine) Control(ctx context.Context, action string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == PhaseTerminated {
		return engineErr("control", ErrTerminated)
	}
	switch action {
	case ActionPause:
		e.paused = true
	case ActionResume:
		e.paused = false
	case ActionDisable:
		e.phase = PhaseDisabled
		e.stopLocked()
	case ActionReset:
		e.machine.Reset()
		e.net.Reset()
		e.falsePositives = 0
		e.desensitized = false
		e.interval = e.cfg.Check.Interval
		if e.phase == PhaseRunning {
			e.armCheck()
		}
	case ActionReinit:
		e.stopLocked()
		e.store.Reset()
		e.net.Reset()
		e.paused = false
		e.falsePositives = 0
		e.desensitized = false
		e.settleUntil = time.Time{}
		e.interval = e.cfg.Check.Interval
		e.phase = PhaseCapturing
		e.captureID = e.sched.After(0, e.captureTick)
	default:
		return engineErr("control", fmt.Errorf("%w: %q", ErrUnknownAction, action))
	}
	e.logger.Info("tamperguard: control", "action", action, "phase", e.phase)
	return nil
}

// SetIntegrity registers (or replaces) the integrity record of an element.
// An empty content reads the element's current text from the page.
func (e *Engine) SetIntegrity(ctx context.Context, id, content string) error {
	if id == "" {
		return engineErr("set integrity", ErrMissingElement)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if content == "" {
		text, err := e.host.ElementText(ctx, id)
		if err != nil {
			return engineErr("set integrity", fmt.Errorf("read element %q: %w", id, err))
		}
		content = text
	}
	e.store.SetIntegrity(id, content, e.now())
	e.machine.ResetAttempts(id)
	return nil
}

// Recapture takes a fresh baseline now, after a legitimate content update.
// Attempt counters are cleared.
func (e *Engine) Recapture(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.phase {
	case PhaseRunning, PhaseCapturing:
	case PhaseDisabled:
		return engineErr("recapture", ErrDisabled)
	case PhaseTerminated:
		return engineErr("recapture", ErrTerminated)
	default:
		return engineErr("recapture", ErrNotStarted)
	}
	err := e.capture(ctx)
	if errors.Is(err, errExempt) {
		e.phase = PhaseExempt
		e.stopLocked()
		return nil
	}
	if err != nil {
		return engineErr("recapture", err)
	}
	e.sched.Cancel(e.captureID)
	e.machine.ResetAttempts("")
	return nil
}

// FlushReports waits until every queued event has been delivered.
func (e *Engine) FlushReports(ctx context.Context) error {
	return engineErr("flush", e.reporter.Flush(ctx))
}
