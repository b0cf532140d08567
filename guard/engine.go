// Package guard is the tamper-detection-and-recovery engine. An Engine
// captures a baseline of a page once it has rendered, watches content-tree
// changes and HTML responses, scores suspicious differences, drives the
// recovery state machine and reports every incident.
//
// All engine state is owned by one mutex. Mutation batches, responses,
// timer callbacks and control calls are serialised through it, so the
// engine behaves as if it ran on the page's single event loop.
package guard

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/tamperguard/guard/integrity"
	"github.com/hazyhaar/tamperguard/guard/internal/baseline"
	"github.com/hazyhaar/tamperguard/guard/internal/exemption"
	"github.com/hazyhaar/tamperguard/guard/internal/monitor"
	"github.com/hazyhaar/tamperguard/guard/internal/netguard"
	"github.com/hazyhaar/tamperguard/guard/internal/recovery"
	"github.com/hazyhaar/tamperguard/guard/internal/sched"
	"github.com/hazyhaar/tamperguard/guard/internal/scoring"
	"github.com/hazyhaar/tamperguard/guard/page"
	"github.com/hazyhaar/tamperguard/guard/report"
	"github.com/hazyhaar/tamperguard/idgen"
	"github.com/hazyhaar/tamperguard/logging"
)

// Phase is the engine lifecycle phase.
type Phase string

const (
	PhaseIdle       Phase = "idle"       // constructed, not started
	PhaseCapturing  Phase = "capturing"  // waiting for a capturable page
	PhaseRunning    Phase = "running"    // watching
	PhaseExempt     Phase = "exempt"     // page is exempt; nothing is watched
	PhaseDisabled   Phase = "disabled"   // disabled by control
	PhaseTerminated Phase = "terminated" // lockdown closed the page
	PhaseStopped    Phase = "stopped"    // shut down
)

// Detection methods carried by events.
const (
	MethodMutation = "mutation_observer"
	MethodPageDiff = "page_diff"
	MethodNetwork  = "network_interceptor"
	MethodElement  = "integrity_check"
	MethodManual   = "manual"
)

// Engine is the tamper engine for one page session.
type Engine struct {
	mu sync.Mutex

	cfg      *Config
	host     page.Host
	logger   *slog.Logger
	level    *logging.Level
	clock    sched.Clock
	sinks    []report.Sink
	newID    idgen.Generator
	client   *http.Client
	sched    *sched.Scheduler
	reporter *report.Reporter

	policy  *exemption.Policy
	store   *baseline.Store
	monitor *monitor.Monitor
	net     *netguard.Guard
	scorer  *scoring.Scorer
	machine *recovery.Machine

	ctx         context.Context
	cancel      context.CancelFunc
	phase       Phase
	paused      bool
	debug       bool
	unsubscribe func()
	captureID   sched.ID
	checkID     sched.ID
	interval    time.Duration

	incidents      int
	falsePositives int
	desensitized   bool
	settleUntil    time.Time
	lastCheck      time.Time
}

// New builds an Engine for host. cfg must carry both secrets.
func New(cfg *Config, host page.Host, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, engineErr("new", errors.New("nil config"))
	}
	if host == nil {
		return nil, engineErr("new", errors.New("nil host"))
	}
	if err := cfg.Validate(); err != nil {
		return nil, engineErr("new", err)
	}

	e := &Engine{cfg: cfg, host: host, phase: PhaseIdle}
	for _, o := range opts {
		o(e)
	}
	if e.logger == nil {
		logger, lvl, err := logging.New(logging.Config{
			Level:     cfg.Log.Level,
			Format:    cfg.Log.Format,
			MaxErrors: cfg.Log.MaxErrors,
		})
		if err != nil {
			return nil, engineErr("new", fmt.Errorf("logging: %w", err))
		}
		e.logger = logger
		if e.level == nil {
			e.level = lvl
		}
	}
	if e.clock == nil {
		e.clock = sched.Real{}
	}
	if e.newID == nil {
		e.newID = idgen.Prefixed("tev_", idgen.UUIDv7())
	}
	if e.client == nil {
		e.client = &http.Client{Timeout: 15 * time.Second}
	}
	e.sched = sched.New(e.clock, &e.mu)
	e.interval = cfg.Check.Interval

	var err error
	e.policy = exemption.New(exemption.Config{
		TrustedOrigins:   cfg.Exemption.TrustedOrigins,
		Keywords:         cfg.Exemption.Keywords,
		ComponentMarkers: cfg.Exemption.ComponentMarkers,
	})
	if e.store, err = baseline.New(baseline.Config{
		MinLength:        cfg.Baseline.MinLength,
		CriticalPatterns: cfg.Baseline.CriticalPatterns,
		Secret:           cfg.IntegritySecret,
	}); err != nil {
		return nil, engineErr("new", err)
	}
	protected := make([]monitor.ProtectedText, len(cfg.Monitor.Protected))
	for i, p := range cfg.Monitor.Protected {
		protected[i] = monitor.ProtectedText{Expected: p.Expected, Variant: p.Variant, Allow: p.Allow}
	}
	if e.monitor, err = monitor.New(monitor.Config{
		SafeFragments:       cfg.Monitor.SafeFragments,
		Protected:           protected,
		InjectionSignatures: cfg.Monitor.InjectionSignatures,
	}); err != nil {
		return nil, engineErr("new", err)
	}
	if e.scorer, err = scoring.New(scoring.Config{
		Threshold:       cfg.Scoring.Threshold,
		LengthDrift:     cfg.Scoring.LengthDrift,
		ProxySignatures: cfg.Scoring.ProxySignatures,
		DynamicMarkers:  cfg.Scoring.DynamicMarkers,
		EntropyMinLen:   cfg.Scoring.EntropyMinLen,
		EntropyMin:      cfg.Scoring.EntropyMin,
	}); err != nil {
		return nil, engineErr("new", err)
	}
	e.net = netguard.New(cfg.NetworkSecret)

	var sink report.Sink
	if cfg.CollectorURL != "" {
		wh, err := report.NewWebhook(cfg.CollectorURL)
		if err != nil {
			return nil, engineErr("new", err)
		}
		e.sinks = append(e.sinks, wh)
	}
	switch len(e.sinks) {
	case 0:
		sink = report.Callback(nil)
	case 1:
		sink = e.sinks[0]
	default:
		sink = report.NewRouter(e.logger, e.sinks...)
	}
	e.reporter = report.NewReporter(sink,
		report.WithLogger(e.logger),
		report.WithIDGenerator(e.newID),
		report.WithClock(e.clock.Now),
		report.WithQueueSize(cfg.Report.QueueSize),
		report.WithMaxContent(cfg.Report.MaxContent),
	)

	e.ctx, e.cancel = context.WithCancel(context.Background())
	e.machine = e.newMachine()
	return e, nil
}

func (e *Engine) newMachine() *recovery.Machine {
	return recovery.New(e.ctx, recovery.Config{
		MaxAttempts: e.cfg.Recovery.MaxAttempts,
		Cooldown:    e.cfg.Recovery.Cooldown,
		Countdown:   e.cfg.Recovery.LockdownCountdown,
		Title:       e.cfg.Recovery.LockdownTitle,
		Message:     e.cfg.Recovery.LockdownMessage,
	}, recovery.Effects{
		RestoreText:    e.host.Restore,
		RestoreAll:     e.restoreAll,
		PresentOverlay: e.host.PresentOverlay,
		ShowWatermark:  e.host.ShowWatermark,
		Terminate:      e.host.Terminate,
	}, e.sched, e.onTransition)
}

// Start begins baseline capture. Capture polls the host until the page is
// ready; it never blocks the caller.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase != PhaseIdle {
		return engineErr("start", ErrAlreadyStarted)
	}
	e.phase = PhaseCapturing
	e.captureID = e.sched.After(0, e.captureTick)
	e.logger.Info("tamperguard: started", "check_interval", e.interval)
	return nil
}

// Shutdown cancels all scheduled work, stops observing and drains the
// report queue.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.phase != PhaseTerminated {
		e.phase = PhaseStopped
	}
	e.stopLocked()
	e.cancel()
	e.mu.Unlock()

	err := e.reporter.Flush(ctx)
	if cerr := e.reporter.Close(); err == nil {
		err = cerr
	}
	return engineErr("shutdown", err)
}

func (e *Engine) stopLocked() {
	e.sched.CancelAll()
	e.machine.Reset()
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
}

// safely runs fn and turns a panic into a throttled error log: a failing
// detection pass is skipped, never propagated.
func (e *Engine) safely(op string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("tamperguard: recovered panic", "op", op, "panic", fmt.Sprint(r))
		}
	}()
	fn()
}

func (e *Engine) now() time.Time { return e.clock.Now() }

// watching reports whether detection should run. e.mu held.
func (e *Engine) watching() bool {
	return e.phase == PhaseRunning && !e.paused && e.machine.State() != recovery.Lockdown
}

// captureTick is the baseline capture poll. e.mu held.
func (e *Engine) captureTick() {
	e.safely("capture", func() {
		if e.phase != PhaseCapturing {
			return
		}
		err := e.capture(e.ctx)
		switch {
		case err == nil:
		case errors.Is(err, errExempt):
			e.phase = PhaseExempt
			e.logger.Info("tamperguard: page is exempt, checks disabled")
		default:
			e.logger.Debug("tamperguard: baseline not capturable yet", "error", err, "retry", e.cfg.Baseline.RetryDelay)
			e.captureID = e.sched.After(e.cfg.Baseline.RetryDelay, e.captureTick)
		}
	})
}

var (
	errNotReady = errors.New("page not ready")
	errExempt   = errors.New("page exempt")
)

// capture takes the baseline and starts watching. e.mu held.
func (e *Engine) capture(ctx context.Context) error {
	ready, err := e.host.Ready(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return errNotReady
	}
	content, err := e.host.Content(ctx)
	if err != nil {
		return err
	}
	env, err := e.host.Env(ctx)
	if err != nil {
		return err
	}
	if e.policy.IsExempt(exemptionContext(env, content)) {
		return errExempt
	}
	b, err := e.store.Capture(content, e.now())
	if err != nil {
		return err
	}
	e.logger.Info("tamperguard: baseline captured",
		"length", len(b.Content), "checksum", b.Checksum, "critical", b.Critical)

	if e.unsubscribe == nil {
		cancel, err := e.host.Subscribe(e.ctx, e.HandleMutations)
		if err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
		e.unsubscribe = cancel
	}
	e.armCheck()
	e.phase = PhaseRunning
	return nil
}

func exemptionContext(env page.Env, content string) exemption.Context {
	return exemption.Context{URL: env.URL, Path: env.Path, Title: env.Title, Markers: page.Markers(content)}
}

// exemptNow re-evaluates the exemption policy against the live page, which
// may have navigated since capture. A page that cannot be read is not
// exempt. e.mu held.
func (e *Engine) exemptNow(ctx context.Context) bool {
	env, err := e.host.Env(ctx)
	if err != nil {
		return false
	}
	content, err := e.host.Content(ctx)
	if err != nil {
		content = ""
	}
	if !e.policy.IsExempt(exemptionContext(env, content)) {
		return false
	}
	e.logger.Debug("tamperguard: current page is exempt, cycle skipped", "path", env.Path, "title", env.Title)
	return true
}

func (e *Engine) armCheck() {
	e.sched.Cancel(e.checkID)
	e.checkID = e.sched.Every(e.interval, e.periodicCheck)
}

// periodicCheck is the full-page diff timer. e.mu held.
func (e *Engine) periodicCheck() {
	if !e.watching() {
		return
	}
	e.safely("periodic check", func() {
		if _, err := e.checkPage(e.ctx, false); err != nil {
			e.logger.Error("tamperguard: page check failed", "error", err)
		}
	})
}

// HandleMutations processes one batch of content-tree changes in delivery
// order. It is the callback handed to page.Tree.Subscribe.
func (e *Engine) HandleMutations(seq iter.Seq[page.Record]) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.watching() || e.now().Before(e.settleUntil) {
		return
	}
	e.safely("mutations", func() { e.handleBatch(e.ctx, seq) })
}

// handleBatch classifies each record. e.mu held.
func (e *Engine) handleBatch(ctx context.Context, seq iter.Seq[page.Record]) {
	base, err := e.store.Current()
	if err != nil || e.exemptNow(ctx) {
		return
	}
	fullCheck := false
	var current *string
	content := func() string {
		if current == nil {
			c, err := e.host.Content(ctx)
			if err != nil {
				c = ""
			}
			current = &c
		}
		return *current
	}

	for rec := range monitor.Compress(seq) {
		if !e.watching() {
			return
		}
		if e.policy.HasMarker(recordMarkers(rec)) {
			continue
		}
		v := e.monitor.Inspect(rec)
		switch v.Kind {
		case monitor.KindTamper:
			a := e.scorer.Score(base.Content, content(), base.Critical)
			e.incident(ctx, recovery.Incident{
				Kind:       report.TamperDOM,
				ElementID:  v.ElementID,
				Target:     v.Target,
				Attr:       v.Attr,
				Original:   firstNonEmpty(v.Original, v.Expected),
				Observed:   v.Observed,
				Restore:    v.Restore,
				Confidence: a.Confidence,
				Method:     MethodMutation,
			}, map[string]any{"expected": v.Expected, "signals": signalNames(a)})
			current = nil
			if e.escalated() {
				return
			}
		case monitor.KindInjection:
			if strings.Contains(base.Content, v.Signature) {
				continue
			}
			a := e.scorer.Score(base.Content, content(), base.Critical)
			e.incident(ctx, recovery.Incident{
				Kind:       report.TamperInjection,
				ElementID:  v.ElementID,
				Target:     v.Target,
				Observed:   v.Observed,
				Remove:     true,
				Confidence: a.Confidence,
				Method:     MethodMutation,
			}, map[string]any{"signature": v.Signature})
			current = nil
			if e.escalated() {
				return
			}
		case monitor.KindFullCheck:
			fullCheck = true
		}
	}
	if fullCheck && e.watching() {
		if _, err := e.checkPage(ctx, false); err != nil {
			e.logger.Error("tamperguard: page check failed", "error", err)
		}
	}
}

// escalated reports whether the page was replaced or locked, which makes
// the rest of the batch stale. e.mu held.
func (e *Engine) escalated() bool {
	s := e.machine.State()
	return s == recovery.EmergencyRecovery || s == recovery.Lockdown
}

func recordMarkers(r page.Record) []string {
	out := make([]string, 0, 2+len(r.Ancestry))
	if r.ID != "" {
		out = append(out, r.ID)
	}
	if strings.HasPrefix(r.Name, "data-") {
		out = append(out, r.Name)
	}
	return append(out, r.Ancestry...)
}

// checkPage diffs the current document against the baseline. force runs
// the check even when paused or desensitized. e.mu held.
func (e *Engine) checkPage(ctx context.Context, force bool) (CheckResult, error) {
	res := CheckResult{Scope: ScopePage}
	base, err := e.store.Current()
	if err != nil {
		return res, ErrNoBaseline
	}
	if e.exemptNow(ctx) {
		res.Skipped = true
		res.State = e.machine.State().String()
		return res, nil
	}
	content, err := e.host.Content(ctx)
	if err != nil {
		return res, fmt.Errorf("read content: %w", err)
	}
	e.lastCheck = e.now()
	res.Checked = 1
	if integrity.SameLabel(integrity.Checksum(content), base.Checksum) {
		res.State = e.machine.State().String()
		return res, nil
	}

	a := e.scorer.Score(base.Content, content, base.Critical)
	res.fill(a)
	if a.FalsePositive() {
		e.falsePositive(ScopePage, a, force)
		res.State = e.machine.State().String()
		return res, nil
	}
	res.Tampered = true
	e.incident(ctx, recovery.Incident{
		Kind:       report.TamperProxy,
		ElementID:  "page",
		Original:   base.Content,
		Observed:   content,
		Confidence: a.Confidence,
		Method:     MethodPageDiff,
	}, assessmentInfo(a))
	res.State = e.machine.State().String()
	return res, nil
}

// falsePositive counts a sub-threshold change. Once the limit is reached
// the check interval is widened for the rest of the session and warnings
// stop. e.mu held.
func (e *Engine) falsePositive(scope string, a scoring.Assessment, force bool) {
	e.falsePositives++
	if !e.desensitized || force {
		e.logger.Warn("tamperguard: low-confidence change ignored",
			"scope", scope, "confidence", a.Confidence, "signals", signalNames(a), "false_positives", e.falsePositives)
	}
	if !e.desensitized && e.falsePositives >= e.cfg.Scoring.FalsePositiveLimit {
		e.desensitized = true
		e.interval = e.cfg.Check.WidenedInterval
		if e.phase == PhaseRunning {
			e.armCheck()
		}
		e.logger.Info("tamperguard: false-positive limit reached, check interval widened",
			"interval", e.interval)

		method := MethodPageDiff
		if scope == ScopeNetwork {
			method = MethodNetwork
		}
		ev := e.event(e.ctx, report.EventFalsePositive, "", "page", method)
		ev.Confidence = a.Confidence
		ev.AdditionalInfo["falsePositives"] = e.falsePositives
		ev.AdditionalInfo["checkInterval"] = e.interval.String()
		e.emit(ev)
	}
}

// ObserveResponse feeds one completed response to the network guard. It
// matches netguard.Observer and is wired by Transport and Interceptor.
func (e *Engine) ObserveResponse(ctx context.Context, resp *page.Response) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.safely("response", func() { e.observeResponse(ctx, resp) })
}

// observeResponse returns whether an incident was raised. e.mu held.
func (e *Engine) observeResponse(ctx context.Context, resp *page.Response) bool {
	if !e.watching() || resp == nil || !netguard.IsHTML(resp.ContentType()) {
		return false
	}
	if e.policy.IsExempt(exemption.Context{URL: resp.URL, Path: urlPath(resp.URL)}) || e.exemptNow(ctx) {
		return false
	}
	cand, changed := e.net.Observe(resp.URL, string(resp.Body), e.now())
	if !changed {
		return false
	}

	var critical []string
	if base, err := e.store.Current(); err == nil {
		text := page.VisibleText(cand.Original.OriginalResponse)
		for _, c := range base.Critical {
			if strings.Contains(text, c) {
				critical = append(critical, c)
			}
		}
	}
	a := e.scorer.Score(cand.Original.OriginalResponse, cand.Current, critical)
	if a.FalsePositive() {
		e.falsePositive(ScopeNetwork, a, false)
		return false
	}
	kind := report.TamperNetwork
	if a.HasProxyTampering {
		kind = report.TamperProxy
	}
	info := assessmentInfo(a)
	info["requestUrl"] = cand.Original.URL
	info["originalHash"] = cand.Original.Hash
	e.incident(ctx, recovery.Incident{
		Kind:       kind,
		ElementID:  cand.Original.URL,
		Original:   cand.Original.OriginalResponse,
		Observed:   cand.Current,
		Confidence: a.Confidence,
		Method:     MethodNetwork,
	}, info)
	return true
}

func urlPath(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Path
}

// Transport wraps base (http.DefaultTransport when nil) so that HTML
// responses fetched through it are checked.
func (e *Engine) Transport(base http.RoundTripper) http.RoundTripper {
	return netguard.Transport(base, e.cfg.Network.MaxBody, e.ObserveResponse)
}

// Interceptor returns the fetch decorator that checks HTML responses.
func (e *Engine) Interceptor() page.Interceptor {
	return netguard.Middleware(e.ObserveResponse)
}

// incident reports a detection and hands it to the state machine. e.mu held.
func (e *Engine) incident(ctx context.Context, inc recovery.Incident, info map[string]any) {
	ev := e.event(ctx, report.EventTamperDetected, inc.Kind, inc.ElementID, inc.Method)
	ev.OriginalContent = inc.Original
	ev.TamperContent = inc.Observed
	ev.Checksum = integrity.Checksum(inc.Observed)
	ev.Confidence = inc.Confidence
	ev.Attempts = e.machine.Attempts(inc.ElementID)
	for k, v := range info {
		ev.AdditionalInfo[k] = v
	}
	e.emit(ev)
	e.incidents++
	e.logger.Warn("tamperguard: tampering detected",
		"type", inc.Kind, "element", inc.ElementID, "method", inc.Method, "confidence", inc.Confidence)

	e.machine.Handle(ctx, inc)
}

// restoreAll replaces the document with the baseline. e.mu held.
func (e *Engine) restoreAll(ctx context.Context) error {
	base, err := e.store.Current()
	if err != nil {
		return ErrNoBaseline
	}
	if err := e.host.Replace(ctx, base.Content); err != nil {
		return err
	}
	e.settleUntil = e.now().Add(e.cfg.Recovery.Settle)
	return nil
}

// onTransition reports a state change. e.mu held.
func (e *Engine) onTransition(tr recovery.Transition) {
	var eventType string
	switch {
	case tr.From == recovery.Lockdown && tr.To == recovery.Lockdown:
		eventType = report.EventLockdown
		e.phase = PhaseTerminated
		e.sched.CancelAll()
		if e.unsubscribe != nil {
			e.unsubscribe()
			e.unsubscribe = nil
		}
	case tr.To == recovery.SoftRecovery:
		eventType = report.EventSoftRecovery
	case tr.To == recovery.EmergencyRecovery:
		eventType = report.EventEmergencyRecovery
	case tr.To == recovery.Lockdown:
		eventType = report.EventLockdown
	case tr.Err != nil:
		eventType = report.EventRecoveryFailed
	default:
		eventType = report.EventRecoveryExit
	}

	var kind report.TamperType
	elementID, method := "page", "state_machine"
	if tr.Incident != nil {
		kind = tr.Incident.Kind
		if tr.Incident.ElementID != "" {
			elementID = tr.Incident.ElementID
		}
		if tr.Incident.Method != "" {
			method = tr.Incident.Method
		}
	}
	ev := e.event(e.ctx, eventType, kind, elementID, method)
	ev.Attempts = tr.Attempts
	ev.AdditionalInfo["from"] = tr.From.String()
	ev.AdditionalInfo["to"] = tr.To.String()
	ev.AdditionalInfo["reason"] = tr.Reason
	if tr.Incident != nil {
		ev.Confidence = tr.Incident.Confidence
		ev.OriginalContent = tr.Incident.Restore
		ev.TamperContent = tr.Incident.Observed
	}
	if tr.Err != nil {
		ev.AdditionalInfo["error"] = tr.Err.Error()
		e.logger.Error("tamperguard: recovery failed", "from", tr.From, "to", tr.To, "reason", tr.Reason, "error", tr.Err)
	} else {
		e.logger.Info("tamperguard: recovery transition", "from", tr.From, "to", tr.To, "reason", tr.Reason)
	}
	e.emit(ev)
}

// event builds a TamperEvent carrying the page environment. e.mu held.
func (e *Engine) event(ctx context.Context, eventType string, kind report.TamperType, elementID, method string) report.TamperEvent {
	ev := report.TamperEvent{
		ElementID:       elementID,
		Timestamp:       e.now().UnixMilli(),
		EventType:       eventType,
		TamperType:      kind,
		DetectionMethod: method,
		AdditionalInfo:  make(map[string]any),
	}
	env, err := e.host.Env(ctx)
	if err != nil {
		e.logger.Debug("tamperguard: environment unavailable", "error", err)
		return ev
	}
	ev.URL = env.URL
	ev.AdditionalInfo["userAgent"] = env.UserAgent
	ev.AdditionalInfo["screen"] = map[string]int{"width": env.ScreenWidth, "height": env.ScreenHeight}
	ev.AdditionalInfo["pageTitle"] = env.Title
	ev.AdditionalInfo["referrer"] = env.Referrer
	return ev
}

func (e *Engine) emit(ev report.TamperEvent) report.TamperEvent {
	ev, _ = e.reporter.Report(ev)
	return ev
}

func assessmentInfo(a scoring.Assessment) map[string]any {
	info := map[string]any{
		"lengthDelta":       a.LengthDelta,
		"hasProxyTampering": a.HasProxyTampering,
		"signals":           signalNames(a),
	}
	if len(a.MissingCritical) > 0 {
		info["missingCritical"] = a.MissingCritical
	}
	if len(a.ProxySignatures) > 0 {
		info["proxySignatures"] = a.ProxySignatures
	}
	return info
}

func signalNames(a scoring.Assessment) []string {
	out := make([]string, len(a.Contributions))
	for i, c := range a.Contributions {
		out[i] = c.Signal
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
