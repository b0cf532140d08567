// Package recovery is the escalation state machine:
//
//	Normal -> SoftRecovery -> EmergencyRecovery -> Lockdown
//
// SoftRecovery restores a single node; EmergencyRecovery replaces the whole
// document with the baseline; Lockdown shows a countdown overlay, then the
// watermark event, then closes the page. Soft and emergency recovery fall
// back to Normal after a quiet cool-down. Lockdown is terminal.
//
// A Machine is not safe for concurrent use. Its timers run through the
// scheduler, which holds the same lock as the engine.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/hazyhaar/tamperguard/guard/internal/sched"
	"github.com/hazyhaar/tamperguard/guard/page"
	"github.com/hazyhaar/tamperguard/guard/report"
)

// State is a recovery state.
type State int

const (
	Normal State = iota
	SoftRecovery
	EmergencyRecovery
	Lockdown
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case SoftRecovery:
		return "soft_recovery"
	case EmergencyRecovery:
		return "emergency_recovery"
	case Lockdown:
		return "lockdown"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Incident is a confirmed tamper finding.
type Incident struct {
	Kind       report.TamperType
	ElementID  string
	Target     string
	Attr       string
	Original   string
	Observed   string
	Restore    string
	Remove     bool // soft recovery detaches Target rather than rewriting it
	Confidence int
	Method     string
}

// Transition is emitted for every state change and for the final
// termination of a locked-down session.
type Transition struct {
	From     State
	To       State
	Reason   string
	Incident *Incident
	Attempts int
	Err      error
}

// Effects are the side effects the machine drives.
type Effects struct {
	RestoreText    func(ctx context.Context, r page.Restoration) error
	RestoreAll     func(ctx context.Context) error
	PresentOverlay func(ctx context.Context, o page.Overlay) error
	ShowWatermark  func(ctx context.Context) error
	Terminate      func(ctx context.Context) error
}

// Config controls escalation.
type Config struct {
	MaxAttempts int
	Cooldown    time.Duration
	Countdown   time.Duration
	Title       string
	Message     string
}

// Reasons carried by transitions.
const (
	ReasonSoft            = "text restored"
	ReasonDirect          = "network or proxy tampering"
	ReasonAttempts        = "attempt limit reached"
	ReasonSoftFailed      = "text restore failed"
	ReasonRestoreFailed   = "emergency restore failed"
	ReasonRepeat          = "tampering during emergency recovery"
	ReasonCooldown        = "cool-down elapsed"
	ReasonTerminated      = "session terminated"
	ReasonManual          = "manual"
	ReasonTerminateFailed = "terminate failed"
)

// Machine is the escalation state machine.
type Machine struct {
	cfg   Config
	fx    Effects
	sched *sched.Scheduler
	ctx   context.Context
	emit  func(Transition)

	state     State
	attempts  map[string]int
	exitID    sched.ID
	tickID    sched.ID
	remaining time.Duration
}

// New creates a Machine in Normal. ctx is used for effects run from timers;
// emit receives every transition.
func New(ctx context.Context, cfg Config, fx Effects, s *sched.Scheduler, emit func(Transition)) *Machine {
	if emit == nil {
		emit = func(Transition) {}
	}
	return &Machine{cfg: cfg, fx: fx, sched: s, ctx: ctx, emit: emit, attempts: make(map[string]int)}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Attempts returns the attempt count for an element.
func (m *Machine) Attempts(id string) int { return m.attempts[id] }

// AttemptCounts returns a copy of every attempt counter.
func (m *Machine) AttemptCounts() map[string]int {
	out := make(map[string]int, len(m.attempts))
	for k, v := range m.attempts {
		out[k] = v
	}
	return out
}

// Remaining returns the lockdown countdown left.
func (m *Machine) Remaining() time.Duration { return m.remaining }

// Handle applies one incident and returns the resulting state.
func (m *Machine) Handle(ctx context.Context, inc Incident) State {
	switch m.state {
	case Lockdown:
		return m.state
	case EmergencyRecovery:
		m.lockdown(ctx, &inc, ReasonRepeat)
		return m.state
	}

	if inc.Kind == report.TamperNetwork || inc.Kind == report.TamperProxy {
		m.emergency(ctx, &inc, ReasonDirect)
		return m.state
	}
	n := m.attempts[inc.ElementID]
	if n >= m.cfg.MaxAttempts {
		m.emergency(ctx, &inc, ReasonAttempts)
		return m.state
	}
	m.attempts[inc.ElementID] = n + 1
	m.soft(ctx, &inc)
	return m.state
}

func (m *Machine) soft(ctx context.Context, inc *Incident) {
	from := m.state
	if m.fx.RestoreText != nil {
		err := m.fx.RestoreText(ctx, page.Restoration{Target: inc.Target, Attr: inc.Attr, Value: inc.Restore, Remove: inc.Remove})
		if err != nil {
			m.emergency(ctx, inc, ReasonSoftFailed)
			return
		}
	}
	m.state = SoftRecovery
	m.armExit()
	m.emit(Transition{From: from, To: SoftRecovery, Reason: ReasonSoft, Incident: inc, Attempts: m.attempts[inc.ElementID]})
}

func (m *Machine) emergency(ctx context.Context, inc *Incident, reason string) {
	from := m.state
	m.state = EmergencyRecovery
	var err error
	if m.fx.RestoreAll != nil {
		err = m.fx.RestoreAll(ctx)
	}
	attempts := 0
	if inc != nil {
		attempts = m.attempts[inc.ElementID]
	}
	if err != nil {
		// Never leave the page stuck in recovery.
		m.sched.Cancel(m.exitID)
		m.state = Normal
		m.emit(Transition{From: from, To: Normal, Reason: ReasonRestoreFailed, Incident: inc, Attempts: attempts, Err: err})
		return
	}
	m.armExit()
	m.emit(Transition{From: from, To: EmergencyRecovery, Reason: reason, Incident: inc, Attempts: attempts})
}

func (m *Machine) lockdown(ctx context.Context, inc *Incident, reason string) {
	from := m.state
	m.state = Lockdown
	m.sched.Cancel(m.exitID)
	m.remaining = m.cfg.Countdown
	attempts := 0
	if inc != nil {
		attempts = m.attempts[inc.ElementID]
	}
	m.emit(Transition{From: from, To: Lockdown, Reason: reason, Incident: inc, Attempts: attempts})
	m.present(ctx)
	m.tickID = m.sched.Every(time.Second, m.tick)
}

func (m *Machine) present(ctx context.Context) {
	if m.fx.PresentOverlay == nil {
		return
	}
	// A failed overlay does not stop the countdown.
	_ = m.fx.PresentOverlay(ctx, page.Overlay{Title: m.cfg.Title, Message: m.cfg.Message, Countdown: m.remaining})
}

func (m *Machine) tick() {
	if m.state != Lockdown {
		m.sched.Cancel(m.tickID)
		return
	}
	m.remaining -= time.Second
	if m.remaining > 0 {
		m.present(m.ctx)
		return
	}
	m.remaining = 0
	m.sched.Cancel(m.tickID)
	m.present(m.ctx)
	var err error
	if m.fx.ShowWatermark != nil {
		err = m.fx.ShowWatermark(m.ctx)
	}
	reason := ReasonTerminated
	if m.fx.Terminate != nil {
		if terr := m.fx.Terminate(m.ctx); terr != nil {
			err = terr
			reason = ReasonTerminateFailed
		}
	}
	m.emit(Transition{From: Lockdown, To: Lockdown, Reason: reason, Err: err})
}

func (m *Machine) armExit() {
	m.sched.Cancel(m.exitID)
	m.exitID = m.sched.After(m.cfg.Cooldown, func() { m.exit(ReasonCooldown) })
}

func (m *Machine) exit(reason string) {
	if m.state != SoftRecovery && m.state != EmergencyRecovery {
		return
	}
	from := m.state
	m.state = Normal
	m.emit(Transition{From: from, To: Normal, Reason: reason})
}

// Escalate forces a state without an incident from the page. Escalating to
// Normal is Exit.
func (m *Machine) Escalate(ctx context.Context, to State, inc Incident) error {
	if m.state == Lockdown {
		return fmt.Errorf("recovery: session is locked down")
	}
	if inc.Method == "" {
		inc.Method = ReasonManual
	}
	switch to {
	case Normal:
		m.Exit()
	case SoftRecovery:
		if inc.Target == "" {
			return fmt.Errorf("recovery: soft recovery needs a target")
		}
		m.soft(ctx, &inc)
	case EmergencyRecovery:
		m.emergency(ctx, &inc, ReasonManual)
	case Lockdown:
		m.lockdown(ctx, &inc, ReasonManual)
	default:
		return fmt.Errorf("recovery: unknown state %v", to)
	}
	return nil
}

// Exit returns to Normal from soft or emergency recovery.
func (m *Machine) Exit() {
	m.sched.Cancel(m.exitID)
	m.exit(ReasonManual)
}

// ResetAttempts clears the counter for id, or every counter when id is empty.
func (m *Machine) ResetAttempts(id string) {
	if id == "" {
		clear(m.attempts)
		return
	}
	delete(m.attempts, id)
}

// Reset cancels every timer, clears the counters and returns to Normal.
func (m *Machine) Reset() {
	m.sched.Cancel(m.exitID)
	m.sched.Cancel(m.tickID)
	m.state = Normal
	m.remaining = 0
	clear(m.attempts)
}

// ParseState maps a state or recovery-kind name to a State.
func ParseState(s string) (State, error) {
	switch s {
	case "normal", "exit":
		return Normal, nil
	case "soft", "soft_recovery":
		return SoftRecovery, nil
	case "emergency", "emergency_recovery":
		return EmergencyRecovery, nil
	case "lockdown":
		return Lockdown, nil
	}
	return Normal, fmt.Errorf("recovery: unknown kind %q", s)
}
