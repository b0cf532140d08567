package guard

import (
	"log/slog"
	"net/http"

	"github.com/hazyhaar/tamperguard/guard/internal/sched"
	"github.com/hazyhaar/tamperguard/guard/report"
	"github.com/hazyhaar/tamperguard/idgen"
	"github.com/hazyhaar/tamperguard/logging"
)

// Clock is the time source of the engine's scheduler.
type Clock = sched.Clock

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: a zap-backed logger built from
// the configuration's log section.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithLevel hands the engine the level Debug toggles.
func WithLevel(l *logging.Level) Option {
	return func(e *Engine) { e.level = l }
}

// WithClock replaces the wall clock (tests use sched.Fake).
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithSinks adds report destinations. When none are given and the
// configuration names a collector, events go to its webhook.
func WithSinks(sinks ...report.Sink) Option {
	return func(e *Engine) { e.sinks = append(e.sinks, sinks...) }
}

// WithIDGenerator sets the event ID generator.
func WithIDGenerator(g idgen.Generator) Option {
	return func(e *Engine) { e.newID = g }
}

// WithHTTPClient sets the client used to re-fetch known URLs during a
// network check.
func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}
