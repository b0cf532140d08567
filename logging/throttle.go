package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Throttle is a slog.Handler that forwards at most max error records. The
// first error past the cap is replaced by a single "error output paused"
// warning; later errors are dropped. Records below error level pass through.
type Throttle struct {
	next  slog.Handler
	state *throttleState
}

type throttleState struct {
	max    int64
	errors atomic.Int64
}

// NewThrottle wraps next with an error cap. Handlers derived through
// WithAttrs and WithGroup share the same counter.
func NewThrottle(next slog.Handler, max int) *Throttle {
	st := &throttleState{max: int64(max)}
	return &Throttle{next: next, state: st}
}

func (t *Throttle) Enabled(ctx context.Context, level slog.Level) bool {
	return t.next.Enabled(ctx, level)
}

func (t *Throttle) Handle(ctx context.Context, r slog.Record) error {
	if r.Level < slog.LevelError {
		return t.next.Handle(ctx, r)
	}
	n := t.state.errors.Add(1)
	switch {
	case n <= t.state.max:
		return t.next.Handle(ctx, r)
	case n == t.state.max+1:
		notice := slog.NewRecord(time.Now(), slog.LevelWarn, "error output paused", 0)
		notice.AddAttrs(slog.Int64("max_errors", t.state.max))
		return t.next.Handle(ctx, notice)
	default:
		return nil
	}
}

func (t *Throttle) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Throttle{next: t.next.WithAttrs(attrs), state: t.state}
}

func (t *Throttle) WithGroup(name string) slog.Handler {
	return &Throttle{next: t.next.WithGroup(name), state: t.state}
}

// Paused reports whether the error cap has been reached.
func (t *Throttle) Paused() bool { return t.state.errors.Load() > t.state.max }
