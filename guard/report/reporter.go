package report

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/tamperguard/idgen"
)

// Reporter queues events and delivers them to a Sink on a single goroutine.
// Report never blocks: when the queue is full the event is dropped.
type Reporter struct {
	sink       Sink
	logger     *slog.Logger
	newID      idgen.Generator
	now        func() time.Time
	maxContent int
	timeout    time.Duration

	queue chan TamperEvent
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	pending int           // accepted, not yet handed to the sink
	idle    chan struct{} // closed while pending is zero
}

// Option configures a Reporter.
type Option func(*Reporter)

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) Option { return func(r *Reporter) { r.logger = l } }

// WithQueueSize sets the queue capacity. Default: 256.
func WithQueueSize(n int) Option {
	return func(r *Reporter) {
		if n > 0 {
			r.queue = make(chan TamperEvent, n)
		}
	}
}

// WithIDGenerator sets the event ID generator. Default: "tev_" + UUIDv7.
func WithIDGenerator(g idgen.Generator) Option { return func(r *Reporter) { r.newID = g } }

// WithClock sets the timestamp source for events without one.
func WithClock(now func() time.Time) Option { return func(r *Reporter) { r.now = now } }

// WithMaxContent caps originalContent and tamperContent. Default: 4096 bytes.
func WithMaxContent(n int) Option { return func(r *Reporter) { r.maxContent = n } }

// WithSendTimeout bounds a single delivery. Default: 10s.
func WithSendTimeout(d time.Duration) Option { return func(r *Reporter) { r.timeout = d } }

// NewReporter starts the delivery goroutine.
func NewReporter(sink Sink, opts ...Option) *Reporter {
	r := &Reporter{
		sink:       sink,
		logger:     slog.Default(),
		newID:      idgen.Prefixed("tev_", idgen.UUIDv7()),
		now:        time.Now,
		maxContent: 4096,
		timeout:    10 * time.Second,
		queue:      make(chan TamperEvent, 256),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	r.idle = make(chan struct{})
	close(r.idle)
	go r.loop()
	return r
}

// Report stamps ev (ID, timestamp, truncation) and enqueues it. It returns
// the stamped event and whether it was accepted.
func (r *Reporter) Report(ev TamperEvent) (TamperEvent, bool) {
	if ev.ID == "" {
		ev.ID = r.newID()
	}
	if ev.Timestamp == 0 {
		ev.Timestamp = r.now().UnixMilli()
	}
	ev.OriginalContent = truncate(ev.OriginalContent, r.maxContent)
	ev.TamperContent = truncate(ev.TamperContent, r.maxContent)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ev, false
	}
	select {
	case r.queue <- ev:
		if r.pending == 0 {
			r.idle = make(chan struct{})
		}
		r.pending++
		return ev, true
	default:
		r.logger.Warn("report: queue full, event dropped", "event_id", ev.ID, "event_type", ev.EventType)
		return ev, false
	}
}

func (r *Reporter) loop() {
	defer close(r.done)
	for ev := range r.queue {
		r.deliver(ev)
		r.mu.Lock()
		r.pending--
		if r.pending == 0 {
			close(r.idle)
		}
		r.mu.Unlock()
	}
}

func (r *Reporter) deliver(ev TamperEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.sink.Send(ctx, ev); err != nil {
		r.logger.Error("report: delivery failed", "event_id", ev.ID, "event_type", ev.EventType, "error", err)
	}
}

// Flush waits until every accepted event has been handed to the sink.
func (r *Reporter) Flush(ctx context.Context) error {
	r.mu.Lock()
	idle := r.idle
	r.mu.Unlock()
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting events, drains the queue and closes the sink.
func (r *Reporter) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	<-r.done
	return r.sink.Close()
}
