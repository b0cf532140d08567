package sched

import (
	"sync"
	"sync/atomic"
	"time"
)

// ID identifies a scheduled entry.
type ID uint64

// Scheduler owns every outstanding timer of an engine.
type Scheduler struct {
	clock  Clock
	locker sync.Locker

	mu      sync.Mutex
	next    ID
	entries map[ID]*entry
}

type entry struct {
	id        ID
	every     time.Duration
	fn        func()
	timer     Timer
	cancelled atomic.Bool
}

// New creates a Scheduler. Callbacks run with locker held.
func New(clock Clock, locker sync.Locker) *Scheduler {
	if clock == nil {
		clock = Real{}
	}
	return &Scheduler{clock: clock, locker: locker, entries: make(map[ID]*entry)}
}

// Now returns the scheduler clock's time.
func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// After runs fn once after d.
func (s *Scheduler) After(d time.Duration, fn func()) ID {
	return s.add(d, 0, fn)
}

// Every runs fn every d until cancelled. The next run is armed after the
// current one returns.
func (s *Scheduler) Every(d time.Duration, fn func()) ID {
	return s.add(d, d, fn)
}

func (s *Scheduler) add(d, every time.Duration, fn func()) ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	e := &entry{id: s.next, every: every, fn: fn}
	s.entries[e.id] = e
	e.timer = s.clock.AfterFunc(d, func() { s.fire(e) })
	return e.id
}

func (s *Scheduler) fire(e *entry) {
	s.locker.Lock()
	defer s.locker.Unlock()
	if e.cancelled.Load() {
		return
	}
	if e.every == 0 {
		s.mu.Lock()
		delete(s.entries, e.id)
		s.mu.Unlock()
		e.fn()
		return
	}
	e.fn()
	if e.cancelled.Load() {
		return
	}
	s.mu.Lock()
	e.timer = s.clock.AfterFunc(e.every, func() { s.fire(e) })
	s.mu.Unlock()
}

// Cancel stops an entry. Cancelling an unknown or finished ID is a no-op.
func (s *Scheduler) Cancel(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		e.cancelled.Store(true)
		e.timer.Stop()
		delete(s.entries, id)
	}
}

// CancelAll stops every outstanding entry.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		e.cancelled.Store(true)
		e.timer.Stop()
		delete(s.entries, id)
	}
}

// Len returns the number of outstanding entries.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
