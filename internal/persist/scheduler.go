// Package persist coalesces field-level writes so rapid edits to the
// same field reach storage as a single request.
package persist

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"
)

// WriteFunc persists the named fields. Implementations read the current
// local value of each field, so only the most recent edit is written.
type WriteFunc func(ctx context.Context, fields []string) error

type fieldState int

const (
	clean fieldState = iota
	dirty
	inFlight
)

type entry struct {
	state fieldState
	timer *time.Timer
	// dirtyAgain records an edit that arrived while a write for this
	// field was already on the wire.
	dirtyAgain bool
}

// Scheduler tracks per-field dirty state. Fields scheduled through
// Immediate are written right away; fields scheduled through Debounce
// wait out a trailing quiet window first.
type Scheduler struct {
	mu      sync.Mutex
	window  time.Duration
	write   WriteFunc
	entries map[string]*entry
	closed  bool
}

func NewScheduler(window time.Duration, write WriteFunc) *Scheduler {
	return &Scheduler{
		window:  window,
		write:   write,
		entries: make(map[string]*entry),
	}
}

func (s *Scheduler) entryFor(field string) *entry {
	e, ok := s.entries[field]
	if !ok {
		e = &entry{}
		s.entries[field] = e
	}
	return e
}

// Immediate writes the fields synchronously as one request, so a
// mutation touching several columns never persists a torn intermediate
// state. Pending debounces for the fields are cancelled since the write
// covers them. A field that already has a write on the wire is re-marked
// dirty for a follow-up instead of being written concurrently.
func (s *Scheduler) Immediate(ctx context.Context, fields ...string) error {
	s.mu.Lock()
	if s.closed || len(fields) == 0 {
		s.mu.Unlock()
		return nil
	}
	var batch []string
	for _, field := range fields {
		e := s.entryFor(field)
		if e.state == inFlight {
			e.dirtyAgain = true
			continue
		}
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.state = inFlight
		batch = append(batch, field)
	}
	s.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	sort.Strings(batch)

	err := s.write(ctx, batch)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, field := range batch {
		e := s.entries[field]
		if err != nil {
			e.state = dirty
			continue
		}
		s.settle(field, e)
	}
	return err
}

// Debounce marks the field dirty and restarts its quiet window. The
// write fires only after no further Debounce call for the field lands
// within the window.
func (s *Scheduler) Debounce(field string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	e := s.entryFor(field)
	if e.state == inFlight {
		e.dirtyAgain = true
		return
	}
	e.state = dirty
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(s.window, func() { s.fire(field) })
}

func (s *Scheduler) fire(field string) {
	s.mu.Lock()
	e, ok := s.entries[field]
	if !ok || e.state != dirty || s.closed {
		s.mu.Unlock()
		return
	}
	e.state = inFlight
	e.timer = nil
	s.mu.Unlock()

	err := s.write(context.Background(), []string{field})

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		log.Printf(`{"level":"error","msg":"deferred write failed","field":%q,"error":%q}`, field, err.Error())
		e.state = dirty
		return
	}
	s.settle(field, e)
}

// settle must be called with the mutex held after a successful write.
func (s *Scheduler) settle(field string, e *entry) {
	if e.dirtyAgain && !s.closed {
		e.dirtyAgain = false
		e.state = dirty
		e.timer = time.AfterFunc(s.window, func() { s.fire(field) })
		return
	}
	e.state = clean
	e.dirtyAgain = false
}

// Flush cancels all pending windows and writes every dirty field the
// caller is still allowed to persist, in one request. Dirty fields the
// allow check rejects are discarded without touching storage.
func (s *Scheduler) Flush(ctx context.Context, allowed func(field string) bool) error {
	s.mu.Lock()
	var fields []string
	for field, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		if e.state != dirty && !e.dirtyAgain {
			continue
		}
		e.dirtyAgain = false
		if allowed != nil && !allowed(field) {
			e.state = clean
			continue
		}
		e.state = inFlight
		fields = append(fields, field)
	}
	s.mu.Unlock()

	if len(fields) == 0 {
		return nil
	}
	sort.Strings(fields)

	err := s.write(ctx, fields)

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, field := range fields {
		e := s.entries[field]
		if err != nil {
			e.state = dirty
			continue
		}
		s.settle(field, e)
	}
	return err
}

// Pending reports the fields currently waiting to be written.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var fields []string
	for field, e := range s.entries {
		if e.state == dirty || e.state == inFlight || e.dirtyAgain {
			fields = append(fields, field)
		}
	}
	sort.Strings(fields)
	return fields
}

// Close stops all timers and drops pending work without writing it.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for _, e := range s.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
		}
		e.state = clean
		e.dirtyAgain = false
	}
}
