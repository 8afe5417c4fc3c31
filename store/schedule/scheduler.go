// Package schedule provides the timer abstraction used by the queue engine.
// Delay expiry, visibility expiry, long-poll budgets and the move task rate
// limiter all register callbacks here, so tests can substitute a Manual
// scheduler and drive time explicitly instead of sleeping.
package schedule

import (
	"sort"
	"sync"
	"time"
)

// Token identifies a scheduled callback so it can be cancelled.
type Token uint64

// Scheduler runs callbacks at (or shortly after) a deadline.
type Scheduler interface {
	// Now returns the scheduler's notion of the current time.
	Now() time.Time
	// Schedule registers fn to run once at deadline. Deadlines in the past
	// fire as soon as possible.
	Schedule(deadline time.Time, fn func()) Token
	// Cancel removes a pending callback. It reports whether the callback was
	// still pending.
	Cancel(tok Token) bool
}

// Real is a Scheduler backed by the wall clock and time.AfterFunc.
type Real struct {
	mu     sync.Mutex
	next   Token
	timers map[Token]*time.Timer
}

// NewReal creates a wall-clock scheduler.
func NewReal() *Real {
	return &Real{timers: make(map[Token]*time.Timer)}
}

func (s *Real) Now() time.Time { return time.Now() }

func (s *Real) Schedule(deadline time.Time, fn func()) Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	tok := s.next
	s.timers[tok] = time.AfterFunc(time.Until(deadline), func() {
		s.mu.Lock()
		_, live := s.timers[tok]
		delete(s.timers, tok)
		s.mu.Unlock()
		if live {
			fn()
		}
	})
	return tok
}

func (s *Real) Cancel(tok Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[tok]
	if !ok {
		return false
	}
	delete(s.timers, tok)
	t.Stop()
	return true
}

// Pending returns the number of callbacks that have not fired yet.
func (s *Real) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

type entry struct {
	tok      Token
	deadline time.Time
	fn       func()
}

// Manual is a Scheduler whose clock only moves when Advance is called.
// Callbacks run synchronously on the goroutine calling Advance, in deadline
// order.
type Manual struct {
	mu      sync.Mutex
	now     time.Time
	next    Token
	pending map[Token]*entry
}

// NewManual creates a manual scheduler starting at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start, pending: make(map[Token]*entry)}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Schedule(deadline time.Time, fn func()) Token {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.next++
	tok := m.next
	if !deadline.After(m.now) {
		go fn()
		return tok
	}
	m.pending[tok] = &entry{tok: tok, deadline: deadline, fn: fn}
	return tok
}

func (m *Manual) Cancel(tok Token) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.pending[tok]; !ok {
		return false
	}
	delete(m.pending, tok)
	return true
}

// Advance moves the clock forward by d and runs every callback whose
// deadline has been reached.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	m.now = m.now.Add(d)
	var due []*entry
	for tok, e := range m.pending {
		if !e.deadline.After(m.now) {
			due = append(due, e)
			delete(m.pending, tok)
		}
	}
	m.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if due[i].deadline.Equal(due[j].deadline) {
			return due[i].tok < due[j].tok
		}
		return due[i].deadline.Before(due[j].deadline)
	})
	for _, e := range due {
		e.fn()
	}
}

// Pending returns the number of callbacks waiting for their deadline.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
