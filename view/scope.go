// Package view ties timers and subscriptions to the lifetime of one open
// client view, such as an event stream.
package view

import (
	"context"
	"sync"
	"time"
)

// Scope owns the resources of a view. Close releases all of them.
type Scope struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closed  bool
	timers  map[*Timer]struct{}
	closers []func()
}

// NewScope creates a scope that also closes when parent is done.
func NewScope(parent context.Context) *Scope {
	ctx, cancel := context.WithCancel(parent)
	s := &Scope{ctx: ctx, cancel: cancel, timers: map[*Timer]struct{}{}}
	context.AfterFunc(ctx, s.Close)
	return s
}

// Context is cancelled when the scope closes.
func (s *Scope) Context() context.Context { return s.ctx }

// Done is closed when the scope closes.
func (s *Scope) Done() <-chan struct{} { return s.ctx.Done() }

// Timer is a cancellable handle for a function scheduled on a Scope.
type Timer struct {
	scope *Scope
	t     *time.Timer
}

// Stop cancels the timer. It reports whether the call stopped it before it
// fired.
func (t *Timer) Stop() bool {
	t.scope.mu.Lock()
	delete(t.scope.timers, t)
	t.scope.mu.Unlock()
	return t.t.Stop()
}

// AfterFunc runs fn after d unless the timer is stopped or the scope closes
// first. On a closed scope fn never runs.
func (s *Scope) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{scope: s}
	s.mu.Lock()
	defer s.mu.Unlock()
	tm.t = time.AfterFunc(d, func() {
		s.mu.Lock()
		_, live := s.timers[tm]
		delete(s.timers, tm)
		s.mu.Unlock()
		if live {
			fn()
		}
	})
	if s.closed {
		tm.t.Stop()
		return tm
	}
	s.timers[tm] = struct{}{}
	return tm
}

// Defer registers fn to run on Close. Functions run newest first. On a
// closed scope fn runs immediately.
func (s *Scope) Defer(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return
	}
	s.closers = append(s.closers, fn)
	s.mu.Unlock()
}

// Close stops pending timers and runs deferred functions. Only the first
// call has an effect.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for tm := range s.timers {
		tm.t.Stop()
		delete(s.timers, tm)
	}
	closers := s.closers
	s.closers = nil
	s.mu.Unlock()

	s.cancel()
	for i := len(closers) - 1; i >= 0; i-- {
		closers[i]()
	}
}

// Pending returns the number of scheduled timers.
func (s *Scope) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
