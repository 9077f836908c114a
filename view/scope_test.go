package view

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestScopeCloseCancelsTimers(t *testing.T) {
	s := NewScope(context.Background())
	var fired atomic.Int32
	s.AfterFunc(20*time.Millisecond, func() { fired.Add(1) })
	if s.Pending() != 1 {
		t.Fatalf("expected one pending timer")
	}

	s.Close()
	s.Close()
	time.Sleep(40 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("timer fired after close")
	}
	if s.Pending() != 0 {
		t.Fatalf("close should clear timers")
	}
	select {
	case <-s.Done():
	default:
		t.Fatalf("scope context should be done")
	}

	s.AfterFunc(time.Millisecond, func() { fired.Add(1) })
	time.Sleep(10 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("timers on a closed scope must not run")
	}
}

func TestScopeTimerFiresAndStops(t *testing.T) {
	s := NewScope(context.Background())
	defer s.Close()

	done := make(chan struct{})
	s.AfterFunc(time.Millisecond, func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timer did not fire")
	}

	var fired atomic.Bool
	tm := s.AfterFunc(50*time.Millisecond, func() { fired.Store(true) })
	if !tm.Stop() {
		t.Fatalf("stop should report a pending timer")
	}
	time.Sleep(70 * time.Millisecond)
	if fired.Load() {
		t.Fatalf("stopped timer fired")
	}
}

func TestScopeDeferRunsNewestFirst(t *testing.T) {
	s := NewScope(context.Background())
	var mu sync.Mutex
	var order []int
	for i := 0; i < 3; i++ {
		i := i
		s.Defer(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	s.Close()
	if len(order) != 3 || order[0] != 2 || order[2] != 0 {
		t.Fatalf("unexpected order: %v", order)
	}

	ran := false
	s.Defer(func() { ran = true })
	if !ran {
		t.Fatalf("defer on a closed scope should run immediately")
	}
}

func TestScopeClosesWithParent(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	s := NewScope(parent)
	closed := make(chan struct{})
	s.Defer(func() { close(closed) })
	cancel()
	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatalf("scope did not close with its parent")
	}
}
