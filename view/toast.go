package view

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level of a toast.
type Level string

const (
	LevelInfo  Level = "info"
	LevelError Level = "error"
)

// Toast is a transient notification.
type Toast struct {
	ID      string    `json:"id"`
	Level   Level     `json:"level"`
	Message string    `json:"message"`
	Created time.Time `json:"created"`
}

// ToastEvent reports a toast appearing or going away.
type ToastEvent struct {
	Type  string `json:"type"`
	Toast Toast  `json:"toast"`
}

const (
	ToastShown     = "toast.show"
	ToastDismissed = "toast.dismiss"
)

// Toaster shows toasts on a scope and dismisses them after a delay.
type Toaster struct {
	scope  *Scope
	ttl    time.Duration
	notify func(ToastEvent)

	mu     sync.Mutex
	toasts map[string]Toast
	timers map[string]*Timer
}

// NewToaster creates a toaster whose toasts disappear after ttl.
func NewToaster(scope *Scope, ttl time.Duration, notify func(ToastEvent)) *Toaster {
	if ttl <= 0 {
		ttl = 3 * time.Second
	}
	if notify == nil {
		notify = func(ToastEvent) {}
	}
	return &Toaster{scope: scope, ttl: ttl, notify: notify, toasts: map[string]Toast{}, timers: map[string]*Timer{}}
}

// Show displays a toast and schedules its dismissal.
func (t *Toaster) Show(level Level, message string) Toast {
	toast := Toast{ID: uuid.NewString(), Level: level, Message: message, Created: time.Now().UTC()}
	t.mu.Lock()
	t.toasts[toast.ID] = toast
	t.timers[toast.ID] = t.scope.AfterFunc(t.ttl, func() { t.expire(toast.ID) })
	t.mu.Unlock()
	t.notify(ToastEvent{Type: ToastShown, Toast: toast})
	return toast
}

// Dismiss removes a toast before its timer fires.
func (t *Toaster) Dismiss(id string) bool {
	t.mu.Lock()
	toast, ok := t.toasts[id]
	if ok {
		delete(t.toasts, id)
		if tm := t.timers[id]; tm != nil {
			tm.Stop()
		}
		delete(t.timers, id)
	}
	t.mu.Unlock()
	if ok {
		t.notify(ToastEvent{Type: ToastDismissed, Toast: toast})
	}
	return ok
}

func (t *Toaster) expire(id string) {
	t.mu.Lock()
	toast, ok := t.toasts[id]
	delete(t.toasts, id)
	delete(t.timers, id)
	t.mu.Unlock()
	if ok {
		t.notify(ToastEvent{Type: ToastDismissed, Toast: toast})
	}
}

// Active returns the visible toasts, oldest first.
func (t *Toaster) Active() []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Toast, 0, len(t.toasts))
	for _, toast := range t.toasts {
		out = append(out, toast)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}
