package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"github.com/elma1989/join/board"
	"github.com/elma1989/join/domain"
	"github.com/elma1989/join/mirror"
	"github.com/elma1989/join/telemetry"
	"github.com/elma1989/join/view"
)

// Event names sent on a stream besides the toast events.
const (
	EventContacts = "contacts"
	EventTasks    = "tasks"
)

type sseEvent struct {
	name string
	data any
	// snapshot events replace a queued event of the same name.
	snapshot bool
}

// eventQueue buffers events for one stream until the writer picks them up.
type eventQueue struct {
	mu     sync.Mutex
	events []sseEvent
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev sseEvent) {
	q.mu.Lock()
	replaced := false
	if ev.snapshot {
		for i := range q.events {
			if q.events[i].name == ev.name {
				q.events[i] = ev
				replaced = true
				break
			}
		}
	}
	if !replaced {
		q.events = append(q.events, ev)
	}
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

func (q *eventQueue) drain() []sseEvent {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.events
	q.events = nil
	return out
}

// Hub tracks the open streams of each user.
type Hub struct {
	mu      sync.Mutex
	streams map[string]map[*view.Toaster]struct{}
}

func NewHub() *Hub {
	return &Hub{streams: map[string]map[*view.Toaster]struct{}{}}
}

func (h *Hub) add(userID string, t *view.Toaster) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.streams[userID] == nil {
		h.streams[userID] = map[*view.Toaster]struct{}{}
	}
	h.streams[userID][t] = struct{}{}
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.streams[userID], t)
		if len(h.streams[userID]) == 0 {
			delete(h.streams, userID)
		}
	}
}

// Notify shows an error toast on every open stream of userID and returns
// how many streams got it.
func (h *Hub) Notify(userID, message string) int {
	h.mu.Lock()
	toasters := make([]*view.Toaster, 0, len(h.streams[userID]))
	for t := range h.streams[userID] {
		toasters = append(toasters, t)
	}
	h.mu.Unlock()
	for _, t := range toasters {
		t.Show(view.LevelError, message)
	}
	return len(toasters)
}

// Streams returns the number of open streams of userID.
func (h *Hub) Streams(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams[userID])
}

// stream sends the contact groups and the board columns whenever the
// underlying collections change, plus the toasts of the user. Everything the
// stream starts is owned by one scope and stops when the client goes away.
func (s *Server) stream(c echo.Context) error {
	userID, _ := c.Get(ctxUserID).(string)
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return c.String(http.StatusInternalServerError, "stream unsupported")
	}

	scope := view.NewScope(c.Request().Context())
	defer scope.Close()
	logger := s.logger.WithField("user", userID)

	queue := newEventQueue()
	toaster := view.NewToaster(scope, s.opts.ToastTTL, func(ev view.ToastEvent) {
		queue.push(sseEvent{name: ev.Type, data: ev.Toast})
	})
	scope.Defer(s.hub.add(userID, toaster))

	metrics := telemetry.NewMetrics()
	metrics.ActiveStreams.Inc()
	scope.Defer(metrics.ActiveStreams.Dec)

	var (
		snapMu   sync.Mutex
		tasks    []*domain.Task
		subtasks []*domain.SubTask
	)
	pushBoard := func() {
		snapMu.Lock()
		cols := board.BuildColumns(tasks, subtasks)
		snapMu.Unlock()
		queue.push(sseEvent{name: EventTasks, data: cols, snapshot: true})
	}

	ctx := scope.Context()
	contacts, err := mirror.Subscribe(ctx, s.source, s.feed, domain.ContactsCollection, domain.ContactFromDocument,
		mirrorOptions(s, logger, func(items []*domain.Contact) {
			queue.push(sseEvent{name: EventContacts, data: board.GroupContacts(items), snapshot: true})
		}))
	if err != nil {
		return s.fail(c, "subscribe", err)
	}
	scope.Defer(contacts.Unsubscribe)

	taskMirror, err := mirror.Subscribe(ctx, s.source, s.feed, domain.TasksCollection, domain.TaskFromDocument,
		mirrorOptions(s, logger, func(items []*domain.Task) {
			snapMu.Lock()
			tasks = items
			snapMu.Unlock()
			pushBoard()
		}))
	if err != nil {
		return s.fail(c, "subscribe", err)
	}
	scope.Defer(taskMirror.Unsubscribe)

	subtaskMirror, err := mirror.Subscribe(ctx, s.source, s.feed, domain.SubtasksCollection, domain.SubTaskFromDocument,
		mirrorOptions(s, logger, func(items []*domain.SubTask) {
			snapMu.Lock()
			subtasks = items
			snapMu.Unlock()
			pushBoard()
		}))
	if err != nil {
		return s.fail(c, "subscribe", err)
	}
	scope.Defer(subtaskMirror.Unsubscribe)

	res.WriteHeader(http.StatusOK)
	flusher.Flush()
	logger.Debug("stream opened")

	heartbeat := time.NewTicker(s.opts.Heartbeat)
	defer heartbeat.Stop()
	for {
		for _, ev := range queue.drain() {
			if err := writeEvent(res, ev); err != nil {
				logger.WithError(err).Debug("stream write failed")
				return nil
			}
		}
		flusher.Flush()

		select {
		case <-scope.Done():
			logger.Debug("stream closed")
			return nil
		case <-queue.signal:
		case <-heartbeat.C:
			if _, err := res.Write([]byte(": ping\n\n")); err != nil {
				return nil
			}
		}
	}
}

func mirrorOptions[T any](s *Server, logger *log.Entry, onReplace func([]T)) mirror.Options[T] {
	return mirror.Options[T]{
		OnReplace:      onReplace,
		InitialBackoff: s.opts.BackoffInitial,
		MaxBackoff:     s.opts.BackoffMax,
		Limiter:        s.limiter(),
		Logger:         logger.Logger,
	}
}

func writeEvent(w http.ResponseWriter, ev sseEvent) error {
	data, err := sonic.Marshal(ev.data)
	if err != nil {
		return err
	}
	buf := make([]byte, 0, len(data)+len(ev.name)+16)
	buf = append(buf, "event: "...)
	buf = append(buf, ev.name...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	_, err = w.Write(buf)
	return err
}
