// Package changefeed carries "collection changed" notices from writers to
// live collection mirrors.
package changefeed

import (
	"context"
	"sync"
	"time"

	"github.com/elma1989/join/domain"
)

// Notice announces a write to a collection.
type Notice struct {
	Collection domain.Collection `json:"collection"`
	ID         string            `json:"id"`
	Op         domain.Op         `json:"op"`
	Time       int64             `json:"time"`
}

// NewNotice stamps a notice with the current time.
func NewNotice(coll domain.Collection, id string, op domain.Op) Notice {
	return Notice{Collection: coll, ID: id, Op: op, Time: time.Now().UnixNano()}
}

// Subscription delivers notices for one collection until closed. C is closed
// when the subscription ends, either through Close or a lost connection.
type Subscription interface {
	C() <-chan Notice
	Close() error
}

// Feed publishes and subscribes to collection notices.
type Feed interface {
	Publish(ctx context.Context, n Notice) error
	Subscribe(ctx context.Context, coll domain.Collection) (Subscription, error)
}

// coalescer buffers at most one pending notice. Receivers refetch the whole
// collection, so a notice arriving while one is pending carries no news.
type coalescer struct {
	mu     sync.Mutex
	ch     chan Notice
	closed bool
}

func newCoalescer() *coalescer {
	return &coalescer{ch: make(chan Notice, 1)}
}

func (c *coalescer) send(n Notice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- n:
	default:
	}
}

func (c *coalescer) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}
