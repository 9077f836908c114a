// Package mirror keeps an in-memory copy of a remote collection current.
//
// A Mirror lists the collection once on subscribe and again after every
// change notice, replacing its snapshot wholesale. Notices only trigger a
// refetch, so a burst of writes costs at most one extra listing per notice
// the feed did not coalesce.
package mirror

import (
	"context"
	"errors"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/elma1989/join/changefeed"
	"github.com/elma1989/join/domain"
	"github.com/elma1989/join/telemetry"
)

// Source lists the documents of a collection.
type Source interface {
	List(ctx context.Context, coll domain.Collection) ([]domain.Document, error)
}

// Mapper turns a stored document into an entity. The document id is
// available through doc.ID().
type Mapper[T any] func(doc domain.Document) (T, error)

// Options tune a Mirror. The zero value is usable.
type Options[T any] struct {
	// Filter keeps only documents it returns true for.
	Filter func(domain.Document) bool
	// OnReplace runs after every applied snapshot, on the mirror's goroutine.
	// It must not call Unsubscribe.
	OnReplace func(items []T)
	// OnError reports failed fetches and lost subscriptions. Like OnReplace
	// it runs on the mirror's goroutine and must not call Unsubscribe; hand
	// that to another goroutine instead.
	OnError func(error)

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Limiter throttles refetches.
	Limiter *rate.Limiter
	Logger  *log.Logger
}

// Mirror is a live snapshot of one collection.
type Mirror[T any] struct {
	coll   domain.Collection
	source Source
	feed   changefeed.Feed
	mapper Mapper[T]
	opts   Options[T]
	logger *log.Logger

	metrics *telemetry.Metrics

	mu    sync.RWMutex
	items []T
	ready bool

	// serializes refreshes so snapshots apply in fetch order
	refreshMu sync.Mutex

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Subscribe starts mirroring coll. The first listing happens before Subscribe
// returns; if it fails the error goes to OnError and the mirror keeps retrying
// in the background. Subscribe only fails when the feed subscription cannot be
// established.
func Subscribe[T any](
	ctx context.Context,
	source Source,
	feed changefeed.Feed,
	coll domain.Collection,
	mapper Mapper[T],
	opts Options[T],
) (*Mirror[T], error) {
	if source == nil || feed == nil || mapper == nil {
		return nil, errors.New("mirror: source, feed and mapper are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.StandardLogger()
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub, err := feed.Subscribe(runCtx, coll)
	if err != nil {
		cancel()
		return nil, err
	}
	m := &Mirror[T]{
		coll:    coll,
		source:  source,
		feed:    feed,
		mapper:  mapper,
		opts:    opts,
		logger:  logger,
		metrics: telemetry.NewMetrics(),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	failed := m.Refresh(ctx) != nil
	go m.run(runCtx, sub, failed)
	return m, nil
}

// Items returns a copy of the current snapshot.
func (m *Mirror[T]) Items() []T {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]T, len(m.items))
	copy(out, m.items)
	return out
}

// Ready reports whether at least one snapshot was applied.
func (m *Mirror[T]) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ready
}

// Collection returns the mirrored collection.
func (m *Mirror[T]) Collection() domain.Collection { return m.coll }

// Unsubscribe stops the mirror. Only the first call has an effect; once it
// returns OnReplace and OnError are not called again.
func (m *Mirror[T]) Unsubscribe() {
	m.once.Do(func() {
		m.cancel()
		<-m.done
	})
}

// Refresh lists the collection and applies the result. A failed listing
// leaves the previous snapshot in place.
func (m *Mirror[T]) Refresh(ctx context.Context) error {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	if m.opts.Limiter != nil {
		if err := m.opts.Limiter.Wait(ctx); err != nil {
			return err
		}
	}
	docs, err := m.source.List(ctx, m.coll)
	if err != nil {
		if ctx.Err() == nil {
			m.metrics.RefreshFailures.WithLabelValues(string(m.coll)).Inc()
			m.report(err)
		}
		return err
	}

	items := make([]T, 0, len(docs))
	for _, doc := range docs {
		if m.opts.Filter != nil && !m.opts.Filter(doc) {
			continue
		}
		item, err := m.mapper(doc)
		if err != nil {
			m.logger.WithError(err).WithFields(log.Fields{
				"collection": m.coll,
				"id":         doc.ID(),
			}).Warn("skipping unreadable document")
			continue
		}
		items = append(items, item)
	}

	m.mu.Lock()
	m.items = items
	m.ready = true
	m.mu.Unlock()

	m.metrics.SnapshotsApplied.WithLabelValues(string(m.coll)).Inc()
	m.metrics.MirrorSize.WithLabelValues(string(m.coll)).Set(float64(len(items)))
	if m.opts.OnReplace != nil {
		m.opts.OnReplace(m.Items())
	}
	return nil
}

func (m *Mirror[T]) report(err error) {
	m.logger.WithError(err).WithField("collection", m.coll).Error("mirror refresh failed")
	if m.opts.OnError != nil {
		m.opts.OnError(err)
	}
}

func (m *Mirror[T]) run(ctx context.Context, sub changefeed.Subscription, pending bool) {
	defer close(m.done)
	defer func() {
		if sub != nil {
			_ = sub.Close()
		}
	}()

	attempt := 0
	var retry *time.Timer
	var retryC <-chan time.Time
	schedule := func() {
		attempt++
		wait := exponentialBackoff(attempt, m.opts.InitialBackoff, m.opts.MaxBackoff)
		if retry == nil {
			retry = time.NewTimer(wait)
		} else {
			retry.Reset(wait)
		}
		retryC = retry.C
	}
	defer func() {
		if retry != nil {
			retry.Stop()
		}
	}()
	refresh := func() {
		if err := m.Refresh(ctx); err != nil {
			if ctx.Err() == nil {
				schedule()
			}
			return
		}
		attempt = 0
		retryC = nil
	}
	if pending {
		schedule()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-retryC:
			retryC = nil
			refresh()
		case _, ok := <-sub.C():
			if ok {
				refresh()
				continue
			}
			_ = sub.Close()
			sub = m.resubscribe(ctx)
			if sub == nil {
				return
			}
			// notices may have been missed while disconnected
			refresh()
		}
	}
}

func (m *Mirror[T]) resubscribe(ctx context.Context) changefeed.Subscription {
	m.report(errors.New("change feed subscription closed, reconnecting"))
	for attempt := 1; ; attempt++ {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(exponentialBackoff(attempt, m.opts.InitialBackoff, m.opts.MaxBackoff)):
		}
		sub, err := m.feed.Subscribe(ctx, m.coll)
		if err == nil {
			return sub
		}
		if ctx.Err() != nil {
			return nil
		}
		m.report(err)
	}
}
