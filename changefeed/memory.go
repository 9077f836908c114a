package changefeed

import (
	"context"
	"sync"

	"github.com/elma1989/join/domain"
)

// Memory is an in-process Feed for single instance deployments.
type Memory struct {
	mu     sync.Mutex
	subs   map[domain.Collection]map[*memorySubscription]struct{}
	closed bool
}

func NewMemory() *Memory {
	return &Memory{subs: map[domain.Collection]map[*memorySubscription]struct{}{}}
}

func (m *Memory) Publish(_ context.Context, n Notice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for s := range m.subs[n.Collection] {
		s.out.send(n)
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, coll domain.Collection) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &memorySubscription{feed: m, coll: coll, out: newCoalescer()}
	if m.closed {
		s.out.close()
		return s, nil
	}
	if m.subs[coll] == nil {
		m.subs[coll] = map[*memorySubscription]struct{}{}
	}
	m.subs[coll][s] = struct{}{}
	return s, nil
}

// Close ends every subscription, as a dropped connection would.
func (m *Memory) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	for coll, set := range m.subs {
		for s := range set {
			s.out.close()
		}
		delete(m.subs, coll)
	}
}

type memorySubscription struct {
	feed *Memory
	coll domain.Collection
	out  *coalescer
}

func (s *memorySubscription) C() <-chan Notice { return s.out.ch }

func (s *memorySubscription) Close() error {
	s.feed.mu.Lock()
	delete(s.feed.subs[s.coll], s)
	s.feed.mu.Unlock()
	s.out.close()
	return nil
}
