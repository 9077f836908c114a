package changefeed

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/nats-io/nats.go"
	log "github.com/sirupsen/logrus"

	"github.com/elma1989/join/domain"
)

const natsSubjectPrefix = "join.changes."

// NATS is a Feed on core NATS subjects.
type NATS struct {
	conn   *nats.Conn
	logger *log.Logger
}

// NewNATS creates a NATS backed feed.
func NewNATS(conn *nats.Conn, logger *log.Logger) *NATS {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &NATS{conn: conn, logger: logger}
}

func natsSubject(coll domain.Collection) string {
	return natsSubjectPrefix + string(coll)
}

// Publish sends n on the collection's subject.
func (f *NATS) Publish(_ context.Context, n Notice) error {
	data, err := sonic.Marshal(n)
	if err != nil {
		return err
	}
	return f.conn.Publish(natsSubject(n.Collection), data)
}

// Subscribe registers interest on the collection's subject and flushes so the
// server knows about it before Subscribe returns.
func (f *NATS) Subscribe(_ context.Context, coll domain.Collection) (Subscription, error) {
	out := newCoalescer()
	sub, err := f.conn.Subscribe(natsSubject(coll), func(m *nats.Msg) {
		var n Notice
		if err := sonic.Unmarshal(m.Data, &n); err != nil {
			f.logger.WithError(err).WithField("collection", coll).Error("unable to parse change notice")
			return
		}
		out.send(n)
	})
	if err != nil {
		return nil, err
	}
	if err := f.conn.Flush(); err != nil {
		_ = sub.Unsubscribe()
		return nil, err
	}
	return &natsSubscription{sub: sub, out: out}, nil
}

type natsSubscription struct {
	sub *nats.Subscription
	out *coalescer
}

func (s *natsSubscription) C() <-chan Notice { return s.out.ch }

func (s *natsSubscription) Close() error {
	err := s.sub.Unsubscribe()
	s.out.close()
	return err
}
