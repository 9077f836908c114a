package changefeed

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/elma1989/join/domain"
)

const redisChannelPrefix = "join:changes:"

// Redis is a Feed on Redis pub/sub.
type Redis struct {
	client *redis.Client
	logger *log.Logger
}

// NewRedis creates a Redis backed feed.
func NewRedis(client *redis.Client, logger *log.Logger) *Redis {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Redis{client: client, logger: logger}
}

func redisChannel(coll domain.Collection) string {
	return redisChannelPrefix + string(coll)
}

// Publish sends n on the collection's channel.
func (r *Redis) Publish(ctx context.Context, n Notice) error {
	data, err := sonic.Marshal(n)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, redisChannel(n.Collection), data).Err()
}

// Subscribe waits until the channel subscription is confirmed, so notices
// published after it returns are delivered.
func (r *Redis) Subscribe(ctx context.Context, coll domain.Collection) (Subscription, error) {
	ps := r.client.Subscribe(ctx, redisChannel(coll))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	sub := &redisSubscription{ps: ps, out: newCoalescer()}
	go sub.run(r.logger, coll)
	return sub, nil
}

type redisSubscription struct {
	ps  *redis.PubSub
	out *coalescer
}

func (s *redisSubscription) run(logger *log.Logger, coll domain.Collection) {
	defer s.out.close()
	for msg := range s.ps.Channel() {
		var n Notice
		if err := sonic.Unmarshal([]byte(msg.Payload), &n); err != nil {
			logger.WithError(err).WithField("collection", coll).Error("unable to parse change notice")
			continue
		}
		s.out.send(n)
	}
}

func (s *redisSubscription) C() <-chan Notice { return s.out.ch }

func (s *redisSubscription) Close() error {
	err := s.ps.Close()
	s.out.close()
	return err
}
