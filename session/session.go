// Package session keeps per-client state in Redis: the signed-in user id and
// an unfinished signup form.
package session

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// ErrNoSession is returned when a client has no signed-in user.
var ErrNoSession = errors.New("session: not signed in")

const (
	sessionKeyPrefix = "join:session:"
	draftKeyPrefix   = "join:signup-draft:"
)

// Draft holds the dirty fields of an unfinished signup form.
type Draft map[string]string

// Store keeps sessions and drafts. Entries expire after ttl of inactivity;
// a zero ttl keeps them until removed.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client, ttl time.Duration) *Store {
	if ttl < 0 {
		ttl = 0
	}
	return &Store{client: client, ttl: ttl}
}

// Start records userID as signed in for clientID.
func (s *Store) Start(ctx context.Context, clientID, userID string) error {
	return s.client.Set(ctx, sessionKeyPrefix+clientID, userID, s.ttl).Err()
}

// UserID restores the signed-in user of clientID and refreshes its expiry.
func (s *Store) UserID(ctx context.Context, clientID string) (string, error) {
	userID, err := s.client.Get(ctx, sessionKeyPrefix+clientID).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoSession
	}
	if err != nil {
		return "", err
	}
	if s.ttl > 0 {
		_ = s.client.Expire(ctx, sessionKeyPrefix+clientID, s.ttl).Err()
	}
	return userID, nil
}

// End signs the client out and drops its draft.
func (s *Store) End(ctx context.Context, clientID string) error {
	return s.client.Del(ctx, sessionKeyPrefix+clientID, draftKeyPrefix+clientID).Err()
}

// SaveDraft stores the draft, replacing an earlier one.
func (s *Store) SaveDraft(ctx context.Context, clientID string, d Draft) error {
	data, err := sonic.Marshal(d)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, draftKeyPrefix+clientID, data, s.ttl).Err()
}

// Draft returns the stored draft, or an empty one.
func (s *Store) Draft(ctx context.Context, clientID string) (Draft, error) {
	data, err := s.client.Get(ctx, draftKeyPrefix+clientID).Bytes()
	if errors.Is(err, redis.Nil) {
		return Draft{}, nil
	}
	if err != nil {
		return nil, err
	}
	d := Draft{}
	if err := sonic.Unmarshal(data, &d); err != nil {
		// an unreadable draft is as good as none
		_ = s.client.Del(ctx, draftKeyPrefix+clientID).Err()
		return Draft{}, nil
	}
	return d, nil
}

// ClearDraft removes the draft.
func (s *Store) ClearDraft(ctx context.Context, clientID string) error {
	return s.client.Del(ctx, draftKeyPrefix+clientID).Err()
}
