package storage

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/elma1989/join/domain"
)

// Backend is the document store contract shared by Store and Cache.
type Backend interface {
	Insert(ctx context.Context, coll domain.Collection, doc domain.Document) (string, error)
	Put(ctx context.Context, coll domain.Collection, id string, doc domain.Document) error
	Update(ctx context.Context, coll domain.Collection, id string, doc domain.Document) error
	Delete(ctx context.Context, coll domain.Collection, id string) error
	Get(ctx context.Context, coll domain.Collection, id string) (domain.Document, error)
	List(ctx context.Context, coll domain.Collection) ([]domain.Document, error)
}

// Cache wraps a Backend with Redis-backed caching of collection listings.
// Every write evicts the listing of the written collection and bumps its
// generation. A listing read before a write is never cached after it.
type Cache struct {
	base  Backend
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Backend wrapper using the provided Redis client and TTL.
func NewCache(base Backend, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) List(ctx context.Context, coll domain.Collection) ([]domain.Document, error) {
	if docs, ok := c.loadFromCache(ctx, coll); ok {
		return docs, nil
	}
	gen, genOK := c.generation(ctx, coll)
	docs, err := c.base.List(ctx, coll)
	if err != nil {
		return nil, err
	}
	if genOK {
		c.store(ctx, coll, gen, docs)
	}
	return docs, nil
}

func (c *Cache) Get(ctx context.Context, coll domain.Collection, id string) (domain.Document, error) {
	return c.base.Get(ctx, coll, id)
}

func (c *Cache) Insert(ctx context.Context, coll domain.Collection, doc domain.Document) (string, error) {
	id, err := c.base.Insert(ctx, coll, doc)
	if err != nil {
		return "", err
	}
	c.evict(ctx, coll)
	return id, nil
}

func (c *Cache) Put(ctx context.Context, coll domain.Collection, id string, doc domain.Document) error {
	if err := c.base.Put(ctx, coll, id, doc); err != nil {
		return err
	}
	c.evict(ctx, coll)
	return nil
}

func (c *Cache) Update(ctx context.Context, coll domain.Collection, id string, doc domain.Document) error {
	if err := c.base.Update(ctx, coll, id, doc); err != nil {
		return err
	}
	c.evict(ctx, coll)
	return nil
}

func (c *Cache) Delete(ctx context.Context, coll domain.Collection, id string) error {
	if err := c.base.Delete(ctx, coll, id); err != nil {
		return err
	}
	c.evict(ctx, coll)
	return nil
}

func (c *Cache) loadFromCache(ctx context.Context, coll domain.Collection) ([]domain.Document, bool) {
	if c.redis == nil {
		return nil, false
	}
	data, err := c.redis.Get(ctx, cacheKey(coll)).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, cacheKey(coll)).Err()
		}
		return nil, false
	}
	var docs []domain.Document
	if err := sonic.Unmarshal(data, &docs); err != nil {
		_ = c.redis.Del(ctx, cacheKey(coll)).Err()
		return nil, false
	}
	return docs, true
}

func (c *Cache) generation(ctx context.Context, coll domain.Collection) (string, bool) {
	if c.redis == nil {
		return "", false
	}
	gen, err := c.redis.Get(ctx, genKey(coll)).Result()
	switch {
	case err == redis.Nil:
		return "0", true
	case err != nil:
		return "", false
	}
	return gen, true
}

// store caches docs unless the collection was written since gen was read.
func (c *Cache) store(ctx context.Context, coll domain.Collection, gen string, docs []domain.Document) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := sonic.Marshal(docs)
	if err != nil {
		return
	}
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey(coll)).Result()
		if err == redis.Nil {
			cur = "0"
		} else if err != nil {
			return err
		}
		if cur != gen {
			return errStaleListing
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, cacheKey(coll), data, c.ttl)
			return nil
		})
		return err
	}, genKey(coll))
}

func (c *Cache) evict(ctx context.Context, coll domain.Collection) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey(coll))
		p.Del(ctx, cacheKey(coll))
		return nil
	})
}

var errStaleListing = errors.New("storage: listing outdated by a write")

func cacheKey(coll domain.Collection) string {
	return "docs:" + string(coll)
}

func genKey(coll domain.Collection) string {
	return "docs:gen:" + string(coll)
}
