package storage

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"focusflow-api/domain"
)

// Cache wraps a Store with Redis-backed caching for collection reads.
// Every write bumps the generation of the written collection, so entries
// cached under an older generation are never served again. Generation
// counters never expire and a missing counter is seeded from the clock, so a
// generation value is never reused.
type Cache struct {
	base  domain.Store
	redis *redis.Client
	ttl   time.Duration
	log   *log.Logger

	mu sync.Mutex
	// stale holds collections whose generation bump failed. They are read
	// from the backing store until every entry cached before the write has
	// expired.
	stale map[string]time.Time
}

// NewCache creates a caching Store wrapper using the provided Redis client and TTL.
func NewCache(base domain.Store, client *redis.Client, ttl time.Duration, logger *log.Logger) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Cache{base: base, redis: client, ttl: ttl, log: logger, stale: map[string]time.Time{}}
}

type cachedDoc struct {
	ID     string        `json:"id"`
	Fields domain.Fields `json:"fields"`
}

func (c *Cache) Put(ctx context.Context, p domain.Path, f domain.Fields) error {
	if err := c.base.Put(ctx, p, f); err != nil {
		return err
	}
	c.bump(ctx, p.Parent())
	return nil
}

func (c *Cache) Create(ctx context.Context, p domain.Path, f domain.Fields) error {
	if err := c.base.Create(ctx, p, f); err != nil {
		return err
	}
	c.bump(ctx, p.Parent())
	return nil
}

func (c *Cache) Get(ctx context.Context, p domain.Path) (domain.Document, bool, error) {
	return c.base.Get(ctx, p)
}

func (c *Cache) List(ctx context.Context, p domain.Path) ([]domain.Document, error) {
	return c.readThrough(ctx, p, "list", func() ([]domain.Document, error) {
		return c.base.List(ctx, p)
	})
}

func (c *Cache) QueryByEquality(ctx context.Context, p domain.Path, field, value string) ([]domain.Document, error) {
	return c.readThrough(ctx, p, "eq:"+field+"="+value, func() ([]domain.Document, error) {
		return c.base.QueryByEquality(ctx, p, field, value)
	})
}

func (c *Cache) QueryByArrayMembership(ctx context.Context, p domain.Path, field, value string) ([]domain.Document, error) {
	return c.readThrough(ctx, p, "in:"+field+"="+value, func() ([]domain.Document, error) {
		return c.base.QueryByArrayMembership(ctx, p, field, value)
	})
}

func (c *Cache) UpdateIf(ctx context.Context, p domain.Path, cond domain.Condition, f domain.Fields) (domain.Document, error) {
	doc, err := c.base.UpdateIf(ctx, p, cond, f)
	if err != nil {
		return doc, err
	}
	c.bump(ctx, p.Parent())
	return doc, nil
}

func (c *Cache) AddToSet(ctx context.Context, p domain.Path, field string, values []string) (domain.Document, error) {
	doc, err := c.base.AddToSet(ctx, p, field, values)
	if err != nil {
		return doc, err
	}
	c.bump(ctx, p.Parent())
	return doc, nil
}

func (c *Cache) readThrough(ctx context.Context, p domain.Path, query string, load func() ([]domain.Document, error)) ([]domain.Document, error) {
	if c.isStale(p) {
		return load()
	}
	gen, ok := c.generation(ctx, p)
	if !ok {
		return load()
	}
	key := entryCacheKey(p, gen, query)
	if docs, ok := c.loadFromCache(ctx, p, key); ok {
		return docs, nil
	}
	docs, err := load()
	if err != nil {
		return nil, err
	}
	c.store(ctx, key, docs)
	return docs, nil
}

// generation reads the collection's generation, seeding a missing counter
// from the clock so it cannot collide with a value used before the counter
// was lost.
func (c *Cache) generation(ctx context.Context, p domain.Path) (int64, bool) {
	if c.redis == nil || c.ttl == 0 {
		return 0, false
	}
	key := generationCacheKey(p)
	gen, err := c.redis.Get(ctx, key).Int64()
	if err == nil {
		return gen, true
	}
	if err != redis.Nil {
		c.log.WithField("key", key).WithError(err).Debug("cache generation read failed")
		return 0, false
	}
	seed := time.Now().UnixNano()
	set, err := c.redis.SetNX(ctx, key, seed, 0).Result()
	if err != nil {
		c.log.WithField("key", key).WithError(err).Debug("cache generation seed failed")
		return 0, false
	}
	if set {
		return seed, true
	}
	gen, err = c.redis.Get(ctx, key).Int64()
	if err != nil {
		return 0, false
	}
	return gen, true
}

func (c *Cache) loadFromCache(ctx context.Context, p domain.Path, key string) ([]domain.Document, bool) {
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			// On redis errors fall back to the backing storage without failing.
			c.log.WithField("key", key).WithError(err).Debug("cache read failed")
			c.drop(ctx, key)
		}
		return nil, false
	}
	var cached []cachedDoc
	if err := sonic.Unmarshal(data, &cached); err != nil {
		c.log.WithField("key", key).WithError(err).Debug("cache entry undecodable")
		c.drop(ctx, key)
		return nil, false
	}
	docs := make([]domain.Document, 0, len(cached))
	for _, d := range cached {
		docs = append(docs, domain.Document{Path: p.Doc(d.ID), Fields: d.Fields})
	}
	return docs, true
}

func (c *Cache) store(ctx context.Context, key string, docs []domain.Document) {
	cached := make([]cachedDoc, 0, len(docs))
	for _, d := range docs {
		cached = append(cached, cachedDoc{ID: d.ID(), Fields: d.Fields})
	}
	data, err := sonic.Marshal(cached)
	if err != nil {
		c.log.WithField("key", key).WithError(err).Debug("cache entry encode failed")
		return
	}
	if err := c.redis.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.log.WithField("key", key).WithError(err).Debug("cache write failed")
	}
}

func (c *Cache) drop(ctx context.Context, key string) {
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		c.log.WithField("key", key).WithError(err).Debug("cache delete failed")
	}
}

func (c *Cache) bump(ctx context.Context, p domain.Path) {
	if c.redis == nil {
		return
	}
	key := generationCacheKey(p)
	pipe := c.redis.TxPipeline()
	pipe.SetNX(ctx, key, time.Now().UnixNano(), 0)
	pipe.Incr(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.WithField("key", key).WithError(err).Debug("cache generation bump failed, bypassing cache")
		c.markStale(p)
	}
}

func (c *Cache) markStale(p domain.Path) {
	if c.ttl == 0 {
		return
	}
	c.mu.Lock()
	c.stale[p.Key()] = time.Now().Add(c.ttl)
	c.mu.Unlock()
}

func (c *Cache) isStale(p domain.Path) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	until, ok := c.stale[p.Key()]
	if !ok {
		return false
	}
	if time.Now().After(until) {
		delete(c.stale, p.Key())
		return false
	}
	return true
}

func generationCacheKey(p domain.Path) string {
	return "gen:" + p.Key()
}

func entryCacheKey(p domain.Path, gen int64, query string) string {
	return "docs:" + p.Key() + ":" + strconv.FormatInt(gen, 10) + ":" + query
}
