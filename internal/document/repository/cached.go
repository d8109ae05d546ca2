package repository

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/docedit/docedit/internal/document"
	"github.com/docedit/docedit/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// versionTTL outlives any read that could race a write by a wide margin.
const versionTTL = 24 * time.Hour

var errStaleFill = errors.New("document cache: version moved during read")

// CachedRepo puts a Redis read-through cache in front of another repository.
// Single-document reads are served from "doc:<id>" keys; writes go to the
// backing store first, bump "docver:<id>" and then drop the cached copy. A
// read-through fill only lands if the version it saw before reading the
// backing store is still current, so a read that raced a write never caches
// the older row. Cache failures are logged and never fail the request.
type CachedRepo struct {
	next Repository
	rdb  redis.UniversalClient
	ttl  time.Duration
}

func NewCachedRepo(next Repository, rdb redis.UniversalClient, ttl time.Duration) *CachedRepo {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRepo{next: next, rdb: rdb, ttl: ttl}
}

func cacheKey(id string) string   { return "doc:" + id }
func versionKey(id string) string { return "docver:" + id }

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// version returns the write counter of id; "0" when no write was recorded.
func version(ctx context.Context, rdb getter, id string) (string, error) {
	v, err := rdb.Get(ctx, versionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return v, err
}

func (c *CachedRepo) remember(ctx context.Context, d *document.Document) {
	b, err := json.Marshal(d)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, cacheKey(d.ID), b, c.ttl).Err(); err != nil {
		logger.Warnf("document cache: set %s: %v", d.ID, err)
	}
}

// fill caches d only if the version of its id is still seen.
func (c *CachedRepo) fill(ctx context.Context, d *document.Document, seen string) {
	b, err := json.Marshal(d)
	if err != nil {
		return
	}
	err = c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := version(ctx, tx, d.ID)
		if err != nil {
			return err
		}
		if cur != seen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, cacheKey(d.ID), b, c.ttl)
			return nil
		})
		return err
	}, versionKey(d.ID))
	switch {
	case err == nil:
	case errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
		logger.Debugf("document cache: skip fill of %s, written meanwhile", d.ID)
	default:
		logger.Warnf("document cache: fill %s: %v", d.ID, err)
	}
}

// invalidate bumps the version before deleting so an in-progress fill of the
// old row fails its version check.
func (c *CachedRepo) invalidate(ctx context.Context, id string) {
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, versionKey(id))
		p.Expire(ctx, versionKey(id), versionTTL)
		p.Del(ctx, cacheKey(id))
		return nil
	})
	if err != nil {
		logger.Warnf("document cache: invalidate %s: %v", id, err)
	}
}

func (c *CachedRepo) Create(ctx context.Context, d *document.Document) (*document.Document, error) {
	out, err := c.next.Create(ctx, d)
	if err != nil {
		return nil, err
	}
	c.remember(ctx, out)
	return out, nil
}

func (c *CachedRepo) Get(ctx context.Context, id string) (*document.Document, error) {
	b, err := c.rdb.Get(ctx, cacheKey(id)).Bytes()
	switch {
	case err == nil:
		var d document.Document
		if jerr := json.Unmarshal(b, &d); jerr == nil {
			return &d, nil
		}
		c.invalidate(ctx, id)
	case !errors.Is(err, redis.Nil):
		logger.Warnf("document cache: get %s: %v", id, err)
	}
	seen, verr := version(ctx, c.rdb, id)
	d, err := c.next.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if verr == nil {
		c.fill(ctx, d, seen)
	}
	return d, nil
}

func (c *CachedRepo) List(ctx context.Context) ([]*document.Document, error) {
	return c.next.List(ctx)
}

func (c *CachedRepo) Update(ctx context.Context, id string, p document.Patch) (*document.Document, error) {
	out, err := c.next.Update(ctx, id, p)
	c.invalidate(ctx, id)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CachedRepo) Delete(ctx context.Context, id string) (*document.Document, error) {
	out, err := c.next.Delete(ctx, id)
	c.invalidate(ctx, id)
	if err != nil {
		return nil, err
	}
	return out, nil
}
