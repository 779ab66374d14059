package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/coursehub/certification-hub/internal/domain/course"
	"github.com/coursehub/certification-hub/internal/domain/exam"
	"github.com/coursehub/certification-hub/pkg/circuitbreaker"
)

// catalogLoadTimeout bounds a shared load. Loads run detached from the
// caller that started them, since other callers may be waiting on the result.
const catalogLoadTimeout = 10 * time.Second

// JSONCache is the subset of Cache used by CachedCatalog.
type JSONCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// CachedCatalog is a read-through cache in front of a course.Catalog.
//
// Concurrent misses for the same key share one load. Cache failures never
// fail a lookup: they trip the breaker and requests go straight to the
// underlying catalog until it closes again. Not-found results are not cached.
type CachedCatalog struct {
	next    course.Catalog
	cache   JSONCache
	ttl     time.Duration
	group   singleflight.Group
	breaker *circuitbreaker.CircuitBreaker
	logger  *slog.Logger
}

// NewCachedCatalog wraps next with cache.
func NewCachedCatalog(next course.Catalog, cache JSONCache, ttl time.Duration, logger *slog.Logger) *CachedCatalog {
	if ttl <= 0 {
		ttl = TTLCatalog
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "catalog_cache")

	return &CachedCatalog{
		next:  next,
		cache: cache,
		ttl:   ttl,
		breaker: circuitbreaker.CacheBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("cache circuit breaker state changed",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		}),
		logger: logger,
	}
}

// Units returns the course unit ids.
func (c *CachedCatalog) Units(ctx context.Context, courseID string) ([]string, error) {
	key := CatalogUnitsKey(courseID)

	var units []string
	if c.lookup(ctx, key, &units) {
		return units, nil
	}

	v, err := c.load(ctx, key, func(ctx context.Context) (interface{}, error) {
		units, err := c.next.Units(ctx, courseID)
		if err != nil {
			return nil, err
		}
		c.store(ctx, key, units)
		return units, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), v.([]string)...), nil
}

// ExamDefinition returns the course exam. Definitions are cached in their
// stored document form.
func (c *CachedCatalog) ExamDefinition(ctx context.Context, courseID string) (*exam.Definition, error) {
	key := CatalogExamKey(courseID)

	var raw json.RawMessage
	if c.lookup(ctx, key, &raw) {
		def, err := exam.UnmarshalDefinition(raw)
		if err == nil {
			return def, nil
		}
		c.logger.Warn("dropping undecodable cached exam", "course_id", courseID, "error", err)
		c.invalidate(ctx, key)
	}

	v, err := c.load(ctx, key, func(ctx context.Context) (interface{}, error) {
		def, err := c.next.ExamDefinition(ctx, courseID)
		if err != nil {
			return nil, err
		}
		if doc, err := exam.MarshalDefinition(def); err == nil {
			c.store(ctx, key, json.RawMessage(doc))
		}
		return def, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*exam.Definition), nil
}

// Invalidate drops the cached entries of a course.
func (c *CachedCatalog) Invalidate(ctx context.Context, courseID string) {
	c.invalidate(ctx, CatalogUnitsKey(courseID), CatalogExamKey(courseID))
}

// load runs fn once per key across concurrent callers. A caller whose
// context ends stops waiting; the load itself keeps going for the others.
func (c *CachedCatalog) load(ctx context.Context, key string, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	ch := c.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), catalogLoadTimeout)
		defer cancel()
		return fn(loadCtx)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val, res.Err
	}
}

// lookup reports a cache hit. Misses and cache errors both report false.
func (c *CachedCatalog) lookup(ctx context.Context, key string, dest interface{}) bool {
	hit := false
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		err := c.cache.Get(ctx, key, dest)
		if errors.Is(err, ErrCacheMiss) {
			return nil
		}
		if err == nil {
			hit = true
		}
		return err
	})
	if err != nil && !circuitbreaker.IsRejected(err) {
		c.logger.Debug("catalog cache read failed", "key", key, "error", err)
	}
	return hit
}

func (c *CachedCatalog) store(ctx context.Context, key string, value interface{}) {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.cache.Set(ctx, key, value, c.ttl)
	})
	if err != nil && !circuitbreaker.IsRejected(err) {
		c.logger.Debug("catalog cache write failed", "key", key, "error", err)
	}
}

func (c *CachedCatalog) invalidate(ctx context.Context, keys ...string) {
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.cache.Delete(ctx, keys...)
	})
	if err != nil && !circuitbreaker.IsRejected(err) {
		c.logger.Debug("catalog cache delete failed", "keys", keys, "error", err)
	}
}

var _ course.Catalog = (*CachedCatalog)(nil)
