package redis

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alem-hub/fitness-progression/pkg/circuitbreaker"
)

// ReadThrough caches values of type T under a key prefix. Concurrent misses for
// the same key are collapsed into a single load.
type ReadThrough[T any] struct {
	cache  *Cache
	prefix string
	ttl    time.Duration
	group  singleflight.Group

	breaker *circuitbreaker.CircuitBreaker
}

// NewReadThrough creates a read-through cache. A non-positive ttl uses TTLStatsCache.
func NewReadThrough[T any](cache *Cache, prefix string, ttl time.Duration) *ReadThrough[T] {
	if ttl <= 0 {
		ttl = TTLStatsCache
	}
	return &ReadThrough[T]{cache: cache, prefix: prefix, ttl: ttl}
}

// NewStatsCache creates a read-through cache for user stats.
func NewStatsCache[T any](cache *Cache, ttl time.Duration) *ReadThrough[T] {
	return NewReadThrough[T](cache, PrefixStats, ttl)
}

// NewCacheBreaker returns a breaker that counts connection failures only.
// Misses and undecodable entries are normal cache traffic.
func NewCacheBreaker(opts ...circuitbreaker.Option) *circuitbreaker.CircuitBreaker {
	opts = append([]circuitbreaker.Option{
		circuitbreaker.WithIsFailure(func(err error) bool {
			return !errors.Is(err, ErrCacheMiss) && !errors.Is(err, ErrCacheSerialization)
		}),
	}, opts...)
	return circuitbreaker.New("redis-cache", opts...)
}

// WithBreaker routes every Redis call through cb. While the circuit is open
// reads go straight to the loader.
func (r *ReadThrough[T]) WithBreaker(cb *circuitbreaker.CircuitBreaker) *ReadThrough[T] {
	r.breaker = cb
	return r
}

func (r *ReadThrough[T]) call(ctx context.Context, fn func(context.Context) error) error {
	if r.breaker == nil {
		return fn(ctx)
	}
	return r.breaker.Execute(ctx, fn)
}

// GetOrLoad returns the cached value or loads and stores it.
// Cache failures degrade to calling load directly.
func (r *ReadThrough[T]) GetOrLoad(ctx context.Context, key string, load func(context.Context) (T, error)) (T, error) {
	fullKey := r.prefix + key

	var cached T
	err := r.call(ctx, func(ctx context.Context) error {
		return r.cache.Get(ctx, fullKey, &cached)
	})
	if err == nil {
		return cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) && !errors.Is(err, ErrCacheSerialization) {
		return load(ctx)
	}

	v, err, _ := r.group.Do(fullKey, func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return value, err
		}
		_ = r.call(ctx, func(ctx context.Context) error {
			return r.cache.Set(ctx, fullKey, value, r.ttl)
		})
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Invalidate drops the cached value for key.
func (r *ReadThrough[T]) Invalidate(ctx context.Context, key string) error {
	return r.call(ctx, func(ctx context.Context) error {
		return r.cache.Delete(ctx, r.prefix+key)
	})
}
