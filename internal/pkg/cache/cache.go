// Package cache is a read-through JSON cache over Redis with glob-pattern
// invalidation. It shares the store with sessions but never touches the
// auth: namespace.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/learnhub/core/internal/pkg/metrics"
	"github.com/learnhub/core/internal/pkg/redis"
)

const reservedPrefix = "auth:"

var ErrReservedNamespace = errors.New("cache: key is in the reserved session namespace")

// Cache reads and writes JSON values.
type Cache struct {
	store      *redis.Client
	defaultTTL time.Duration
	collapse   bool
	sf         singleflight.Group
	logger     *zap.Logger
	metrics    *metrics.Metrics
}

// Options configures a Cache.
type Options struct {
	// DefaultTTL applies when GetOrSet gets no WithTTL. Zero keeps entries until invalidated.
	DefaultTTL time.Duration
	// SingleFlight turns on WithSingleFlight for every GetOrSet call.
	SingleFlight bool
	Logger       *zap.Logger
	Metrics      *metrics.Metrics
}

// New creates a Cache.
func New(store *redis.Client, opts Options) *Cache {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Cache{
		store:      store,
		defaultTTL: opts.DefaultTTL,
		collapse:   opts.SingleFlight,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
	}
}

// MakeKey formats namespace:identifier.
func MakeKey(namespace string, identifier ...interface{}) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, id := range identifier {
		b.WriteByte(':')
		fmt.Fprint(&b, id)
	}
	return b.String()
}

// ValidKey reports whether key may be used by the cache.
func ValidKey(key string) error {
	if key == "" {
		return errors.New("cache: empty key")
	}
	if strings.HasPrefix(key, reservedPrefix) {
		return ErrReservedNamespace
	}
	return nil
}

// validPattern also rejects globs whose literal prefix could expand into the
// reserved namespace, such as "*" or "au*".
func validPattern(pattern string) error {
	if err := ValidKey(pattern); err != nil {
		return err
	}
	i := strings.IndexAny(pattern, "*?[\\")
	if i < 0 {
		return nil
	}
	if strings.HasPrefix(reservedPrefix, pattern[:i]) {
		return ErrReservedNamespace
	}
	return nil
}

type getOptions struct {
	ttl          time.Duration
	singleFlight bool
}

// Option tunes a single GetOrSet call.
type Option func(*getOptions)

// WithTTL sets the expiry of the stored value.
func WithTTL(ttl time.Duration) Option {
	return func(o *getOptions) {
		o.ttl = ttl
	}
}

// WithSingleFlight collapses concurrent misses for the same key into one producer call.
func WithSingleFlight() Option {
	return func(o *getOptions) { o.singleFlight = true }
}

// GetOrSet returns the cached value for key, or calls producer on a miss and
// stores its result. A nil result is returned as-is and not cached.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, producer func(ctx context.Context) (*T, error), opts ...Option) (*T, error) {
	if err := ValidKey(key); err != nil {
		return nil, err
	}
	o := getOptions{ttl: c.defaultTTL, singleFlight: c.collapse}
	for _, opt := range opts {
		opt(&o)
	}

	cached, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if ok {
		var v T
		if err := json.Unmarshal([]byte(cached), &v); err == nil {
			c.metrics.CacheHit()
			return &v, nil
		}
		c.logger.Warn("cache entry undecodable, refreshing", zap.String("key", key))
	}
	c.metrics.CacheMiss()

	load := func() (*T, error) {
		v, err := producer(ctx)
		if err != nil || v == nil {
			return v, err
		}
		payload, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("cache: encode %s: %w", key, err)
		}
		if err := c.store.Set(ctx, key, payload, o.ttl); err != nil {
			return nil, err
		}
		return v, nil
	}

	if !o.singleFlight {
		return load()
	}
	res, err, _ := c.sf.Do(key, func() (interface{}, error) {
		return load()
	})
	if err != nil {
		return nil, err
	}
	return res.(*T), nil
}

// Set stores value under key.
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if err := ValidKey(key); err != nil {
		return err
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return c.store.Set(ctx, key, payload, ttl)
}

// Invalidate deletes every key matching any of the glob patterns. A pattern
// without wildcards deletes that exact key. Zero matches is not an error.
func (c *Cache) Invalidate(ctx context.Context, patterns ...string) error {
	for _, p := range patterns {
		if err := validPattern(p); err != nil {
			return err
		}
	}

	var total int64
	for _, p := range patterns {
		var (
			n   int64
			err error
		)
		if strings.ContainsAny(p, "*?[") {
			n, err = c.store.DeletePattern(ctx, p)
		} else {
			n, err = c.store.Del(ctx, p)
		}
		if err != nil {
			return err
		}
		total += n
	}
	c.metrics.CacheInvalidated(total)
	if total > 0 {
		c.logger.Debug("cache invalidated", zap.Strings("patterns", patterns), zap.Int64("keys", total))
	}
	return nil
}
