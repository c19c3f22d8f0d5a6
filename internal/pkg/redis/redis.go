package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable wraps every failure talking to Redis other than a plain miss.
var ErrStoreUnavailable = errors.New("store unavailable")

// ErrConflict is returned by Watch when the watched keys kept changing
// through every attempt.
var ErrConflict = errors.New("store: optimistic transaction conflict")

const (
	defaultScanCount    = 200
	defaultWatchRetries = 16
)

// Client wraps go-redis for the application.
type Client struct {
	rdb *redis.Client
}

// Connect creates a Redis client and verifies connectivity.
func Connect(url string) (*Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// New wraps an existing go-redis client.
func New(rdb *redis.Client) *Client { return &Client{rdb: rdb} }

// Raw returns the underlying redis.Client for advanced usage.
func (c *Client) Raw() *redis.Client { return c.rdb }

// Close releases the connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// Ping checks connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return wrap(c.rdb.Ping(ctx).Err())
}

// Set stores a value with optional TTL (0 = no expiry).
func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return wrap(c.rdb.Set(ctx, key, value, ttl).Err())
}

// SetNX stores a value only if the key is absent. Reports whether it was set.
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, key, value, ttl).Result()
	return ok, wrap(err)
}

// Replace overwrites an existing key keeping its remaining TTL.
// Reports false when the key no longer exists.
func (c *Client) Replace(ctx context.Context, key string, value interface{}) (bool, error) {
	err := c.rdb.SetArgs(ctx, key, value, redis.SetArgs{Mode: "XX", KeepTTL: true}).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, wrap(err)
	}
	return true, nil
}

// Get retrieves a string value. The bool is false when the key does not exist.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(err)
	}
	return val, true, nil
}

// GetDel atomically reads and deletes a key.
func (c *Client) GetDel(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.GetDel(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(err)
	}
	return val, true, nil
}

// MGet fetches many keys in one round trip. Missing keys are absent from the result.
func (c *Client) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrap(err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = s
		}
	}
	return out, nil
}

// Del deletes one or more keys.
func (c *Client) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := c.rdb.Del(ctx, keys...).Result()
	return n, wrap(err)
}

// Exists reports whether a key exists.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	return n > 0, wrap(err)
}

// TTL returns the remaining lifetime of a key.
func (c *Client) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.rdb.TTL(ctx, key).Result()
	return d, wrap(err)
}

// SAdd adds members to a set.
func (c *Client) SAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return wrap(c.rdb.SAdd(ctx, key, toArgs(members)...).Err())
}

// SRem removes members from a set.
func (c *Client) SRem(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	return wrap(c.rdb.SRem(ctx, key, toArgs(members)...).Err())
}

// SMembers lists every member of a set. A missing set is empty.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrap(err)
	}
	return members, nil
}

// SCard returns the set size.
func (c *Client) SCard(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.SCard(ctx, key).Result()
	return n, wrap(err)
}

// Batch runs fn inside MULTI/EXEC so the queued writes apply together.
func (c *Client) Batch(ctx context.Context, fn func(pipe redis.Pipeliner) error) error {
	_, err := c.rdb.TxPipelined(ctx, fn)
	return wrap(err)
}

// Scan walks keys matching pattern with a cursor and hands each non-empty page to fn.
// It never issues KEYS.
func (c *Client) Scan(ctx context.Context, pattern string, count int64, fn func(keys []string) error) error {
	if count <= 0 {
		count = defaultScanCount
	}
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, count).Result()
		if err != nil {
			return wrap(err)
		}
		if len(keys) > 0 {
			if err := fn(keys); err != nil {
				return err
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// DeletePattern removes every key matching pattern, page by page.
func (c *Client) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var deleted int64
	err := c.Scan(ctx, pattern, defaultScanCount, func(keys []string) error {
		n, err := c.Del(ctx, keys...)
		if err != nil {
			return err
		}
		deleted += n
		return nil
	})
	return deleted, err
}

// IncrWindow increments a counter and arms its expiry on first use.
func (c *Client) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	count, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, wrap(err)
	}
	if count == 1 {
		if err := c.rdb.PExpire(ctx, key, window).Err(); err != nil {
			return count, wrap(err)
		}
	}
	return count, nil
}

// LPush prepends values to a list.
func (c *Client) LPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	return wrap(c.rdb.LPush(ctx, key, toArgs(values)...).Err())
}

// BRPop blocks up to timeout for the tail of a list. The bool is false on timeout.
func (c *Client) BRPop(ctx context.Context, timeout time.Duration, key string) (string, bool, error) {
	res, err := c.rdb.BRPop(ctx, timeout, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(err)
	}
	if len(res) < 2 {
		return "", false, nil
	}
	return res[1], true, nil
}

// RPop pops the tail of a list without blocking.
func (c *Client) RPop(ctx context.Context, key string) (string, bool, error) {
	val, err := c.rdb.RPop(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(err)
	}
	return val, true, nil
}

// Tx reads under WATCH. Writes queued through Batch apply only when no
// watched key changed since the WATCH was set.
type Tx struct {
	tx *redis.Tx
}

// Get reads a string value. The bool is false when the key does not exist.
func (t *Tx) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := t.tx.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrap(err)
	}
	return val, true, nil
}

// SMembers lists every member of a set.
func (t *Tx) SMembers(ctx context.Context, key string) ([]string, error) {
	members, err := t.tx.SMembers(ctx, key).Result()
	if err != nil {
		return nil, wrap(err)
	}
	return members, nil
}

// MGet fetches many keys in one round trip. Missing keys are absent from the result.
func (t *Tx) MGet(ctx context.Context, keys ...string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	vals, err := t.tx.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrap(err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = s
		}
	}
	return out, nil
}

// Batch queues writes in MULTI/EXEC. It fails with redis.TxFailedErr when a
// watched key changed.
func (t *Tx) Batch(ctx context.Context, fn func(pipe redis.Pipeliner) error) error {
	_, err := t.tx.TxPipelined(ctx, fn)
	if errors.Is(err, redis.TxFailedErr) {
		return err
	}
	return wrap(err)
}

// Watch runs fn under WATCH on keys and retries it from scratch while
// another client modifies them in between. Errors returned by fn other
// than a failed EXEC are passed through unchanged.
func (c *Client) Watch(ctx context.Context, fn func(tx *Tx) error, keys ...string) error {
	for attempt := 0; attempt < defaultWatchRetries; attempt++ {
		var fnErr error
		err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
			fnErr = fn(&Tx{tx: tx})
			return fnErr
		}, keys...)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case fnErr != nil:
			return fnErr
		default:
			return wrap(err)
		}
	}
	return ErrConflict
}

// IsUnavailable reports whether err came from a store connectivity failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

func wrap(err error) error {
	if err == nil || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}
