package redis

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := New(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestGetMissIsNotAnError(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	val, ok, err := c.Get(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, val)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	val, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", val)
}

func TestMGetSkipsMissingKeys(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "a", "1", 0))
	require.NoError(t, c.Set(ctx, "c", "3", 0))

	got, err := c.MGet(ctx, "a", "b", "c")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "c": "3"}, got)

	empty, err := c.MGet(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestSetOperations(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.SAdd(ctx, "s", "x", "y", "z"))
	require.NoError(t, c.SRem(ctx, "s", "y"))
	members, err := c.SMembers(ctx, "s")
	require.NoError(t, err)
	sort.Strings(members)
	assert.Equal(t, []string{"x", "z"}, members)

	n, err := c.SCard(ctx, "s")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	missing, err := c.SMembers(ctx, "none")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestBatchAppliesAllWrites(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	err := c.Batch(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, "rec", "data", time.Hour)
		pipe.SAdd(ctx, "idx", "rec")
		pipe.Expire(ctx, "idx", time.Hour)
		return nil
	})
	require.NoError(t, err)

	assert.True(t, mr.Exists("rec"))
	ok, err := mr.SIsMember("idx", "rec")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, time.Hour, mr.TTL("idx"))
}

func TestReplaceKeepsTTL(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	ok, err := c.Replace(ctx, "gone", "x")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", "old", time.Hour))
	mr.FastForward(10 * time.Minute)
	ok, err = c.Replace(ctx, "k", "new")
	require.NoError(t, err)
	assert.True(t, ok)

	val, _, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "new", val)
	assert.Equal(t, 50*time.Minute, mr.TTL("k"))
}

func TestScanAndDeletePattern(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	for _, k := range []string{"user:payments:1:1", "user:payments:1:2", "user:payments:12:1", "user:batches:1"} {
		require.NoError(t, mr.Set(k, "v"))
	}

	var seen []string
	require.NoError(t, c.Scan(ctx, "user:payments:1:*", 1, func(keys []string) error {
		seen = append(seen, keys...)
		return nil
	}))
	sort.Strings(seen)
	assert.Equal(t, []string{"user:payments:1:1", "user:payments:1:2"}, seen)

	n, err := c.DeletePattern(ctx, "user:payments:1*")
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	assert.True(t, mr.Exists("user:batches:1"))

	n, err = c.DeletePattern(ctx, "nothing:*")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIncrWindowArmsExpiryOnce(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	n, err := c.IncrWindow(ctx, "rl", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	mr.FastForward(30 * time.Second)

	n, err = c.IncrWindow(ctx, "rl", time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, 30*time.Second, mr.TTL("rl"))

	mr.FastForward(31 * time.Second)
	assert.False(t, mr.Exists("rl"))
}

func TestListPushPop(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.LPush(ctx, "q", "a", "b"))
	val, ok, err := c.RPop(ctx, "q")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", val)

	val, ok, err = c.BRPop(ctx, 100*time.Millisecond, "q")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", val)

	_, ok, err = c.RPop(ctx, "q")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWatchRetriesOnConflict(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	other := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = other.Close() })

	require.NoError(t, c.Set(ctx, "counter", "1", 0))

	attempts := 0
	err := c.Watch(ctx, func(tx *Tx) error {
		attempts++
		val, ok, err := tx.Get(ctx, "counter")
		if err != nil {
			return err
		}
		require.True(t, ok)
		if attempts == 1 {
			// A concurrent writer touches the watched key.
			require.NoError(t, other.Set(ctx, "counter", "5", 0).Err())
		}
		return tx.Batch(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, "counter", val+"0", 0)
			return nil
		})
	}, "counter")
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	got, err := mr.Get("counter")
	require.NoError(t, err)
	assert.Equal(t, "50", got)
}

func TestWatchReturnsCallbackError(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()
	boom := errors.New("boom")

	calls := 0
	err := c.Watch(ctx, func(tx *Tx) error {
		calls++
		members, err := tx.SMembers(ctx, "set")
		if err != nil {
			return err
		}
		assert.Empty(t, members)
		return boom
	}, "set")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.False(t, mr.Exists("set"))
}

func TestFailuresWrapStoreUnavailable(t *testing.T) {
	c, mr := newTestClient(t)
	mr.Close()
	ctx := context.Background()

	_, _, err := c.Get(ctx, "k")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.True(t, IsUnavailable(err))

	err = c.Batch(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, "k", "v", 0)
		return nil
	})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, c.Ping(ctx), ErrStoreUnavailable)
}

func TestConnectRejectsBadURL(t *testing.T) {
	_, err := Connect("not-a-url")
	assert.Error(t, err)

	mr := miniredis.RunT(t)
	c, err := Connect("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	require.NoError(t, c.Close())
}
