// Package ratelimit holds Redis-backed throttles and one-shot locks.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/learnhub/core/internal/pkg/redis"
)

var (
	ErrCooldown     = errors.New("please wait before requesting another code")
	ErrLimitReached = errors.New("verification email limit reached, try again later")
	ErrLocked       = errors.New("action is locked, try again later")
)

// EmailLimiter throttles verification emails per user: one per cooldown and
// at most Max per window.
type EmailLimiter struct {
	store    *redis.Client
	Cooldown time.Duration
	Max      int
	Window   time.Duration
}

func NewEmailLimiter(store *redis.Client) *EmailLimiter {
	return &EmailLimiter{store: store, Cooldown: 60 * time.Second, Max: 3, Window: time.Hour}
}

// Check records one send for userID or returns ErrCooldown / ErrLimitReached.
func (l *EmailLimiter) Check(ctx context.Context, userID string) error {
	cooldownKey := "email:verify:cooldown:" + userID
	countKey := "email:verify:count:" + userID

	cooling, err := l.store.Exists(ctx, cooldownKey)
	if err != nil {
		return err
	}
	if cooling {
		return ErrCooldown
	}
	raw, found, err := l.store.Get(ctx, countKey)
	if err != nil {
		return err
	}
	if found {
		if n, err := strconv.Atoi(raw); err == nil && n >= l.Max {
			return ErrLimitReached
		}
	}

	return l.store.Batch(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Incr(ctx, countKey)
		pipe.Expire(ctx, countKey, l.Window)
		pipe.Set(ctx, cooldownKey, "1", l.Cooldown)
		return nil
	})
}

// WeeklyLock allows an action once per TTL per user.
type WeeklyLock struct {
	store  *redis.Client
	prefix string
	TTL    time.Duration
}

func NewWeeklyLock(store *redis.Client, name string) *WeeklyLock {
	return &WeeklyLock{store: store, prefix: fmt.Sprintf("lock:%s:update:", name), TTL: 7 * 24 * time.Hour}
}

// Acquire takes the lock for userID or returns ErrLocked if it is held.
func (l *WeeklyLock) Acquire(ctx context.Context, userID string) error {
	ok, err := l.store.SetNX(ctx, l.prefix+userID, "1", l.TTL)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// Release drops the lock, used when the guarded write fails.
func (l *WeeklyLock) Release(ctx context.Context, userID string) error {
	_, err := l.store.Del(ctx, l.prefix+userID)
	return err
}

// Window is a fixed-window request counter.
type Window struct {
	store  *redis.Client
	prefix string
	Limit  int64
	Period time.Duration
	now    func() time.Time
}

func NewWindow(store *redis.Client, prefix string, limit int64, period time.Duration) *Window {
	return &Window{store: store, prefix: prefix, Limit: limit, Period: period, now: time.Now}
}

// Allow counts one hit for subject in the current window.
func (w *Window) Allow(ctx context.Context, subject string) (bool, error) {
	bucket := w.now().UnixNano() / int64(w.Period)
	key := fmt.Sprintf("%s:%s:%d", w.prefix, subject, bucket)
	count, err := w.store.IncrWindow(ctx, key, w.Period+time.Second)
	if err != nil {
		return false, err
	}
	return count <= w.Limit, nil
}
