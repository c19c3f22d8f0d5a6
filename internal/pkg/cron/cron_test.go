package cron

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunRecordsStatus(t *testing.T) {
	s := New(nil)
	s.Register(Job{Name: "ok", Interval: time.Hour, Fn: func(context.Context) error { return nil }})
	s.Register(Job{Name: "bad", Interval: time.Hour, Fn: func(context.Context) error { return errors.New("boom") }})

	require.NoError(t, s.Run(context.Background(), "ok"))
	assert.EqualError(t, s.Run(context.Background(), "bad"), "boom")
	assert.ErrorIs(t, s.Run(context.Background(), "missing"), ErrJobNotFound)

	items := s.List()
	require.Len(t, items, 2)
	assert.Equal(t, "bad", items[0].Name)
	assert.Equal(t, StatusFailed, items[0].Status)
	assert.Equal(t, "boom", items[0].Message)
	assert.Equal(t, StatusOK, items[1].Status)
	assert.NotNil(t, items[1].LastRunAt)
}

func TestStartRunsOnInterval(t *testing.T) {
	s := New(nil)
	var calls int32
	s.Register(Job{
		Name:       "tick",
		Interval:   20 * time.Millisecond,
		RunOnStart: true,
		Fn: func(context.Context) error {
			atomic.AddInt32(&calls, 1)
			return nil
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 3 }, 2*time.Second, 5*time.Millisecond)
}

func TestStopAndWait(t *testing.T) {
	s := New(nil)
	var calls int32
	s.Register(Job{Name: "tick", Interval: 10 * time.Millisecond, Fn: func(context.Context) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}})
	s.Register(Job{Name: "never", Fn: func(context.Context) error { return nil }})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, time.Second, 5*time.Millisecond)
	cancel()
	s.Wait()

	after := atomic.LoadInt32(&calls)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, atomic.LoadInt32(&calls))
}

func TestPanicBecomesFailure(t *testing.T) {
	s := New(nil)
	s.Register(Job{Name: "explode", Interval: time.Hour, Fn: func(context.Context) error { panic("kaboom") }})

	err := s.Run(context.Background(), "explode")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, StatusFailed, s.List()[0].Status)
}

func TestRunAppliesTimeout(t *testing.T) {
	s := New(nil)
	s.Register(Job{Name: "slow", Interval: time.Hour, Timeout: 10 * time.Millisecond, Fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	assert.ErrorIs(t, s.Run(context.Background(), "slow"), context.DeadlineExceeded)
}
