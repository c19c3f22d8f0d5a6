package taskqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	redisc "github.com/learnhub/core/internal/pkg/redis"
)

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskRunning TaskStatus = "running"
	TaskFailed  TaskStatus = "failed"
)

// Task is a unit of background work stored in Redis.
type Task struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      TaskStatus      `json:"status"`
	Error       string          `json:"error,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	DedupKey    string          `json:"dedup_key,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Decode unmarshals the task payload into v.
func (t *Task) Decode(v interface{}) error {
	return json.Unmarshal(t.Payload, v)
}

const (
	keyPrefix   = "lh:task:"
	keyPending  = "lh:tasks:pending" // list of task ids, LPUSH/BRPOP
	keyDelayed  = "lh:tasks:delayed" // sorted set: score=run_at ms, member=task_id
	keyDedupSet = "lh:tasks:dedup:"  // hash: dedup_key -> task_id
	taskTTL     = 7 * 24 * time.Hour // tasks expire after 7 days

	DefaultMaxAttempts = 3
	DefaultBackoff     = 3 * time.Second
)

// Service manages the Redis-backed task queue.
type Service struct {
	rc          *redisc.Client
	maxAttempts int
	now         func() time.Time
}

func NewService(rc *redisc.Client) *Service {
	return &Service{rc: rc, maxAttempts: DefaultMaxAttempts, now: time.Now}
}

func (s *Service) taskKey(id string) string { return keyPrefix + id }

// Enqueue creates a new task. A second call with the same type and dedup key
// returns the task already queued.
func (s *Service) Enqueue(ctx context.Context, taskType string, payload interface{}, dedupKey string) (*Task, error) {
	if dedupKey != "" {
		existing, found, err := s.hget(ctx, keyDedupSet+taskType, dedupKey)
		if err != nil {
			return nil, err
		}
		if found {
			task, err := s.GetByID(ctx, existing)
			if err != nil {
				return nil, err
			}
			if task != nil {
				return task, nil
			}
		}
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode task payload: %w", err)
	}

	now := s.now()
	task := &Task{
		ID:          uuid.New().String(),
		Type:        taskType,
		Payload:     payloadBytes,
		Status:      TaskPending,
		MaxAttempts: s.maxAttempts,
		DedupKey:    dedupKey,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	data, err := json.Marshal(task)
	if err != nil {
		return nil, err
	}

	err = s.rc.Batch(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.taskKey(task.ID), data, taskTTL)
		pipe.LPush(ctx, keyPending, task.ID)
		if dedupKey != "" {
			pipe.HSet(ctx, keyDedupSet+taskType, dedupKey, task.ID)
			pipe.Expire(ctx, keyDedupSet+taskType, taskTTL)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}

// GetByID retrieves a task by its ID. Returns nil when it does not exist.
func (s *Service) GetByID(ctx context.Context, id string) (*Task, error) {
	data, found, err := s.rc.Get(ctx, s.taskKey(id))
	if err != nil || !found {
		return nil, err
	}
	var task Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return nil, fmt.Errorf("decode task %s: %w", id, err)
	}
	return &task, nil
}

func (s *Service) save(ctx context.Context, task *Task) error {
	task.UpdatedAt = s.now()
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return s.rc.Set(ctx, s.taskKey(task.ID), data, taskTTL)
}

// complete removes a finished task together with its dedup entry.
func (s *Service) complete(ctx context.Context, task *Task) error {
	return s.rc.Batch(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.taskKey(task.ID))
		if task.DedupKey != "" {
			pipe.HDel(ctx, keyDedupSet+task.Type, task.DedupKey)
		}
		return nil
	})
}

// retryLater parks the task in the delayed set until runAt.
func (s *Service) retryLater(ctx context.Context, task *Task, runAt time.Time) error {
	task.Status = TaskPending
	task.UpdatedAt = s.now()
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return s.rc.Batch(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.taskKey(task.ID), data, taskTTL)
		pipe.ZAdd(ctx, keyDelayed, redis.Z{Score: float64(runAt.UnixMilli()), Member: task.ID})
		return nil
	})
}

// fail keeps the task for inspection and releases its dedup key.
func (s *Service) fail(ctx context.Context, task *Task, msg string) error {
	task.Status = TaskFailed
	task.Error = msg
	task.UpdatedAt = s.now()
	data, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return s.rc.Batch(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.taskKey(task.ID), data, taskTTL)
		if task.DedupKey != "" {
			pipe.HDel(ctx, keyDedupSet+task.Type, task.DedupKey)
		}
		return nil
	})
}

// promoteDue moves delayed tasks whose time has come back onto the pending list.
func (s *Service) promoteDue(ctx context.Context) (int, error) {
	due := strconv.FormatInt(s.now().UnixMilli(), 10)
	ids, err := s.rc.Raw().ZRangeByScore(ctx, keyDelayed, &redis.ZRangeBy{Min: "-inf", Max: due}).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", redisc.ErrStoreUnavailable, err)
	}
	moved := 0
	for _, id := range ids {
		// ZREM decides which worker owns the promotion.
		n, err := s.rc.Raw().ZRem(ctx, keyDelayed, id).Result()
		if err != nil {
			return moved, fmt.Errorf("%w: %w", redisc.ErrStoreUnavailable, err)
		}
		if n == 0 {
			continue
		}
		if err := s.rc.LPush(ctx, keyPending, id); err != nil {
			return moved, err
		}
		moved++
	}
	return moved, nil
}

// Pending returns the number of tasks waiting to run now.
func (s *Service) Pending(ctx context.Context) (int64, error) {
	n, err := s.rc.Raw().LLen(ctx, keyPending).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", redisc.ErrStoreUnavailable, err)
	}
	return n, nil
}

// Delayed returns the number of tasks waiting for a retry.
func (s *Service) Delayed(ctx context.Context) (int64, error) {
	n, err := s.rc.Raw().ZCard(ctx, keyDelayed).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", redisc.ErrStoreUnavailable, err)
	}
	return n, nil
}

func (s *Service) hget(ctx context.Context, key, field string) (string, bool, error) {
	v, err := s.rc.Raw().HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %w", redisc.ErrStoreUnavailable, err)
	}
	return v, v != "", nil
}
