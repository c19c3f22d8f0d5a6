package taskqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/learnhub/core/internal/pkg/metrics"
)

// Handler runs a task. A returned error schedules a retry until MaxAttempts.
type Handler func(ctx context.Context, task *Task) error

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	Concurrency int
	Backoff     time.Duration
	PollTimeout time.Duration
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
}

// Worker pops pending tasks and dispatches them to registered handlers.
type Worker struct {
	svc      *Service
	handlers map[string]Handler
	mu       sync.RWMutex
	opts     WorkerOptions
	logger   *zap.Logger
}

func NewWorker(svc *Service, opts WorkerOptions) *Worker {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = DefaultBackoff
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Worker{
		svc:      svc,
		handlers: make(map[string]Handler),
		opts:     opts,
		logger:   opts.Logger,
	}
}

// Handle registers the handler for a task type.
func (w *Worker) Handle(taskType string, h Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[taskType] = h
}

// Run consumes tasks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.loop(ctx)
		}()
	}
	wg.Wait()
}

func (w *Worker) loop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := w.svc.promoteDue(ctx); err != nil && ctx.Err() == nil {
			w.logger.Warn("taskqueue promote failed", zap.Error(err))
		}
		id, ok, err := w.svc.rc.BRPop(ctx, w.opts.PollTimeout, keyPending)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("taskqueue pop failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.opts.PollTimeout):
			}
			continue
		}
		if !ok {
			continue
		}
		if err := w.process(ctx, id); err != nil {
			w.logger.Warn("taskqueue process failed", zap.String("id", id), zap.Error(err))
		}
	}
}

// ProcessOne promotes due retries and runs at most one pending task without
// blocking. It reports whether a task was taken.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	if _, err := w.svc.promoteDue(ctx); err != nil {
		return false, err
	}
	id, ok, err := w.svc.rc.RPop(ctx, keyPending)
	if err != nil || !ok {
		return false, err
	}
	return true, w.process(ctx, id)
}

func (w *Worker) process(ctx context.Context, id string) error {
	task, err := w.svc.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}

	w.mu.RLock()
	h, ok := w.handlers[task.Type]
	w.mu.RUnlock()
	if !ok {
		w.opts.Metrics.Task(task.Type, "unhandled")
		return w.svc.fail(ctx, task, fmt.Sprintf("no handler for task type %q", task.Type))
	}

	task.Status = TaskRunning
	task.Attempts++
	if err := w.svc.save(ctx, task); err != nil {
		return err
	}

	runErr := w.run(ctx, h, task)
	if runErr == nil {
		w.opts.Metrics.Task(task.Type, "completed")
		return w.svc.complete(ctx, task)
	}

	limit := task.MaxAttempts
	if limit <= 0 {
		limit = DefaultMaxAttempts
	}
	if task.Attempts >= limit {
		w.logger.Error("task failed",
			zap.String("id", task.ID),
			zap.String("type", task.Type),
			zap.Int("attempts", task.Attempts),
			zap.Error(runErr),
		)
		w.opts.Metrics.Task(task.Type, "failed")
		return w.svc.fail(ctx, task, runErr.Error())
	}

	delay := w.opts.Backoff << (task.Attempts - 1)
	task.Error = runErr.Error()
	w.logger.Warn("task retry scheduled",
		zap.String("id", task.ID),
		zap.String("type", task.Type),
		zap.Int("attempt", task.Attempts),
		zap.Duration("delay", delay),
		zap.Error(runErr),
	)
	w.opts.Metrics.Task(task.Type, "retried")
	return w.svc.retryLater(ctx, task, w.svc.now().Add(delay))
}

func (w *Worker) run(ctx context.Context, h Handler, task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return h(ctx, task)
}
