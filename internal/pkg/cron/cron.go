package cron

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrJobNotFound is returned by Run for an unknown job name.
var ErrJobNotFound = errors.New("cron: job not found")

// JobStatus represents the last known state of a job.
type JobStatus string

const (
	StatusIdle    JobStatus = "idle"
	StatusRunning JobStatus = "running"
	StatusOK      JobStatus = "ok"
	StatusFailed  JobStatus = "failed"
)

// Job is an interval task.
type Job struct {
	Name        string
	Description string
	Interval    time.Duration
	// Timeout bounds one execution. Zero means the interval.
	Timeout time.Duration
	// RunOnStart executes the job once right after Start.
	RunOnStart bool
	Fn         func(ctx context.Context) error
}

type jobState struct {
	Job

	mu       sync.Mutex
	status   JobStatus
	message  string
	lastRun  *time.Time
	lastTook time.Duration
	next     time.Time
}

// ListItem is the serializable representation of a job.
type ListItem struct {
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Status      JobStatus     `json:"status"`
	Message     string        `json:"message,omitempty"`
	NextRunAt   time.Time     `json:"next_run_at"`
	LastRunAt   *time.Time    `json:"last_run_at,omitempty"`
	LastTook    time.Duration `json:"last_took_ns,omitempty"`
}

// Scheduler runs named jobs on fixed intervals until its context ends.
type Scheduler struct {
	mu     sync.RWMutex
	jobs   map[string]*jobState
	logger *zap.Logger
	now    func() time.Time
	wg     sync.WaitGroup
}

func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{jobs: make(map[string]*jobState), logger: logger, now: time.Now}
}

// Register adds or replaces a job. Jobs registered after Start are not scheduled.
func (s *Scheduler) Register(job Job) {
	next := s.now()
	if !job.RunOnStart {
		next = next.Add(job.Interval)
	}
	s.mu.Lock()
	s.jobs[job.Name] = &jobState{Job: job, status: StatusIdle, next: next}
	s.mu.Unlock()
}

// Start launches one loop per job. Cancel ctx to stop them, then Wait.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, js := range s.jobs {
		if js.Interval <= 0 {
			s.logger.Warn("cron job skipped, no interval", zap.String("job", js.Name))
			continue
		}
		s.wg.Add(1)
		go func(js *jobState) {
			defer s.wg.Done()
			s.loop(ctx, js)
		}(js)
	}
}

// Wait blocks until every loop started by Start has returned.
func (s *Scheduler) Wait() { s.wg.Wait() }

func (s *Scheduler) loop(ctx context.Context, js *jobState) {
	for {
		js.mu.Lock()
		wait := js.next.Sub(s.now())
		js.mu.Unlock()

		timer := time.NewTimer(max(wait, 0))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		_ = s.execute(ctx, js)
		js.mu.Lock()
		js.next = s.now().Add(js.Interval)
		js.mu.Unlock()
	}
}

// execute runs js once. Overlapping runs of the same job are skipped.
func (s *Scheduler) execute(ctx context.Context, js *jobState) (err error) {
	js.mu.Lock()
	if js.status == StatusRunning {
		js.mu.Unlock()
		return nil
	}
	js.status = StatusRunning
	js.mu.Unlock()

	timeout := js.Timeout
	if timeout <= 0 {
		timeout = js.Interval
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	started := s.now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cron: job %s panicked: %v", js.Name, r)
		}
		s.finish(js, started, err)
	}()
	return js.Fn(ctx)
}

func (s *Scheduler) finish(js *jobState, started time.Time, err error) {
	took := s.now().Sub(started)

	js.mu.Lock()
	js.lastRun = &started
	js.lastTook = took
	if err != nil {
		js.status = StatusFailed
		js.message = err.Error()
	} else {
		js.status = StatusOK
		js.message = ""
	}
	js.mu.Unlock()

	if err != nil {
		s.logger.Error("cron job failed", zap.String("job", js.Name), zap.Duration("took", took), zap.Error(err))
		return
	}
	s.logger.Debug("cron job done", zap.String("job", js.Name), zap.Duration("took", took))
}

// Run executes a job by name synchronously and returns its error.
func (s *Scheduler) Run(ctx context.Context, name string) error {
	s.mu.RLock()
	js, ok := s.jobs[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.execute(ctx, js)
}

// List returns every registered job ordered by name.
func (s *Scheduler) List() []ListItem {
	s.mu.RLock()
	items := make([]ListItem, 0, len(s.jobs))
	for _, js := range s.jobs {
		js.mu.Lock()
		items = append(items, ListItem{
			Name:        js.Name,
			Description: js.Description,
			Status:      js.status,
			Message:     js.message,
			NextRunAt:   js.next,
			LastRunAt:   js.lastRun,
			LastTook:    js.lastTook,
		})
		js.mu.Unlock()
	}
	s.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })
	return items
}
