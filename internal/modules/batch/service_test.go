package batch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/learnhub/core/internal/middleware"
	"github.com/learnhub/core/internal/models"
	"github.com/learnhub/core/internal/pkg/cache"
	"github.com/learnhub/core/internal/pkg/cron"
	"github.com/learnhub/core/internal/pkg/jwt"
	"github.com/learnhub/core/internal/pkg/pagination"
	"github.com/learnhub/core/internal/pkg/redis"
)

func init() { gin.SetMode(gin.TestMode) }

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestResolveStatus(t *testing.T) {
	open, close := t0, t0.Add(48*time.Hour)
	cases := []struct {
		now  time.Time
		want models.BatchStatus
	}{
		{t0.Add(-time.Minute), models.BatchUpcoming},
		{t0, models.BatchActive},
		{t0.Add(24 * time.Hour), models.BatchActive},
		{close, models.BatchActive},
		{close.Add(time.Second), models.BatchClosed},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ResolveStatus(tc.now, open, close), tc.now.String())
	}
}

func TestCanTransition(t *testing.T) {
	up, act, cl := models.BatchUpcoming, models.BatchActive, models.BatchClosed
	assert.True(t, CanTransition(up, act))
	assert.True(t, CanTransition(act, cl))
	assert.True(t, CanTransition(act, act))
	assert.False(t, CanTransition(up, cl))
	assert.False(t, CanTransition(act, up))
	assert.False(t, CanTransition(cl, act))
	assert.False(t, CanTransition(cl, up))
}

type fakeStore struct {
	mu          sync.Mutex
	batches     map[string]*models.Batch
	courses     map[string]bool
	enrolled    map[string][]string
	forUser     int
	applyResult int64
	applyErr    error
	appliedAt   time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{batches: map[string]*models.Batch{}, courses: map[string]bool{}, enrolled: map[string][]string{}}
}

func (s *fakeStore) List(_ context.Context, q ListQuery) (*pagination.Page[models.Batch], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Batch{}
	for _, b := range s.batches {
		if len(q.Statuses) > 0 {
			match := false
			for _, st := range q.Statuses {
				match = match || b.Status == st
			}
			if !match {
				continue
			}
		}
		out = append(out, *b)
	}
	return &pagination.Page[models.Batch]{Data: out, Pagination: pagination.Meta(q.Query, int64(len(out)))}, nil
}

func (s *fakeStore) Get(_ context.Context, id string) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *fakeStore) CourseExists(_ context.Context, courseID string) (bool, error) {
	return s.courses[courseID], nil
}

func (s *fakeStore) Create(_ context.Context, b *models.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b.ID = uuid.NewString()
	cp := *b
	s.batches[b.ID] = &cp
	return nil
}

func (s *fakeStore) Update(_ context.Context, id string, fn func(b *models.Batch) error) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	if err := fn(&cp); err != nil {
		return nil, err
	}
	s.batches[id] = &cp
	return &cp, nil
}

func (s *fakeStore) Delete(_ context.Context, id string) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, nil
	}
	delete(s.batches, id)
	return b, nil
}

func (s *fakeStore) ForUser(_ context.Context, userID string) ([]models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forUser++
	out := []models.Batch{}
	for _, id := range s.enrolled[userID] {
		if b, ok := s.batches[id]; ok {
			out = append(out, *b)
		}
	}
	return out, nil
}

func (s *fakeStore) ApplyStatuses(_ context.Context, now time.Time) (int64, error) {
	s.appliedAt = now
	return s.applyResult, s.applyErr
}

type courseCacheSpy struct {
	invalidated []string
	all         int
}

func (c *courseCacheSpy) Invalidate(_ context.Context, courseID string) error {
	c.invalidated = append(c.invalidated, courseID)
	return nil
}

func (c *courseCacheSpy) InvalidateAll(context.Context) error {
	c.all++
	return nil
}

type fixture struct {
	svc     *Service
	store   *fakeStore
	courses *courseCacheSpy
	mr      *miniredis.Miniredis
	course  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newFakeStore()
	courseID := uuid.NewString()
	store.courses[courseID] = true
	spy := &courseCacheSpy{}
	svc := NewService(store, cache.New(redis.New(rdb), cache.Options{}), spy, Options{
		Now: func() time.Time { return t0 },
	})
	return &fixture{svc: svc, store: store, courses: spy, mr: mr, course: courseID}
}

func (f *fixture) create(t *testing.T, open, close time.Time) *models.Batch {
	t.Helper()
	b, err := f.svc.Create(context.Background(), &CreateDTO{
		CourseID: f.course, Name: "Spring cohort", EnrollmentOpen: open, EnrollmentClose: close,
	})
	require.NoError(t, err)
	return b
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b := f.create(t, t0.Add(24*time.Hour), t0.Add(72*time.Hour))
	assert.Equal(t, models.BatchUpcoming, b.Status)
	assert.Equal(t, []string{f.course}, f.courses.invalidated)

	b = f.create(t, t0.Add(-time.Hour), t0.Add(time.Hour))
	assert.Equal(t, models.BatchActive, b.Status)

	_, err := f.svc.Create(ctx, &CreateDTO{CourseID: f.course, Name: "Bad", EnrollmentOpen: t0, EnrollmentClose: t0})
	assert.ErrorIs(t, err, errInvalidWindow)

	_, err = f.svc.Create(ctx, &CreateDTO{CourseID: uuid.NewString(), Name: "Orphan", EnrollmentOpen: t0, EnrollmentClose: t0.Add(time.Hour)})
	assert.ErrorIs(t, err, errCourseNotFound)
}

func TestUpdateTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, t0.Add(time.Hour), t0.Add(48*time.Hour))

	_, err := f.svc.Update(ctx, b.ID, &UpdateDTO{Status: models.BatchClosed})
	assert.ErrorIs(t, err, errInvalidTransition)

	got, err := f.svc.Update(ctx, b.ID, &UpdateDTO{Status: models.BatchActive})
	require.NoError(t, err)
	assert.Equal(t, models.BatchActive, got.Status)

	_, err = f.svc.Update(ctx, b.ID, &UpdateDTO{Status: models.BatchUpcoming})
	assert.ErrorIs(t, err, errInvalidTransition)

	early := t0.Add(72 * time.Hour)
	_, err = f.svc.Update(ctx, b.ID, &UpdateDTO{EnrollmentOpen: &early})
	assert.ErrorIs(t, err, errInvalidWindow)

	stored, err := f.svc.Get(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), stored.EnrollmentOpen)

	_, err = f.svc.Update(ctx, uuid.NewString(), &UpdateDTO{Status: models.BatchActive})
	assert.ErrorIs(t, err, errBatchNotFound)
}

func TestMyBatchesCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	b := f.create(t, t0, t0.Add(time.Hour))
	f.store.enrolled["u1"] = []string{b.ID}

	list, err := f.svc.MyBatches(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, f.mr.Exists("user:batches:u1"))

	_, err = f.svc.MyBatches(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.forUser)

	name := "Renamed cohort"
	_, err = f.svc.Update(ctx, b.ID, &UpdateDTO{Name: &name})
	require.NoError(t, err)
	assert.False(t, f.mr.Exists("user:batches:u1"))

	list, err = f.svc.MyBatches(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed cohort", list[0].Name)

	empty, err := f.svc.MyBatches(ctx, "u2")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, f.svc.Delete(ctx, b.ID))
	assert.ErrorIs(t, f.svc.Delete(ctx, b.ID), errBatchNotFound)
}

func TestAutomationJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mr.Set("user:batches:u1", "[]"))

	sched := cron.New(nil)
	sched.Register(f.svc.AutomationJob(5 * time.Minute))

	require.NoError(t, sched.Run(ctx, AutomationJobName))
	assert.Equal(t, t0, f.store.appliedAt)
	assert.Zero(t, f.courses.all)
	assert.True(t, f.mr.Exists("user:batches:u1"))

	f.store.applyResult = 2
	require.NoError(t, sched.Run(ctx, AutomationJobName))
	assert.Equal(t, 1, f.courses.all)
	assert.False(t, f.mr.Exists("user:batches:u1"))

	f.store.applyErr = errors.New("db down")
	assert.Error(t, sched.Run(ctx, AutomationJobName))
	items := sched.List()
	require.Len(t, items, 1)
	assert.Equal(t, cron.StatusFailed, items[0].Status)
}

func TestRoutes(t *testing.T) {
	f := newFixture(t)
	f.create(t, t0.Add(time.Hour), t0.Add(48*time.Hour))
	closed := f.create(t, t0.Add(-48*time.Hour), t0.Add(-time.Hour))
	assert.Equal(t, models.BatchClosed, closed.Status)

	role := string(models.RoleUser)
	authMW := func(c *gin.Context) {
		c.Set(middleware.ContextKeyPrincipal, jwt.Principal{UserID: "u1", Role: role})
		c.Next()
	}
	r := gin.New()
	NewHandler(f.svc).RegisterRoutes(r.Group("/api/v1"), authMW)
	get := func(path string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		return w
	}

	w := get("/api/v1/batches/public")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	assert.Equal(t, http.StatusBadRequest, get("/api/v1/batches/public?status=OPEN").Code)
	assert.Equal(t, http.StatusOK, get("/api/v1/batches/my").Code)
	assert.Equal(t, http.StatusForbidden, get("/api/v1/batches").Code)

	role = string(models.RoleSuperAdmin)
	w = get("/api/v1/batches")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":2`)
	assert.Equal(t, http.StatusOK, get("/api/v1/batches/"+closed.ID).Code)

	req := httptest.NewRequest(http.MethodPatch, "/api/v1/batches/"+closed.ID, strings.NewReader(`{"status":"ACTIVE"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "Invalid batch status transition")
}
