package payment

import (
	"context"
	"encoding/json"
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
	"gorm.io/gorm"

	"github.com/learnhub/core/internal/middleware"
	"github.com/learnhub/core/internal/models"
	"github.com/learnhub/core/internal/pkg/cache"
	"github.com/learnhub/core/internal/pkg/events"
	"github.com/learnhub/core/internal/pkg/jwt"
	"github.com/learnhub/core/internal/pkg/pagination"
	"github.com/learnhub/core/internal/pkg/redis"
)

func init() { gin.SetMode(gin.TestMode) }

var t0 = time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu          sync.Mutex
	users       map[string]*models.User
	batches     map[string]*models.Batch
	payments    map[string]*models.Payment
	enrollments map[string]bool
	listCalls   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:       map[string]*models.User{},
		batches:     map[string]*models.Batch{},
		payments:    map[string]*models.Payment{},
		enrollments: map[string]bool{},
	}
}

func (s *fakeStore) FindUser(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id], nil
}

func (s *fakeStore) FindBatch(_ context.Context, id string) (*models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.batches[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *fakeStore) IsEnrolled(_ context.Context, userID, batchID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enrollments[userID+"/"+batchID], nil
}

func (s *fakeStore) HasConflict(_ context.Context, userID, batchID, txID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.TransactionID == txID {
			return true, nil
		}
		if p.UserID == userID && p.BatchID == batchID && p.Status == models.PaymentPending {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStore) Create(_ context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = uuid.NewString()
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *fakeStore) ListForUser(_ context.Context, userID string, q pagination.Query, _ string) (*pagination.Page[models.Payment], error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	out := []models.Payment{}
	for _, p := range s.payments {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return &pagination.Page[models.Payment]{Data: out, Pagination: pagination.Meta(q, int64(len(out)))}, nil
}

func (s *fakeStore) ListPending(context.Context) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Payment{}
	for _, p := range s.payments {
		if p.Status == models.PaymentPending {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *fakeStore) Review(_ context.Context, id string, decide func(p *models.Payment) error) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.payments[id]
	if !ok {
		return nil, nil
	}
	p := *stored
	p.User = s.users[p.UserID]
	p.Batch = s.batches[p.BatchID]
	if err := decide(&p); err != nil {
		return nil, err
	}
	if p.Status == models.PaymentVerified {
		key := p.UserID + "/" + p.BatchID
		if s.enrollments[key] {
			return nil, gorm.ErrDuplicatedKey
		}
		s.enrollments[key] = true
	}
	stored.Status, stored.Reason = p.Status, p.Reason
	return &p, nil
}

type fixture struct {
	svc    *Service
	store  *fakeStore
	mr     *miniredis.Miniredis
	client *redis.Client
	user   *models.User
	batch  *models.Batch
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	client := redis.New(rdb)

	store := newFakeStore()
	u := &models.User{Name: "Rin", Email: "rin@example.com"}
	u.ID = uuid.NewString()
	store.users[u.ID] = u

	course := &models.Course{Title: "Go Concurrency", Slug: "go-concurrency", Price: 2500, IsActive: true}
	course.ID = uuid.NewString()
	b := &models.Batch{
		CourseID:        course.ID,
		Name:            "Batch 7",
		EnrollmentOpen:  t0.Add(-24 * time.Hour),
		EnrollmentClose: t0.Add(24 * time.Hour),
		Status:          models.BatchActive,
		Course:          course,
	}
	b.ID = uuid.NewString()
	store.batches[b.ID] = b

	svc := NewService(store, cache.New(client, cache.Options{}), Options{
		AdminEmail: "admin@learnhub.test",
		Now:        func() time.Time { return t0 },
	})
	return &fixture{svc: svc, store: store, mr: mr, client: client, user: u, batch: b}
}

func (f *fixture) submit(txID string) (*models.Payment, []events.Event, error) {
	return f.svc.Submit(context.Background(), f.user.ID, &SubmitDTO{
		BatchID: f.batch.ID, SenderNumber: "01700000000", TransactionID: txID, Method: "bkash",
	})
}

func TestSubmit(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.mr.Set("user:payments:"+f.user.ID+":1:10:", "{}"))

	p, evs, err := f.submit("TX-1")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, p.Status)
	assert.Equal(t, 2500, p.Amount)
	assert.False(t, f.mr.Exists("user:payments:"+f.user.ID+":1:10:"))

	require.Len(t, evs, 1)
	assert.Equal(t, events.PaymentSubmitted, evs[0].Type)
	assert.Equal(t, "admin@learnhub.test", evs[0].To)
	assert.Equal(t, "pay:submit:"+p.ID, evs[0].DedupeKey)
	assert.Equal(t, "Go Concurrency", evs[0].Data["courseName"])
	assert.Equal(t, "rin@example.com", evs[0].Data["userEmail"])

	// Pending payment for the same batch.
	_, _, err = f.submit("TX-2")
	assert.ErrorIs(t, err, errAlreadySubmitted)

	f.store.payments[p.ID].Status = models.PaymentRejected
	_, _, err = f.submit("TX-1")
	assert.ErrorIs(t, err, errAlreadySubmitted)

	_, _, err = f.submit("TX-2")
	assert.NoError(t, err)
}

func TestSubmitRules(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(f *fixture)
		want   error
	}{
		{"closed batch", func(f *fixture) { f.batch.Status = models.BatchClosed }, errBatchNotOpen},
		{"upcoming batch in window", func(f *fixture) { f.batch.Status = models.BatchUpcoming }, nil},
		{"before window", func(f *fixture) { f.batch.EnrollmentOpen = t0.Add(time.Hour) }, errWindowClosed},
		{"after window", func(f *fixture) { f.batch.EnrollmentClose = t0.Add(-time.Hour) }, errWindowClosed},
		{"inactive course", func(f *fixture) { f.batch.Course.IsActive = false }, errCourseInactive},
		{"missing course", func(f *fixture) { f.batch.Course = nil }, errCourseNotFound},
		{"already enrolled", func(f *fixture) { f.store.enrollments[f.user.ID+"/"+f.batch.ID] = true }, errAlreadyEnrolled},
		{"unknown batch", func(f *fixture) { delete(f.store.batches, f.batch.ID) }, errBatchNotFound},
		{"unknown user", func(f *fixture) { delete(f.store.users, f.user.ID) }, errUserNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			tc.mutate(f)
			_, _, err := f.submit("TX-" + tc.name)
			if tc.want == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _, err := f.submit("TX-V")
	require.NoError(t, err)

	require.NoError(t, f.mr.Set("user:batches:"+f.user.ID, "[]"))
	require.NoError(t, f.mr.Set("user:payments:"+f.user.ID+":1:10:", "{}"))

	got, evs, err := f.svc.Verify(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentVerified, got.Status)
	assert.True(t, f.store.enrollments[f.user.ID+"/"+f.batch.ID])
	assert.False(t, f.mr.Exists("user:batches:"+f.user.ID))
	assert.False(t, f.mr.Exists("user:payments:"+f.user.ID+":1:10:"))

	require.Len(t, evs, 1)
	assert.Equal(t, events.PaymentVerified, evs[0].Type)
	assert.Equal(t, "rin@example.com", evs[0].To)
	assert.Equal(t, "pay:success:"+f.user.ID+":TX-V", evs[0].DedupeKey)
	assert.Equal(t, "TX-V", evs[0].Data["transactionId"])

	_, _, err = f.svc.Verify(ctx, p.ID)
	assert.ErrorIs(t, err, errAlreadyProcessed)
	_, _, err = f.svc.Reject(ctx, p.ID, "")
	assert.ErrorIs(t, err, errAlreadyProcessed)

	_, _, err = f.svc.Verify(ctx, uuid.NewString())
	assert.ErrorIs(t, err, errPaymentNotFound)
}

func TestReject(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, _, err := f.submit("TX-R")
	require.NoError(t, err)

	got, evs, err := f.svc.Reject(ctx, p.ID, "  ")
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRejected, got.Status)
	assert.Equal(t, DefaultRejectReason, got.Reason)
	assert.False(t, f.store.enrollments[f.user.ID+"/"+f.batch.ID])

	require.Len(t, evs, 1)
	assert.Equal(t, events.PaymentRejected, evs[0].Type)
	assert.Equal(t, DefaultRejectReason, evs[0].Data["reason"])
	assert.Equal(t, "pay:fail:"+f.user.ID+":"+p.ID, evs[0].DedupeKey)
}

func TestVerifyAlreadyEnrolled(t *testing.T) {
	f := newFixture(t)
	p, _, err := f.submit("TX-E")
	require.NoError(t, err)
	f.store.enrollments[f.user.ID+"/"+f.batch.ID] = true

	_, _, err = f.svc.Verify(context.Background(), p.ID)
	assert.ErrorIs(t, err, errAlreadyEnrolled)
}

func TestMyPaymentsCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	q := pagination.Normalize(1, 10)
	require.NoError(t, f.mr.Set("user:batches:"+f.user.ID, "[]"))

	page, err := f.svc.MyPayments(ctx, f.user.ID, q, "")
	require.NoError(t, err)
	assert.Empty(t, page.Data)
	assert.True(t, f.mr.Exists("user:payments:"+f.user.ID+":1:10:"))

	_, err = f.svc.MyPayments(ctx, f.user.ID, q, "")
	require.NoError(t, err)
	assert.Equal(t, 1, f.store.listCalls)

	_, _, err = f.submit("TX-C")
	require.NoError(t, err)
	assert.True(t, f.mr.Exists("user:batches:"+f.user.ID))

	page, err = f.svc.MyPayments(ctx, f.user.ID, q, "")
	require.NoError(t, err)
	assert.Len(t, page.Data, 1)
	assert.Equal(t, 2, f.store.listCalls)
}

func TestRoutes(t *testing.T) {
	f := newFixture(t)
	role := string(models.RoleUser)
	authMW := func(c *gin.Context) {
		c.Set(middleware.ContextKeyPrincipal, jwt.Principal{UserID: f.user.ID, Role: role})
		c.Next()
	}
	r := gin.New()
	NewHandler(f.svc, nil).RegisterRoutes(r.Group("/api/v1"), authMW, middleware.Idempotence(f.client))

	do := func(method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	body := `{"batch_id":"` + f.batch.ID + `","sender_number":"01700000000","transaction_id":"TX-H","method":"bkash"}`
	idem := map[string]string{"X-Idempotence": "submit-1"}
	w := do(http.MethodPost, "/api/v1/payments", body, idem)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var p models.Payment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))

	w = do(http.MethodPost, "/api/v1/payments", body, idem)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(http.MethodPost, "/api/v1/payments", `{"batch_id":"nope"}`, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(http.MethodGet, "/api/v1/payments/my", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"total":1`)

	assert.Equal(t, http.StatusForbidden, do(http.MethodGet, "/api/v1/payments/pending", "", nil).Code)

	role = string(models.RoleAdmin)
	w = do(http.MethodGet, "/api/v1/payments/pending", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), p.ID)

	w = do(http.MethodPatch, "/api/v1/payments/"+p.ID+"/reject", `{"reason":"Amount mismatch"}`, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), "Amount mismatch")

	w = do(http.MethodPatch, "/api/v1/payments/"+p.ID+"/verify", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
