package payment

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/learnhub/core/internal/database"
	"github.com/learnhub/core/internal/models"
	"github.com/learnhub/core/internal/modules/batch"
	"github.com/learnhub/core/internal/pkg/cache"
	"github.com/learnhub/core/internal/pkg/events"
	"github.com/learnhub/core/internal/pkg/pagination"
	"github.com/learnhub/core/internal/pkg/response"
)

const (
	userPaymentsNamespace = "user:payments"
	userBatchesNamespace  = "user:batches"

	DefaultRejectReason = "Invalid payment information"
)

var (
	errUserNotFound      = response.NewError(http.StatusNotFound, "User not found")
	errBatchNotFound     = response.NewError(http.StatusNotFound, "Batch not found")
	errCourseNotFound    = response.NewError(http.StatusNotFound, "Course not found for this batch")
	errBatchNotOpen      = response.NewError(http.StatusBadRequest, "Batch not open for enrollment")
	errWindowClosed      = response.NewError(http.StatusBadRequest, "Enrollment window closed")
	errCourseInactive    = response.NewError(http.StatusBadRequest, "Course is inactive")
	errAlreadyEnrolled   = response.NewError(http.StatusConflict, "Already enrolled")
	errAlreadySubmitted  = response.NewError(http.StatusConflict, "Payment already submitted")
	errPaymentNotFound   = response.NewError(http.StatusNotFound, "Payment not found")
	errAlreadyProcessed  = response.NewError(http.StatusBadRequest, "Payment already processed")
	errIncompletePayment = response.NewError(http.StatusNotFound, "Course not found for this payment")
)

type SubmitDTO struct {
	BatchID       string `json:"batch_id"       binding:"required,uuid"`
	SenderNumber  string `json:"sender_number"  binding:"required,min=11"`
	TransactionID string `json:"transaction_id" binding:"required"`
	Method        string `json:"method"         binding:"required"`
}

type RejectDTO struct {
	Reason string `json:"reason" binding:"omitempty,max=500"`
}

type Options struct {
	// AdminEmail receives submitted payment notices.
	AdminEmail string
	Logger     *zap.Logger
	Now        func() time.Time
}

type Service struct {
	store      Store
	cache      *cache.Cache
	adminEmail string
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(store Store, c *cache.Cache, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: store, cache: c, adminEmail: opts.AdminEmail, logger: opts.Logger, now: opts.Now}
}

// Submit records a pending payment of userID for a batch.
func (s *Service) Submit(ctx context.Context, userID string, dto *SubmitDTO) (*models.Payment, []events.Event, error) {
	user, err := s.store.FindUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if user == nil {
		return nil, nil, errUserNotFound
	}
	b, err := s.store.FindBatch(ctx, dto.BatchID)
	if err != nil {
		return nil, nil, err
	}
	if b == nil {
		return nil, nil, errBatchNotFound
	}
	if b.Course == nil {
		return nil, nil, errCourseNotFound
	}
	if !batch.IsOpen(b.Status) {
		return nil, nil, errBatchNotOpen
	}
	now := s.now()
	if now.Before(b.EnrollmentOpen) || now.After(b.EnrollmentClose) {
		return nil, nil, errWindowClosed
	}
	if !b.Course.IsActive {
		return nil, nil, errCourseInactive
	}

	enrolled, err := s.store.IsEnrolled(ctx, userID, b.ID)
	if err != nil {
		return nil, nil, err
	}
	if enrolled {
		return nil, nil, errAlreadyEnrolled
	}
	txID := strings.TrimSpace(dto.TransactionID)
	conflict, err := s.store.HasConflict(ctx, userID, b.ID, txID)
	if err != nil {
		return nil, nil, err
	}
	if conflict {
		return nil, nil, errAlreadySubmitted
	}

	p := &models.Payment{
		UserID:        userID,
		BatchID:       b.ID,
		SenderNumber:  strings.TrimSpace(dto.SenderNumber),
		TransactionID: txID,
		Method:        strings.TrimSpace(dto.Method),
		Amount:        b.Course.Price,
		Status:        models.PaymentPending,
	}
	if err := s.store.Create(ctx, p); err != nil {
		if database.IsDuplicateKey(err) {
			return nil, nil, errAlreadySubmitted
		}
		return nil, nil, err
	}
	if err := s.invalidateUser(ctx, userID, false); err != nil {
		return nil, nil, err
	}

	var evs []events.Event
	if s.adminEmail != "" {
		evs = append(evs, events.New(events.PaymentSubmitted, s.adminEmail, "pay:submit:"+p.ID, map[string]interface{}{
			"userName":   user.Name,
			"userEmail":  user.Email,
			"amount":     p.Amount,
			"courseName": b.Course.Title,
			"paymentId":  p.ID,
		}))
	}
	return p, evs, nil
}

// MyPayments lists the payments of userID, newest first.
func (s *Service) MyPayments(ctx context.Context, userID string, q pagination.Query, search string) (*pagination.Page[models.Payment], error) {
	search = strings.TrimSpace(search)
	key := cache.MakeKey(userPaymentsNamespace, userID, q.Page, q.Size, search)
	return cache.GetOrSet(ctx, s.cache, key, func(ctx context.Context) (*pagination.Page[models.Payment], error) {
		return s.store.ListForUser(ctx, userID, q, search)
	})
}

// Pending lists payments awaiting review, oldest first.
func (s *Service) Pending(ctx context.Context) ([]models.Payment, error) {
	return s.store.ListPending(ctx)
}

// Verify approves a pending payment and enrolls its user in the batch.
func (s *Service) Verify(ctx context.Context, id string) (*models.Payment, []events.Event, error) {
	p, err := s.review(ctx, id, models.PaymentVerified, "")
	if err != nil {
		return nil, nil, err
	}
	ev := events.New(events.PaymentVerified, p.User.Email,
		fmt.Sprintf("pay:success:%s:%s", p.UserID, p.TransactionID),
		map[string]interface{}{
			"name":          p.User.Name,
			"amount":        p.Amount,
			"courseName":    p.Batch.Course.Title,
			"transactionId": p.TransactionID,
		})
	return p, []events.Event{ev}, nil
}

// Reject declines a pending payment. An empty reason uses DefaultRejectReason.
func (s *Service) Reject(ctx context.Context, id, reason string) (*models.Payment, []events.Event, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = DefaultRejectReason
	}
	p, err := s.review(ctx, id, models.PaymentRejected, reason)
	if err != nil {
		return nil, nil, err
	}
	ev := events.New(events.PaymentRejected, p.User.Email,
		fmt.Sprintf("pay:fail:%s:%s", p.UserID, p.ID),
		map[string]interface{}{
			"name":       p.User.Name,
			"amount":     p.Amount,
			"courseName": p.Batch.Course.Title,
			"reason":     reason,
		})
	return p, []events.Event{ev}, nil
}

func (s *Service) review(ctx context.Context, id string, status models.PaymentStatus, reason string) (*models.Payment, error) {
	p, err := s.store.Review(ctx, id, func(p *models.Payment) error {
		if p.User == nil {
			return errUserNotFound
		}
		if p.Batch == nil || p.Batch.Course == nil {
			return errIncompletePayment
		}
		if p.Status != models.PaymentPending {
			return errAlreadyProcessed
		}
		p.Status = status
		p.Reason = reason
		return nil
	})
	if err != nil {
		if database.IsDuplicateKey(err) {
			return nil, errAlreadyEnrolled
		}
		return nil, err
	}
	if p == nil {
		return nil, errPaymentNotFound
	}
	s.logger.Info("payment reviewed",
		zap.String("payment_id", p.ID), zap.String("user_id", p.UserID), zap.String("status", string(status)))
	if err := s.invalidateUser(ctx, p.UserID, true); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *Service) invalidateUser(ctx context.Context, userID string, batches bool) error {
	patterns := []string{cache.MakeKey(userPaymentsNamespace, userID) + "*"}
	if batches {
		patterns = append(patterns, cache.MakeKey(userBatchesNamespace, userID))
	}
	return s.cache.Invalidate(ctx, patterns...)
}
