package batch

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/learnhub/core/internal/models"
	"github.com/learnhub/core/internal/pkg/cache"
	"github.com/learnhub/core/internal/pkg/cron"
	"github.com/learnhub/core/internal/pkg/pagination"
	"github.com/learnhub/core/internal/pkg/response"
)

const (
	userBatchesNamespace = "user:batches"

	AutomationJobName = "batch_status_automation"
)

var (
	errBatchNotFound     = response.NewError(http.StatusNotFound, "Batch not found")
	errCourseNotFound    = response.NewError(http.StatusNotFound, "Course not found")
	errInvalidWindow     = response.NewError(http.StatusBadRequest, "Enrollment close must be after enrollment open")
	errInvalidTransition = response.NewError(http.StatusBadRequest, "Invalid batch status transition")
)

type CreateDTO struct {
	CourseID        string             `json:"course_id"        binding:"required,uuid"`
	Name            string             `json:"name"             binding:"required,min=3"`
	EnrollmentOpen  time.Time          `json:"enrollment_open"  binding:"required"`
	EnrollmentClose time.Time          `json:"enrollment_close" binding:"required"`
	Status          models.BatchStatus `json:"status"           binding:"omitempty,oneof=UPCOMING ACTIVE CLOSED"`
}

type UpdateDTO struct {
	Name            *string            `json:"name"             binding:"omitempty,min=3"`
	EnrollmentOpen  *time.Time         `json:"enrollment_open"`
	EnrollmentClose *time.Time         `json:"enrollment_close"`
	Status          models.BatchStatus `json:"status"           binding:"omitempty,oneof=UPCOMING ACTIVE CLOSED"`
}

// CourseCache drops cached course pages that embed batch data.
type CourseCache interface {
	Invalidate(ctx context.Context, courseID string) error
	InvalidateAll(ctx context.Context) error
}

type Options struct {
	Logger *zap.Logger
	// Now overrides the clock; defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	store   Store
	cache   *cache.Cache
	courses CourseCache
	logger  *zap.Logger
	now     func() time.Time
}

func NewService(store Store, c *cache.Cache, courses CourseCache, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{store: store, cache: c, courses: courses, logger: opts.Logger, now: opts.Now}
}

func (s *Service) List(ctx context.Context, q ListQuery) (*pagination.Page[models.Batch], error) {
	q.Search = strings.TrimSpace(q.Search)
	return s.store.List(ctx, q)
}

// ListPublic lists batches that still accept enrollments.
func (s *Service) ListPublic(ctx context.Context, q ListQuery) (*pagination.Page[models.Batch], error) {
	q.Statuses = []models.BatchStatus{models.BatchUpcoming, models.BatchActive}
	return s.List(ctx, q)
}

func (s *Service) Get(ctx context.Context, id string) (*models.Batch, error) {
	b, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errBatchNotFound
	}
	return b, nil
}

func (s *Service) Create(ctx context.Context, dto *CreateDTO) (*models.Batch, error) {
	if !dto.EnrollmentClose.After(dto.EnrollmentOpen) {
		return nil, errInvalidWindow
	}
	ok, err := s.store.CourseExists(ctx, dto.CourseID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errCourseNotFound
	}
	status := dto.Status
	if status == "" {
		status = ResolveStatus(s.now(), dto.EnrollmentOpen, dto.EnrollmentClose)
	}
	b := &models.Batch{
		CourseID:        dto.CourseID,
		Name:            strings.TrimSpace(dto.Name),
		EnrollmentOpen:  dto.EnrollmentOpen,
		EnrollmentClose: dto.EnrollmentClose,
		Status:          status,
	}
	if err := s.store.Create(ctx, b); err != nil {
		return nil, err
	}
	if err := s.courses.Invalidate(ctx, b.CourseID); err != nil {
		return nil, err
	}
	return s.Get(ctx, b.ID)
}

func (s *Service) Update(ctx context.Context, id string, dto *UpdateDTO) (*models.Batch, error) {
	b, err := s.store.Update(ctx, id, func(b *models.Batch) error {
		if dto.Status != "" {
			if !CanTransition(b.Status, dto.Status) {
				return errInvalidTransition
			}
			b.Status = dto.Status
		}
		if dto.Name != nil {
			b.Name = strings.TrimSpace(*dto.Name)
		}
		if dto.EnrollmentOpen != nil {
			b.EnrollmentOpen = *dto.EnrollmentOpen
		}
		if dto.EnrollmentClose != nil {
			b.EnrollmentClose = *dto.EnrollmentClose
		}
		if !b.EnrollmentClose.After(b.EnrollmentOpen) {
			return errInvalidWindow
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errBatchNotFound
	}
	if err := s.afterChange(ctx, b.CourseID); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	b, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if b == nil {
		return errBatchNotFound
	}
	return s.afterChange(ctx, b.CourseID)
}

// MyBatches returns the batches userID is enrolled in.
func (s *Service) MyBatches(ctx context.Context, userID string) ([]models.Batch, error) {
	out, err := cache.GetOrSet(ctx, s.cache, cache.MakeKey(userBatchesNamespace, userID), func(ctx context.Context) (*[]models.Batch, error) {
		list, err := s.store.ForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		return &list, nil
	})
	if err != nil {
		return nil, err
	}
	return *out, nil
}

// SyncStatuses advances batch statuses along their enrollment windows.
func (s *Service) SyncStatuses(ctx context.Context) error {
	n, err := s.store.ApplyStatuses(ctx, s.now())
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	s.logger.Info("batch statuses synced", zap.Int64("changed", n))
	if err := s.courses.InvalidateAll(ctx); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, userBatchesNamespace+":*")
}

// AutomationJob schedules SyncStatuses.
func (s *Service) AutomationJob(interval time.Duration) cron.Job {
	return cron.Job{
		Name:        AutomationJobName,
		Description: "Advance batch statuses and sync course activity",
		Interval:    interval,
		RunOnStart:  true,
		Fn:          s.SyncStatuses,
	}
}

// Enrolled batch lists embed batch rows, so every change drops them.
func (s *Service) afterChange(ctx context.Context, courseID string) error {
	if err := s.courses.Invalidate(ctx, courseID); err != nil {
		return err
	}
	return s.cache.Invalidate(ctx, userBatchesNamespace+":*")
}
