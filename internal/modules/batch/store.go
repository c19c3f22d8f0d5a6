package batch

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learnhub/core/internal/models"
	"github.com/learnhub/core/internal/pkg/pagination"
)

// ListQuery filters batch listings. Empty fields do not filter.
type ListQuery struct {
	pagination.Query
	CourseID string
	Statuses []models.BatchStatus
	Search   string
}

// Store persists batches. Get and Update return nil when the batch does not exist.
type Store interface {
	List(ctx context.Context, q ListQuery) (*pagination.Page[models.Batch], error)
	Get(ctx context.Context, id string) (*models.Batch, error)
	CourseExists(ctx context.Context, courseID string) (bool, error)
	Create(ctx context.Context, b *models.Batch) error
	// Update loads the batch under a row lock, applies fn and saves it.
	Update(ctx context.Context, id string, fn func(b *models.Batch) error) (*models.Batch, error)
	Delete(ctx context.Context, id string) (*models.Batch, error)
	ForUser(ctx context.Context, userID string) ([]models.Batch, error)
	// ApplyStatuses moves batches along their enrollment windows and syncs
	// course activity. It returns the number of rows changed.
	ApplyStatuses(ctx context.Context, now time.Time) (int64, error)
}

type gormStore struct{ db *gorm.DB }

func NewGormStore(db *gorm.DB) Store { return &gormStore{db: db} }

func (s *gormStore) List(ctx context.Context, q ListQuery) (*pagination.Page[models.Batch], error) {
	tx := s.db.WithContext(ctx).Model(&models.Batch{})
	if q.CourseID != "" {
		tx = tx.Where("course_id = ?", q.CourseID)
	}
	if len(q.Statuses) > 0 {
		tx = tx.Where("status IN ?", q.Statuses)
	}
	if q.Search != "" {
		tx = tx.Where("name LIKE ?", "%"+q.Search+"%")
	}
	return pagination.Paginate[models.Batch](tx.Order("created_at DESC"), q.Query, "Course")
}

func (s *gormStore) Get(ctx context.Context, id string) (*models.Batch, error) {
	var b models.Batch
	err := s.db.WithContext(ctx).Preload("Course").First(&b, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *gormStore) CourseExists(ctx context.Context, courseID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Course{}).Where("id = ?", courseID).Count(&n).Error
	return n > 0, err
}

func (s *gormStore) Create(ctx context.Context, b *models.Batch) error {
	return s.db.WithContext(ctx).Create(b).Error
}

func (s *gormStore) Update(ctx context.Context, id string, fn func(b *models.Batch) error) (*models.Batch, error) {
	var (
		b     models.Batch
		found bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&b, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		if err := fn(&b); err != nil {
			return err
		}
		return tx.Omit(clause.Associations).Save(&b).Error
	})
	if err != nil || !found {
		return nil, err
	}
	return &b, nil
}

func (s *gormStore) Delete(ctx context.Context, id string) (*models.Batch, error) {
	b, err := s.Get(ctx, id)
	if err != nil || b == nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Delete(&models.Batch{}, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return b, nil
}

func (s *gormStore) ForUser(ctx context.Context, userID string) ([]models.Batch, error) {
	out := []models.Batch{}
	err := s.db.WithContext(ctx).
		Preload("Course").
		Joins("JOIN enrollments ON enrollments.batch_id = batches.id AND enrollments.deleted_at IS NULL").
		Where("enrollments.user_id = ?", userID).
		Order("batches.created_at DESC").
		Find(&out).Error
	return out, err
}

func (s *gormStore) ApplyStatuses(ctx context.Context, now time.Time) (int64, error) {
	open := []models.BatchStatus{models.BatchUpcoming, models.BatchActive}
	var changed int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Batch{}).
			Where("status = ? AND enrollment_open <= ? AND enrollment_close >= ?", models.BatchUpcoming, now, now).
			Update("status", models.BatchActive)
		if res.Error != nil {
			return res.Error
		}
		changed += res.RowsAffected

		res = tx.Model(&models.Batch{}).
			Where("status IN ? AND enrollment_close < ?", open, now).
			Update("status", models.BatchClosed)
		if res.Error != nil {
			return res.Error
		}
		changed += res.RowsAffected

		// Courses without any batch keep their manual flag.
		res = tx.Exec(`UPDATE courses SET is_active = EXISTS (
				SELECT 1 FROM batches b WHERE b.course_id = courses.id AND b.deleted_at IS NULL AND b.status IN ?
			)
			WHERE courses.deleted_at IS NULL
			AND EXISTS (SELECT 1 FROM batches b2 WHERE b2.course_id = courses.id AND b2.deleted_at IS NULL)`, open)
		if res.Error != nil {
			return res.Error
		}
		changed += res.RowsAffected
		return nil
	})
	return changed, err
}
