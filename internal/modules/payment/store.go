package payment

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learnhub/core/internal/models"
	"github.com/learnhub/core/internal/pkg/pagination"
)

// Store persists payments and enrollments. Lookups return nil when the row
// does not exist.
type Store interface {
	FindUser(ctx context.Context, userID string) (*models.User, error)
	// FindBatch loads the batch with its course.
	FindBatch(ctx context.Context, batchID string) (*models.Batch, error)
	IsEnrolled(ctx context.Context, userID, batchID string) (bool, error)
	// HasConflict reports a payment reusing transactionID or a pending
	// payment of userID for batchID.
	HasConflict(ctx context.Context, userID, batchID, transactionID string) (bool, error)
	Create(ctx context.Context, p *models.Payment) error
	ListForUser(ctx context.Context, userID string, q pagination.Query, search string) (*pagination.Page[models.Payment], error)
	ListPending(ctx context.Context) ([]models.Payment, error)
	// Review locks the payment with its user and batch course, applies
	// decide and saves it. A verified payment also creates the enrollment
	// in the same transaction.
	Review(ctx context.Context, id string, decide func(p *models.Payment) error) (*models.Payment, error)
}

type gormStore struct{ db *gorm.DB }

func NewGormStore(db *gorm.DB) Store { return &gormStore{db: db} }

func first[T any](tx *gorm.DB, query string, args ...interface{}) (*T, error) {
	var v T
	err := tx.Where(query, args...).First(&v).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (s *gormStore) FindUser(ctx context.Context, userID string) (*models.User, error) {
	return first[models.User](s.db.WithContext(ctx), "id = ?", userID)
}

func (s *gormStore) FindBatch(ctx context.Context, batchID string) (*models.Batch, error) {
	return first[models.Batch](s.db.WithContext(ctx).Preload("Course"), "id = ?", batchID)
}

func (s *gormStore) IsEnrolled(ctx context.Context, userID, batchID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Enrollment{}).
		Where("user_id = ? AND batch_id = ?", userID, batchID).
		Count(&n).Error
	return n > 0, err
}

func (s *gormStore) HasConflict(ctx context.Context, userID, batchID, transactionID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Payment{}).
		Where("transaction_id = ?", transactionID).
		Or("user_id = ? AND batch_id = ? AND status = ?", userID, batchID, models.PaymentPending).
		Count(&n).Error
	return n > 0, err
}

func (s *gormStore) Create(ctx context.Context, p *models.Payment) error {
	return s.db.WithContext(ctx).Omit(clause.Associations).Create(p).Error
}

func (s *gormStore) ListForUser(ctx context.Context, userID string, q pagination.Query, search string) (*pagination.Page[models.Payment], error) {
	tx := s.db.WithContext(ctx).Model(&models.Payment{}).Where("payments.user_id = ?", userID)
	if search != "" {
		like := "%" + search + "%"
		tx = tx.Joins("LEFT JOIN batches ON batches.id = payments.batch_id").
			Joins("LEFT JOIN courses ON courses.id = batches.course_id").
			Where("payments.transaction_id LIKE ? OR payments.method LIKE ? OR courses.title LIKE ?", like, like, like)
	}
	return pagination.Paginate[models.Payment](tx.Order("payments.created_at DESC"), q, "Batch.Course")
}

func (s *gormStore) ListPending(ctx context.Context) ([]models.Payment, error) {
	out := []models.Payment{}
	err := s.db.WithContext(ctx).
		Preload("User").Preload("Batch.Course").
		Where("status = ?", models.PaymentPending).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (s *gormStore) Review(ctx context.Context, id string, decide func(p *models.Payment) error) (*models.Payment, error) {
	var p *models.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		p, err = first[models.Payment](tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Preload("User").Preload("Batch.Course"), "id = ?", id)
		if err != nil || p == nil {
			return err
		}
		if err := decide(p); err != nil {
			return err
		}
		if err := tx.Model(p).Omit(clause.Associations).
			Updates(map[string]interface{}{"status": p.Status, "reason": p.Reason}).Error; err != nil {
			return err
		}
		if p.Status != models.PaymentVerified {
			return nil
		}
		return tx.Create(&models.Enrollment{UserID: p.UserID, BatchID: p.BatchID}).Error
	})
	if err != nil {
		return nil, err
	}
	return p, nil
}
