package class

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learnhub/core/internal/models"
	"github.com/learnhub/core/internal/pkg/pagination"
)

// ListQuery filters class listings. Empty fields do not filter.
type ListQuery struct {
	pagination.Query
	BatchID string
	Search  string
}

// Reminder is one enrolled user of a class that starts soon.
type Reminder struct {
	ClassID     string
	ClassTitle  string
	MeetingLink string
	StartsAt    time.Time
	BatchName   string
	CourseTitle string
	UserID      string
	Email       string
	Name        string
}

// Store persists classes. Get and Update return nil when the class does not exist.
type Store interface {
	List(ctx context.Context, q ListQuery) (*pagination.Page[models.Class], error)
	Get(ctx context.Context, id string) (*models.Class, error)
	BatchExists(ctx context.Context, batchID string) (bool, error)
	Create(ctx context.Context, c *models.Class) error
	Update(ctx context.Context, id string, fn func(c *models.Class) error) (*models.Class, error)
	Delete(ctx context.Context, id string) (*models.Class, error)
	// ForUser lists the classes of active batches userID is enrolled in.
	ForUser(ctx context.Context, userID string) ([]models.Class, error)
	// Upcoming lists every enrolled user of classes starting in [from, to].
	Upcoming(ctx context.Context, from, to time.Time) ([]Reminder, error)
}

type gormStore struct{ db *gorm.DB }

func NewGormStore(db *gorm.DB) Store { return &gormStore{db: db} }

func (s *gormStore) List(ctx context.Context, q ListQuery) (*pagination.Page[models.Class], error) {
	tx := s.db.WithContext(ctx).Model(&models.Class{})
	if q.BatchID != "" {
		tx = tx.Where("batch_id = ?", q.BatchID)
	}
	if q.Search != "" {
		tx = tx.Where("title LIKE ?", "%"+q.Search+"%")
	}
	return pagination.Paginate[models.Class](tx.Order("starts_at DESC"), q.Query)
}

func (s *gormStore) Get(ctx context.Context, id string) (*models.Class, error) {
	var c models.Class
	err := s.db.WithContext(ctx).Preload("Batch").First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *gormStore) BatchExists(ctx context.Context, batchID string) (bool, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Batch{}).Where("id = ?", batchID).Count(&n).Error
	return n > 0, err
}

func (s *gormStore) Create(ctx context.Context, c *models.Class) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *gormStore) Update(ctx context.Context, id string, fn func(c *models.Class) error) (*models.Class, error) {
	var (
		c     models.Class
		found bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&c, "id = ?", id).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		if err := fn(&c); err != nil {
			return err
		}
		return tx.Omit(clause.Associations).Save(&c).Error
	})
	if err != nil || !found {
		return nil, err
	}
	return &c, nil
}

func (s *gormStore) Delete(ctx context.Context, id string) (*models.Class, error) {
	var c models.Class
	err := s.db.WithContext(ctx).First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Delete(&models.Class{}, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *gormStore) ForUser(ctx context.Context, userID string) ([]models.Class, error) {
	out := []models.Class{}
	err := s.db.WithContext(ctx).
		Preload("Batch.Course").
		Joins("JOIN batches ON batches.id = classes.batch_id AND batches.deleted_at IS NULL").
		Joins("JOIN enrollments ON enrollments.batch_id = classes.batch_id AND enrollments.deleted_at IS NULL").
		Where("enrollments.user_id = ? AND batches.status = ?", userID, models.BatchActive).
		Order("classes.starts_at ASC").
		Find(&out).Error
	return out, err
}

func (s *gormStore) Upcoming(ctx context.Context, from, to time.Time) ([]Reminder, error) {
	var out []Reminder
	err := s.db.WithContext(ctx).Table("classes").
		Select(`classes.id AS class_id, classes.title AS class_title, classes.meeting_link, classes.starts_at,
			batches.name AS batch_name, courses.title AS course_title,
			users.id AS user_id, users.email, users.name`).
		Joins("JOIN batches ON batches.id = classes.batch_id AND batches.deleted_at IS NULL").
		Joins("JOIN courses ON courses.id = batches.course_id").
		Joins("JOIN enrollments ON enrollments.batch_id = batches.id AND enrollments.deleted_at IS NULL").
		Joins("JOIN users ON users.id = enrollments.user_id AND users.deleted_at IS NULL").
		Where("classes.deleted_at IS NULL AND classes.starts_at BETWEEN ? AND ?", from, to).
		Order("classes.starts_at ASC").
		Scan(&out).Error
	return out, err
}
