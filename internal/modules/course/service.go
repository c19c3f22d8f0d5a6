package course

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strings"

	"gorm.io/gorm"

	"github.com/learnhub/core/internal/database"
	"github.com/learnhub/core/internal/models"
	"github.com/learnhub/core/internal/pkg/cache"
	"github.com/learnhub/core/internal/pkg/pagination"
	"github.com/learnhub/core/internal/pkg/response"
)

const (
	listNamespace   = "courses:list"
	detailNamespace = "course:detail"
)

var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

var (
	errCourseNotFound = response.NewError(http.StatusNotFound, "Course not found")
	errSlugTaken      = response.NewError(http.StatusConflict, "Slug already in use")
	errInvalidSlug    = response.NewError(http.StatusBadRequest, "Slug must be lowercase, alphanumeric and hyphens")
)

type CreateDTO struct {
	Title       string `json:"title"       binding:"required,min=5"`
	Slug        string `json:"slug"        binding:"required,min=5"`
	Description string `json:"description" binding:"required,min=20"`
	Price       *int   `json:"price"       binding:"required,min=0"`
	IsActive    *bool  `json:"is_active"`
}

type UpdateDTO struct {
	Title       *string `json:"title"       binding:"omitempty,min=5"`
	Slug        *string `json:"slug"        binding:"omitempty,min=5"`
	Description *string `json:"description" binding:"omitempty,min=20"`
	Price       *int    `json:"price"       binding:"omitempty,min=0"`
	IsActive    *bool   `json:"is_active"`
}

// ListQuery filters the course list. A nil Active lists every course.
type ListQuery struct {
	pagination.Query
	Search string
	Active *bool
}

func (q ListQuery) cacheKey() string {
	active := "all"
	if q.Active != nil {
		if *q.Active {
			active = "true"
		} else {
			active = "false"
		}
	}
	return cache.MakeKey(listNamespace, q.Page, q.Size, q.Search, active)
}

// Store persists courses. Get returns nil when the course does not exist;
// Update and Delete report whether a row was found.
type Store interface {
	List(ctx context.Context, q ListQuery) (*pagination.Page[models.Course], error)
	Get(ctx context.Context, id string) (*models.Course, error)
	Create(ctx context.Context, c *models.Course) error
	Update(ctx context.Context, id string, updates map[string]interface{}) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
}

type gormStore struct{ db *gorm.DB }

func NewGormStore(db *gorm.DB) Store { return &gormStore{db: db} }

func (s *gormStore) List(ctx context.Context, q ListQuery) (*pagination.Page[models.Course], error) {
	tx := s.db.WithContext(ctx).Model(&models.Course{})
	if q.Search != "" {
		tx = tx.Where("title LIKE ?", "%"+q.Search+"%")
	}
	if q.Active != nil {
		tx = tx.Where("is_active = ?", *q.Active)
	}
	return pagination.Paginate[models.Course](tx.Order("created_at DESC"), q.Query)
}

func (s *gormStore) Get(ctx context.Context, id string) (*models.Course, error) {
	var c models.Course
	err := s.db.WithContext(ctx).
		Preload("Batches", func(db *gorm.DB) *gorm.DB { return db.Order("enrollment_open ASC") }).
		First(&c, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *gormStore) Create(ctx context.Context, c *models.Course) error {
	return s.db.WithContext(ctx).Create(c).Error
}

func (s *gormStore) Update(ctx context.Context, id string, updates map[string]interface{}) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.Course{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}
	// MySQL reports zero affected rows when the values did not change.
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Course{}).Where("id = ?", id).Count(&n).Error
	return n > 0, err
}

func (s *gormStore) Delete(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&models.Course{}, "id = ?", id)
	return res.RowsAffected > 0, res.Error
}

type Service struct {
	store Store
	cache *cache.Cache
}

func NewService(store Store, c *cache.Cache) *Service {
	return &Service{store: store, cache: c}
}

func (s *Service) List(ctx context.Context, q ListQuery) (*pagination.Page[models.Course], error) {
	q.Search = strings.TrimSpace(q.Search)
	return cache.GetOrSet(ctx, s.cache, q.cacheKey(), func(ctx context.Context) (*pagination.Page[models.Course], error) {
		return s.store.List(ctx, q)
	})
}

// Get returns the course with its batches.
func (s *Service) Get(ctx context.Context, id string) (*models.Course, error) {
	c, err := cache.GetOrSet(ctx, s.cache, cache.MakeKey(detailNamespace, id), func(ctx context.Context) (*models.Course, error) {
		return s.store.Get(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errCourseNotFound
	}
	return c, nil
}

func (s *Service) Create(ctx context.Context, dto *CreateDTO) (*models.Course, error) {
	if !slugPattern.MatchString(dto.Slug) {
		return nil, errInvalidSlug
	}
	c := &models.Course{
		Title:       strings.TrimSpace(dto.Title),
		Slug:        dto.Slug,
		Description: dto.Description,
		Price:       *dto.Price,
		IsActive:    true,
	}
	if dto.IsActive != nil {
		c.IsActive = *dto.IsActive
	}
	if err := s.store.Create(ctx, c); err != nil {
		if database.IsDuplicateKey(err) {
			return nil, errSlugTaken
		}
		return nil, err
	}
	if err := s.cache.Invalidate(ctx, listNamespace+"*"); err != nil {
		return nil, err
	}
	return s.Get(ctx, c.ID)
}

func (s *Service) Update(ctx context.Context, id string, dto *UpdateDTO) (*models.Course, error) {
	updates := map[string]interface{}{}
	if dto.Title != nil {
		updates["title"] = strings.TrimSpace(*dto.Title)
	}
	if dto.Slug != nil {
		if !slugPattern.MatchString(*dto.Slug) {
			return nil, errInvalidSlug
		}
		updates["slug"] = *dto.Slug
	}
	if dto.Description != nil {
		updates["description"] = *dto.Description
	}
	if dto.Price != nil {
		updates["price"] = *dto.Price
	}
	if dto.IsActive != nil {
		updates["is_active"] = *dto.IsActive
	}
	if len(updates) > 0 {
		found, err := s.store.Update(ctx, id, updates)
		if err != nil {
			if database.IsDuplicateKey(err) {
				return nil, errSlugTaken
			}
			return nil, err
		}
		if !found {
			return nil, errCourseNotFound
		}
	}
	if err := s.invalidate(ctx, id); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Service) Delete(ctx context.Context, id string) error {
	found, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return errCourseNotFound
	}
	return s.invalidate(ctx, id)
}

// Invalidate drops the cached list pages and the detail of courseID.
// Batch changes call it since course details embed their batches.
func (s *Service) Invalidate(ctx context.Context, courseID string) error {
	return s.invalidate(ctx, courseID)
}

// InvalidateAll drops every cached course list and detail.
func (s *Service) InvalidateAll(ctx context.Context) error {
	return s.cache.Invalidate(ctx, listNamespace+"*", detailNamespace+":*")
}

func (s *Service) invalidate(ctx context.Context, id string) error {
	return s.cache.Invalidate(ctx, listNamespace+"*", cache.MakeKey(detailNamespace, id))
}
