package auth

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/learnhub/core/internal/models"
)

// UserStore is the persistence the auth service needs. Lookups return nil
// without error when the row does not exist.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id string) (*models.User, error)
	// Create inserts the user, its role and the first verification code together.
	Create(ctx context.Context, user *models.User, role models.Role, code *models.EmailVerificationCode) error
	FindValidCode(ctx context.Context, userID, code string, now time.Time) (*models.EmailVerificationCode, error)
	MarkVerified(ctx context.Context, userID, codeID string) error
	// ReplaceCodes marks every unused code as used and stores code.
	ReplaceCodes(ctx context.Context, userID string, code *models.EmailVerificationCode) error
	UpdatePassword(ctx context.Context, userID, hash string) error
}

type gormStore struct{ db *gorm.DB }

// NewGormStore returns a UserStore backed by db.
func NewGormStore(db *gorm.DB) UserStore { return &gormStore{db: db} }

func (s *gormStore) first(ctx context.Context, query string, arg interface{}) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).Preload("Roles").Where(query, arg).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *gormStore) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.first(ctx, "email = ?", email)
}

func (s *gormStore) FindByID(ctx context.Context, id string) (*models.User, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *gormStore) Create(ctx context.Context, user *models.User, role models.Role, code *models.EmailVerificationCode) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return err
		}
		r := models.UserRole{UserID: user.ID, Role: role}
		if err := tx.Create(&r).Error; err != nil {
			return err
		}
		user.Roles = []models.UserRole{r}
		code.UserID = user.ID
		return tx.Create(code).Error
	})
}

func (s *gormStore) FindValidCode(ctx context.Context, userID, code string, now time.Time) (*models.EmailVerificationCode, error) {
	var rec models.EmailVerificationCode
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND code = ? AND used = ? AND expires_at > ?", userID, code, false, now).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *gormStore) MarkVerified(ctx context.Context, userID, codeID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.EmailVerificationCode{}).Where("id = ?", codeID).Update("used", true).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).Update("is_email_verified", true).Error
	})
}

func (s *gormStore) ReplaceCodes(ctx context.Context, userID string, code *models.EmailVerificationCode) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.EmailVerificationCode{}).
			Where("user_id = ? AND used = ?", userID, false).
			Update("used", true).Error; err != nil {
			return err
		}
		code.UserID = userID
		return tx.Create(code).Error
	})
}

func (s *gormStore) UpdatePassword(ctx context.Context, userID, hash string) error {
	res := s.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Update("password_hash", hash)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
