package user

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/learnhub/core/internal/middleware"
	"github.com/learnhub/core/internal/models"
	"github.com/learnhub/core/internal/pkg/cache"
	"github.com/learnhub/core/internal/pkg/ratelimit"
	"github.com/learnhub/core/internal/pkg/response"
)

const profileNamespace = "user:profile"

var errUserNotFound = response.NewError(http.StatusNotFound, "User not found")

type UpdateProfileDTO struct {
	FullName  *string `json:"full_name"`
	AvatarURL *string `json:"avatar_url" binding:"omitempty,url"`
	Bio       *string `json:"bio"        binding:"omitempty,max=500"`
	Phone     *string `json:"phone"      binding:"omitempty,min=7,max=15"`
}

type WalletDTO struct {
	Chain      models.Chain `json:"chain"       binding:"required,oneof=BTC ETH BSC SOL TRON ARBITRUM"`
	Address    string       `json:"address"     binding:"required,min=10"`
	Label      string       `json:"label"`
	NetworkTag string       `json:"network_tag"`
}

type UpdateWalletsDTO struct {
	Wallets []WalletDTO `json:"wallets" binding:"required,min=1,dive"`
}

// ProfileView is the cached shape of GET /users/me.
type ProfileView struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Email           string          `json:"email"`
	Role            models.Role     `json:"role"`
	IsEmailVerified bool            `json:"is_email_verified"`
	Profile         *models.Profile `json:"profile"`
	Wallets         []models.Wallet `json:"wallets"`
}

// Store is the persistence used by Service. GetUser returns nil when absent.
type Store interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	UpsertProfile(ctx context.Context, userID string, updates map[string]interface{}) (*models.Profile, error)
	ReplaceWallets(ctx context.Context, userID string, wallets []models.Wallet) error
}

type gormStore struct{ db *gorm.DB }

func NewGormStore(db *gorm.DB) Store { return &gormStore{db: db} }

func (s *gormStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	var u models.User
	err := s.db.WithContext(ctx).
		Preload("Roles").Preload("Profile").Preload("Wallets").
		First(&u, "id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *gormStore) UpsertProfile(ctx context.Context, userID string, updates map[string]interface{}) (*models.Profile, error) {
	var p models.Profile
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("user_id = ?", userID).First(&p).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			p = models.Profile{UserID: userID}
			if err := tx.Create(&p).Error; err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		if len(updates) == 0 {
			return nil
		}
		return tx.Model(&p).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *gormStore) ReplaceWallets(ctx context.Context, userID string, wallets []models.Wallet) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("user_id = ?", userID).Delete(&models.Wallet{}).Error; err != nil {
			return err
		}
		return tx.Create(&wallets).Error
	})
}

type Service struct {
	store Store
	cache *cache.Cache
	lock  *ratelimit.WeeklyLock
}

func NewService(store Store, c *cache.Cache, lock *ratelimit.WeeklyLock) *Service {
	return &Service{store: store, cache: c, lock: lock}
}

// Profile returns the cached profile of userID.
func (s *Service) Profile(ctx context.Context, userID string) (*ProfileView, error) {
	v, err := cache.GetOrSet(ctx, s.cache, cache.MakeKey(profileNamespace, userID), func(ctx context.Context) (*ProfileView, error) {
		u, err := s.store.GetUser(ctx, userID)
		if err != nil || u == nil {
			return nil, err
		}
		wallets := u.Wallets
		if wallets == nil {
			wallets = []models.Wallet{}
		}
		return &ProfileView{
			ID:              u.ID,
			Name:            u.Name,
			Email:           u.Email,
			Role:            u.PrimaryRole(),
			IsEmailVerified: u.IsEmailVerified,
			Profile:         u.Profile,
			Wallets:         wallets,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, errUserNotFound
	}
	return v, nil
}

func (s *Service) UpdateProfile(ctx context.Context, userID string, dto *UpdateProfileDTO) (*models.Profile, error) {
	updates := map[string]interface{}{}
	if dto.FullName != nil {
		updates["full_name"] = *dto.FullName
	}
	if dto.AvatarURL != nil {
		updates["avatar_url"] = *dto.AvatarURL
	}
	if dto.Bio != nil {
		updates["bio"] = *dto.Bio
	}
	if dto.Phone != nil {
		updates["phone"] = *dto.Phone
	}
	p, err := s.store.UpsertProfile(ctx, userID, updates)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Invalidate(ctx, cache.MakeKey(profileNamespace, userID)); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateWallets replaces every wallet of userID. Allowed once per week.
func (s *Service) UpdateWallets(ctx context.Context, userID string, dto *UpdateWalletsDTO) ([]models.Wallet, error) {
	if err := s.lock.Acquire(ctx, userID); err != nil {
		return nil, err
	}
	wallets := make([]models.Wallet, len(dto.Wallets))
	for i, w := range dto.Wallets {
		wallets[i] = models.Wallet{
			UserID:     userID,
			Chain:      w.Chain,
			Address:    w.Address,
			Label:      w.Label,
			NetworkTag: w.NetworkTag,
		}
	}
	if err := s.store.ReplaceWallets(ctx, userID, wallets); err != nil {
		_ = s.lock.Release(ctx, userID)
		return nil, err
	}
	if err := s.cache.Invalidate(ctx, cache.MakeKey(profileNamespace, userID)); err != nil {
		return nil, err
	}
	return wallets, nil
}

type Handler struct{ svc *Service }

func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/users/me", authMW)
	g.GET("", h.me)
	g.PATCH("", h.updateProfile)
	g.PUT("/wallets", h.updateWallets)
}

// GET /users/me
func (h *Handler) me(c *gin.Context) {
	v, err := h.svc.Profile(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, v)
}

// PATCH /users/me
func (h *Handler) updateProfile(c *gin.Context) {
	var dto UpdateProfileDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	p, err := h.svc.UpdateProfile(c.Request.Context(), middleware.CurrentUserID(c), &dto)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, p)
}

// PUT /users/me/wallets
func (h *Handler) updateWallets(c *gin.Context) {
	var dto UpdateWalletsDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	wallets, err := h.svc.UpdateWallets(c.Request.Context(), middleware.CurrentUserID(c), &dto)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, wallets)
}
