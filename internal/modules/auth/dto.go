package auth

import (
	"github.com/learnhub/core/internal/pkg/session"
	"github.com/learnhub/core/internal/pkg/tokenhash"
)

type RegisterDTO struct {
	Name     string `json:"name"     binding:"required,min=2"`
	Email    string `json:"email"    binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type VerifyEmailDTO struct {
	Email string `json:"email" binding:"required,email"`
	Code  string `json:"code"  binding:"required,len=6,numeric"`
}

type EmailDTO struct {
	Email string `json:"email" binding:"required,email"`
}

type LoginDTO struct {
	Email    string `json:"email"     binding:"required,email"`
	Password string `json:"password"  binding:"required"`
	DeviceID string `json:"device_id"`
}

type RefreshDTO struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
	DeviceID     string `json:"device_id"`
}

type LogoutDTO struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type LogoutOthersDTO struct {
	DeviceID string `json:"device_id"`
}

type ChangePasswordDTO struct {
	CurrentPassword string `json:"current_password" binding:"required,min=6"`
	NewPassword     string `json:"new_password"     binding:"required,min=6"`
	DeviceID        string `json:"device_id"`
}

type ResetPasswordDTO struct {
	Token       string `json:"token"        binding:"required"`
	NewPassword string `json:"new_password" binding:"required,min=6"`
}

// Tokens is returned by every call that opens a session.
type Tokens struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

type RegisteredUser struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type sessionResponse struct {
	ID         string `json:"id"`
	DeviceID   string `json:"device_id"`
	IP         string `json:"ip"`
	UserAgent  string `json:"user_agent"`
	CreatedAt  int64  `json:"created_at"`
	LastUsedAt int64  `json:"last_used_at"`
	Current    bool   `json:"current"`
}

func toSessionResponse(s session.Session, currentSecret string) sessionResponse {
	return sessionResponse{
		ID:         s.ID,
		DeviceID:   s.DeviceID,
		IP:         s.IP,
		UserAgent:  s.UserAgent,
		CreatedAt:  s.CreatedAt,
		LastUsedAt: s.LastUsedAt,
		Current:    currentSecret != "" && tokenhash.Equal(currentSecret, s.ID),
	}
}
