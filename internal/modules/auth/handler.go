package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/learnhub/core/internal/middleware"
	"github.com/learnhub/core/internal/pkg/events"
	"github.com/learnhub/core/internal/pkg/response"
	"github.com/learnhub/core/internal/pkg/session"
	"github.com/learnhub/core/internal/pkg/tokenhash"
)

type Handler struct {
	svc        *Service
	sessions   *session.Registry
	dispatcher *events.Dispatcher
}

func NewHandler(svc *Service, sessions *session.Registry, dispatcher *events.Dispatcher) *Handler {
	return &Handler{svc: svc, sessions: sessions, dispatcher: dispatcher}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup, authMW gin.HandlerFunc) {
	g := rg.Group("/auth")

	g.POST("/register", h.register)
	g.POST("/verify-email", h.verifyEmail)
	g.POST("/resend-verification-code", h.resendVerification)
	g.POST("/login", h.login)
	g.POST("/refresh-token", h.refresh)
	g.POST("/logout", h.logout)
	g.POST("/request-reset-password", h.requestPasswordReset)
	g.POST("/reset-password", h.resetPassword)

	a := g.Group("", authMW)
	a.GET("/sessions", h.listSessions)
	a.DELETE("/sessions/:id", h.revokeSession)
	a.POST("/logout-all", h.logoutAll)

	s := a.Group("", middleware.RequireSession(h.sessions))
	s.POST("/logout-others", h.logoutOthers)
	s.POST("/change-password", h.changePassword)
}

// meta describes the calling client. The device id comes from the body,
// then the X-Device-Id header, and is generated when both are empty.
func meta(c *gin.Context, bodyDeviceID string) session.Meta {
	deviceID := strings.TrimSpace(bodyDeviceID)
	if deviceID == "" {
		deviceID = middleware.DeviceID(c)
	}
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	return session.Meta{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		DeviceID:  deviceID,
	}
}

// currentDevice resolves the caller's device from the body, the
// X-Device-Id header, then the session behind X-Refresh-Token.
func (h *Handler) currentDevice(c *gin.Context, userID, bodyDeviceID string) (string, error) {
	if d := strings.TrimSpace(bodyDeviceID); d != "" {
		return d, nil
	}
	if d := middleware.DeviceID(c); d != "" {
		return d, nil
	}
	d, _, err := h.svc.DeviceOf(c.Request.Context(), userID, c.GetHeader(middleware.RefreshTokenHeader))
	return d, err
}

// POST /auth/register
func (h *Handler) register(c *gin.Context) {
	var dto RegisterDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	user, evs, err := h.svc.Register(c.Request.Context(), &dto)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.dispatcher.Dispatch(c.Request.Context(), evs...)
	response.Created(c, gin.H{"user": user, "verification_code_sent": true})
}

// POST /auth/verify-email
func (h *Handler) verifyEmail(c *gin.Context) {
	var dto VerifyEmailDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.svc.VerifyEmail(c.Request.Context(), dto.Email, dto.Code); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "Email verified"})
}

// POST /auth/resend-verification-code
func (h *Handler) resendVerification(c *gin.Context) {
	var dto EmailDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	evs, err := h.svc.ResendVerification(c.Request.Context(), dto.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.dispatcher.Dispatch(c.Request.Context(), evs...)
	response.OK(c, gin.H{"message": "Verification code sent"})
}

// POST /auth/login
func (h *Handler) login(c *gin.Context) {
	var dto LoginDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	m := meta(c, dto.DeviceID)
	tokens, err := h.svc.Login(c.Request.Context(), dto.Email, dto.Password, m)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header(middleware.DeviceIDHeader, m.DeviceID)
	response.OK(c, tokens)
}

// POST /auth/refresh-token
func (h *Handler) refresh(c *gin.Context) {
	var dto RefreshDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	// An empty device id keeps the one bound to the old session.
	deviceID := strings.TrimSpace(dto.DeviceID)
	if deviceID == "" {
		deviceID = middleware.DeviceID(c)
	}
	m := session.Meta{IP: c.ClientIP(), UserAgent: c.Request.UserAgent(), DeviceID: deviceID}
	tokens, err := h.svc.Refresh(c.Request.Context(), dto.RefreshToken, m)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, tokens)
}

// POST /auth/logout
func (h *Handler) logout(c *gin.Context) {
	var dto LogoutDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.svc.Logout(c.Request.Context(), dto.RefreshToken); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "Logged out"})
}

// POST /auth/logout-all
func (h *Handler) logoutAll(c *gin.Context) {
	if err := h.svc.LogoutAll(c.Request.Context(), middleware.CurrentUserID(c)); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "Logged out from all sessions"})
}

// POST /auth/logout-others
func (h *Handler) logoutOthers(c *gin.Context) {
	var dto LogoutOthersDTO
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&dto); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}
	userID := middleware.CurrentUserID(c)
	deviceID, err := h.currentDevice(c, userID, dto.DeviceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	if deviceID == "" {
		response.BadRequest(c, "device_id is required")
		return
	}
	n, err := h.svc.LogoutOthers(c.Request.Context(), userID, deviceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "Logged out from other devices", "revoked": n})
}

// POST /auth/change-password
func (h *Handler) changePassword(c *gin.Context) {
	var dto ChangePasswordDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	userID := middleware.CurrentUserID(c)
	deviceID, err := h.currentDevice(c, userID, dto.DeviceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	tokens, err := h.svc.ChangePassword(c.Request.Context(), userID,
		dto.CurrentPassword, dto.NewPassword, meta(c, deviceID))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"message":       "Password changed successfully",
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"token_type":    tokens.TokenType,
		"expires_in":    tokens.ExpiresIn,
	})
}

// POST /auth/request-reset-password
func (h *Handler) requestPasswordReset(c *gin.Context) {
	var dto EmailDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	evs, err := h.svc.RequestPasswordReset(c.Request.Context(), dto.Email)
	if err != nil {
		response.Error(c, err)
		return
	}
	h.dispatcher.Dispatch(c.Request.Context(), evs...)
	response.OK(c, gin.H{"message": "If email exists, reset link sent"})
}

// POST /auth/reset-password
func (h *Handler) resetPassword(c *gin.Context) {
	var dto ResetPasswordDTO
	if err := c.ShouldBindJSON(&dto); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.svc.ResetPassword(c.Request.Context(), dto.Token, dto.NewPassword); err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{"message": "Password reset successful"})
}

// GET /auth/sessions
func (h *Handler) listSessions(c *gin.Context) {
	items, err := h.svc.Sessions(c.Request.Context(), middleware.CurrentUserID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	current := strings.TrimSpace(c.GetHeader(middleware.RefreshTokenHeader))
	out := make([]sessionResponse, len(items))
	for i, s := range items {
		out[i] = toSessionResponse(s, current)
	}
	c.JSON(http.StatusOK, gin.H{"data": out, "max_devices": h.sessions.MaxDevices()})
}

// DELETE /auth/sessions/:id
func (h *Handler) revokeSession(c *gin.Context) {
	id := strings.ToLower(strings.TrimSpace(c.Param("id")))
	if len(id) != tokenhash.Size {
		response.NotFoundMsg(c, "Session not found")
		return
	}
	removed, err := h.svc.RevokeSession(c.Request.Context(), middleware.CurrentUserID(c), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	if !removed {
		response.NotFoundMsg(c, "Session not found")
		return
	}
	secret := strings.TrimSpace(c.GetHeader(middleware.RefreshTokenHeader))
	response.OK(c, gin.H{"revoked": true, "current": secret != "" && tokenhash.Equal(secret, id)})
}
