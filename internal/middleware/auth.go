package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/learnhub/core/internal/pkg/jwt"
	"github.com/learnhub/core/internal/pkg/response"
	"github.com/learnhub/core/internal/pkg/session"
	"github.com/learnhub/core/internal/pkg/tokenhash"
)

const (
	ContextKeyPrincipal = "principal"

	// RefreshTokenHeader carries the raw refresh secret for session-bound routes.
	RefreshTokenHeader = "X-Refresh-Token"
	// DeviceIDHeader identifies the client device when the body does not.
	DeviceIDHeader = "X-Device-Id"
)

// TokenVerifier validates access tokens.
type TokenVerifier interface {
	VerifyAccessToken(token string) (jwt.Principal, error)
}

// Auth returns a middleware that requires a valid access token.
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			response.Unauthorized(c)
			return
		}
		p, err := verifier.VerifyAccessToken(token)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.Set(ContextKeyPrincipal, p)
		c.Next()
	}
}

// OptionalAuth sets the principal if a valid token is present, but does not block the request.
func OptionalAuth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := extractToken(c); token != "" {
			if p, err := verifier.VerifyAccessToken(token); err == nil {
				c.Set(ContextKeyPrincipal, p)
			}
		}
		c.Next()
	}
}

// RequireRoles lets the request through only when the principal has one of roles.
// It must run after Auth.
func RequireRoles(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		if !ok {
			response.Unauthorized(c)
			return
		}
		for _, r := range roles {
			if p.Role == r {
				c.Next()
				return
			}
		}
		response.ForbiddenMsg(c, "Insufficient permissions")
	}
}

// RequireSession rejects requests whose X-Refresh-Token has no live session
// owned by the authenticated user and bumps the session's last use otherwise.
func RequireSession(registry *session.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		secret := strings.TrimSpace(c.GetHeader(RefreshTokenHeader))
		if secret == "" {
			response.Error(c, session.ErrSessionExpiredOrRevoked)
			return
		}
		owner, found, err := registry.Owner(c.Request.Context(), tokenhash.Hash(secret))
		if err != nil {
			response.Error(c, err)
			return
		}
		if !found || owner != CurrentUserID(c) {
			response.Error(c, session.ErrSessionExpiredOrRevoked)
			return
		}
		if err := registry.Touch(c.Request.Context(), secret); err != nil {
			response.Error(c, err)
			return
		}
		c.Next()
	}
}

// PrincipalFrom returns the authenticated principal stored by Auth.
func PrincipalFrom(c *gin.Context) (jwt.Principal, bool) {
	v, ok := c.Get(ContextKeyPrincipal)
	if !ok {
		return jwt.Principal{}, false
	}
	p, ok := v.(jwt.Principal)
	return p, ok
}

// CurrentUserID extracts the authenticated user ID from context.
func CurrentUserID(c *gin.Context) string {
	p, _ := PrincipalFrom(c)
	return p.UserID
}

// IsAuthenticated returns true if the request has a valid auth token.
func IsAuthenticated(c *gin.Context) bool {
	return CurrentUserID(c) != ""
}

// DeviceID returns the X-Device-Id header, trimmed.
func DeviceID(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader(DeviceIDHeader))
}

func extractToken(c *gin.Context) string {
	return NormalizeToken(c.GetHeader("Authorization"))
}

// NormalizeToken trims spaces and strips optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
