package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/learnhub/core/internal/pkg/jwt"
	"github.com/learnhub/core/internal/pkg/ratelimit"
	"github.com/learnhub/core/internal/pkg/redis"
	"github.com/learnhub/core/internal/pkg/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func render(err error) (int, map[string]interface{}) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	Error(c, err)
	var body map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	return rec.Code, body
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{NewError(http.StatusConflict, "Email already registered"), http.StatusConflict, "Email already registered"},
		{fmt.Errorf("wrapped: %w", NewError(http.StatusBadRequest, "bad")), http.StatusBadRequest, "bad"},
		{session.ErrSessionCompromised, http.StatusUnauthorized, "Session compromised"},
		{session.ErrSessionExpiredOrRevoked, http.StatusUnauthorized, "Session expired or revoked"},
		{jwt.ErrTokenExpired, http.StatusUnauthorized, "Token expired"},
		{jwt.ErrInvalidToken, http.StatusUnauthorized, "Invalid token"},
		{ratelimit.ErrCooldown, http.StatusTooManyRequests, ratelimit.ErrCooldown.Error()},
		{ratelimit.ErrLocked, http.StatusTooManyRequests, ratelimit.ErrLocked.Error()},
		{fmt.Errorf("%w: dial tcp", redis.ErrStoreUnavailable), http.StatusServiceUnavailable, "Service temporarily unavailable"},
		{gorm.ErrRecordNotFound, http.StatusNotFound, "Not Found"},
		{errors.New("secret detail"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tc := range cases {
		t.Run(tc.msg, func(t *testing.T) {
			status, body := render(tc.err)
			assert.Equal(t, tc.status, status)
			require.NotNil(t, body)
			assert.Equal(t, tc.msg, body["message"])
			assert.EqualValues(t, 0, body["ok"])
			assert.EqualValues(t, tc.status, body["code"])
		})
	}
}

func TestOKWrapsSlices(t *testing.T) {
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	OK(c, []string{"a"})
	assert.JSONEq(t, `{"data":["a"]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	c, _ = gin.CreateTestContext(rec)
	OK(c, gin.H{"id": 1})
	assert.JSONEq(t, `{"id":1}`, rec.Body.String())
}
