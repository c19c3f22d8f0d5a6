package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/learnhub/core/internal/pkg/redis"
	"github.com/learnhub/core/internal/pkg/response"
	"github.com/learnhub/core/internal/pkg/tokenhash"
)

const (
	IdempotenceHeader = "X-Idempotence"
	idempotencePrefix = "lh:idempotence:"
	idempotenceTTL    = 60 * time.Second
)

// Idempotence rejects a repeated write request within idempotenceTTL. The key
// is the caller plus the X-Idempotence header, or a hash of the request and caller.
func Idempotence(store *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet {
			c.Next()
			return
		}

		key, err := resolveIdempotenceKey(c)
		if err != nil || key == "" {
			c.Next()
			return
		}

		storeKey := idempotencePrefix + key
		ctx := c.Request.Context()

		claimed, err := store.SetNX(ctx, storeKey, "0", idempotenceTTL)
		if err != nil {
			c.Next()
			return
		}
		if !claimed {
			msg := "Duplicate request, try again in a minute"
			if val, _, _ := store.Get(ctx, storeKey); val == "0" {
				msg = "Request is still being processed"
			}
			response.Conflict(c, msg)
			return
		}

		c.Next()

		status := c.Writer.Status()
		if status >= 200 && status < 300 {
			_, _ = store.Replace(ctx, storeKey, "1")
		} else {
			_, _ = store.Del(ctx, storeKey)
		}
	}
}

// resolveIdempotenceKey returns the idempotence key for the current request.
// Keys are always scoped to the caller so one user cannot block another.
func resolveIdempotenceKey(c *gin.Context) (string, error) {
	caller := CurrentUserID(c)
	if caller == "" {
		caller = c.ClientIP()
	}

	if hdr := c.GetHeader(IdempotenceHeader); hdr != "" {
		return tokenhash.Hash("hdr|" + caller + "|" + hdr), nil
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return "", err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))

	if len(body) == 0 && caller == "" {
		return "", nil
	}

	raw := c.Request.Method + "|" + c.Request.URL.String() + "|" + string(body) + "|" + caller
	return tokenhash.Hash(raw), nil
}
