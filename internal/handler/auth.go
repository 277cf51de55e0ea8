package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const engineSecretHeader = "X-Engine-Secret"

// RequireEngineSecret guards mutating endpoints with a shared secret. A
// request with a missing or wrong secret is rejected before any handler runs,
// so an unauthenticated caller can never cause a side effect. With no secret
// configured every guarded route is unavailable rather than open.
func RequireEngineSecret(secret string) gin.HandlerFunc {
	secret = strings.TrimSpace(secret)
	return func(c *gin.Context) {
		if secret == "" {
			Error(c, http.StatusServiceUnavailable, "engine secret not configured", nil)
			c.Abort()
			return
		}
		provided := strings.TrimSpace(c.GetHeader(engineSecretHeader))
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			Error(c, http.StatusUnauthorized, "invalid engine secret", nil)
			c.Abort()
			return
		}
		c.Next()
	}
}
