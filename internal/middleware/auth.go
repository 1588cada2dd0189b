package middleware

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"iap-reconciler/internal/response"
)

// APIKeyHeader carries the shared API key.
const APIKeyHeader = "X-API-Key"

// APIKeyAuth guards a route group with a shared key. An empty key disables
// the check.
func APIKeyAuth(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		// Header first, query parameter as a fallback for EventSource clients
		provided := c.GetHeader(APIKeyHeader)
		if provided == "" {
			provided = c.Query("api_key")
		}

		if provided == "" {
			response.AbortJSON(c, http.StatusUnauthorized, "Missing api key")
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
			response.AbortJSON(c, http.StatusUnauthorized, "Invalid api key")
			return
		}

		c.Set("request_time", time.Now())
		c.Next()
	}
}
