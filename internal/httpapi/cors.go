package httpapi

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
)

const (
	corsDefaultHeaders = "Content-Type, Authorization, X-PAYMENT, X-PAYMENT-RESPONSE"
	corsMethods        = "GET,POST,PUT,PATCH,DELETE,OPTIONS"
	corsMaxAge         = "600"
)

// corsMiddleware adds CORS headers to every response and answers preflight
// requests with 204. An origin is reflected only when it is in allowed, and
// credentials are allowed only for a reflected origin.
func corsMiddleware(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()

		if origin := c.GetHeader("Origin"); origin != "" && slices.Contains(allowed, origin) {
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Add("Vary", "Origin")
		}

		if requested := c.GetHeader("Access-Control-Request-Headers"); requested != "" {
			h.Set("Access-Control-Allow-Headers", requested)
		} else {
			h.Set("Access-Control-Allow-Headers", corsDefaultHeaders)
		}
		h.Set("Access-Control-Allow-Methods", corsMethods)
		h.Set("Access-Control-Max-Age", corsMaxAge)
		h.Set("Access-Control-Expose-Headers", "X-PAYMENT-RESPONSE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
