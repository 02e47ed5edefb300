// Package gin provides Gin-compatible middleware for x402 v1 payment gating.
// This package is a thin adapter that translates gin.Context to stdlib http patterns
// and delegates all payment logic to the http package's Pipeline.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	x402 "github.com/x402-echo/echo-merchant"
	x402http "github.com/x402-echo/echo-merchant/http"
)

// PaymentContextKey is the gin context key for the settled payment.
const PaymentContextKey = "x402_payment"

// RouteFunc selects the paid route for a request. It returns false when the
// request does not map to a configured route.
type RouteFunc func(c *gin.Context) (x402.Route, bool)

// StaticRoute always charges route.
func StaticRoute(route x402.Route) RouteFunc {
	return func(*gin.Context) (x402.Route, bool) { return route, true }
}

// NewX402Middleware gates the rest of the handler chain behind pipeline.
//
// The middleware:
//   - Answers 404 when resolve finds no route for the request
//   - Lets the pipeline issue the 402 challenge, verify, settle, resolve the
//     payer and refund
//   - Replaces c.Request with the stripped GET the pipeline forwards, and
//     stores the settled payment under PaymentContextKey
//   - Calls c.Abort() when the pipeline answered on its own
//
// Example usage:
//
//	pipeline := x402http.NewPipeline(x402http.PipelineConfig{Facilitator: client})
//	r := gin.Default()
//	r.GET("/protected", NewX402Middleware(pipeline, StaticRoute(route)), func(c *gin.Context) {
//	    payment := GetPaymentFromContext(c)
//	    c.JSON(200, gin.H{"payer": payment.Payer})
//	})
func NewX402Middleware(pipeline *x402http.Pipeline, resolve RouteFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		route, ok := resolve(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "no paid route for this request"})
			return
		}

		served := false
		next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			served = true
			c.Request = r
			c.Set(PaymentContextKey, x402http.GetPaymentFromContext(r.Context()))
			c.Next()
			if c.Writer.Written() {
				// Keep the pipeline's writer in step with what gin already sent.
				w.WriteHeader(c.Writer.Status())
			}
		})

		pipeline.Serve(c.Writer, c.Request, route, next)
		if !served {
			c.Abort()
		}
	}
}

// GetPaymentFromContext extracts the settled payment from the Gin context.
// Returns nil if the request did not pass through the middleware.
func GetPaymentFromContext(c *gin.Context) *x402http.PaymentInfo {
	value, exists := c.Get(PaymentContextKey)
	if !exists {
		return nil
	}
	info, ok := value.(*x402http.PaymentInfo)
	if !ok {
		return nil
	}
	return info
}
