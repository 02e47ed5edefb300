// Package httpapi assembles the merchant's HTTP surface on Gin.
package httpapi

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	x402 "github.com/x402-echo/echo-merchant"
	"github.com/x402-echo/echo-merchant/content"
	x402http "github.com/x402-echo/echo-merchant/http"
	ginx402 "github.com/x402-echo/echo-merchant/http/gin"
)

// maxOverrideBody bounds the JSON body read for a price override.
const maxOverrideBody = 64 << 10

// SupportedProxy fetches the facilitator's /supported document verbatim.
type SupportedProxy interface {
	SupportedRaw(ctx context.Context) (int, []byte, error)
}

// Config holds what the router serves.
type Config struct {
	// Pipeline runs payments for the paid-content routes.
	Pipeline *x402http.Pipeline

	// Catalog lists the paid route of each network.
	Catalog *x402.Catalog

	// Facilitator backs GET /api/facilitator/supported.
	Facilitator SupportedProxy

	// Discovery is mounted at /discovery/mcp when set.
	Discovery http.Handler

	// Content is the protected resource (default: content.Handler()).
	Content http.Handler

	// AllowedOrigins is the CORS allow-list.
	AllowedOrigins []string

	// MaxPriceOverride caps the amount a client may ask to pay.
	MaxPriceOverride float64
}

// NewRouter builds the Gin router with all HTTP routes registered.
func NewRouter(cfg Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), corsMiddleware(cfg.AllowedOrigins))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	registerPaidContentRoutes(api, cfg)
	registerFacilitatorRoutes(api, cfg.Facilitator)

	if cfg.Discovery != nil {
		r.Any("/discovery/mcp", gin.WrapH(cfg.Discovery))
	}
	return r
}

func registerPaidContentRoutes(api *gin.RouterGroup, cfg Config) {
	handler := cfg.Content
	if handler == nil {
		handler = content.Handler()
	}
	max := cfg.MaxPriceOverride
	if max <= 0 {
		max = x402.DefaultMaxPriceOverride
	}

	// GET|POST /api/:network/paid-content - pay, get refunded, get the receipt
	api.Match([]string{http.MethodGet, http.MethodPost}, "/:network/paid-content",
		ginx402.NewX402Middleware(cfg.Pipeline, catalogRoute(cfg.Catalog, max)),
		gin.WrapH(handler),
	)
}

func registerFacilitatorRoutes(api *gin.RouterGroup, facilitator SupportedProxy) {
	// GET /api/facilitator/supported - proxies the facilitator's supported kinds
	api.GET("/facilitator/supported", func(c *gin.Context) {
		if facilitator == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no facilitator configured"})
			return
		}
		status, body, err := facilitator.SupportedRaw(c.Request.Context())
		if err != nil {
			slog.Default().Error("failed to fetch facilitator supported kinds", "error", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": "facilitator unavailable"})
			return
		}
		c.Data(status, "application/json", body)
	})
}

// catalogRoute resolves :network against the catalog. A JSON body of the
// form {"amount": number} replaces the default price.
func catalogRoute(catalog *x402.Catalog, max float64) ginx402.RouteFunc {
	return func(c *gin.Context) (x402.Route, bool) {
		if catalog == nil {
			return x402.Route{}, false
		}
		route, ok := catalog.Route(c.Param("network"))
		if !ok {
			return x402.Route{}, false
		}

		body := readOverrideBody(c.Request)
		return route.WithPrice(x402.PriceOverride(body, route.Price, max)), true
	}
}

// readOverrideBody returns the JSON body of r, leaving r.Body readable again.
// Non-JSON or empty bodies yield nil.
func readOverrideBody(r *http.Request) []byte {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	if !strings.Contains(r.Header.Get("Content-Type"), "application/json") {
		return nil
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxOverrideBody))
	if err != nil {
		slog.Default().Warn("failed to read price override body", "error", err)
		return nil
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	return body
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Default().Info("http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}
