// Package mcp provides an MCP (Model Context Protocol) server that lets AI
// agents discover the merchant's paid endpoints and their payment
// requirements.
package mcp

import (
	"context"
	"net/http"
	"strings"

	mcpserver "github.com/mark3labs/mcp-go/server"

	x402 "github.com/x402-echo/echo-merchant"
)

// RequirementsBuilder builds the payment requirements of a route.
type RequirementsBuilder interface {
	Build(ctx context.Context, route x402.Route, method, resourceURL string) ([]x402.PaymentRequirement, error)
}

// Config configures the discovery server.
type Config struct {
	// Name and Version identify the server to MCP clients.
	Name    string
	Version string

	// BaseURL is the public URL of the merchant, e.g. "https://echo.example.com".
	BaseURL string

	// MaxPriceOverride caps the amount accepted by get_payment_requirements.
	MaxPriceOverride float64
}

// Server wraps an MCP server exposing the x402 discovery tools.
type Server struct {
	mcpServer *mcpserver.MCPServer
	catalog   *x402.Catalog
	builder   RequirementsBuilder
	config    Config
}

// NewServer creates a discovery server over catalog.
func NewServer(catalog *x402.Catalog, builder RequirementsBuilder, config Config) *Server {
	if config.Name == "" {
		config.Name = "x402-echo-discovery"
	}
	if config.Version == "" {
		config.Version = "1.0.0"
	}
	if config.MaxPriceOverride <= 0 {
		config.MaxPriceOverride = x402.DefaultMaxPriceOverride
	}
	config.BaseURL = strings.TrimSuffix(config.BaseURL, "/")

	s := &Server{
		mcpServer: mcpserver.NewMCPServer(config.Name, config.Version, mcpserver.WithToolCapabilities(false)),
		catalog:   catalog,
		builder:   builder,
		config:    config,
	}
	s.registerTools()
	return s
}

// GetMCPServer returns the underlying MCP server.
func (s *Server) GetMCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Handler returns an http.Handler for the MCP streamable HTTP transport.
// This handler should be mounted at /discovery/mcp.
func (s *Server) Handler() http.Handler {
	return mcpserver.NewStreamableHTTPServer(s.mcpServer)
}

func (s *Server) resourceURL(network string) string {
	return s.config.BaseURL + "/api/" + network + "/paid-content"
}
