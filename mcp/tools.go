package mcp

import (
	"context"
	"fmt"

	mcpproto "github.com/mark3labs/mcp-go/mcp"

	x402 "github.com/x402-echo/echo-merchant"
	"github.com/x402-echo/echo-merchant/validation"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(mcpproto.NewTool("list_paid_endpoints",
		mcpproto.WithDescription("Lists the x402 v1 paid endpoints of this merchant, one per network. Every payment is refunded once settled."),
		mcpproto.WithTitleAnnotation("List paid endpoints"),
		mcpproto.WithReadOnlyHintAnnotation(true),
		mcpproto.WithBoolean("testnet",
			mcpproto.Description("Only list testnets (true) or mainnets (false)"),
		),
	), s.handleListPaidEndpoints)

	s.mcpServer.AddTool(mcpproto.NewTool("get_payment_requirements",
		mcpproto.WithDescription("Returns the payment requirements a client must satisfy to call the paid endpoint of a network. Pass amount (USD) to price the request differently."),
		mcpproto.WithTitleAnnotation("Get payment requirements"),
		mcpproto.WithReadOnlyHintAnnotation(true),
		mcpproto.WithString("network",
			mcpproto.Required(),
			mcpproto.Description("Network of the paid endpoint, e.g. base-sepolia or solana-devnet"),
		),
		mcpproto.WithNumber("amount",
			mcpproto.Description("Optional price in USD; out of range values fall back to the default price"),
		),
	), s.handleGetPaymentRequirements)
}

// PaidEndpoint describes one paid route.
type PaidEndpoint struct {
	Resource    string   `json:"resource"`
	Network     string   `json:"network"`
	Price       string   `json:"price"`
	Description string   `json:"description"`
	Methods     []string `json:"methods"`
	Testnet     bool     `json:"testnet"`
}

// ListPaidEndpointsParams filters list_paid_endpoints.
type ListPaidEndpointsParams struct {
	// Testnet restricts the list to testnets (true) or mainnets (false).
	Testnet *bool
}

// ListPaidEndpointsOutput is the structured output of list_paid_endpoints.
type ListPaidEndpointsOutput struct {
	X402Version int            `json:"x402Version"`
	Endpoints   []PaidEndpoint `json:"endpoints"`
}

func (s *Server) handleListPaidEndpoints(ctx context.Context, request mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	var params ListPaidEndpointsParams
	if _, ok := request.GetArguments()["testnet"]; ok {
		testnet, err := request.RequireBool("testnet")
		if err != nil {
			return mcpproto.NewToolResultError(err.Error()), nil
		}
		params.Testnet = &testnet
	}
	return mcpproto.NewToolResultStructuredOnly(s.ListPaidEndpoints(params)), nil
}

// ListPaidEndpoints returns the catalog.
func (s *Server) ListPaidEndpoints(params ListPaidEndpointsParams) ListPaidEndpointsOutput {
	out := ListPaidEndpointsOutput{X402Version: x402.X402Version, Endpoints: []PaidEndpoint{}}
	for _, route := range s.catalog.Routes() {
		testnet := x402.IsTestnet(route.Network)
		if params.Testnet != nil && *params.Testnet != testnet {
			continue
		}
		out.Endpoints = append(out.Endpoints, PaidEndpoint{
			Resource:    s.resourceURL(route.Network),
			Network:     route.Network,
			Price:       route.Price,
			Description: route.Description,
			Methods:     []string{"GET", "POST"},
			Testnet:     testnet,
		})
	}
	return out
}

// GetPaymentRequirementsParams defines parameters for get_payment_requirements.
type GetPaymentRequirementsParams struct {
	Network string
	Amount  *float64
}

// GetPaymentRequirementsOutput mirrors the body of a 402 response.
type GetPaymentRequirementsOutput struct {
	X402Version int                       `json:"x402Version"`
	Accepts     []x402.PaymentRequirement `json:"accepts"`
}

func (s *Server) handleGetPaymentRequirements(ctx context.Context, request mcpproto.CallToolRequest) (*mcpproto.CallToolResult, error) {
	network, err := request.RequireString("network")
	if err != nil {
		return mcpproto.NewToolResultError(err.Error()), nil
	}
	params := GetPaymentRequirementsParams{Network: network}
	if _, ok := request.GetArguments()["amount"]; ok {
		amount, err := request.RequireFloat("amount")
		if err != nil {
			return mcpproto.NewToolResultError(err.Error()), nil
		}
		params.Amount = &amount
	}

	out, err := s.GetPaymentRequirements(ctx, params)
	if err != nil {
		return mcpproto.NewToolResultError(err.Error()), nil
	}
	return mcpproto.NewToolResultStructuredOnly(out), nil
}

// GetPaymentRequirements builds the requirements for a network's paid route.
func (s *Server) GetPaymentRequirements(ctx context.Context, params GetPaymentRequirementsParams) (GetPaymentRequirementsOutput, error) {
	route, ok := s.catalog.Route(params.Network)
	if !ok {
		return GetPaymentRequirementsOutput{}, fmt.Errorf("no paid endpoint for network %q, use list_paid_endpoints to see the supported networks", params.Network)
	}

	if params.Amount != nil {
		route = route.WithPrice(x402.PriceForAmount(*params.Amount, route.Price, s.config.MaxPriceOverride))
	}

	accepts, err := s.builder.Build(ctx, route, "GET", s.resourceURL(route.Network))
	if err != nil {
		return GetPaymentRequirementsOutput{}, fmt.Errorf("build payment requirements for %s: %w", route.Network, err)
	}
	for i, accept := range accepts {
		if err := validation.ValidatePaymentRequirement(accept); err != nil {
			return GetPaymentRequirementsOutput{}, fmt.Errorf("invalid requirement %d for %s: %w", i, route.Network, err)
		}
	}

	return GetPaymentRequirementsOutput{
		X402Version: x402.X402Version,
		Accepts:     accepts,
	}, nil
}
