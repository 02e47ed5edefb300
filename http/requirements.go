package http

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	x402 "github.com/x402-echo/echo-merchant"
	"github.com/x402-echo/echo-merchant/validation"
)

const (
	evmDefaultTimeoutSeconds = 300
	svmDefaultTimeoutSeconds = 60
	evmDefaultMimeType       = "application/json"
)

// SupportedProvider reports the payment kinds a facilitator can settle.
type SupportedProvider interface {
	Supported(ctx context.Context) (*x402.SupportedResponse, error)
}

// RequirementsBuilder turns a route into the payment requirement clients
// must satisfy.
type RequirementsBuilder struct {
	facilitator SupportedProvider
}

// NewRequirementsBuilder creates a builder that discovers Solana fee payers
// through facilitator.
func NewRequirementsBuilder(facilitator SupportedProvider) *RequirementsBuilder {
	return &RequirementsBuilder{facilitator: facilitator}
}

// Build returns exactly one requirement for route. method and resourceURL
// describe the incoming request; route.Resource takes precedence over
// resourceURL when set.
//
// A bad price or payTo yields x402.ErrConfiguration. A network outside the
// catalog, or a Solana network without an advertised fee payer, yields
// x402.ErrUnsupportedNetwork.
func (b *RequirementsBuilder) Build(ctx context.Context, route x402.Route, method, resourceURL string) ([]x402.PaymentRequirement, error) {
	chain, err := x402.GetChainConfig(route.Network)
	if err != nil {
		return nil, err
	}

	amount, err := x402.ParsePrice(route.Price, chain.Decimals)
	if err != nil {
		return nil, err
	}

	if err := validation.ValidateAddress(route.PayTo, route.Network); err != nil {
		return nil, fmt.Errorf("%w: payTo: %v", x402.ErrConfiguration, err)
	}

	resource := route.Resource
	if resource == "" {
		resource = resourceURL
	}

	req := x402.PaymentRequirement{
		Scheme:            x402.SchemeExact,
		Network:           route.Network,
		MaxAmountRequired: amount.String(),
		Resource:          resource,
		Description:       route.Description,
		MimeType:          route.MimeType,
		MaxTimeoutSeconds: route.MaxTimeoutSeconds,
	}

	input := map[string]interface{}{
		"type":   "http",
		"method": method,
	}

	switch chain.Family {
	case x402.FamilyEVM:
		if !common.IsHexAddress(chain.USDCAddress) {
			return nil, fmt.Errorf("%w: asset %q is not an EVM address", x402.ErrConfiguration, chain.USDCAddress)
		}
		req.PayTo = common.HexToAddress(route.PayTo).Hex()
		req.Asset = common.HexToAddress(chain.USDCAddress).Hex()
		req.Extra = map[string]interface{}{
			"name":    chain.EIP3009Name,
			"version": chain.EIP3009Version,
		}
		if req.MimeType == "" {
			req.MimeType = evmDefaultMimeType
		}
		if req.MaxTimeoutSeconds <= 0 {
			req.MaxTimeoutSeconds = evmDefaultTimeoutSeconds
		}
		discoverable := true
		if route.Discoverable != nil {
			discoverable = *route.Discoverable
		}
		input["discoverable"] = discoverable

	case x402.FamilySVM:
		feePayer, err := b.feePayer(ctx, route.Network)
		if err != nil {
			return nil, err
		}
		req.PayTo = route.PayTo
		req.Asset = chain.USDCAddress
		req.Extra = map[string]interface{}{"feePayer": feePayer}
		if req.MaxTimeoutSeconds <= 0 {
			req.MaxTimeoutSeconds = svmDefaultTimeoutSeconds
		}

	case x402.FamilyUnknown:
		return nil, fmt.Errorf("%w: %s", x402.ErrUnsupportedNetwork, route.Network)
	}

	for k, v := range route.InputSchema {
		input[k] = v
	}
	req.OutputSchema = map[string]interface{}{"input": input}
	if route.OutputSchema != nil {
		req.OutputSchema["output"] = route.OutputSchema
	}

	return []x402.PaymentRequirement{req}, nil
}

func (b *RequirementsBuilder) feePayer(ctx context.Context, network string) (string, error) {
	if b.facilitator == nil {
		return "", fmt.Errorf("%w: no facilitator to discover a fee payer for %s", x402.ErrUnsupportedNetwork, network)
	}
	supported, err := b.facilitator.Supported(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: fee payer discovery for %s: %w", x402.ErrUnsupportedNetwork, network, err)
	}
	feePayer, ok := supported.FeePayer(network)
	if !ok {
		return "", fmt.Errorf("%w: the facilitator did not provide a fee payer for network %s", x402.ErrUnsupportedNetwork, network)
	}
	return feePayer, nil
}
