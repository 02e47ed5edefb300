// Package validation checks addresses, amounts and requirements before the
// merchant publishes them to clients.
package validation

import (
	"fmt"
	"math/big"
	"net/url"
	"regexp"

	"github.com/gagliardetto/solana-go"

	x402 "github.com/x402-echo/echo-merchant"
)

var (
	// evmAddressRegex matches Ethereum-style addresses (0x followed by 40 hex chars)
	evmAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

	// solanaAddressRegex matches Solana base58 addresses (32-44 chars, base58 charset)
	solanaAddressRegex = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
)

// ValidateAmount validates that an amount string is a positive integer in
// atomic units. Refunds cannot be issued for zero-value payments, so zero is
// rejected.
func ValidateAmount(amount string) error {
	if amount == "" {
		return fmt.Errorf("amount cannot be empty")
	}

	amt, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return fmt.Errorf("invalid amount format: %s", amount)
	}
	if amt.Sign() <= 0 {
		return fmt.Errorf("amount must be positive, got: %s", amount)
	}
	return nil
}

// ValidateAddress validates an address for the chain family of network.
func ValidateAddress(address string, network string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	family := x402.FamilyOf(network)
	switch family {
	case x402.FamilyEVM:
		if !evmAddressRegex.MatchString(address) {
			return fmt.Errorf("invalid EVM address format: %s (expected 0x followed by 40 hex characters)", address)
		}
		return nil

	case x402.FamilySVM:
		if !solanaAddressRegex.MatchString(address) {
			return fmt.Errorf("invalid Solana address format: %s (expected base58 string 32-44 chars)", address)
		}
		if _, err := solana.PublicKeyFromBase58(address); err != nil {
			return fmt.Errorf("invalid Solana public key %s: %w", address, err)
		}
		return nil

	case x402.FamilyUnknown:
		return fmt.Errorf("cannot validate address: %w: %s", x402.ErrUnsupportedNetwork, network)
	}
	return fmt.Errorf("unsupported chain family %v", family)
}

// ValidateURL checks that raw is an absolute http(s) URL.
func ValidateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("url cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must use http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}

// ValidatePaymentRequirement checks a requirement the merchant is about to
// publish: positive amount, valid payee and asset for the network, and the
// scheme data each family needs.
func ValidatePaymentRequirement(req x402.PaymentRequirement) error {
	if req.Scheme != x402.SchemeExact {
		return fmt.Errorf("invalid requirement: unsupported scheme %q", req.Scheme)
	}
	if err := ValidateAmount(req.MaxAmountRequired); err != nil {
		return fmt.Errorf("invalid requirement: %w", err)
	}
	if err := ValidateAddress(req.PayTo, req.Network); err != nil {
		return fmt.Errorf("invalid requirement: payTo %w", err)
	}
	if err := ValidateAddress(req.Asset, req.Network); err != nil {
		return fmt.Errorf("invalid requirement: asset %w", err)
	}
	if req.MaxTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid requirement: timeout must be positive: %d", req.MaxTimeoutSeconds)
	}

	switch x402.FamilyOf(req.Network) {
	case x402.FamilyEVM:
		name, _ := req.Extra["name"].(string)
		version, _ := req.Extra["version"].(string)
		if name == "" || version == "" {
			return fmt.Errorf("invalid requirement: EIP-712 name and version are required")
		}
	case x402.FamilySVM:
		feePayer, _ := req.Extra["feePayer"].(string)
		if err := ValidateAddress(feePayer, req.Network); err != nil {
			return fmt.Errorf("invalid requirement: feePayer %w", err)
		}
	case x402.FamilyUnknown:
		return fmt.Errorf("invalid requirement: %w: %s", x402.ErrUnsupportedNetwork, req.Network)
	}
	return nil
}
