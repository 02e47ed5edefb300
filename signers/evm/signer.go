// Package evm signs x402 v1 "exact" payments on EVM networks with EIP-3009
// transferWithAuthorization.
package evm

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	x402 "github.com/x402-echo/echo-merchant"
	"github.com/x402-echo/echo-merchant/internal/eip3009"
)

// Signer signs USDC payments on one EVM network.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
	chain      x402.ChainConfig
	maxAmount  *big.Int
}

var _ x402.Signer = (*Signer)(nil)

// Option configures a Signer.
type Option func(*Signer) error

// WithMaxAmount refuses requirements above amount (atomic units).
func WithMaxAmount(amount *big.Int) Option {
	return func(s *Signer) error {
		if amount == nil || amount.Sign() <= 0 {
			return x402.ErrInvalidAmount
		}
		s.maxAmount = amount
		return nil
	}
}

// NewSigner creates a signer from a hex private key, with or without 0x.
func NewSigner(network, privateKeyHex string, opts ...Option) (*Signer, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, x402.ErrInvalidKey
	}
	return NewSignerFromKey(network, privateKey, opts...)
}

// NewSignerFromKey creates a signer from an existing key.
func NewSignerFromKey(network string, key *ecdsa.PrivateKey, opts ...Option) (*Signer, error) {
	chain, err := x402.GetChainConfig(network)
	if err != nil {
		return nil, err
	}
	if chain.Family != x402.FamilyEVM {
		return nil, fmt.Errorf("%w: %s is not an EVM network", x402.ErrUnsupportedNetwork, network)
	}

	s := &Signer{
		privateKey: key,
		address:    crypto.PubkeyToAddress(key.PublicKey),
		chain:      chain,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Network returns the network the signer pays on.
func (s *Signer) Network() string {
	return s.chain.Network
}

// Address returns the paying address.
func (s *Signer) Address() common.Address {
	return s.address
}

// MaxAmount returns the spending limit, or nil.
func (s *Signer) MaxAmount() *big.Int {
	return s.maxAmount
}

// CanSign accepts exact-scheme USDC requirements on the signer's network.
func (s *Signer) CanSign(req x402.PaymentRequirement) bool {
	return req.Scheme == x402.SchemeExact &&
		req.Network == s.chain.Network &&
		strings.EqualFold(req.Asset, s.chain.USDCAddress)
}

// Sign creates an EIP-3009 authorization paying req.PayTo.
func (s *Signer) Sign(_ context.Context, req x402.PaymentRequirement) (*x402.PaymentPayload, error) {
	if !s.CanSign(req) {
		return nil, x402.ErrNoValidSigner
	}

	amount, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok || amount.Sign() <= 0 {
		return nil, x402.ErrInvalidAmount
	}
	if s.maxAmount != nil && amount.Cmp(s.maxAmount) > 0 {
		return nil, x402.ErrAmountExceeded
	}
	if !common.IsHexAddress(req.PayTo) {
		return nil, fmt.Errorf("invalid payTo address %q", req.PayTo)
	}

	domain, err := s.domain(req)
	if err != nil {
		return nil, err
	}

	auth, err := eip3009.CreateAuthorization(s.address, common.HexToAddress(req.PayTo), amount, req.MaxTimeoutSeconds)
	if err != nil {
		return nil, err
	}
	signature, err := eip3009.Sign(s.privateKey, domain, auth)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(eip3009.Payload(auth, signature))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return &x402.PaymentPayload{
		X402Version: x402.X402Version,
		Scheme:      x402.SchemeExact,
		Network:     s.chain.Network,
		Payload:     raw,
	}, nil
}

// domain reads the EIP-712 name and version from req.Extra, falling back to
// the chain catalog.
func (s *Signer) domain(req x402.PaymentRequirement) (eip3009.Domain, error) {
	name, version := s.chain.EIP3009Name, s.chain.EIP3009Version
	if v, ok := req.Extra["name"]; ok {
		str, isString := v.(string)
		if !isString {
			return eip3009.Domain{}, fmt.Errorf("invalid EIP-3009 parameter: name is not a string")
		}
		name = str
	}
	if v, ok := req.Extra["version"]; ok {
		str, isString := v.(string)
		if !isString {
			return eip3009.Domain{}, fmt.Errorf("invalid EIP-3009 parameter: version is not a string")
		}
		version = str
	}
	if name == "" || version == "" {
		return eip3009.Domain{}, fmt.Errorf("missing EIP-3009 domain for %s", s.chain.Network)
	}

	return eip3009.Domain{
		Name:              name,
		Version:           version,
		ChainID:           big.NewInt(s.chain.ChainID),
		VerifyingContract: common.HexToAddress(req.Asset),
	}, nil
}
