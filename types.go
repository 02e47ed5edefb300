// Package x402 implements the merchant side of the x402 payment protocol
// version 1 for a service that refunds every payment it settles.
//
// Version 1 carries the payment in the X-PAYMENT request header and the
// settlement record in the X-PAYMENT-RESPONSE response header, and names
// networks with their legacy identifiers (e.g. "base", "solana-devnet").
//
// Import path: github.com/x402-echo/echo-merchant
package x402

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// X402Version is the protocol version spoken by the merchant.
const X402Version = 1

// SchemeExact is the only payment scheme the merchant accepts.
const SchemeExact = "exact"

// PaymentRequirement describes one acceptable way to pay for a resource.
// It is an element of the "accepts" array of a 402 response.
type PaymentRequirement struct {
	// Scheme is the payment scheme identifier ("exact").
	Scheme string `json:"scheme"`

	// Network is the legacy network name (e.g. "base", "solana").
	Network string `json:"network"`

	// MaxAmountRequired is the price in atomic units of Asset, as a decimal string.
	MaxAmountRequired string `json:"maxAmountRequired"`

	// Resource is the URL of the protected resource.
	Resource string `json:"resource"`

	// Description is a human-readable description of the resource.
	Description string `json:"description"`

	// MimeType is the content type of the protected resource.
	MimeType string `json:"mimeType"`

	// PayTo is the merchant address receiving the payment.
	PayTo string `json:"payTo"`

	// MaxTimeoutSeconds bounds how long the payment authorization stays valid.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Asset is the token contract (EVM) or mint (Solana) address.
	Asset string `json:"asset"`

	// OutputSchema describes the resource's input and output for discovery.
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`

	// Extra carries scheme data: the EIP-712 domain for EVM, the fee payer for Solana.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// PaymentPayload is the decoded content of the X-PAYMENT header.
type PaymentPayload struct {
	// X402Version is the protocol version the client used.
	X402Version int `json:"x402Version"`

	// Scheme is the payment scheme the client chose.
	Scheme string `json:"scheme"`

	// Network is the network the client paid on.
	Network string `json:"network"`

	// Payload is the chain-specific signed instrument. It is kept raw so it
	// reaches the facilitator exactly as the client produced it.
	Payload json.RawMessage `json:"payload"`
}

// EVMPayload contains EIP-3009 authorization data for EVM payments.
type EVMPayload struct {
	// Signature is the hex-encoded ECDSA signature.
	Signature string `json:"signature"`

	// Authorization contains the transferWithAuthorization parameters.
	Authorization EVMAuthorization `json:"authorization"`
}

// EVMAuthorization contains EIP-3009 transferWithAuthorization parameters.
type EVMAuthorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`
	ValidAfter  string `json:"validAfter"`
	ValidBefore string `json:"validBefore"`
	Nonce       string `json:"nonce"`
}

// SVMPayload contains a partially signed Solana transaction.
type SVMPayload struct {
	// Transaction is the base64-encoded transaction. The client signs as
	// token owner and the facilitator adds the fee payer signature.
	Transaction string `json:"transaction"`
}

// EVM decodes the payload as an EIP-3009 authorization.
func (p PaymentPayload) EVM() (EVMPayload, error) {
	var out EVMPayload
	if err := json.Unmarshal(p.Payload, &out); err != nil {
		return EVMPayload{}, fmt.Errorf("%w: evm payload: %v", ErrMalformedHeader, err)
	}
	if out.Signature == "" || out.Authorization.From == "" {
		return EVMPayload{}, fmt.Errorf("%w: evm payload missing signature or authorization", ErrMalformedHeader)
	}
	return out, nil
}

// SVM decodes the payload as a Solana transaction.
func (p PaymentPayload) SVM() (SVMPayload, error) {
	var out SVMPayload
	if err := json.Unmarshal(p.Payload, &out); err != nil {
		return SVMPayload{}, fmt.Errorf("%w: svm payload: %v", ErrMalformedHeader, err)
	}
	if out.Transaction == "" {
		return SVMPayload{}, fmt.Errorf("%w: svm payload missing transaction", ErrMalformedHeader)
	}
	return out, nil
}

// PaymentRequirementsResponse is the JSON body of a 402 response.
type PaymentRequirementsResponse struct {
	// X402Version is the protocol version (1).
	X402Version int `json:"x402Version"`

	// Error is a human-readable reason for the 402.
	Error string `json:"error"`

	// Accepts lists the payment options the merchant accepts.
	Accepts []PaymentRequirement `json:"accepts"`

	// Payer is set when verification identified the payer.
	Payer string `json:"payer,omitempty"`
}

// VerifyResponse is returned by the facilitator /verify endpoint.
type VerifyResponse struct {
	IsValid       bool   `json:"isValid"`
	InvalidReason string `json:"invalidReason,omitempty"`
	Payer         string `json:"payer,omitempty"`
}

// SettlementResponse is returned by the facilitator /settle endpoint.
type SettlementResponse struct {
	// Success indicates whether the payment was settled on chain.
	Success bool `json:"success"`

	// ErrorReason is a short error code when Success is false.
	ErrorReason string `json:"errorReason,omitempty"`

	// Transaction is the settlement transaction hash or signature.
	Transaction string `json:"transaction"`

	// Network is the network the payment settled on.
	Network string `json:"network"`

	// Payer is the settling address, when the facilitator reports it.
	Payer string `json:"payer,omitempty"`
}

// SettlementRecord is the content of the X-PAYMENT-RESPONSE header.
// Payer is never empty when Success is true.
type SettlementRecord struct {
	Success     bool   `json:"success"`
	Transaction string `json:"transaction"`
	Network     string `json:"network"`
	Payer       string `json:"payer"`
}

// SupportedKind describes a payment kind a facilitator can process.
type SupportedKind struct {
	X402Version int                    `json:"x402Version"`
	Scheme      string                 `json:"scheme"`
	Network     string                 `json:"network"`
	Extra       map[string]interface{} `json:"extra,omitempty"`
}

// SupportedResponse is returned by the facilitator /supported endpoint.
type SupportedResponse struct {
	Kinds []SupportedKind `json:"kinds"`
}

// FeePayer returns the Solana fee payer advertised for (network, "exact"),
// taking the first matching kind. It returns false when none is advertised.
func (s *SupportedResponse) FeePayer(network string) (string, bool) {
	if s == nil {
		return "", false
	}
	for _, kind := range s.Kinds {
		if kind.Network != network || kind.Scheme != SchemeExact {
			continue
		}
		if feePayer, ok := kind.Extra["feePayer"].(string); ok && feePayer != "" {
			return feePayer, true
		}
	}
	return "", false
}

// SvmContext is what a Solana refund needs to send the payment back.
// Source and destination are already in the refund direction: the source is
// the merchant's token account that received the payment.
type SvmContext struct {
	Mint                    string `json:"mint"`
	SourceTokenAccount      string `json:"sourceTokenAccount"`
	DestinationTokenAccount string `json:"destinationTokenAccount"`
	Decimals                uint8  `json:"decimals"`
	TokenProgram            string `json:"tokenProgram"`
}

// ResolvedPayer is the outcome of payer resolution after settlement.
type ResolvedPayer struct {
	Payer string

	// SvmContext is set for Solana payments only.
	SvmContext *SvmContext
}

// AmountToBigInt converts a decimal amount string to *big.Int in atomic units.
// For example, "1.5" with 6 decimals becomes 1500000.
// Returns ErrInvalidAmount if the amount is negative, decimals is negative,
// or the amount has more fractional digits than decimals allows.
func AmountToBigInt(amount string, decimals int) (*big.Int, error) {
	if decimals < 0 {
		return nil, ErrInvalidAmount
	}

	value := new(big.Rat)
	if _, ok := value.SetString(amount); !ok {
		return nil, ErrInvalidAmount
	}
	if value.Sign() < 0 {
		return nil, ErrInvalidAmount
	}

	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value.Mul(value, scale)

	if value.Denom().Cmp(big.NewInt(1)) != 0 {
		return nil, ErrInvalidAmount
	}
	return new(big.Int).Set(value.Num()), nil
}

// BigIntToAmount converts a *big.Int in atomic units to a decimal string.
// For example, 1500000 with 6 decimals becomes "1.500000".
func BigIntToAmount(value *big.Int, decimals int) string {
	if value == nil {
		return "0"
	}

	rat := new(big.Rat).SetInt(value)
	scale := new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	rat.Quo(rat, scale)

	return rat.FloatString(decimals)
}
