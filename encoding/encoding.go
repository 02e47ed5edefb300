// Package encoding converts x402 v1 payment data to and from the base64 JSON
// form carried in the X-PAYMENT and X-PAYMENT-RESPONSE headers.
package encoding

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	x402types "github.com/coinbase/x402/go/types"

	x402 "github.com/x402-echo/echo-merchant"
)

// EncodePayment converts a PaymentPayload to a base64-encoded JSON string.
// This is what a client puts in the X-PAYMENT header.
func EncodePayment(payment x402.PaymentPayload) (string, error) {
	paymentJSON, err := json.Marshal(payment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payment: %w", err)
	}
	return base64.StdEncoding.EncodeToString(paymentJSON), nil
}

// DecodePayment converts an X-PAYMENT header value to a PaymentPayload.
//
// Every failure wraps x402.ErrMalformedHeader, except a well-formed envelope
// for another protocol version, which wraps x402.ErrUnsupportedVersion.
func DecodePayment(encoded string) (x402.PaymentPayload, error) {
	var payment x402.PaymentPayload

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return payment, fmt.Errorf("%w: failed to decode base64: %v", x402.ErrMalformedHeader, err)
	}

	version, err := x402types.DetectVersion(decoded)
	if err != nil {
		return payment, fmt.Errorf("%w: %v", x402.ErrMalformedHeader, err)
	}
	if version != x402.X402Version {
		return payment, fmt.Errorf("%w: %d", x402.ErrUnsupportedVersion, version)
	}

	if err := json.Unmarshal(decoded, &payment); err != nil {
		return payment, fmt.Errorf("%w: failed to unmarshal payment: %v", x402.ErrMalformedHeader, err)
	}
	if payment.Scheme == "" || payment.Network == "" || len(payment.Payload) == 0 {
		return payment, fmt.Errorf("%w: scheme, network and payload are required", x402.ErrMalformedHeader)
	}

	return payment, nil
}

// DecodeFamilyPayload checks that the payload has the shape required by the
// chain family of the payment's network. Unknown networks pass through so
// that matching, not decoding, rejects them.
func DecodeFamilyPayload(payment x402.PaymentPayload) error {
	switch x402.FamilyOf(payment.Network) {
	case x402.FamilyEVM:
		_, err := payment.EVM()
		return err
	case x402.FamilySVM:
		_, err := payment.SVM()
		return err
	case x402.FamilyUnknown:
		return nil
	}
	return nil
}

// EncodeSettlement converts a SettlementRecord to a base64-encoded JSON string
// for the X-PAYMENT-RESPONSE header.
func EncodeSettlement(settlement x402.SettlementRecord) (string, error) {
	settlementJSON, err := json.Marshal(settlement)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settlement: %w", err)
	}
	return base64.StdEncoding.EncodeToString(settlementJSON), nil
}

// DecodeSettlement converts an X-PAYMENT-RESPONSE header value to a SettlementRecord.
func DecodeSettlement(encoded string) (x402.SettlementRecord, error) {
	var settlement x402.SettlementRecord

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return settlement, fmt.Errorf("failed to decode base64: %w", err)
	}

	if err := json.Unmarshal(decoded, &settlement); err != nil {
		return settlement, fmt.Errorf("failed to unmarshal settlement: %w", err)
	}

	return settlement, nil
}
