// Package facilitator defines the contract the merchant relies on to verify
// and settle x402 v1 payments.
//
// A facilitator owns all signature checks and on-chain broadcast. The merchant
// only routes on its answers.
package facilitator

import (
	"context"

	x402 "github.com/x402-echo/echo-merchant"
)

// Interface defines the facilitator operations used by the payment pipeline.
type Interface interface {
	// Verify checks that the payload is valid, properly signed and funded
	// for the requirement, without moving any value.
	Verify(ctx context.Context, payload x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.VerifyResponse, error)

	// Settle broadcasts a verified payment. It is not idempotent.
	Settle(ctx context.Context, payload x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error)

	// Supported lists the payment kinds the facilitator can process,
	// including the Solana fee payer per network.
	Supported(ctx context.Context) (*x402.SupportedResponse, error)
}

// Request is the body sent to POST /verify and POST /settle.
type Request struct {
	// X402Version is the protocol version (1).
	X402Version int `json:"x402Version"`

	// PaymentPayload contains the signed payment data from the client.
	PaymentPayload x402.PaymentPayload `json:"paymentPayload"`

	// PaymentRequirements contains the payment option that was matched.
	PaymentRequirements x402.PaymentRequirement `json:"paymentRequirements"`
}
