package x402

import (
	"context"
	"math/big"
)

// Signer produces payment instruments for one network. The merchant never
// signs payments; signers back the test client in cmd/echo-client.
type Signer interface {
	// Network returns the legacy network name (e.g. "base-sepolia").
	Network() string

	// CanSign reports whether the signer can satisfy requirement.
	CanSign(requirement PaymentRequirement) bool

	// Sign creates a v1 payment payload for requirement. Solana signers read
	// a recent blockhash, so ctx bounds an RPC call.
	Sign(ctx context.Context, requirement PaymentRequirement) (*PaymentPayload, error)

	// MaxAmount returns the per-call spending limit in atomic units, or nil.
	MaxAmount() *big.Int
}

// SelectSigner returns the first requirement some signer can satisfy, in the
// order the server offered them, with the signer to use.
func SelectSigner(signers []Signer, accepts []PaymentRequirement) (Signer, PaymentRequirement, error) {
	for _, req := range accepts {
		for _, s := range signers {
			if s.CanSign(req) {
				return s, req, nil
			}
		}
	}
	return nil, PaymentRequirement{}, ErrNoValidSigner
}
