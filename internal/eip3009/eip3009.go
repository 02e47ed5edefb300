// Package eip3009 builds and signs USDC transferWithAuthorization messages,
// the instrument of the x402 "exact" scheme on EVM networks.
package eip3009

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	x402 "github.com/x402-echo/echo-merchant"
)

// clockSkew backdates validAfter so a facilitator with a slightly late clock
// still accepts the authorization.
const clockSkew = 10

// Authorization holds the transferWithAuthorization parameters.
type Authorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

// Domain is the EIP-712 domain of a USDC deployment.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// CreateAuthorization returns an authorization valid for timeoutSeconds from
// now with a random nonce.
func CreateAuthorization(from, to common.Address, value *big.Int, timeoutSeconds int) (*Authorization, error) {
	nonce, err := GenerateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := time.Now().Unix()
	return &Authorization{
		From:        from,
		To:          to,
		Value:       value,
		ValidAfter:  big.NewInt(now - clockSkew),
		ValidBefore: big.NewInt(now + int64(timeoutSeconds)),
		Nonce:       nonce,
	}, nil
}

// GenerateNonce returns 32 random bytes.
func GenerateNonce() ([32]byte, error) {
	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nonce, err
	}
	return nonce, nil
}

// Digest returns the EIP-712 hash signed for auth under domain.
func Digest(domain Domain, auth *Authorization) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"TransferWithAuthorization": []apitypes.Type{
				{Name: "from", Type: "address"},
				{Name: "to", Type: "address"},
				{Name: "value", Type: "uint256"},
				{Name: "validAfter", Type: "uint256"},
				{Name: "validBefore", Type: "uint256"},
				{Name: "nonce", Type: "bytes32"},
			},
		},
		PrimaryType: "TransferWithAuthorization",
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"from":        auth.From.Hex(),
			"to":          auth.To.Hex(),
			"value":       (*math.HexOrDecimal256)(auth.Value),
			"validAfter":  (*math.HexOrDecimal256)(auth.ValidAfter),
			"validBefore": (*math.HexOrDecimal256)(auth.ValidBefore),
			"nonce":       common.BytesToHash(auth.Nonce[:]).Hex(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	messageHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := append([]byte{0x19, 0x01}, append(domainSeparator, messageHash...)...)
	return crypto.Keccak256(rawData), nil
}

// Sign signs auth and returns the 0x-prefixed 65 byte signature with v in
// {27, 28}.
func Sign(privateKey *ecdsa.PrivateKey, domain Domain, auth *Authorization) (string, error) {
	digest, err := Digest(domain, auth)
	if err != nil {
		return "", err
	}

	signature, err := crypto.Sign(digest, privateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign authorization: %w", err)
	}
	signature[64] += 27

	return "0x" + hex.EncodeToString(signature), nil
}

// Payload renders a signed authorization in its wire form.
func Payload(auth *Authorization, signature string) x402.EVMPayload {
	return x402.EVMPayload{
		Signature: signature,
		Authorization: x402.EVMAuthorization{
			From:        auth.From.Hex(),
			To:          auth.To.Hex(),
			Value:       auth.Value.String(),
			ValidAfter:  auth.ValidAfter.String(),
			ValidBefore: auth.ValidBefore.String(),
			Nonce:       common.BytesToHash(auth.Nonce[:]).Hex(),
		},
	}
}
