// Package svm signs x402 v1 "exact" payments on Solana: a TransferChecked
// partially signed by the payer, with the facilitator as fee payer.
package svm

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/x402-echo/echo-merchant"
	solutil "github.com/x402-echo/echo-merchant/internal/solana"
)

// RPCClient is the Solana RPC surface the signer needs.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
}

// Signer signs USDC payments on one Solana network.
type Signer struct {
	privateKey solana.PrivateKey
	publicKey  solana.PublicKey
	chain      x402.ChainConfig
	maxAmount  *big.Int
	endpoints  solutil.RPCEndpoints
	rpcClient  RPCClient
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

// WithRPCURL overrides the public RPC endpoint of the signer's network.
func WithRPCURL(url string) Option {
	return func(s *Signer) error {
		s.endpoints = solutil.RPCEndpoints{s.chain.Network: url}
		return nil
	}
}

// WithRPCClient sets the client used to fetch blockhashes.
func WithRPCClient(client RPCClient) Option {
	return func(s *Signer) error {
		s.rpcClient = client
		return nil
	}
}

// NewSigner creates a signer from a base58 private key.
func NewSigner(network, privateKeyBase58 string, opts ...Option) (*Signer, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, x402.ErrInvalidKey
	}
	return NewSignerFromKey(network, privateKey, opts...)
}

// NewSignerFromKeygenFile creates a signer from a solana-keygen JSON file.
func NewSignerFromKeygenFile(network, path string, opts ...Option) (*Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidKey, err)
	}

	var keyBytes []byte
	if err := json.Unmarshal(data, &keyBytes); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON format", x402.ErrInvalidKey)
	}
	if len(keyBytes) != 64 {
		return nil, fmt.Errorf("%w: invalid key length (expected 64 bytes)", x402.ErrInvalidKey)
	}
	return NewSignerFromKey(network, solana.PrivateKey(keyBytes), opts...)
}

// NewSignerFromKey creates a signer from an existing key.
func NewSignerFromKey(network string, key solana.PrivateKey, opts ...Option) (*Signer, error) {
	chain, err := x402.GetChainConfig(network)
	if err != nil {
		return nil, err
	}
	if chain.Family != x402.FamilySVM {
		return nil, fmt.Errorf("%w: %s is not a Solana network", x402.ErrUnsupportedNetwork, network)
	}

	s := &Signer{
		privateKey: key,
		publicKey:  key.PublicKey(),
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

// Address returns the paying wallet.
func (s *Signer) Address() solana.PublicKey {
	return s.publicKey
}

// MaxAmount returns the spending limit, or nil.
func (s *Signer) MaxAmount() *big.Int {
	return s.maxAmount
}

// CanSign accepts exact-scheme USDC requirements on the signer's network.
// Mint addresses are compared exactly: base58 is case-sensitive.
func (s *Signer) CanSign(req x402.PaymentRequirement) bool {
	return req.Scheme == x402.SchemeExact &&
		req.Network == s.chain.Network &&
		req.Asset == s.chain.USDCAddress
}

// Sign builds the transfer to req.PayTo and signs it as token owner.
func (s *Signer) Sign(ctx context.Context, req x402.PaymentRequirement) (*x402.PaymentPayload, error) {
	if !s.CanSign(req) {
		return nil, x402.ErrNoValidSigner
	}

	amount, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok || amount.Sign() <= 0 || !amount.IsUint64() {
		return nil, x402.ErrInvalidAmount
	}
	if s.maxAmount != nil && amount.Cmp(s.maxAmount) > 0 {
		return nil, x402.ErrAmountExceeded
	}

	mint, err := solana.PublicKeyFromBase58(req.Asset)
	if err != nil {
		return nil, fmt.Errorf("invalid mint address: %w", err)
	}
	recipient, err := solana.PublicKeyFromBase58(req.PayTo)
	if err != nil {
		return nil, fmt.Errorf("invalid recipient address: %w", err)
	}
	feePayer, err := extractFeePayer(req)
	if err != nil {
		return nil, fmt.Errorf("invalid fee payer: %w", err)
	}

	client, err := s.client()
	if err != nil {
		return nil, err
	}
	recent, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, fmt.Errorf("failed to get blockhash: %w", err)
	}

	tx, err := s.buildTransfer(mint, recipient, feePayer, amount.Uint64(), recent.Value.Blockhash)
	if err != nil {
		return nil, err
	}
	encoded, err := tx.ToBase64()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transaction: %w", err)
	}

	raw, err := json.Marshal(x402.SVMPayload{Transaction: encoded})
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

func (s *Signer) client() (RPCClient, error) {
	if s.rpcClient != nil {
		return s.rpcClient, nil
	}
	url, err := s.endpoints.URL(s.chain.Network)
	if err != nil {
		return nil, fmt.Errorf("failed to get RPC URL: %w", err)
	}
	return rpc.New(url), nil
}

// buildTransfer lays out compute limit, compute price, idempotent ATA
// creation for the recipient and TransferChecked, in that order.
func (s *Signer) buildTransfer(mint, recipient, feePayer solana.PublicKey, amount uint64, blockhash solana.Hash) (*solana.Transaction, error) {
	sourceATA, err := solutil.DeriveAssociatedTokenAddress(s.publicKey, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find source ATA: %w", err)
	}
	destATA, err := solutil.DeriveAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to find destination ATA: %w", err)
	}

	createATA, err := solutil.BuildCreateIdempotentATAInstruction(feePayer, recipient, mint)
	if err != nil {
		return nil, fmt.Errorf("failed to build ATA creation instruction: %w", err)
	}
	transfer, err := solutil.BuildTransferCheckedInstruction(solana.TokenProgramID, sourceATA, mint, destATA, s.publicKey, amount, s.chain.Decimals)
	if err != nil {
		return nil, err
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			solutil.BuildSetComputeUnitLimitInstruction(solutil.DefaultComputeUnits),
			solutil.BuildSetComputeUnitPriceInstruction(solutil.DefaultComputeUnitPrice),
			createATA,
			transfer,
		},
		blockhash,
		solana.TransactionPayer(feePayer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction: %w", err)
	}

	// The fee payer signature slot stays empty for the facilitator.
	if _, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(s.publicKey) {
			return &s.privateKey
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return tx, nil
}

func extractFeePayer(req x402.PaymentRequirement) (solana.PublicKey, error) {
	feePayerStr, ok := req.Extra["feePayer"].(string)
	if !ok {
		return solana.PublicKey{}, fmt.Errorf("feePayer not found or not a string in extra field")
	}
	feePayer, err := solana.PublicKeyFromBase58(feePayerStr)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid feePayer address: %w", err)
	}
	return feePayer, nil
}
