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

// RPCClient is the Solana RPC surface needed to broadcast a refund.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
}

// Refunder sends settled Solana payments back to the payer from the
// merchant's token account. The merchant key signs as token owner and pays
// the network fee.
type Refunder struct {
	key       solana.PrivateKey
	endpoints solutil.RPCEndpoints
	client    RPCClient
}

// RefunderOption configures a Refunder.
type RefunderOption func(*Refunder)

// WithRPCClient makes the refunder use client for every network.
func WithRPCClient(client RPCClient) RefunderOption {
	return func(r *Refunder) {
		r.client = client
	}
}

// NewRefunder creates a Refunder signing with key.
func NewRefunder(key solana.PrivateKey, endpoints solutil.RPCEndpoints, opts ...RefunderOption) (*Refunder, error) {
	if len(key) != 64 {
		return nil, fmt.Errorf("%w: solana key must be 64 bytes", x402.ErrInvalidKey)
	}
	r := &Refunder{key: key, endpoints: endpoints}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Address returns the merchant public key used for refunds.
func (r *Refunder) Address() solana.PublicKey {
	return r.key.PublicKey()
}

// Refund transfers requirement.MaxAmountRequired of the mint in svmCtx to
// the payer's token account and returns the transaction signature.
func (r *Refunder) Refund(ctx context.Context, recipient string, requirement x402.PaymentRequirement, svmCtx *x402.SvmContext) (string, error) {
	if svmCtx == nil {
		return "", fmt.Errorf("%w: missing Solana refund context", x402.ErrRefundFailed)
	}
	if _, err := solana.PublicKeyFromBase58(recipient); err != nil {
		return "", fmt.Errorf("%w: invalid recipient %q: %v", x402.ErrRefundFailed, recipient, err)
	}

	amount, ok := new(big.Int).SetString(requirement.MaxAmountRequired, 10)
	if !ok || amount.Sign() <= 0 || !amount.IsUint64() {
		return "", fmt.Errorf("%w: invalid amount %q", x402.ErrRefundFailed, requirement.MaxAmountRequired)
	}

	mint, err := solana.PublicKeyFromBase58(svmCtx.Mint)
	if err != nil {
		return "", fmt.Errorf("%w: invalid mint: %v", x402.ErrRefundFailed, err)
	}
	source, err := solana.PublicKeyFromBase58(svmCtx.SourceTokenAccount)
	if err != nil {
		return "", fmt.Errorf("%w: invalid source token account: %v", x402.ErrRefundFailed, err)
	}
	destination, err := solana.PublicKeyFromBase58(svmCtx.DestinationTokenAccount)
	if err != nil {
		return "", fmt.Errorf("%w: invalid destination token account: %v", x402.ErrRefundFailed, err)
	}
	tokenProgram := solana.TokenProgramID
	if svmCtx.TokenProgram != "" {
		tokenProgram, err = solana.PublicKeyFromBase58(svmCtx.TokenProgram)
		if err != nil {
			return "", fmt.Errorf("%w: invalid token program: %v", x402.ErrRefundFailed, err)
		}
	}
	if !solutil.IsTokenProgram(tokenProgram) {
		return "", fmt.Errorf("%w: %s is not a token program", x402.ErrRefundFailed, tokenProgram)
	}

	client, err := r.rpcClient(requirement.Network)
	if err != nil {
		return "", err
	}

	recent, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", fmt.Errorf("%w: failed to get blockhash: %v", x402.ErrRefundFailed, err)
	}
	if recent == nil || recent.Value == nil {
		return "", fmt.Errorf("%w: empty blockhash response", x402.ErrRefundFailed)
	}

	tx, err := r.buildTransfer(tokenProgram, source, mint, destination, amount.Uint64(), svmCtx.Decimals, recent.Value.Blockhash)
	if err != nil {
		return "", err
	}

	sig, err := client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to send transaction: %v", x402.ErrRefundFailed, err)
	}
	return sig.String(), nil
}

func (r *Refunder) buildTransfer(
	tokenProgram, source, mint, destination solana.PublicKey,
	amount uint64,
	decimals uint8,
	blockhash solana.Hash,
) (*solana.Transaction, error) {
	merchant := r.key.PublicKey()

	transfer, err := solutil.BuildTransferCheckedInstruction(tokenProgram, source, mint, destination, merchant, amount, decimals)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrRefundFailed, err)
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			solutil.BuildSetComputeUnitLimitInstruction(solutil.DefaultComputeUnits),
			solutil.BuildSetComputeUnitPriceInstruction(solutil.DefaultComputeUnitPrice),
			transfer,
		},
		blockhash,
		solana.TransactionPayer(merchant),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create transaction: %v", x402.ErrRefundFailed, err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(merchant) {
			return &r.key
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("%w: failed to sign transaction: %v", x402.ErrRefundFailed, err)
	}
	return tx, nil
}

func (r *Refunder) rpcClient(network string) (RPCClient, error) {
	if r.client != nil {
		return r.client, nil
	}
	url, err := r.endpoints.URL(network)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrRefundFailed, err)
	}
	return rpc.New(url), nil
}

// LoadPrivateKey parses a base58-encoded Solana private key.
func LoadPrivateKey(base58Key string) (solana.PrivateKey, error) {
	key, err := solana.PrivateKeyFromBase58(base58Key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrInvalidKey, err)
	}
	return key, nil
}

// LoadKeygenFile reads a solana-keygen JSON file: an array of 64 bytes.
func LoadKeygenFile(path string) (solana.PrivateKey, error) {
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
	return solana.PrivateKey(keyBytes), nil
}
