// Package evm sends settled EVM payments back to the payer as a plain ERC-20
// transfer from the merchant wallet.
package evm

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	x402 "github.com/x402-echo/echo-merchant"
)

const erc20TransferABI = `[{"constant":false,"inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}]`

var erc20ABI = mustParseABI(erc20TransferABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Client is the subset of ethclient.Client used to broadcast a refund.
type Client interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
}

// Refunder signs and broadcasts ERC-20 refunds with the merchant key.
type Refunder struct {
	key     *ecdsa.PrivateKey
	address common.Address
	rpcURLs map[string]string
	client  Client
}

// Option configures a Refunder.
type Option func(*Refunder)

// WithClient makes the refunder use client for every network instead of
// dialing an RPC endpoint.
func WithClient(client Client) Option {
	return func(r *Refunder) {
		r.client = client
	}
}

// WithRPCURLs overrides the catalog RPC endpoint per network.
func WithRPCURLs(urls map[string]string) Option {
	return func(r *Refunder) {
		r.rpcURLs = urls
	}
}

// NewRefunder creates a Refunder signing with key.
func NewRefunder(key *ecdsa.PrivateKey, opts ...Option) (*Refunder, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: missing EVM key", x402.ErrInvalidKey)
	}
	r := &Refunder{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Address returns the merchant address refunds are sent from.
func (r *Refunder) Address() common.Address {
	return r.address
}

// Refund transfers requirement.MaxAmountRequired of requirement.Asset to
// recipient and returns the transaction hash.
func (r *Refunder) Refund(ctx context.Context, recipient string, requirement x402.PaymentRequirement) (string, error) {
	cfg, err := x402.GetChainConfig(requirement.Network)
	if err != nil {
		return "", fmt.Errorf("%w: %w", x402.ErrRefundFailed, err)
	}
	if cfg.Family != x402.FamilyEVM {
		return "", fmt.Errorf("%w: %s is not an EVM network", x402.ErrRefundFailed, requirement.Network)
	}
	if !common.IsHexAddress(recipient) {
		return "", fmt.Errorf("%w: invalid recipient %q", x402.ErrRefundFailed, recipient)
	}
	if !common.IsHexAddress(requirement.Asset) {
		return "", fmt.Errorf("%w: invalid asset %q", x402.ErrRefundFailed, requirement.Asset)
	}
	amount, ok := new(big.Int).SetString(requirement.MaxAmountRequired, 10)
	if !ok || amount.Sign() <= 0 {
		return "", fmt.Errorf("%w: invalid amount %q", x402.ErrRefundFailed, requirement.MaxAmountRequired)
	}

	data, err := erc20ABI.Pack("transfer", common.HexToAddress(recipient), amount)
	if err != nil {
		return "", fmt.Errorf("%w: failed to pack transfer: %v", x402.ErrRefundFailed, err)
	}

	client, closeFn, err := r.dial(ctx, requirement.Network, cfg.RPCURL)
	if err != nil {
		return "", err
	}
	defer closeFn()

	token := common.HexToAddress(requirement.Asset)

	nonce, err := client.PendingNonceAt(ctx, r.address)
	if err != nil {
		return "", fmt.Errorf("%w: failed to get nonce: %v", x402.ErrRefundFailed, err)
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: failed to get gas price: %v", x402.ErrRefundFailed, err)
	}
	gas, err := client.EstimateGas(ctx, ethereum.CallMsg{
		From: r.address,
		To:   &token,
		Data: data,
	})
	if err != nil {
		return "", fmt.Errorf("%w: failed to estimate gas: %v", x402.ErrRefundFailed, err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       &token,
		Value:    big.NewInt(0),
		Data:     data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(cfg.ChainID)), r.key)
	if err != nil {
		return "", fmt.Errorf("%w: failed to sign transaction: %v", x402.ErrRefundFailed, err)
	}

	if err := client.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("%w: failed to send transaction: %v", x402.ErrRefundFailed, err)
	}
	return signed.Hash().Hex(), nil
}

func (r *Refunder) dial(ctx context.Context, network, fallback string) (Client, func(), error) {
	if r.client != nil {
		return r.client, func() {}, nil
	}
	url := r.rpcURLs[network]
	if url == "" {
		url = fallback
	}
	if url == "" {
		return nil, nil, fmt.Errorf("%w: no RPC endpoint for %s", x402.ErrRefundFailed, network)
	}
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: failed to dial %s: %v", x402.ErrRefundFailed, network, err)
	}
	return client, client.Close, nil
}

// LoadPrivateKey parses a hex-encoded secp256k1 key, with or without 0x.
func LoadPrivateKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, x402.ErrInvalidKey
	}
	return key, nil
}
