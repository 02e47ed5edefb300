// Package svm recovers payer information from settled Solana payments and
// sends refunds back to the payer.
package svm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	addresslookuptable "github.com/gagliardetto/solana-go/programs/address-lookup-table"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	x402 "github.com/x402-echo/echo-merchant"
	solutil "github.com/x402-echo/echo-merchant/internal/solana"
)

// AccountInfoClient is the read-only RPC surface the parser needs to resolve
// address lookup tables.
type AccountInfoClient interface {
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
}

// Parser extracts the payer and refund context from the client-built
// transaction carried in a Solana payment payload.
type Parser struct {
	endpoints solutil.RPCEndpoints
	client    AccountInfoClient
}

// ParserOption configures a Parser.
type ParserOption func(*Parser)

// WithAccountInfoClient makes the parser use client for every network
// instead of dialing the configured endpoint.
func WithAccountInfoClient(client AccountInfoClient) ParserOption {
	return func(p *Parser) {
		p.client = client
	}
}

// NewParser creates a Parser that resolves lookup tables against endpoints,
// falling back to the public RPC for each network.
func NewParser(endpoints solutil.RPCEndpoints, opts ...ParserOption) *Parser {
	p := &Parser{endpoints: endpoints}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse decodes the payment transaction and returns the token owner that
// signed the transfer, together with the accounts a refund must use.
//
// The transfer is expected at index 3 when the transaction has more than
// three instructions (compute limit, compute price, create ATA, transfer)
// and at index 2 otherwise. When that instruction is not a TransferChecked
// the first TransferChecked owned by a token program is used instead.
func (p *Parser) Parse(ctx context.Context, payload x402.PaymentPayload, network string) (*x402.ResolvedPayer, error) {
	if x402.FamilyOf(network) != x402.FamilySVM {
		return nil, fmt.Errorf("%w: %w: %s is not a Solana network", x402.ErrParse, x402.ErrUnsupportedNetwork, network)
	}

	svmPayload, err := payload.SVM()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrParse, err)
	}

	var tx solana.Transaction
	if err := tx.UnmarshalBase64(svmPayload.Transaction); err != nil {
		return nil, fmt.Errorf("%w: failed to decode transaction: %v", x402.ErrParse, err)
	}

	keys, err := p.accountKeys(ctx, &tx, network)
	if err != nil {
		return nil, err
	}

	instructions := tx.Message.Instructions
	index := transferIndex(len(instructions))
	if index >= len(instructions) {
		return nil, fmt.Errorf("%w: transaction has %d instructions, need at least %d", x402.ErrParse, len(instructions), index+1)
	}

	transfer, programID, err := decodeTransferChecked(instructions[index], keys)
	if err != nil {
		slog.Default().Warn("transfer not at expected index, scanning instructions",
			"network", network, "index", index, "instructions", len(instructions), "error", err)
		transfer, programID, err = scanTransferChecked(instructions, keys)
		if err != nil {
			return nil, err
		}
	}

	owner := transfer.GetOwnerAccount()
	source := transfer.GetSourceAccount()
	destination := transfer.GetDestinationAccount()
	mint := transfer.GetMintAccount()
	if owner == nil || source == nil || destination == nil || mint == nil || transfer.Decimals == nil {
		return nil, fmt.Errorf("%w: incomplete TransferChecked instruction", x402.ErrParse)
	}

	return &x402.ResolvedPayer{
		Payer: owner.PublicKey.String(),
		SvmContext: &x402.SvmContext{
			Mint:                    mint.PublicKey.String(),
			SourceTokenAccount:      destination.PublicKey.String(),
			DestinationTokenAccount: source.PublicKey.String(),
			Decimals:                *transfer.Decimals,
			TokenProgram:            programID.String(),
		},
	}, nil
}

func transferIndex(n int) int {
	if n > 3 {
		return 3
	}
	return 2
}

// accountKeys returns the static keys followed by any keys loaded through
// address lookup tables, in the order compiled instructions index them.
func (p *Parser) accountKeys(ctx context.Context, tx *solana.Transaction, network string) (solana.PublicKeySlice, error) {
	lookups := tx.Message.GetAddressTableLookups()
	if !tx.Message.IsVersioned() || len(lookups) == 0 {
		return tx.Message.AccountKeys, nil
	}

	client, err := p.rpcClient(network)
	if err != nil {
		return nil, err
	}

	tables := make(map[solana.PublicKey]solana.PublicKeySlice, len(lookups))
	for _, lookup := range lookups {
		info, err := client.GetAccountInfo(ctx, lookup.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("%w: fetching lookup table %s: %v", x402.ErrParse, lookup.AccountKey, err)
		}
		if info == nil || info.Value == nil || info.Value.Data == nil {
			return nil, fmt.Errorf("%w: lookup table %s not found", x402.ErrParse, lookup.AccountKey)
		}
		state, err := addresslookuptable.DecodeAddressLookupTableState(info.Value.Data.GetBinary())
		if err != nil {
			return nil, fmt.Errorf("%w: decoding lookup table %s: %v", x402.ErrParse, lookup.AccountKey, err)
		}
		tables[lookup.AccountKey] = state.Addresses
	}

	if err := tx.Message.SetAddressTables(tables); err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrParse, err)
	}
	keys, err := tx.Message.GetAllKeys()
	if err != nil {
		return nil, fmt.Errorf("%w: resolving lookup tables: %v", x402.ErrParse, err)
	}
	return keys, nil
}

func (p *Parser) rpcClient(network string) (AccountInfoClient, error) {
	if p.client != nil {
		return p.client, nil
	}
	url, err := p.endpoints.URL(network)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", x402.ErrParse, err)
	}
	return rpc.New(url), nil
}

func decodeTransferChecked(ix solana.CompiledInstruction, keys solana.PublicKeySlice) (*token.TransferChecked, solana.PublicKey, error) {
	if int(ix.ProgramIDIndex) >= len(keys) {
		return nil, solana.PublicKey{}, fmt.Errorf("%w: program index %d out of range", x402.ErrParse, ix.ProgramIDIndex)
	}
	programID := keys[ix.ProgramIDIndex]
	if !solutil.IsTokenProgram(programID) {
		return nil, programID, fmt.Errorf("%w: instruction program %s is not a token program", x402.ErrParse, programID)
	}
	if len(ix.Data) == 0 || ix.Data[0] != solutil.TransferCheckedOpcode {
		return nil, programID, fmt.Errorf("%w: instruction is not TransferChecked", x402.ErrParse)
	}

	metas := make([]*solana.AccountMeta, 0, len(ix.Accounts))
	for _, idx := range ix.Accounts {
		if int(idx) >= len(keys) {
			return nil, programID, fmt.Errorf("%w: account index %d out of range", x402.ErrParse, idx)
		}
		metas = append(metas, solana.Meta(keys[idx]))
	}

	decoded, err := token.DecodeInstruction(metas, ix.Data)
	if err != nil {
		return nil, programID, fmt.Errorf("%w: decoding token instruction: %v", x402.ErrParse, err)
	}
	transfer, ok := decoded.Impl.(*token.TransferChecked)
	if !ok {
		return nil, programID, fmt.Errorf("%w: unexpected token instruction %T", x402.ErrParse, decoded.Impl)
	}
	return transfer, programID, nil
}

func scanTransferChecked(instructions []solana.CompiledInstruction, keys solana.PublicKeySlice) (*token.TransferChecked, solana.PublicKey, error) {
	for _, ix := range instructions {
		transfer, programID, err := decodeTransferChecked(ix, keys)
		if err == nil {
			return transfer, programID, nil
		}
	}
	return nil, solana.PublicKey{}, fmt.Errorf("%w: no TransferChecked instruction in transaction", x402.ErrParse)
}
