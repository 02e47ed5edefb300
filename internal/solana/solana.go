// Package solana holds the SPL token and compute budget instruction builders
// shared by the Solana parser, refunder and test signer.
package solana

import (
	"encoding/binary"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"

	x402 "github.com/x402-echo/echo-merchant"
)

// ComputeBudgetProgramID is the Solana Compute Budget program ID.
var ComputeBudgetProgramID = solana.MustPublicKeyFromBase58("ComputeBudget111111111111111111111111111111")

// Token2022ProgramID is the SPL Token-2022 program ID.
var Token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

// DefaultComputeUnits is the default compute unit limit for transactions.
const DefaultComputeUnits uint32 = 200_000

// DefaultComputeUnitPrice is the default compute unit price in microlamports.
const DefaultComputeUnitPrice uint64 = 10_000

// TransferCheckedOpcode is the SPL token instruction discriminator for TransferChecked.
const TransferCheckedOpcode byte = 12

// IsTokenProgram reports whether id is the SPL Token or Token-2022 program.
func IsTokenProgram(id solana.PublicKey) bool {
	return id.Equals(solana.TokenProgramID) || id.Equals(Token2022ProgramID)
}

// BuildTransferCheckedInstruction creates a TransferChecked instruction owned
// by tokenProgram. The zero key selects the classic SPL Token program.
func BuildTransferCheckedInstruction(
	tokenProgram solana.PublicKey,
	source, mint, destination solana.PublicKey,
	owner solana.PublicKey,
	amount uint64,
	decimals uint8,
) (solana.Instruction, error) {
	ix := token.NewTransferCheckedInstructionBuilder().
		SetAmount(amount).
		SetDecimals(decimals).
		SetSourceAccount(source).
		SetDestinationAccount(destination).
		SetMintAccount(mint).
		SetOwnerAccount(owner).
		Build()

	if tokenProgram.IsZero() || tokenProgram.Equals(solana.TokenProgramID) {
		return ix, nil
	}

	// Token-2022 shares the instruction layout; only the program id differs.
	data, err := ix.Data()
	if err != nil {
		return nil, fmt.Errorf("failed to encode transfer: %w", err)
	}
	return solana.NewInstruction(tokenProgram, ix.Accounts(), data), nil
}

// BuildSetComputeUnitLimitInstruction creates a SetComputeUnitLimit instruction.
// Format: [2, units (u32 little-endian)]
func BuildSetComputeUnitLimitInstruction(units uint32) solana.Instruction {
	data := make([]byte, 5)
	data[0] = 2
	binary.LittleEndian.PutUint32(data[1:], units)

	return solana.NewInstruction(
		ComputeBudgetProgramID,
		solana.AccountMetaSlice{},
		data,
	)
}

// BuildSetComputeUnitPriceInstruction creates a SetComputeUnitPrice instruction.
// Format: [3, microlamports (u64 little-endian)]
func BuildSetComputeUnitPriceInstruction(microlamports uint64) solana.Instruction {
	data := make([]byte, 9)
	data[0] = 3
	binary.LittleEndian.PutUint64(data[1:], microlamports)

	return solana.NewInstruction(
		ComputeBudgetProgramID,
		solana.AccountMetaSlice{},
		data,
	)
}

// DeriveAssociatedTokenAddress derives an Associated Token Account (ATA) address.
func DeriveAssociatedTokenAddress(owner, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive ATA: %w", err)
	}
	return ata, nil
}

// BuildCreateIdempotentATAInstruction creates an idempotent Associated Token
// Account creation instruction (index 1), which succeeds even if the account
// already exists.
//
// Accounts:
// [0] payer (signer, writable)
// [1] associatedToken (writable)
// [2] owner
// [3] mint
// [4] systemProgram
// [5] tokenProgram
func BuildCreateIdempotentATAInstruction(payer, owner, mint solana.PublicKey) (solana.Instruction, error) {
	ata, err := DeriveAssociatedTokenAddress(owner, mint)
	if err != nil {
		return nil, err
	}

	accounts := solana.AccountMetaSlice{
		{PublicKey: payer, IsSigner: true, IsWritable: true},
		{PublicKey: ata, IsSigner: false, IsWritable: true},
		{PublicKey: owner, IsSigner: false, IsWritable: false},
		{PublicKey: mint, IsSigner: false, IsWritable: false},
		{PublicKey: solana.SystemProgramID, IsSigner: false, IsWritable: false},
		{PublicKey: solana.TokenProgramID, IsSigner: false, IsWritable: false},
	}

	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		accounts,
		[]byte{1},
	), nil
}

// RPCEndpoints maps Solana network names to RPC URLs.
type RPCEndpoints map[string]string

// URL returns the configured endpoint for network, falling back to the
// public endpoint in the chain catalog.
func (e RPCEndpoints) URL(network string) (string, error) {
	if url := e[network]; url != "" {
		return url, nil
	}
	cfg, err := x402.GetChainConfig(network)
	if err != nil {
		return "", err
	}
	if cfg.Family != x402.FamilySVM {
		return "", fmt.Errorf("%w: %s is not a Solana network", x402.ErrUnsupportedNetwork, network)
	}
	return cfg.RPCURL, nil
}
