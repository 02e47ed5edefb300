package x402

import (
	"fmt"
	"sort"

	"github.com/gagliardetto/solana-go/rpc"
)

// ChainFamily is the closed set of chain families the merchant can settle on.
type ChainFamily int

const (
	// FamilyUnknown represents an unrecognized network.
	FamilyUnknown ChainFamily = iota
	// FamilyEVM represents account/signature based EVM chains.
	FamilyEVM
	// FamilySVM represents instruction based Solana chains.
	FamilySVM
)

// String returns the family name used in logs.
func (f ChainFamily) String() string {
	switch f {
	case FamilyEVM:
		return "evm"
	case FamilySVM:
		return "svm"
	default:
		return "unknown"
	}
}

// Legacy x402 v1 network names.
const (
	// EVM mainnets
	NetworkBase      = "base"
	NetworkAvalanche = "avalanche"
	NetworkSei       = "sei"
	NetworkPolygon   = "polygon"
	NetworkPeaq      = "peaq"

	// EVM testnets
	NetworkBaseSepolia   = "base-sepolia"
	NetworkAvalancheFuji = "avalanche-fuji"
	NetworkSeiTestnet    = "sei-testnet"
	NetworkPolygonAmoy   = "polygon-amoy"

	// Solana
	NetworkSolana       = "solana"
	NetworkSolanaDevnet = "solana-devnet"
)

// ChainConfig holds the static facts about one network.
type ChainConfig struct {
	// Network is the legacy network name.
	Network string

	// Family selects the EVM or Solana code paths.
	Family ChainFamily

	// ChainID is the EIP-155 chain id (zero for Solana).
	ChainID int64

	// Testnet marks networks that move no real value.
	Testnet bool

	// USDCAddress is the official Circle USDC contract or mint address.
	USDCAddress string

	// Decimals is the number of decimal places for USDC (always 6).
	Decimals uint8

	// EIP3009Name is the EIP-712 domain "name" (empty for Solana).
	EIP3009Name string

	// EIP3009Version is the EIP-712 domain "version" (empty for Solana).
	EIP3009Version string

	// RPCURL is the default public RPC endpoint.
	RPCURL string
}

var chainConfigByNetwork = map[string]ChainConfig{
	NetworkBase: {
		Network: NetworkBase, Family: FamilyEVM, ChainID: 8453,
		USDCAddress: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6,
		EIP3009Name: "USD Coin", EIP3009Version: "2",
		RPCURL: "https://mainnet.base.org",
	},
	NetworkBaseSepolia: {
		Network: NetworkBaseSepolia, Family: FamilyEVM, ChainID: 84532, Testnet: true,
		USDCAddress: "0x036CbD53842c5426634e7929541eC2318f3dCF7e", Decimals: 6,
		EIP3009Name: "USDC", EIP3009Version: "2",
		RPCURL: "https://sepolia.base.org",
	},
	NetworkPolygon: {
		Network: NetworkPolygon, Family: FamilyEVM, ChainID: 137,
		USDCAddress: "0x3c499c542cEF5E3811e1192ce70d8cC03d5c3359", Decimals: 6,
		EIP3009Name: "USD Coin", EIP3009Version: "2",
		RPCURL: "https://polygon-rpc.com",
	},
	NetworkPolygonAmoy: {
		Network: NetworkPolygonAmoy, Family: FamilyEVM, ChainID: 80002, Testnet: true,
		USDCAddress: "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582", Decimals: 6,
		EIP3009Name: "USDC", EIP3009Version: "2",
		RPCURL: "https://rpc-amoy.polygon.technology",
	},
	NetworkAvalanche: {
		Network: NetworkAvalanche, Family: FamilyEVM, ChainID: 43114,
		USDCAddress: "0xB97EF9Ef8734C71904D8002F8b6Bc66Dd9c48a6E", Decimals: 6,
		EIP3009Name: "USD Coin", EIP3009Version: "2",
		RPCURL: "https://api.avax.network/ext/bc/C/rpc",
	},
	NetworkAvalancheFuji: {
		Network: NetworkAvalancheFuji, Family: FamilyEVM, ChainID: 43113, Testnet: true,
		USDCAddress: "0x5425890298aed601595a70AB815c96711a31Bc65", Decimals: 6,
		EIP3009Name: "USD Coin", EIP3009Version: "2",
		RPCURL: "https://api.avax-test.network/ext/bc/C/rpc",
	},
	NetworkSei: {
		Network: NetworkSei, Family: FamilyEVM, ChainID: 1329,
		USDCAddress: "0xe15fC38F6D8c56aF07bbCBe3BAf5708A2Bf42392", Decimals: 6,
		EIP3009Name: "USDC", EIP3009Version: "2",
		RPCURL: "https://evm-rpc.sei-apis.com",
	},
	NetworkSeiTestnet: {
		Network: NetworkSeiTestnet, Family: FamilyEVM, ChainID: 1328, Testnet: true,
		USDCAddress: "0x4fCF1784B31630811181f670Aea7A7bEF803eaED", Decimals: 6,
		EIP3009Name: "USDC", EIP3009Version: "2",
		RPCURL: "https://evm-rpc-testnet.sei-apis.com",
	},
	NetworkPeaq: {
		Network: NetworkPeaq, Family: FamilyEVM, ChainID: 3338,
		USDCAddress: "0xbbA60da06c2c5424f03f7434542280FCAd453d10", Decimals: 6,
		EIP3009Name: "USDC", EIP3009Version: "2",
		RPCURL: "https://peaq.api.onfinality.io/public",
	},
	NetworkSolana: {
		Network: NetworkSolana, Family: FamilySVM,
		USDCAddress: "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v", Decimals: 6,
		RPCURL: rpc.MainNetBeta_RPC,
	},
	NetworkSolanaDevnet: {
		Network: NetworkSolanaDevnet, Family: FamilySVM, Testnet: true,
		USDCAddress: "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU", Decimals: 6,
		RPCURL: rpc.DevNet_RPC,
	},
}

// GetChainConfig returns the configuration for a legacy network name.
func GetChainConfig(network string) (ChainConfig, error) {
	cfg, ok := chainConfigByNetwork[network]
	if !ok {
		return ChainConfig{}, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, network)
	}
	return cfg, nil
}

// FamilyOf returns the chain family of a network, or FamilyUnknown.
func FamilyOf(network string) ChainFamily {
	return chainConfigByNetwork[network].Family
}

// IsTestnet reports whether the network is a test network.
func IsTestnet(network string) bool {
	return chainConfigByNetwork[network].Testnet
}

// Networks returns every supported network name in sorted order.
func Networks() []string {
	names := make([]string, 0, len(chainConfigByNetwork))
	for name := range chainConfigByNetwork {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
