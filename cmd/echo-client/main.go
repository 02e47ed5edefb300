// Command echo-client fetches an x402-paywalled URL, paying the 402
// challenge with a local EVM or Solana key.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	x402 "github.com/x402-echo/echo-merchant"
	"github.com/x402-echo/echo-merchant/encoding"
	x402http "github.com/x402-echo/echo-merchant/http"
	"github.com/x402-echo/echo-merchant/signers/evm"
	"github.com/x402-echo/echo-merchant/signers/svm"
)

func main() {
	fs := flag.NewFlagSet("echo-client", flag.ExitOnError)
	network := fs.String("network", "base-sepolia", "Network to pay on (e.g. base, base-sepolia, solana-devnet)")
	key := fs.String("key", "", "Private key (hex for EVM, base58 for Solana)")
	keyFile := fs.String("key-file", "", "Solana keygen JSON file (alternative to --key for Solana)")
	url := fs.String("url", "", "URL to fetch (must be paywalled with x402 v1)")
	maxAmount := fs.String("max-amount", "", "Maximum amount per call in atomic units (optional)")
	rpcURL := fs.String("rpc", "", "Solana RPC URL (defaults to the public endpoint)")
	method := fs.String("method", http.MethodGet, "HTTP method")
	data := fs.String("data", "", "Request body")
	timeout := fs.Duration("timeout", 2*time.Minute, "Overall request timeout")
	verbose := fs.Bool("verbose", false, "Print payment events and the decoded payment header")

	_ = fs.Parse(os.Args[1:])

	if *key == "" && *keyFile == "" {
		fmt.Println("Error: --key or --key-file is required")
		fmt.Println()
		fs.PrintDefaults()
		os.Exit(1)
	}
	if *url == "" {
		fmt.Println("Error: --url is required")
		fmt.Println()
		fs.PrintDefaults()
		os.Exit(1)
	}

	chain, err := x402.GetChainConfig(*network)
	if err != nil {
		log.Fatalf("Invalid network: %v", err)
	}

	var limit *big.Int
	if *maxAmount != "" {
		var ok bool
		limit, ok = new(big.Int).SetString(*maxAmount, 10)
		if !ok {
			log.Fatalf("Invalid max amount: %s", *maxAmount)
		}
	}

	signer, address, err := newSigner(chain, *key, *keyFile, *rpcURL, limit)
	if err != nil {
		log.Fatalf("Failed to create signer: %v", err)
	}
	fmt.Printf("Paying from %s on %s\n", address, chain.Network)
	fmt.Printf("Token: %s\n", chain.USDCAddress)

	opts := []x402http.ClientOption{
		x402http.WithHTTPClient(&http.Client{Timeout: *timeout}),
		x402http.WithSigner(signer),
	}
	if *verbose {
		opts = append(opts, x402http.WithPaymentCallback(printEvent))
	}
	client, err := x402http.NewClient(opts...)
	if err != nil {
		log.Fatalf("Failed to create client: %v", err)
	}

	var body io.Reader
	if *data != "" {
		body = strings.NewReader(*data)
	}
	req, err := http.NewRequest(strings.ToUpper(*method), *url, body)
	if err != nil {
		log.Fatalf("Invalid request: %v", err)
	}
	if *data != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	fmt.Printf("\nFetching: %s %s\n", req.Method, *url)
	resp, err := client.Do(req)
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if *verbose && resp.Request != nil {
		if header := resp.Request.Header.Get("X-PAYMENT"); header != "" {
			printPaymentHeader(header)
		}
	}

	fmt.Printf("\nStatus: %s\n", resp.Status)
	if settlement := x402http.GetSettlement(resp); settlement != nil {
		fmt.Println("\n=== Payment Settled ===")
		fmt.Printf("Transaction: %s\n", settlement.Transaction)
		fmt.Printf("Network: %s\n", settlement.Network)
		fmt.Printf("Payer: %s\n", settlement.Payer)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Failed to read response: %v", err)
	}
	fmt.Println("\n=== Response ===")
	fmt.Println(string(respBody))

	if resp.StatusCode >= 400 {
		os.Exit(1)
	}
}

func newSigner(chain x402.ChainConfig, key, keyFile, rpcURL string, limit *big.Int) (x402.Signer, string, error) {
	switch chain.Family {
	case x402.FamilySVM:
		var opts []svm.Option
		if limit != nil {
			opts = append(opts, svm.WithMaxAmount(limit))
		}
		if rpcURL != "" {
			opts = append(opts, svm.WithRPCURL(rpcURL))
		}
		var (
			signer *svm.Signer
			err    error
		)
		if keyFile != "" {
			signer, err = svm.NewSignerFromKeygenFile(chain.Network, keyFile, opts...)
		} else {
			signer, err = svm.NewSigner(chain.Network, key, opts...)
		}
		if err != nil {
			return nil, "", err
		}
		return signer, signer.Address().String(), nil

	case x402.FamilyEVM:
		if key == "" {
			return nil, "", fmt.Errorf("--key is required for %s", chain.Network)
		}
		var opts []evm.Option
		if limit != nil {
			opts = append(opts, evm.WithMaxAmount(limit))
		}
		signer, err := evm.NewSigner(chain.Network, key, opts...)
		if err != nil {
			return nil, "", err
		}
		return signer, signer.Address().Hex(), nil

	case x402.FamilyUnknown:
	}
	return nil, "", fmt.Errorf("%w: %s", x402.ErrUnsupportedNetwork, chain.Network)
}

func printEvent(e x402.PaymentEvent) {
	line := fmt.Sprintf("[%s] %s %s %s on %s", e.Type, e.Stage, e.Amount, e.Asset, e.Network)
	if e.Transaction != "" {
		line += " tx=" + e.Transaction
	}
	if e.Error != nil {
		line += " error=" + e.Error.Error()
	}
	if e.Duration > 0 {
		line += " (" + e.Duration.String() + ")"
	}
	fmt.Println(line)
}

func printPaymentHeader(header string) {
	fmt.Println("\n=== DEBUG: Payment Header ===")
	fmt.Printf("Length: %d bytes\n", len(header))
	payment, err := encoding.DecodePayment(header)
	if err != nil {
		fmt.Printf("Failed to decode: %v\n", err)
		return
	}
	pretty, err := json.MarshalIndent(payment, "", "  ")
	if err != nil {
		fmt.Printf("Failed to format: %v\n", err)
		return
	}
	fmt.Println(string(pretty))
}
