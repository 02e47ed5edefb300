package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	x402 "github.com/x402-echo/echo-merchant"
	"github.com/x402-echo/echo-merchant/http/internal/helpers"
	"github.com/x402-echo/echo-merchant/signers/evm"
)

// testClientKey is the Foundry/Anvil first default account private key.
// This is a well-known test key - NEVER use in production.
const testClientKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

type fakeSigner struct {
	network string
	calls   int
}

func (s *fakeSigner) Network() string     { return s.network }
func (s *fakeSigner) MaxAmount() *big.Int { return nil }

func (s *fakeSigner) CanSign(req x402.PaymentRequirement) bool {
	return req.Network == s.network
}

func (s *fakeSigner) Sign(ctx context.Context, req x402.PaymentRequirement) (*x402.PaymentPayload, error) {
	s.calls++
	return &x402.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     s.network,
		Payload:     json.RawMessage(evmInstrument),
	}, nil
}

func TestClient_PaysChallenge(t *testing.T) {
	fac := settlingFacilitator("base-sepolia")
	route := x402.Route{
		Network:     "base-sepolia",
		Price:       "$0.01",
		PayTo:       testPayTo,
		Description: "Access to protected content on base sepolia testnet",
	}
	var served bool
	pipeline := NewPipeline(PipelineConfig{Facilitator: fac})
	server := httptest.NewServer(pipeline.Middleware(route)(contentHandler(&served)))
	defer server.Close()

	signer, err := evm.NewSigner("base-sepolia", testClientKey)
	if err != nil {
		t.Fatal(err)
	}
	var events []x402.PaymentEvent
	client, err := NewClient(
		WithSigner(signer),
		WithPaymentCallback(func(e x402.PaymentEvent) { events = append(events, e) }),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	resp, err := client.Get(server.URL + "/api/base-sepolia/paid-content")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK || !served {
		t.Fatalf("status = %d, served = %v", resp.StatusCode, served)
	}
	if fac.verifyCalls != 1 || fac.settleCalls != 1 {
		t.Errorf("verify/settle calls = %d/%d; want 1/1", fac.verifyCalls, fac.settleCalls)
	}

	settlement := GetSettlement(resp)
	if settlement == nil || !settlement.Success || settlement.Payer != testPayer || settlement.Transaction != "0xsettled" {
		t.Errorf("settlement = %+v", settlement)
	}

	if len(events) != 2 || events[0].Type != x402.PaymentEventAttempt || events[1].Type != x402.PaymentEventSuccess {
		t.Fatalf("events = %+v", events)
	}
	if events[0].Amount != "10000" || events[1].Transaction != "0xsettled" {
		t.Errorf("events = %+v", events)
	}
}

func TestClient_NoMatchingSigner(t *testing.T) {
	pipeline := NewPipeline(PipelineConfig{Facilitator: settlingFacilitator("base")})
	var served bool
	server := httptest.NewServer(pipeline.Middleware(baseRoute())(contentHandler(&served)))
	defer server.Close()

	signer := &fakeSigner{network: "polygon"}
	client, err := NewClient(WithSigner(signer))
	if err != nil {
		t.Fatal(err)
	}

	_, err = client.Get(server.URL)
	if !errors.Is(err, x402.ErrNoValidSigner) {
		t.Errorf("err = %v; want ErrNoValidSigner", err)
	}
	if signer.calls != 0 || served {
		t.Error("nothing should be signed or served")
	}
}

func TestClient_UnpaidResponsePassesThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "free")
	}))
	defer server.Close()

	signer := &fakeSigner{network: "base"}
	client, err := NewClient(WithSigner(signer))
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Get(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "free" || signer.calls != 0 {
		t.Errorf("body = %q, sign calls = %d", body, signer.calls)
	}
	if GetSettlement(resp) != nil {
		t.Error("no settlement expected on a free response")
	}
}

func TestClient_ReplaysBodyOnRetry(t *testing.T) {
	var bodies []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if r.Header.Get(helpers.PaymentHeader) == "" {
			_ = helpers.SendPaymentRequired(w, []x402.PaymentRequirement{{
				Scheme:            "exact",
				Network:           "base",
				MaxAmountRequired: "500000",
				PayTo:             testPayTo,
				Asset:             "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			}}, "X-PAYMENT header is required", "")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	signer := &fakeSigner{network: "base"}
	client, err := NewClient(WithSigner(signer))
	if err != nil {
		t.Fatal(err)
	}

	resp, err := client.Post(server.URL, "application/json", strings.NewReader(`{"amount":0.5}`))
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	if len(bodies) != 2 || bodies[0] != `{"amount":0.5}` || bodies[1] != bodies[0] {
		t.Errorf("bodies = %q", bodies)
	}
	if signer.calls != 1 {
		t.Errorf("sign calls = %d; want 1", signer.calls)
	}
}

func TestSelectSigner_OfferOrder(t *testing.T) {
	base := &fakeSigner{network: "base"}
	polygon := &fakeSigner{network: "polygon"}
	accepts := []x402.PaymentRequirement{{Network: "polygon"}, {Network: "base"}}

	signer, req, err := x402.SelectSigner([]x402.Signer{base, polygon}, accepts)
	if err != nil {
		t.Fatal(err)
	}
	if signer != polygon || req.Network != "polygon" {
		t.Errorf("selected %s for %s; the first offered requirement should win", signer.Network(), req.Network)
	}
}
