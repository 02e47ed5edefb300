package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	x402 "github.com/x402-echo/echo-merchant"
	"github.com/x402-echo/echo-merchant/encoding"
	"github.com/x402-echo/echo-merchant/http/internal/helpers"
	"github.com/x402-echo/echo-merchant/refund"
)

const (
	testPayer    = "0xABC0000000000000000000000000000000000001"
	testPayTo    = "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	testSVMPayTo = "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"
	testFeePayer = "2wKupLR9q6wXYppw8Gr2NvWxKBUqm4PPJKkQfoxHDBg4"
)

// fakeFacilitator records calls and answers from canned responses.
type fakeFacilitator struct {
	mu sync.Mutex

	verifyResp *x402.VerifyResponse
	verifyErr  error
	settleResp *x402.SettlementResponse
	settleErr  error
	supported  *x402.SupportedResponse

	verifyCalls    int
	settleCalls    int
	supportedCalls int
	settleCtx      context.Context
}

func (f *fakeFacilitator) Verify(ctx context.Context, payload x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.VerifyResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.verifyCalls++
	return f.verifyResp, f.verifyErr
}

func (f *fakeFacilitator) Settle(ctx context.Context, payload x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settleCalls++
	f.settleCtx = ctx
	return f.settleResp, f.settleErr
}

func (f *fakeFacilitator) Supported(ctx context.Context) (*x402.SupportedResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.supportedCalls++
	if f.supported == nil {
		return &x402.SupportedResponse{}, nil
	}
	return f.supported, nil
}

func settlingFacilitator(network string) *fakeFacilitator {
	return &fakeFacilitator{
		verifyResp: &x402.VerifyResponse{IsValid: true, Payer: testPayer},
		settleResp: &x402.SettlementResponse{
			Success:     true,
			Transaction: "0xsettled",
			Network:     network,
			Payer:       testPayer,
		},
		supported: &x402.SupportedResponse{Kinds: []x402.SupportedKind{
			{X402Version: 1, Scheme: "exact", Network: "solana-devnet", Extra: map[string]interface{}{"feePayer": testFeePayer}},
		}},
	}
}

type fakeRefunds struct {
	result refund.Result
	calls  []refund.Request
}

func (f *fakeRefunds) Dispatch(ctx context.Context, req refund.Request) refund.Result {
	f.calls = append(f.calls, req)
	return f.result
}

type fakeParser struct {
	resolved *x402.ResolvedPayer
	err      error
	calls    int
}

func (f *fakeParser) Parse(ctx context.Context, payload x402.PaymentPayload, network string) (*x402.ResolvedPayer, error) {
	f.calls++
	return f.resolved, f.err
}

func baseRoute() x402.Route {
	return x402.Route{
		Network:     "base",
		Price:       "$0.01",
		PayTo:       testPayTo,
		Description: "Access to protected content on base mainnet",
	}
}

func paymentHeader(t *testing.T, network string, payload string) string {
	t.Helper()
	encoded, err := encoding.EncodePayment(x402.PaymentPayload{
		X402Version: 1,
		Scheme:      "exact",
		Network:     network,
		Payload:     json.RawMessage(payload),
	})
	if err != nil {
		t.Fatalf("EncodePayment() error = %v", err)
	}
	return encoded
}

const evmInstrument = `{"signature":"0xsig","authorization":{"from":"0xABC0000000000000000000000000000000000001","to":"0x209693Bc6afc0C5328bA36FaF03C514EF312287C","value":"10000","validAfter":"0","validBefore":"9999999999","nonce":"0x01"}}`

// contentHandler echoes what it saw so tests can inspect the forwarded request.
func contentHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		info := GetPaymentFromContext(r.Context())
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"method":       r.Method,
			"headers":      r.Header,
			"payer":        info.Payer,
			"refundTxHash": info.RefundTxHash,
		})
	})
}

func decodeChallenge(t *testing.T, resp *http.Response) x402.PaymentRequirementsResponse {
	t.Helper()
	var body x402.PaymentRequirementsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode 402 body: %v", err)
	}
	return body
}

func TestPipeline_NoPaymentHeader(t *testing.T) {
	fac := settlingFacilitator("base")
	pipeline := NewPipeline(PipelineConfig{Facilitator: fac})

	called := false
	handler := pipeline.Middleware(baseRoute())(contentHandler(&called))

	req := httptest.NewRequest("GET", "http://merchant.test/api/base/paid-content?q=1", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("Expected status 402, got %d", resp.StatusCode)
	}
	if called {
		t.Error("Handler should not be called without payment")
	}
	if fac.verifyCalls != 0 || fac.settleCalls != 0 {
		t.Errorf("facilitator called: verify=%d settle=%d", fac.verifyCalls, fac.settleCalls)
	}

	body := decodeChallenge(t, resp)
	if body.X402Version != 1 {
		t.Errorf("Expected x402Version 1, got %d", body.X402Version)
	}
	if body.Error != "X-PAYMENT header is required" {
		t.Errorf("Unexpected error message %q", body.Error)
	}
	if len(body.Accepts) != 1 {
		t.Fatalf("Expected 1 requirement, got %d", len(body.Accepts))
	}
	accept := body.Accepts[0]
	if accept.MaxAmountRequired != "10000" {
		t.Errorf("maxAmountRequired = %s; want 10000", accept.MaxAmountRequired)
	}
	if accept.Resource != "http://merchant.test/api/base/paid-content" {
		t.Errorf("resource = %s", accept.Resource)
	}
	if accept.Asset != "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913" {
		t.Errorf("asset = %s", accept.Asset)
	}
}

func TestPipeline_PaywallForBrowsers(t *testing.T) {
	pipeline := NewPipeline(PipelineConfig{Facilitator: settlingFacilitator("base")})
	called := false
	handler := pipeline.Middleware(baseRoute())(contentHandler(&called))

	tests := []struct {
		name      string
		accept    string
		userAgent string
		wantHTML  bool
	}{
		{"browser", "text/html,application/xhtml+xml", "Mozilla/5.0 (X11; Linux x86_64)", true},
		{"html without browser agent", "text/html", "curl/8.0", false},
		{"browser asking for json", "application/json", "Mozilla/5.0", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "http://merchant.test/api/base/paid-content", nil)
			req.Header.Set("Accept", tt.accept)
			req.Header.Set("User-Agent", tt.userAgent)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusPaymentRequired {
				t.Fatalf("Expected status 402, got %d", w.Code)
			}
			isHTML := strings.HasPrefix(w.Header().Get("Content-Type"), "text/html")
			if isHTML != tt.wantHTML {
				t.Errorf("html = %v; want %v (Content-Type %q)", isHTML, tt.wantHTML, w.Header().Get("Content-Type"))
			}
			if tt.wantHTML && !strings.Contains(w.Body.String(), "window.x402") {
				t.Error("paywall should embed the payment data")
			}
		})
	}
}

func TestPipeline_InvalidHeaderNeverVerifies(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"not base64", "%%%"},
		{"not json", "aGVsbG8="},
		{"evm instrument without authorization", paymentHeader(t, "base", `{"signature":"0xsig"}`)},
		{"network mismatch", paymentHeader(t, "polygon", evmInstrument)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fac := settlingFacilitator("base")
			refunds := &fakeRefunds{}
			pipeline := NewPipeline(PipelineConfig{Facilitator: fac, Refunds: refunds})

			called := false
			handler := pipeline.Middleware(baseRoute())(contentHandler(&called))

			req := httptest.NewRequest("GET", "/api/base/paid-content", nil)
			req.Header.Set("X-PAYMENT", tt.header)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusPaymentRequired {
				t.Errorf("Expected status 402, got %d", w.Code)
			}
			if fac.verifyCalls != 0 || fac.settleCalls != 0 {
				t.Errorf("facilitator called: verify=%d settle=%d", fac.verifyCalls, fac.settleCalls)
			}
			if called || len(refunds.calls) != 0 {
				t.Error("invalid payments must not reach content or refunds")
			}
			body := decodeChallenge(t, w.Result())
			if len(body.Accepts) != 1 {
				t.Errorf("Expected accepts to be echoed, got %d", len(body.Accepts))
			}
		})
	}
}

func TestPipeline_EndToEndEVM(t *testing.T) {
	fac := settlingFacilitator("base")
	refunds := &fakeRefunds{result: refund.Result{TxHash: "0xrefund"}}
	pipeline := NewPipeline(PipelineConfig{Facilitator: fac, Refunds: refunds, Timeouts: x402.DefaultTimeouts})

	called := false
	handler := pipeline.Middleware(baseRoute())(contentHandler(&called))

	req := httptest.NewRequest("POST", "http://merchant.test/api/base/paid-content", strings.NewReader(`{"amount":1}`))
	req.Header.Set("X-PAYMENT", paymentHeader(t, "base", evmInstrument))
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "echo-client/1.0")
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if !called {
		t.Fatal("Handler should be called after settlement")
	}
	if fac.verifyCalls != 1 || fac.settleCalls != 1 {
		t.Errorf("verify=%d settle=%d; want 1 each", fac.verifyCalls, fac.settleCalls)
	}

	values, ok := resp.Header["X-PAYMENT-RESPONSE"]
	if !ok || len(values) != 1 {
		t.Fatalf("X-PAYMENT-RESPONSE missing under its exact name: %v", resp.Header)
	}
	record, err := encoding.DecodeSettlement(values[0])
	if err != nil {
		t.Fatalf("DecodeSettlement() error = %v", err)
	}
	want := x402.SettlementRecord{Success: true, Transaction: "0xsettled", Network: "base", Payer: testPayer}
	if record != want {
		t.Errorf("settlement record = %+v; want %+v", record, want)
	}

	if len(refunds.calls) != 1 {
		t.Fatalf("Expected 1 refund, got %d", len(refunds.calls))
	}
	if refunds.calls[0].Recipient != testPayer || refunds.calls[0].Requirement.MaxAmountRequired != "10000" {
		t.Errorf("Unexpected refund request %+v", refunds.calls[0])
	}

	var seen struct {
		Method       string              `json:"method"`
		Headers      map[string][]string `json:"headers"`
		Payer        string              `json:"payer"`
		RefundTxHash string              `json:"refundTxHash"`
	}
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &seen); err != nil {
		t.Fatalf("decode content: %v", err)
	}
	if seen.Method != http.MethodGet {
		t.Errorf("forwarded method = %s; want GET", seen.Method)
	}
	if _, ok := seen.Headers["Authorization"]; ok {
		t.Error("Authorization must not be forwarded")
	}
	if _, ok := seen.Headers["X-Payment"]; ok {
		t.Error("X-PAYMENT must not be forwarded")
	}
	if got := seen.Headers["User-Agent"]; len(got) != 1 || got[0] != "echo-client/1.0" {
		t.Errorf("User-Agent not forwarded: %v", got)
	}
	if got := seen.Headers["X-PAYMENT-RESPONSE"]; len(got) != 1 || got[0] != values[0] {
		t.Errorf("forwarded request should carry the settlement record: %v", got)
	}
	if seen.Payer != testPayer || seen.RefundTxHash != "0xrefund" {
		t.Errorf("payment info = %+v", seen)
	}
}

func TestPipeline_VerifyFailures(t *testing.T) {
	tests := []struct {
		name      string
		resp      *x402.VerifyResponse
		err       error
		messages  x402.ErrorMessages
		wantError string
		wantPayer string
	}{
		{
			name:      "invalid signature",
			resp:      &x402.VerifyResponse{IsValid: false, InvalidReason: "invalid_signature", Payer: testPayer},
			wantError: "invalid_signature",
			wantPayer: testPayer,
		},
		{
			name:      "override message",
			resp:      &x402.VerifyResponse{IsValid: false, InvalidReason: "insufficient_funds"},
			messages:  x402.ErrorMessages{VerificationFailed: "Payment declined"},
			wantError: "Payment declined",
		},
		{
			name:      "facilitator unreachable",
			err:       x402.ErrFacilitatorUnavailable,
			wantError: x402.ErrFacilitatorUnavailable.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fac := settlingFacilitator("base")
			fac.verifyResp = tt.resp
			fac.verifyErr = tt.err
			var events []x402.PaymentEvent
			pipeline := NewPipeline(PipelineConfig{
				Facilitator:    fac,
				OnPaymentEvent: func(e x402.PaymentEvent) { events = append(events, e) },
			})

			route := baseRoute()
			route.ErrorMessages = tt.messages
			called := false
			handler := pipeline.Middleware(route)(contentHandler(&called))

			req := httptest.NewRequest("GET", "/api/base/paid-content", nil)
			req.Header.Set("X-PAYMENT", paymentHeader(t, "base", evmInstrument))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusPaymentRequired {
				t.Fatalf("Expected status 402, got %d", w.Code)
			}
			if fac.settleCalls != 0 {
				t.Error("settle must not run after a failed verification")
			}
			body := decodeChallenge(t, w.Result())
			if body.Error != tt.wantError {
				t.Errorf("error = %q; want %q", body.Error, tt.wantError)
			}
			if body.Payer != tt.wantPayer {
				t.Errorf("payer = %q; want %q", body.Payer, tt.wantPayer)
			}
			last := events[len(events)-1]
			if last.Type != x402.PaymentEventFailure || last.Payer != tt.wantPayer {
				t.Errorf("last event = %+v; want a failure for payer %q", last, tt.wantPayer)
			}
		})
	}
}

func TestPipeline_SettleFailures(t *testing.T) {
	tests := []struct {
		name      string
		resp      *x402.SettlementResponse
		err       error
		messages  x402.ErrorMessages
		wantError string
	}{
		{
			name:      "unsuccessful",
			resp:      &x402.SettlementResponse{Success: false, ErrorReason: "insufficient_funds"},
			wantError: "Settlement failed",
		},
		{
			name:      "unsuccessful with override",
			resp:      &x402.SettlementResponse{Success: false},
			messages:  x402.ErrorMessages{SettlementFailed: "Try again later"},
			wantError: "Try again later",
		},
		{
			name:      "transport error",
			err:       errors.New("connection reset"),
			wantError: "connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fac := settlingFacilitator("base")
			fac.settleResp = tt.resp
			fac.settleErr = tt.err
			refunds := &fakeRefunds{}
			pipeline := NewPipeline(PipelineConfig{Facilitator: fac, Refunds: refunds})

			route := baseRoute()
			route.ErrorMessages = tt.messages
			called := false
			handler := pipeline.Middleware(route)(contentHandler(&called))

			req := httptest.NewRequest("GET", "/api/base/paid-content", nil)
			req.Header.Set("X-PAYMENT", paymentHeader(t, "base", evmInstrument))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusPaymentRequired {
				t.Fatalf("Expected status 402, got %d", w.Code)
			}
			if called || len(refunds.calls) != 0 {
				t.Error("unsettled payments must not reach content or refunds")
			}
			if fac.settleCalls != 1 {
				t.Errorf("settle called %d times; want 1", fac.settleCalls)
			}
			if body := decodeChallenge(t, w.Result()); body.Error != tt.wantError {
				t.Errorf("error = %q; want %q", body.Error, tt.wantError)
			}
		})
	}
}

func TestPipeline_EmptyPayerIsServerError(t *testing.T) {
	fac := settlingFacilitator("base")
	fac.settleResp.Payer = ""
	refunds := &fakeRefunds{}
	pipeline := NewPipeline(PipelineConfig{Facilitator: fac, Refunds: refunds})

	called := false
	handler := pipeline.Middleware(baseRoute())(contentHandler(&called))

	req := httptest.NewRequest("GET", "/api/base/paid-content", nil)
	req.Header.Set("X-PAYMENT", paymentHeader(t, "base", evmInstrument))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Expected status 500, got %d", w.Code)
	}
	if called {
		t.Error("content must not be served without a payer")
	}
	if len(refunds.calls) != 0 {
		t.Error("refund must not be attempted without a payer")
	}
	if _, ok := w.Header()["X-PAYMENT-RESPONSE"]; ok {
		t.Error("X-PAYMENT-RESPONSE must not be sent without a payer")
	}
	if !strings.Contains(w.Body.String(), "Payment settled but payer information unavailable") {
		t.Errorf("Unexpected body %s", w.Body.String())
	}
}

func TestPipeline_RefundFailureStillServes(t *testing.T) {
	fac := settlingFacilitator("base")
	refunds := &fakeRefunds{result: refund.Result{Err: x402.ErrRefundFailed}}
	pipeline := NewPipeline(PipelineConfig{Facilitator: fac, Refunds: refunds})

	called := false
	handler := pipeline.Middleware(baseRoute())(contentHandler(&called))

	req := httptest.NewRequest("GET", "/api/base/paid-content", nil)
	req.Header.Set("X-PAYMENT", paymentHeader(t, "base", evmInstrument))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !called {
		t.Fatal("content should be served when the refund fails")
	}
	var seen map[string]interface{}
	_ = json.NewDecoder(w.Body).Decode(&seen)
	if seen["refundTxHash"] != "" {
		t.Errorf("refundTxHash = %v; want empty", seen["refundTxHash"])
	}
	if helpers.PaymentResponse(w.Header()) == "" {
		t.Error("X-PAYMENT-RESPONSE should be set")
	}
}

func TestPipeline_NoRefundDispatcherStillServes(t *testing.T) {
	pipeline := NewPipeline(PipelineConfig{Facilitator: settlingFacilitator("base")})
	called := false
	handler := pipeline.Middleware(baseRoute())(contentHandler(&called))

	req := httptest.NewRequest("GET", "/api/base/paid-content", nil)
	req.Header.Set("X-PAYMENT", paymentHeader(t, "base", evmInstrument))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK || !called {
		t.Errorf("status = %d, called = %v", w.Code, called)
	}
}

func TestPipeline_SettleSurvivesClientCancel(t *testing.T) {
	fac := settlingFacilitator("base")
	pipeline := NewPipeline(PipelineConfig{Facilitator: fac})
	called := false
	handler := pipeline.Middleware(baseRoute())(contentHandler(&called))

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest("GET", "/api/base/paid-content", nil).WithContext(ctx)
	req.Header.Set("X-PAYMENT", paymentHeader(t, "base", evmInstrument))

	w := httptest.NewRecorder()
	cancel()
	handler.ServeHTTP(w, req)

	if fac.settleCtx == nil {
		t.Fatal("settle was not called")
	}
	if err := fac.settleCtx.Err(); err != nil {
		t.Errorf("settle context should not inherit client cancellation: %v", err)
	}
}

func TestPipeline_SolanaPayerFromParser(t *testing.T) {
	fac := settlingFacilitator("solana-devnet")
	fac.verifyResp.Payer = "ClientWallet111"
	fac.settleResp.Payer = ""
	svmCtx := &x402.SvmContext{
		Mint:                    "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
		SourceTokenAccount:      "MerchantATA",
		DestinationTokenAccount: "ClientATA",
		Decimals:                6,
		TokenProgram:            "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA",
	}
	parser := &fakeParser{resolved: &x402.ResolvedPayer{Payer: "ClientWallet111", SvmContext: svmCtx}}
	refunds := &fakeRefunds{result: refund.Result{TxHash: "5refund"}}
	pipeline := NewPipeline(PipelineConfig{Facilitator: fac, Parser: parser, Refunds: refunds})

	route := x402.Route{Network: "solana-devnet", Price: "$0.01", PayTo: testSVMPayTo}
	called := false
	handler := pipeline.Middleware(route)(contentHandler(&called))

	req := httptest.NewRequest("GET", "/api/solana-devnet/paid-content", nil)
	req.Header.Set("X-PAYMENT", paymentHeader(t, "solana-devnet", `{"transaction":"AQID"}`))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if parser.calls != 1 {
		t.Errorf("parser called %d times; want 1", parser.calls)
	}
	record := helpers.ParseSettlement(helpers.PaymentResponse(w.Header()))
	if record == nil || record.Payer != "ClientWallet111" || record.Network != "solana-devnet" {
		t.Errorf("settlement record = %+v", record)
	}
	if len(refunds.calls) != 1 || refunds.calls[0].SvmContext != svmCtx {
		t.Errorf("refund should carry the parsed Solana context: %+v", refunds.calls)
	}
}

func TestPipeline_SolanaParseFailure(t *testing.T) {
	tests := []struct {
		name   string
		parser PayerParser
	}{
		{"parse error", &fakeParser{err: x402.ErrParse}},
		{"no parser", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fac := settlingFacilitator("solana-devnet")
			refunds := &fakeRefunds{}
			pipeline := NewPipeline(PipelineConfig{Facilitator: fac, Parser: tt.parser, Refunds: refunds})

			route := x402.Route{Network: "solana-devnet", Price: "$0.01", PayTo: testSVMPayTo}
			called := false
			handler := pipeline.Middleware(route)(contentHandler(&called))

			req := httptest.NewRequest("GET", "/api/solana-devnet/paid-content", nil)
			req.Header.Set("X-PAYMENT", paymentHeader(t, "solana-devnet", `{"transaction":"AQID"}`))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusInternalServerError {
				t.Errorf("Expected status 500, got %d", w.Code)
			}
			if called || len(refunds.calls) != 0 {
				t.Error("content and refund must not run when the payer is unknown")
			}
		})
	}
}

func TestPipeline_ConfigurationErrors(t *testing.T) {
	tests := []struct {
		name  string
		route x402.Route
	}{
		{"bad price", x402.Route{Network: "base", Price: "free", PayTo: testPayTo}},
		{"bad payTo", x402.Route{Network: "base", Price: "$0.01", PayTo: "nope"}},
		{"unknown network", x402.Route{Network: "dogechain", Price: "$0.01", PayTo: testPayTo}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fac := settlingFacilitator("base")
			pipeline := NewPipeline(PipelineConfig{Facilitator: fac})
			called := false
			handler := pipeline.Middleware(tt.route)(contentHandler(&called))

			req := httptest.NewRequest("GET", "/api/x/paid-content", nil)
			req.Header.Set("X-PAYMENT", paymentHeader(t, "base", evmInstrument))
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusInternalServerError {
				t.Errorf("Expected status 500, got %d", w.Code)
			}
			if fac.verifyCalls != 0 || called {
				t.Error("misconfigured routes must not verify or serve")
			}
		})
	}
}

func TestPipeline_Events(t *testing.T) {
	var events []x402.PaymentEvent
	refunds := &fakeRefunds{result: refund.Result{TxHash: "0xrefund"}}
	pipeline := NewPipeline(PipelineConfig{
		Facilitator:    settlingFacilitator("base"),
		Refunds:        refunds,
		OnPaymentEvent: func(e x402.PaymentEvent) { events = append(events, e) },
	})
	called := false
	handler := pipeline.Middleware(baseRoute())(contentHandler(&called))

	req := httptest.NewRequest("GET", "/api/base/paid-content", nil)
	req.Header.Set("X-PAYMENT", paymentHeader(t, "base", evmInstrument))
	req.Header.Set(RequestIDHeader, "req-42")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	want := []struct {
		typ   x402.PaymentEventType
		stage string
	}{
		{x402.PaymentEventAttempt, "VERIFYING"},
		{x402.PaymentEventSuccess, "VERIFYING"},
		{x402.PaymentEventAttempt, "SETTLING"},
		{x402.PaymentEventSuccess, "SETTLING"},
		{x402.PaymentEventSuccess, "REFUNDING"},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events; want %d: %+v", len(events), len(want), events)
	}
	for i, exp := range want {
		if events[i].Type != exp.typ || events[i].Stage != exp.stage {
			t.Errorf("event %d = %s/%s; want %s/%s", i, events[i].Type, events[i].Stage, exp.typ, exp.stage)
		}
		if events[i].RequestID != "req-42" {
			t.Errorf("event %d request id = %q", i, events[i].RequestID)
		}
	}
	if events[3].Transaction != "0xsettled" {
		t.Errorf("settle event transaction = %q", events[3].Transaction)
	}
	if events[4].RefundTransaction != "0xrefund" || events[4].Payer != testPayer {
		t.Errorf("refund event = %+v", events[4])
	}
}

func TestFindMatchingRequirement(t *testing.T) {
	reqs := []x402.PaymentRequirement{
		{Scheme: "exact", Network: "base"},
		{Scheme: "exact", Network: "solana"},
	}

	got, err := findMatchingRequirement(x402.PaymentPayload{Scheme: "exact", Network: "solana"}, reqs)
	if err != nil || got.Network != "solana" {
		t.Errorf("findMatchingRequirement() = %+v, %v", got, err)
	}

	_, err = findMatchingRequirement(x402.PaymentPayload{Scheme: "upto", Network: "base"}, reqs)
	if !errors.Is(err, x402.ErrNoMatchingRequirement) {
		t.Errorf("Expected ErrNoMatchingRequirement, got %v", err)
	}
}

func TestGetPaymentFromContext_NoPayment(t *testing.T) {
	if GetPaymentFromContext(context.Background()) != nil {
		t.Error("Expected nil payment info")
	}
}
