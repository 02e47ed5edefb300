package http

import (
	"net/http"
	"time"

	x402 "github.com/x402-echo/echo-merchant"
	"github.com/x402-echo/echo-merchant/http/internal/helpers"
)

// X402Transport is a RoundTripper that answers a 402 challenge by signing
// a payment and retrying the request once with X-PAYMENT.
type X402Transport struct {
	// Base is the underlying RoundTripper (default: http.DefaultTransport).
	Base http.RoundTripper

	// Signers are tried in order for each offered requirement.
	Signers []x402.Signer

	// OnPaymentEvent receives attempt/success/failure events.
	OnPaymentEvent x402.PaymentCallback
}

// RoundTrip implements http.RoundTripper.
func (t *X402Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	// Bodies are replayed on the paid retry.
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	resp, err := base.RoundTrip(withBody(req.Clone(req.Context()), body))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return resp, nil
	}

	challenge, err := helpers.ParsePaymentRequirements(resp)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}

	signer, requirement, err := x402.SelectSigner(t.Signers, challenge.Accepts)
	if err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeNoMatch, "no signer for the offered requirements", err)
	}

	start := time.Now()
	event := x402.PaymentEvent{
		Stage:     "SIGNING",
		URL:       req.URL.String(),
		Network:   requirement.Network,
		Scheme:    requirement.Scheme,
		Amount:    requirement.MaxAmountRequired,
		Asset:     requirement.Asset,
		Recipient: requirement.PayTo,
	}
	t.emit(event, x402.PaymentEventAttempt, nil)

	payment, err := signer.Sign(req.Context(), requirement)
	if err != nil {
		t.emit(event, x402.PaymentEventFailure, err)
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to sign payment", err)
	}
	header, err := helpers.BuildPaymentHeader(payment)
	if err != nil {
		t.emit(event, x402.PaymentEventFailure, err)
		return nil, x402.NewPaymentError(x402.ErrCodeSigningFailed, "failed to build payment header", err)
	}

	retry := withBody(req.Clone(req.Context()), body)
	retry.Header.Set(helpers.PaymentHeader, header)

	event.Stage = "PAYING"
	paid, err := base.RoundTrip(retry)
	event.Duration = time.Since(start)
	if err != nil {
		t.emit(event, x402.PaymentEventFailure, err)
		return nil, err
	}

	if settlement := GetSettlement(paid); settlement != nil && settlement.Success {
		event.Transaction = settlement.Transaction
		event.Payer = settlement.Payer
		t.emit(event, x402.PaymentEventSuccess, nil)
	} else if paid.StatusCode != http.StatusOK {
		t.emit(event, x402.PaymentEventFailure, x402.NewPaymentError(x402.ErrCodeSettlementFailed, paid.Status, x402.ErrSettlementFailed))
	}
	return paid, nil
}

func (t *X402Transport) emit(event x402.PaymentEvent, typ x402.PaymentEventType, err error) {
	if t.OnPaymentEvent == nil {
		return
	}
	event.Type = typ
	event.Timestamp = time.Now()
	event.Error = err
	t.OnPaymentEvent(event)
}

// GetSettlement decodes the X-PAYMENT-RESPONSE header of resp, or returns nil.
func GetSettlement(resp *http.Response) *x402.SettlementRecord {
	if resp == nil {
		return nil
	}
	return helpers.ParseSettlement(helpers.PaymentResponse(resp.Header))
}
