// Package helpers provides internal HTTP utilities for x402 v1 protocol handling.
package helpers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	x402 "github.com/x402-echo/echo-merchant"
	"github.com/x402-echo/echo-merchant/encoding"
)

// PaymentHeader and PaymentResponseHeader are the x402 v1 header names.
const (
	PaymentHeader         = "X-PAYMENT"
	PaymentResponseHeader = "X-PAYMENT-RESPONSE"
)

// ErrNilPayment is returned when payment is nil in BuildPaymentHeader.
var ErrNilPayment = errors.New("payment is nil")

// ParsePaymentHeader extracts and decodes a PaymentPayload from the X-PAYMENT
// header, including the family-specific payload shape.
func ParsePaymentHeader(r *http.Request) (*x402.PaymentPayload, error) {
	paymentHeader := r.Header.Get(PaymentHeader)
	if paymentHeader == "" {
		return nil, x402.ErrMalformedHeader
	}

	payment, err := encoding.DecodePayment(paymentHeader)
	if err != nil {
		if errors.Is(err, x402.ErrUnsupportedVersion) {
			return nil, x402.NewPaymentError(x402.ErrCodeUnsupportedVersion, "unsupported x402 version", err)
		}
		return nil, x402.NewPaymentError(x402.ErrCodeDecode, "failed to decode payment header", err)
	}
	if err := encoding.DecodeFamilyPayload(payment); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeDecode, "invalid payment payload", err)
	}

	return &payment, nil
}

// SendPaymentRequired writes a 402 Payment Required response with the given
// requirements. payer is included only when non-empty.
func SendPaymentRequired(w http.ResponseWriter, requirements []x402.PaymentRequirement, errMsg, payer string) error {
	response := x402.PaymentRequirementsResponse{
		X402Version: x402.X402Version,
		Error:       errMsg,
		Accepts:     requirements,
		Payer:       payer,
	}
	return WriteJSON(w, http.StatusPaymentRequired, response)
}

// SendError writes a JSON {"error": msg} body with status.
func SendError(w http.ResponseWriter, status int, msg string) error {
	return WriteJSON(w, status, map[string]string{"error": msg})
}

// WriteJSON writes v as a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		return fmt.Errorf("encoding %d response: %w", status, err)
	}
	return nil
}

// SetPaymentResponseHeader sets X-PAYMENT-RESPONSE using the exact header
// name rather than its canonical form.
func SetPaymentResponseHeader(h http.Header, encoded string) {
	delete(h, http.CanonicalHeaderKey(PaymentResponseHeader))
	h[PaymentResponseHeader] = []string{encoded}
}

// PaymentResponse returns the X-PAYMENT-RESPONSE value from h whether it was
// stored under the exact or the canonical name.
func PaymentResponse(h http.Header) string {
	if v := h[PaymentResponseHeader]; len(v) > 0 {
		return v[0]
	}
	return h.Get(PaymentResponseHeader)
}

// ParsePaymentRequirements extracts the 402 body from a response.
func ParsePaymentRequirements(resp *http.Response) (*x402.PaymentRequirementsResponse, error) {
	if resp == nil || resp.Body == nil {
		return nil, x402.NewPaymentError(x402.ErrCodeDecode, "missing response or body", x402.ErrMalformedHeader)
	}

	var paymentReq x402.PaymentRequirementsResponse
	if err := json.NewDecoder(resp.Body).Decode(&paymentReq); err != nil {
		return nil, x402.NewPaymentError(x402.ErrCodeDecode, "failed to decode payment requirements", err)
	}
	if len(paymentReq.Accepts) == 0 {
		return nil, x402.NewPaymentError(x402.ErrCodeNoMatch, "no payment requirements in response", x402.ErrNoMatchingRequirement)
	}

	return &paymentReq, nil
}

// ParseSettlement decodes an X-PAYMENT-RESPONSE header value.
// Returns nil if the header is empty or cannot be parsed.
func ParseSettlement(headerValue string) *x402.SettlementRecord {
	if headerValue == "" {
		return nil
	}

	settlement, err := encoding.DecodeSettlement(headerValue)
	if err != nil {
		return nil
	}

	return &settlement
}

// BuildPaymentHeader creates the X-PAYMENT header value from a PaymentPayload.
func BuildPaymentHeader(payment *x402.PaymentPayload) (string, error) {
	if payment == nil {
		return "", fmt.Errorf("BuildPaymentHeader: %w", ErrNilPayment)
	}
	encoded, err := encoding.EncodePayment(*payment)
	if err != nil {
		return "", fmt.Errorf("BuildPaymentHeader: encode payment: %w", err)
	}
	return encoded, nil
}

// BuildResourceURL returns scheme://host/path for the request, without the
// query string. X-Forwarded-Proto is honored behind a proxy.
func BuildResourceURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.TrimSpace(strings.Split(proto, ",")[0])
	}
	return scheme + "://" + r.Host + r.URL.Path
}

// BuildCurrentURL returns the full request URL, including the query string.
func BuildCurrentURL(r *http.Request) string {
	u := BuildResourceURL(r)
	if r.URL.RawQuery != "" {
		u += "?" + r.URL.RawQuery
	}
	return u
}
