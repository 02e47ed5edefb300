package x402

import (
	"errors"
	"net/http"
)

// Sentinel errors for merchant payment operations.
var (
	// ErrConfiguration indicates the operator supplied an unusable price, asset or address.
	ErrConfiguration = errors.New("x402: invalid merchant configuration")

	// ErrUnsupportedNetwork indicates a network outside the catalog, or a
	// Solana network for which the facilitator advertises no fee payer.
	ErrUnsupportedNetwork = errors.New("x402: unsupported network")

	// ErrInvalidAmount indicates an invalid amount string.
	ErrInvalidAmount = errors.New("x402: invalid amount")

	// ErrInvalidKey indicates an invalid private key.
	ErrInvalidKey = errors.New("x402: invalid private key")

	// ErrMalformedHeader indicates the X-PAYMENT header could not be decoded.
	ErrMalformedHeader = errors.New("x402: malformed payment header")

	// ErrUnsupportedVersion indicates an unsupported x402 protocol version.
	ErrUnsupportedVersion = errors.New("x402: unsupported protocol version")

	// ErrNoMatchingRequirement indicates the payment matches no offered requirement.
	ErrNoMatchingRequirement = errors.New("x402: unable to find matching payment requirements")

	// ErrFacilitatorUnavailable indicates the facilitator could not be reached.
	ErrFacilitatorUnavailable = errors.New("x402: facilitator service unavailable")

	// ErrVerificationFailed indicates the verify call itself failed.
	ErrVerificationFailed = errors.New("x402: payment verification failed")

	// ErrInvalidPayment indicates the facilitator judged the payment invalid.
	ErrInvalidPayment = errors.New("x402: invalid payment")

	// ErrSettlementFailed indicates settlement failed or was reported unsuccessful.
	ErrSettlementFailed = errors.New("x402: payment settlement failed")

	// ErrPayerResolution indicates the payment settled but the payer is unknown.
	ErrPayerResolution = errors.New("x402: payer resolution failed")

	// ErrParse indicates a settled Solana transaction could not be interpreted.
	ErrParse = errors.New("x402: transaction parse failed")

	// ErrRefundFailed indicates a refund could not be built or broadcast.
	ErrRefundFailed = errors.New("x402: refund failed")

	// ErrMissingCredentials indicates no signing key is loaded for a chain family.
	ErrMissingCredentials = errors.New("x402: refund credentials not configured")

	// ErrNoValidSigner indicates a client holds no signer for any offered requirement.
	ErrNoValidSigner = errors.New("x402: no signer can satisfy the payment requirements")

	// ErrAmountExceeded indicates a requirement asks more than the client's spending limit.
	ErrAmountExceeded = errors.New("x402: payment amount exceeds limit")
)

// ErrorCode represents payment error codes for programmatic handling.
type ErrorCode string

const (
	ErrCodeConfiguration       ErrorCode = "CONFIGURATION"
	ErrCodeUnsupportedNetwork  ErrorCode = "UNSUPPORTED_NETWORK"
	ErrCodeDecode              ErrorCode = "DECODE"
	ErrCodeNoMatch             ErrorCode = "NO_MATCH"
	ErrCodeInvalidPayment      ErrorCode = "INVALID_PAYMENT"
	ErrCodeSettlementFailed    ErrorCode = "SETTLEMENT_FAILED"
	ErrCodePayerResolution     ErrorCode = "PAYER_RESOLUTION"
	ErrCodeRefundFailed        ErrorCode = "REFUND_FAILED"
	ErrCodeFacilitatorDown     ErrorCode = "FACILITATOR_UNAVAILABLE"
	ErrCodeUnsupportedVersion  ErrorCode = "UNSUPPORTED_VERSION"
	ErrCodeVerificationFailure ErrorCode = "VERIFICATION_FAILED"
	ErrCodeSigningFailed       ErrorCode = "SIGNING_FAILED"
)

// PaymentError provides structured error information.
type PaymentError struct {
	// Code is the error code for programmatic handling.
	Code ErrorCode

	// Message is the human-readable error message.
	Message string

	// Details contains additional error context.
	Details map[string]interface{}

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *PaymentError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *PaymentError) Unwrap() error {
	return e.Err
}

// NewPaymentError creates a new PaymentError with the given code and message.
func NewPaymentError(code ErrorCode, message string, err error) *PaymentError {
	return &PaymentError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// WithDetails adds additional context to the error.
func (e *PaymentError) WithDetails(key string, value interface{}) *PaymentError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// StatusCode maps a pipeline error to the HTTP status the client receives.
// Failures before settlement are 402 so the client can retry with a new
// payment; failures after value moved are 500.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrUnsupportedNetwork),
		errors.Is(err, ErrPayerResolution),
		errors.Is(err, ErrParse):
		return http.StatusInternalServerError
	case errors.Is(err, ErrMalformedHeader),
		errors.Is(err, ErrUnsupportedVersion),
		errors.Is(err, ErrNoMatchingRequirement),
		errors.Is(err, ErrFacilitatorUnavailable),
		errors.Is(err, ErrVerificationFailed),
		errors.Is(err, ErrInvalidPayment),
		errors.Is(err, ErrSettlementFailed):
		return http.StatusPaymentRequired
	default:
		return http.StatusInternalServerError
	}
}
