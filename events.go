package x402

import "time"

// PaymentEventType represents the type of payment event.
type PaymentEventType string

const (
	// PaymentEventAttempt indicates a pipeline stage started.
	PaymentEventAttempt PaymentEventType = "attempt"

	// PaymentEventSuccess indicates a pipeline stage succeeded.
	PaymentEventSuccess PaymentEventType = "success"

	// PaymentEventFailure indicates a pipeline stage failed.
	PaymentEventFailure PaymentEventType = "failure"
)

// PaymentEvent represents one step of a payment's lifecycle.
type PaymentEvent struct {
	// Type is the event type (attempt, success, failure).
	Type PaymentEventType

	// Stage is the pipeline state that produced the event (e.g. "SETTLING").
	Stage string

	// RequestID correlates all events of one pipeline run.
	RequestID string

	// Timestamp is when the event occurred.
	Timestamp time.Time

	// URL is the resource being paid for.
	URL string

	// Amount is the payment amount in atomic units.
	Amount string

	// Asset is the token address.
	Asset string

	// Network is the legacy network name.
	Network string

	// Scheme is the payment scheme.
	Scheme string

	// Recipient is the merchant address.
	Recipient string

	// Payer is set once known.
	Payer string

	// Transaction is the settlement transaction, set on settlement success.
	Transaction string

	// RefundTransaction is set when a refund was broadcast.
	RefundTransaction string

	// Error contains error details (available on failure).
	Error error

	// Duration is the time taken by the stage.
	Duration time.Duration
}

// PaymentCallback is a function that handles payment events.
// Callbacks run synchronously inside the pipeline and should return quickly.
type PaymentCallback func(PaymentEvent)
