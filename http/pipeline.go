package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	x402 "github.com/x402-echo/echo-merchant"
	"github.com/x402-echo/echo-merchant/encoding"
	"github.com/x402-echo/echo-merchant/facilitator"
	"github.com/x402-echo/echo-merchant/http/internal/helpers"
	"github.com/x402-echo/echo-merchant/refund"
)

// State names a step of the payment pipeline.
type State string

const (
	StateAwaitingPayment  State = "AWAITING_PAYMENT"
	StateChallengeIssued  State = "CHALLENGE_ISSUED"
	StateDecoding         State = "DECODING"
	StateMatching         State = "MATCHING"
	StateVerifying        State = "VERIFYING"
	StateSettling         State = "SETTLING"
	StatePayerResolution  State = "PAYER_RESOLUTION"
	StateContentDelivered State = "CONTENT_DELIVERED"
	StateRejected         State = "REJECTED"

	// stateRefunding tags refund events; it is not a pipeline state.
	stateRefunding State = "REFUNDING"
)

// Response messages shared with clients.
const (
	msgPaymentRequired  = "X-PAYMENT header is required"
	msgNoMatch          = "Unable to find matching payment requirements"
	msgSettlementFailed = "Settlement failed"
	msgPayerUnavailable = "Payment settled but payer information unavailable"
)

// RequestIDHeader carries the correlation id of a pipeline run.
const RequestIDHeader = "X-Request-ID"

// PayerParser recovers the payer of a settled Solana payment.
type PayerParser interface {
	Parse(ctx context.Context, payload x402.PaymentPayload, network string) (*x402.ResolvedPayer, error)
}

// RefundDispatcher sends a settled payment back to its payer.
type RefundDispatcher interface {
	Dispatch(ctx context.Context, req refund.Request) refund.Result
}

// PipelineConfig wires the collaborators of a Pipeline.
type PipelineConfig struct {
	// Facilitator verifies, settles and lists supported kinds.
	Facilitator facilitator.Interface

	// Parser resolves Solana payers. Solana payments fail with a 500 after
	// settlement if it is nil.
	Parser PayerParser

	// Refunds sends refunds. Payments are served unrefunded if it is nil.
	Refunds RefundDispatcher

	// Paywall renders the browser 402 page (default: HTMLPaywall).
	Paywall PaywallRenderer

	// Timeouts bounds each outbound step; zero values leave a step unbounded.
	Timeouts x402.TimeoutConfig

	// OnPaymentEvent receives attempt/success/failure events for each step.
	OnPaymentEvent x402.PaymentCallback
}

// Pipeline runs the x402 v1 payment flow for one paid route: challenge,
// decode, match, verify, settle, payer resolution, refund and content.
type Pipeline struct {
	facilitator facilitator.Interface
	builder     *RequirementsBuilder
	parser      PayerParser
	refunds     RefundDispatcher
	paywall     PaywallRenderer
	timeouts    x402.TimeoutConfig
	onEvent     x402.PaymentCallback
}

// NewPipeline creates a Pipeline.
func NewPipeline(config PipelineConfig) *Pipeline {
	paywall := config.Paywall
	if paywall == nil {
		paywall = HTMLPaywall{}
	}
	return &Pipeline{
		facilitator: config.Facilitator,
		builder:     NewRequirementsBuilder(config.Facilitator),
		parser:      config.Parser,
		refunds:     config.Refunds,
		paywall:     paywall,
		timeouts:    config.Timeouts,
		onEvent:     config.OnPaymentEvent,
	}
}

// Requirements builds the requirements for route as seen by r.
func (p *Pipeline) Requirements(ctx context.Context, route x402.Route, r *http.Request) ([]x402.PaymentRequirement, error) {
	return p.builder.Build(ctx, route, r.Method, helpers.BuildResourceURL(r))
}

// Middleware gates next behind payment for route.
func (p *Pipeline) Middleware(route x402.Route) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p.Serve(w, r, route, next)
		})
	}
}

// Serve runs one payment for route and, once it is settled and its payer
// known, serves next.
func (p *Pipeline) Serve(w http.ResponseWriter, r *http.Request, route x402.Route, next http.Handler) {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	run := &paymentRun{
		pipeline:  p,
		w:         w,
		r:         r,
		route:     route,
		requestID: requestID,
		logger:    slog.Default().With("request_id", requestID, "network", route.Network, "path", r.URL.Path),
	}
	run.serve(next)
}

// paymentRun holds the state of one pipeline execution.
type paymentRun struct {
	pipeline  *Pipeline
	w         http.ResponseWriter
	r         *http.Request
	route     x402.Route
	requestID string
	logger    *slog.Logger

	requirements []x402.PaymentRequirement
	requirement  *x402.PaymentRequirement
	payer        string
}

func (run *paymentRun) transition(state State, args ...any) {
	run.logger.Info("payment state", append([]any{"state", string(state)}, args...)...)
}

func (run *paymentRun) serve(next http.Handler) {
	p := run.pipeline
	ctx := run.r.Context()
	run.transition(StateAwaitingPayment)

	requirements, err := p.Requirements(ctx, run.route, run.r)
	if err != nil {
		run.logger.Error("failed to build payment requirements", "error", err)
		run.sendError(x402.StatusCode(err), err.Error())
		return
	}
	run.requirements = requirements

	if run.r.Header.Get(helpers.PaymentHeader) == "" {
		run.challenge()
		return
	}

	run.transition(StateDecoding)
	payment, err := helpers.ParsePaymentHeader(run.r)
	if err != nil {
		run.reject(err.Error(), "", err)
		return
	}

	run.transition(StateMatching, "scheme", payment.Scheme, "payment_network", payment.Network)
	requirement, err := findMatchingRequirement(*payment, requirements)
	if err != nil {
		run.reject(msgNoMatch, "", err)
		return
	}
	run.requirement = requirement

	run.transition(StateVerifying)
	verifyResp, err := run.verify(ctx, *payment)
	if err != nil {
		run.reject(orDefault(run.route.ErrorMessages.VerificationFailed, err.Error()), "", err)
		return
	}
	if !verifyResp.IsValid {
		err := x402.NewPaymentError(x402.ErrCodeInvalidPayment, verifyResp.InvalidReason, x402.ErrInvalidPayment)
		run.reject(orDefault(run.route.ErrorMessages.VerificationFailed, verifyResp.InvalidReason), verifyResp.Payer, err)
		return
	}

	// Value moves from here on; finish the run even if the client goes away.
	ctx = context.WithoutCancel(ctx)

	run.transition(StateSettling, "payer", verifyResp.Payer)
	settlement, err := run.settle(ctx, *payment)
	if err != nil {
		run.reject(orDefault(run.route.ErrorMessages.SettlementFailed, err.Error()), "", err)
		return
	}
	if !settlement.Success {
		err := x402.NewPaymentError(x402.ErrCodeSettlementFailed, settlement.ErrorReason, x402.ErrSettlementFailed)
		run.reject(orDefault(run.route.ErrorMessages.SettlementFailed, msgSettlementFailed), "", err)
		return
	}
	network := settlement.Network
	if network == "" {
		network = requirement.Network
	}
	run.logger.Info("payment settled", "transaction", settlement.Transaction, "settled_network", network)

	run.transition(StatePayerResolution)
	resolved, err := run.resolvePayer(ctx, *payment, settlement, network)
	if err != nil {
		run.fail(http.StatusInternalServerError, err.Error(), err)
		return
	}
	if resolved.Payer == "" {
		run.fail(http.StatusInternalServerError, msgPayerUnavailable, x402.ErrPayerResolution)
		return
	}
	run.payer = resolved.Payer

	record := x402.SettlementRecord{
		Success:     true,
		Transaction: settlement.Transaction,
		Network:     network,
		Payer:       resolved.Payer,
	}
	encoded, err := encoding.EncodeSettlement(record)
	if err != nil {
		run.fail(http.StatusInternalServerError, "failed to encode settlement", err)
		return
	}

	refundTx := run.refund(ctx, resolved)

	run.transition(StateContentDelivered, "payer", resolved.Payer, "refund_transaction", refundTx)
	forwardContent(run.w, run.r, next, &PaymentInfo{
		Network:      network,
		Payer:        resolved.Payer,
		Transaction:  settlement.Transaction,
		RefundTxHash: refundTx,
	}, encoded)
}

func (run *paymentRun) challenge() {
	run.transition(StateChallengeIssued)

	if wantsPaywall(run.r) {
		data := PaywallData{
			Amount:              displayAmount(run.requirements[0]),
			PaymentRequirements: run.requirements,
			CurrentURL:          helpers.BuildCurrentURL(run.r),
			Testnet:             x402.IsTestnet(run.route.Network),
		}
		run.w.Header().Set("Content-Type", "text/html; charset=utf-8")
		run.w.WriteHeader(http.StatusPaymentRequired)
		if err := run.pipeline.paywall.Render(run.w, data); err != nil {
			run.logger.Error("failed to render paywall", "error", err)
		}
		return
	}

	if err := helpers.SendPaymentRequired(run.w, run.requirements, msgPaymentRequired, ""); err != nil {
		run.logger.Error("failed to send payment required response", "error", err)
	}
}

func (run *paymentRun) verify(ctx context.Context, payment x402.PaymentPayload) (*x402.VerifyResponse, error) {
	ctx, cancel := bound(ctx, run.pipeline.timeouts.VerifyTimeout)
	defer cancel()

	start := time.Now()
	run.emit(x402.PaymentEventAttempt, StateVerifying, nil, 0)
	resp, err := run.pipeline.facilitator.Verify(ctx, payment, *run.requirement)
	if err == nil && resp == nil {
		err = x402.ErrVerificationFailed
	}
	switch {
	case err != nil:
		run.emit(x402.PaymentEventFailure, StateVerifying, err, time.Since(start))
	case !resp.IsValid:
		run.payer = resp.Payer
		run.emit(x402.PaymentEventFailure, StateVerifying, x402.ErrInvalidPayment, time.Since(start))
	default:
		run.payer = resp.Payer
		run.emit(x402.PaymentEventSuccess, StateVerifying, nil, time.Since(start))
	}
	return resp, err
}

func (run *paymentRun) settle(ctx context.Context, payment x402.PaymentPayload) (*x402.SettlementResponse, error) {
	ctx, cancel := bound(ctx, run.pipeline.timeouts.SettleTimeout)
	defer cancel()

	start := time.Now()
	run.emit(x402.PaymentEventAttempt, StateSettling, nil, 0)
	resp, err := run.pipeline.facilitator.Settle(ctx, payment, *run.requirement)
	if err == nil && resp == nil {
		err = x402.ErrSettlementFailed
	}
	switch {
	case err != nil:
		run.emit(x402.PaymentEventFailure, StateSettling, err, time.Since(start))
	case !resp.Success:
		run.emit(x402.PaymentEventFailure, StateSettling, x402.ErrSettlementFailed, time.Since(start))
	default:
		run.emitWith(x402.PaymentEvent{
			Type:        x402.PaymentEventSuccess,
			Stage:       string(StateSettling),
			Transaction: resp.Transaction,
			Duration:    time.Since(start),
		})
	}
	return resp, err
}

func (run *paymentRun) resolvePayer(ctx context.Context, payment x402.PaymentPayload, settlement *x402.SettlementResponse, network string) (*x402.ResolvedPayer, error) {
	switch x402.FamilyOf(network) {
	case x402.FamilyEVM:
		return &x402.ResolvedPayer{Payer: settlement.Payer}, nil

	case x402.FamilySVM:
		if run.pipeline.parser == nil {
			return nil, fmt.Errorf("%w: no Solana parser configured", x402.ErrPayerResolution)
		}
		ctx, cancel := bound(ctx, run.pipeline.timeouts.ParseTimeout)
		defer cancel()

		resolved, err := run.pipeline.parser.Parse(ctx, payment, network)
		if err != nil {
			return nil, x402.NewPaymentError(x402.ErrCodePayerResolution, "failed to parse Solana payment", fmt.Errorf("%w: %w", x402.ErrPayerResolution, err))
		}
		return resolved, nil

	case x402.FamilyUnknown:
	}
	return nil, fmt.Errorf("%w: %w: settled on %q", x402.ErrPayerResolution, x402.ErrUnsupportedNetwork, network)
}

// refund sends the payment back and returns the refund transaction, or ""
// when no refund was sent. Failures are logged only.
func (run *paymentRun) refund(ctx context.Context, resolved *x402.ResolvedPayer) string {
	if run.pipeline.refunds == nil {
		run.logger.Warn("refunds disabled, serving content without refund", "payer", resolved.Payer)
		return ""
	}

	ctx, cancel := bound(ctx, run.pipeline.timeouts.RefundTimeout)
	defer cancel()

	start := time.Now()
	result := run.pipeline.refunds.Dispatch(ctx, refund.Request{
		Recipient:   resolved.Payer,
		Requirement: *run.requirement,
		SvmContext:  resolved.SvmContext,
	})
	if result.Err != nil {
		run.logger.Error("refund failed", "payer", resolved.Payer, "error", result.Err)
		run.emit(x402.PaymentEventFailure, stateRefunding, result.Err, time.Since(start))
		return ""
	}

	run.logger.Info("payment refunded", "payer", resolved.Payer, "refund_transaction", result.TxHash)
	run.emitWith(x402.PaymentEvent{
		Type:              x402.PaymentEventSuccess,
		Stage:             string(stateRefunding),
		RefundTransaction: result.TxHash,
		Duration:          time.Since(start),
	})
	return result.TxHash
}

// reject answers 402 with the requirements attached.
func (run *paymentRun) reject(msg, payer string, err error) {
	run.transition(StateRejected, "reason", msg)
	run.logger.Warn("payment rejected", "error", err)
	if err := helpers.SendPaymentRequired(run.w, run.requirements, msg, payer); err != nil {
		run.logger.Error("failed to send payment required response", "error", err)
	}
}

// fail answers with a non-402 status after value has moved.
func (run *paymentRun) fail(status int, msg string, err error) {
	run.transition(StateRejected, "reason", msg, "status", status)
	run.logger.Error("payment settled but not served", "error", err)
	run.emit(x402.PaymentEventFailure, StatePayerResolution, err, 0)
	run.sendError(status, msg)
}

func (run *paymentRun) sendError(status int, msg string) {
	if err := helpers.SendError(run.w, status, msg); err != nil {
		run.logger.Error("failed to send error response", "error", err)
	}
}

func (run *paymentRun) emit(typ x402.PaymentEventType, stage State, err error, d time.Duration) {
	run.emitWith(x402.PaymentEvent{Type: typ, Stage: string(stage), Error: err, Duration: d})
}

func (run *paymentRun) emitWith(event x402.PaymentEvent) {
	if run.pipeline.onEvent == nil {
		return
	}
	event.RequestID = run.requestID
	event.Timestamp = time.Now()
	event.Payer = run.payer
	if run.requirement != nil {
		event.URL = run.requirement.Resource
		event.Amount = run.requirement.MaxAmountRequired
		event.Asset = run.requirement.Asset
		event.Network = run.requirement.Network
		event.Scheme = run.requirement.Scheme
		event.Recipient = run.requirement.PayTo
	}
	run.pipeline.onEvent(event)
}

// findMatchingRequirement returns the first requirement with the payment's
// scheme and network.
func findMatchingRequirement(payment x402.PaymentPayload, requirements []x402.PaymentRequirement) (*x402.PaymentRequirement, error) {
	for i := range requirements {
		if requirements[i].Scheme == payment.Scheme && requirements[i].Network == payment.Network {
			return &requirements[i], nil
		}
	}
	return nil, x402.NewPaymentError(x402.ErrCodeNoMatch, msgNoMatch, x402.ErrNoMatchingRequirement)
}

func bound(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

func orDefault(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}
