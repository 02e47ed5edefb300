// Package http serves x402 v1 paid content over net/http: it builds payment
// requirements, runs the verify/settle/refund pipeline and talks to the
// facilitator.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	x402 "github.com/x402-echo/echo-merchant"
	"github.com/x402-echo/echo-merchant/facilitator"
	"github.com/x402-echo/echo-merchant/internal/retry"
)

// AuthorizationProvider is a function that returns an Authorization header value.
// This is useful for dynamic tokens (e.g., JWT refresh) where the value may change.
//
// The provider is called on each HTTP request, including retry attempts, and
// must be safe for concurrent use.
type AuthorizationProvider func(*http.Request) string

// OnBeforeFunc is called before a verify or settle operation.
// Return an error to abort the operation.
type OnBeforeFunc func(context.Context, x402.PaymentPayload, x402.PaymentRequirement) error

// OnAfterVerifyFunc is called after a Verify operation completes.
type OnAfterVerifyFunc func(context.Context, x402.PaymentPayload, x402.PaymentRequirement, *x402.VerifyResponse, error)

// OnAfterSettleFunc is called after a Settle operation completes.
type OnAfterSettleFunc func(context.Context, x402.PaymentPayload, x402.PaymentRequirement, *x402.SettlementResponse, error)

// FacilitatorClient is a client for x402 v1 facilitator services.
type FacilitatorClient struct {
	// BaseURL is the facilitator service URL (e.g., "https://x402.org/facilitator").
	BaseURL string

	// Client is the HTTP client to use for requests. If nil, http.DefaultClient is used.
	Client *http.Client

	// Timeouts bounds calls made with a context that has no deadline.
	Timeouts x402.TimeoutConfig

	// MaxRetries is the number of extra attempts for verify and supported
	// when the facilitator is unreachable. Settle is never retried.
	MaxRetries int

	// RetryDelay is the initial delay between retry attempts (default: 100ms).
	RetryDelay time.Duration

	// Authorization is a static Authorization header value.
	// If AuthorizationProvider is also set, the provider takes precedence.
	Authorization string

	// AuthorizationProvider returns an Authorization header value per request.
	AuthorizationProvider AuthorizationProvider

	OnBeforeVerify OnBeforeFunc
	OnAfterVerify  OnAfterVerifyFunc
	OnBeforeSettle OnBeforeFunc
	OnAfterSettle  OnAfterSettleFunc
}

var _ facilitator.Interface = (*FacilitatorClient)(nil)

func (c *FacilitatorClient) httpClient() *http.Client {
	if c.Client != nil {
		return c.Client
	}
	return http.DefaultClient
}

func (c *FacilitatorClient) endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + path
}

// setAuthorizationHeader sets the Authorization header on the request if configured.
func (c *FacilitatorClient) setAuthorizationHeader(req *http.Request) {
	var authValue string
	if c.AuthorizationProvider != nil {
		authValue = c.AuthorizationProvider(req)
	} else if c.Authorization != "" {
		authValue = c.Authorization
	}
	if authValue != "" {
		req.Header.Set("Authorization", authValue)
	}
}

func (c *FacilitatorClient) retryConfig() retry.Config {
	retryDelay := c.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 100 * time.Millisecond
	}

	maxRetries := c.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}

	return retry.Config{
		MaxAttempts:  maxRetries + 1,
		InitialDelay: retryDelay,
		MaxDelay:     retryDelay * 4,
		Multiplier:   2.0,
	}
}

// withTimeout applies d only if ctx carries no deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, hasDeadline := ctx.Deadline(); hasDeadline || d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// Verify verifies a payment authorization without executing the transaction.
func (c *FacilitatorClient) Verify(ctx context.Context, payload x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.VerifyResponse, error) {
	if c.OnBeforeVerify != nil {
		if err := c.OnBeforeVerify(ctx, payload, requirement); err != nil {
			return nil, err
		}
	}

	data, err := json.Marshal(facilitator.Request{
		X402Version:         x402.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirement,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	resp, resultErr := retry.WithRetry(ctx, c.retryConfig(), isFacilitatorUnavailableError, func() (*x402.VerifyResponse, error) {
		reqCtx, cancel := withTimeout(ctx, c.Timeouts.VerifyTimeout)
		defer cancel()

		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint("/verify"), bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		c.setAuthorizationHeader(httpReq)

		httpResp, err := c.httpClient().Do(httpReq)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
		}
		defer httpResp.Body.Close()

		if httpResp.StatusCode >= http.StatusInternalServerError {
			return nil, parseErrorResponse(httpResp, x402.ErrFacilitatorUnavailable)
		}
		if httpResp.StatusCode != http.StatusOK {
			return nil, parseErrorResponse(httpResp, x402.ErrVerificationFailed)
		}

		var verifyResp x402.VerifyResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&verifyResp); err != nil {
			return nil, fmt.Errorf("%w: failed to decode verify response: %v", x402.ErrVerificationFailed, err)
		}

		if verifyResp.Payer == "" {
			verifyResp.Payer = extractPayer(payload)
		}

		return &verifyResp, nil
	})

	if c.OnAfterVerify != nil {
		c.OnAfterVerify(ctx, payload, requirement, resp, resultErr)
	}

	return resp, resultErr
}

// Settle broadcasts a verified payment. It makes exactly one attempt: a
// transport failure may hide a settlement that already happened.
func (c *FacilitatorClient) Settle(ctx context.Context, payload x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	if c.OnBeforeSettle != nil {
		if err := c.OnBeforeSettle(ctx, payload, requirement); err != nil {
			return nil, err
		}
	}

	resp, resultErr := c.settleOnce(ctx, payload, requirement)

	if c.OnAfterSettle != nil {
		c.OnAfterSettle(ctx, payload, requirement, resp, resultErr)
	}

	return resp, resultErr
}

func (c *FacilitatorClient) settleOnce(ctx context.Context, payload x402.PaymentPayload, requirement x402.PaymentRequirement) (*x402.SettlementResponse, error) {
	data, err := json.Marshal(facilitator.Request{
		X402Version:         x402.X402Version,
		PaymentPayload:      payload,
		PaymentRequirements: requirement,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	reqCtx, cancel := withTimeout(ctx, c.Timeouts.SettleTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.endpoint("/settle"), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuthorizationHeader(httpReq)

	httpResp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %v", x402.ErrSettlementFailed, x402.ErrFacilitatorUnavailable, err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, parseErrorResponse(httpResp, x402.ErrSettlementFailed)
	}

	var settleResp x402.SettlementResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&settleResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode settle response: %v", x402.ErrSettlementFailed, err)
	}
	return &settleResp, nil
}

// Supported queries the facilitator for supported payment kinds.
func (c *FacilitatorClient) Supported(ctx context.Context) (*x402.SupportedResponse, error) {
	return retry.WithRetry(ctx, c.retryConfig(), isFacilitatorUnavailableError, func() (*x402.SupportedResponse, error) {
		status, body, err := c.fetchSupported(ctx)
		if err != nil {
			return nil, err
		}
		if status >= http.StatusInternalServerError {
			return nil, fmt.Errorf("%w: supported endpoint status %d", x402.ErrFacilitatorUnavailable, status)
		}
		if status != http.StatusOK {
			return nil, fmt.Errorf("supported endpoint failed: status %d", status)
		}

		var supportedResp x402.SupportedResponse
		if err := json.Unmarshal(body, &supportedResp); err != nil {
			return nil, fmt.Errorf("failed to decode supported response: %w", err)
		}
		return &supportedResp, nil
	})
}

// SupportedRaw returns the facilitator's /supported status and body untouched,
// for proxying to browser clients.
func (c *FacilitatorClient) SupportedRaw(ctx context.Context) (int, []byte, error) {
	return c.fetchSupported(ctx)
}

func (c *FacilitatorClient) fetchSupported(ctx context.Context) (int, []byte, error) {
	reqCtx, cancel := withTimeout(ctx, c.Timeouts.VerifyTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.endpoint("/supported"), nil)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setAuthorizationHeader(httpReq)

	httpResp, err := c.httpClient().Do(httpReq)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", x402.ErrFacilitatorUnavailable, err)
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: reading supported response: %v", x402.ErrFacilitatorUnavailable, err)
	}
	return httpResp.StatusCode, body, nil
}

// parseErrorResponse extracts error details from a non-200 HTTP response.
func parseErrorResponse(resp *http.Response, baseErr error) error {
	bodyBytes, _ := io.ReadAll(resp.Body)

	var errBody map[string]interface{}
	if err := json.Unmarshal(bodyBytes, &errBody); err == nil {
		if reason, ok := errBody["invalidReason"].(string); ok && reason != "" {
			return fmt.Errorf("%w: status %d, reason: %s", baseErr, resp.StatusCode, reason)
		}
		if reason, ok := errBody["errorReason"].(string); ok && reason != "" {
			return fmt.Errorf("%w: status %d, reason: %s", baseErr, resp.StatusCode, reason)
		}
	}

	if len(bodyBytes) > 0 && len(bodyBytes) < 500 {
		return fmt.Errorf("%w: status %d, body: %s", baseErr, resp.StatusCode, string(bodyBytes))
	}

	return fmt.Errorf("%w: status %d", baseErr, resp.StatusCode)
}

// extractPayer reads the EIP-3009 sender from an EVM payload. Solana payers
// are only known once the settled transaction is parsed.
func extractPayer(payload x402.PaymentPayload) string {
	if x402.FamilyOf(payload.Network) != x402.FamilyEVM {
		return ""
	}
	evm, err := payload.EVM()
	if err != nil {
		return ""
	}
	return evm.Authorization.From
}

func isFacilitatorUnavailableError(err error) bool {
	return errors.Is(err, x402.ErrFacilitatorUnavailable)
}
