// Package refund routes a settled payment to the refunder for its chain
// family.
package refund

import (
	"context"
	"errors"
	"fmt"
	"time"

	x402 "github.com/x402-echo/echo-merchant"
)

// EVMRefunder returns an EVM payment to the payer.
type EVMRefunder interface {
	Refund(ctx context.Context, recipient string, requirement x402.PaymentRequirement) (string, error)
}

// SVMRefunder returns a Solana payment to the payer using the accounts
// recovered from the payment transaction.
type SVMRefunder interface {
	Refund(ctx context.Context, recipient string, requirement x402.PaymentRequirement, svmCtx *x402.SvmContext) (string, error)
}

// Request describes one refund.
type Request struct {
	Recipient   string
	Requirement x402.PaymentRequirement
	SvmContext  *x402.SvmContext
}

// Result is the outcome of a refund. Err is set when the refund could not be
// sent; TxHash is set otherwise.
type Result struct {
	TxHash string
	Err    error
}

// Refunded reports whether a refund transaction was sent.
func (r Result) Refunded() bool {
	return r.Err == nil && r.TxHash != ""
}

// Dispatcher selects the refunder for a requirement's network.
type Dispatcher struct {
	evm     EVMRefunder
	svm     SVMRefunder
	timeout time.Duration
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEVMRefunder enables refunds on EVM networks.
func WithEVMRefunder(r EVMRefunder) Option {
	return func(d *Dispatcher) {
		d.evm = r
	}
}

// WithSVMRefunder enables refunds on Solana networks.
func WithSVMRefunder(r SVMRefunder) Option {
	return func(d *Dispatcher) {
		d.svm = r
	}
}

// WithTimeout bounds each refund.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		d.timeout = timeout
	}
}

// NewDispatcher creates a Dispatcher. A family without a refunder yields
// ErrMissingCredentials results.
func NewDispatcher(opts ...Option) *Dispatcher {
	d := &Dispatcher{}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch sends the refund and reports the outcome. It never panics and
// never returns a partial result.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	if req.Recipient == "" {
		return failed(errors.New("missing recipient"))
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	var (
		hash string
		err  error
	)
	switch family := x402.FamilyOf(req.Requirement.Network); family {
	case x402.FamilyEVM:
		if d.evm == nil {
			return failed(fmt.Errorf("%w for %s", x402.ErrMissingCredentials, family))
		}
		hash, err = d.evm.Refund(ctx, req.Recipient, req.Requirement)
	case x402.FamilySVM:
		if d.svm == nil {
			return failed(fmt.Errorf("%w for %s", x402.ErrMissingCredentials, family))
		}
		if req.SvmContext == nil {
			return failed(errors.New("missing Solana refund context"))
		}
		hash, err = d.svm.Refund(ctx, req.Recipient, req.Requirement, req.SvmContext)
	case x402.FamilyUnknown:
		return failed(fmt.Errorf("%w: %s", x402.ErrUnsupportedNetwork, req.Requirement.Network))
	}

	if err != nil {
		return failed(err)
	}
	return Result{TxHash: hash}
}

func failed(err error) Result {
	if !errors.Is(err, x402.ErrRefundFailed) {
		err = fmt.Errorf("%w: %w", x402.ErrRefundFailed, err)
	}
	return Result{Err: err}
}
