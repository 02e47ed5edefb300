package http

import (
	"context"
	"net/http"

	"github.com/x402-echo/echo-merchant/http/internal/helpers"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// PaymentContextKey is the context key for the settled payment handed to the
// protected handler.
const PaymentContextKey = contextKey("x402_payment")

// PaymentInfo describes the settled payment a protected handler is serving.
type PaymentInfo struct {
	Network     string
	Payer       string
	Transaction string

	// RefundTxHash is empty when the refund could not be sent.
	RefundTxHash string
}

// Refunded reports whether a refund transaction was broadcast.
func (p *PaymentInfo) Refunded() bool {
	return p != nil && p.RefundTxHash != ""
}

// GetPaymentFromContext extracts the settled payment from the request context.
// Returns nil if the request did not pass through the payment pipeline.
func GetPaymentFromContext(ctx context.Context) *PaymentInfo {
	info, ok := ctx.Value(PaymentContextKey).(*PaymentInfo)
	if !ok {
		return nil
	}
	return info
}

// forwardedHeaders are the only request headers the protected handler sees.
var forwardedHeaders = []string{"Accept", "User-Agent"}

// forwardContent invokes next with a synthetic GET that carries only the
// allow-listed headers and the settlement record, then makes sure the final
// response exposes X-PAYMENT-RESPONSE under its exact name.
func forwardContent(w http.ResponseWriter, r *http.Request, next http.Handler, info *PaymentInfo, paymentResponse string) {
	ctx := context.WithValue(r.Context(), PaymentContextKey, info)

	forward := r.Clone(ctx)
	forward.Method = http.MethodGet
	forward.Header = http.Header{}
	forward.Body = http.NoBody
	forward.ContentLength = 0
	forward.Form = nil
	forward.PostForm = nil
	forward.MultipartForm = nil
	for _, name := range forwardedHeaders {
		if v := r.Header.Get(name); v != "" {
			forward.Header.Set(name, v)
		}
	}
	helpers.SetPaymentResponseHeader(forward.Header, paymentResponse)

	helpers.SetPaymentResponseHeader(w.Header(), paymentResponse)
	pw := &paymentResponseWriter{ResponseWriter: w, value: paymentResponse}
	next.ServeHTTP(pw, forward)
	if !pw.wroteHeader {
		pw.WriteHeader(http.StatusOK)
	}
}

// paymentResponseWriter sets X-PAYMENT-RESPONSE right before the handler's
// headers are written, so a handler cannot drop or canonicalize it.
type paymentResponseWriter struct {
	http.ResponseWriter
	value       string
	wroteHeader bool
}

func (w *paymentResponseWriter) WriteHeader(status int) {
	if !w.wroteHeader {
		w.wroteHeader = true
		helpers.SetPaymentResponseHeader(w.ResponseWriter.Header(), w.value)
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *paymentResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush implements http.Flusher to support streaming responses.
func (w *paymentResponseWriter) Flush() {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *paymentResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
