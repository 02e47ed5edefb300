// Package content serves the resource sold by the merchant: a receipt that
// echoes the settled payment and its refund.
package content

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strings"

	x402http "github.com/x402-echo/echo-merchant/http"
)

// Receipt is the JSON body returned to a paying client.
type Receipt struct {
	Message      string `json:"message"`
	Network      string `json:"network"`
	Payer        string `json:"payer"`
	Transaction  string `json:"transaction"`
	RefundTxHash string `json:"refundTxHash,omitempty"`
	Refunded     bool   `json:"refunded"`
}

const (
	msgRefunded    = "Payment received and refunded. Enjoy the content!"
	msgNotRefunded = "Payment received. The refund could not be sent and will be handled manually."
)

var receiptTemplate = template.Must(template.New("receipt").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Paid content</title>
</head>
<body>
<h1>{{.Message}}</h1>
<dl>
<dt>Network</dt><dd>{{.Network}}</dd>
<dt>Payer</dt><dd><code>{{.Payer}}</code></dd>
<dt>Payment</dt><dd><code>{{.Transaction}}</code></dd>
{{if .Refunded}}<dt>Refund</dt><dd><code>{{.RefundTxHash}}</code></dd>{{end}}
</dl>
</body>
</html>
`))

// Handler returns the protected resource. It must run behind the payment
// pipeline; requests that did not pay get a 500.
func Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info := x402http.GetPaymentFromContext(r.Context())
		if info == nil {
			slog.Default().Error("paid content requested without a settled payment", "path", r.URL.Path)
			http.Error(w, "payment context missing", http.StatusInternalServerError)
			return
		}

		receipt := NewReceipt(info)

		if strings.Contains(r.Header.Get("Accept"), "text/html") {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.WriteHeader(http.StatusOK)
			if err := receiptTemplate.Execute(w, receipt); err != nil {
				slog.Default().Error("failed to render receipt", "error", err)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		if err := json.NewEncoder(w).Encode(receipt); err != nil {
			slog.Default().Error("failed to encode receipt", "error", err)
		}
	})
}

// NewReceipt describes a settled payment.
func NewReceipt(info *x402http.PaymentInfo) Receipt {
	msg := msgNotRefunded
	if info.Refunded() {
		msg = msgRefunded
	}
	return Receipt{
		Message:      msg,
		Network:      info.Network,
		Payer:        info.Payer,
		Transaction:  info.Transaction,
		RefundTxHash: info.RefundTxHash,
		Refunded:     info.Refunded(),
	}
}
