package http

import (
	"html/template"
	"io"
	"math/big"
	"net/http"
	"strings"

	x402 "github.com/x402-echo/echo-merchant"
)

// PaywallData populates the browser paywall.
type PaywallData struct {
	// Amount is the price in whole tokens (USDC).
	Amount float64 `json:"amount"`

	PaymentRequirements []x402.PaymentRequirement `json:"paymentRequirements"`

	// CurrentURL is the page to reload with an X-PAYMENT header once paid.
	CurrentURL string `json:"currentUrl"`

	// Testnet is true on networks that move no real value.
	Testnet bool `json:"testnet"`
}

// PaywallRenderer renders the 402 page shown to browsers.
type PaywallRenderer interface {
	Render(w io.Writer, data PaywallData) error
}

var paywallTemplate = template.Must(template.New("paywall").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Payment Required</title>
<style>
body{font-family:system-ui,sans-serif;max-width:32rem;margin:4rem auto;padding:0 1rem;color:#111}
.amount{font-size:2rem;font-weight:600}
.testnet{display:inline-block;background:#fde68a;border-radius:.25rem;padding:.1rem .4rem;font-size:.8rem}
code{word-break:break-all}
</style>
</head>
<body>
<h1>Payment Required</h1>
{{if .Testnet}}<p class="testnet">Testnet</p>{{end}}
{{range .PaymentRequirements}}
<p>{{.Description}}</p>
<p class="amount">${{printf "%.2f" $.Amount}} USDC</p>
<p>Network: <code>{{.Network}}</code><br>Pay to: <code>{{.PayTo}}</code></p>
{{end}}
<p>Connect a wallet that supports x402 to pay for <a href="{{.CurrentURL}}">{{.CurrentURL}}</a>. The payment is refunded as soon as it settles.</p>
<script>
window.x402 = {{.}};
</script>
</body>
</html>
`))

// HTMLPaywall is the built-in paywall page. It embeds the payment data as
// window.x402 for a wallet script to pick up.
type HTMLPaywall struct{}

// Render writes the paywall page.
func (HTMLPaywall) Render(w io.Writer, data PaywallData) error {
	return paywallTemplate.Execute(w, data)
}

// wantsPaywall reports whether the request comes from a browser that should
// see the HTML paywall instead of the JSON challenge.
func wantsPaywall(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html") &&
		strings.Contains(r.Header.Get("User-Agent"), "Mozilla")
}

// displayAmount converts a requirement's atomic amount to whole tokens.
func displayAmount(req x402.PaymentRequirement) float64 {
	chain, err := x402.GetChainConfig(req.Network)
	if err != nil {
		return 0
	}
	atomic, ok := new(big.Int).SetString(req.MaxAmountRequired, 10)
	if !ok {
		return 0
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(chain.Decimals)), nil)
	amount, _ := new(big.Rat).SetFrac(atomic, scale).Float64()
	return amount
}
