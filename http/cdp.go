package http

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strings"

	cdpjwt "github.com/coinbase/cdp-sdk/go/auth"
)

const (
	// CoinbaseFacilitatorURL is the CDP-hosted x402 v1 facilitator.
	CoinbaseFacilitatorURL = "https://api.cdp.coinbase.com/platform/v2/x402"

	cdpSDKVersion = "1.29.0"
)

// CDPAuthorizationProvider returns an AuthorizationProvider that signs each
// facilitator request with a short-lived CDP JWT bound to its method, host
// and path. A signing failure is logged and the request goes out unsigned,
// which the facilitator rejects.
func CDPAuthorizationProvider(apiKeyID, apiKeySecret string) AuthorizationProvider {
	return func(req *http.Request) string {
		jwt, err := cdpjwt.GenerateJWT(cdpjwt.JwtOptions{
			KeyID:         apiKeyID,
			KeySecret:     apiKeySecret,
			RequestMethod: req.Method,
			RequestHost:   req.URL.Host,
			RequestPath:   req.URL.Path,
		})
		if err != nil {
			slog.Default().Error("failed to generate CDP JWT", "method", req.Method, "path", req.URL.Path, "error", err)
			return ""
		}
		req.Header.Set("Correlation-Context", correlationContext())
		return "Bearer " + jwt
	}
}

// IsCoinbaseFacilitator reports whether baseURL points at the CDP facilitator.
func IsCoinbaseFacilitator(baseURL string) bool {
	u, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	return strings.HasSuffix(u.Hostname(), "coinbase.com")
}

func correlationContext() string {
	data := map[string]string{
		"sdk_version":  cdpSDKVersion,
		"sdk_language": "go",
		"source":       "x402-echo-merchant",
	}

	keys := make([]string, 0, len(data))
	for key := range data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", key, url.QueryEscape(data[key])))
	}
	return strings.Join(parts, ",")
}
