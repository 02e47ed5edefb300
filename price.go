package x402

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strings"
)

// DefaultPrice is the price of a paid-content request when none is configured.
const DefaultPrice = "$0.01"

// DefaultMaxPriceOverride caps the price a client may request in the body.
const DefaultMaxPriceOverride = 100.0

// ParsePrice converts a money string such as "$0.01" or "0.25" into atomic
// units of a token with the given decimals. The result is always positive.
func ParsePrice(price string, decimals uint8) (*big.Int, error) {
	s := strings.TrimSpace(price)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return nil, fmt.Errorf("%w: empty price", ErrConfiguration)
	}

	amount, err := AmountToBigInt(s, int(decimals))
	if err != nil {
		return nil, fmt.Errorf("%w: price %q: %v", ErrConfiguration, price, err)
	}
	if amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: price %q must be positive", ErrConfiguration, price)
	}
	return amount, nil
}

type priceOverrideBody struct {
	Amount *float64 `json:"amount"`
}

// PriceOverride reads an optional {"amount": number} JSON body and returns the
// price it asks for (see PriceForAmount). Bodies without a numeric amount
// yield fallback.
func PriceOverride(body []byte, fallback string, max float64) string {
	if len(body) == 0 {
		return fallback
	}

	var parsed priceOverrideBody
	if err := json.Unmarshal(body, &parsed); err != nil || parsed.Amount == nil {
		return fallback
	}

	return PriceForAmount(*parsed.Amount, fallback, max)
}

// PriceForAmount formats amount (USD) as a price string rounded to cents.
// Anything that is not a finite number in (0, max], or that rounds to zero
// cents, yields fallback.
func PriceForAmount(amount float64, fallback string, max float64) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return fallback
	}
	if amount <= 0 || (max > 0 && amount > max) {
		return fallback
	}

	formatted := fmt.Sprintf("%.2f", amount)
	if formatted == "0.00" {
		return fallback
	}
	return "$" + formatted
}
