package x402

import (
	"errors"
	"math"
	"testing"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		price   string
		want    string
		wantErr bool
	}{
		{price: "$0.01", want: "10000"},
		{price: "0.01", want: "10000"},
		{price: " $1,000 ", want: "1000000000"},
		{price: "$0", wantErr: true},
		{price: "$", wantErr: true},
		{price: "-1", wantErr: true},
		{price: "free", wantErr: true},
		{price: "0.0000001", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.price, func(t *testing.T) {
			got, err := ParsePrice(tt.price, 6)
			if tt.wantErr {
				if !errors.Is(err, ErrConfiguration) {
					t.Errorf("ParsePrice(%q) error = %v; want ErrConfiguration", tt.price, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParsePrice(%q) error = %v", tt.price, err)
			}
			if got.String() != tt.want {
				t.Errorf("ParsePrice(%q) = %s; want %s", tt.price, got, tt.want)
			}
		})
	}
}

func TestPriceOverride(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"empty body", "", DefaultPrice},
		{"valid", `{"amount": 0.5}`, "$0.50"},
		{"rounds to cents", `{"amount": 1.234}`, "$1.23"},
		{"at max", `{"amount": 100}`, "$100.00"},
		{"over max", `{"amount": 100.01}`, DefaultPrice},
		{"zero", `{"amount": 0}`, DefaultPrice},
		{"negative", `{"amount": -3}`, DefaultPrice},
		{"rounds to zero", `{"amount": 0.001}`, DefaultPrice},
		{"string amount", `{"amount": "5"}`, DefaultPrice},
		{"missing amount", `{"other": 5}`, DefaultPrice},
		{"not json", `amount=5`, DefaultPrice},
		{"huge", `{"amount": 1e400}`, DefaultPrice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := PriceOverride([]byte(tt.body), DefaultPrice, DefaultMaxPriceOverride)
			if got != tt.want {
				t.Errorf("PriceOverride(%s) = %s; want %s", tt.body, got, tt.want)
			}
		})
	}
}

func TestPriceForAmount(t *testing.T) {
	tests := []struct {
		amount float64
		max    float64
		want   string
	}{
		{0.5, 100, "$0.50"},
		{100, 100, "$100.00"},
		{100.01, 100, DefaultPrice},
		{1000, 0, "$1000.00"},
		{0.001, 100, DefaultPrice},
		{-1, 100, DefaultPrice},
		{math.NaN(), 100, DefaultPrice},
		{math.Inf(1), 0, DefaultPrice},
	}

	for _, tt := range tests {
		if got := PriceForAmount(tt.amount, DefaultPrice, tt.max); got != tt.want {
			t.Errorf("PriceForAmount(%v, max %v) = %s; want %s", tt.amount, tt.max, got, tt.want)
		}
	}
}

func TestCatalog(t *testing.T) {
	evm := "0x209693Bc6afc0C5328bA36FaF03C514EF312287C"
	svm := "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin"

	c := NewCatalog(evm, svm)
	if got := len(c.Routes()); got != 11 {
		t.Fatalf("len(Routes()) = %d; want 11", got)
	}

	base, ok := c.Route(NetworkBase)
	if !ok {
		t.Fatal("base route missing")
	}
	if base.PayTo != evm || base.Price != DefaultPrice {
		t.Errorf("base route = %+v", base)
	}
	if base.Description != "Access to protected content on base mainnet" {
		t.Errorf("Description = %q", base.Description)
	}

	sol, _ := c.Route(NetworkSolanaDevnet)
	if sol.PayTo != svm {
		t.Errorf("solana-devnet PayTo = %s; want %s", sol.PayTo, svm)
	}

	evmOnly := NewCatalog(evm, "")
	if _, ok := evmOnly.Route(NetworkSolana); ok {
		t.Error("solana route should be absent without a Solana payee")
	}
	if got := len(evmOnly.Routes()); got != 9 {
		t.Errorf("len(Routes()) = %d; want 9", got)
	}
}

func TestNewCatalogFromRoutes(t *testing.T) {
	if _, err := NewCatalogFromRoutes(Route{Network: "ethereum"}); !errors.Is(err, ErrUnsupportedNetwork) {
		t.Errorf("error = %v; want ErrUnsupportedNetwork", err)
	}
	if _, err := NewCatalogFromRoutes(Route{Network: NetworkBase}, Route{Network: NetworkBase}); !errors.Is(err, ErrConfiguration) {
		t.Errorf("duplicate error = %v; want ErrConfiguration", err)
	}
}
