package x402

import "fmt"

// ErrorMessages overrides the text of selected 402 responses for a route.
type ErrorMessages struct {
	VerificationFailed string `json:"verificationFailed,omitempty"`
	SettlementFailed   string `json:"settlementFailed,omitempty"`
}

// Route is the merchant's configuration for one paid endpoint.
type Route struct {
	// Network is the legacy network name payments must use.
	Network string

	// Price is a money string such as "$0.01".
	Price string

	// PayTo is the merchant address for the route's chain family.
	PayTo string

	// Description is shown to clients in the 402 response.
	Description string

	// MimeType overrides the family default content type.
	MimeType string

	// MaxTimeoutSeconds overrides the family default when positive.
	MaxTimeoutSeconds int

	// Discoverable overrides the EVM default (true) when set.
	Discoverable *bool

	// Resource overrides the URL derived from the request.
	Resource string

	// InputSchema is merged into outputSchema.input.
	InputSchema map[string]interface{}

	// OutputSchema is published as outputSchema.output.
	OutputSchema map[string]interface{}

	ErrorMessages ErrorMessages
}

// WithPrice returns a copy of the route charging price instead.
func (r Route) WithPrice(price string) Route {
	r.Price = price
	return r
}

// Catalog is the immutable set of paid routes, one per network.
type Catalog struct {
	routes map[string]Route
}

// NewCatalog builds the default paid-content catalog for every supported
// network, paying EVM networks to evmPayTo and Solana networks to svmPayTo.
// A family with an empty address is left out of the catalog.
func NewCatalog(evmPayTo, svmPayTo string) *Catalog {
	c := &Catalog{routes: make(map[string]Route)}
	for _, network := range Networks() {
		var payTo string
		switch FamilyOf(network) {
		case FamilyEVM:
			payTo = evmPayTo
		case FamilySVM:
			payTo = svmPayTo
		}
		if payTo == "" {
			continue
		}
		c.routes[network] = Route{
			Network:     network,
			Price:       DefaultPrice,
			PayTo:       payTo,
			Description: describe(network),
		}
	}
	return c
}

// NewCatalogFromRoutes builds a catalog from explicit routes.
func NewCatalogFromRoutes(routes ...Route) (*Catalog, error) {
	c := &Catalog{routes: make(map[string]Route, len(routes))}
	for _, r := range routes {
		if _, err := GetChainConfig(r.Network); err != nil {
			return nil, err
		}
		if _, dup := c.routes[r.Network]; dup {
			return nil, fmt.Errorf("%w: duplicate route for %s", ErrConfiguration, r.Network)
		}
		c.routes[r.Network] = r
	}
	return c, nil
}

// Route returns the route for a network.
func (c *Catalog) Route(network string) (Route, bool) {
	r, ok := c.routes[network]
	return r, ok
}

// Routes returns every route ordered by network name.
func (c *Catalog) Routes() []Route {
	out := make([]Route, 0, len(c.routes))
	for _, network := range Networks() {
		if r, ok := c.routes[network]; ok {
			out = append(out, r)
		}
	}
	return out
}

func describe(network string) string {
	label := network
	switch network {
	case NetworkSolanaDevnet:
		label = "solana devnet"
	case NetworkPolygonAmoy:
		label = "polygon amoy testnet"
	case NetworkBase, NetworkSolana, NetworkAvalanche, NetworkSei, NetworkPolygon, NetworkPeaq:
		label = network + " mainnet"
	}
	return "Access to protected content on " + label
}
