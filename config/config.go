// Package config loads the merchant's process-wide settings: defaults, an
// optional JSON file read with gonfig, then environment variables.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tkanos/gonfig"

	x402 "github.com/x402-echo/echo-merchant"
	solutil "github.com/x402-echo/echo-merchant/internal/solana"
	"github.com/x402-echo/echo-merchant/validation"
)

const (
	defaultPort           = 8080
	defaultFacilitatorURL = "https://x402.org/facilitator"
	defaultMaxRetries     = 2

	redacted = "[REDACTED]"
)

// EnvConfigFile names the JSON config file when -config is not given.
const EnvConfigFile = "CONFIG_FILE"

// Secret is a credential. It never prints or logs its value.
type Secret string

// Reveal returns the raw value.
func (s Secret) Reveal() string { return string(s) }

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// GoString keeps %#v from printing the value.
func (s Secret) GoString() string { return strconv.Quote(s.String()) }

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value { return slog.StringValue(s.String()) }

// Config holds everything the merchant reads at startup.
type Config struct {
	Port      int
	PublicURL string

	FacilitatorURL           string
	FacilitatorAuthorization Secret
	CDPAPIKeyID              string
	CDPAPIKeySecret          Secret
	MaxRetries               int

	// EVMPayTo and SVMPayTo receive payments; at least one is required.
	EVMPayTo string
	SVMPayTo string

	// Refund signers. A family without a key is served unrefunded.
	EVMPrivateKey Secret
	SVMPrivateKey Secret
	SVMKeygenFile string

	SolanaRPCURL       string
	SolanaDevnetRPCURL string
	// EVMRPCURLs overrides the public RPC endpoint per EVM network.
	EVMRPCURLs map[string]string

	AllowedOrigins   []string
	MaxPriceOverride float64
	Timeouts         x402.TimeoutConfig

	LogFormat string
	LogLevel  string
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:             defaultPort,
		FacilitatorURL:   defaultFacilitatorURL,
		MaxRetries:       defaultMaxRetries,
		EVMRPCURLs:       map[string]string{},
		MaxPriceOverride: x402.DefaultMaxPriceOverride,
		Timeouts:         x402.DefaultTimeouts,
		LogFormat:        "json",
		LogLevel:         "info",
	}
}

// fileConfig is the JSON layout of the config file. gonfig applies the env
// tags on top of the file values.
type fileConfig struct {
	Port                      int    `env:"PORT"`
	PublicURL                 string `env:"PUBLIC_URL"`
	FacilitatorURL            string `env:"FACILITATOR_URL"`
	FacilitatorAuthorization  string `env:"FACILITATOR_AUTHORIZATION"`
	CDPAPIKeyID               string `env:"CDP_API_KEY"`
	CDPAPIKeySecret           string `env:"CDP_API_KEY_SECRET"`
	MaxRetries                int
	EVMReceivePaymentsAddress string `env:"EVM_RECEIVE_PAYMENTS_ADDRESS"`
	SVMReceivePaymentsAddress string `env:"SVM_RECEIVE_PAYMENTS_ADDRESS"`
	EVMPrivateKey             string `env:"EVM_PRIVATE_KEY"`
	SVMPrivateKey             string `env:"SVM_PRIVATE_KEY"`
	SVMKeygenFile             string `env:"SVM_KEYGEN_FILE"`
	SolanaRPCURL              string `env:"SOLANA_RPC_URL"`
	SolanaDevnetRPCURL        string `env:"SOLANA_DEVNET_RPC_URL"`
	EVMRPCURLs                map[string]string
	AllowedOrigins            []string
	MaxPriceOverride          float64
	VerifyTimeout             Duration
	SettleTimeout             Duration
	ParseTimeout              Duration
	RefundTimeout             Duration
	RequestTimeout            Duration
	LogFormat                 string `env:"LOG_FORMAT"`
	LogLevel                  string `env:"LOG_LEVEL"`
}

// Duration reads either a Go duration string ("30s") or nanoseconds.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		var err error
		d.Duration, err = time.ParseDuration(value)
		return err
	default:
		return errors.New("invalid duration")
	}
}

// Load reads the config file at path, when path is not empty, and then the
// environment.
func Load(path string) (*Config, error) {
	return load(path, os.Getenv)
}

func load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw := fileConfig{}
		if err := gonfig.GetConf(path, &raw); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		cfg.merge(raw)
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// merge copies the non-zero values of raw over c.
func (c *Config) merge(raw fileConfig) {
	setString(&c.PublicURL, raw.PublicURL)
	setString(&c.FacilitatorURL, raw.FacilitatorURL)
	setString(&c.CDPAPIKeyID, raw.CDPAPIKeyID)
	setString(&c.EVMPayTo, raw.EVMReceivePaymentsAddress)
	setString(&c.SVMPayTo, raw.SVMReceivePaymentsAddress)
	setString(&c.SVMKeygenFile, raw.SVMKeygenFile)
	setString(&c.SolanaRPCURL, raw.SolanaRPCURL)
	setString(&c.SolanaDevnetRPCURL, raw.SolanaDevnetRPCURL)
	setString(&c.LogFormat, raw.LogFormat)
	setString(&c.LogLevel, raw.LogLevel)
	setSecret(&c.FacilitatorAuthorization, raw.FacilitatorAuthorization)
	setSecret(&c.CDPAPIKeySecret, raw.CDPAPIKeySecret)
	setSecret(&c.EVMPrivateKey, raw.EVMPrivateKey)
	setSecret(&c.SVMPrivateKey, raw.SVMPrivateKey)

	if raw.Port != 0 {
		c.Port = raw.Port
	}
	if raw.MaxRetries != 0 {
		c.MaxRetries = raw.MaxRetries
	}
	if raw.MaxPriceOverride != 0 {
		c.MaxPriceOverride = raw.MaxPriceOverride
	}
	if len(raw.AllowedOrigins) > 0 {
		c.AllowedOrigins = raw.AllowedOrigins
	}
	for network, url := range raw.EVMRPCURLs {
		c.EVMRPCURLs[network] = url
	}

	setDuration(&c.Timeouts.VerifyTimeout, raw.VerifyTimeout)
	setDuration(&c.Timeouts.SettleTimeout, raw.SettleTimeout)
	setDuration(&c.Timeouts.ParseTimeout, raw.ParseTimeout)
	setDuration(&c.Timeouts.RefundTimeout, raw.RefundTimeout)
	setDuration(&c.Timeouts.RequestTimeout, raw.RequestTimeout)
}

func (c *Config) applyEnv(getenv func(string) string) error {
	setString(&c.PublicURL, getenv("PUBLIC_URL"))
	setString(&c.FacilitatorURL, getenv("FACILITATOR_URL"))
	setString(&c.CDPAPIKeyID, getenv("CDP_API_KEY"))
	setString(&c.EVMPayTo, getenv("EVM_RECEIVE_PAYMENTS_ADDRESS"))
	setString(&c.SVMPayTo, getenv("SVM_RECEIVE_PAYMENTS_ADDRESS"))
	setString(&c.SVMKeygenFile, getenv("SVM_KEYGEN_FILE"))
	setString(&c.SolanaRPCURL, getenv("SOLANA_RPC_URL"))
	setString(&c.SolanaDevnetRPCURL, getenv("SOLANA_DEVNET_RPC_URL"))
	setString(&c.LogFormat, getenv("LOG_FORMAT"))
	setString(&c.LogLevel, getenv("LOG_LEVEL"))
	setSecret(&c.FacilitatorAuthorization, getenv("FACILITATOR_AUTHORIZATION"))
	setSecret(&c.CDPAPIKeySecret, getenv("CDP_API_KEY_SECRET"))
	setSecret(&c.EVMPrivateKey, getenv("EVM_PRIVATE_KEY"))
	setSecret(&c.SVMPrivateKey, getenv("SVM_PRIVATE_KEY"))

	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT %q is not a number: %w", v, err)
		}
		c.Port = port
	}
	if v := getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		c.AllowedOrigins = SplitList(v)
	}
	for _, network := range x402.Networks() {
		if x402.FamilyOf(network) != x402.FamilyEVM {
			continue
		}
		if url := getenv(EVMRPCEnvName(network)); url != "" {
			c.EVMRPCURLs[network] = url
		}
	}
	return nil
}

// EVMRPCEnvName returns the variable overriding the RPC URL of an EVM
// network, e.g. EVM_RPC_URL_BASE_SEPOLIA.
func EVMRPCEnvName(network string) string {
	return "EVM_RPC_URL_" + strings.ToUpper(strings.ReplaceAll(network, "-", "_"))
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks the loaded configuration.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if err := validation.ValidateURL(c.FacilitatorURL); err != nil {
		return fmt.Errorf("facilitator url: %w", err)
	}
	if c.PublicURL != "" {
		if err := validation.ValidateURL(c.PublicURL); err != nil {
			return fmt.Errorf("public url: %w", err)
		}
	}
	if c.EVMPayTo == "" && c.SVMPayTo == "" {
		return errors.New("at least one of EVM_RECEIVE_PAYMENTS_ADDRESS or SVM_RECEIVE_PAYMENTS_ADDRESS is required")
	}
	if c.EVMPayTo != "" {
		if err := validation.ValidateAddress(c.EVMPayTo, x402.NetworkBase); err != nil {
			return fmt.Errorf("evm receive address: %w", err)
		}
	}
	if c.SVMPayTo != "" {
		if err := validation.ValidateAddress(c.SVMPayTo, x402.NetworkSolana); err != nil {
			return fmt.Errorf("svm receive address: %w", err)
		}
	}
	if (c.CDPAPIKeyID == "") != (c.CDPAPIKeySecret == "") {
		return errors.New("CDP_API_KEY and CDP_API_KEY_SECRET must be set together")
	}
	for network, url := range c.EVMRPCURLs {
		if x402.FamilyOf(network) != x402.FamilyEVM {
			return fmt.Errorf("rpc url for %s: %w", network, x402.ErrUnsupportedNetwork)
		}
		if err := validation.ValidateURL(url); err != nil {
			return fmt.Errorf("rpc url for %s: %w", network, err)
		}
	}
	for _, url := range []string{c.SolanaRPCURL, c.SolanaDevnetRPCURL} {
		if url == "" {
			continue
		}
		if err := validation.ValidateURL(url); err != nil {
			return fmt.Errorf("solana rpc url: %w", err)
		}
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	if c.MaxPriceOverride <= 0 {
		return fmt.Errorf("max price override must be positive, got %v", c.MaxPriceOverride)
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("log format must be json or text, got %q", c.LogFormat)
	}
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return c.Timeouts.Validate()
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// SolanaRPCEndpoints returns the configured Solana RPC URLs by network.
func (c *Config) SolanaRPCEndpoints() solutil.RPCEndpoints {
	endpoints := solutil.RPCEndpoints{}
	if c.SolanaRPCURL != "" {
		endpoints[x402.NetworkSolana] = c.SolanaRPCURL
	}
	if c.SolanaDevnetRPCURL != "" {
		endpoints[x402.NetworkSolanaDevnet] = c.SolanaDevnetRPCURL
	}
	return endpoints
}

// LogValue implements slog.LogValuer. Secrets only report whether they are set.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("port", c.Port),
		slog.String("public_url", c.PublicURL),
		slog.String("facilitator_url", c.FacilitatorURL),
		slog.Bool("facilitator_authorization", c.FacilitatorAuthorization != ""),
		slog.Bool("cdp_credentials", c.CDPAPIKeyID != ""),
		slog.String("evm_pay_to", c.EVMPayTo),
		slog.String("svm_pay_to", c.SVMPayTo),
		slog.Bool("evm_refunds", c.EVMPrivateKey != ""),
		slog.Bool("svm_refunds", c.SVMPrivateKey != "" || c.SVMKeygenFile != ""),
		slog.Any("allowed_origins", c.AllowedOrigins),
		slog.Float64("max_price_override", c.MaxPriceOverride),
		slog.String("log_level", c.LogLevel),
	)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setSecret(dst *Secret, v string) {
	if v != "" {
		*dst = Secret(v)
	}
}

func setDuration(dst *time.Duration, v Duration) {
	if v.Duration != 0 {
		*dst = v.Duration
	}
}
