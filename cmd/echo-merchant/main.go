package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"

	x402 "github.com/x402-echo/echo-merchant"
	"github.com/x402-echo/echo-merchant/config"
	"github.com/x402-echo/echo-merchant/evm"
	x402http "github.com/x402-echo/echo-merchant/http"
	"github.com/x402-echo/echo-merchant/internal/httpapi"
	"github.com/x402-echo/echo-merchant/mcp"
	"github.com/x402-echo/echo-merchant/refund"
	"github.com/x402-echo/echo-merchant/svm"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Default().Error("echo-merchant stopped", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("echo-merchant", flag.ExitOnError)
	configFile := fs.String("config", os.Getenv(config.EnvConfigFile), "JSON config file (optional)")
	port := fs.Int("port", 0, "Server port (overrides PORT)")
	facilitatorURL := fs.String("facilitator", "", "Facilitator URL (overrides FACILITATOR_URL)")
	publicURL := fs.String("public-url", "", "Public base URL used in resource URLs and MCP discovery")
	logFormat := fs.String("log-format", "", "Log format: json or text (overrides LOG_FORMAT)")
	logLevel := fs.String("log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	verbose := fs.Bool("verbose", false, "Enable Gin debug output")
	_ = fs.Parse(args)

	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Port = *port
		case "facilitator":
			cfg.FacilitatorURL = *facilitatorURL
		case "public-url":
			cfg.PublicURL = *publicURL
		case "log-format":
			cfg.LogFormat = *logFormat
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := setupLogger(cfg); err != nil {
		return err
	}
	logger := slog.Default()
	logger.Info("starting echo merchant", "config", cfg)

	if !*verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	facilitator := newFacilitator(cfg)
	refunds, err := newDispatcher(cfg)
	if err != nil {
		return err
	}

	pipeline := x402http.NewPipeline(x402http.PipelineConfig{
		Facilitator:    facilitator,
		Parser:         svm.NewParser(cfg.SolanaRPCEndpoints()),
		Refunds:        refunds,
		Timeouts:       cfg.Timeouts,
		OnPaymentEvent: logEvent,
	})

	catalog := x402.NewCatalog(cfg.EVMPayTo, cfg.SVMPayTo)
	publicBase := cfg.PublicURL
	if publicBase == "" {
		publicBase = "http://localhost:" + strconv.Itoa(cfg.Port)
	}
	discovery := mcp.NewServer(catalog, x402http.NewRequirementsBuilder(facilitator), mcp.Config{
		BaseURL:          publicBase,
		MaxPriceOverride: cfg.MaxPriceOverride,
	})

	router := httpapi.NewRouter(httpapi.Config{
		Pipeline:         pipeline,
		Catalog:          catalog,
		Facilitator:      facilitator,
		Discovery:        discovery.Handler(),
		AllowedOrigins:   cfg.AllowedOrigins,
		MaxPriceOverride: cfg.MaxPriceOverride,
	})

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	for _, route := range catalog.Routes() {
		logger.Info("paid route registered", "path", "/api/"+route.Network+"/paid-content", "network", route.Network, "pay_to", route.PayTo)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr, "facilitator", cfg.FacilitatorURL)
		errCh <- server.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func setupLogger(cfg *config.Config) error {
	level, err := cfg.SlogLevel()
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func newFacilitator(cfg *config.Config) *x402http.FacilitatorClient {
	client := &x402http.FacilitatorClient{
		BaseURL:       cfg.FacilitatorURL,
		Client:        &http.Client{Timeout: cfg.Timeouts.RequestTimeout},
		Timeouts:      cfg.Timeouts,
		MaxRetries:    cfg.MaxRetries,
		Authorization: cfg.FacilitatorAuthorization.Reveal(),
	}
	if cfg.CDPAPIKeyID != "" && x402http.IsCoinbaseFacilitator(cfg.FacilitatorURL) {
		client.AuthorizationProvider = x402http.CDPAuthorizationProvider(cfg.CDPAPIKeyID, cfg.CDPAPIKeySecret.Reveal())
	}
	return client
}

func newDispatcher(cfg *config.Config) (*refund.Dispatcher, error) {
	logger := slog.Default()
	opts := []refund.Option{refund.WithTimeout(cfg.Timeouts.RefundTimeout)}

	if cfg.EVMPrivateKey != "" {
		key, err := evm.LoadPrivateKey(cfg.EVMPrivateKey.Reveal())
		if err != nil {
			return nil, fmt.Errorf("EVM_PRIVATE_KEY: %w", err)
		}
		refunder, err := evm.NewRefunder(key, evm.WithRPCURLs(cfg.EVMRPCURLs))
		if err != nil {
			return nil, err
		}
		logger.Info("evm refunds enabled", "address", refunder.Address().Hex())
		opts = append(opts, refund.WithEVMRefunder(refunder))
	} else {
		logger.Warn("EVM_PRIVATE_KEY not set, evm payments will not be refunded")
	}

	svmKey, err := loadSVMKey(cfg)
	if err != nil {
		return nil, err
	}
	if svmKey != nil {
		refunder, err := svm.NewRefunder(svmKey, cfg.SolanaRPCEndpoints())
		if err != nil {
			return nil, err
		}
		logger.Info("svm refunds enabled", "address", refunder.Address().String())
		opts = append(opts, refund.WithSVMRefunder(refunder))
	} else {
		logger.Warn("SVM_PRIVATE_KEY not set, solana payments will not be refunded")
	}

	return refund.NewDispatcher(opts...), nil
}

func loadSVMKey(cfg *config.Config) (solana.PrivateKey, error) {
	switch {
	case cfg.SVMPrivateKey != "":
		key, err := svm.LoadPrivateKey(cfg.SVMPrivateKey.Reveal())
		if err != nil {
			return nil, fmt.Errorf("SVM_PRIVATE_KEY: %w", err)
		}
		return key, nil
	case cfg.SVMKeygenFile != "":
		key, err := svm.LoadKeygenFile(cfg.SVMKeygenFile)
		if err != nil {
			return nil, fmt.Errorf("SVM_KEYGEN_FILE: %w", err)
		}
		return key, nil
	}
	return nil, nil
}

func logEvent(e x402.PaymentEvent) {
	attrs := []any{
		"request_id", e.RequestID,
		"stage", e.Stage,
		"network", e.Network,
		"amount", e.Amount,
		"duration", e.Duration,
	}
	if e.Payer != "" {
		attrs = append(attrs, "payer", e.Payer)
	}
	if e.Transaction != "" {
		attrs = append(attrs, "transaction", e.Transaction)
	}
	if e.RefundTransaction != "" {
		attrs = append(attrs, "refund_transaction", e.RefundTransaction)
	}
	if e.Error != nil {
		attrs = append(attrs, "error", e.Error)
	}
	slog.Default().Debug("payment event "+string(e.Type), attrs...)
}
