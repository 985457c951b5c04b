package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/arcpay-hq/settler/pkg/api"
	"github.com/arcpay-hq/settler/pkg/attestation"
	"github.com/arcpay-hq/settler/pkg/chains"
	"github.com/arcpay-hq/settler/pkg/circuitbreaker"
	"github.com/arcpay-hq/settler/pkg/config"
	"github.com/arcpay-hq/settler/pkg/gateway"
	"github.com/arcpay-hq/settler/pkg/ledger"
	"github.com/arcpay-hq/settler/pkg/logger"
	"github.com/arcpay-hq/settler/pkg/merchant"
	"github.com/arcpay-hq/settler/pkg/settlement"
)

func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		lg.Notice("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	// Connect a gateway for every configured chain
	registry := gateway.NewRegistry()
	nonces := gateway.NewNonceManager(lg)
	for chain, chainCfg := range cfg.Chains {
		gw, err := gateway.NewEVMGateway(ctx, chainCfg, cfg.RelayerPrivateKey, nonces, lg)
		if err != nil {
			log.Fatalf("Failed to connect to chain %s: %v", chain, err)
		}
		defer gw.Close()
		registry.Register(gw)
		lg.InfoWithChain(chain, "Connected to %s, relayer %s", chainCfg.RPCURL, gw.RelayerAddress())
	}

	// Settlement ledger: Postgres when a DSN is configured, in-memory otherwise
	var led ledger.Ledger
	if cfg.PostgresDSN != "" {
		pgLedger, err := ledger.NewPostgresLedger(ctx, cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("Failed to connect to Postgres: %v", err)
		}
		defer pgLedger.Close()
		led = pgLedger
		lg.Info("Using Postgres settlement ledger")
	} else {
		led = ledger.NewMemoryLedger()
		lg.Notice("POSTGRES_DSN not set, settlement records will not survive restarts")
	}

	// Merchant directory with optional env-configured defaults
	var defaults *merchant.Settings
	if cfg.DefaultMerchantWallet != "" {
		defaults = &merchant.Settings{
			DestinationWallet: cfg.DefaultMerchantWallet,
			DestinationChain:  cfg.DefaultMerchantChain,
		}
	}
	directory, err := merchant.NewFileDirectory(cfg.MerchantSettingsPath, defaults)
	if err != nil {
		log.Fatalf("Failed to load merchant settings: %v", err)
	}

	// One circuit breaker per destination chain
	breakers := make(map[chains.ChainID]*circuitbreaker.CircuitBreaker)
	for chain := range cfg.Chains {
		breakers[chain] = circuitbreaker.NewCircuitBreaker(
			cfg.CircuitBreaker.Enabled,
			cfg.CircuitBreaker.Threshold,
			cfg.CircuitBreaker.WindowDuration,
			cfg.CircuitBreaker.ResetTimeout,
		)
	}

	poller := attestation.NewPoller(
		attestation.NewHTTPClient(cfg.AttestationBaseURL),
		cfg.AttestationInterval,
		cfg.AttestationMaxAttempts,
		lg,
	)

	engine := settlement.NewEngine(registry, poller, led, directory, breakers, lg)

	server := api.NewServer(cfg.Port, engine, directory, registry, breakers,
		os.Getenv("METRICS_API_KEY"), lg)

	lg.Info("Starting the settlement service...")
	if err := server.Start(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
