package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/arcpay-hq/settler/pkg/chains"
	"github.com/arcpay-hq/settler/pkg/logger"
)

// Config holds the configuration for the settler service
type Config struct {
	Port                   string
	RelayerPrivateKey      string
	AttestationBaseURL     string
	AttestationInterval    time.Duration
	AttestationMaxAttempts int
	PostgresDSN            string
	MerchantSettingsPath   string
	DefaultMerchantWallet  string
	DefaultMerchantChain   chains.ChainID
	Chains                 map[chains.ChainID]ChainConfig
	CircuitBreaker         CircuitBreakerConfig
	LoggerConfig           LoggerConfig
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// ChainConfig holds the configuration for a specific settlement chain
type ChainConfig struct {
	Chain              chains.ChainID
	RPCURL             string
	USDCAddress        string
	TransmitterAddress string
	ConfirmTimeout     time.Duration
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	port, err := GetEnvPort()
	if err != nil {
		return nil, err
	}

	attestationBaseURL, err := GetEnvAttestationBaseURL()
	if err != nil {
		return nil, err
	}

	attestationInterval, err := GetEnvAttestationInterval()
	if err != nil {
		return nil, err
	}

	attestationMaxAttempts, err := GetEnvAttestationMaxAttempts()
	if err != nil {
		return nil, err
	}

	defaultMerchantWallet, err := GetEnvDefaultMerchantWallet()
	if err != nil {
		return nil, err
	}

	defaultMerchantChain, err := GetEnvDefaultMerchantChain()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	chainConfigs, err := GetEnvChainConfigs()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Port:                   port,
		RelayerPrivateKey:      GetEnvRelayerPrivateKey(),
		AttestationBaseURL:     attestationBaseURL,
		AttestationInterval:    attestationInterval,
		AttestationMaxAttempts: attestationMaxAttempts,
		PostgresDSN:            GetEnvPostgresDSN(),
		MerchantSettingsPath:   GetEnvMerchantSettingsPath(),
		DefaultMerchantWallet:  defaultMerchantWallet,
		DefaultMerchantChain:   defaultMerchantChain,
		Chains:                 chainConfigs,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.RelayerPrivateKey == "" {
		return fmt.Errorf("RELAYER_PRIVATE_KEY environment variable is required")
	}
	if len(cfg.Chains) == 0 {
		return fmt.Errorf("at least one chain configuration is required")
	}
	for chain, chainConfig := range cfg.Chains {
		if chainConfig.USDCAddress == "" {
			return fmt.Errorf("%s_USDC_ADDRESS for chain %s is required", chain.Name(), chain)
		}
		if chainConfig.TransmitterAddress == "" {
			return fmt.Errorf("%s_TRANSMITTER_ADDRESS for chain %s is required", chain.Name(), chain)
		}
	}
	return nil
}
