package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/arcpay-hq/settler/pkg/chains"
	"github.com/arcpay-hq/settler/pkg/logger"
)

const (
	// DefaultPort defines the default port for the HTTP API server
	DefaultPort = "8080"

	// DefaultAttestationBaseURL defines the default attestation service endpoint
	DefaultAttestationBaseURL = "https://iris-api-sandbox.circle.com"

	// DefaultAttestationInterval defines the default attestation polling interval in seconds
	DefaultAttestationInterval = 30

	// DefaultAttestationMaxAttempts defines the default attestation polling budget.
	// 60 attempts at 30s is a 30-minute cap; attestations historically land in 10-20 minutes.
	DefaultAttestationMaxAttempts = 60

	// DefaultMerchantSettingsPath defines the default merchant settings file location
	DefaultMerchantSettingsPath = "merchantSettings.json"

	// DefaultMerchantChain defines the fallback merchant settlement chain
	DefaultMerchantChain = chains.ArcTestnet

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker
	DefaultCircuitBreakerReset = 15

	// DefaultConfirmTimeout defines the default on-chain confirmation wait in seconds
	DefaultConfirmTimeout = 120

	// Chain specific values
	// Note: these are the values to use but can still be overridden by
	// environment variables for debugging purposes

	// Arc testnet

	DefaultArcTestnetRPCURL = "https://rpc.testnet.arc.network"

	// Ethereum Sepolia

	DefaultSepoliaRPCURL             = "https://ethereum-sepolia-rpc.publicnode.com"
	SepoliaUSDCAddress               = "0x1c7D4B196Cb0C7B01d743Fbc6116a902379C7238"
	SepoliaMessageTransmitterAddress = "0x7865fAfC2db2093669d92c0F33AeEF291086BEFD"

	// Polygon Amoy

	DefaultAmoyRPCURL             = "https://rpc-amoy.polygon.technology"
	AmoyUSDCAddress               = "0x41E94Eb019C0762f9Bfcf9Fb1E58725BfB0e7582"
	AmoyMessageTransmitterAddress = "0x7865fAfC2db2093669d92c0F33AeEF291086BEFD"
)

// chainDefaults holds per-chain default values, overridable by environment variables.
// Arc testnet contract addresses have no public defaults and must be supplied
// via ARC_USDC_ADDRESS and ARC_TRANSMITTER_ADDRESS.
var chainDefaults = map[chains.ChainID]ChainConfig{
	chains.ArcTestnet: {
		Chain:  chains.ArcTestnet,
		RPCURL: DefaultArcTestnetRPCURL,
	},
	chains.EthereumSepolia: {
		Chain:              chains.EthereumSepolia,
		RPCURL:             DefaultSepoliaRPCURL,
		USDCAddress:        SepoliaUSDCAddress,
		TransmitterAddress: SepoliaMessageTransmitterAddress,
	},
	chains.PolygonAmoy: {
		Chain:              chains.PolygonAmoy,
		RPCURL:             DefaultAmoyRPCURL,
		USDCAddress:        AmoyUSDCAddress,
		TransmitterAddress: AmoyMessageTransmitterAddress,
	},
}

// GetEnvPort returns the API server port from environment variables
func GetEnvPort() (string, error) {
	port := os.Getenv("PORT")
	if port == "" {
		return DefaultPort, nil
	}

	// Validate port format
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid PORT value: %s, must be a valid integer", port)
	}
	return port, nil
}

// GetEnvRelayerPrivateKey returns the relayer signing key from environment variables
func GetEnvRelayerPrivateKey() string {
	return os.Getenv("RELAYER_PRIVATE_KEY")
}

// GetEnvPostgresDSN returns the PostgreSQL DSN for the settlement ledger.
// An empty value selects the in-memory ledger.
func GetEnvPostgresDSN() string {
	return os.Getenv("POSTGRES_DSN")
}

// GetEnvMerchantSettingsPath returns the merchant settings file path from environment variables
func GetEnvMerchantSettingsPath() string {
	path := os.Getenv("MERCHANT_SETTINGS_PATH")
	if path == "" {
		return DefaultMerchantSettingsPath
	}
	return path
}

// GetEnvAttestationBaseURL returns the attestation service endpoint from environment variables
func GetEnvAttestationBaseURL() (string, error) {
	baseURL := os.Getenv("ATTESTATION_BASE_URL")
	if baseURL == "" {
		return DefaultAttestationBaseURL, nil
	}

	// Validate URL format
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return "", fmt.Errorf("invalid ATTESTATION_BASE_URL value: %s, must be a valid URL", baseURL)
	}
	return baseURL, nil
}

// GetEnvAttestationInterval returns the attestation polling interval from environment variables
func GetEnvAttestationInterval() (time.Duration, error) {
	interval := os.Getenv("ATTESTATION_INTERVAL")
	if interval == "" {
		return time.Duration(DefaultAttestationInterval) * time.Second, nil
	}

	// use atoi
	seconds, err := strconv.Atoi(interval)
	if err != nil {
		return 0, fmt.Errorf("invalid ATTESTATION_INTERVAL value: %s, must be an integer", interval)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("ATTESTATION_INTERVAL must be greater than 0")
	}
	return time.Duration(seconds) * time.Second, nil
}

// GetEnvAttestationMaxAttempts returns the attestation polling budget from environment variables
func GetEnvAttestationMaxAttempts() (int, error) {
	maxAttempts := os.Getenv("ATTESTATION_MAX_ATTEMPTS")
	if maxAttempts == "" {
		return DefaultAttestationMaxAttempts, nil
	}

	attempts, err := strconv.Atoi(maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("invalid ATTESTATION_MAX_ATTEMPTS value: %s, must be an integer", maxAttempts)
	}
	if attempts <= 0 {
		return 0, fmt.Errorf("ATTESTATION_MAX_ATTEMPTS must be greater than 0")
	}
	return attempts, nil
}

// GetEnvDefaultMerchantWallet returns the fallback merchant wallet from environment variables
func GetEnvDefaultMerchantWallet() (string, error) {
	wallet := os.Getenv("MERCHANT_WALLET_ADDRESS")
	if wallet == "" {
		return "", nil
	}

	// Validate Ethereum address format
	if !common.IsHexAddress(wallet) {
		return "", fmt.Errorf("invalid MERCHANT_WALLET_ADDRESS value: %s, must be a valid address", wallet)
	}
	return wallet, nil
}

// GetEnvDefaultMerchantChain returns the fallback merchant settlement chain from environment variables
func GetEnvDefaultMerchantChain() (chains.ChainID, error) {
	chain := os.Getenv("MERCHANT_DESTINATION_CHAIN")
	if chain == "" {
		return DefaultMerchantChain, nil
	}

	parsed, err := chains.Parse(chain)
	if err != nil {
		return "", fmt.Errorf("invalid MERCHANT_DESTINATION_CHAIN value: %v", err)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled from environment variables
func GetEnvCircuitBreakerEnabled() (bool, error) {
	enabled := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if enabled == "" {
		return DefaultCircuitBreakerEnabled, nil
	}

	if enabled == "true" {
		return true, nil
	} else if enabled == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be 'true' or 'false'", enabled)
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker threshold from environment variables
func GetEnvCircuitBreakerThreshold() (int, error) {
	threshold := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if threshold == "" {
		return DefaultCircuitBreakerThreshold, nil
	}

	thresholdInt, err := strconv.Atoi(threshold)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be an integer", threshold)
	}
	if thresholdInt <= 0 {
		return 0, fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be greater than 0")
	}
	return thresholdInt, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker window duration from environment variables
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	window := os.Getenv("CIRCUIT_BREAKER_WINDOW")
	if window == "" {
		return DefaultCircuitBreakerWindow * time.Second, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(window)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_WINDOW value: %s, must be a valid duration string", window)
	}
	return parsed, nil
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout from environment variables
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	reset := os.Getenv("CIRCUIT_BREAKER_RESET")
	if reset == "" {
		return DefaultCircuitBreakerReset * time.Second, nil
	}

	// Validate duration format
	parsed, err := time.ParseDuration(reset)
	if err != nil {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_RESET value: %s, must be a valid duration string", reset)
	}
	return parsed, nil
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	level := os.Getenv("LOG_LEVEL")
	switch level {
	case "":
		return logger.InfoLevel, nil
	case "debug":
		return logger.DebugLevel, nil
	case "info":
		return logger.InfoLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	}
	return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be one of debug, info, notice, error", level)
}

// GetEnvLogColoring returns whether log coloring is enabled from environment variables
func GetEnvLogColoring() (bool, error) {
	coloring := os.Getenv("LOG_COLORING")
	if coloring == "" {
		return true, nil
	}

	if coloring == "true" {
		return true, nil
	} else if coloring == "false" {
		return false, nil
	}

	return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be 'true' or 'false'", coloring)
}

// GetEnvChainConfigs returns the chain configurations for all supported chains
// based on the environment variables and per-chain defaults
func GetEnvChainConfigs() (map[chains.ChainID]ChainConfig, error) {
	configs := make(map[chains.ChainID]ChainConfig, len(chains.ChainList))

	for _, chain := range chains.ChainList {
		cfg := chainDefaults[chain]
		name := chain.Name()

		if rpc := os.Getenv(name + "_RPC_URL"); rpc != "" {
			cfg.RPCURL = rpc
		}
		if usdc := os.Getenv(name + "_USDC_ADDRESS"); usdc != "" {
			if !common.IsHexAddress(usdc) {
				return nil, fmt.Errorf("invalid %s_USDC_ADDRESS value: %s, must be a valid address", name, usdc)
			}
			cfg.USDCAddress = usdc
		}
		if transmitter := os.Getenv(name + "_TRANSMITTER_ADDRESS"); transmitter != "" {
			if !common.IsHexAddress(transmitter) {
				return nil, fmt.Errorf("invalid %s_TRANSMITTER_ADDRESS value: %s, must be a valid address", name, transmitter)
			}
			cfg.TransmitterAddress = transmitter
		}

		cfg.ConfirmTimeout = time.Duration(DefaultConfirmTimeout) * time.Second
		if timeout := os.Getenv(name + "_CONFIRM_TIMEOUT"); timeout != "" {
			parsed, err := time.ParseDuration(timeout)
			if err != nil {
				return nil, fmt.Errorf("invalid %s_CONFIRM_TIMEOUT value: %s, must be a valid duration string", name, timeout)
			}
			cfg.ConfirmTimeout = parsed
		}

		configs[chain] = cfg
	}

	return configs, nil
}
