// Package config loads application configuration from environment
// variables and validates it at startup.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Primary ledger configuration
	HorizonURL        string
	NetworkPassphrase string
	NetworkTag        string
	BaseReserve       decimal.Decimal

	// Secondary rail configuration
	SolanaRPCURL          string
	SolanaBridgeWallet    string
	SolanaLamportsPerUnit decimal.Decimal

	// Temporal configuration
	TemporalHost      string
	TemporalNamespace string
	TemporalTaskQueue string

	// Reconciliation configuration
	ReconcileInterval    time.Duration
	MinReconcileInterval time.Duration
}

// Load reads configuration from environment variables and validates all required fields.
// Returns an error if any required configuration is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	// Server configuration
	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	// Database configuration
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DATABASE_URL is required"))
	}

	// NATS configuration
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	// Primary ledger configuration
	cfg.HorizonURL = os.Getenv("HORIZON_URL")
	if cfg.HorizonURL == "" {
		errs = append(errs, fmt.Errorf("HORIZON_URL is required"))
	}

	cfg.NetworkPassphrase = os.Getenv("STELLAR_NETWORK_PASSPHRASE")
	if cfg.NetworkPassphrase == "" {
		errs = append(errs, fmt.Errorf("STELLAR_NETWORK_PASSPHRASE is required"))
	}

	cfg.NetworkTag = getEnvOrDefault("STELLAR_NETWORK_TAG", "testnet")

	baseReserve, err := parseDecimal("BASE_RESERVE", "2")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.BaseReserve = baseReserve
	}

	// Secondary rail configuration. Optional: when SOLANA_RPC_URL is unset
	// the secondary settlement processor is not started.
	cfg.SolanaRPCURL = os.Getenv("SOLANA_RPC_URL")
	cfg.SolanaBridgeWallet = os.Getenv("SOLANA_BRIDGE_WALLET")
	if cfg.SolanaRPCURL != "" && cfg.SolanaBridgeWallet == "" {
		errs = append(errs, fmt.Errorf("SOLANA_BRIDGE_WALLET is required when SOLANA_RPC_URL is set"))
	}

	lamports, err := parseDecimal("SOLANA_LAMPORTS_PER_UNIT", "1000000000")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.SolanaLamportsPerUnit = lamports
	}

	// Temporal configuration
	cfg.TemporalHost = getEnvOrDefault("TEMPORAL_HOST", "localhost:7233")
	cfg.TemporalNamespace = getEnvOrDefault("TEMPORAL_NAMESPACE", "default")
	cfg.TemporalTaskQueue = getEnvOrDefault("TEMPORAL_TASK_QUEUE", "settle-reconciliation")

	// Reconciliation configuration
	reconcileInterval, err := parseDuration("RECONCILE_INTERVAL", "60s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.ReconcileInterval = reconcileInterval
	}

	minInterval, err := parseDuration("MIN_RECONCILE_INTERVAL", "10s")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.MinReconcileInterval = minInterval
	}

	if cfg.MinReconcileInterval > cfg.ReconcileInterval {
		errs = append(errs, fmt.Errorf("MIN_RECONCILE_INTERVAL (%v) cannot be greater than RECONCILE_INTERVAL (%v)",
			cfg.MinReconcileInterval, cfg.ReconcileInterval))
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, fmt.Errorf("DatabaseURL is required"))
	}

	if c.HorizonURL == "" {
		errs = append(errs, fmt.Errorf("HorizonURL is required"))
	}

	if c.NetworkPassphrase == "" {
		errs = append(errs, fmt.Errorf("NetworkPassphrase is required"))
	}

	if c.BaseReserve.LessThanOrEqual(decimal.Zero) {
		errs = append(errs, fmt.Errorf("BaseReserve must be positive"))
	}

	if c.SolanaRPCURL != "" && c.SolanaBridgeWallet == "" {
		errs = append(errs, fmt.Errorf("SolanaBridgeWallet is required when SolanaRPCURL is set"))
	}

	if c.TemporalHost == "" {
		errs = append(errs, fmt.Errorf("TemporalHost is required"))
	}

	if c.TemporalNamespace == "" {
		errs = append(errs, fmt.Errorf("TemporalNamespace is required"))
	}

	if c.TemporalTaskQueue == "" {
		errs = append(errs, fmt.Errorf("TemporalTaskQueue is required"))
	}

	if c.MinReconcileInterval > c.ReconcileInterval {
		errs = append(errs, fmt.Errorf("MinReconcileInterval cannot be greater than ReconcileInterval"))
	}

	if c.ReconcileInterval < time.Second {
		errs = append(errs, fmt.Errorf("ReconcileInterval must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

// parseDecimal parses a decimal amount from an environment variable or uses a default.
func parseDecimal(key, defaultValue string) (decimal.Decimal, error) {
	value := getEnvOrDefault(key, defaultValue)
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%s: invalid decimal %q: %w", key, value, err)
	}
	return d, nil
}
