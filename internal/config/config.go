// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Platform identities
	OwnerAddress   string // Platform owner; may mutate fee parameters
	ArbiterAddress string // Trusted dispute arbiter
	FeeRecipient   string // Receives the platform cut of every payment

	// Fee parameters (initial values; owner-mutable at runtime)
	FeeRateBps int64  // Basis points, e.g. 250 = 2.5%
	FeeCap     string // Absolute cap per payment, decimal amount

	// Security
	AuthDisabled bool // Development only: skip wallet-signature verification

	// Policy
	EscrowRequireRegistered bool // Restrict escrow creation to registered participants

	// Observability
	OTLPEndpoint string // OTLP gRPC endpoint; empty disables tracing
}

const (
	DefaultPort       = "8080"
	DefaultEnv        = "development"
	DefaultLogLevel   = "info"
	DefaultFeeRateBps = 250
	DefaultFeeCap     = "1000"
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", DefaultPort),
		Env:            getEnv("ENV", DefaultEnv),
		LogLevel:       getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:    os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		OwnerAddress:   os.Getenv("OWNER_ADDRESS"),
		ArbiterAddress: os.Getenv("ARBITER_ADDRESS"),
		FeeRecipient:   os.Getenv("FEE_RECIPIENT"),
		FeeRateBps:     getEnvInt64("FEE_RATE_BPS", DefaultFeeRateBps),
		FeeCap:         getEnv("FEE_CAP", DefaultFeeCap),
		AuthDisabled:   os.Getenv("AUTH_DISABLED") == "true",
		OTLPEndpoint:   os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		EscrowRequireRegistered: os.Getenv("ESCROW_REQUIRE_REGISTERED") == "true",
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.OwnerAddress == "" {
		return fmt.Errorf("OWNER_ADDRESS is required")
	}
	if c.FeeRecipient == "" {
		return fmt.Errorf("FEE_RECIPIENT is required")
	}
	if c.ArbiterAddress == "" {
		return fmt.Errorf("ARBITER_ADDRESS is required")
	}
	if c.FeeRateBps < 0 || c.FeeRateBps > 10000 {
		return fmt.Errorf("FEE_RATE_BPS must be between 0 and 10000")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}
