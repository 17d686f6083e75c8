// Package config builds the process configuration from the environment.
// FromEnv is called once in main; components receive their settings as
// values and never read the environment themselves.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config carries every tunable the server reads at startup. Unset or
// malformed variables fall back to the listed defaults.
type Config struct {
	// Port is the HTTP listen port (PORT, default 8080).
	Port string

	// DatabaseURL is the PostgreSQL connection string (DATABASE_URL).
	// Empty selects the in-memory store.
	DatabaseURL string
	// RedisURL enables the read-through cache when set (REDIS_URL).
	RedisURL string
	// CacheTTL bounds cached read staleness (CACHE_TTL, default 30s).
	CacheTTL time.Duration

	// DriftGatewayURL is the self-hosted drift gateway base URL
	// (DRIFT_GATEWAY_URL, default http://localhost:8787).
	DriftGatewayURL string
	// HyperliquidAPIURL is the hyperliquid info API base URL
	// (HYPERLIQUID_API_URL, default the public mainnet endpoint).
	HyperliquidAPIURL string

	// Reconciliation loop tuning (RECON_*, FILL_LOOKBACK,
	// ACCOUNT_TIMEOUT, SHUTDOWN_GRACE).
	ReconInterval    time.Duration
	ReconWorkers     int
	ReconMaxAttempts int
	ReconBackoffBase time.Duration
	ReconBackoffMax  time.Duration
	FillLookback     time.Duration
	AccountTimeout   time.Duration
	ShutdownGrace    time.Duration

	// StoreMaxRetries bounds optimistic-concurrency retries per write
	// (STORE_MAX_RETRIES, default 3).
	StoreMaxRetries int

	// Hedge classification thresholds (HEDGE_DRIFT_RATIO,
	// HEDGE_BROKEN_RATIO, HEDGE_MIN_NOTIONAL).
	HedgeDriftRatio  decimal.Decimal
	HedgeBrokenRatio decimal.Decimal
	HedgeMinNotional decimal.Decimal
}

// FromEnv reads the configuration from the environment.
func FromEnv() Config {
	return Config{
		Port: getenv("PORT", "8080"),

		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		CacheTTL:    getduration("CACHE_TTL", 30*time.Second),

		DriftGatewayURL:   getenv("DRIFT_GATEWAY_URL", "http://localhost:8787"),
		HyperliquidAPIURL: getenv("HYPERLIQUID_API_URL", "https://api.hyperliquid.xyz"),

		ReconInterval:    getduration("RECON_INTERVAL", 15*time.Second),
		ReconWorkers:     getint("RECON_WORKERS", 4),
		ReconMaxAttempts: getint("RECON_MAX_ATTEMPTS", 3),
		ReconBackoffBase: getduration("RECON_BACKOFF_BASE", 500*time.Millisecond),
		ReconBackoffMax:  getduration("RECON_BACKOFF_MAX", 5*time.Second),
		FillLookback:     getduration("FILL_LOOKBACK", 24*time.Hour),
		AccountTimeout:   getduration("ACCOUNT_TIMEOUT", 30*time.Second),
		ShutdownGrace:    getduration("SHUTDOWN_GRACE", 10*time.Second),

		StoreMaxRetries: getint("STORE_MAX_RETRIES", 3),

		HedgeDriftRatio:  getdecimal("HEDGE_DRIFT_RATIO", "0.02"),
		HedgeBrokenRatio: getdecimal("HEDGE_BROKEN_RATIO", "0.10"),
		HedgeMinNotional: getdecimal("HEDGE_MIN_NOTIONAL", "10"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getdecimal(key, fallback string) decimal.Decimal {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			return d
		}
	}
	return decimal.RequireFromString(fallback)
}
