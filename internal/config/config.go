package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Polymarket CLOB API
	ClobBaseURL  string
	GammaBaseURL string
	WSURL        string

	// Derived API credentials (L2 auth)
	APIKey        string
	APISecret     string
	APIPassphrase string
	WalletAddress string

	// Markets to trade (15m up/down windows per symbol)
	Symbols []string

	// Risk
	RiskLimitsPath string

	// Durable state
	PositionsDBPath   string
	ClaimCooldownPath string

	// Timing
	PositionSyncInterval time.Duration
	StaleOrderTimeout    time.Duration
	StatusRefreshEvery   time.Duration

	// Telemetry
	LogLevel string
	LogFile  string
}

func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		ClobBaseURL:  envStr("POLYMARKET_CLOB_URL", "https://clob.polymarket.com"),
		GammaBaseURL: envStr("POLYMARKET_GAMMA_URL", "https://gamma-api.polymarket.com"),
		WSURL:        envStr("POLYMARKET_WS_URL", "wss://ws-subscriptions-clob.polymarket.com"),

		APIKey:        envStr("POLYMARKET_API_KEY", ""),
		APISecret:     envStr("POLYMARKET_API_SECRET", ""),
		APIPassphrase: envStr("POLYMARKET_API_PASSPHRASE", ""),
		WalletAddress: envStr("POLYMARKET_WALLET_ADDRESS", ""),

		Symbols: envList("MARKET_SYMBOLS", []string{"btc", "eth"}),

		RiskLimitsPath: envStr("RISK_LIMITS_PATH", "internal/config/risk_limits.yaml"),

		PositionsDBPath:   envStr("POSITIONS_DB_PATH", "data/positions.db"),
		ClaimCooldownPath: envStr("CLAIM_COOLDOWN_PATH", "data/claim_cooldown"),

		PositionSyncInterval: time.Duration(envInt("POSITION_SYNC_INTERVAL_SEC", 30)) * time.Second,
		StaleOrderTimeout:    time.Duration(envInt("STALE_ORDER_TIMEOUT_SEC", 300)) * time.Second,
		StatusRefreshEvery:   time.Duration(envInt("STATUS_REFRESH_SEC", 10)) * time.Second,

		LogLevel: envStr("LOG_LEVEL", "info"),
		LogFile:  envStr("LOG_FILE", ""),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
