package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DailyLossDisabled is the sentinel that turns the daily-loss gate off.
const DailyLossDisabled = -999999.0

type RateLimits struct {
	BurstLimit     int     `yaml:"burst_limit"`
	SustainedLimit int     `yaml:"sustained_limit"`
	WindowSeconds  float64 `yaml:"window_seconds"`
}

type BackoffLimits struct {
	InitialSeconds float64 `yaml:"initial_seconds"`
	MaxSeconds     float64 `yaml:"max_seconds"`
	Multiplier     float64 `yaml:"multiplier"`
	JitterSeconds  float64 `yaml:"jitter_seconds"`
}

type OrderLimits struct {
	MaxOpenOrders       int     `yaml:"max_open_orders"`
	MaxDailyLoss        float64 `yaml:"max_daily_loss"`
	StaleTimeoutSeconds int     `yaml:"stale_timeout_seconds"`
}

type SafetyLimits struct {
	StopLossPrice      float64 `yaml:"stop_loss_price"`
	TrailingDistance   float64 `yaml:"trailing_stop_distance"`
	TrailingActivation float64 `yaml:"trailing_stop_activation"`
	FloorPrice         float64 `yaml:"floor_price"`
	MaxRetries         int     `yaml:"max_retries"`
	RetryDelayMs       int     `yaml:"retry_delay_ms"`
	SyncEvery          int     `yaml:"sync_every"`
	GracePeriodMs      int     `yaml:"grace_period_ms"`
}

type ArbLimits struct {
	MinEdge           float64 `yaml:"min_edge"`
	MinConfidenceFlip float64 `yaml:"min_confidence_flip"`
}

type SyncLimits struct {
	PositionIntervalSeconds float64 `yaml:"position_interval_seconds"`
}

type RiskLimits struct {
	Rate      RateLimits    `yaml:"rate"`
	Backoff   BackoffLimits `yaml:"backoff"`
	Orders    OrderLimits   `yaml:"orders"`
	Safety    SafetyLimits  `yaml:"safety"`
	Arbitrage ArbLimits     `yaml:"arbitrage"`
	Sync      SyncLimits    `yaml:"sync"`
}

func LoadRiskLimits(path string) (RiskLimits, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RiskLimits{}, fmt.Errorf("read risk limits: %w", err)
	}

	var limits RiskLimits
	if err := yaml.Unmarshal(data, &limits); err != nil {
		return RiskLimits{}, fmt.Errorf("parse risk limits: %w", err)
	}

	limits.ApplyDefaults()
	return limits, nil
}

// DefaultRiskLimits returns limits with every knob at its safe default.
func DefaultRiskLimits() RiskLimits {
	var limits RiskLimits
	limits.ApplyDefaults()
	return limits
}

// ApplyDefaults fills zero values with safe defaults so a sparse YAML
// file (or none at all) still yields a runnable configuration.
func (rl *RiskLimits) ApplyDefaults() {
	if rl.Rate.BurstLimit <= 0 {
		rl.Rate.BurstLimit = 240
	}
	if rl.Rate.SustainedLimit <= 0 {
		rl.Rate.SustainedLimit = 40
	}
	if rl.Rate.WindowSeconds <= 0 {
		rl.Rate.WindowSeconds = 1.0
	}
	if rl.Backoff.InitialSeconds <= 0 {
		rl.Backoff.InitialSeconds = 1.0
	}
	if rl.Backoff.MaxSeconds <= 0 {
		rl.Backoff.MaxSeconds = 300.0
	}
	if rl.Backoff.Multiplier <= 1 {
		rl.Backoff.Multiplier = 2.0
	}
	if rl.Backoff.JitterSeconds <= 0 {
		rl.Backoff.JitterSeconds = 1.0
	}
	if rl.Orders.MaxOpenOrders <= 0 {
		rl.Orders.MaxOpenOrders = 20
	}
	if rl.Orders.MaxDailyLoss == 0 {
		rl.Orders.MaxDailyLoss = DailyLossDisabled
	}
	if rl.Orders.StaleTimeoutSeconds <= 0 {
		rl.Orders.StaleTimeoutSeconds = 300
	}
	if rl.Safety.StopLossPrice <= 0 {
		rl.Safety.StopLossPrice = 0.94
	}
	if rl.Safety.TrailingDistance <= 0 {
		rl.Safety.TrailingDistance = 0.02
	}
	if rl.Safety.TrailingActivation <= 0 {
		rl.Safety.TrailingActivation = 0.98
	}
	if rl.Safety.FloorPrice <= 0 {
		rl.Safety.FloorPrice = 0.01
	}
	if rl.Safety.MaxRetries <= 0 {
		rl.Safety.MaxRetries = 15
	}
	if rl.Safety.RetryDelayMs <= 0 {
		rl.Safety.RetryDelayMs = 100
	}
	if rl.Safety.SyncEvery <= 0 {
		rl.Safety.SyncEvery = 8
	}
	if rl.Safety.GracePeriodMs <= 0 {
		rl.Safety.GracePeriodMs = 2000
	}
	if rl.Arbitrage.MinEdge <= 0 {
		rl.Arbitrage.MinEdge = 0.02
	}
	if rl.Arbitrage.MinConfidenceFlip <= 0 {
		rl.Arbitrage.MinConfidenceFlip = 0.6
	}
	if rl.Sync.PositionIntervalSeconds <= 0 {
		rl.Sync.PositionIntervalSeconds = 2.0
	}
}

func (rl RiskLimits) StaleOrderTimeout() time.Duration {
	return time.Duration(rl.Orders.StaleTimeoutSeconds) * time.Second
}

func (rl RiskLimits) SafetyRetryDelay() time.Duration {
	return time.Duration(rl.Safety.RetryDelayMs) * time.Millisecond
}

func (rl RiskLimits) GracePeriod() time.Duration {
	return time.Duration(rl.Safety.GracePeriodMs) * time.Millisecond
}

func (rl RiskLimits) SyncInterval() time.Duration {
	return time.Duration(rl.Sync.PositionIntervalSeconds * float64(time.Second))
}
