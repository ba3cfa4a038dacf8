// Package config provides configuration loading and validation.
package config

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration. Nothing here is hard-coded in
// the services: thresholds, TTLs, limits and endpoints are all injected.
type Config struct {
	App          AppConfig              `mapstructure:"app"`
	Chains       map[string]ChainConfig `mapstructure:"chains" validate:"required,min=1,dive"`
	Breaker      BreakerConfig          `mapstructure:"breaker"`
	Cache        CacheConfig            `mapstructure:"cache"`
	Verification VerificationConfig     `mapstructure:"verification"`
	FlashLoan    FlashLoanConfig        `mapstructure:"flashloan"`
	Withdrawal   WithdrawalConfig       `mapstructure:"withdrawal"`
	Telemetry    TelemetryConfig        `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
}

// ChainConfig holds per-chain endpoints and credentials.
type ChainConfig struct {
	ChainID   uint64           `mapstructure:"chain_id"`
	RPCURL    string           `mapstructure:"rpc_url" validate:"required,url"`
	Explorers []ExplorerConfig `mapstructure:"explorers" validate:"required,min=1,dive"`
}

// ExplorerConfig describes one explorer API source for a chain.
type ExplorerConfig struct {
	Name   string `mapstructure:"name" validate:"required"`
	APIURL string `mapstructure:"api_url" validate:"required,url"`
	APIKey string `mapstructure:"api_key"`
	WebURL string `mapstructure:"web_url" validate:"required,url"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	Threshold uint32        `mapstructure:"threshold"`
	Cooldown  time.Duration `mapstructure:"cooldown"`
}

// CacheConfig holds result cache settings. TTLs track the volatility of the
// cached data: prices go stale in seconds, contract handles in minutes.
type CacheConfig struct {
	Capacity        int           `mapstructure:"capacity"`
	PriceTTL        time.Duration `mapstructure:"price_ttl"`
	HandleTTL       time.Duration `mapstructure:"handle_ttl"`
	VerificationTTL time.Duration `mapstructure:"verification_ttl"`
}

// VerificationConfig holds transaction verification settings.
type VerificationConfig struct {
	MinConfirmations      uint64  `mapstructure:"min_confirmations"`
	AuthenticityThreshold float64 `mapstructure:"authenticity_threshold"`
	RequestsPerSecond     float64 `mapstructure:"requests_per_second"`
}

// ProviderConfig describes one flash-loan liquidity provider. Assets maps
// asset symbols to their token contract addresses.
type ProviderConfig struct {
	Name          string            `mapstructure:"name" validate:"required"`
	Chain         string            `mapstructure:"chain" validate:"required"`
	PoolAddress   string            `mapstructure:"pool_address"`
	FeeBps        int64             `mapstructure:"fee_bps" validate:"gte=0"`
	MaxLoanAmount float64           `mapstructure:"max_loan_amount" validate:"gt=0"`
	Assets        map[string]string `mapstructure:"assets" validate:"required,min=1"`
}

// MaxLoanAmountDecimal returns the provider cap as decimal.Decimal.
func (p *ProviderConfig) MaxLoanAmountDecimal() decimal.Decimal {
	return decimal.NewFromFloat(p.MaxLoanAmount)
}

// FlashLoanConfig holds flash-loan orchestration settings.
type FlashLoanConfig struct {
	Providers []ProviderConfig `mapstructure:"providers" validate:"dive"`
}

// WithdrawalConfig holds withdrawal guard settings.
type WithdrawalConfig struct {
	TreasuryAddress string        `mapstructure:"treasury_address"`
	DailyLimit      float64       `mapstructure:"daily_limit" validate:"gt=0"`
	MinInterval     time.Duration `mapstructure:"min_interval"`
	MinDelay        time.Duration `mapstructure:"min_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	Blacklist       []string      `mapstructure:"blacklist"`
	HistoryPath     string        `mapstructure:"history_path"`
	HistoryLimit    int           `mapstructure:"history_limit"`
}

// DailyLimitDecimal returns the daily limit as decimal.Decimal.
func (w *WithdrawalConfig) DailyLimitDecimal() decimal.Decimal {
	return decimal.NewFromFloat(w.DailyLimit)
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	PrometheusPort int    `mapstructure:"prometheus_port"`
	HealthPort     int    `mapstructure:"health_port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("CG")
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found is OK, use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.name", "CG_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "CG_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "CG_LOG_LEVEL", "LOG_LEVEL")

	// Breaker
	v.BindEnv("breaker.threshold", "CG_BREAKER_THRESHOLD")
	v.BindEnv("breaker.cooldown", "CG_BREAKER_COOLDOWN")

	// Verification
	v.BindEnv("verification.min_confirmations", "CG_MIN_CONFIRMATIONS")
	v.BindEnv("verification.requests_per_second", "CG_EXPLORER_RPS")

	// Withdrawal
	v.BindEnv("withdrawal.treasury_address", "CG_TREASURY_ADDRESS", "TREASURY_ADDRESS")
	v.BindEnv("withdrawal.daily_limit", "CG_WITHDRAWAL_DAILY_LIMIT")
	v.BindEnv("withdrawal.history_path", "CG_HISTORY_PATH")

	// Telemetry
	v.BindEnv("telemetry.enabled", "CG_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "CG_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "chainguard")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")

	// Breaker defaults
	v.SetDefault("breaker.threshold", 5)
	v.SetDefault("breaker.cooldown", "5m")

	// Cache defaults
	v.SetDefault("cache.capacity", 1000)
	v.SetDefault("cache.price_ttl", "30s")
	v.SetDefault("cache.handle_ttl", "30m")
	v.SetDefault("cache.verification_ttl", "5m")

	// Verification defaults
	v.SetDefault("verification.min_confirmations", 1)
	v.SetDefault("verification.authenticity_threshold", 0.80)
	v.SetDefault("verification.requests_per_second", 5)

	// Withdrawal defaults
	v.SetDefault("withdrawal.daily_limit", 10)
	v.SetDefault("withdrawal.min_interval", "1h")
	v.SetDefault("withdrawal.min_delay", "5m")
	v.SetDefault("withdrawal.max_delay", "30m")
	v.SetDefault("withdrawal.history_path", "chainguard.db")
	v.SetDefault("withdrawal.history_limit", 100)

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "chainguard")
	v.SetDefault("telemetry.prometheus_port", 9090)
	v.SetDefault("telemetry.health_port", 8081)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	for name, chain := range c.Chains {
		if chain.ChainID == 0 {
			return fmt.Errorf("chains.%s.chain_id is required", name)
		}
	}

	for _, p := range c.FlashLoan.Providers {
		if _, ok := c.Chains[p.Chain]; !ok {
			return fmt.Errorf("flashloan provider %s references unknown chain %s", p.Name, p.Chain)
		}
		if p.PoolAddress != "" && !common.IsHexAddress(p.PoolAddress) {
			return fmt.Errorf("invalid pool_address for provider %s: %s", p.Name, p.PoolAddress)
		}
		for asset, token := range p.Assets {
			if !common.IsHexAddress(token) {
				return fmt.Errorf("invalid token address for %s asset %s: %s", p.Name, asset, token)
			}
		}
	}

	if c.Withdrawal.TreasuryAddress != "" && !common.IsHexAddress(c.Withdrawal.TreasuryAddress) {
		return fmt.Errorf("invalid withdrawal.treasury_address: %s", c.Withdrawal.TreasuryAddress)
	}
	for _, addr := range c.Withdrawal.Blacklist {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("invalid blacklist entry: %s", addr)
		}
	}
	if c.Withdrawal.MaxDelay < c.Withdrawal.MinDelay {
		return fmt.Errorf("withdrawal.max_delay must be >= withdrawal.min_delay")
	}

	return nil
}
