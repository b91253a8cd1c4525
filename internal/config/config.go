// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/fd1az/arbitrage-pipeline/internal/apperror"
)

// Config holds all application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Ethereum   EthereumConfig   `mapstructure:"ethereum"`
	Market     MarketConfig     `mapstructure:"market"`
	Search     SearchConfig     `mapstructure:"search"`
	Profit     ProfitConfig     `mapstructure:"profit"`
	Bundle     BundleConfig     `mapstructure:"bundle"`
	Relay      RelayConfig      `mapstructure:"relay"`
	Submission SubmissionConfig `mapstructure:"submission"`
	Risk       RiskConfig       `mapstructure:"risk"`
	Strategy   StrategyConfig   `mapstructure:"strategy"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	HealthPort  int    `mapstructure:"health_port"`
	TUIMode     bool   `mapstructure:"-"` // Set at runtime, not from config file
}

// EthereumConfig holds Ethereum node configuration.
type EthereumConfig struct {
	WebSocketURL   string        `mapstructure:"websocket_url"`
	HTTPURL        string        `mapstructure:"http_url"`
	ChainID        uint64        `mapstructure:"chain_id"`
	MaxReconnects  int           `mapstructure:"max_reconnects"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	// StallTimeout forces a reconnect when the head stream goes quiet.
	StallTimeout time.Duration `mapstructure:"stall_timeout"`
	// SignerKey is the hex private key used to sign bundle transactions.
	SignerKey string `mapstructure:"signer_key"`
}

// PoolConfig describes one watched liquidity pool.
type PoolConfig struct {
	Venue   string  `mapstructure:"venue"`
	Address string  `mapstructure:"address"`
	Kind    string  `mapstructure:"kind"` // constant-product | concentrated
	Fee     float64 `mapstructure:"fee"`  // fraction, 0.003 = 0.3%
	Token0  string  `mapstructure:"token0"`
	Token1  string  `mapstructure:"token1"`
}

// TokenConfig registers a token beyond the built-in mainnet set.
type TokenConfig struct {
	Symbol   string `mapstructure:"symbol"`
	Name     string `mapstructure:"name"`
	Address  string `mapstructure:"address"`
	Decimals uint8  `mapstructure:"decimals"`
}

// MarketConfig holds snapshot provider settings.
type MarketConfig struct {
	BaseToken     string        `mapstructure:"base_token"`
	Tokens        []TokenConfig `mapstructure:"tokens"`
	Pools         []PoolConfig  `mapstructure:"pools"`
	MempoolStream bool          `mapstructure:"mempool_stream"`
	MempoolWindow time.Duration `mapstructure:"mempool_window"`
	MaxPending    int           `mapstructure:"max_pending"`
}

// SearchConfig holds opportunity engine settings.
type SearchConfig struct {
	MaxHops          int       `mapstructure:"max_hops"`
	TradeSizes       []float64 `mapstructure:"trade_sizes"`
	MaxTickCrossings int       `mapstructure:"max_tick_crossings"`
	ExpansionBudget  int       `mapstructure:"expansion_budget"`
	// MaxPoolAge is how far a pool read may lag the snapshot it is priced in.
	MaxPoolAge time.Duration `mapstructure:"max_pool_age"`
}

// TradeSizesDecimal returns trade sizes as decimal.Decimal slice.
func (c *SearchConfig) TradeSizesDecimal() []decimal.Decimal {
	result := make([]decimal.Decimal, len(c.TradeSizes))
	for i, s := range c.TradeSizes {
		result[i] = decimal.NewFromFloat(s)
	}
	return result
}

// ProfitConfig holds profit evaluator thresholds and gas policy.
type ProfitConfig struct {
	MinProfit              float64 `mapstructure:"min_profit"`       // base-asset units
	MinROIPercent          float64 `mapstructure:"min_roi_percent"`  // 0.1 = 0.1%
	MaxGasFraction         float64 `mapstructure:"max_gas_fraction"` // of gross profit
	ConservativeMultiplier float64 `mapstructure:"conservative_multiplier"`
	AggressiveMultiplier   float64 `mapstructure:"aggressive_multiplier"`
	VolatilityWindow       int     `mapstructure:"volatility_window"`
	VolatilityThreshold    float64 `mapstructure:"volatility_threshold"` // gwei^2
	FlashLoanPremium       float64 `mapstructure:"flash_loan_premium"`
	FlashLoanGas           uint64  `mapstructure:"flash_loan_gas"`
	AvailableCapital       float64 `mapstructure:"available_capital"`
}

// MinProfitDecimal returns the min profit floor as decimal.Decimal.
func (c *ProfitConfig) MinProfitDecimal() decimal.Decimal {
	return decimal.NewFromFloat(c.MinProfit)
}

// BundleConfig holds bundle builder and simulator settings.
type BundleConfig struct {
	ExecutorAddress     string        `mapstructure:"executor_address"`
	ValidityWindow      time.Duration `mapstructure:"validity_window"`
	SimulationTimeout   time.Duration `mapstructure:"simulation_timeout"`
	DivergenceTolerance float64       `mapstructure:"divergence_tolerance"`
	GasTipGwei          float64       `mapstructure:"gas_tip_gwei"`
}

// ExecutorAddressHex returns the executor address as common.Address.
func (c *BundleConfig) ExecutorAddressHex() common.Address {
	return common.HexToAddress(c.ExecutorAddress)
}

// RelayEndpoint is one block-builder relay.
type RelayEndpoint struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// RelayConfig holds relay transport settings.
type RelayConfig struct {
	Endpoints         []RelayEndpoint `mapstructure:"endpoints"`
	RequestsPerMinute int             `mapstructure:"requests_per_minute"`
	Timeout           time.Duration   `mapstructure:"timeout"`
	// AuthKey signs X-Flashbots-Signature; falls back to ethereum.signer_key.
	AuthKey string `mapstructure:"auth_key"`
}

// SubmissionConfig holds submission coordinator policy.
type SubmissionConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	FeeBump        float64       `mapstructure:"fee_bump"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	Retention      time.Duration `mapstructure:"retention"`
}

// RiskConfig holds risk governor thresholds.
type RiskConfig struct {
	InitialBalance      float64 `mapstructure:"initial_balance"`
	BalanceFloor        float64 `mapstructure:"balance_floor"`
	MaxDailyLossPercent float64 `mapstructure:"max_daily_loss_percent"`
	MaxPositionPercent  float64 `mapstructure:"max_position_percent"`
	MaxGasPercent       float64 `mapstructure:"max_gas_percent"`
}

// StrategyConfig holds per-strategy flags, weights and selector thresholds.
type StrategyConfig struct {
	Enabled                map[string]bool    `mapstructure:"enabled"`
	Weights                map[string]float64 `mapstructure:"weights"`
	HighGasGwei            float64            `mapstructure:"high_gas_gwei"`
	MediumGasGwei          float64            `mapstructure:"medium_gas_gwei"`
	SkipVolatilityPercent  float64            `mapstructure:"skip_volatility_percent"`
	HighMempoolTxPerMinute float64            `mapstructure:"high_mempool_tx_per_minute"`
}

// ArchiveConfig selects the submission record archive backend.
type ArchiveConfig struct {
	Backend     string `mapstructure:"backend"` // memory | redis | postgres
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisPass   string `mapstructure:"redis_password"`
	RedisDB     int    `mapstructure:"redis_db"`
	RedisPrefix string `mapstructure:"redis_prefix"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	TraceProvider  string  `mapstructure:"trace_provider"` // zipkin | otlp-grpc | otlp-http | console | none
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	OTLPHeaders    string  `mapstructure:"otlp_headers"` // k1=v1,k2=v2
	SampleRatio    float64 `mapstructure:"sample_ratio"`
	MetricsOTLP    string  `mapstructure:"metrics_otlp_endpoint"`
	PrometheusPort int     `mapstructure:"prometheus_port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, apperror.New(apperror.CodeConfigurationInvalid,
				apperror.WithCause(err),
				apperror.WithContext("read config"))
		}
		// Config file not found is OK, use env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperror.New(apperror.CodeConfigurationInvalid,
			apperror.WithCause(err),
			apperror.WithContext("unmarshal config"))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	// App
	v.BindEnv("app.name", "ARB_APP_NAME", "SERVICE_NAME")
	v.BindEnv("app.environment", "ARB_ENVIRONMENT", "ENVIRONMENT")
	v.BindEnv("app.log_level", "ARB_LOG_LEVEL", "LOG_LEVEL")
	v.BindEnv("app.health_port", "ARB_HEALTH_PORT")

	// Ethereum
	v.BindEnv("ethereum.websocket_url", "ARB_ETH_WS_URL", "ETH_WS_URL")
	v.BindEnv("ethereum.http_url", "ARB_ETH_HTTP_URL", "ETH_HTTP_URL")
	v.BindEnv("ethereum.chain_id", "ARB_ETH_CHAIN_ID", "ETH_CHAIN_ID")
	v.BindEnv("ethereum.signer_key", "ARB_SIGNER_KEY", "SIGNER_PRIVATE_KEY")

	// Bundle / relay
	v.BindEnv("bundle.executor_address", "ARB_EXECUTOR_ADDRESS")
	v.BindEnv("relay.auth_key", "ARB_RELAY_AUTH_KEY", "FLASHBOTS_AUTH_KEY")

	// Profit / risk
	v.BindEnv("profit.min_profit", "ARB_MIN_PROFIT")
	v.BindEnv("profit.min_roi_percent", "ARB_MIN_ROI_PERCENT")
	v.BindEnv("risk.initial_balance", "ARB_INITIAL_BALANCE")
	v.BindEnv("risk.balance_floor", "ARB_BALANCE_FLOOR")

	// Archive
	v.BindEnv("archive.backend", "ARB_ARCHIVE_BACKEND")
	v.BindEnv("archive.redis_addr", "ARB_REDIS_ADDR", "REDIS_ADDR")
	v.BindEnv("archive.redis_password", "ARB_REDIS_PASSWORD", "REDIS_PASSWORD")
	v.BindEnv("archive.postgres_dsn", "ARB_POSTGRES_DSN", "DATABASE_URL")

	// Telemetry
	v.BindEnv("telemetry.enabled", "ARB_OTEL_ENABLED", "OTEL_ENABLED")
	v.BindEnv("telemetry.service_name", "ARB_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	v.BindEnv("telemetry.otlp_endpoint", "ARB_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "arbitrage-pipeline")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.health_port", 8080)

	// Ethereum defaults
	v.SetDefault("ethereum.chain_id", 1)
	v.SetDefault("ethereum.max_reconnects", 5)
	v.SetDefault("ethereum.initial_backoff", "1s")
	v.SetDefault("ethereum.max_backoff", "30s")
	v.SetDefault("ethereum.poll_interval", "2s")
	v.SetDefault("ethereum.stall_timeout", "30s")

	// Market defaults
	v.SetDefault("market.base_token", "WETH")
	v.SetDefault("market.mempool_stream", true)
	v.SetDefault("market.mempool_window", "1m")
	v.SetDefault("market.max_pending", 512)

	// Search defaults
	v.SetDefault("search.max_hops", 3)
	v.SetDefault("search.trade_sizes", []float64{1, 5, 10})
	v.SetDefault("search.max_tick_crossings", 2)
	v.SetDefault("search.expansion_budget", 10000)
	v.SetDefault("search.max_pool_age", "1m")

	// Profit defaults
	v.SetDefault("profit.min_profit", 0.01)
	v.SetDefault("profit.min_roi_percent", 0.1)
	v.SetDefault("profit.max_gas_fraction", 0.5)
	v.SetDefault("profit.conservative_multiplier", 1.05)
	v.SetDefault("profit.aggressive_multiplier", 1.1)
	v.SetDefault("profit.volatility_window", 10)
	v.SetDefault("profit.volatility_threshold", 25)
	v.SetDefault("profit.flash_loan_premium", 0.0005)
	v.SetDefault("profit.flash_loan_gas", 80000)
	v.SetDefault("profit.available_capital", 5)

	// Bundle defaults
	v.SetDefault("bundle.validity_window", "2s")
	v.SetDefault("bundle.simulation_timeout", "1500ms")
	v.SetDefault("bundle.divergence_tolerance", 0.05)
	v.SetDefault("bundle.gas_tip_gwei", 2)

	// Relay defaults
	v.SetDefault("relay.endpoints", []map[string]any{
		{"name": "flashbots", "url": "https://relay.flashbots.net"},
	})
	v.SetDefault("relay.requests_per_minute", 600)
	v.SetDefault("relay.timeout", "3s")

	// Submission defaults
	v.SetDefault("submission.max_attempts", 3)
	v.SetDefault("submission.initial_backoff", "100ms")
	v.SetDefault("submission.max_backoff", "1s")
	v.SetDefault("submission.fee_bump", 1.125)
	v.SetDefault("submission.poll_interval", "500ms")
	v.SetDefault("submission.retention", "24h")

	// Risk defaults
	v.SetDefault("risk.initial_balance", 10)
	v.SetDefault("risk.balance_floor", 1)
	v.SetDefault("risk.max_daily_loss_percent", 5)
	v.SetDefault("risk.max_position_percent", 50)
	v.SetDefault("risk.max_gas_percent", 80)

	// Strategy defaults
	v.SetDefault("strategy.enabled", map[string]bool{
		"direct":                 true,
		"cross-venue":            true,
		"multi-hop":              true,
		"concentrated-liquidity": true,
	})
	v.SetDefault("strategy.high_gas_gwei", 100)
	v.SetDefault("strategy.medium_gas_gwei", 60)
	v.SetDefault("strategy.skip_volatility_percent", 10)
	v.SetDefault("strategy.high_mempool_tx_per_minute", 1000)

	// Archive defaults
	v.SetDefault("archive.backend", "memory")
	v.SetDefault("archive.redis_prefix", "arb:submission:")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "arbitrage-pipeline")
	v.SetDefault("telemetry.trace_provider", "zipkin")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.prometheus_port", 9090)
}

func invalid(format string, args ...any) error {
	return apperror.New(apperror.CodeConfigurationInvalid,
		apperror.WithContext(fmt.Sprintf(format, args...)))
}

// Validate validates the configuration. Every failure carries CONFIGURATION_INVALID.
func (c *Config) Validate() error {
	if c.Ethereum.WebSocketURL == "" {
		return invalid("ethereum.websocket_url is required")
	}
	if c.Ethereum.HTTPURL == "" {
		return invalid("ethereum.http_url is required")
	}
	if !common.IsHexAddress(c.Bundle.ExecutorAddress) {
		return invalid("invalid bundle.executor_address: %q", c.Bundle.ExecutorAddress)
	}
	for i, t := range c.Market.Tokens {
		if t.Symbol == "" || !common.IsHexAddress(t.Address) || common.HexToAddress(t.Address) == (common.Address{}) {
			return invalid("market.tokens[%d] needs a symbol and a non-zero address", i)
		}
		if t.Decimals > 30 {
			return invalid("market.tokens[%d].decimals %d out of range", i, t.Decimals)
		}
	}
	if len(c.Market.Pools) == 0 {
		return invalid("market.pools cannot be empty")
	}
	for i, p := range c.Market.Pools {
		if !common.IsHexAddress(p.Address) {
			return invalid("market.pools[%d].address %q is not an address", i, p.Address)
		}
		if p.Kind != "constant-product" && p.Kind != "concentrated" {
			return invalid("market.pools[%d].kind %q unknown", i, p.Kind)
		}
		if p.Fee < 0 || p.Fee >= 1 {
			return invalid("market.pools[%d].fee %v out of range", i, p.Fee)
		}
	}

	if c.Search.MaxHops < 2 {
		return invalid("search.max_hops must be >= 2, got %d", c.Search.MaxHops)
	}
	if len(c.Search.TradeSizes) == 0 {
		return invalid("search.trade_sizes cannot be empty")
	}
	for _, s := range c.Search.TradeSizes {
		if s <= 0 {
			return invalid("search.trade_sizes must be positive, got %v", s)
		}
	}
	if c.Search.MaxPoolAge < 0 {
		return invalid("search.max_pool_age cannot be negative, got %s", c.Search.MaxPoolAge)
	}

	if c.Profit.ConservativeMultiplier < 1 {
		return invalid("profit.conservative_multiplier %v < 1 lowers inclusion odds", c.Profit.ConservativeMultiplier)
	}
	if c.Profit.AggressiveMultiplier < 1 {
		return invalid("profit.aggressive_multiplier %v < 1 lowers inclusion odds", c.Profit.AggressiveMultiplier)
	}
	if c.Profit.MaxGasFraction <= 0 || c.Profit.MaxGasFraction > 1 {
		return invalid("profit.max_gas_fraction must be in (0, 1], got %v", c.Profit.MaxGasFraction)
	}
	if c.Profit.VolatilityWindow < 2 {
		return invalid("profit.volatility_window must be >= 2")
	}

	if c.Bundle.ValidityWindow <= 0 {
		return invalid("bundle.validity_window must be positive")
	}
	if c.Bundle.DivergenceTolerance < 0 {
		return invalid("bundle.divergence_tolerance must be >= 0")
	}

	if len(c.Relay.Endpoints) == 0 {
		return invalid("relay.endpoints cannot be empty")
	}
	for i, r := range c.Relay.Endpoints {
		if r.URL == "" {
			return invalid("relay.endpoints[%d].url is required", i)
		}
	}

	if c.Submission.MaxAttempts < 1 {
		return invalid("submission.max_attempts must be >= 1")
	}
	if c.Submission.FeeBump <= 1 {
		return invalid("submission.fee_bump must be > 1, got %v", c.Submission.FeeBump)
	}

	if c.Risk.BalanceFloor < 0 || c.Risk.InitialBalance <= c.Risk.BalanceFloor {
		return invalid("risk.initial_balance must exceed risk.balance_floor")
	}
	for name, pct := range map[string]float64{
		"risk.max_daily_loss_percent": c.Risk.MaxDailyLossPercent,
		"risk.max_position_percent":   c.Risk.MaxPositionPercent,
		"risk.max_gas_percent":        c.Risk.MaxGasPercent,
	} {
		if pct <= 0 || pct > 100 {
			return invalid("%s must be in (0, 100], got %v", name, pct)
		}
	}

	switch c.Archive.Backend {
	case "memory":
	case "redis":
		if c.Archive.RedisAddr == "" {
			return invalid("archive.redis_addr is required for redis backend")
		}
	case "postgres":
		if c.Archive.PostgresDSN == "" {
			return invalid("archive.postgres_dsn is required for postgres backend")
		}
	default:
		return invalid("archive.backend %q unknown", c.Archive.Backend)
	}

	if c.Telemetry.Enabled {
		switch c.Telemetry.TraceProvider {
		case "zipkin", "otlp-grpc", "otlp-http", "console", "none":
		default:
			return invalid("telemetry.trace_provider %q unknown", c.Telemetry.TraceProvider)
		}
		if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
			return invalid("telemetry.sample_ratio must be in [0, 1], got %v", c.Telemetry.SampleRatio)
		}
	}

	return nil
}
