// Package config defines all configuration for the arbitrage engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// deployment-specific fields overridable via environment variables:
// CLOB_API_URL, GAMMA_API_URL, POLYGON_CHAIN_ID, PRIVATE_KEY, RPC_URL,
// and SOCKS_PROXY / HTTPS_PROXY / HTTP_PROXY for the outbound transport.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	DryRun     bool             `mapstructure:"dry_run"`
	Wallet     WalletConfig     `mapstructure:"wallet"`
	API        APIConfig        `mapstructure:"api"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Scan       ScanConfig       `mapstructure:"scan"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Price      PriceConfig      `mapstructure:"price"`
	Dispatcher DispatcherConfig `mapstructure:"dispatcher"`
	Strategies StrategiesConfig `mapstructure:"strategies"`
	Orders     OrdersConfig     `mapstructure:"orders"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Control    ControlConfig    `mapstructure:"control"`
}

// WalletConfig holds the signing wallet. An empty PrivateKey disables order
// placement and contract calls but leaves scan/storage/price/dispatch running.
type WalletConfig struct {
	PrivateKey    string `mapstructure:"private_key"`
	FunderAddress string `mapstructure:"funder_address"`
	ChainID       int    `mapstructure:"chain_id"`
	RPCURL        string `mapstructure:"rpc_url"`
}

// APIConfig holds the venue endpoints.
type APIConfig struct {
	CLOBBaseURL  string `mapstructure:"clob_base_url"`
	GammaBaseURL string `mapstructure:"gamma_base_url"`
	Proxy        string `mapstructure:"proxy"`
}

// HTTPConfig tunes the shared request engine: token-bucket pacing, retry
// with exponential backoff, and request/response logging.
type HTTPConfig struct {
	Timeout            time.Duration `mapstructure:"timeout"`
	RateMaxRequests    int           `mapstructure:"rate_max_requests"`
	RateWindow         time.Duration `mapstructure:"rate_window"`
	RetryMaxRetries    int           `mapstructure:"retry_max_retries"`
	RetryInitialDelay  time.Duration `mapstructure:"retry_initial_delay"`
	RetryMaxDelay      time.Duration `mapstructure:"retry_max_delay"`
	RetryOnStatus      []int         `mapstructure:"retry_on_status"`
	EnableLogging      bool          `mapstructure:"enable_logging"`
	MaxResponseLogSize int           `mapstructure:"max_response_log_size"`
	LogDir             string        `mapstructure:"log_dir"`
}

// ScanConfig controls the paginated market crawl.
type ScanConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	PageLimit   int           `mapstructure:"page_limit"`
	MaxPages    int           `mapstructure:"max_pages"`
	ActiveOnly  bool          `mapstructure:"active_only"`
	TagID       int           `mapstructure:"tag_id"`
	MinLiquidity float64      `mapstructure:"min_liquidity"`
	MinVolume    float64      `mapstructure:"min_volume"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// StorageConfig controls the buffered write-through stage.
type StorageConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	MaxBufferSize int           `mapstructure:"max_buffer_size"`
	Concurrency   int           `mapstructure:"concurrency"`
	Timeout       time.Duration `mapstructure:"timeout"`
	Path          string        `mapstructure:"path"`
}

// PriceConfig controls the independent precise-price loop.
type PriceConfig struct {
	BatchSize     int           `mapstructure:"batch_size"`
	TokenInterval time.Duration `mapstructure:"token_interval"`
	BatchInterval time.Duration `mapstructure:"batch_interval"`
	ScanInterval  time.Duration `mapstructure:"scan_interval"`
	ActiveOnly    bool          `mapstructure:"active_only"`
	MinLiquidity  float64       `mapstructure:"min_liquidity"`
}

// DispatcherConfig controls market→strategy classification.
type DispatcherConfig struct {
	AutoDispatch  bool          `mapstructure:"auto_dispatch"`
	MinConfidence string        `mapstructure:"min_confidence"`
	Cooldown      time.Duration `mapstructure:"cooldown"`
}

// GlobalTradeConfig is the cross-strategy gate checked before any execution.
type GlobalTradeConfig struct {
	Enabled        bool    `mapstructure:"enabled" json:"enabled"`
	MaxDailyVolume float64 `mapstructure:"max_daily_volume" json:"maxDailyVolume"`
}

// MintSplitConfig tunes the multi-outcome price-sum strategy.
type MintSplitConfig struct {
	Enabled         bool          `mapstructure:"enabled" json:"enabled"`
	AutoExecute     bool          `mapstructure:"auto_execute" json:"autoExecute"`
	MinPriceSum     float64       `mapstructure:"min_price_sum" json:"minPriceSum"`
	MinOutcomes     int           `mapstructure:"min_outcomes" json:"minOutcomes"`
	MinLiquidity    float64       `mapstructure:"min_liquidity" json:"minLiquidity"`
	MinProfit       float64       `mapstructure:"min_profit" json:"minProfit"`
	MintAmount      float64       `mapstructure:"mint_amount" json:"mintAmount"`
	MaxSlippage     float64       `mapstructure:"max_slippage" json:"maxSlippage"`
	Cooldown        time.Duration `mapstructure:"cooldown" json:"cooldown"`
	MaxMintPerTrade float64       `mapstructure:"max_mint_per_trade" json:"maxMintPerTrade"`
	MaxMintPerDay   float64       `mapstructure:"max_mint_per_day" json:"maxMintPerDay"`
}

// ArbitrageLongLeg enables the buy-all-outcomes leg and its thresholds.
type ArbitrageLongLeg struct {
	Enabled     bool    `mapstructure:"enabled" json:"enabled"`
	MaxPriceSum float64 `mapstructure:"max_price_sum" json:"maxPriceSum"`
	MinSpread   float64 `mapstructure:"min_spread" json:"minSpread"`
}

// ArbitrageLongConfig tunes the binary ask-sum strategy.
type ArbitrageLongConfig struct {
	Enabled          bool             `mapstructure:"enabled" json:"enabled"`
	AutoExecute      bool             `mapstructure:"auto_execute" json:"autoExecute"`
	Long             ArbitrageLongLeg `mapstructure:"long" json:"long"`
	TradeAmount      float64          `mapstructure:"trade_amount" json:"tradeAmount"`
	MaxSlippage      float64          `mapstructure:"max_slippage" json:"maxSlippage"`
	Cooldown         time.Duration    `mapstructure:"cooldown" json:"cooldown"`
	MinLiquidity     float64          `mapstructure:"min_liquidity" json:"minLiquidity"`
	MaxTradePerOrder float64          `mapstructure:"max_trade_per_order" json:"maxTradePerOrder"`
	MaxTradePerDay   float64          `mapstructure:"max_trade_per_day" json:"maxTradePerDay"`
}

// MarketMakingConfig tunes the dual-side quoting strategy.
type MarketMakingConfig struct {
	Enabled            bool          `mapstructure:"enabled" json:"enabled"`
	AutoExecute        bool          `mapstructure:"auto_execute" json:"autoExecute"`
	SpreadPercent      float64       `mapstructure:"spread_percent" json:"spreadPercent"`
	OrderSize          float64       `mapstructure:"order_size" json:"orderSize"`
	MaxPositionPerSide float64       `mapstructure:"max_position_per_side" json:"maxPositionPerSide"`
	RefreshInterval    time.Duration `mapstructure:"refresh_interval" json:"refreshInterval"`
	MinVolume24h       float64       `mapstructure:"min_volume_24h" json:"minVolume24h"`
	MinTradesPerMinute float64       `mapstructure:"min_trades_per_minute" json:"minTradesPerMinute"`
	MaxLastTradeAge    time.Duration `mapstructure:"max_last_trade_age" json:"maxLastTradeAge"`
	MinMarketSpread    float64       `mapstructure:"min_market_spread" json:"minMarketSpread"`
	MaxMarketSpread    float64       `mapstructure:"max_market_spread" json:"maxMarketSpread"`
	MaxVolatility      float64       `mapstructure:"max_volatility" json:"maxVolatility"`
	PriceRangeMin      float64       `mapstructure:"price_range_min" json:"priceRangeMin"`
	PriceRangeMax      float64       `mapstructure:"price_range_max" json:"priceRangeMax"`
	MinDaysUntilEnd    int           `mapstructure:"min_days_until_end" json:"minDaysUntilEnd"`
	MinLiquidity       float64       `mapstructure:"min_liquidity" json:"minLiquidity"`
	MinOrderBookDepth  int           `mapstructure:"min_order_book_depth" json:"minOrderBookDepth"`
	MinDepthAmount     float64       `mapstructure:"min_depth_amount" json:"minDepthAmount"`
	MinOrderSize       float64       `mapstructure:"min_order_size" json:"minOrderSize"`
	EstimatedFeeRate   float64       `mapstructure:"estimated_fee_rate" json:"estimatedFeeRate"`

	EnableCompetitionDetection bool    `mapstructure:"enable_competition_detection" json:"enableCompetitionDetection"`
	MaxOrderRefreshRate        float64 `mapstructure:"max_order_refresh_rate" json:"maxOrderRefreshRate"`
	MaxFrontRunCount           int     `mapstructure:"max_front_run_count" json:"maxFrontRunCount"`

	SkewThreshold   float64       `mapstructure:"skew_threshold" json:"skewThreshold"`
	MaxOpenPosition float64       `mapstructure:"max_open_position" json:"maxOpenPosition"`
	AutoMerge       bool          `mapstructure:"auto_merge" json:"autoMerge"`
	MergeThreshold  float64       `mapstructure:"merge_threshold" json:"mergeThreshold"`
	MaxDailyLoss    float64       `mapstructure:"max_daily_loss" json:"maxDailyLoss"`
	Cooldown        time.Duration `mapstructure:"cooldown" json:"cooldown"`
}

// StrategiesConfig is the authoritative strategy configuration managed at
// runtime by the strategy config manager (hot updates, daily budgets).
type StrategiesConfig struct {
	Global            GlobalTradeConfig   `mapstructure:"global" json:"global"`
	MintSplit         MintSplitConfig     `mapstructure:"mint_split" json:"mintSplit"`
	ArbitrageLong     ArbitrageLongConfig `mapstructure:"arbitrage_long" json:"arbitrageLong"`
	MarketMaking      MarketMakingConfig  `mapstructure:"market_making" json:"marketMaking"`
	MaxOpportunityAge time.Duration       `mapstructure:"max_opportunity_age" json:"maxOpportunityAge"`
}

// OrdersConfig controls the serialized order executor.
type OrdersConfig struct {
	MaxRetries  int           `mapstructure:"max_retries"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	PacingDelay time.Duration `mapstructure:"pacing_delay"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ControlConfig controls the HTTP control surface.
type ControlConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// Default returns the built-in configuration; Load layers the YAML file and
// environment on top of it.
func Default() Config {
	return Config{
		API: APIConfig{
			GammaBaseURL: "https://gamma-api.polymarket.com",
		},
		Wallet: WalletConfig{ChainID: 137},
		HTTP: HTTPConfig{
			Timeout:            15 * time.Second,
			RateMaxRequests:    10,
			RateWindow:         time.Second,
			RetryMaxRetries:    3,
			RetryInitialDelay:  500 * time.Millisecond,
			RetryMaxDelay:      10 * time.Second,
			RetryOnStatus:      []int{429, 500, 502, 503, 504},
			EnableLogging:      true,
			MaxResponseLogSize: 2048,
			LogDir:             "logs",
		},
		Scan: ScanConfig{
			Interval:    time.Hour,
			PageLimit:   100,
			MaxPages:    50,
			ActiveOnly:  true,
			TaskTimeout: 1200 * time.Second,
		},
		Storage: StorageConfig{
			BatchSize:     50,
			FlushInterval: 5 * time.Second,
			MaxBufferSize: 500,
			Concurrency:   10,
			Timeout:       10 * time.Second,
			Path:          "engine.db",
		},
		Price: PriceConfig{
			BatchSize:     10,
			TokenInterval: 100 * time.Millisecond,
			BatchInterval: time.Second,
			ScanInterval:  60 * time.Second,
			ActiveOnly:    true,
			MinLiquidity:  100,
		},
		Dispatcher: DispatcherConfig{
			AutoDispatch:  true,
			MinConfidence: "LOW",
			Cooldown:      time.Minute,
		},
		Strategies: StrategiesConfig{
			Global: GlobalTradeConfig{Enabled: true, MaxDailyVolume: 10000},
			MintSplit: MintSplitConfig{
				MinPriceSum:     1.005,
				MinOutcomes:     2,
				MinLiquidity:    100,
				MinProfit:       0.01,
				MintAmount:      100,
				MaxSlippage:     1.0,
				Cooldown:        time.Minute,
				MaxMintPerTrade: 100,
				MaxMintPerDay:   1000,
			},
			ArbitrageLong: ArbitrageLongConfig{
				Long:             ArbitrageLongLeg{Enabled: true, MaxPriceSum: 0.995, MinSpread: 0.5},
				TradeAmount:      100,
				MaxSlippage:      1.0,
				Cooldown:         time.Minute,
				MinLiquidity:     100,
				MaxTradePerOrder: 100,
				MaxTradePerDay:   1000,
			},
			MarketMaking: MarketMakingConfig{
				SpreadPercent:      2.0,
				OrderSize:          50,
				MaxPositionPerSide: 200,
				RefreshInterval:    30 * time.Second,
				MinVolume24h:       1000,
				MinMarketSpread:    0.5,
				MaxMarketSpread:    10,
				PriceRangeMin:      0.05,
				PriceRangeMax:      0.95,
				MinDaysUntilEnd:    3,
				MinLiquidity:       1000,
				EstimatedFeeRate:   0.015,
				MergeThreshold:     10,
				Cooldown:           time.Minute,
			},
			MaxOpportunityAge: 300 * time.Second,
		},
		Orders: OrdersConfig{
			MaxRetries:  3,
			TaskTimeout: 60 * time.Second,
			PacingDelay: 200 * time.Millisecond,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Control: ControlConfig{Enabled: true, Port: 8080},
	}
}

// Load reads config from a YAML file with env var overrides. A missing file
// is not an error; the defaults plus environment are used as-is.
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(underlying(err)) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyEnv(&cfg)
	return &cfg, nil
}

// applyEnv layers the deployment environment over the file config.
func applyEnv(cfg *Config) {
	if u := os.Getenv("CLOB_API_URL"); u != "" {
		cfg.API.CLOBBaseURL = u
	}
	if u := os.Getenv("GAMMA_API_URL"); u != "" {
		cfg.API.GammaBaseURL = u
	}
	if id := os.Getenv("POLYGON_CHAIN_ID"); id != "" {
		if n, err := strconv.Atoi(id); err == nil {
			cfg.Wallet.ChainID = n
		}
	}
	if key := os.Getenv("PRIVATE_KEY"); key != "" {
		cfg.Wallet.PrivateKey = key
	}
	if u := os.Getenv("RPC_URL"); u != "" {
		cfg.Wallet.RPCURL = u
	}
}

// HasSigner reports whether a signing key is configured. Without one, order
// placement and contract calls stay disabled while the read-only pipeline runs.
func (c *Config) HasSigner() bool {
	return c.Wallet.PrivateKey != ""
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.API.GammaBaseURL == "" {
		return fmt.Errorf("api.gamma_base_url is required")
	}
	if c.Scan.PageLimit <= 0 {
		return fmt.Errorf("scan.page_limit must be > 0")
	}
	if c.Storage.BatchSize <= 0 || c.Storage.MaxBufferSize < c.Storage.BatchSize {
		return fmt.Errorf("storage buffer sizing invalid: batch %d, max %d",
			c.Storage.BatchSize, c.Storage.MaxBufferSize)
	}
	if c.HTTP.RateMaxRequests <= 0 || c.HTTP.RateWindow <= 0 {
		return fmt.Errorf("http rate limit requires positive max_requests and window")
	}
	switch c.Dispatcher.MinConfidence {
	case "HIGH", "MEDIUM", "LOW":
	default:
		return fmt.Errorf("dispatcher.min_confidence must be HIGH, MEDIUM or LOW")
	}
	return nil
}

func underlying(err error) error {
	type unwrapper interface{ Unwrap() error }
	for {
		u, ok := err.(unwrapper)
		if !ok {
			return err
		}
		next := u.Unwrap()
		if next == nil {
			return err
		}
		err = next
	}
}
