// Package config defines the top-level configuration for the sniper engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SNIPEBOT_* environment variables.
type Config struct {
	Wallet   WalletConfig   `toml:"wallet"`
	Solana   SolanaConfig   `toml:"solana"`
	Jupiter  JupiterConfig  `toml:"jupiter"`
	Feed     FeedConfig     `toml:"feed"`
	Database DatabaseConfig `toml:"database"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Trading  TradingConfig  `toml:"trading"`
	Exit     ExitConfig     `toml:"exit"`
	Danger   DangerConfig   `toml:"danger"`
	Archive  ArchiveConfig  `toml:"archive"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// WalletConfig holds the signing keypair credentials.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// SolanaConfig holds RPC endpoints and confirmation parameters.
type SolanaConfig struct {
	RPCURL         string   `toml:"rpc_url"`
	FallbackRPCs   []string `toml:"fallback_rpcs"`
	ConfirmTimeout duration `toml:"confirm_timeout"`
	Commitment     string   `toml:"commitment"`
}

// JupiterConfig holds the swap aggregator API endpoints.
type JupiterConfig struct {
	QuoteHost string `toml:"quote_host"`
	SwapHost  string `toml:"swap_host"`
}

// FeedConfig holds the real-time trade feed parameters.
type FeedConfig struct {
	WsURL          string   `toml:"ws_url"`
	ReconnectDelay duration `toml:"reconnect_delay"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// TradingConfig holds execution parameters for the coordinator and executors.
type TradingConfig struct {
	Enabled bool `toml:"enabled"`
	// DefaultBuySOL is used when a buy request arrives without an amount.
	DefaultBuySOL float64 `toml:"default_buy_sol"`
	MaxRetries    int     `toml:"max_retries"`
	// BaseFeeLamports is the starting priority fee before multipliers.
	BaseFeeLamports uint64  `toml:"base_fee_lamports"`
	MaxFeeLamports  uint64  `toml:"max_fee_lamports"`
	RetryFeeFactor  float64 `toml:"retry_fee_factor"`
	// SellFeeFactor scales fees for exits relative to entries.
	SellFeeFactor float64 `toml:"sell_fee_factor"`
	// Slippage tolerances per urgency class, in basis points.
	SlippageNormalBps    int      `toml:"slippage_normal_bps"`
	SlippageUrgentBps    int      `toml:"slippage_urgent_bps"`
	SlippageEmergencyBps int      `toml:"slippage_emergency_bps"`
	MaxPriceImpactPct    float64  `toml:"max_price_impact_pct"`
	BuyRetryDelay        duration `toml:"buy_retry_delay"`
	SellRetryDelay       duration `toml:"sell_retry_delay"`
	QueueInterval        duration `toml:"queue_interval"`
	BuyTTL               duration `toml:"buy_ttl"`
	// MonitorInterval is the position-manager sweep cadence.
	MonitorInterval duration `toml:"monitor_interval"`
	// MonitorFanOut bounds concurrent per-position checks per sweep.
	MonitorFanOut int `toml:"monitor_fan_out"`
}

// TakeProfitLevel is one rung of the take-profit ladder.
type TakeProfitLevel struct {
	TargetPercent float64 `toml:"target_percent"`
	SellPercent   float64 `toml:"sell_percent"`
}

// ExitConfig holds stop-loss, trailing-stop, and take-profit parameters.
type ExitConfig struct {
	// HardStopFraction sets the initial stop at entry_price * fraction.
	HardStopFraction float64 `toml:"hard_stop_fraction"`
	// TrailActivatePct is the PnL% at which trailing arms.
	TrailActivatePct float64 `toml:"trail_activate_pct"`
	// Trail widths by PnL band, as fractions of the high-water mark.
	TrailWidthBase  float64 `toml:"trail_width_base"`
	TrailWidthMid   float64 `toml:"trail_width_mid"`
	TrailWidthTight float64 `toml:"trail_width_tight"`
	TrailMidPct     float64 `toml:"trail_mid_pct"`
	TrailTightPct   float64 `toml:"trail_tight_pct"`
	// Time-based stop: fires after MaxFlatHold when PnL% sits inside
	// [FlatLowPct, FlatHighPct].
	MaxFlatHold duration `toml:"max_flat_hold"`
	FlatLowPct  float64  `toml:"flat_low_pct"`
	FlatHighPct float64  `toml:"flat_high_pct"`

	TakeProfits []TakeProfitLevel `toml:"take_profits"`
}

// DangerConfig holds thresholds for the danger monitor's checks. Thresholds
// are configuration, not forked code paths.
type DangerConfig struct {
	SupplyInflatePct      float64  `toml:"supply_inflate_pct"`
	LiquidityEmergencyPct float64  `toml:"liquidity_emergency_pct"`
	LiquidityCriticalPct  float64  `toml:"liquidity_critical_pct"`
	ExodusPct             float64  `toml:"exodus_pct"`
	HolderDropPct         float64  `toml:"holder_drop_pct"`
	HolderWindow          duration `toml:"holder_window"`
	CreatorSellSupplyPct  float64  `toml:"creator_sell_supply_pct"`
	WhaleTxSupplyPct      float64  `toml:"whale_tx_supply_pct"`
	SellPressurePct       float64  `toml:"sell_pressure_pct"`
	SellPressureMinutes   int      `toml:"sell_pressure_minutes"`
	// TightenStep is how much a tighten_stop recommendation narrows the
	// trailing width.
	TightenStep float64 `toml:"tighten_step"`
}

// ArchiveConfig holds cold-storage archival parameters.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	Interval      duration `toml:"interval"`
	RetentionDays int      `toml:"retention_days"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Solana: SolanaConfig{
			RPCURL:         "https://api.mainnet-beta.solana.com",
			ConfirmTimeout: duration{45 * time.Second},
			Commitment:     "confirmed",
		},
		Jupiter: JupiterConfig{
			QuoteHost: "https://quote-api.jup.ag",
			SwapHost:  "https://quote-api.jup.ag",
		},
		Feed: FeedConfig{
			WsURL:          "wss://pumpportal.fun/api/data",
			ReconnectDelay: duration{2 * time.Second},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "snipebot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "snipebot-data",
			ForcePathStyle: true,
		},
		Trading: TradingConfig{
			Enabled:              false,
			DefaultBuySOL:        0.5,
			MaxRetries:           2,
			BaseFeeLamports:      100_000,
			MaxFeeLamports:       2_000_000,
			RetryFeeFactor:       1.5,
			SellFeeFactor:        2.0,
			SlippageNormalBps:    150,
			SlippageUrgentBps:    300,
			SlippageEmergencyBps: 500,
			MaxPriceImpactPct:    10.0,
			BuyRetryDelay:        duration{2 * time.Second},
			SellRetryDelay:       duration{500 * time.Millisecond},
			QueueInterval:        duration{2 * time.Second},
			BuyTTL:               duration{5 * time.Minute},
			MonitorInterval:      duration{10 * time.Second},
			MonitorFanOut:        8,
		},
		Exit: ExitConfig{
			HardStopFraction: 0.75,
			TrailActivatePct: 20,
			TrailWidthBase:   0.15,
			TrailWidthMid:    0.12,
			TrailWidthTight:  0.10,
			TrailMidPct:      50,
			TrailTightPct:    100,
			MaxFlatHold:      duration{4 * time.Hour},
			FlatLowPct:       -5,
			FlatHighPct:      10,
			TakeProfits: []TakeProfitLevel{
				{TargetPercent: 30, SellPercent: 20},
				{TargetPercent: 60, SellPercent: 25},
				{TargetPercent: 100, SellPercent: 25},
				{TargetPercent: 200, SellPercent: 20},
			},
		},
		Danger: DangerConfig{
			SupplyInflatePct:      1,
			LiquidityEmergencyPct: 25,
			LiquidityCriticalPct:  10,
			ExodusPct:             50,
			HolderDropPct:         15,
			HolderWindow:          duration{5 * time.Minute},
			CreatorSellSupplyPct:  2,
			WhaleTxSupplyPct:      5,
			SellPressurePct:       80,
			SellPressureMinutes:   3,
			TightenStep:           0.03,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			Interval:      duration{24 * time.Hour},
			RetentionDays: 90,
		},
		Notify: NotifyConfig{
			Events: []string{"order_executed", "execution_failed", "position_closed", "danger_exit", "rpc_failover_recommended"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet — a key source is required when trading is enabled.
	if c.Mode == "trade" && c.Trading.Enabled {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set when trading is enabled")
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
	}

	if c.Solana.RPCURL == "" {
		errs = append(errs, "solana: rpc_url must not be empty")
	}
	if c.Solana.ConfirmTimeout.Duration <= 0 {
		errs = append(errs, "solana: confirm_timeout must be positive")
	}
	if c.Jupiter.QuoteHost == "" {
		errs = append(errs, "jupiter: quote_host must not be empty")
	}

	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archiving is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archiving is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
	}

	if c.Trading.DefaultBuySOL <= 0 {
		errs = append(errs, "trading: default_buy_sol must be > 0")
	}
	if c.Trading.MaxRetries < 0 {
		errs = append(errs, "trading: max_retries must be >= 0")
	}
	if c.Trading.RetryFeeFactor < 1 {
		errs = append(errs, "trading: retry_fee_factor must be >= 1")
	}
	if c.Trading.MaxFeeLamports < c.Trading.BaseFeeLamports {
		errs = append(errs, "trading: max_fee_lamports must be >= base_fee_lamports")
	}
	if c.Trading.QueueInterval.Duration <= 0 {
		errs = append(errs, "trading: queue_interval must be positive")
	}
	if c.Trading.BuyTTL.Duration <= 0 {
		errs = append(errs, "trading: buy_ttl must be positive")
	}
	if c.Trading.MonitorInterval.Duration <= 0 {
		errs = append(errs, "trading: monitor_interval must be positive")
	}

	if c.Exit.HardStopFraction <= 0 || c.Exit.HardStopFraction >= 1 {
		errs = append(errs, "exit: hard_stop_fraction must be in (0, 1)")
	}
	if len(c.Exit.TakeProfits) == 0 {
		errs = append(errs, "exit: at least one take-profit level is required")
	}
	var totalSell, lastTarget float64
	for i, lvl := range c.Exit.TakeProfits {
		if lvl.TargetPercent <= lastTarget {
			errs = append(errs, fmt.Sprintf("exit: take_profits[%d] target must exceed the previous level", i))
		}
		lastTarget = lvl.TargetPercent
		if lvl.SellPercent <= 0 || lvl.SellPercent > 100 {
			errs = append(errs, fmt.Sprintf("exit: take_profits[%d] sell_percent must be in (0, 100]", i))
		}
		totalSell += lvl.SellPercent
	}
	if totalSell > 100 {
		errs = append(errs, fmt.Sprintf("exit: take-profit sell percentages sum to %.0f%%, must not exceed 100%%", totalSell))
	}

	if c.Danger.SellPressureMinutes < 1 {
		errs = append(errs, "danger: sell_pressure_minutes must be >= 1")
	}
	if c.Danger.SellPressurePct <= 0 || c.Danger.SellPressurePct > 100 {
		errs = append(errs, "danger: sell_pressure_pct must be in (0, 100]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
