package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SNIPEBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SNIPEBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "SNIPEBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "SNIPEBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "SNIPEBOT_WALLET_KEY_PASSWORD")

	// ── Solana ──
	setStr(&cfg.Solana.RPCURL, "SNIPEBOT_SOLANA_RPC_URL")
	setStringSlice(&cfg.Solana.FallbackRPCs, "SNIPEBOT_SOLANA_FALLBACK_RPCS")
	setDuration(&cfg.Solana.ConfirmTimeout, "SNIPEBOT_SOLANA_CONFIRM_TIMEOUT")
	setStr(&cfg.Solana.Commitment, "SNIPEBOT_SOLANA_COMMITMENT")

	// ── Jupiter ──
	setStr(&cfg.Jupiter.QuoteHost, "SNIPEBOT_JUPITER_QUOTE_HOST")
	setStr(&cfg.Jupiter.SwapHost, "SNIPEBOT_JUPITER_SWAP_HOST")

	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "SNIPEBOT_FEED_WS_URL")
	setDuration(&cfg.Feed.ReconnectDelay, "SNIPEBOT_FEED_RECONNECT_DELAY")

	// ── Database ──
	setStr(&cfg.Database.DSN, "SNIPEBOT_DATABASE_DSN")
	setStr(&cfg.Database.Host, "SNIPEBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "SNIPEBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "SNIPEBOT_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "SNIPEBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "SNIPEBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "SNIPEBOT_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "SNIPEBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "SNIPEBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "SNIPEBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SNIPEBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SNIPEBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SNIPEBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SNIPEBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SNIPEBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SNIPEBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SNIPEBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SNIPEBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SNIPEBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SNIPEBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SNIPEBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SNIPEBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SNIPEBOT_S3_FORCE_PATH_STYLE")

	// ── Trading ──
	setBool(&cfg.Trading.Enabled, "SNIPEBOT_TRADING_ENABLED")
	setFloat64(&cfg.Trading.DefaultBuySOL, "SNIPEBOT_TRADING_DEFAULT_BUY_SOL")
	setInt(&cfg.Trading.MaxRetries, "SNIPEBOT_TRADING_MAX_RETRIES")
	setUint64(&cfg.Trading.BaseFeeLamports, "SNIPEBOT_TRADING_BASE_FEE_LAMPORTS")
	setUint64(&cfg.Trading.MaxFeeLamports, "SNIPEBOT_TRADING_MAX_FEE_LAMPORTS")
	setFloat64(&cfg.Trading.RetryFeeFactor, "SNIPEBOT_TRADING_RETRY_FEE_FACTOR")
	setFloat64(&cfg.Trading.SellFeeFactor, "SNIPEBOT_TRADING_SELL_FEE_FACTOR")
	setFloat64(&cfg.Trading.MaxPriceImpactPct, "SNIPEBOT_TRADING_MAX_PRICE_IMPACT_PCT")
	setDuration(&cfg.Trading.QueueInterval, "SNIPEBOT_TRADING_QUEUE_INTERVAL")
	setDuration(&cfg.Trading.BuyTTL, "SNIPEBOT_TRADING_BUY_TTL")
	setDuration(&cfg.Trading.MonitorInterval, "SNIPEBOT_TRADING_MONITOR_INTERVAL")
	setInt(&cfg.Trading.MonitorFanOut, "SNIPEBOT_TRADING_MONITOR_FAN_OUT")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SNIPEBOT_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "SNIPEBOT_ARCHIVE_INTERVAL")
	setInt(&cfg.Archive.RetentionDays, "SNIPEBOT_ARCHIVE_RETENTION_DAYS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SNIPEBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SNIPEBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SNIPEBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SNIPEBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "SNIPEBOT_MODE")
	setStr(&cfg.LogLevel, "SNIPEBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
