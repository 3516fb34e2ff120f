package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got: %v", err)
	}
}

func TestDefaultsTakeProfitLadder(t *testing.T) {
	cfg := Defaults()
	if got := len(cfg.Exit.TakeProfits); got != 4 {
		t.Fatalf("expected 4 take-profit levels, got %d", got)
	}
	var total float64
	prev := 0.0
	for i, lvl := range cfg.Exit.TakeProfits {
		if lvl.TargetPercent <= prev {
			t.Errorf("level %d target %.0f not ascending", i, lvl.TargetPercent)
		}
		prev = lvl.TargetPercent
		total += lvl.SellPercent
	}
	if total != 90 {
		t.Errorf("expected ladder to sell 90%% total (10%% moonbag), got %.0f%%", total)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad mode", func(c *Config) { c.Mode = "yolo" }, "unknown mode"},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }, "unknown log_level"},
		{"empty rpc", func(c *Config) { c.Solana.RPCURL = "" }, "rpc_url"},
		{"zero stop", func(c *Config) { c.Exit.HardStopFraction = 0 }, "hard_stop_fraction"},
		{"stop above one", func(c *Config) { c.Exit.HardStopFraction = 1.5 }, "hard_stop_fraction"},
		{"fee cap below base", func(c *Config) { c.Trading.MaxFeeLamports = 1 }, "max_fee_lamports"},
		{"zero queue tick", func(c *Config) { c.Trading.QueueInterval = duration{} }, "queue_interval"},
		{"unsorted ladder", func(c *Config) {
			c.Exit.TakeProfits[1].TargetPercent = c.Exit.TakeProfits[0].TargetPercent
		}, "target must exceed"},
		{"oversold ladder", func(c *Config) {
			for i := range c.Exit.TakeProfits {
				c.Exit.TakeProfits[i].SellPercent = 40
			}
		}, "must not exceed 100"},
		{"zero pressure window", func(c *Config) { c.Danger.SellPressureMinutes = 0 }, "sell_pressure_minutes"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidateRequiresWalletWhenTrading(t *testing.T) {
	cfg := Defaults()
	cfg.Trading.Enabled = true
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "wallet") {
		t.Fatalf("expected wallet error, got: %v", err)
	}
	cfg.Wallet.PrivateKey = "abc"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected ok with private key set, got: %v", err)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "monitor"
log_level = "debug"

[trading]
default_buy_sol = 1.25
queue_interval = "3s"

[exit]
hard_stop_fraction = 0.8
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Mode != "monitor" {
		t.Errorf("mode = %q, want monitor", cfg.Mode)
	}
	if cfg.Trading.DefaultBuySOL != 1.25 {
		t.Errorf("default_buy_sol = %v, want 1.25", cfg.Trading.DefaultBuySOL)
	}
	if cfg.Trading.QueueInterval.Duration != 3*time.Second {
		t.Errorf("queue_interval = %v, want 3s", cfg.Trading.QueueInterval.Duration)
	}
	if cfg.Exit.HardStopFraction != 0.8 {
		t.Errorf("hard_stop_fraction = %v, want 0.8", cfg.Exit.HardStopFraction)
	}
	// Fields the file does not mention keep their defaults.
	if cfg.Trading.MaxRetries != 2 {
		t.Errorf("max_retries = %d, want default 2", cfg.Trading.MaxRetries)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SNIPEBOT_MODE", "monitor")
	t.Setenv("SNIPEBOT_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("SNIPEBOT_TRADING_BASE_FEE_LAMPORTS", "250000")
	t.Setenv("SNIPEBOT_TRADING_BUY_TTL", "10m")
	t.Setenv("SNIPEBOT_SOLANA_FALLBACK_RPCS", "https://a.example, https://b.example")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if cfg.Mode != "monitor" {
		t.Errorf("mode = %q, want monitor", cfg.Mode)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("redis addr = %q", cfg.Redis.Addr)
	}
	if cfg.Trading.BaseFeeLamports != 250_000 {
		t.Errorf("base fee = %d, want 250000", cfg.Trading.BaseFeeLamports)
	}
	if cfg.Trading.BuyTTL.Duration != 10*time.Minute {
		t.Errorf("buy ttl = %v, want 10m", cfg.Trading.BuyTTL.Duration)
	}
	if len(cfg.Solana.FallbackRPCs) != 2 || cfg.Solana.FallbackRPCs[1] != "https://b.example" {
		t.Errorf("fallback rpcs = %v", cfg.Solana.FallbackRPCs)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "super-secret"
	cfg.Database.Password = "hunter2"
	cfg.Redis.Password = ""

	red := RedactedConfig(&cfg)
	if red.Wallet.PrivateKey != "***" {
		t.Errorf("private key not redacted: %q", red.Wallet.PrivateKey)
	}
	if red.Database.Password != "***" {
		t.Errorf("db password not redacted: %q", red.Database.Password)
	}
	if red.Redis.Password != "" {
		t.Errorf("empty password should stay empty, got %q", red.Redis.Password)
	}
	// Original must be untouched.
	if cfg.Wallet.PrivateKey != "super-secret" {
		t.Error("RedactedConfig mutated the original")
	}
}
