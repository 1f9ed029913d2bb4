// Package config defines the top-level configuration for the trade
// verification service and provides validation helpers.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TRADEVERIFY_* environment
// variables.
type Config struct {
	Server      ServerConfig      `toml:"server"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	S3          S3Config          `toml:"s3"`
	Verify      VerifyConfig      `toml:"verify"`
	Dispatch    DispatchConfig    `toml:"dispatch"`
	Expiry      ExpiryConfig      `toml:"expiry"`
	Adjudicator AdjudicatorConfig `toml:"adjudicator"`
	Settlement  SettlementConfig  `toml:"settlement"`
	Notify      NotifyConfig      `toml:"notify"`
	LogLevel    string            `toml:"log_level"`
}

// ServerConfig holds HTTP server parameters. APIKey is the bearer token
// required on write endpoints; it must be injected at deploy time, never
// compiled in.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`

	// RateLimit caps requests per client IP within RateWindow. Zero
	// disables the limiter.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// PostgresConfig holds trade ledger connection parameters.
type PostgresConfig struct {
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

// RedisConfig holds Redis connection parameters for locks and rate limiting.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds object storage parameters for proof artifacts.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// VerifyConfig holds the dwell-time tier thresholds and reward amounts.
// The thresholds are deployment configuration, not business logic: dwell
// below RejectBelowSec rejects the trade, dwell at or above FullAboveSec
// earns the full tier, anything between earns the partial tier.
type VerifyConfig struct {
	RejectBelowSec float64 `toml:"reject_below_sec"`
	FullAboveSec   float64 `toml:"full_above_sec"`
	PartialReward  float64 `toml:"partial_reward"`
	FullReward     float64 `toml:"full_reward"`
	ProofReward    float64 `toml:"proof_reward"`
	LockTTL        duration `toml:"lock_ttl"`

	// Admission policy for the delivery verifier: at most
	// AdmissionLimit redirect confirmations per destination per window.
	// Zero disables the limit.
	AdmissionLimit  int      `toml:"admission_limit"`
	AdmissionWindow duration `toml:"admission_window"`
}

// DispatchConfig controls the asynchronous pending-return notification fired
// after a redirect.
type DispatchConfig struct {
	QueueSize   int      `toml:"queue_size"`
	Workers     int      `toml:"workers"`
	CallTimeout duration `toml:"call_timeout"`
	MaxRetries  int      `toml:"max_retries"`
	BaseBackoff duration `toml:"base_backoff"`
	MaxBackoff  duration `toml:"max_backoff"`
}

// ExpiryConfig controls the sweeper that moves stale trades to EXPIRED.
type ExpiryConfig struct {
	TradeTTL duration `toml:"trade_ttl"`
	Interval duration `toml:"interval"`
}

// AdjudicatorConfig holds the external proof-adjudication API parameters.
type AdjudicatorConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// SettlementConfig holds the reward-settlement webhook parameters. The
// signal is fire-and-forget; the stored ledger outcome stays authoritative.
type SettlementConfig struct {
	WebhookURL  string   `toml:"webhook_url"`
	APIKey      string   `toml:"api_key"`
	Timeout     duration `toml:"timeout"`
	MaxRetries  int      `toml:"max_retries"`
	BaseBackoff duration `toml:"base_backoff"`
}

// NotifyConfig holds operator alert channel credentials.
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

// Defaults returns a Config populated with reasonable default values. The
// tier thresholds default to the documented placeholders (10s / 60s) and are
// expected to be overridden per deployment.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:       8080,
			RateLimit:  0,
			RateWindow: duration{time.Minute},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradeverify",
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
			Bucket:         "tradeverify-proofs",
			ForcePathStyle: true,
		},
		Verify: VerifyConfig{
			RejectBelowSec:  10,
			FullAboveSec:    60,
			PartialReward:   50,
			FullReward:      150,
			ProofReward:     150,
			LockTTL:         duration{10 * time.Second},
			AdmissionLimit:  0,
			AdmissionWindow: duration{time.Minute},
		},
		Dispatch: DispatchConfig{
			QueueSize:   1024,
			Workers:     4,
			CallTimeout: duration{2 * time.Second},
			MaxRetries:  3,
			BaseBackoff: duration{200 * time.Millisecond},
			MaxBackoff:  duration{5 * time.Second},
		},
		Expiry: ExpiryConfig{
			TradeTTL: duration{24 * time.Hour},
			Interval: duration{10 * time.Minute},
		},
		Adjudicator: AdjudicatorConfig{
			Timeout: duration{10 * time.Second},
		},
		Settlement: SettlementConfig{
			Timeout:     duration{5 * time.Second},
			MaxRetries:  3,
			BaseBackoff: duration{500 * time.Millisecond},
		},
		LogLevel: "info",
	}
}

// Validate checks the configuration for inconsistencies that would only
// surface later at runtime.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Verify.RejectBelowSec < 0 {
		return fmt.Errorf("config: verify.reject_below_sec must be non-negative")
	}
	if c.Verify.FullAboveSec < c.Verify.RejectBelowSec {
		return fmt.Errorf("config: verify.full_above_sec (%v) below verify.reject_below_sec (%v)",
			c.Verify.FullAboveSec, c.Verify.RejectBelowSec)
	}
	if c.Verify.PartialReward < 0 || c.Verify.FullReward < 0 || c.Verify.ProofReward < 0 {
		return fmt.Errorf("config: reward amounts must be non-negative")
	}
	if c.Dispatch.QueueSize <= 0 {
		return fmt.Errorf("config: dispatch.queue_size must be positive")
	}
	if c.Dispatch.Workers <= 0 {
		return fmt.Errorf("config: dispatch.workers must be positive")
	}
	if c.Dispatch.CallTimeout.Duration <= 0 {
		return fmt.Errorf("config: dispatch.call_timeout must be positive")
	}
	if c.Expiry.TradeTTL.Duration <= 0 {
		return fmt.Errorf("config: expiry.trade_ttl must be positive")
	}
	if c.Adjudicator.BaseURL == "" {
		return fmt.Errorf("config: adjudicator.base_url is required")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log_level %q", c.LogLevel)
	}
	return nil
}
