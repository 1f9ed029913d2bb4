package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADEVERIFY_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
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

// applyEnvOverrides reads well-known TRADEVERIFY_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "TRADEVERIFY_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "TRADEVERIFY_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "TRADEVERIFY_SERVER_RATE_LIMIT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADEVERIFY_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADEVERIFY_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADEVERIFY_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADEVERIFY_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADEVERIFY_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADEVERIFY_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADEVERIFY_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADEVERIFY_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADEVERIFY_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "TRADEVERIFY_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADEVERIFY_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADEVERIFY_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADEVERIFY_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADEVERIFY_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADEVERIFY_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADEVERIFY_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRADEVERIFY_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADEVERIFY_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADEVERIFY_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADEVERIFY_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADEVERIFY_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADEVERIFY_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADEVERIFY_S3_FORCE_PATH_STYLE")

	// ── Verify ──
	setFloat64(&cfg.Verify.RejectBelowSec, "TRADEVERIFY_VERIFY_REJECT_BELOW_SEC")
	setFloat64(&cfg.Verify.FullAboveSec, "TRADEVERIFY_VERIFY_FULL_ABOVE_SEC")
	setFloat64(&cfg.Verify.PartialReward, "TRADEVERIFY_VERIFY_PARTIAL_REWARD")
	setFloat64(&cfg.Verify.FullReward, "TRADEVERIFY_VERIFY_FULL_REWARD")
	setFloat64(&cfg.Verify.ProofReward, "TRADEVERIFY_VERIFY_PROOF_REWARD")
	setInt(&cfg.Verify.AdmissionLimit, "TRADEVERIFY_VERIFY_ADMISSION_LIMIT")

	// ── Adjudicator ──
	setStr(&cfg.Adjudicator.BaseURL, "TRADEVERIFY_ADJUDICATOR_BASE_URL")
	setStr(&cfg.Adjudicator.APIKey, "TRADEVERIFY_ADJUDICATOR_API_KEY")

	// ── Settlement ──
	setStr(&cfg.Settlement.WebhookURL, "TRADEVERIFY_SETTLEMENT_WEBHOOK_URL")
	setStr(&cfg.Settlement.APIKey, "TRADEVERIFY_SETTLEMENT_API_KEY")
	setInt(&cfg.Settlement.MaxRetries, "TRADEVERIFY_SETTLEMENT_MAX_RETRIES")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADEVERIFY_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADEVERIFY_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADEVERIFY_NOTIFY_DISCORD_WEBHOOK_URL")

	// ── Logging ──
	setStr(&cfg.LogLevel, "TRADEVERIFY_LOG_LEVEL")
}

// setStr overwrites dst when the environment variable is set and non-empty.
func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setInt overwrites dst when the environment variable parses as an int.
func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// setBool overwrites dst when the environment variable parses as a bool.
func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setFloat64 overwrites dst when the environment variable parses as a float.
func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
