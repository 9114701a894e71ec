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
// built-in defaults, applies SETTLEMENT_* environment variable overrides, and
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

// applyEnvOverrides reads well-known SETTLEMENT_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// Postgres
	setStr(&cfg.Postgres.DSN, "SETTLEMENT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SETTLEMENT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SETTLEMENT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SETTLEMENT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SETTLEMENT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SETTLEMENT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SETTLEMENT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SETTLEMENT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SETTLEMENT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SETTLEMENT_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setStr(&cfg.Redis.Addr, "SETTLEMENT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SETTLEMENT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SETTLEMENT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SETTLEMENT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SETTLEMENT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SETTLEMENT_REDIS_TLS_ENABLED")

	// S3
	setBool(&cfg.S3.Enabled, "SETTLEMENT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SETTLEMENT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SETTLEMENT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SETTLEMENT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SETTLEMENT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SETTLEMENT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SETTLEMENT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SETTLEMENT_S3_FORCE_PATH_STYLE")

	// Token
	setStr(&cfg.Token.AdminAddress, "SETTLEMENT_TOKEN_ADMIN_ADDRESS")

	// Engine
	setDuration(&cfg.Engine.SweepInterval, "SETTLEMENT_ENGINE_SWEEP_INTERVAL")

	// Server
	setBool(&cfg.Server.Enabled, "SETTLEMENT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SETTLEMENT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SETTLEMENT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SETTLEMENT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SETTLEMENT_SERVER_RATE_LIMIT")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "SETTLEMENT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SETTLEMENT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SETTLEMENT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SETTLEMENT_NOTIFY_EVENTS")

	// Top-level
	setStr(&cfg.Mode, "SETTLEMENT_MODE")
	setStr(&cfg.LogLevel, "SETTLEMENT_LOG_LEVEL")
}

// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.

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
