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
// built-in defaults, applies PANCHO_* environment variable overrides, and
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

// applyEnvOverrides reads well-known PANCHO_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Database ──
	setStr(&cfg.Database.DSN, "PANCHO_DATABASE_DSN")
	setStr(&cfg.Database.Host, "PANCHO_DATABASE_HOST")
	setInt(&cfg.Database.Port, "PANCHO_DATABASE_PORT")
	setStr(&cfg.Database.Database, "PANCHO_DATABASE_NAME")
	setStr(&cfg.Database.User, "PANCHO_DATABASE_USER")
	setStr(&cfg.Database.Password, "PANCHO_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "PANCHO_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "PANCHO_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "PANCHO_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "PANCHO_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PANCHO_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PANCHO_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PANCHO_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PANCHO_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PANCHO_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PANCHO_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PANCHO_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PANCHO_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PANCHO_S3_REGION")
	setStr(&cfg.S3.Bucket, "PANCHO_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PANCHO_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PANCHO_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PANCHO_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PANCHO_S3_FORCE_PATH_STYLE")

	// ── Oracle ──
	setStr(&cfg.Oracle.RPCURL, "PANCHO_ORACLE_RPC_URL")
	setDuration(&cfg.Oracle.Timeout, "PANCHO_ORACLE_TIMEOUT")

	// ── Keeper ──
	setBool(&cfg.Keeper.Enabled, "PANCHO_KEEPER_ENABLED")
	setDuration(&cfg.Keeper.LockInterval, "PANCHO_KEEPER_LOCK_INTERVAL")
	setDuration(&cfg.Keeper.SettleInterval, "PANCHO_KEEPER_SETTLE_INTERVAL")
	setDuration(&cfg.Keeper.ArchiveInterval, "PANCHO_KEEPER_ARCHIVE_INTERVAL")
	setInt(&cfg.Keeper.ArchiveRetentionDays, "PANCHO_KEEPER_ARCHIVE_RETENTION_DAYS")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PANCHO_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PANCHO_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PANCHO_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "PANCHO_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitRPS, "PANCHO_SERVER_RATE_LIMIT_RPS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PANCHO_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PANCHO_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PANCHO_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PANCHO_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "PANCHO_MODE")
	setStr(&cfg.LogLevel, "PANCHO_LOG_LEVEL")
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
