package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load decodes the TOML file at path over Defaults, loads .env when present,
// and applies SETTLE_* overrides. An empty path skips the file. The result is
// not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets at deploy time without
// touching the TOML file. Empty variables are ignored.
func applyEnvOverrides(cfg *Config) {
	// operator
	setStr(&cfg.Operator.PrivateKey, "SETTLE_OPERATOR_PRIVATE_KEY")
	setStr(&cfg.Operator.EncryptedKeyPath, "SETTLE_OPERATOR_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Operator.KeyPassword, "SETTLE_OPERATOR_KEY_PASSWORD")

	// settlement
	setUint64(&cfg.Settlement.FeeBps, "SETTLE_SETTLEMENT_FEE_BPS")
	setUint64(&cfg.Settlement.UserTicketCap, "SETTLE_SETTLEMENT_USER_TICKET_CAP")
	setInt(&cfg.Settlement.MaxChoices, "SETTLE_SETTLEMENT_MAX_CHOICES")
	setInt(&cfg.Settlement.MaxEncodedLen, "SETTLE_SETTLEMENT_MAX_ENCODED_LEN")
	setInt(&cfg.Settlement.DecodeWorkers, "SETTLE_SETTLEMENT_DECODE_WORKERS")
	setDuration(&cfg.Settlement.StatsCacheTTL, "SETTLE_SETTLEMENT_STATS_CACHE_TTL")
	setDuration(&cfg.Settlement.SweepInterval, "SETTLE_SETTLEMENT_SWEEP_INTERVAL")
	setDuration(&cfg.Settlement.SweepLockTTL, "SETTLE_SETTLEMENT_SWEEP_LOCK_TTL")
	setDuration(&cfg.Settlement.LedgerTimeout, "SETTLE_SETTLEMENT_LEDGER_TIMEOUT")

	// ledger
	setStr(&cfg.Ledger.Backend, "SETTLE_LEDGER_BACKEND")
	setStr(&cfg.Ledger.Authority, "SETTLE_LEDGER_AUTHORITY")
	setStr(&cfg.Ledger.Treasury, "SETTLE_LEDGER_TREASURY")
	setInt(&cfg.Ledger.ChainID, "SETTLE_LEDGER_CHAIN_ID")

	// supabase
	setStr(&cfg.Supabase.DSN, "SETTLE_SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "SETTLE_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "SETTLE_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "SETTLE_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "SETTLE_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "SETTLE_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "SETTLE_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "SETTLE_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "SETTLE_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "SETTLE_SUPABASE_RUN_MIGRATIONS")

	// redis
	setBool(&cfg.Redis.Enabled, "SETTLE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "SETTLE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SETTLE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SETTLE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SETTLE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SETTLE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SETTLE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "SETTLE_REDIS_KEY_PREFIX")

	// s3
	setBool(&cfg.S3.Enabled, "SETTLE_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SETTLE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SETTLE_S3_REGION")
	setStr(&cfg.S3.Bucket, "SETTLE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SETTLE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SETTLE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SETTLE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SETTLE_S3_FORCE_PATH_STYLE")

	// server
	setInt(&cfg.Server.Port, "SETTLE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SETTLE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SETTLE_SERVER_API_KEY")
	setInt(&cfg.Server.EncodeLimit, "SETTLE_SERVER_ENCODE_LIMIT")
	setInt(&cfg.Server.ClaimLimit, "SETTLE_SERVER_CLAIM_LIMIT")
	setDuration(&cfg.Server.LimitWindow, "SETTLE_SERVER_LIMIT_WINDOW")

	// notify
	setStr(&cfg.Notify.TelegramToken, "SETTLE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SETTLE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SETTLE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SETTLE_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "SETTLE_MODE")
	setStr(&cfg.LogLevel, "SETTLE_LOG_LEVEL")
}

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
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
