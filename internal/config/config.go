// Package config defines the settlement engine's configuration and its
// validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/sealedsettle/internal/settlement"
)

// Config is the root configuration. Fields come from a TOML file and are then
// overridden by SETTLE_* environment variables.
type Config struct {
	Operator   OperatorConfig   `toml:"operator"`
	Settlement SettlementConfig `toml:"settlement"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Supabase   SupabaseConfig   `toml:"supabase"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// OperatorConfig locates the key that signs ledger proposals. With neither
// field set proposals go out unsigned.
type OperatorConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// SettlementConfig holds the settlement parameters and engine timings.
type SettlementConfig struct {
	FeeBps        uint64   `toml:"fee_bps"`
	UserTicketCap uint64   `toml:"user_ticket_cap"`
	MaxChoices    int      `toml:"max_choices"`
	MaxEncodedLen int      `toml:"max_encoded_len"`
	DecodeWorkers int      `toml:"decode_workers"`
	StatsCacheTTL duration `toml:"stats_cache_ttl"`
	SweepInterval duration `toml:"sweep_interval"`
	SweepLockTTL  duration `toml:"sweep_lock_ttl"`
	LedgerTimeout duration `toml:"ledger_timeout"`
}

// Params returns the settlement parameters shared with the ledgers.
func (s SettlementConfig) Params() settlement.Params {
	return settlement.Params{
		FeeBps:        s.FeeBps,
		UserTicketCap: s.UserTicketCap,
		MaxChoices:    s.MaxChoices,
		MaxEncodedLen: s.MaxEncodedLen,
		DecodeWorkers: s.DecodeWorkers,
	}
}

// LedgerConfig selects the reference ledger and its authority.
type LedgerConfig struct {
	Backend   string `toml:"backend"`
	Authority string `toml:"authority"`
	Treasury  string `toml:"treasury"`
	ChainID   int    `toml:"chain_id"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
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

// RedisConfig holds Redis connection parameters. Without Redis the engine
// runs single-instance: no stats cache, no sweep lock, no rate limits, and
// events reach only local WebSocket clients.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for audit bundles.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	EncodeLimit int      `toml:"encode_limit"`
	ClaimLimit  int      `toml:"claim_limit"`
	LimitWindow duration `toml:"limit_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration decodes TOML strings such as "30s" or "1m".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with the production defaults.
func Defaults() Config {
	p := settlement.DefaultParams()
	return Config{
		Settlement: SettlementConfig{
			FeeBps:        p.FeeBps,
			UserTicketCap: p.UserTicketCap,
			MaxChoices:    p.MaxChoices,
			MaxEncodedLen: p.MaxEncodedLen,
			DecodeWorkers: p.DecodeWorkers,
			StatsCacheTTL: duration{30 * time.Second},
			SweepInterval: duration{time.Minute},
			SweepLockTTL:  duration{50 * time.Second},
			LedgerTimeout: duration{10 * time.Second},
		},
		Ledger: LedgerConfig{
			Backend:  "postgres",
			Treasury: "treasury",
			ChainID:  1,
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    true,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "settle",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "settlement-audit",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			EncodeLimit: 30,
			ClaimLimit:  10,
			LimitWindow: duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_finalized", "tally_mismatch"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server":    true,
	"finalizer": true,
	"full":      true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"postgres": true,
	"memory":   true,
}

// Validate reports every invalid or missing value in one error.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, finalizer, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Operator.EncryptedKeyPath != "" && c.Operator.KeyPassword == "" {
		errs = append(errs, "operator: key_password is required when encrypted_key_path is set")
	}

	if err := c.Settlement.Params().Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			errs = append(errs, "settlement: "+line)
		}
	}
	if c.Settlement.SweepInterval.Duration <= 0 {
		errs = append(errs, "settlement: sweep_interval must be > 0")
	}
	if c.Settlement.SweepLockTTL.Duration <= 0 || c.Settlement.SweepLockTTL.Duration > c.Settlement.SweepInterval.Duration {
		errs = append(errs, "settlement: sweep_lock_ttl must be > 0 and not exceed sweep_interval")
	}
	if c.Settlement.LedgerTimeout.Duration <= 0 {
		errs = append(errs, "settlement: ledger_timeout must be > 0")
	}
	if c.Settlement.StatsCacheTTL.Duration < 0 {
		errs = append(errs, "settlement: stats_cache_ttl must be >= 0")
	}

	if !validBackends[strings.ToLower(c.Ledger.Backend)] {
		errs = append(errs, fmt.Sprintf("ledger: unknown backend %q (valid: postgres, memory)", c.Ledger.Backend))
	}
	if c.Ledger.Authority != "" && !common.IsHexAddress(c.Ledger.Authority) {
		errs = append(errs, fmt.Sprintf("ledger: authority %q is not a hex address", c.Ledger.Authority))
	}
	if c.Ledger.ChainID <= 0 {
		errs = append(errs, "ledger: chain_id must be positive")
	}

	if strings.EqualFold(c.Ledger.Backend, "postgres") {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
	}

	if c.Mode != "finalizer" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}
	if c.Server.EncodeLimit < 0 || c.Server.ClaimLimit < 0 {
		errs = append(errs, "server: encode_limit and claim_limit must be >= 0")
	}
	if c.Server.LimitWindow.Duration <= 0 {
		errs = append(errs, "server: limit_window must be > 0")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
