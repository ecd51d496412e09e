package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/sealedsettle/internal/blob/s3"
	"github.com/alanyoungcy/sealedsettle/internal/cache/redis"
	"github.com/alanyoungcy/sealedsettle/internal/config"
	"github.com/alanyoungcy/sealedsettle/internal/crypto"
	"github.com/alanyoungcy/sealedsettle/internal/domain"
	"github.com/alanyoungcy/sealedsettle/internal/ledger"
	"github.com/alanyoungcy/sealedsettle/internal/notify"
	"github.com/alanyoungcy/sealedsettle/internal/observability"
	"github.com/alanyoungcy/sealedsettle/internal/server/handler"
	"github.com/alanyoungcy/sealedsettle/internal/service"
	"github.com/alanyoungcy/sealedsettle/internal/store/memory"
	"github.com/alanyoungcy/sealedsettle/internal/store/postgres"
)

// Dependencies bundles what the run modes need. Optional collaborators are
// nil interfaces when their backend is not configured.
type Dependencies struct {
	Metas  domain.MetaStore
	Ledger domain.Ledger
	Admin  domain.LedgerAdmin
	Audit  domain.AuditStore

	StatsCache  domain.StatsCache
	RateLimiter domain.RateLimiter
	Locks       domain.LockManager
	Bus         domain.SignalBus
	Announcer   service.EventAnnouncer

	Bundles  domain.BundleArchive
	Signer   service.ProposalSigner
	Notifier service.EventNotifier
	Metrics  *observability.Metrics

	HealthChecks map[string]handler.HealthCheck
}

// Wire builds every dependency from cfg and returns them with a cleanup
// function that releases resources in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Metrics:      observability.NewMetrics(),
		HealthChecks: make(map[string]handler.HealthCheck),
	}
	params := cfg.Settlement.Params()

	// --- Proposal signing and verification ---
	keyHex, err := crypto.LoadOperatorKey(crypto.KeyConfig{
		RawPrivateKey:    cfg.Operator.PrivateKey,
		EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
		KeyPassword:      cfg.Operator.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: operator key: %w", err))
	}
	if keyHex != "" {
		signer, err := crypto.NewSigner(keyHex, cfg.Ledger.ChainID)
		if err != nil {
			return fail(fmt.Errorf("wire: operator key: %w", err))
		}
		deps.Signer = signer
		logger.InfoContext(ctx, "proposals will be signed", slog.String("operator", signer.Address().Hex()))
	} else {
		logger.WarnContext(ctx, "no operator key configured, proposals go out unsigned")
	}

	var verifier ledger.Verifier
	if cfg.Ledger.Authority != "" {
		v, err := crypto.NewVerifier(cfg.Ledger.Authority, cfg.Ledger.ChainID)
		if err != nil {
			return fail(fmt.Errorf("wire: ledger authority: %w", err))
		}
		verifier = v
	}
	rules := ledger.NewRules(params, cfg.Ledger.Treasury, verifier)

	// --- Stores and reference ledger ---
	switch strings.ToLower(cfg.Ledger.Backend) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		led := postgres.NewLedgerStore(pool, rules)
		deps.Metas = postgres.NewMetaStore(pool)
		deps.Ledger = led
		deps.Admin = led
		deps.Audit = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pool.Ping
	default:
		led := memory.NewLedger(rules)
		deps.Metas = memory.NewMetaStore()
		deps.Ledger = led
		deps.Admin = led
		deps.Audit = memory.NewAuditStore()
		logger.WarnContext(ctx, "using in-memory ledger, state is lost on restart")
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		bus := redis.NewSignalBus(redisClient)
		deps.Bus = bus
		deps.Announcer = bus
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		if ttl := cfg.Settlement.StatsCacheTTL.Duration; ttl > 0 {
			deps.StatsCache = redis.NewStatsCache(redisClient, ttl)
		}
		deps.HealthChecks["redis"] = redisClient.Ping
	}

	// --- S3 audit bundles ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Bundles = s3blob.NewBundleArchive(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			s3blob.DefaultMultipartThreshold,
		)
		deps.HealthChecks["s3"] = s3Client.Health
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return deps, cleanup, nil
}
