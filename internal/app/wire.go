package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/linkback/tradeverify/internal/blob/s3"
	"github.com/linkback/tradeverify/internal/cache/redis"
	"github.com/linkback/tradeverify/internal/config"
	"github.com/linkback/tradeverify/internal/domain"
	"github.com/linkback/tradeverify/internal/notify"
	"github.com/linkback/tradeverify/internal/pipeline"
	"github.com/linkback/tradeverify/internal/platform/adjudicator"
	"github.com/linkback/tradeverify/internal/server"
	"github.com/linkback/tradeverify/internal/server/handler"
	"github.com/linkback/tradeverify/internal/server/ws"
	"github.com/linkback/tradeverify/internal/settle"
	"github.com/linkback/tradeverify/internal/store/postgres"
	"github.com/linkback/tradeverify/internal/verify"
)

// Dependencies bundles everything the running service needs. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Ledger      domain.TradeLedger
	LockManager domain.LockManager
	RateLimiter domain.RateLimiter
	BlobWriter  domain.BlobWriter

	Delivery *verify.DeliveryVerifier
	Return   *verify.ReturnVerifier
	Claims   *verify.ProofClaimService

	Emitter      *settle.Emitter
	Notifier     *notify.Notifier
	Hub          *ws.Hub
	Dispatcher   *pipeline.Dispatcher
	Orchestrator *pipeline.Orchestrator
	Server       *server.Server
}

// Wire constructs every concrete dependency from the configuration and
// returns it together with a cleanup function that releases resources in
// reverse construction order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL trade ledger ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}
	deps.Ledger = postgres.NewTradeLedger(pgClient.Pool())

	// --- Redis: per-trade locks and admission rate limiting ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.LockManager = redis.NewLockManager(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)

	// --- S3: proof artifact storage ---
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
		cleanup()
		return nil, nil, fmt.Errorf("wire: s3: %w", err)
	}
	closers = append(closers, func() { _ = s3Client.Close() })
	deps.BlobWriter = s3blob.NewWriter(s3Client)

	// --- Operator notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Settlement signal emitter ---
	settleClient := settle.NewClient(
		cfg.Settlement.WebhookURL,
		cfg.Settlement.APIKey,
		cfg.Settlement.Timeout.Duration,
	)
	deps.Emitter = settle.NewEmitter(
		settleClient,
		deps.Notifier,
		cfg.Settlement.MaxRetries,
		cfg.Settlement.BaseBackoff.Duration,
		logger,
	)
	closers = append(closers, deps.Emitter.Drain)

	// --- Event hub ---
	deps.Hub = ws.NewHub(logger)

	// --- Verification services ---
	var policy verify.AdmissionPolicy = verify.AllowAll{}
	if cfg.Verify.AdmissionLimit > 0 {
		policy = verify.NewDestinationRateLimit(
			deps.RateLimiter,
			cfg.Verify.AdmissionLimit,
			cfg.Verify.AdmissionWindow.Duration,
			logger,
		)
	}

	deps.Delivery = verify.NewDeliveryVerifier(deps.Ledger, policy, deps.Hub, logger)

	deps.Return = verify.NewReturnVerifier(
		deps.Ledger,
		deps.LockManager,
		deps.Emitter,
		deps.Hub,
		verify.ReturnConfig{
			RejectBelowSec: cfg.Verify.RejectBelowSec,
			FullAboveSec:   cfg.Verify.FullAboveSec,
			PartialReward:  cfg.Verify.PartialReward,
			FullReward:     cfg.Verify.FullReward,
			LockTTL:        cfg.Verify.LockTTL.Duration,
		},
		logger,
	)

	adjClient := adjudicator.NewClient(
		cfg.Adjudicator.BaseURL,
		cfg.Adjudicator.APIKey,
		cfg.Adjudicator.Timeout.Duration,
	)
	deps.Claims = verify.NewProofClaimService(
		deps.Ledger,
		deps.LockManager,
		deps.BlobWriter,
		adjClient,
		deps.Emitter,
		deps.Hub,
		verify.ProofConfig{
			Reward:  cfg.Verify.ProofReward,
			LockTTL: cfg.Verify.LockTTL.Duration,
		},
		logger,
	)

	// --- Background pipeline ---
	deps.Dispatcher = pipeline.NewDispatcher(
		deps.Ledger,
		deps.Delivery,
		pipeline.DispatcherConfig{
			QueueSize:   cfg.Dispatch.QueueSize,
			Workers:     cfg.Dispatch.Workers,
			CallTimeout: cfg.Dispatch.CallTimeout.Duration,
			MaxRetries:  cfg.Dispatch.MaxRetries,
			BaseBackoff: cfg.Dispatch.BaseBackoff.Duration,
			MaxBackoff:  cfg.Dispatch.MaxBackoff.Duration,
		},
		logger,
	)

	sweeper := pipeline.NewSweeper(
		deps.Ledger,
		cfg.Expiry.TradeTTL.Duration,
		cfg.Expiry.Interval.Duration,
		deps.Notifier,
		logger,
	)
	deps.Orchestrator = pipeline.NewOrchestrator(deps.Dispatcher, sweeper, logger)

	// --- HTTP server ---
	handlers := server.Handlers{
		Redirect: handler.NewRedirectHandler(deps.Dispatcher, logger),
		Delivery: handler.NewDeliveryHandler(deps.Delivery, logger),
		Return:   handler.NewReturnHandler(deps.Return, logger),
		Claim:    handler.NewClaimHandler(deps.Claims, logger),
		Trades:   handler.NewTradeHandler(deps.Ledger, logger),
		Health: handler.NewHealthHandler(map[string]handler.Pinger{
			"postgres": handler.PingerFunc(pgClient.Pool().Ping),
			"redis":    handler.PingerFunc(redisClient.Ping),
			"s3":       handler.PingerFunc(s3Client.Health),
		}, logger),
		Hub: deps.Hub,
	}

	deps.Server = server.New(server.Config{
		Port:        cfg.Server.Port,
		CORSOrigins: cfg.Server.CORSOrigins,
		APIKey:      cfg.Server.APIKey,
		RateLimit:   cfg.Server.RateLimit,
		RateWindow:  cfg.Server.RateWindow.Duration,
	}, handlers, deps.RateLimiter, logger)

	return deps, cleanup, nil
}
