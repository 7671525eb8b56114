package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/renewkit/renewkit/internal/admin"
	"github.com/renewkit/renewkit/internal/catalog"
	"github.com/renewkit/renewkit/internal/checkout"
	"github.com/renewkit/renewkit/internal/config"
	"github.com/renewkit/renewkit/internal/httpapi"
	"github.com/renewkit/renewkit/internal/lifecycle"
	"github.com/renewkit/renewkit/internal/logging"
	"github.com/renewkit/renewkit/internal/redis"
	"github.com/renewkit/renewkit/internal/store"
)

type appConfig struct {
	Log    logging.Config
	DB     store.Config
	Redis  redis.Config
	Paddle checkout.PaddleConfig
	Admin  admin.Config
	HTTP   httpapi.ServerConfig

	PlansPath          string        `env:"PLANS_PATH" envDefault:"configs/plans.yaml"`
	WebhookDedupeTTL   time.Duration `env:"WEBHOOK_DEDUPE_TTL" envDefault:"168h"`
	AdminIdempotentTTL time.Duration `env:"ADMIN_IDEMPOTENCY_TTL" envDefault:"24h"`
	ProviderTimeout    time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"30s"`
}

func main() {
	ctx := context.Background()

	var cfg appConfig
	config.MustLoad(&cfg)

	log := logging.New(cfg.Log)
	slog.SetDefault(log)

	if err := run(ctx, cfg, log); err != nil {
		log.ErrorContext(ctx, "server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg appConfig, log *slog.Logger) error {
	pool, err := store.Connect(ctx, cfg.DB)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := store.Migrate(ctx, pool, cfg.DB, log); err != nil {
		return err
	}

	redisClient, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	cat, err := catalog.New(ctx, catalog.FileSource{Path: cfg.PlansPath})
	if err != nil {
		return err
	}

	provider, err := checkout.NewPaddleProvider(cfg.Paddle)
	if err != nil {
		return err
	}

	repo := store.NewPostgres(pool)

	engine := lifecycle.New(repo, cat, lifecycle.WithLogger(log))

	coordinator := checkout.New(engine, repo, provider,
		checkout.NewRedisDeduper(redisClient, cfg.WebhookDedupeTTL),
		checkout.WithProviderTimeout(cfg.ProviderTimeout),
		checkout.WithLogger(log),
	)

	adminEngine := admin.New(repo, cat, provider,
		admin.NewRedisKeyStore(redisClient, cfg.AdminIdempotentTTL),
		cfg.Admin,
		admin.WithLogger(log),
	)

	api := httpapi.New(cat, engine, coordinator, adminEngine, repo)

	return httpapi.Serve(ctx, cfg.HTTP, api.Router(), log)
}
