package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/defnot001/biomebot/core/config"
	"github.com/defnot001/biomebot/core/db"
	"github.com/defnot001/biomebot/internal/dedup"
	"github.com/defnot001/biomebot/internal/dispatch"
	"github.com/defnot001/biomebot/internal/queue"
)

// dependencies holds the external connections the server owns.
type dependencies struct {
	Dedup       dedup.Store
	Sink        dispatch.Sink
	DeadLetters queue.Producer

	redis    *redis.Client
	database *db.DB
}

// newDependencies connects whatever the configuration asks for. Background work
// such as the postgres dedup janitor runs until ctx is cancelled.
func newDependencies(ctx context.Context, cfg config.Config) (*dependencies, error) {
	deps := &dependencies{}

	if cfg.Redis.Enabled() {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		deps.redis = redis.NewClient(opts)
		if err := deps.redis.Ping(ctx).Err(); err != nil {
			deps.Close()
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		deps.DeadLetters = queue.NewRedisProducer(deps.redis, cfg.Redis.DLQStream, cfg.Redis.DLQMaxLength, slog.Default())
		slog.InfoContext(ctx, "redis connected", "dlq_stream", cfg.Redis.DLQStream)
	}

	dedupCfg := dedup.Config{Window: cfg.Dedup.Window, Capacity: cfg.Dedup.Capacity}
	switch cfg.Dedup.Backend {
	case config.DedupBackendRedis:
		deps.Dedup = dedup.NewRedis(deps.redis, dedupCfg)
	case config.DedupBackendPostgres:
		database, err := db.New(ctx, cfg.DB)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("connecting to database: %w", err)
		}
		deps.database = database
		if cfg.DB.AutoMigrate {
			if err := database.Migrate(ctx); err != nil {
				deps.Close()
				return nil, err
			}
		}
		store := dedup.NewPostgres(database.Pool(), dedupCfg)
		go store.RunJanitor(ctx, cfg.Dedup.JanitorInterval)
		deps.Dedup = store
		slog.InfoContext(ctx, "database connected")
	default:
		deps.Dedup = dedup.NewMemory(dedupCfg)
	}
	slog.InfoContext(ctx, "dedup store ready", "backend", cfg.Dedup.Backend)

	if cfg.Discord.Enabled() {
		sink, err := dispatch.NewDiscordSink(cfg.Discord.BotToken)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.Sink = sink
	} else {
		slog.WarnContext(ctx, "DISCORD_BOT_TOKEN not set, messages are only logged")
		deps.Sink = dispatch.NewLogSink(slog.Default())
	}

	return deps, nil
}

func (d *dependencies) Close() {
	// The dead-letter producer owns the redis client.
	if d.DeadLetters != nil {
		_ = d.DeadLetters.Close()
	} else if d.redis != nil {
		_ = d.redis.Close()
	}
	if d.database != nil {
		d.database.Close()
	}
}
