// Command notifier runs only the notification consumer. It persists
// notifications for receivers that were offline when their message was sent.
// It has no websocket clients of its own, so it never pushes.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"chat-relay/internal/chat"
	"chat-relay/internal/config"
	"chat-relay/internal/db"
	"chat-relay/internal/fanout"
	"chat-relay/internal/logger"

	"github.com/redis/go-redis/v9"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("production", "info")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.Env, cfg.LogLevel).With().Str("service", "notifier").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.NewDatabase(ctx, cfg.DatabaseDSN, cfg.MaxOpenConns)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer database.Close()
	if err := database.AutoMigrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		MaxRetries: cfg.Redis.MaxRetries,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}

	channel := fanout.NewRedisChannel(redisClient, fanoutOptions(cfg.Fanout), log)

	consumer := chat.NewConsumer(chat.NewRepository(database.Conn), channel, chat.NewRegistry(), cfg.Fanout.Subscription, log)
	if err := consumer.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("notification consumer stopped")
	}
	log.Info().Msg("notifier stopped")
}

// fanoutOptions leaves MaxLen unset: the notifier never publishes.
func fanoutOptions(cfg config.FanoutConfig) fanout.Options {
	return fanout.Options{
		Topic:         cfg.Topic,
		Block:         cfg.Block,
		ClaimMinIdle:  cfg.ClaimMinIdle,
		ClaimInterval: cfg.ClaimInterval,
		BatchSize:     cfg.BatchSize,
	}
}
