package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chat-relay/internal/blob"
	"chat-relay/internal/chat"
	"chat-relay/internal/config"
	"chat-relay/internal/db"
	"chat-relay/internal/fanout"
	"chat-relay/internal/logger"
	myMiddleware "chat-relay/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 1. Config
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("production", "info")
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := logger.New(cfg.Env, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database
	database, err := db.NewDatabase(ctx, cfg.DatabaseDSN, cfg.MaxOpenConns)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer database.Close()
	log.Info().Msg("connected to postgres")

	if err := database.AutoMigrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("migration failed")
	}

	// 3. Redis (fan-out channel)
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
	log.Info().Str("addr", cfg.Redis.Addr).Msg("connected to redis")

	channel := fanout.NewRedisChannel(redisClient, fanoutOptions(cfg.Fanout), log)

	// 4. Attachments
	var blobs chat.BlobStore
	if cfg.S3.Enabled() {
		store, err := blob.NewS3Store(ctx, blob.Config{
			Endpoint:        cfg.S3.Endpoint,
			Region:          cfg.S3.Region,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			Bucket:          cfg.S3.Bucket,
			PublicURL:       cfg.S3.PublicURL,
			PathStyle:       cfg.S3.PathStyle,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to configure attachment store")
		}
		blobs = store
	} else {
		log.Warn().Msg("S3_BUCKET not set, messages with images will be rejected")
	}

	// 5. Chat
	repo := chat.NewRepository(database.Conn)
	registry := chat.NewRegistry()
	router := chat.NewRouter(repo, blobs, channel, registry, cfg.Fanout.Topic, log)

	consumerDone := make(chan struct{})
	if cfg.ConsumerEnabled {
		consumer := chat.NewConsumer(repo, channel, registry, cfg.Fanout.Subscription, log)
		go func() {
			defer close(consumerDone)
			if err := consumer.Run(ctx); err != nil {
				log.Error().Err(err).Msg("notification consumer stopped")
			}
		}()
	} else {
		close(consumerDone)
	}

	chatHandler := chat.NewHandler(ctx, registry, router, repo, chat.HandlerOptions{
		SendBuffer:     cfg.WS.SendBuffer,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		AllowedOrigins: cfg.WS.AllowedOrigins,
	}, log)

	// 6. Routes
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(myMiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", chatHandler.Health)
	r.Get("/ws", chatHandler.ServeWs)

	r.Group(func(r chi.Router) {
		if cfg.JWTSecret != "" {
			r.Use(myMiddleware.NewAuthMiddleware(myMiddleware.NewHMACValidator(cfg.JWTSecret)).Handle)
		}
		r.Mount("/api", chatHandler.Routes())
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}

	select {
	case <-consumerDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("consumer did not stop in time")
	}
}

func fanoutOptions(cfg config.FanoutConfig) fanout.Options {
	return fanout.Options{
		Topic:         cfg.Topic,
		Block:         cfg.Block,
		ClaimMinIdle:  cfg.ClaimMinIdle,
		ClaimInterval: cfg.ClaimInterval,
		BatchSize:     cfg.BatchSize,
		MaxLen:        cfg.MaxLen,
	}
}
