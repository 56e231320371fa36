package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/digistore/storefront/internal/api"
	"github.com/digistore/storefront/internal/backend"
	"github.com/digistore/storefront/internal/cache"
	"github.com/digistore/storefront/internal/catalog"
	"github.com/digistore/storefront/internal/config"
	"github.com/digistore/storefront/internal/notify"
	"github.com/digistore/storefront/internal/offline"
	"github.com/digistore/storefront/internal/poller"
	"github.com/digistore/storefront/internal/repository"
	"github.com/digistore/storefront/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg("no .env file found, using environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Mongo holds carts and the permanent has-purchased markers.
	db, err := repository.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to mongodb")
	}
	defer func() {
		if err := db.Client().Disconnect(context.Background()); err != nil {
			log.Warn().Err(err).Msg("mongodb disconnect failed")
		}
	}()

	repo := repository.NewMongoRepository(db)
	if err := repo.CreateIndexes(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to create mongodb indexes")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()

	catalogRepo, err := catalog.NewRepository(cfg.CatalogDBPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open catalog database")
	}
	defer catalogRepo.Close()

	if err := catalogRepo.RunMigrations(cfg.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("failed to run catalog migrations")
	}

	backendClient := backend.NewClient(cfg.BackendAPIURL)

	svc := service.NewCartService(
		repo,
		repo,
		cache.NewRedisCache(redisClient),
		catalogRepo,
		backendClient,
	)

	mgr, err := offline.NewManager(offline.Config{
		Version:  cfg.CacheVersion,
		Upstream: cfg.UpstreamOrigin,
	}, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build offline cache manager")
	}

	// Precache failure is not fatal: the origin may simply be down at boot,
	// and every strategy degrades to proxying.
	installCtx, installCancel := context.WithTimeout(ctx, 30*time.Second)
	if err := mgr.Install(installCtx); err != nil {
		log.Warn().Err(err).Msg("precache incomplete")
	}
	installCancel()
	mgr.Activate()

	hub := notify.NewHub()
	consumer := notify.NewConsumer(hub, cfg.KafkaBrokers...)
	go consumer.Run(ctx)
	defer consumer.Close()

	orderPoller := poller.NewPoller(svc, cfg.KafkaBrokers...)
	go orderPoller.Run(ctx)
	defer orderPoller.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      api.NewRouter(svc, catalogRepo, hub, mgr),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("storefront starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}
