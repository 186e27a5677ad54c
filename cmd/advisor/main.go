package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/couchcryptid/lawn-watering-advisor/internal/adapter/api"
	"github.com/couchcryptid/lawn-watering-advisor/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/lawn-watering-advisor/internal/adapter/kafka"
	"github.com/couchcryptid/lawn-watering-advisor/internal/adapter/openmeteo"
	"github.com/couchcryptid/lawn-watering-advisor/internal/adapter/postcodes"
	redisadapter "github.com/couchcryptid/lawn-watering-advisor/internal/adapter/redis"
	"github.com/couchcryptid/lawn-watering-advisor/internal/adapter/resilient"
	"github.com/couchcryptid/lawn-watering-advisor/internal/config"
	"github.com/couchcryptid/lawn-watering-advisor/internal/observability"
	"github.com/couchcryptid/lawn-watering-advisor/internal/pipeline"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		slog.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.WeatherTimezone)
	if err != nil {
		logger.Error("invalid weather timezone", "error", err)
		os.Exit(1)
	}

	store := postcodes.NewStore(postcodes.Options{
		DatasetURL: cfg.PostcodeDatasetURL,
		CachePath:  cfg.PostcodeCachePath,
		Timeout:    cfg.PostcodeTimeout,
		Backoff:    resilient.DefaultBackoff,
	}, logger, metrics)

	// Warm the index in the background; the first Resolve waits on the same load.
	go func() {
		if _, err := store.Load(ctx); err != nil {
			logger.Warn("postcode index warm-up failed", "error", err)
		}
	}()

	weather := newWeatherClient(cfg, logger, metrics)

	checks := []httpadapter.NamedCheck{{Name: "postcodes", Checker: store}}

	var fetcher pipeline.RainfallFetcher = weather
	var closers []func() error
	if cfg.RainfallCacheTTL > 0 {
		var cache openmeteo.SeriesCache
		if cfg.RedisAddr != "" {
			client, err := redisadapter.NewClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
			if err != nil {
				logger.Error("redis unavailable", "error", err)
				os.Exit(1)
			}
			closers = append(closers, client.Close)
			redisCache := redisadapter.NewSeriesCache(client)
			checks = append(checks, httpadapter.NamedCheck{Name: "redis", Checker: redisCache})
			cache = redisCache
			logger.Info("rainfall cache enabled", "backend", "redis", "addr", cfg.RedisAddr, "ttl", cfg.RainfallCacheTTL)
		} else {
			cache = openmeteo.NewMemoryCache(cfg.RainfallCacheSize)
			logger.Info("rainfall cache enabled", "backend", "memory", "size", cfg.RainfallCacheSize, "ttl", cfg.RainfallCacheTTL)
		}
		fetcher = openmeteo.NewCachedFetcher(weather, cache, cfg.RainfallCacheTTL, loc, logger, metrics)
	} else {
		logger.Info("rainfall cache disabled")
	}

	opts := pipeline.Options{Location: loc, Timeout: cfg.CalculateTimeout, PublishTimeout: cfg.KafkaPublishTimeout}
	if cfg.KafkaEnabled {
		pub := kafkaadapter.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger, metrics)
		closers = append(closers, pub.Close)
		opts.Publisher = pub
		logger.Info("recommendation events enabled", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers)
	} else {
		logger.Info("recommendation events disabled")
	}

	orch := pipeline.New(store, fetcher, opts, logger, metrics)
	sessions := pipeline.NewSessionStore(cfg.SessionTTL, metrics)
	go sessions.RunSweeper(ctx, time.Minute)

	app := api.NewApp(api.Config{
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.CalculateTimeout + 5*time.Second,
	}, orch, sessions, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.AllReady(checks...), logger)

	// Start ops server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", "error", err)
		}
	}()

	// Start API server.
	go func() {
		logger.Info("api server starting", "addr", cfg.APIAddr)
		if err := app.Listen(cfg.APIAddr); err != nil {
			logger.Error("api server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("api server shutdown error", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ops server shutdown error", "error", err)
	}
	orch.Wait()
	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Error("close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

func newWeatherClient(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *openmeteo.Client {
	backoff := resilient.DefaultBackoff
	backoff.MaxRetries = cfg.WeatherMaxRetries
	return openmeteo.NewClient(openmeteo.Options{
		BaseURL:  cfg.WeatherBaseURL,
		Timezone: cfg.WeatherTimezone,
		Timeout:  cfg.WeatherTimeout,
		Backoff:  backoff,
	}, logger, metrics)
}
