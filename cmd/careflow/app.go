package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zatekoja/careflow/internal/adapters/cache"
	"github.com/zatekoja/careflow/internal/adapters/database"
	"github.com/zatekoja/careflow/internal/adapters/events"
	"github.com/zatekoja/careflow/internal/adapters/forecast"
	"github.com/zatekoja/careflow/internal/adapters/memory"
	"github.com/zatekoja/careflow/internal/application/services"
	"github.com/zatekoja/careflow/internal/domain/providers"
	"github.com/zatekoja/careflow/internal/domain/repositories"
	"github.com/zatekoja/careflow/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/careflow/internal/infrastructure/clients/redis"
	"github.com/zatekoja/careflow/internal/infrastructure/observability"
	"github.com/zatekoja/careflow/pkg/clock"
	"github.com/zatekoja/careflow/pkg/config"
	"github.com/zatekoja/careflow/pkg/utils"
)

// app holds every wired component for one CLI invocation
type app struct {
	cfg   *config.Config
	clock providers.Clock

	dir   repositories.Directory
	pgDir *database.DirectoryAdapter
	bus   providers.EventBus
	cache providers.CacheProvider

	tx          *services.Transactor
	allocator   *services.BedAllocator
	scheduler   *services.QueueScheduler
	warmer      *services.ForecastWarmingService
	invalidator *services.CacheInvalidationService

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Env)
	if err := observability.SetLevel(cfg.Log.Level); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	logger := observability.GetLogger()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			a.closers = append(a.closers, func() error {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return shutdown(shutdownCtx)
			})
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	loc, err := cfg.Scheduler.Location()
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_TIMEZONE: %w", err)
	}
	a.clock = clock.NewSystem(loc)

	var redisClient *redis.Client
	if cfg.Redis.Enabled || cfg.Events.Backend == "redis" {
		redisClient, err = redis.NewClient(ctx, &cfg.Redis)
		if err != nil {
			if cfg.Events.Backend == "redis" {
				return nil, err
			}
			// Caching is optional
			logger.Warn().Err(err).Msg("continuing without Redis cache")
		} else {
			a.closers = append(a.closers, redisClient.Close)
		}
	}
	if redisClient != nil && cfg.Redis.Enabled {
		a.cache = cache.NewRedisAdapter(redisClient)
	}

	switch cfg.Store.Backend {
	case "postgres":
		pgClient, err := postgres.NewClient(ctx, &cfg.Database)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pgClient.Close)
		a.pgDir = database.NewDirectoryAdapter(pgClient,
			database.WithDirectoryClock(a.clock),
			database.WithDirectoryMetrics(metrics),
		)
		a.dir = a.pgDir
	default:
		mem := memory.NewDirectory(memory.WithClock(a.clock))
		if _, err := seedDirectory(ctx, mem); err != nil {
			return nil, fmt.Errorf("failed to seed memory store: %w", err)
		}
		a.dir = mem
	}

	switch cfg.Events.Backend {
	case "redis":
		a.bus = events.NewRedisEventBus(redisClient)
	case "kafka":
		a.bus, err = events.NewKafkaEventBus(events.KafkaConfig{Brokers: cfg.Kafka.Brokers, GroupID: cfg.Kafka.GroupID})
		if err != nil {
			return nil, err
		}
	case "local":
		a.bus = events.NewLocalEventBus()
	}
	if a.bus != nil {
		a.closers = append(a.closers, a.bus.Close)
	}

	forecaster, err := forecast.NewDemandForecaster(forecast.Config{
		Provider:           cfg.Forecast.Provider,
		URL:                cfg.Forecast.URL,
		Timeout:            cfg.Forecast.Timeout,
		StaticDemand:       cfg.Forecast.StaticDemand,
		BreakerMaxFailures: cfg.Forecast.BreakerMaxFailures,
		BreakerOpenTimeout: cfg.Forecast.BreakerOpenTimeout,
		CacheTTLSeconds:    cfg.Forecast.CacheTTLSeconds,
	}, a.cache, metrics)
	if err != nil {
		return nil, err
	}

	a.tx = services.NewTransactor(a.dir, cfg.Allocator.TxMaxAttempts, metrics)

	a.allocator = services.NewBedAllocator(a.tx, a.clock, forecaster, services.AllocatorConfig{
		MinBuffer:       cfg.Allocator.MinBuffer,
		FallbackBandKm:  cfg.Allocator.FallbackBandKm,
		MaxForecastDays: cfg.Forecast.MaxDays,
		ForecastTimeout: cfg.Forecast.Timeout,
	}, metrics)

	a.scheduler = services.NewQueueScheduler(a.tx, a.clock, cfg.Scheduler.AverageConsultationMinutes, metrics)
	if cfg.Scheduler.HistoryTermsPath != "" {
		normalizer, err := utils.NewHistoryNormalizer(cfg.Scheduler.HistoryTermsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load history terms: %w", err)
		}
		a.scheduler.SetHistoryNormalizer(normalizer)
	}

	a.warmer = services.NewForecastWarmingService(a.tx, forecaster)

	if a.bus != nil {
		a.allocator.SetEventBus(a.bus)
		a.scheduler.SetEventBus(a.bus)

		if a.cache != nil {
			a.invalidator = services.NewCacheInvalidationService(a.cache, a.bus)
			if err := a.invalidator.Start(); err != nil {
				return nil, err
			}
			a.closers = append(a.closers, func() error {
				a.invalidator.Stop()
				return nil
			})
		}
	}

	return a, nil
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
