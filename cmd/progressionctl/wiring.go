package main

import (
	"context"
	"fmt"

	"github.com/alem-hub/fitness-progression/config"
	"github.com/alem-hub/fitness-progression/internal/application"
	"github.com/alem-hub/fitness-progression/internal/application/query"
	"github.com/alem-hub/fitness-progression/internal/domain/achievement"
	"github.com/alem-hub/fitness-progression/internal/domain/progression"
	"github.com/alem-hub/fitness-progression/internal/infrastructure/messaging"
	"github.com/alem-hub/fitness-progression/internal/infrastructure/metrics"
	"github.com/alem-hub/fitness-progression/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/fitness-progression/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/fitness-progression/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/fitness-progression/internal/interface/http/handlers"
	"github.com/alem-hub/fitness-progression/pkg/circuitbreaker"
	"github.com/alem-hub/fitness-progression/pkg/logger"
)

// historyReader читает журнал начислений XP.
type historyReader interface {
	History(ctx context.Context, userID string, limit int) ([]progression.XPChange, error)
}

// registrar регистрирует пользователя у провайдера идентичности.
type registrar interface {
	Register(ctx context.Context, userID string) error
}

// backend - собранное приложение со всеми зависимостями.
type backend struct {
	service  *application.Service
	metrics  *metrics.Collector
	health   *handlers.CompositeHealthChecker
	history  historyReader
	identity registrar

	closers []func()
}

// Close освобождает ресурсы в обратном порядке.
func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend собирает сервис: PostgreSQL при заданном DATABASE_URL,
// иначе хранилище в памяти; Redis для блокировок, кеша и pub/sub, если включён.
func openBackend(ctx context.Context, cfg *config.Config, log *logger.Logger) (*backend, error) {
	b := &backend{
		metrics: metrics.NewCollector(cfg.Observability.MetricsNamespace),
		health:  handlers.NewCompositeHealthChecker(cfg.App.Version),
	}

	// ─────────────────────────────────────────────────────────────────────────
	// EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	busCfg := messaging.DefaultInMemoryEventBusConfig()
	busCfg.Logger = log
	bus := messaging.NewInMemoryEventBus(busCfg)
	b.closers = append(b.closers, func() { _ = bus.Close() })

	if err := b.metrics.Attach(bus); err != nil {
		b.Close()
		return nil, fmt.Errorf("attach metrics: %w", err)
	}

	deps := application.Dependencies{
		Table:              progression.DefaultTable(),
		Policy:             cfg.Progression.RewardPolicy(),
		Streaks:            cfg.Progression.StreakCalculator(),
		Catalog:            achievement.DefaultCatalog(),
		Events:             bus,
		Observer:           b.metrics,
		Logger:             log,
		AwardAchievementXP: cfg.Progression.AwardAchievementXP,
	}

	// ─────────────────────────────────────────────────────────────────────────
	// STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL not set, using in-memory store")
		store := memory.NewStore(memory.WithOpenIdentities())
		deps.Progress, deps.History, deps.Identity, deps.Grants, deps.Recorder = store, store, store, store, store
		b.history, b.identity = store, store
	} else {
		conn, err := postgres.NewConnection(ctx, cfg.Database.Postgres())
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		b.closers = append(b.closers, conn.Close)
		b.health.AddCheck("postgres", handlers.NewPingCheck(conn))

		if cfg.Database.AutoMigrate {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				b.Close()
				return nil, fmt.Errorf("run migrations: %w", err)
			}
			log.Info("migrations applied", logger.Int("count", applied))
		}

		progress := postgres.NewProgressRepository(conn)
		activities := postgres.NewActivityRepository(conn)
		identity := postgres.NewIdentityRepository(conn)
		deps.Progress = progress
		deps.History = activities
		deps.Recorder = activities
		deps.Identity = identity
		deps.Grants = postgres.NewGrantRepository(conn)
		b.history, b.identity = progress, identity
	}

	// ─────────────────────────────────────────────────────────────────────────
	// REDIS (опционально)
	// ─────────────────────────────────────────────────────────────────────────
	deps.Locker = progression.NewKeyedLocker()
	if cfg.Redis.Enabled() {
		cache, err := openCache(ctx, cfg.Redis)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		b.closers = append(b.closers, func() { _ = cache.Close() })
		b.health.AddCheck("redis", handlers.NewPingCheck(cache))

		deps.Locker = redis.NewUserLocker(cache,
			redis.WithLockTTL(cfg.Progression.LockTTL),
			redis.WithLockWait(cfg.Progression.LockWait),
		)
		breaker := redis.NewCacheBreaker(circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			log.Warn("circuit breaker state changed",
				logger.Component(name),
				logger.String("from", from.String()),
				logger.String("to", to.String()),
			)
		}))
		deps.StatsCache = redis.NewStatsCache[query.Stats](cache, cfg.Progression.StatsCacheTTL).WithBreaker(breaker)

		if err := redis.NewEventForwarder(cache).Attach(bus); err != nil {
			b.Close()
			return nil, fmt.Errorf("attach event forwarder: %w", err)
		}
		log.Info("redis enabled", logger.Duration("stats_ttl", cfg.Progression.StatsCacheTTL))
	}

	svc, err := application.NewService(deps)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.service = svc
	return b, nil
}

func openCache(ctx context.Context, cfg config.RedisConfig) (*redis.Cache, error) {
	if cfg.URL != "" {
		return redis.NewCacheFromURL(ctx, cfg.URL)
	}
	return redis.NewCache(cfg.Cache())
}
