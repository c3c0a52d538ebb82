// Package main - консольная утилита и HTTP-сервер движка прогрессии.
//
// Команды:
//
//	serve          REST API, /health и /metrics
//	migrate        применить миграции PostgreSQL
//	register       зарегистрировать пользователя
//	award          записать завершённую тренировку и начислить XP
//	stats          уровень и прогресс пользователя
//	achievements   полученные достижения
//	history        журнал начислений XP
//	catalog        каталог достижений
//
// Без DATABASE_URL используется хранилище в памяти: состояние живёт
// только в рамках одного процесса.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alem-hub/fitness-progression/config"
	"github.com/alem-hub/fitness-progression/internal/domain/achievement"
	"github.com/alem-hub/fitness-progression/internal/domain/progression"
	"github.com/alem-hub/fitness-progression/internal/infrastructure/persistence/postgres"
	httpapi "github.com/alem-hub/fitness-progression/internal/interface/http"
	"github.com/alem-hub/fitness-progression/pkg/logger"
)

const usage = `usage: progressionctl <command> [flags]

commands:
  serve          run the REST API
  migrate        apply pending PostgreSQL migrations
  register       register a user (-user)
  award          record a completed activity (-user, -rpe, -duration, -at)
  stats          show XP and level (-user)
  achievements   list earned achievements (-user, -category)
  history        show the XP change log (-user, -limit)
  catalog        print the achievement catalog
`

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("no command given")
	}
	command, args := args[0], args[1:]

	// ─────────────────────────────────────────────────────────────────────────
	// 1. ЗАГРУЗКА КОНФИГУРАЦИИ
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. НАСТРОЙКА ЛОГИРОВАНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	log := logger.New(logger.Options{
		Output:    os.Stderr,
		Level:     logger.ParseLevel(cfg.Observability.LogLevel),
		Format:    cfg.Observability.LogFormat,
		AddCaller: cfg.App.Debug,
	}).Named(cfg.App.Name)
	defer func() { _ = log.Sync() }()

	if command == "migrate" {
		return runMigrate(ctx, cfg, log)
	}
	if command == "catalog" {
		return printJSON(out, achievement.DefaultCatalog().All())
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. СБОРКА ПРИЛОЖЕНИЯ
	// ─────────────────────────────────────────────────────────────────────────
	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	switch command {
	case "serve":
		return runServe(ctx, cfg, b, log)
	case "register":
		return runRegister(ctx, b, args, out)
	case "award":
		return runAward(ctx, b, args, out)
	case "stats":
		return runStats(ctx, b, args, out)
	case "achievements":
		return runAchievements(ctx, b, args, out)
	case "history":
		return runHistory(ctx, b, args, out)
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func runServe(ctx context.Context, cfg *config.Config, b *backend, log *logger.Logger) error {
	httpCfg := httpapi.DefaultConfig()
	httpCfg.Host = cfg.HTTP.Host
	httpCfg.Port = cfg.HTTP.Port
	httpCfg.RequestTimeout = cfg.HTTP.RequestTimeout
	httpCfg.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	httpCfg.APIKeys = cfg.HTTP.APIKeys
	httpCfg.EnableMetrics = cfg.Observability.MetricsEnabled

	server := httpapi.NewServer(httpCfg, httpapi.Dependencies{
		Service:       b.service,
		Metrics:       b.metrics.Registry(),
		Logger:        log,
		HealthChecker: b.health,
	})

	errCh := server.StartAsync()
	log.Info("progression API is running",
		logger.String("address", httpCfg.Address()),
		logger.String("env", string(cfg.App.Environment)),
	)

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err, ok := <-errCh:
		if ok && err != nil {
			return err
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop HTTP server gracefully: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

func runMigrate(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}
	conn, err := postgres.NewConnection(ctx, cfg.Database.Postgres())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer conn.Close()

	applied, err := postgres.NewMigrator(conn).Migrate(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	log.Info("migrations completed", logger.Int("applied", applied))
	return nil
}

func runRegister(ctx context.Context, b *backend, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("-user is required")
	}
	if err := b.identity.Register(ctx, *userID); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "registered %s\n", *userID)
	return err
}

func runAward(ctx context.Context, b *backend, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("award", flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	rpe := fs.Int("rpe", 0, "perceived exertion 1..10 (0 = not reported)")
	duration := fs.Duration("duration", 0, "session length, e.g. 45m (0 = unknown)")
	at := fs.String("at", "", "completion time in RFC 3339 (default: now)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("-user is required")
	}

	rec := progression.ActivityRecord{UserID: *userID}
	if *rpe != 0 {
		rec.RPE = rpe
	}
	if *duration != 0 {
		seconds := int(duration.Seconds())
		rec.DurationSeconds = &seconds
	}
	if *at != "" {
		completedAt, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			return fmt.Errorf("-at: %w", err)
		}
		rec.CompletedAt = completedAt.UTC()
	}

	result, err := b.service.CompleteActivity(ctx, rec)
	if err != nil {
		return err
	}
	if result.Partial() {
		fmt.Fprintf(os.Stderr, "warning: %v\n", result.Err())
	}
	return printJSON(out, result)
}

func runStats(ctx context.Context, b *backend, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("stats", flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	stats, err := b.service.GetStats(ctx, *userID)
	if err != nil {
		return err
	}
	return printJSON(out, stats)
}

func runAchievements(ctx context.Context, b *backend, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("achievements", flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	category := fs.String("category", "", "filter by category (streak, volume, consistency, intensity, level, ranking)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	result, err := b.service.ListAchievementsInCategory(ctx, *userID, achievement.Category(*category))
	if err != nil {
		return err
	}
	return printJSON(out, result)
}

func runHistory(ctx context.Context, b *backend, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	userID := fs.String("user", "", "user id")
	limit := fs.Int("limit", 20, "number of entries, newest first")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("-user is required")
	}
	changes, err := b.history.History(ctx, *userID, *limit)
	if err != nil {
		return err
	}
	return printJSON(out, changes)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
