package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/stockledger/cmd/stockledger/cli"
	"github.com/odyssey-erp/stockledger/internal/app"
	"github.com/odyssey-erp/stockledger/internal/events"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/platform/cache"
	"github.com/odyssey-erp/stockledger/internal/platform/db"
	"github.com/odyssey-erp/stockledger/jobs"
	"github.com/odyssey-erp/stockledger/migrations"
)

const usage = `usage: stockledger [command]

commands:
  serve            run the HTTP API (default)
  migrate          apply pending database migrations
  jobs stats       print queue depth as JSON
  jobs sweep [n]   enqueue a reservation sweep with batch size n`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = args[0], args[1:]
	}
	switch cmd {
	case "serve":
		err = serve(ctx, stop, cfg, logger)
	case "migrate":
		err = migrate(ctx, cfg, logger)
	case "jobs":
		os.Exit(runJobs(ctx, cfg, args))
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(cmd, slog.Any("error", err))
		os.Exit(1)
	}
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.StoreDriver != app.StoreDriverPostgres {
		return fmt.Errorf("migrate requires STORE_DRIVER=%s", app.StoreDriverPostgres)
	}
	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	applied, err := db.Migrate(ctx, pool, migrations.Files)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", slog.Any("versions", applied))
	return nil
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	c := cli.NewJobsCLI(cfg.Redis().Asynq())
	defer func() { _ = c.Close() }()

	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
	switch args[0] {
	case "stats":
		return c.StatsCommand(os.Stdout, os.Stderr)
	case "sweep":
		batch := cfg.ReservationSweepBatch
		if len(args) > 1 {
			if _, err := fmt.Sscanf(args[1], "%d", &batch); err != nil || batch <= 0 {
				fmt.Fprintf(os.Stderr, "error: invalid batch size %q\n", args[1])
				return 2
			}
		}
		info, err := c.Trigger(ctx, jobs.TaskReservationSweep, batch)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Fprintf(os.Stdout, "enqueued %s (%s) on %s\n", info.Type, info.ID, info.Queue)
		return 0
	default:
		fmt.Fprintln(os.Stderr, usage)
		return 2
	}
}

func serve(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	shutdownTracing, err := observability.SetupTracing(ctx, cfg.OTLPEndpoint, "stockledger-api")
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown", slog.Any("error", err))
		}
	}()

	var pool *pgxpool.Pool
	if cfg.StoreDriver == app.StoreDriverPostgres {
		pool, err = db.New(ctx, cfg.PGDSN)
		if err != nil {
			return err
		}
		defer pool.Close()
		if cfg.AutoMigrate {
			applied, err := db.Migrate(ctx, pool, migrations.Files)
			if err != nil {
				return err
			}
			if len(applied) > 0 {
				logger.Info("migrations applied", slog.Any("versions", applied))
			}
		}
	} else {
		logger.Warn("using in-memory store, data is lost on restart")
	}

	redisClient, err := cache.New(ctx, cfg.Redis())
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	redisOpts := cfg.Redis().Asynq()
	dispatcher, err := jobs.NewClient(redisOpts, cfg.WebhookMaxRetry)
	if err != nil {
		return err
	}
	defer func() {
		if err := dispatcher.Close(); err != nil {
			logger.Warn("asynq client close", slog.Any("error", err))
		}
	}()

	var sinks []events.Sink
	if len(cfg.KafkaBrokers) > 0 {
		kafkaSink := events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaEventsTopic)
		defer func() {
			if err := kafkaSink.Close(); err != nil {
				logger.Warn("kafka close", slog.Any("error", err))
			}
		}()
		sinks = append(sinks, kafkaSink)
	}

	container := app.NewContainer(cfg, logger, app.Deps{
		Pool:       pool,
		Redis:      redisClient,
		Dispatcher: dispatcher,
		Sinks:      sinks,
	})

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := container.Router(cfg, logger, jobs.NewHandler(inspector, logger), readiness(pool, redisClient))

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func readiness(pool *pgxpool.Pool, rdb *redis.Client) app.HealthCheck {
	return func(r *http.Request) error {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	}
}
