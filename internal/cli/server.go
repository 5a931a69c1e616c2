package cli

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"mathblitz-service/internal/app"
	"mathblitz-service/internal/config"
	"mathblitz-service/internal/equation"
	"mathblitz-service/internal/infra/memory"
	pgstore "mathblitz-service/internal/infra/postgres"
	redisstore "mathblitz-service/internal/infra/redis"
	"mathblitz-service/internal/metrics"
	transport "mathblitz-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the game server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrations(ctx, cfg, log); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var bunDB *bun.DB
	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		bunDB = bun.NewDB(sqldb, pgdialect.New())
		defer bunDB.Close()

		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	var store app.GameStore
	if bunDB != nil {
		store = pgstore.NewGameStore(bunDB)
	} else {
		store = memory.NewGameStore()
	}

	// Event log preference: Redis streams when available, else the games
	// database, else process memory.
	var events app.EventSink
	switch {
	case redisClient != nil:
		events = redisstore.NewEventLog(redisClient, config.Duration(cfg.Redis.TTL, 24*time.Hour))
	case bunDB != nil:
		events = pgstore.NewEventLog(bunDB)
	default:
		events = memory.NewEventLog()
	}

	evaluator := equation.NewRemoteEvaluator(cfg.MathJS.BaseURL, config.Duration(cfg.MathJS.Timeout, 3*time.Second))
	generator := equation.NewGenerator(evaluator)
	recorder := metrics.NewRecorder()

	games := app.NewGameService(store, events, generator, recorder)

	var analytics *app.AnalyticsService
	if pool != nil {
		analytics = app.NewAnalyticsService(pgstore.NewAnalyticsRepo(pool))
	}

	health := func(ctx context.Context) error {
		if bunDB != nil {
			if err := bunDB.PingContext(ctx); err != nil {
				return err
			}
		}
		if redisClient != nil {
			if err := redisClient.Ping(ctx).Err(); err != nil {
				return err
			}
		}
		return nil
	}

	handler := transport.NewHandler(games, analytics, recorder, health, log)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      handler.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.WithField("port", finalPort).Info("starting mathblitz service")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("server stopped")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server...")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
