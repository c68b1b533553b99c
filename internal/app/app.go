package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ayo6706/peer-exchange/internal/api"
	"github.com/ayo6706/peer-exchange/internal/api/handler"
	"github.com/ayo6706/peer-exchange/internal/api/middleware"
	"github.com/ayo6706/peer-exchange/internal/config"
	"github.com/ayo6706/peer-exchange/internal/db"
	"github.com/ayo6706/peer-exchange/internal/domain"
	"github.com/ayo6706/peer-exchange/internal/idempotency"
	"github.com/ayo6706/peer-exchange/internal/observability"
	"github.com/ayo6706/peer-exchange/internal/rates"
	"github.com/ayo6706/peer-exchange/internal/repository"
	"github.com/ayo6706/peer-exchange/internal/service"
	"github.com/ayo6706/peer-exchange/internal/worker"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Run bootstraps the HTTP server and background workers, blocking until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MigrationsEnabled {
		if err := db.Migrate(cfg.DatabaseURL); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		logger.Info("database migrations applied")
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	// A nil interface keeps the idempotency store and readiness probe on Postgres only.
	var (
		redisCmd    redis.Cmdable
		redisHealth handler.Pinger
	)
	if cfg.RedisURL != "" {
		client, err := newRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer client.Close()
		redisCmd = client
		redisHealth = redisPinger{client: client}
	} else {
		logger.Info("redis disabled, idempotency replays served from postgres")
	}

	auth, err := middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience)
	if err != nil {
		return fmt.Errorf("init authenticator: %w", err)
	}

	httpClient := &http.Client{Timeout: cfg.RateHTTPTimeout}
	oracle := rates.NewOracle(
		rates.NewNationalBankFeed(cfg.RatePrimaryURL, httpClient),
		rates.NewTableSource(cfg.RateTableURL, httpClient),
		rates.Options{
			Enabled:  cfg.RateAPIEnabled,
			Leg:      domain.CurrencyPLN,
			Home:     domain.CurrencyKZT,
			Fallback: cfg.RateFallback,
			TTL:      cfg.RateCacheTTL,
			Logger:   logger.Named("rates"),
		},
	)

	store := repository.NewStore(pool)
	idemStore := idempotency.NewStore(redisCmd, repository.New(pool), cfg.IdempotencyTTL)

	users := service.NewUserService(store, logger)
	postings := service.NewPostingService(store, logger)
	matches := service.NewMatchService(store, oracle, logger)
	settlements := service.NewSettlementService(store, oracle, logger)
	trust := service.NewTrustService(store, logger)
	expiry := service.NewExpiryService(store, postings, cfg.PostingMaxAge, logger)
	reconciliation := service.NewStatsReconciliationService(store, trust)

	workers := []*worker.PeriodicWorker{
		worker.NewPeriodicWorker("posting_expiry", worker.CountingJob(expiry, "posting_expiry", logger), logger).
			WithInterval(cfg.ExpiryInterval),
		worker.NewPeriodicWorker("stats_reconciliation", worker.CountingJob(reconciliation, "stats_reconciliation", logger), logger).
			WithInterval(cfg.ReconciliationInterval),
		worker.NewPeriodicWorker("idempotency_purge", worker.PurgeJob(idemStore, time.Now), logger).
			WithInterval(cfg.IdempotencyTTL),
	}

	router := api.NewRouter(api.Deps{
		Auth:               auth,
		Idempotency:        idemStore,
		DB:                 pool,
		Redis:              redisHealth,
		Users:              users,
		Postings:           postings,
		Matches:            matches,
		Settlements:        settlements,
		Ratings:            trust,
		Rates:              oracle,
		PublicRateLimitRPS: cfg.PublicRateLimitRPS,
		AuthRateLimitRPS:   cfg.AuthRateLimitRPS,
	}, logger)

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	stops := make([]func(), 0, len(workers))
	for _, w := range workers {
		stops = append(stops, w.Run(gctx))
	}

	g.Go(func() error {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http server shutdown failed", zap.Error(err))
		}

		logger.Info("stopping workers")
		for _, stopWorker := range stops {
			stopWorker()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info", "":
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
