package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/accountkit/lifecycle-api/internal/config"
	"github.com/accountkit/lifecycle-api/internal/handler/account"
	"github.com/accountkit/lifecycle-api/internal/repository/postgres"
	"github.com/accountkit/lifecycle-api/internal/router"
	lifecycleService "github.com/accountkit/lifecycle-api/internal/service/lifecycle"
	queryService "github.com/accountkit/lifecycle-api/internal/service/query"
	"github.com/accountkit/lifecycle-api/internal/worker"
	"github.com/accountkit/lifecycle-api/pkg/circuitbreaker"
	"github.com/accountkit/lifecycle-api/pkg/clock"
	"github.com/accountkit/lifecycle-api/pkg/logger"
	"github.com/accountkit/lifecycle-api/pkg/messaging"
	redisbroker "github.com/accountkit/lifecycle-api/pkg/messaging/redis"
	"github.com/accountkit/lifecycle-api/pkg/metrics"
)

func main() {
	// Load .env in development; ignore absence in production
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	store := postgres.NewStore(db)
	clk := clock.New()

	broker := messaging.NewNoop()
	if cfg.Redis.URL != "" {
		broker, err = redisbroker.NewRedisBroker(cfg.Redis.URL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		broker = messaging.WithCircuitBreaker(broker, circuitbreaker.New(circuitbreaker.Settings{Name: "redis-publish"}))
	}
	defer broker.Close()

	m := metrics.New("lifecycle")
	registry := prometheus.NewRegistry()
	m.Register(registry)

	lifecycleSvc := lifecycleService.NewService(store, clk, broker, appLogger)
	querySvc := queryService.NewService(store, clk, cfg.Stats.CacheTTL)

	accountHandler := account.NewHandler(lifecycleSvc, querySvc, m)

	r := router.NewRouter(accountHandler, registry, db.Ping, router.Config{
		RateLimitRPS:   cfg.RateLimit.RPS,
		RateLimitBurst: cfg.RateLimit.Burst,
	})
	r.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Single-binary deployments run the due-action scan in-process. Safe to
	// enable alongside the standalone scheduler: execution is idempotent.
	if cfg.Scheduler.Embedded {
		ticker := worker.NewTicker(store, lifecycleSvc, clk, worker.Config{Interval: cfg.Scheduler.Interval}, appLogger, m)
		go ticker.Start(ctx)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
