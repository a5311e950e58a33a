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
	"github.com/kelseyhightower/envconfig"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/accountkit/lifecycle-api/internal/repository/postgres"
	lifecycleService "github.com/accountkit/lifecycle-api/internal/service/lifecycle"
	"github.com/accountkit/lifecycle-api/internal/worker"
	"github.com/accountkit/lifecycle-api/pkg/circuitbreaker"
	"github.com/accountkit/lifecycle-api/pkg/clock"
	"github.com/accountkit/lifecycle-api/pkg/logger"
	"github.com/accountkit/lifecycle-api/pkg/messaging"
	redisbroker "github.com/accountkit/lifecycle-api/pkg/messaging/redis"
	"github.com/accountkit/lifecycle-api/pkg/metrics"
)

type schedulerConfig struct {
	DatabaseURL  string        `envconfig:"DATABASE_URL" required:"true"`
	TickInterval time.Duration `envconfig:"TICK_INTERVAL" default:"60s"`
	MetricsPort  int           `envconfig:"METRICS_PORT" default:"8081"`
	RedisURL     string        `envconfig:"REDIS_URL"`
}

func main() {
	_ = godotenv.Load()

	var cfg schedulerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)

	db, err := postgres.NewDBFromURL(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	store := postgres.NewStore(db)
	clk := clock.New()

	broker := messaging.NewNoop()
	if cfg.RedisURL != "" {
		broker, err = redisbroker.NewRedisBroker(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		broker = messaging.WithCircuitBreaker(broker, circuitbreaker.New(circuitbreaker.Settings{Name: "redis-publish"}))
	}
	defer broker.Close()

	m := metrics.New("lifecycle_scheduler")
	registry := prometheus.NewRegistry()
	m.Register(registry)

	executor := lifecycleService.NewService(store, clk, broker, appLogger)
	ticker := worker.NewTicker(store, executor, clk, worker.Config{Interval: cfg.TickInterval}, appLogger, m)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", cfg.TickInterval), func() {
		if err := ticker.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("failed to process due actions")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule tick job")
	}
	c.Start()
	defer c.Stop()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		if err := db.Ping(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: mux,
	}

	go func() {
		log.Info().
			Int("metrics_port", cfg.MetricsPort).
			Dur("tick_interval", cfg.TickInterval).
			Msg("starting scheduler")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start metrics server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down scheduler...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("metrics server forced to shutdown")
	}

	log.Info().Msg("scheduler exited properly")
}
