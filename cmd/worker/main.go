package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"automation-engine/internal/cache"
	"automation-engine/internal/config"
	"automation-engine/internal/engine"
	"automation-engine/internal/logging"
	"automation-engine/internal/scheduler"
	"automation-engine/internal/store"
	"automation-engine/internal/telemetry"
	"automation-engine/internal/webhooks"
	workerproc "automation-engine/internal/worker"
)

func main() {
	cfg := config.Load()
	logging.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		log.Fatal().Err(err).Msg("migrations")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	aggregates := cache.New(redisClient, cfg.CacheTTL)

	eng := engine.New(st, st, st, st)
	dispatcher := webhooks.NewDispatcher(st, cfg.WebhookTimeout)
	processor := workerproc.NewProcessor(cfg, st, eng, dispatcher, aggregates)
	sched := scheduler.New(st, st, cfg.SchedulerInterval, cfg.RenewalNoticeDays)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			log.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	stopScheduler := sched.Start()
	defer stopScheduler()

	log.Info().
		Dur("poll_interval", cfg.PollInterval).
		Int("renewal_notice_days", cfg.RenewalNoticeDays).
		Msg("worker started")
	if err := processor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("worker stopped")
	}
}
