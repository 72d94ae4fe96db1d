package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	chi "github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"content-radar/internal/adapters/httpapi"
	"content-radar/internal/adapters/repo"
	"content-radar/internal/infra/cache"
	"content-radar/internal/infra/config"
	"content-radar/internal/infra/db"
	httpinfra "content-radar/internal/infra/http"
	applog "content-radar/internal/infra/log"
	"content-radar/internal/infra/metrics"
	"content-radar/internal/infra/queue"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)
	log := applog.Component(logger, "api")

	if err := cfg.ValidateStorage(); err != nil {
		log.Fatal().Err(err).Msg("api: ошибка конфигурации")
	}

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("api: нет подключения к БД")
	}
	defer pool.Close()
	if err := db.Migrate(pool); err != nil {
		log.Fatal().Err(err).Msg("api: не удалось применить миграции")
	}
	store := repo.NewPostgres(pool)

	var redisClient *redis.Client
	if cfg.RedisAddr != "" && cfg.RabbitURL == "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			log.Warn().Err(err).Msg("api: Redis недоступен")
		} else {
			defer client.Close()
			redisClient = client
		}
	}
	jobs, closeJobs, err := queue.Open(cfg.RabbitURL, redisClient, cfg.Queues.Analysis)
	if err != nil {
		log.Warn().Err(err).Msg("api: очередь анализа недоступна, постановка задач отключена")
	}
	defer closeJobs()

	srv := httpinfra.NewServer(log)
	srv.Router.Group(func(r chi.Router) {
		r.Use(httpinfra.TokenAuthMiddleware(cfg.APIToken))
		httpapi.NewHandler(store, store, jobs, log).Mount(r)
	})

	go func() {
		if err := srv.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			log.Error().Err(err).Msg("api: сервер остановлен")
			stop()
		}
	}()
	<-ctx.Done()
	log.Info().Msg("api: остановка")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
