package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/stdlib"

	"content-radar/internal/infra/config"
	"content-radar/internal/infra/db"
	applog "content-radar/internal/infra/log"
	"content-radar/migrations"
)

func main() {
	flag.Usage = func() {
		_, _ = os.Stderr.WriteString("usage: migrate [up|down|status|version|reset|redo] [args]\n")
	}
	flag.Parse()

	cfg := config.Load()
	logger := applog.Component(applog.NewLogger(cfg.AppEnv), "migrate")

	command := "up"
	args := flag.Args()
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}
	if err := cfg.ValidateStorage(); err != nil {
		logger.Error().Err(err).Msg("migrate: ошибка конфигурации")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("migrate: нет подключения к БД")
	}
	defer pool.Close()

	sqlDB := stdlib.OpenDBFromPool(pool)
	defer sqlDB.Close()

	if err := migrations.Command(ctx, sqlDB, command, args...); err != nil {
		logger.Error().Err(err).Str("command", command).Msg("migrate: команда завершилась с ошибкой")
		os.Exit(1)
	}
	logger.Info().Str("command", command).Msg("migrate: готово")
}
