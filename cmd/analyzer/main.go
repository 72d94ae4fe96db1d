package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"content-radar/internal/adapters/analyzer"
	"content-radar/internal/adapters/notifier"
	"content-radar/internal/adapters/repo"
	"content-radar/internal/domain"
	"content-radar/internal/infra/cache"
	"content-radar/internal/infra/config"
	"content-radar/internal/infra/db"
	applog "content-radar/internal/infra/log"
	"content-radar/internal/infra/metrics"
	openai "content-radar/internal/infra/openai"
	"content-radar/internal/infra/queue"
	"content-radar/internal/usecase/analysis"
)

type flags struct {
	platform string
	limit    int
	ids      []string
	test     bool
	worker   bool
}

func main() {
	var (
		platformName = flag.String("platform", "", "платформа: "+strings.Join(domain.SupportedPlatforms(), ", "))
		limit        = flag.Int("limit", 100, "сколько необработанных материалов взять")
		ids          = flag.String("ids", "", "идентификаторы материалов через запятую")
		test         = flag.Bool("test", false, "проверить связь с моделью одним анализом без сохранения")
		worker       = flag.Bool("worker", false, "обрабатывать задачи из очереди анализа")
	)
	flag.Parse()

	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	f := flags{platform: *platformName, limit: *limit, ids: splitList(*ids), test: *test, worker: *worker}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, cfg, f, logger)
	stop()
	if err != nil {
		if domain.IsConfigError(err) {
			logger.Error().Err(err).Msg("analyzer: ошибка конфигурации")
			os.Exit(2)
		}
		logger.Error().Err(err).Msg("analyzer: обработка не завершена")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.AppConfig, f flags, logger zerolog.Logger) error {
	if err := cfg.ValidateAnalyzer(); err != nil {
		return err
	}
	if !f.worker {
		if _, err := domain.LookupPlatform(f.platform); err != nil {
			return err
		}
	}
	log := applog.Component(logger, "analyzer")

	if cfg.Metrics.Enabled {
		metrics.MustRegister(prometheus.DefaultRegisterer)
		metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.Metrics.Addr)
	}

	pool, err := db.Connect(cfg.PGDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	if err := db.Migrate(pool); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	store := repo.NewPostgres(pool)

	client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
	cost := analyzer.NewCostAccountant(cfg.OpenAI.Model, applog.Component(logger, "cost"))
	llm := analyzer.New(client, analyzer.Options{
		Model:       cfg.OpenAI.Model,
		Temperature: cfg.OpenAI.Temperature,
		MaxTokens:   cfg.OpenAI.MaxTokens,
		Timeout:     cfg.OpenAI.Timeout,
		MaxRetries:  cfg.OpenAI.MaxRetries,
		RetryDelay:  cfg.OpenAI.RetryDelay,
	}, cost, applog.Component(logger, "llm"))
	processor := analysis.NewProcessor(store, llm, analysis.SplitOptions{
		CountLimit:   cfg.Batch.DefaultSize,
		TargetLength: cfg.Batch.TargetContentLength,
		MaxLength:    cfg.Batch.MaxContentLength,
	}, log)

	switch {
	case f.worker:
		return runWorker(ctx, cfg, processor, log)
	case f.test:
		report, err := processor.TestProcessing(ctx, f.platform)
		if err != nil {
			return err
		}
		return printJSON(report)
	}

	var stats domain.ProcessingStats
	if len(f.ids) > 0 {
		stats, err = processor.ProcessSpecificContent(ctx, f.platform, f.ids)
	} else {
		stats, err = processor.ProcessPlatform(ctx, f.platform, f.limit)
	}
	summary := cost.SessionSummary()
	notify(context.WithoutCancel(ctx), cfg, log, notifier.FormatProcessingReport(f.platform, stats, &summary))
	if perr := printJSON(map[string]any{"stats": stats, "cost": summary}); perr != nil {
		log.Warn().Err(perr).Msg("analyzer: не удалось вывести итог")
	}
	return err
}

func runWorker(ctx context.Context, cfg config.AppConfig, processor *analysis.Processor, log zerolog.Logger) error {
	if cfg.RedisAddr == "" && cfg.RabbitURL == "" {
		return domain.NewConfigError("REDIS_ADDR", "REDIS_ADDR or RABBITMQ_URL is required for -worker")
	}
	var redisClient *redis.Client
	if cfg.RabbitURL == "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer client.Close()
		redisClient = client
	}
	jobs, closeJobs, err := queue.Open(cfg.RabbitURL, redisClient, cfg.Queues.Analysis)
	if err != nil {
		return err
	}
	defer closeJobs()
	w := analysis.NewWorker(jobs, processor, log, func(_ context.Context, job domain.AnalysisJob, stats domain.ProcessingStats, err error) {
		ev := log.Info()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("job_id", job.ID).
			Str("platform", job.Platform).
			Int("success", stats.SuccessItems).
			Int("failed", stats.FailedItems).
			Int("skipped", stats.SkippedItems).
			Msg("analyzer: задача из очереди обработана")
	})
	return w.Run(ctx)
}

func notify(ctx context.Context, cfg config.AppConfig, log zerolog.Logger, text string) {
	n := notifier.New(cfg.Telegram.Token, cfg.Telegram.ChatID, applog.Component(log, "notifier"))
	if err := n.Notify(ctx, text); err != nil {
		log.Warn().Err(err).Msg("analyzer: отчёт не отправлен")
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
