package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"content-radar/internal/adapters/notifier"
	"content-radar/internal/adapters/platform"
	"content-radar/internal/adapters/repo"
	"content-radar/internal/domain"
	"content-radar/internal/infra/cache"
	"content-radar/internal/infra/config"
	"content-radar/internal/infra/db"
	applog "content-radar/internal/infra/log"
	"content-radar/internal/infra/metrics"
	"content-radar/internal/infra/queue"
	"content-radar/internal/usecase/crawl"
	"content-radar/internal/usecase/progress"
)

type flags struct {
	platform string
	keywords []string
	taskID   string
	kind     string
	memory   bool
}

func main() {
	var (
		platformName = flag.String("platform", "", "платформа: "+strings.Join(domain.SupportedPlatforms(), ", "))
		keywordsRaw  = flag.String("keywords", "", "ключевые слова через запятую")
		taskID       = flag.String("task-id", "", "идентификатор задачи для возобновления")
		kind         = flag.String("type", "search", "тип сборщика")
		memory       = flag.Bool("memory", false, "хранить прогресс и контент в памяти (без БД)")
	)
	flag.Parse()

	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	f := flags{
		platform: *platformName,
		keywords: splitList(*keywordsRaw),
		taskID:   *taskID,
		kind:     *kind,
		memory:   *memory,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, cfg, f, logger)
	stop()
	if err != nil {
		if domain.IsConfigError(err) {
			logger.Error().Err(err).Msg("crawler: ошибка конфигурации")
			os.Exit(2)
		}
		logger.Error().Err(err).Msg("crawler: запуск завершился с ошибкой")
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.AppConfig, f flags, logger zerolog.Logger) error {
	mapping, err := domain.LookupPlatform(f.platform)
	if err != nil {
		return err
	}
	if len(f.keywords) == 0 {
		return domain.NewConfigError("keywords", "at least one keyword is required")
	}
	if err := cfg.ValidateCrawler(); err != nil {
		return err
	}
	if !f.memory {
		if err := cfg.ValidateStorage(); err != nil {
			return err
		}
	}
	log := applog.Component(logger, "crawler").With().Str("platform", mapping.Platform).Logger()

	if cfg.Metrics.Enabled {
		metrics.MustRegister(prometheus.DefaultRegisterer)
		metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.Metrics.Addr)
	}

	var (
		progressRepo domain.ProgressRepo
		contentRepo  domain.ContentRepo
	)
	if f.memory {
		mem := repo.NewMemory()
		progressRepo, contentRepo = mem, mem
	} else {
		pool, err := db.Connect(cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pool.Close()
		if err := db.Migrate(pool); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		pg := repo.NewPostgres(pool)
		progressRepo, contentRepo = pg, pg
	}

	store := progress.NewStore(progressRepo, progress.Options{
		StartPage:          cfg.Crawl.StartPage,
		MaxItemsPerKeyword: cfg.Crawl.MaxItemsPerKeyword,
		PageSize:           mapping.PageSize,
		ResumeEnabled:      cfg.Crawl.ResumeEnabled,
	}, applog.Component(logger, "progress"))
	task, err := store.Initialize(ctx, progress.TaskSpec{
		Platform:    mapping.Platform,
		CrawlerType: f.kind,
		TaskID:      f.taskID,
		Keywords:    f.keywords,
		Config:      cfg.Crawl,
	})
	if err != nil {
		return err
	}

	adapter, err := platform.NewSearchAdapter(mapping, contentRepo, platform.Options{
		SearchURL:         cfg.Crawl.SearchURL,
		CommentsURL:       cfg.Crawl.CommentsURL,
		UserAgent:         cfg.Crawl.UserAgent,
		RequestsPerSecond: cfg.Crawl.RequestsPerSecond,
		MaxConcurrency:    cfg.Crawl.MaxConcurrency,
		Timeout:           cfg.Crawl.PageTimeout,
	}, applog.Component(logger, "platform"))
	if err != nil {
		return err
	}

	opts := crawl.Options{
		Platform:           mapping.Platform,
		EmptyPageThreshold: cfg.Crawl.EmptyPageThreshold,
		PageTimeout:        cfg.Crawl.PageTimeout,
		KeywordConcurrency: cfg.Crawl.KeywordConcurrency,
		SideFetch:          cfg.Crawl.FetchComments,
	}
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		client, err := cache.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			log.Warn().Err(err).Msg("crawler: Redis недоступен, работаем без кэша")
		} else {
			defer client.Close()
			redisClient = client
			opts.Seen = cache.NewRedisSeen(client, cfg.Crawl.DedupTTL)
			opts.SeenScope = task.TaskID
		}
	}
	jobs, closeJobs, err := queue.Open(cfg.RabbitURL, redisClient, cfg.Queues.Analysis)
	if err != nil {
		log.Warn().Err(err).Msg("crawler: очередь анализа недоступна, задачи не ставятся")
	} else if jobs != nil {
		defer closeJobs()
		adapter.WithQueue(jobs)
	}

	orch := crawl.NewOrchestrator[domain.ContentItem](adapter, store, opts, log)
	stats, runErr := orch.Run(ctx, f.keywords)

	// отменённый запуск остаётся running, чтобы его можно было продолжить
	if runErr == nil && ctx.Err() == nil {
		if err := store.Cleanup(context.WithoutCancel(ctx)); err != nil {
			log.Error().Err(err).Msg("crawler: не удалось завершить задачу")
		}
	}

	log.Info().
		Str("task_id", task.TaskID).
		Int("pages", stats.Pages).
		Int("total", stats.TotalItems).
		Int("new", stats.NewItems).
		Int("duplicate", stats.DuplicateItems).
		Int("failed", stats.FailedItems).
		Msg("crawler: итог запуска")

	notify(context.WithoutCancel(ctx), cfg, log, notifier.FormatCrawlReport(task.TaskID, stats))

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

func notify(ctx context.Context, cfg config.AppConfig, log zerolog.Logger, text string) {
	n := notifier.New(cfg.Telegram.Token, cfg.Telegram.ChatID, applog.Component(log, "notifier"))
	if err := n.Notify(ctx, text); err != nil {
		log.Warn().Err(err).Msg("crawler: отчёт не отправлен")
	}
}

func splitList(raw string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" || seen[part] {
			continue
		}
		seen[part] = true
		out = append(out, part)
	}
	return out
}
