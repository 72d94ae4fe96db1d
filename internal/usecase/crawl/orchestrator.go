package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"content-radar/internal/domain"
	"content-radar/internal/infra/metrics"
	"content-radar/internal/usecase/progress"
)

// Adapter — минимальный набор возможностей платформы для цикла сбора.
type Adapter[T any] interface {
	GetPageContent(ctx context.Context, keyword string, page int) ([]T, error)
	StoreContent(ctx context.Context, keyword string, item T) error
	ExtractItemID(item T) string
	ExtractItemTimestamp(item T) int64
}

// PagePreprocessor — необязательная обработка всей страницы перед сохранением.
type PagePreprocessor[T any] interface {
	PreprocessPage(ctx context.Context, keyword string, items []T) ([]T, error)
}

// SideFetcher — необязательная догрузка комментариев или деталей после страницы.
type SideFetcher[T any] interface {
	FetchDetails(ctx context.Context, keyword string, items []T) error
}

// EmptyPagePolicy — необязательная политика остановки на пустых страницах.
type EmptyPagePolicy interface {
	StopOnEmptyPage(keyword string, page, emptyPages int) bool
}

// PageObserver получает идентификаторы новых элементов зафиксированной страницы.
// Вызывается после догрузки деталей, если она включена.
type PageObserver interface {
	PageCommitted(ctx context.Context, keyword string, page int, newIDs []string)
}

// Tracker — операции хранилища прогресса, которые нужны циклу.
type Tracker interface {
	GetResumePage(keyword string) int
	ShouldSkipItem(itemID string, itemTimestamp int64, keyword string) bool
	UpdateKeywordProgress(ctx context.Context, keyword string, page, itemsDelta int, lastItemID string, lastItemTimestamp int64) error
	SaveCheckpoint(ctx context.Context, keyword string, page int, data any) error
	ShouldStopCrawling(ctx context.Context, keyword string, page int) (bool, error)
	MarkKeywordCompleted(ctx context.Context, keyword string) error
	UpdateStatistics(ctx context.Context, total, newItems, duplicate, failed int) error
}

var _ Tracker = (*progress.Store)(nil)

// Options задаёт политику цикла.
type Options struct {
	Platform           string
	EmptyPageThreshold int
	// MaxPages ограничивает число запросов страниц на слово за запуск; 0 — без ограничения.
	// Слово, упёршееся в этот лимит, остаётся незавершённым и продолжится следующим запуском.
	MaxPages           int
	PageTimeout        time.Duration
	KeywordConcurrency int
	SideFetch          bool
	// Seen — дополнительный слой дедупликации; SeenScope отделяет задачи друг от друга.
	Seen      domain.SeenCache
	SeenScope string
}

// KeywordStats — итог по одному ключевому слову.
type KeywordStats struct {
	Keyword        string `json:"keyword"`
	StartPage      int    `json:"start_page"`
	Pages          int    `json:"pages"`
	TotalItems     int    `json:"total_items"`
	NewItems       int    `json:"new_items"`
	DuplicateItems int    `json:"duplicate_items"`
	FailedItems    int    `json:"failed_items"`
	AlreadyDone    bool   `json:"already_done"`
	Completed      bool   `json:"completed"`
}

// RunStats — агрегат по всем ключевым словам запуска.
type RunStats struct {
	Platform       string         `json:"platform"`
	Keywords       []KeywordStats `json:"keywords"`
	Pages          int            `json:"pages"`
	TotalItems     int            `json:"total_items"`
	NewItems       int            `json:"new_items"`
	DuplicateItems int            `json:"duplicate_items"`
	FailedItems    int            `json:"failed_items"`
	StartTime      time.Time      `json:"start_time"`
	EndTime        time.Time      `json:"end_time"`
}

func (r *RunStats) add(k KeywordStats) {
	r.Keywords = append(r.Keywords, k)
	r.Pages += k.Pages
	r.TotalItems += k.TotalItems
	r.NewItems += k.NewItems
	r.DuplicateItems += k.DuplicateItems
	r.FailedItems += k.FailedItems
}

// Orchestrator проходит ключевые слова постранично, решая по прогрессу,
// что пропустить и где остановиться.
type Orchestrator[T any] struct {
	adapter Adapter[T]
	tracker Tracker
	opts    Options
	log     zerolog.Logger
}

// NewOrchestrator создаёт цикл сбора.
func NewOrchestrator[T any](adapter Adapter[T], tracker Tracker, opts Options, logger zerolog.Logger) *Orchestrator[T] {
	if opts.EmptyPageThreshold <= 0 {
		opts.EmptyPageThreshold = 3
	}
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 30 * time.Second
	}
	if opts.KeywordConcurrency <= 0 {
		opts.KeywordConcurrency = 1
	}
	return &Orchestrator[T]{adapter: adapter, tracker: tracker, opts: opts, log: logger}
}

// Run обрабатывает все ключевые слова и возвращает агрегированную статистику.
// Отмена ctx прерывает запуск без продвижения курсора за незавершённую страницу.
func (o *Orchestrator[T]) Run(ctx context.Context, keywords []string) (RunStats, error) {
	stats := RunStats{Platform: o.opts.Platform, StartTime: time.Now().UTC()}
	results := make([]KeywordStats, len(keywords))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.opts.KeywordConcurrency)
	for i, keyword := range keywords {
		g.Go(func() error {
			res, err := o.crawlKeyword(gctx, keyword)
			results[i] = res
			return err
		})
	}
	err := g.Wait()

	for _, res := range results {
		if res.Keyword != "" {
			stats.add(res)
		}
	}
	stats.EndTime = time.Now().UTC()
	o.log.Info().
		Int("keywords", len(keywords)).
		Int("pages", stats.Pages).
		Int("total", stats.TotalItems).
		Int("new", stats.NewItems).
		Int("duplicate", stats.DuplicateItems).
		Int("failed", stats.FailedItems).
		Msg("crawler: запуск завершён")
	return stats, err
}

func (o *Orchestrator[T]) crawlKeyword(ctx context.Context, keyword string) (KeywordStats, error) {
	log := o.log.With().Str("keyword", keyword).Logger()
	ks := KeywordStats{Keyword: keyword}

	page := o.tracker.GetResumePage(keyword)
	ks.StartPage = page
	if page >= progress.CompletedPage {
		ks.AlreadyDone = true
		log.Info().Msg("crawler: ключевое слово уже собрано, пропускаем")
		return ks, nil
	}
	log.Info().Int("page", page).Msg("crawler: старт ключевого слова")

	emptyPages := 0
	newestFirst := false
	capped := false
	for {
		if err := ctx.Err(); err != nil {
			return ks, err
		}
		if o.opts.MaxPages > 0 && ks.Pages >= o.opts.MaxPages {
			log.Info().Int("pages", ks.Pages).Msg("crawler: достигнут лимит страниц за запуск")
			capped = true
			break
		}

		items, err := o.fetchPage(ctx, keyword, page)
		ks.Pages++
		if err != nil {
			if ctx.Err() != nil {
				return ks, ctx.Err()
			}
			metrics.ObservePage(o.opts.Platform, "error")
			log.Error().Err(err).Int("page", page).Msg("crawler: ошибка получения страницы, переходим к следующей")
			ks.FailedItems++
			page++
			if o.shouldStop(ctx, keyword, page, log) {
				break
			}
			continue
		}

		if len(items) == 0 {
			metrics.ObservePage(o.opts.Platform, "empty")
			emptyPages++
			if o.stopOnEmpty(keyword, page, emptyPages) {
				log.Info().Int("page", page).Int("empty_pages", emptyPages).Msg("crawler: пустые страницы подряд, останавливаемся")
				break
			}
			page++
			if o.shouldStop(ctx, keyword, page, log) {
				break
			}
			continue
		}
		metrics.ObservePage(o.opts.Platform, "ok")
		emptyPages = 0

		outcome, err := o.processPage(ctx, keyword, items, log)
		if err != nil {
			return ks, err
		}
		ks.TotalItems += outcome.total
		ks.NewItems += len(outcome.newIDs)
		ks.DuplicateItems += outcome.duplicate
		ks.FailedItems += outcome.failed

		newestFirst = newestFirst || outcome.descending()
		if newestFirst {
			// в ленте от новых к старым следующие страницы старше хвоста; курсор держим только по id
			outcome.lastTS = 0
		}
		o.commitPage(ctx, keyword, page, outcome, log)

		if o.opts.SideFetch {
			if fetcher, ok := o.adapter.(SideFetcher[T]); ok && len(outcome.stored) > 0 {
				if err := fetcher.FetchDetails(ctx, keyword, outcome.stored); err != nil {
					log.Warn().Err(err).Int("page", page).Msg("crawler: не удалось догрузить детали страницы")
				}
			}
		}
		if observer, ok := o.adapter.(PageObserver); ok && len(outcome.newIDs) > 0 {
			observer.PageCommitted(ctx, keyword, page, outcome.newIDs)
		}

		page++
		if o.shouldStop(ctx, keyword, page, log) {
			break
		}
	}

	if !capped {
		ks.Completed = true
		if err := o.tracker.MarkKeywordCompleted(ctx, keyword); err != nil {
			o.progressFailed(log, "mark_completed", err)
		}
	}
	if err := o.tracker.UpdateStatistics(ctx, ks.TotalItems, ks.NewItems, ks.DuplicateItems, ks.FailedItems); err != nil {
		o.progressFailed(log, "update_statistics", err)
	}
	log.Info().
		Int("pages", ks.Pages).
		Int("total", ks.TotalItems).
		Int("new", ks.NewItems).
		Int("duplicate", ks.DuplicateItems).
		Int("failed", ks.FailedItems).
		Msg("crawler: ключевое слово завершено")
	return ks, nil
}

func (o *Orchestrator[T]) fetchPage(ctx context.Context, keyword string, page int) ([]T, error) {
	pageCtx, cancel := context.WithTimeout(ctx, o.opts.PageTimeout)
	defer cancel()
	items, err := o.adapter.GetPageContent(pageCtx, keyword, page)
	if err != nil {
		if !errors.Is(err, domain.ErrFetch) {
			err = fmt.Errorf("%w: %v", domain.ErrFetch, err)
		}
		return nil, err
	}
	return items, nil
}

type pageOutcome[T any] struct {
	total     int
	duplicate int
	failed    int
	newIDs    []string
	itemIDs   []string
	stored    []T
	lastID    string
	lastTS    int64
	firstTS   int64
}

// descending сообщает, что страница отсортирована от новых к старым.
func (p pageOutcome[T]) descending() bool {
	return p.firstTS > 0 && p.lastTS > 0 && p.firstTS > p.lastTS
}

func (o *Orchestrator[T]) processPage(ctx context.Context, keyword string, items []T, log zerolog.Logger) (pageOutcome[T], error) {
	if pre, ok := o.adapter.(PagePreprocessor[T]); ok {
		processed, err := pre.PreprocessPage(ctx, keyword, items)
		if err != nil {
			log.Warn().Err(err).Msg("crawler: предобработка страницы не удалась, используем исходные элементы")
		} else {
			items = processed
		}
	}

	var out pageOutcome[T]
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		id := o.adapter.ExtractItemID(item)
		ts := o.adapter.ExtractItemTimestamp(item)
		out.total++
		out.itemIDs = append(out.itemIDs, id)
		out.lastID, out.lastTS = id, ts
		if out.firstTS == 0 {
			out.firstTS = ts
		}

		if o.isDuplicate(ctx, keyword, id, ts, log) {
			out.duplicate++
			continue
		}
		if err := o.adapter.StoreContent(ctx, keyword, item); err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			out.failed++
			log.Error().Err(err).Str("item_id", id).Msg("crawler: не удалось сохранить элемент")
			continue
		}
		out.newIDs = append(out.newIDs, id)
		out.stored = append(out.stored, item)
	}
	// страница не зафиксирована, если её прервали
	if err := ctx.Err(); err != nil {
		return out, err
	}
	metrics.ObserveItems(o.opts.Platform, "new", len(out.newIDs))
	metrics.ObserveItems(o.opts.Platform, "duplicate", out.duplicate)
	metrics.ObserveItems(o.opts.Platform, "failed", out.failed)
	return out, nil
}

func (o *Orchestrator[T]) isDuplicate(ctx context.Context, keyword, id string, ts int64, log zerolog.Logger) bool {
	if o.tracker.ShouldSkipItem(id, ts, keyword) {
		return true
	}
	if o.opts.Seen == nil || id == "" {
		return false
	}
	seen, err := o.opts.Seen.Seen(ctx, o.seenScope(keyword), id)
	if err != nil {
		log.Warn().Err(err).Str("item_id", id).Msg("crawler: кэш дедупликации недоступен")
		return false
	}
	return seen
}

func (o *Orchestrator[T]) seenScope(keyword string) string {
	return o.opts.SeenScope + ":" + keyword
}

type pageCheckpoint struct {
	ItemIDs           []string  `json:"item_ids"`
	Fetched           int       `json:"fetched"`
	New               int       `json:"new"`
	Duplicate         int       `json:"duplicate"`
	Failed            int       `json:"failed"`
	LastItemID        string    `json:"last_item_id,omitempty"`
	LastItemTimestamp int64     `json:"last_item_timestamp,omitempty"`
	CommittedAt       time.Time `json:"committed_at"`
}

func (o *Orchestrator[T]) commitPage(ctx context.Context, keyword string, page int, out pageOutcome[T], log zerolog.Logger) {
	if err := o.tracker.UpdateKeywordProgress(ctx, keyword, page, len(out.newIDs), out.lastID, out.lastTS); err != nil {
		o.progressFailed(log.With().Int("page", page).Logger(), "update_keyword_progress", err)
	}
	cp := pageCheckpoint{
		ItemIDs:           out.itemIDs,
		Fetched:           out.total,
		New:               len(out.newIDs),
		Duplicate:         out.duplicate,
		Failed:            out.failed,
		LastItemID:        out.lastID,
		LastItemTimestamp: out.lastTS,
		CommittedAt:       time.Now().UTC(),
	}
	if err := o.tracker.SaveCheckpoint(ctx, keyword, page, cp); err != nil {
		o.progressFailed(log.With().Int("page", page).Logger(), "save_checkpoint", err)
	}
	if o.opts.Seen != nil && len(out.newIDs) > 0 {
		if err := o.opts.Seen.Remember(ctx, o.seenScope(keyword), out.newIDs...); err != nil {
			log.Warn().Err(err).Msg("crawler: не удалось обновить кэш дедупликации")
		}
	}
	log.Debug().
		Int("page", page).
		Int("fetched", out.total).
		Int("new", len(out.newIDs)).
		Int("duplicate", out.duplicate).
		Int("failed", out.failed).
		Msg("crawler: страница зафиксирована")
}

func (o *Orchestrator[T]) stopOnEmpty(keyword string, page, emptyPages int) bool {
	if policy, ok := o.adapter.(EmptyPagePolicy); ok {
		return policy.StopOnEmptyPage(keyword, page, emptyPages)
	}
	return emptyPages >= o.opts.EmptyPageThreshold
}

func (o *Orchestrator[T]) shouldStop(ctx context.Context, keyword string, page int, log zerolog.Logger) bool {
	stop, err := o.tracker.ShouldStopCrawling(ctx, keyword, page)
	if err != nil {
		o.progressFailed(log, "should_stop_crawling", err)
	}
	if stop {
		log.Info().Int("page", page).Msg("crawler: достигнут лимит элементов по ключевому слову")
	}
	return stop
}

// progressFailed громко логирует сбой учёта прогресса; страницу он не прерывает.
func (o *Orchestrator[T]) progressFailed(log zerolog.Logger, operation string, err error) {
	metrics.ObserveProgressError(o.opts.Platform, operation)
	log.Error().Err(err).Str("operation", operation).Msg("crawler: ошибка записи прогресса")
}
