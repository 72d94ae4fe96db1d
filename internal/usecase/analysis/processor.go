package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"content-radar/internal/domain"
	"content-radar/internal/infra/metrics"
)

type pinger interface {
	Ping(ctx context.Context) error
}

// Processor прогоняет необработанный контент платформы через анализатор.
type Processor struct {
	repo     domain.ContentRepo
	analyzer domain.ContentAnalyzer
	split    SplitOptions
	log      zerolog.Logger
	now      domain.Clock
}

// NewProcessor создаёт обработчик пачек.
func NewProcessor(repo domain.ContentRepo, analyzer domain.ContentAnalyzer, split SplitOptions, logger zerolog.Logger) *Processor {
	return &Processor{
		repo:     repo,
		analyzer: analyzer,
		split:    split.normalized(),
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetClock подменяет источник времени.
func (p *Processor) SetClock(clock domain.Clock) { p.now = clock }

// ProcessPlatform анализирует до limit ещё не разобранных материалов платформы.
func (p *Processor) ProcessPlatform(ctx context.Context, platform string, limit int) (domain.ProcessingStats, error) {
	stats := domain.NewProcessingStats(p.now())
	mapping, err := domain.LookupPlatform(platform)
	if err != nil {
		return stats, err
	}
	platform = mapping.Platform

	items, err := p.repo.GetUnanalyzedContent(ctx, platform, limit)
	if err != nil {
		stats.Finish(p.now())
		return stats, fmt.Errorf("analysis: load unanalyzed %s: %w", platform, wrapStorage(err))
	}
	stats.TotalItems = len(items)
	p.log.Info().Str("platform", platform).Int("items", len(items)).Int("limit", limit).Msg("analysis: начинаем обработку платформы")

	err = p.run(ctx, domain.BatchAnalysisRequest{Platform: platform, Items: items, BatchSize: p.split.CountLimit}, "", &stats)
	stats.Finish(p.now())
	p.logStats(platform, stats)
	return stats, err
}

// ProcessSpecificContent анализирует материалы по списку идентификаторов.
// Идентификаторы, которые не удалось получить, считаются пропущенными.
func (p *Processor) ProcessSpecificContent(ctx context.Context, platform string, contentIDs []string) (domain.ProcessingStats, error) {
	return p.processIDs(ctx, platform, contentIDs, "")
}

// ProcessJob выполняет задачу из очереди анализа.
func (p *Processor) ProcessJob(ctx context.Context, job domain.AnalysisJob) (domain.ProcessingStats, error) {
	return p.processIDs(ctx, job.Platform, job.ContentIDs, job.SourceKeyword)
}

func (p *Processor) processIDs(ctx context.Context, platform string, contentIDs []string, sourceKeyword string) (domain.ProcessingStats, error) {
	stats := domain.NewProcessingStats(p.now())
	mapping, err := domain.LookupPlatform(platform)
	if err != nil {
		return stats, err
	}
	platform = mapping.Platform
	ids := uniqueIDs(contentIDs)
	stats.TotalItems = len(ids)
	if len(ids) == 0 {
		stats.Finish(p.now())
		return stats, nil
	}

	items, err := p.repo.BatchGetContentWithComments(ctx, platform, ids)
	if err != nil {
		stats.SkippedItems = len(ids)
		stats.Finish(p.now())
		return stats, fmt.Errorf("analysis: load content %s: %w", platform, wrapStorage(err))
	}
	found := make(map[string]bool, len(items))
	for _, item := range items {
		found[item.ContentID] = true
	}
	for _, id := range ids {
		if !found[id] {
			stats.SkippedItems++
			p.log.Warn().Str("platform", platform).Str("content_id", id).Msg("analysis: материал не найден, пропускаем")
		}
	}

	err = p.run(ctx, domain.BatchAnalysisRequest{Platform: platform, Items: items, BatchSize: p.split.CountLimit}, sourceKeyword, &stats)
	stats.Finish(p.now())
	p.logStats(platform, stats)
	return stats, err
}

func (p *Processor) run(ctx context.Context, req domain.BatchAnalysisRequest, sourceKeyword string, stats *domain.ProcessingStats) error {
	opts := p.split
	if req.BatchSize > 0 {
		opts.CountLimit = req.BatchSize
	}
	batches := SplitToBatches(req.Items, opts)
	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			p.log.Warn().Int("done_batches", i).Int("total_batches", len(batches)).Msg("analysis: обработка прервана")
			return err
		}
		p.processBatch(ctx, req.Platform, batch, sourceKeyword, stats)
	}
	return nil
}

func (p *Processor) processBatch(ctx context.Context, platform string, batch []domain.ContentItem, sourceKeyword string, stats *domain.ProcessingStats) {
	if sourceKeyword == "" {
		sourceKeyword = sharedKeyword(batch)
	}
	stats.ProcessedItems += len(batch)

	results := p.analyzer.AnalyzeBatch(ctx, batch, sourceKeyword)
	updated, err := p.repo.BatchUpdateAnalysisResults(ctx, platform, results)
	switch {
	case err != nil:
		stats.FailedItems += len(batch)
		metrics.ObserveBatch(platform, "failed")
		p.log.Error().Err(err).Str("platform", platform).Int("items", len(batch)).Msg("analysis: не удалось сохранить результаты пачки")
	case updated <= 0:
		stats.FailedItems += len(batch)
		metrics.ObserveBatch(platform, "failed")
		p.log.Error().Str("platform", platform).Int("items", len(batch)).Msg("analysis: хранилище не обновило ни одной строки")
	default:
		if updated > len(batch) {
			updated = len(batch)
		}
		stats.SuccessItems += updated
		stats.FailedItems += len(batch) - updated
		status := "ok"
		if updated < len(batch) {
			status = "partial"
		}
		metrics.ObserveBatch(platform, status)
		p.log.Debug().Str("platform", platform).Int("items", len(batch)).Int("updated", updated).Msg("analysis: пачка сохранена")
	}
}

// GetPlatformStats возвращает сводку хранилища по платформе.
func (p *Processor) GetPlatformStats(ctx context.Context, platform string) (domain.PlatformStats, error) {
	mapping, err := domain.LookupPlatform(platform)
	if err != nil {
		return domain.PlatformStats{}, err
	}
	stats, err := p.repo.GetPlatformStats(ctx, mapping.Platform)
	if err != nil {
		return domain.PlatformStats{}, fmt.Errorf("analysis: platform stats %s: %w", mapping.Platform, wrapStorage(err))
	}
	return stats, nil
}

// TestReport — итог проверочного прогона.
type TestReport struct {
	Platform   string                `json:"platform"`
	SampleFrom string                `json:"sample_from"`
	Result     domain.AnalysisResult `json:"result"`
	Duration   time.Duration         `json:"duration"`
}

// TestProcessing проверяет связь с моделью и делает один реальный анализ без сохранения.
func (p *Processor) TestProcessing(ctx context.Context, platform string) (TestReport, error) {
	mapping, err := domain.LookupPlatform(platform)
	if err != nil {
		return TestReport{}, err
	}
	report := TestReport{Platform: mapping.Platform}
	start := p.now()

	if pg, ok := p.analyzer.(pinger); ok {
		if err := pg.Ping(ctx); err != nil {
			return report, fmt.Errorf("analysis: ping model: %w", err)
		}
	}

	items, err := p.repo.GetUnanalyzedContent(ctx, mapping.Platform, 1)
	if err != nil {
		return report, fmt.Errorf("analysis: load sample: %w", wrapStorage(err))
	}
	sample := sampleItem(mapping.Platform)
	report.SampleFrom = "synthetic"
	if len(items) > 0 {
		sample = items[0]
		report.SampleFrom = "storage"
	}

	results := p.analyzer.AnalyzeBatch(ctx, []domain.ContentItem{sample}, sample.SourceKeyword)
	if len(results) != 1 {
		return report, fmt.Errorf("analysis: expected 1 result, got %d", len(results))
	}
	report.Result = results[0]
	report.Duration = p.now().Sub(start)
	p.log.Info().
		Str("platform", mapping.Platform).
		Str("sample", report.SampleFrom).
		Str("sentiment", string(report.Result.Sentiment)).
		Dur("duration", report.Duration).
		Msg("analysis: проверочный прогон завершён")
	return report, nil
}

func (p *Processor) logStats(platform string, stats domain.ProcessingStats) {
	p.log.Info().
		Str("platform", platform).
		Int("total", stats.TotalItems).
		Int("processed", stats.ProcessedItems).
		Int("success", stats.SuccessItems).
		Int("failed", stats.FailedItems).
		Int("skipped", stats.SkippedItems).
		Float64("success_rate", stats.SuccessRate()).
		Dur("duration", stats.Duration(p.now())).
		Msg("analysis: обработка завершена")
}

func sampleItem(platform string) domain.ContentItem {
	return domain.ContentItem{
		Platform:      platform,
		ContentID:     "sample",
		Title:         "Новый смартфон",
		Body:          "Купил на прошлой неделе, батарея держит два дня, камера отличная.",
		Comments:      []domain.Comment{{CommentID: "1", Text: "У меня такой же, доволен"}, {CommentID: "2", Text: "Дороговато"}},
		SourceKeyword: "смартфон",
	}
}

// sharedKeyword возвращает слово, общее для всей пачки, иначе пустую строку.
func sharedKeyword(batch []domain.ContentItem) string {
	if len(batch) == 0 {
		return ""
	}
	kw := batch[0].SourceKeyword
	for _, item := range batch[1:] {
		if item.SourceKeyword != kw {
			return ""
		}
	}
	return kw
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func wrapStorage(err error) error {
	if errors.Is(err, domain.ErrStorage) {
		return err
	}
	return fmt.Errorf("%w: %v", domain.ErrStorage, err)
}
