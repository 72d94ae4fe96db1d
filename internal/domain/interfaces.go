package domain

import (
	"context"
	"time"
)

// ContentRepo хранит контент платформ и результаты его анализа.
type ContentRepo interface {
	// UpsertContent сохраняет контент идемпотентно: тот же content_id заменяет запись.
	UpsertContent(ctx context.Context, item ContentItem) error
	GetUnanalyzedContent(ctx context.Context, platform string, limit int) ([]ContentItem, error)
	BatchGetContentWithComments(ctx context.Context, platform string, contentIDs []string) ([]ContentItem, error)
	// BatchUpdateAnalysisResults возвращает число реально обновлённых строк.
	BatchUpdateAnalysisResults(ctx context.Context, platform string, results []AnalysisResult) (int, error)
	GetPlatformStats(ctx context.Context, platform string) (PlatformStats, error)
}

// ContentAnalyzer анализирует пачку контента.
// Всегда возвращает ровно по одному результату на каждый элемент.
type ContentAnalyzer interface {
	AnalyzeBatch(ctx context.Context, items []ContentItem, sourceKeyword string) []AnalysisResult
}

// SeenCache — дополнительный слой дедупликации недавних идентификаторов в рамках задачи.
type SeenCache interface {
	Seen(ctx context.Context, scope, id string) (bool, error)
	Remember(ctx context.Context, scope string, ids ...string) error
}

// Notifier отправляет итоговый отчёт о запуске.
type Notifier interface {
	Notify(ctx context.Context, text string) error
}

// Clock возвращает текущее время; подменяется в тестах.
type Clock func() time.Time
