package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"content-radar/internal/domain"
	"content-radar/internal/infra/metrics"
)

// Postgres реализует хранилища прогресса и контента на основе pgxpool.
type Postgres struct {
	pool *pgxpool.Pool
}

var (
	_ domain.ProgressRepo = (*Postgres)(nil)
	_ domain.ContentRepo  = (*Postgres)(nil)
)

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("postgres %s: %v: %w", op, err, domain.ErrStorage)
}

// UpsertCrawlTask реализует domain.ProgressRepo.
// При конфликте сохраняются время старта и счётчик завершённых слов.
func (p *Postgres) UpsertCrawlTask(ctx context.Context, task domain.CrawlTask) (domain.CrawlTask, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	keywords, err := json.Marshal(task.Keywords)
	if err != nil {
		return domain.CrawlTask{}, fmt.Errorf("marshal keywords: %w", err)
	}
	var snapshot []byte
	if len(task.ConfigSnapshot) > 0 {
		snapshot = task.ConfigSnapshot
	}

	start := time.Now()
	row := p.pool.QueryRow(ctx, `
INSERT INTO crawl_tasks (task_id, platform, crawler_type, keywords, total_keywords, status, start_time, last_update, config_snapshot)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (task_id) DO UPDATE SET
    platform = EXCLUDED.platform,
    crawler_type = EXCLUDED.crawler_type,
    keywords = EXCLUDED.keywords,
    total_keywords = EXCLUDED.total_keywords,
    status = EXCLUDED.status,
    last_update = EXCLUDED.last_update,
    config_snapshot = EXCLUDED.config_snapshot
RETURNING start_time, completed_keywords
`, task.TaskID, task.Platform, task.CrawlerType, keywords, task.TotalKeywords, string(task.Status), task.StartTime, task.LastUpdate, snapshot)
	err = row.Scan(&task.StartTime, &task.CompletedKeywords)
	metrics.ObserveNetworkRequest("postgres", "crawl_task_upsert", "crawl_tasks", start, err)
	if err != nil {
		return domain.CrawlTask{}, storageErr("upsert crawl task", err)
	}
	return task, nil
}

// GetCrawlTask реализует domain.ProgressRepo.
func (p *Postgres) GetCrawlTask(ctx context.Context, taskID string) (domain.CrawlTask, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var (
		task     domain.CrawlTask
		keywords []byte
		status   string
		snapshot []byte
	)
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT task_id, platform, crawler_type, keywords, total_keywords, completed_keywords, status, start_time, last_update, config_snapshot
FROM crawl_tasks WHERE task_id = $1
`, taskID).Scan(&task.TaskID, &task.Platform, &task.CrawlerType, &keywords, &task.TotalKeywords, &task.CompletedKeywords, &status, &task.StartTime, &task.LastUpdate, &snapshot)
	metrics.ObserveNetworkRequest("postgres", "crawl_task_get", "crawl_tasks", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CrawlTask{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CrawlTask{}, storageErr("get crawl task", err)
	}
	if err := json.Unmarshal(keywords, &task.Keywords); err != nil {
		return domain.CrawlTask{}, fmt.Errorf("decode keywords: %w", err)
	}
	task.Status = domain.TaskStatus(status)
	task.ConfigSnapshot = snapshot
	return task, nil
}

// SetCrawlTaskStatus реализует domain.ProgressRepo.
func (p *Postgres) SetCrawlTaskStatus(ctx context.Context, taskID string, status domain.TaskStatus) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	tag, err := p.pool.Exec(ctx, `UPDATE crawl_tasks SET status = $2, last_update = now() WHERE task_id = $1`, taskID, string(status))
	metrics.ObserveNetworkRequest("postgres", "crawl_task_status", "crawl_tasks", start, err)
	if err != nil {
		return storageErr("set task status", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// RefreshCompletedKeywords реализует domain.ProgressRepo.
func (p *Postgres) RefreshCompletedKeywords(ctx context.Context, taskID string) (int, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	var completed int
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
UPDATE crawl_tasks SET
    completed_keywords = (SELECT count(*) FROM keyword_progress WHERE task_id = $1 AND status = 'completed'),
    last_update = now()
WHERE task_id = $1
RETURNING completed_keywords
`, taskID).Scan(&completed)
	metrics.ObserveNetworkRequest("postgres", "crawl_task_refresh", "crawl_tasks", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, storageErr("refresh completed keywords", err)
	}
	return completed, nil
}

// ListKeywordProgress реализует domain.ProgressRepo.
func (p *Postgres) ListKeywordProgress(ctx context.Context, taskID string) ([]domain.KeywordProgress, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT task_id, keyword, current_page, items_count, COALESCE(last_item_id, ''), COALESCE(last_item_timestamp, 0), status, updated_at
FROM keyword_progress WHERE task_id = $1 ORDER BY keyword
`, taskID)
	metrics.ObserveNetworkRequest("postgres", "keyword_progress_list", "keyword_progress", start, err)
	if err != nil {
		return nil, storageErr("list keyword progress", err)
	}
	defer rows.Close()

	var out []domain.KeywordProgress
	for rows.Next() {
		var (
			kp     domain.KeywordProgress
			status string
		)
		if err := rows.Scan(&kp.TaskID, &kp.Keyword, &kp.CurrentPage, &kp.ItemsCount, &kp.LastItemID, &kp.LastItemTimestamp, &status, &kp.UpdatedAt); err != nil {
			return nil, storageErr("scan keyword progress", err)
		}
		kp.Status = domain.TaskStatus(status)
		out = append(out, kp)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate keyword progress", err)
	}
	return out, nil
}

// UpsertKeywordProgress реализует domain.ProgressRepo; одна строка, один запрос.
func (p *Postgres) UpsertKeywordProgress(ctx context.Context, kp domain.KeywordProgress) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO keyword_progress (task_id, keyword, current_page, items_count, last_item_id, last_item_timestamp, status, updated_at)
VALUES ($1, $2, $3, $4, NULLIF($5::text, ''), NULLIF($6::bigint, 0), $7, $8)
ON CONFLICT (task_id, keyword) DO UPDATE SET
    current_page = EXCLUDED.current_page,
    items_count = EXCLUDED.items_count,
    last_item_id = EXCLUDED.last_item_id,
    last_item_timestamp = EXCLUDED.last_item_timestamp,
    status = EXCLUDED.status,
    updated_at = EXCLUDED.updated_at
`, kp.TaskID, kp.Keyword, kp.CurrentPage, kp.ItemsCount, kp.LastItemID, kp.LastItemTimestamp, string(kp.Status), kp.UpdatedAt)
	metrics.ObserveNetworkRequest("postgres", "keyword_progress_upsert", "keyword_progress", start, err)
	return storageErr("upsert keyword progress", err)
}

// UpsertCheckpoint реализует domain.ProgressRepo.
func (p *Postgres) UpsertCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO crawl_checkpoints (task_id, keyword, page, data, content_hash, created_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (task_id, keyword, page) DO UPDATE SET
    data = EXCLUDED.data,
    content_hash = EXCLUDED.content_hash,
    created_at = EXCLUDED.created_at
`, cp.TaskID, cp.Keyword, cp.Page, []byte(cp.Data), cp.Hash, cp.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "checkpoint_upsert", "crawl_checkpoints", start, err)
	return storageErr("upsert checkpoint", err)
}

// GetCheckpoint реализует domain.ProgressRepo.
func (p *Postgres) GetCheckpoint(ctx context.Context, taskID, keyword string, page int) (domain.Checkpoint, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	cp := domain.Checkpoint{TaskID: taskID, Keyword: keyword, Page: page}
	var data []byte
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT data, content_hash, created_at FROM crawl_checkpoints WHERE task_id = $1 AND keyword = $2 AND page = $3
`, taskID, keyword, page).Scan(&data, &cp.Hash, &cp.CreatedAt)
	metrics.ObserveNetworkRequest("postgres", "checkpoint_get", "crawl_checkpoints", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Checkpoint{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Checkpoint{}, storageErr("get checkpoint", err)
	}
	cp.Data = data
	return cp, nil
}

// AddCrawlStatistics реализует domain.ProgressRepo: счётчики дня складываются.
func (p *Postgres) AddCrawlStatistics(ctx context.Context, s domain.CrawlStatistics) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO crawl_statistics (task_id, platform, stat_date, total_items, new_items, duplicate_items, failed_items)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (task_id, platform, stat_date) DO UPDATE SET
    total_items = crawl_statistics.total_items + EXCLUDED.total_items,
    new_items = crawl_statistics.new_items + EXCLUDED.new_items,
    duplicate_items = crawl_statistics.duplicate_items + EXCLUDED.duplicate_items,
    failed_items = crawl_statistics.failed_items + EXCLUDED.failed_items
`, s.TaskID, s.Platform, s.Date, s.TotalItems, s.NewItems, s.DuplicateItems, s.FailedItems)
	metrics.ObserveNetworkRequest("postgres", "statistics_upsert", "crawl_statistics", start, err)
	return storageErr("add crawl statistics", err)
}

// UpsertContent реализует domain.ContentRepo.
// Непустой список комментариев заменяет сохранённый; анализ не трогается.
func (p *Postgres) UpsertContent(ctx context.Context, item domain.ContentItem) error {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if item.ContentLength == 0 {
		item.ContentLength = domain.ComputeContentLength(item)
	}

	start := time.Now()
	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO contents (platform, content_id, title, body, created_at_ms, source_keyword, content_length)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (platform, content_id) DO UPDATE SET
    title = EXCLUDED.title,
    body = EXCLUDED.body,
    created_at_ms = EXCLUDED.created_at_ms,
    source_keyword = EXCLUDED.source_keyword,
    content_length = EXCLUDED.content_length,
    fetched_at = now()
`, item.Platform, item.ContentID, item.Title, item.Body, item.CreatedAt, item.SourceKeyword, item.ContentLength); err != nil {
			return err
		}
		if len(item.Comments) == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, `DELETE FROM content_comments WHERE platform = $1 AND content_id = $2`, item.Platform, item.ContentID); err != nil {
			return err
		}
		batch := &pgx.Batch{}
		for i, c := range item.Comments {
			batch.Queue(`
INSERT INTO content_comments (platform, content_id, comment_id, position, text, created_at_ms)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (platform, content_id, comment_id) DO NOTHING
`, item.Platform, item.ContentID, c.CommentID, i, c.Text, c.CreatedAt)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	metrics.ObserveNetworkRequest("postgres", "content_upsert", "contents", start, err)
	return storageErr("upsert content", err)
}

// GetUnanalyzedContent реализует domain.ContentRepo: старые записи первыми.
func (p *Postgres) GetUnanalyzedContent(ctx context.Context, platform string, limit int) ([]domain.ContentItem, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT platform, content_id, title, body, created_at_ms, source_keyword, content_length
FROM contents
WHERE platform = $1 AND analysis IS NULL
ORDER BY fetched_at, content_id
LIMIT $2
`, platform, limit)
	metrics.ObserveNetworkRequest("postgres", "content_unanalyzed", "contents", start, err)
	if err != nil {
		return nil, storageErr("select unanalyzed", err)
	}
	items, err := scanContents(rows)
	if err != nil {
		return nil, err
	}
	return p.attachComments(ctx, platform, items)
}

// BatchGetContentWithComments реализует domain.ContentRepo; порядок следует contentIDs.
func (p *Postgres) BatchGetContentWithComments(ctx context.Context, platform string, contentIDs []string) ([]domain.ContentItem, error) {
	if len(contentIDs) == 0 {
		return nil, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT platform, content_id, title, body, created_at_ms, source_keyword, content_length
FROM contents
WHERE platform = $1 AND content_id = ANY($2)
`, platform, contentIDs)
	metrics.ObserveNetworkRequest("postgres", "content_batch_get", "contents", start, err)
	if err != nil {
		return nil, storageErr("batch get content", err)
	}
	items, err := scanContents(rows)
	if err != nil {
		return nil, err
	}
	items, err = p.attachComments(ctx, platform, items)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]domain.ContentItem, len(items))
	for _, item := range items {
		byID[item.ContentID] = item
	}
	ordered := make([]domain.ContentItem, 0, len(items))
	for _, id := range contentIDs {
		if item, ok := byID[id]; ok {
			ordered = append(ordered, item)
			delete(byID, id)
		}
	}
	return ordered, nil
}

func scanContents(rows pgx.Rows) ([]domain.ContentItem, error) {
	defer rows.Close()
	var items []domain.ContentItem
	for rows.Next() {
		var item domain.ContentItem
		if err := rows.Scan(&item.Platform, &item.ContentID, &item.Title, &item.Body, &item.CreatedAt, &item.SourceKeyword, &item.ContentLength); err != nil {
			return nil, storageErr("scan content", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate content", err)
	}
	return items, nil
}

func (p *Postgres) attachComments(ctx context.Context, platform string, items []domain.ContentItem) ([]domain.ContentItem, error) {
	if len(items) == 0 {
		return items, nil
	}
	ids := make([]string, len(items))
	index := make(map[string]int, len(items))
	for i, item := range items {
		ids[i] = item.ContentID
		index[item.ContentID] = i
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, `
SELECT content_id, comment_id, text, created_at_ms
FROM content_comments
WHERE platform = $1 AND content_id = ANY($2)
ORDER BY content_id, position
`, platform, ids)
	metrics.ObserveNetworkRequest("postgres", "comments_select", "content_comments", start, err)
	if err != nil {
		return nil, storageErr("select comments", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			contentID string
			c         domain.Comment
		)
		if err := rows.Scan(&contentID, &c.CommentID, &c.Text, &c.CreatedAt); err != nil {
			return nil, storageErr("scan comment", err)
		}
		if i, ok := index[contentID]; ok {
			items[i].Comments = append(items[i].Comments, c)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate comments", err)
	}
	return items, nil
}

// BatchUpdateAnalysisResults реализует domain.ContentRepo.
// Результат записывается целиком; возвращается число обновлённых строк.
func (p *Postgres) BatchUpdateAnalysisResults(ctx context.Context, platform string, results []domain.AnalysisResult) (int, error) {
	if len(results) == 0 {
		return 0, nil
	}
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	batch := &pgx.Batch{}
	for _, r := range results {
		doc, err := json.Marshal(r)
		if err != nil {
			return 0, fmt.Errorf("marshal analysis %s: %w", r.ContentID, err)
		}
		batch.Queue(`UPDATE contents SET analysis = $3, analyzed_at = $4 WHERE platform = $1 AND content_id = $2`,
			platform, r.ContentID, doc, r.AnalysisTimestamp)
	}

	start := time.Now()
	updated := 0
	br := p.pool.SendBatch(ctx, batch)
	var execErr error
	for range results {
		tag, err := br.Exec()
		if err != nil {
			execErr = err
			break
		}
		updated += int(tag.RowsAffected())
	}
	closeErr := br.Close()
	if execErr == nil {
		execErr = closeErr
	}
	metrics.ObserveNetworkRequest("postgres", "analysis_update", "contents", start, execErr)
	if execErr != nil {
		return updated, storageErr("update analysis", execErr)
	}
	return updated, nil
}

// GetPlatformStats реализует domain.ContentRepo.
func (p *Postgres) GetPlatformStats(ctx context.Context, platform string) (domain.PlatformStats, error) {
	ctx, cancel := p.connCtx(ctx)
	defer cancel()

	stats := domain.PlatformStats{Platform: platform, SentimentCounts: map[string]int{}}
	var lastAnalyzed *time.Time
	start := time.Now()
	err := p.pool.QueryRow(ctx, `
SELECT count(*),
       count(analysis),
       COALESCE(avg((analysis->>'sentiment_score')::float8), 0),
       COALESCE(avg((analysis->>'relevance_score')::float8), 0),
       max(analyzed_at)
FROM contents WHERE platform = $1
`, platform).Scan(&stats.TotalContent, &stats.AnalyzedContent, &stats.AvgSentimentScore, &stats.AvgRelevanceScore, &lastAnalyzed)
	metrics.ObserveNetworkRequest("postgres", "platform_stats", "contents", start, err)
	if err != nil {
		return domain.PlatformStats{}, storageErr("platform stats", err)
	}
	stats.PendingContent = stats.TotalContent - stats.AnalyzedContent
	stats.LastAnalyzedAt = lastAnalyzed

	rows, err := p.pool.Query(ctx, `
SELECT analysis->>'sentiment', count(*)
FROM contents WHERE platform = $1 AND analysis IS NOT NULL
GROUP BY 1
`, platform)
	if err != nil {
		return domain.PlatformStats{}, storageErr("sentiment counts", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			sentiment *string
			n         int
		)
		if err := rows.Scan(&sentiment, &n); err != nil {
			return domain.PlatformStats{}, storageErr("scan sentiment counts", err)
		}
		if sentiment != nil {
			stats.SentimentCounts[*sentiment] = n
		}
	}
	if err := rows.Err(); err != nil {
		return domain.PlatformStats{}, storageErr("iterate sentiment counts", err)
	}
	return stats, nil
}
