package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"content-radar/internal/domain"
)

// Memory хранит прогресс и контент в памяти процесса.
// Используется для пробных запусков без БД и в тестах.
type Memory struct {
	mu          sync.Mutex
	tasks       map[string]domain.CrawlTask
	keywords    map[string]map[string]domain.KeywordProgress
	checkpoints map[string]domain.Checkpoint
	stats       map[string]domain.CrawlStatistics
	contents    map[string]memoryContent
	order       []string
}

type memoryContent struct {
	item     domain.ContentItem
	analysis json.RawMessage
}

var (
	_ domain.ProgressRepo = (*Memory)(nil)
	_ domain.ContentRepo  = (*Memory)(nil)
)

// NewMemory создаёт пустое хранилище.
func NewMemory() *Memory {
	return &Memory{
		tasks:       make(map[string]domain.CrawlTask),
		keywords:    make(map[string]map[string]domain.KeywordProgress),
		checkpoints: make(map[string]domain.Checkpoint),
		stats:       make(map[string]domain.CrawlStatistics),
		contents:    make(map[string]memoryContent),
	}
}

func checkpointKey(taskID, keyword string, page int) string {
	return fmt.Sprintf("%s\x00%s\x00%d", taskID, keyword, page)
}

func contentKey(platform, id string) string {
	return platform + "\x00" + id
}

// UpsertCrawlTask реализует domain.ProgressRepo.
func (m *Memory) UpsertCrawlTask(_ context.Context, task domain.CrawlTask) (domain.CrawlTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.tasks[task.TaskID]; ok {
		task.StartTime = existing.StartTime
		task.CompletedKeywords = existing.CompletedKeywords
	}
	m.tasks[task.TaskID] = task
	return task, nil
}

// GetCrawlTask реализует domain.ProgressRepo.
func (m *Memory) GetCrawlTask(_ context.Context, taskID string) (domain.CrawlTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return domain.CrawlTask{}, domain.ErrNotFound
	}
	return task, nil
}

// SetCrawlTaskStatus реализует domain.ProgressRepo.
func (m *Memory) SetCrawlTaskStatus(_ context.Context, taskID string, status domain.TaskStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task, ok := m.tasks[taskID]
	if !ok {
		return domain.ErrNotFound
	}
	task.Status = status
	task.LastUpdate = time.Now().UTC()
	m.tasks[taskID] = task
	return nil
}

// RefreshCompletedKeywords реализует domain.ProgressRepo.
func (m *Memory) RefreshCompletedKeywords(_ context.Context, taskID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	completed := 0
	for _, p := range m.keywords[taskID] {
		if p.Status == domain.StatusCompleted {
			completed++
		}
	}
	if task, ok := m.tasks[taskID]; ok {
		task.CompletedKeywords = completed
		m.tasks[taskID] = task
	}
	return completed, nil
}

// ListKeywordProgress реализует domain.ProgressRepo.
func (m *Memory) ListKeywordProgress(_ context.Context, taskID string) ([]domain.KeywordProgress, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.KeywordProgress, 0, len(m.keywords[taskID]))
	for _, p := range m.keywords[taskID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Keyword < out[j].Keyword })
	return out, nil
}

// UpsertKeywordProgress реализует domain.ProgressRepo.
func (m *Memory) UpsertKeywordProgress(_ context.Context, p domain.KeywordProgress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.keywords[p.TaskID]
	if !ok {
		rows = make(map[string]domain.KeywordProgress)
		m.keywords[p.TaskID] = rows
	}
	rows[p.Keyword] = p
	return nil
}

// UpsertCheckpoint реализует domain.ProgressRepo.
func (m *Memory) UpsertCheckpoint(_ context.Context, cp domain.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[checkpointKey(cp.TaskID, cp.Keyword, cp.Page)] = cp
	return nil
}

// GetCheckpoint реализует domain.ProgressRepo.
func (m *Memory) GetCheckpoint(_ context.Context, taskID, keyword string, page int) (domain.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.checkpoints[checkpointKey(taskID, keyword, page)]
	if !ok {
		return domain.Checkpoint{}, domain.ErrNotFound
	}
	return cp, nil
}

// AddCrawlStatistics реализует domain.ProgressRepo.
func (m *Memory) AddCrawlStatistics(_ context.Context, s domain.CrawlStatistics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := s.TaskID + "\x00" + s.Platform + "\x00" + s.Date.Format("2006-01-02")
	cur := m.stats[key]
	if cur.TaskID == "" {
		cur = domain.CrawlStatistics{TaskID: s.TaskID, Platform: s.Platform, Date: s.Date}
	}
	cur.TotalItems += s.TotalItems
	cur.NewItems += s.NewItems
	cur.DuplicateItems += s.DuplicateItems
	cur.FailedItems += s.FailedItems
	m.stats[key] = cur
	return nil
}

// Statistics возвращает накопленные дневные строки задачи.
func (m *Memory) Statistics(taskID string) []domain.CrawlStatistics {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CrawlStatistics
	for _, s := range m.stats {
		if s.TaskID == taskID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// UpsertContent реализует domain.ContentRepo.
// Пустой список комментариев не затирает сохранённые.
func (m *Memory) UpsertContent(_ context.Context, item domain.ContentItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := contentKey(item.Platform, item.ContentID)
	existing, ok := m.contents[key]
	if !ok {
		m.order = append(m.order, key)
	}
	if len(item.Comments) == 0 && ok {
		item.Comments = existing.item.Comments
	}
	if item.ContentLength == 0 {
		item.ContentLength = domain.ComputeContentLength(item)
	}
	m.contents[key] = memoryContent{item: item, analysis: existing.analysis}
	return nil
}

// GetUnanalyzedContent реализует domain.ContentRepo; порядок — порядок вставки.
func (m *Memory) GetUnanalyzedContent(_ context.Context, platform string, limit int) ([]domain.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ContentItem
	for _, key := range m.order {
		c := m.contents[key]
		if c.item.Platform != platform || c.analysis != nil {
			continue
		}
		out = append(out, c.item)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// BatchGetContentWithComments реализует domain.ContentRepo.
func (m *Memory) BatchGetContentWithComments(_ context.Context, platform string, ids []string) ([]domain.ContentItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ContentItem, 0, len(ids))
	for _, id := range ids {
		if c, ok := m.contents[contentKey(platform, id)]; ok {
			out = append(out, c.item)
		}
	}
	return out, nil
}

// BatchUpdateAnalysisResults реализует domain.ContentRepo.
func (m *Memory) BatchUpdateAnalysisResults(_ context.Context, platform string, results []domain.AnalysisResult) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	updated := 0
	for _, r := range results {
		key := contentKey(platform, r.ContentID)
		c, ok := m.contents[key]
		if !ok {
			continue
		}
		raw, err := json.Marshal(r)
		if err != nil {
			return updated, fmt.Errorf("marshal analysis %s: %w", r.ContentID, err)
		}
		c.analysis = raw
		m.contents[key] = c
		updated++
	}
	return updated, nil
}

// Analysis возвращает сохранённый результат анализа.
func (m *Memory) Analysis(platform, contentID string) (domain.AnalysisResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contents[contentKey(platform, contentID)]
	if !ok || c.analysis == nil {
		return domain.AnalysisResult{}, false
	}
	var r domain.AnalysisResult
	if err := json.Unmarshal(c.analysis, &r); err != nil {
		return domain.AnalysisResult{}, false
	}
	return r, true
}

// GetPlatformStats реализует domain.ContentRepo.
func (m *Memory) GetPlatformStats(_ context.Context, platform string) (domain.PlatformStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stats := domain.PlatformStats{Platform: platform, SentimentCounts: map[string]int{}}
	var sentimentSum, relevanceSum float64
	for _, c := range m.contents {
		if c.item.Platform != platform {
			continue
		}
		stats.TotalContent++
		if c.analysis == nil {
			continue
		}
		var r domain.AnalysisResult
		if err := json.Unmarshal(c.analysis, &r); err != nil {
			continue
		}
		stats.AnalyzedContent++
		stats.SentimentCounts[string(r.Sentiment)]++
		sentimentSum += r.SentimentScore
		relevanceSum += r.RelevanceScore
		if ts := r.AnalysisTimestamp; stats.LastAnalyzedAt == nil || ts.After(*stats.LastAnalyzedAt) {
			stats.LastAnalyzedAt = &ts
		}
	}
	stats.PendingContent = stats.TotalContent - stats.AnalyzedContent
	if stats.AnalyzedContent > 0 {
		stats.AvgSentimentScore = sentimentSum / float64(stats.AnalyzedContent)
		stats.AvgRelevanceScore = relevanceSum / float64(stats.AnalyzedContent)
	}
	return stats, nil
}
