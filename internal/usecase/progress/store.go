package progress

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"content-radar/internal/domain"
)

// CompletedPage — страница-маркер для завершённого ключевого слова.
const CompletedPage = 999999

// Options задаёт политику курсора.
type Options struct {
	StartPage          int
	MaxItemsPerKeyword int
	PageSize           int
	ResumeEnabled      bool
}

// TaskSpec описывает запуск, который нужно создать или возобновить.
type TaskSpec struct {
	Platform    string
	CrawlerType string
	TaskID      string
	Keywords    []string
	Config      any
}

// Store ведёт прогресс сбора по ключевым словам одной задачи.
// Все операции сразу пишут в репозиторий и возвращают его ошибки.
type Store struct {
	repo domain.ProgressRepo
	opts Options
	log  zerolog.Logger
	now  domain.Clock

	mu       sync.RWMutex
	task     domain.CrawlTask
	keywords map[string]domain.KeywordProgress
}

// NewStore создаёт хранилище прогресса.
func NewStore(repo domain.ProgressRepo, opts Options, logger zerolog.Logger) *Store {
	if opts.StartPage < 0 {
		opts.StartPage = 0
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 10
	}
	return &Store{
		repo:     repo,
		opts:     opts,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
		keywords: make(map[string]domain.KeywordProgress),
	}
}

// SetClock подменяет источник времени.
func (s *Store) SetClock(clock domain.Clock) {
	s.now = clock
}

// Initialize создаёт или возобновляет задачу и загружает прогресс её ключевых слов.
func (s *Store) Initialize(ctx context.Context, spec TaskSpec) (domain.CrawlTask, error) {
	now := s.now()
	taskID := strings.TrimSpace(spec.TaskID)
	if taskID == "" {
		taskID = GenerateTaskID(spec.Platform, now)
	}
	var snapshot json.RawMessage
	if spec.Config != nil {
		raw, err := json.Marshal(spec.Config)
		if err != nil {
			return domain.CrawlTask{}, fmt.Errorf("progress: snapshot config: %w", err)
		}
		snapshot = raw
	}
	task := domain.CrawlTask{
		TaskID:         taskID,
		Platform:       spec.Platform,
		CrawlerType:    spec.CrawlerType,
		Keywords:       append([]string(nil), spec.Keywords...),
		TotalKeywords:  len(spec.Keywords),
		Status:         domain.StatusRunning,
		StartTime:      now,
		LastUpdate:     now,
		ConfigSnapshot: snapshot,
	}
	saved, err := s.repo.UpsertCrawlTask(ctx, task)
	if err != nil {
		return domain.CrawlTask{}, fmt.Errorf("progress: upsert task %s: %w", taskID, err)
	}

	loaded := make(map[string]domain.KeywordProgress)
	if s.opts.ResumeEnabled {
		rows, err := s.repo.ListKeywordProgress(ctx, taskID)
		if err != nil {
			return domain.CrawlTask{}, fmt.Errorf("progress: load keywords %s: %w", taskID, err)
		}
		for _, row := range rows {
			loaded[row.Keyword] = row
		}
	}

	s.mu.Lock()
	s.task = saved
	s.keywords = loaded
	s.mu.Unlock()

	s.log.Info().
		Str("task_id", taskID).
		Str("platform", spec.Platform).
		Int("keywords", len(spec.Keywords)).
		Int("resumed_keywords", len(loaded)).
		Msg("progress: задача инициализирована")
	return saved, nil
}

// Task возвращает текущее состояние задачи.
func (s *Store) Task() domain.CrawlTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.task
}

// Keyword возвращает прогресс ключевого слова.
func (s *Store) Keyword(keyword string) (domain.KeywordProgress, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.keywords[keyword]
	return p, ok
}

// GetResumePage возвращает страницу, с которой нужно продолжить.
// Для завершённого слова возвращает CompletedPage.
func (s *Store) GetResumePage(keyword string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.keywords[keyword]
	if !ok {
		return s.opts.StartPage
	}
	if p.Status == domain.StatusCompleted {
		return CompletedPage
	}
	return p.CurrentPage
}

// ShouldSkipItem — дешёвая проверка повтора по хвосту последней страницы:
// элемент не новее последнего сохранённого либо совпадает с ним по id.
func (s *Store) ShouldSkipItem(itemID string, itemTimestamp int64, keyword string) bool {
	s.mu.RLock()
	p, ok := s.keywords[keyword]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	if itemID != "" && itemID == p.LastItemID {
		return true
	}
	return itemTimestamp > 0 && p.LastItemTimestamp > 0 && itemTimestamp <= p.LastItemTimestamp
}

// UpdateKeywordProgress фиксирует полностью обработанную страницу page:
// курсор переходит на page+1. Вызывается один раз на страницу.
func (s *Store) UpdateKeywordProgress(ctx context.Context, keyword string, page, itemsDelta int, lastItemID string, lastItemTimestamp int64) error {
	s.mu.RLock()
	p, ok := s.keywords[keyword]
	taskID := s.task.TaskID
	s.mu.RUnlock()
	if !ok {
		p = domain.KeywordProgress{TaskID: taskID, Keyword: keyword, Status: domain.StatusRunning}
	}
	p.CurrentPage = page + 1
	p.ItemsCount += itemsDelta
	if lastItemID != "" {
		p.LastItemID = lastItemID
	}
	if lastItemTimestamp > 0 {
		p.LastItemTimestamp = lastItemTimestamp
	}
	p.UpdatedAt = s.now()
	if err := s.repo.UpsertKeywordProgress(ctx, p); err != nil {
		return fmt.Errorf("progress: update keyword %q: %w", keyword, err)
	}
	s.mu.Lock()
	s.keywords[keyword] = p
	s.mu.Unlock()
	return nil
}

// MarkKeywordCompleted помечает слово завершённым и пересчитывает счётчик задачи.
func (s *Store) MarkKeywordCompleted(ctx context.Context, keyword string) error {
	s.mu.RLock()
	p, ok := s.keywords[keyword]
	taskID := s.task.TaskID
	s.mu.RUnlock()
	if !ok {
		p = domain.KeywordProgress{TaskID: taskID, Keyword: keyword, CurrentPage: s.opts.StartPage}
	}
	if p.Status == domain.StatusCompleted {
		return nil
	}
	p.Status = domain.StatusCompleted
	p.UpdatedAt = s.now()
	if err := s.repo.UpsertKeywordProgress(ctx, p); err != nil {
		return fmt.Errorf("progress: complete keyword %q: %w", keyword, err)
	}
	s.mu.Lock()
	s.keywords[keyword] = p
	s.mu.Unlock()

	completed, err := s.repo.RefreshCompletedKeywords(ctx, taskID)
	if err != nil {
		return fmt.Errorf("progress: refresh completed keywords: %w", err)
	}
	s.mu.Lock()
	s.task.CompletedKeywords = completed
	s.task.LastUpdate = s.now()
	s.mu.Unlock()
	s.log.Info().Str("task_id", taskID).Str("keyword", keyword).Int("completed", completed).Msg("progress: ключевое слово завершено")
	return nil
}

// MaxPage — последняя страница, которую допускает лимит элементов; 0 без лимита.
func (s *Store) MaxPage() int {
	if s.opts.MaxItemsPerKeyword <= 0 {
		return 0
	}
	pages := (s.opts.MaxItemsPerKeyword + s.opts.PageSize - 1) / s.opts.PageSize
	return s.opts.StartPage + pages - 1
}

// ShouldStopCrawling сообщает, что page вышла за лимит, и завершает слово.
func (s *Store) ShouldStopCrawling(ctx context.Context, keyword string, page int) (bool, error) {
	maxPage := s.MaxPage()
	if maxPage == 0 || page <= maxPage {
		return false, nil
	}
	if err := s.MarkKeywordCompleted(ctx, keyword); err != nil {
		return true, err
	}
	return true, nil
}

// SaveCheckpoint сохраняет метаданные страницы с хэшем содержимого.
func (s *Store) SaveCheckpoint(ctx context.Context, keyword string, page int, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("progress: marshal checkpoint: %w", err)
	}
	sum := sha256.Sum256(raw)
	cp := domain.Checkpoint{
		TaskID:    s.Task().TaskID,
		Keyword:   keyword,
		Page:      page,
		Data:      raw,
		Hash:      hex.EncodeToString(sum[:]),
		CreatedAt: s.now(),
	}
	if err := s.repo.UpsertCheckpoint(ctx, cp); err != nil {
		return fmt.Errorf("progress: save checkpoint %q/%d: %w", keyword, page, err)
	}
	return nil
}

// GetCheckpoint возвращает чекпоинт страницы; ok=false, если его нет.
func (s *Store) GetCheckpoint(ctx context.Context, keyword string, page int) (domain.Checkpoint, bool, error) {
	cp, err := s.repo.GetCheckpoint(ctx, s.Task().TaskID, keyword, page)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Checkpoint{}, false, nil
		}
		return domain.Checkpoint{}, false, fmt.Errorf("progress: get checkpoint %q/%d: %w", keyword, page, err)
	}
	return cp, true, nil
}

// UpdateStatistics аддитивно добавляет счётчики в строку текущего дня.
func (s *Store) UpdateStatistics(ctx context.Context, total, newItems, duplicate, failed int) error {
	task := s.Task()
	now := s.now()
	stats := domain.CrawlStatistics{
		TaskID:         task.TaskID,
		Platform:       task.Platform,
		Date:           time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC),
		TotalItems:     total,
		NewItems:       newItems,
		DuplicateItems: duplicate,
		FailedItems:    failed,
	}
	if err := s.repo.AddCrawlStatistics(ctx, stats); err != nil {
		return fmt.Errorf("progress: update statistics: %w", err)
	}
	return nil
}

// Cleanup завершает задачу, не удаляя прогресс.
func (s *Store) Cleanup(ctx context.Context) error {
	taskID := s.Task().TaskID
	if err := s.repo.SetCrawlTaskStatus(ctx, taskID, domain.StatusCompleted); err != nil {
		return fmt.Errorf("progress: cleanup %s: %w", taskID, err)
	}
	s.mu.Lock()
	s.task.Status = domain.StatusCompleted
	s.task.LastUpdate = s.now()
	s.mu.Unlock()
	return nil
}

// GenerateTaskID строит идентификатор из платформы, времени и короткого хэша.
func GenerateTaskID(platform string, now time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s|%d", platform, now.UnixNano())))
	return fmt.Sprintf("%s_%s_%s", platform, now.UTC().Format("20060102_150405"), hex.EncodeToString(sum[:4]))
}
