package domain

import (
	"context"
	"encoding/json"
	"time"
)

// TaskStatus описывает состояние задачи или ключевого слова.
type TaskStatus string

const (
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
)

// CrawlTask — один запуск сбора, который можно возобновить по TaskID.
type CrawlTask struct {
	TaskID            string          `json:"task_id"`
	Platform          string          `json:"platform"`
	CrawlerType       string          `json:"crawler_type"`
	Keywords          []string        `json:"keywords"`
	TotalKeywords     int             `json:"total_keywords"`
	CompletedKeywords int             `json:"completed_keywords"`
	Status            TaskStatus      `json:"status"`
	StartTime         time.Time       `json:"start_time"`
	LastUpdate        time.Time       `json:"last_update"`
	ConfigSnapshot    json.RawMessage `json:"config_snapshot,omitempty"`
}

// KeywordProgress — курсор сбора по ключевому слову.
// CurrentPage всегда указывает на следующую страницу для запроса.
type KeywordProgress struct {
	TaskID            string     `json:"task_id"`
	Keyword           string     `json:"keyword"`
	CurrentPage       int        `json:"current_page"`
	ItemsCount        int        `json:"items_count"`
	LastItemID        string     `json:"last_item_id,omitempty"`
	LastItemTimestamp int64      `json:"last_item_timestamp,omitempty"`
	Status            TaskStatus `json:"status"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Checkpoint хранит метаданные страницы: идентификаторы и счётчики, без содержимого.
type Checkpoint struct {
	TaskID    string          `json:"task_id"`
	Keyword   string          `json:"keyword"`
	Page      int             `json:"page"`
	Data      json.RawMessage `json:"data"`
	Hash      string          `json:"hash"`
	CreatedAt time.Time       `json:"created_at"`
}

// CrawlStatistics — дневные счётчики задачи по платформе, обновляются аддитивно.
type CrawlStatistics struct {
	TaskID         string    `json:"task_id"`
	Platform       string    `json:"platform"`
	Date           time.Time `json:"date"`
	TotalItems     int       `json:"total_items"`
	NewItems       int       `json:"new_items"`
	DuplicateItems int       `json:"duplicate_items"`
	FailedItems    int       `json:"failed_items"`
}

// ProgressRepo сохраняет прогресс сбора.
// Каждая операция — атомарный upsert одной строки.
type ProgressRepo interface {
	UpsertCrawlTask(ctx context.Context, task CrawlTask) (CrawlTask, error)
	GetCrawlTask(ctx context.Context, taskID string) (CrawlTask, error)
	SetCrawlTaskStatus(ctx context.Context, taskID string, status TaskStatus) error
	RefreshCompletedKeywords(ctx context.Context, taskID string) (int, error)

	ListKeywordProgress(ctx context.Context, taskID string) ([]KeywordProgress, error)
	UpsertKeywordProgress(ctx context.Context, progress KeywordProgress) error

	UpsertCheckpoint(ctx context.Context, cp Checkpoint) error
	GetCheckpoint(ctx context.Context, taskID, keyword string, page int) (Checkpoint, error)

	AddCrawlStatistics(ctx context.Context, stats CrawlStatistics) error
}
