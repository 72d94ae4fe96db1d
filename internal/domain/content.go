package domain

import (
	"time"
	"unicode/utf8"
)

// Comment описывает комментарий к единице контента.
type Comment struct {
	CommentID string `json:"comment_id"`
	Text      string `json:"text"`
	// CreatedAt — время комментария в миллисекундах, 0 если неизвестно.
	CreatedAt int64 `json:"created_at,omitempty"`
}

// ContentItem — нормализованная единица собранного контента.
type ContentItem struct {
	Platform      string    `json:"platform"`
	ContentID     string    `json:"content_id"`
	Title         string    `json:"title"`
	Body          string    `json:"body"`
	Comments      []Comment `json:"comments"`
	CreatedAt     int64     `json:"created_at"`
	SourceKeyword string    `json:"source_keyword"`
	ContentLength int       `json:"content_length"`
}

// ComputeContentLength считает длину заголовка, текста и всех комментариев в символах.
func ComputeContentLength(item ContentItem) int {
	n := utf8.RuneCountInString(item.Title) + utf8.RuneCountInString(item.Body)
	for _, c := range item.Comments {
		n += utf8.RuneCountInString(c.Text)
	}
	return n
}

// Length возвращает закэшированную длину или вычисляет её.
func (c ContentItem) Length() int {
	if c.ContentLength > 0 {
		return c.ContentLength
	}
	return ComputeContentLength(c)
}

// Sentiment — метка тональности.
type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
	SentimentNeutral  Sentiment = "neutral"
)

// Valid сообщает, входит ли метка в допустимый набор.
func (s Sentiment) Valid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral:
		return true
	}
	return false
}

// AnalysisResult — результат AI-анализа одной единицы контента.
// Сохраняется целиком как JSON-документ рядом с контентом.
type AnalysisResult struct {
	ContentID         string    `json:"content_id"`
	Sentiment         Sentiment `json:"sentiment"`
	SentimentScore    float64   `json:"sentiment_score"`
	Summary           string    `json:"summary"`
	Keywords          []string  `json:"keywords"`
	Category          string    `json:"category"`
	RelevanceScore    float64   `json:"relevance_score"`
	KeyCommentIDs     []string  `json:"key_comment_ids"`
	AnalysisTimestamp time.Time `json:"analysis_timestamp"`
	ModelVersion      string    `json:"model_version"`
	ContentLength     int       `json:"content_length"`
	CommentCount      int       `json:"comment_count"`
	SourceKeyword     string    `json:"source_keyword"`
}

// BatchAnalysisRequest — упорядоченный список контента одной платформы.
// BatchSize используется только как подсказка для разбиения.
type BatchAnalysisRequest struct {
	Platform  string
	Items     []ContentItem
	BatchSize int
}

// ProcessingStats накапливает счётчики одного запуска обработки.
type ProcessingStats struct {
	TotalItems     int       `json:"total_items"`
	ProcessedItems int       `json:"processed_items"`
	SuccessItems   int       `json:"success_items"`
	FailedItems    int       `json:"failed_items"`
	SkippedItems   int       `json:"skipped_items"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time,omitempty"`
}

// NewProcessingStats возвращает обнулённую статистику с отметкой старта.
func NewProcessingStats(now time.Time) ProcessingStats {
	return ProcessingStats{StartTime: now}
}

// SuccessRate — доля успешных среди обработанных, 0 если ничего не обработано.
func (s ProcessingStats) SuccessRate() float64 {
	if s.ProcessedItems == 0 {
		return 0
	}
	return float64(s.SuccessItems) / float64(s.ProcessedItems)
}

// Duration возвращает длительность; для незавершённого запуска считает до now.
func (s ProcessingStats) Duration(now time.Time) time.Duration {
	if s.StartTime.IsZero() {
		return 0
	}
	end := s.EndTime
	if end.IsZero() {
		end = now
	}
	return end.Sub(s.StartTime)
}

// Finish фиксирует время окончания один раз.
func (s *ProcessingStats) Finish(now time.Time) {
	if s.EndTime.IsZero() {
		s.EndTime = now
	}
}

// PlatformStats — сводка по хранилищу платформы.
type PlatformStats struct {
	Platform          string         `json:"platform"`
	TotalContent      int            `json:"total_content"`
	AnalyzedContent   int            `json:"analyzed_content"`
	PendingContent    int            `json:"pending_content"`
	SentimentCounts   map[string]int `json:"sentiment_counts"`
	AvgSentimentScore float64        `json:"avg_sentiment_score"`
	AvgRelevanceScore float64        `json:"avg_relevance_score"`
	LastAnalyzedAt    *time.Time     `json:"last_analyzed_at,omitempty"`
}
