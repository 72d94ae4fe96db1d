package domain

import (
	"context"
	"time"
)

// AnalysisJob — задача анализа конкретных материалов, поставленная сборщиком.
type AnalysisJob struct {
	ID            string    `json:"job_id"`
	Platform      string    `json:"platform"`
	ContentIDs    []string  `json:"content_ids"`
	SourceKeyword string    `json:"source_keyword,omitempty"`
	RequestedAt   time.Time `json:"requested_at"`
}

// AnalysisQueue — очередь задач анализа.
type AnalysisQueue interface {
	Enqueue(ctx context.Context, job AnalysisJob) error
	Pop(ctx context.Context) (AnalysisJob, error)
}
