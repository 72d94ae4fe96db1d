package analysis

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"content-radar/internal/domain"
)

// JobHandler получает итог каждой выполненной задачи.
type JobHandler func(ctx context.Context, job domain.AnalysisJob, stats domain.ProcessingStats, err error)

// Worker выполняет задачи анализа из очереди, пока не отменён ctx.
type Worker struct {
	queue     domain.AnalysisQueue
	processor *Processor
	log       zerolog.Logger
	onDone    JobHandler
	backoff   time.Duration
}

// NewWorker создаёт исполнителя очереди; onDone может быть nil.
func NewWorker(queue domain.AnalysisQueue, processor *Processor, logger zerolog.Logger, onDone JobHandler) *Worker {
	return &Worker{queue: queue, processor: processor, log: logger, onDone: onDone, backoff: time.Second}
}

// Run блокируется до отмены ctx.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().Msg("analysis: воркер очереди запущен")
	for {
		job, err := w.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.log.Info().Msg("analysis: воркер очереди остановлен")
				return nil
			}
			w.log.Error().Err(err).Msg("analysis: ошибка чтения очереди")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(w.backoff):
			}
			continue
		}

		stats, err := w.processor.ProcessJob(ctx, job)
		if err != nil {
			w.log.Error().Err(err).Str("job_id", job.ID).Str("platform", job.Platform).Msg("analysis: задача завершилась с ошибкой")
		}
		if w.onDone != nil {
			w.onDone(ctx, job, stats, err)
		}
	}
}
