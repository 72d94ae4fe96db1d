package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"content-radar/internal/domain"
	"content-radar/internal/infra/metrics"
)

// RedisAnalysisQueue реализует очередь задач анализа на базе Redis lists.
type RedisAnalysisQueue struct {
	client *redis.Client
	key    string
}

var _ domain.AnalysisQueue = (*RedisAnalysisQueue)(nil)

// NewRedisAnalysisQueue создаёт очередь по указанному ключу.
func NewRedisAnalysisQueue(client *redis.Client, key string) *RedisAnalysisQueue {
	return &RedisAnalysisQueue{client: client, key: key}
}

// Enqueue публикует задачу в очередь, присваивая идентификатор при необходимости.
func (q *RedisAnalysisQueue) Enqueue(ctx context.Context, job domain.AnalysisJob) error {
	payload, ok, err := encodeJob(job, time.Now)
	if err != nil || !ok {
		return err
	}
	start := time.Now()
	err = q.client.LPush(ctx, q.key, payload).Err()
	metrics.ObserveNetworkRequest("redis", "lpush", q.key, start, err)
	if err != nil {
		return fmt.Errorf("push job: %w", err)
	}
	return nil
}

// encodeJob дополняет задачу идентификатором и временем постановки.
// ok == false означает пустую задачу, которую не нужно ставить.
func encodeJob(job domain.AnalysisJob, now func() time.Time) (payload []byte, ok bool, err error) {
	if len(job.ContentIDs) == 0 {
		return nil, false, nil
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.RequestedAt.IsZero() {
		job.RequestedAt = now().UTC()
	}
	payload, err = json.Marshal(job)
	if err != nil {
		return nil, false, fmt.Errorf("marshal job: %w", err)
	}
	return payload, true, nil
}

func decodeJob(payload []byte) (domain.AnalysisJob, error) {
	var job domain.AnalysisJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return domain.AnalysisJob{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}

// Pop блокирующе читает задачу из очереди.
func (q *RedisAnalysisQueue) Pop(ctx context.Context) (domain.AnalysisJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.AnalysisJob{}, err
		}

		res, err := q.client.BRPop(ctx, time.Second, q.key).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return domain.AnalysisJob{}, ctxErr
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, redis.Nil) {
				continue
			}
			return domain.AnalysisJob{}, err
		}
		if len(res) != 2 {
			return domain.AnalysisJob{}, errors.New("redis queue: unexpected response")
		}
		return decodeJob([]byte(res[1]))
	}
}
