package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"content-radar/internal/domain"
	"content-radar/internal/infra/metrics"
)

const defaultPollInterval = time.Second

// RabbitAnalysisQueue реализует очередь задач анализа поверх AMQP.
// Сообщения устойчивые; чтение через basic.get с автоподтверждением.
type RabbitAnalysisQueue struct {
	conn         *amqp.Connection
	mu           sync.Mutex
	ch           *amqp.Channel
	queue        string
	pollInterval time.Duration
}

var _ domain.AnalysisQueue = (*RabbitAnalysisQueue)(nil)

// NewRabbitAnalysisQueue подключается к брокеру и объявляет durable-очередь.
func NewRabbitAnalysisQueue(amqpURL, queue string) (*RabbitAnalysisQueue, error) {
	if amqpURL == "" {
		return nil, errors.New("amqp url is empty")
	}
	if queue == "" {
		return nil, errors.New("queue name is empty")
	}
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	return &RabbitAnalysisQueue{conn: conn, ch: ch, queue: queue, pollInterval: defaultPollInterval}, nil
}

// Enqueue публикует задачу в очередь.
func (q *RabbitAnalysisQueue) Enqueue(ctx context.Context, job domain.AnalysisJob) error {
	payload, ok, err := encodeJob(job, time.Now)
	if err != nil || !ok {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	}
	start := time.Now()
	q.mu.Lock()
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, msg)
	q.mu.Unlock()
	metrics.ObserveNetworkRequest("rabbitmq", "publish", q.queue, start, err)
	if err != nil {
		return fmt.Errorf("publish job: %w", err)
	}
	return nil
}

// Pop блокирующе читает задачу из очереди.
func (q *RabbitAnalysisQueue) Pop(ctx context.Context) (domain.AnalysisJob, error) {
	for {
		if err := ctx.Err(); err != nil {
			return domain.AnalysisJob{}, err
		}
		start := time.Now()
		q.mu.Lock()
		msg, ok, err := q.ch.Get(q.queue, true)
		q.mu.Unlock()
		metrics.ObserveNetworkRequest("rabbitmq", "get", q.queue, start, err)
		if err != nil {
			return domain.AnalysisJob{}, fmt.Errorf("get message: %w", err)
		}
		if !ok {
			select {
			case <-ctx.Done():
				return domain.AnalysisJob{}, ctx.Err()
			case <-time.After(q.pollInterval):
			}
			continue
		}
		return decodeJob(msg.Body)
	}
}

// Close закрывает канал и соединение.
func (q *RabbitAnalysisQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return errors.Join(q.ch.Close(), q.conn.Close())
}
