package queue

import (
	"github.com/redis/go-redis/v9"

	"content-radar/internal/domain"
)

// Open выбирает брокер задач анализа: RabbitMQ, если задан amqpURL, иначе список Redis.
// Без обоих возвращает nil — постановка задач отключена.
func Open(amqpURL string, redisClient *redis.Client, name string) (domain.AnalysisQueue, func(), error) {
	if amqpURL != "" {
		q, err := NewRabbitAnalysisQueue(amqpURL, name)
		if err != nil {
			return nil, func() {}, err
		}
		return q, func() { _ = q.Close() }, nil
	}
	if redisClient != nil {
		return NewRedisAnalysisQueue(redisClient, name), func() {}, nil
	}
	return nil, func() {}, nil
}
