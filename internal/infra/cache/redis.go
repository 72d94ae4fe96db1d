package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const seenKeyPrefix = "seen:"

// Connect подключается к Redis и проверяет соединение.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return client, nil
}

// RedisSeenCache хранит недавние идентификаторы в множествах Redis с TTL.
// Реализует domain.SeenCache.
type RedisSeenCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSeen создаёт кэш.
func NewRedisSeen(client *redis.Client, ttl time.Duration) *RedisSeenCache {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisSeenCache{client: client, ttl: ttl}
}

// Seen проверяет, встречался ли идентификатор в области scope.
func (c *RedisSeenCache) Seen(ctx context.Context, scope, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	return c.client.SIsMember(ctx, seenKeyPrefix+scope, id).Result()
}

// Remember добавляет идентификаторы и продлевает TTL множества.
func (c *RedisSeenCache) Remember(ctx context.Context, scope string, ids ...string) error {
	members := make([]any, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			members = append(members, id)
		}
	}
	if len(members) == 0 {
		return nil
	}
	key := seenKeyPrefix + scope
	pipe := c.client.TxPipeline()
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, c.ttl)
	_, err := pipe.Exec(ctx)
	return err
}
