package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"content-radar/internal/domain"
)

func TestRedisQueueRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q := NewRedisAnalysisQueue(client, "analysis_jobs")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, q.Enqueue(ctx, domain.AnalysisJob{Platform: "qa", ContentIDs: []string{"1"}, SourceKeyword: "go"}))
	require.NoError(t, q.Enqueue(ctx, domain.AnalysisJob{Platform: "qa", ContentIDs: []string{"2"}}))
	require.NoError(t, q.Enqueue(ctx, domain.AnalysisJob{Platform: "qa"}))

	items, err := mr.List("analysis_jobs")
	require.NoError(t, err)
	assert.Len(t, items, 2, "пустая задача не ставится")

	first, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, first.ContentIDs)
	assert.Equal(t, "go", first.SourceKeyword)
	assert.NotEmpty(t, first.ID)

	second, err := q.Pop(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, second.ContentIDs)
}

func TestRedisQueuePopStopsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := NewRedisAnalysisQueue(client, "analysis_jobs").Pop(ctx)
	assert.Error(t, err)
}

func TestOpenPrefersRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q, closeFn, err := Open("", client, "analysis_jobs")
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &RedisAnalysisQueue{}, q)
}
