package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedisSeenScopesAreIndependent(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniRedis(t)
	seen := NewRedisSeen(client, time.Hour)

	require.NoError(t, seen.Remember(ctx, "t1:go", "a", "", "b"))

	ok, err := seen.Seen(ctx, "t1:go", "a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = seen.Seen(ctx, "t1:rust", "a")
	require.NoError(t, err)
	assert.False(t, ok, "другое ключевое слово")

	ok, err = seen.Seen(ctx, "t2:go", "a")
	require.NoError(t, err)
	assert.False(t, ok, "другая задача")

	members, err := mr.Members("seen:t1:go")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, members)
}

func TestRedisSeenExpires(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniRedis(t)
	seen := NewRedisSeen(client, time.Minute)

	require.NoError(t, seen.Remember(ctx, "t1:go", "a"))
	assert.Equal(t, time.Minute, mr.TTL("seen:t1:go"))

	mr.FastForward(2 * time.Minute)
	ok, err := seen.Seen(ctx, "t1:go", "a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisSeenIgnoresEmpty(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniRedis(t)
	seen := NewRedisSeen(client, 0)

	require.NoError(t, seen.Remember(ctx, "t1:go"))
	require.NoError(t, seen.Remember(ctx, "t1:go", ""))
	assert.False(t, mr.Exists("seen:t1:go"))

	ok, err := seen.Seen(ctx, "t1:go", "")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestConnectFailsWithoutServer(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Connect(context.Background(), addr)
	assert.Error(t, err)
}
