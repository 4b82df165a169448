package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Skipped unless TERMINALPAY_TEST_REDIS_ADDR points at a scratch server.
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TERMINALPAY_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TERMINALPAY_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRunGuard_OneHolderPerReference(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	ref := "guard-" + time.Now().Format("150405.000000")

	a := NewRunGuard(client, 3*time.Second)
	b := NewRunGuard(client, 3*time.Second)

	release, ok, err := a.TryAcquire(ctx, ref)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = b.TryAcquire(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release()

	releaseB, ok, err := b.TryAcquire(ctx, ref)
	require.NoError(t, err)
	assert.True(t, ok)
	releaseB()
}

func TestRunGuard_LeaseIsRenewed(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	ref := "renew-" + time.Now().Format("150405.000000")

	release, ok, err := NewRunGuard(client, 300*time.Millisecond).TryAcquire(ctx, ref)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	time.Sleep(time.Second)
	exists, err := client.Exists(ctx, runKeyPrefix+ref).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func TestStreamProducer_Publish(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	stream := "test:outcomes:" + time.Now().Format("150405.000000")
	t.Cleanup(func() { client.Del(context.Background(), stream) })

	id, err := NewStreamProducer(client).Publish(ctx, stream, "R-1", "succeeded", map[string]string{"reference": "R-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	entries, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "R-1", entries[0].Values["key"])
	assert.Equal(t, "succeeded", entries[0].Values["event_type"])
	assert.JSONEq(t, `{"reference":"R-1"}`, entries[0].Values["payload"].(string))
}
