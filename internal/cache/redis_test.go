package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRedisRoundTrip runs against a real server and is skipped unless
// GAIAVIZ_TEST_REDIS_ADDR is set.
func TestRedisRoundTrip(t *testing.T) {
	addr := os.Getenv("GAIAVIZ_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("GAIAVIZ_TEST_REDIS_ADDR not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r, err := DialRedis(ctx, addr, time.Minute)
	require.NoError(t, err)
	defer r.Close()

	key := "test-" + time.Now().Format("150405.000000000")
	_, ok, err := r.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	want := testDataset(11, time.Unix(1_700_000_000, 0).UTC())
	require.NoError(t, r.Put(ctx, key, want))

	got, ok, err := r.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.Sources[0].SourceID, got.Sources[0].SourceID)
	assert.True(t, want.FetchedAt.Equal(got.FetchedAt))
	assert.NoError(t, r.Ping(ctx))
}

func TestDialRedisUnreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, err := DialRedis(ctx, "127.0.0.1:1", time.Minute)
	assert.Error(t, err)
}
