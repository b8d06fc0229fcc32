package cache

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/emrgen/cdr/internal/compress"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_PutIfAbsent(t *testing.T) {
	c := NewLocal[string, int](0)

	assert.Equal(t, 1, c.PutIfAbsent("a", 1))
	assert.Equal(t, 1, c.PutIfAbsent("a", 2))

	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	_, ok = c.Get("b")
	assert.False(t, ok)
}

func TestLocal_Purge(t *testing.T) {
	c := NewLocal[string, int](2)
	c.PutIfAbsent("a", 1)
	c.Purge()

	assert.Equal(t, 0, c.Len())
	assert.Equal(t, 2, c.PutIfAbsent("a", 2))
}

func TestLocal_Bounded(t *testing.T) {
	c := NewLocal[int, string](2)
	c.PutIfAbsent(1, "one")
	c.PutIfAbsent(2, "two")
	c.PutIfAbsent(3, "three")

	assert.Equal(t, 2, c.Len())
	_, ok := c.Get(1)
	assert.False(t, ok)
	_, ok = c.Get(3)
	assert.True(t, ok)
}

func TestLocal_Concurrent(t *testing.T) {
	c := NewLocal[string, int](0)

	var wg sync.WaitGroup
	results := make([]int, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.PutIfAbsent("k", i)
		}(i)
	}
	wg.Wait()

	for _, r := range results {
		assert.Equal(t, results[0], r)
	}
}

func TestNopShared(t *testing.T) {
	var s Shared = NopShared{}
	require.NoError(t, s.Set(context.Background(), "k", []byte("v")))
	_, ok, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisShared(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}

	ctx := context.Background()
	s := NewRedisShared(NewRedis(addr, os.Getenv("REDIS_PASSWORD")), compress.NewLZ4())
	key := "test:" + uuid.NewString()

	_, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Set(ctx, key, []byte("<xsl:stylesheet/>")))
	require.NoError(t, s.Set(ctx, key, []byte("ignored")))

	data, ok, err := s.Get(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "<xsl:stylesheet/>", string(data))
}
