package visibility

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindlog/social_layer/internal/domain/graph"
	"github.com/mindlog/social_layer/internal/metrics"
	"github.com/mindlog/social_layer/internal/relationship"
	"github.com/mindlog/social_layer/internal/storage/memory"
)

func setup(t *testing.T) (*memory.Store, *relationship.Store, *relationship.Cascade) {
	t.Helper()
	backend := memory.New()
	store := relationship.NewStore(backend, nil)
	return backend, store, relationship.NewCascade(store, nil, nil, nil)
}

func lookups(t *testing.T, m *metrics.Metrics, result string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "socialgraph_visibility_exclusion_cache_lookups_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, lp := range metric.GetLabel() {
				if lp.GetName() == "result" && lp.GetValue() == result {
					return metric.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestBlockHidesBothDirections(t *testing.T) {
	ctx := context.Background()
	_, store, cascade := setup(t)
	f := New(store)

	_, err := cascade.ApplyBlock(ctx, "a", "b")
	require.NoError(t, err)

	ids := []string{"c", "b", "a", "d"}
	got, err := f.Filter(ctx, "a", ids)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "a", "d"}, got)

	got, err = f.Filter(ctx, "b", ids)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "d"}, got)

	got, err = f.Filter(ctx, "c", ids)
	require.NoError(t, err)
	assert.Equal(t, ids, got)
}

func TestEmptyViewerSkipsFiltering(t *testing.T) {
	backend, _, cascade := setup(t)
	_, err := cascade.ApplyBlock(context.Background(), "a", "b")
	require.NoError(t, err)

	f := New(relationship.NewStore(backend, nil))
	before := backend.Calls("ListEdges")
	got, err := f.Filter(context.Background(), "", []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
	assert.Equal(t, before, backend.Calls("ListEdges"))
}

func TestFilterSubjectCollapsesExcludedOwner(t *testing.T) {
	ctx := context.Background()
	_, store, cascade := setup(t)
	f := New(store)

	_, err := cascade.ApplyBlock(ctx, "b", "a")
	require.NoError(t, err)

	got, err := f.FilterSubject(ctx, "a", "b", []string{"c", "d"})
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.FilterSubject(ctx, "a", "c", []string{"b", "d"})
	require.NoError(t, err)
	assert.Equal(t, []string{"d"}, got)
}

func TestExcludedIDsPropagatesErrors(t *testing.T) {
	backend, store, _ := setup(t)
	backend.SetHook("ListEdges", func(_ context.Context, args ...string) error {
		if args[2] == graph.Incoming.String() {
			return errors.New("timeout")
		}
		return nil
	})
	_, err := New(store).ExcludedIDs(context.Background(), "a")
	assert.Error(t, err)
}

func TestCacheServesAndInvalidates(t *testing.T) {
	ctx := context.Background()
	backend, store, cascade := setup(t)
	m := metrics.New()
	f := New(store, WithCache(NewMemoryCache(), time.Minute), WithMetrics(m))
	cascade.SetInvalidator(f)

	_, err := f.ExcludedIDs(ctx, "a")
	require.NoError(t, err)
	listed := backend.Calls("ListEdges")

	_, err = f.ExcludedIDs(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, listed, backend.Calls("ListEdges"), "second read is served from cache")

	_, err = cascade.ApplyBlock(ctx, "b", "a")
	require.NoError(t, err)

	excluded, err := f.ExcludedIDs(ctx, "a")
	require.NoError(t, err)
	assert.True(t, excluded.Has("b"), "block invalidates the cached set")

	assert.Equal(t, 2.0, lookups(t, m, "miss"))
	assert.Equal(t, 1.0, lookups(t, m, "hit"))
}

func TestCacheErrorFallsBackToBackend(t *testing.T) {
	ctx := context.Background()
	_, store, cascade := setup(t)
	_, err := cascade.ApplyBlock(ctx, "a", "b")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	m := metrics.New()
	f := New(store, WithCache(NewRedisCache(client, "test:"), time.Minute), WithMetrics(m))
	excluded, err := f.ExcludedIDs(ctx, "a")
	require.NoError(t, err)
	assert.True(t, excluded.Has("b"))
	assert.Equal(t, 1.0, lookups(t, m, "error"))
}

func TestMemoryCacheExpiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "a", []string{"b"}, time.Second))
	ids, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"b"}, ids)

	now = now.Add(2 * time.Second)
	_, ok, err = c.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "a", nil, 0))
	require.NoError(t, c.Delete(ctx, "a", "z"))
	_, ok, _ = c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestRedisCacheIntegration(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client, err := DialRedis(ctx, addr, os.Getenv("TEST_REDIS_PASSWORD"), 0)
	require.NoError(t, err)
	defer client.Close()

	c := NewRedisCache(client, "socialgraph-test:")
	require.NoError(t, c.Delete(ctx, "viewer"))

	_, ok, err := c.Get(ctx, "viewer")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "viewer", []string{"x", "y"}, time.Minute))
	ids, ok, err := c.Get(ctx, "viewer")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"x", "y"}, ids)

	require.NoError(t, c.Set(ctx, "empty", nil, time.Minute))
	ids, ok, err = c.Get(ctx, "empty")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, ids)

	require.NoError(t, c.Delete(ctx, "viewer", "empty"))
}
