package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Clark-Hu/movie-catalog/internal/domain"
	"github.com/Clark-Hu/movie-catalog/internal/logging"
)

func startRedis(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container in -short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("terminate redis container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s/0", host, port.Port())
}

func TestRedisBackend(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	backend, err := NewRedisBackend(ctx, url)
	require.NoError(t, err)
	c := New(backend, Options{Name: "redis", Logger: logging.Nop()})
	defer c.Close()

	var movie domain.Movie
	assert.False(t, c.Get(ctx, MovieKey(5), &movie))

	c.Set(ctx, MovieKey(5), domain.Movie{ID: 5, Title: "Heat"})
	require.True(t, c.Get(ctx, MovieKey(5), &movie))
	assert.Equal(t, "Heat", movie.Title)

	ttl, err := backend.client.TTL(ctx, MovieKey(5)).Result()
	require.NoError(t, err)
	assert.InDelta(t, TTL.Seconds(), ttl.Seconds(), 5)

	filterKey := FilterKey(domain.MovieFilter{})
	c.Set(ctx, filterKey, domain.MoviePage{Total: 1}, CollectionTag)
	c.InvalidateTag(ctx, CollectionTag)

	var page domain.MoviePage
	assert.False(t, c.Get(ctx, filterKey, &page))
	assert.True(t, c.Get(ctx, MovieKey(5), &movie))

	c.Delete(ctx, MovieKey(5))
	c.Delete(ctx, MovieKey(5))
	assert.False(t, c.Get(ctx, MovieKey(5), &movie))
}

func TestRedisInvalidateTagLargeSet(t *testing.T) {
	url := startRedis(t)
	ctx := context.Background()

	backend, err := NewRedisBackend(ctx, url)
	require.NoError(t, err)
	defer backend.Close()

	keys := make([]string, 1200)
	for i := range keys {
		keys[i] = fmt.Sprintf("movies:{\"page\":%d}", i+1)
		require.NoError(t, backend.Set(ctx, keys[i], []byte("{}"), time.Minute, CollectionTag))
	}
	require.NoError(t, backend.Set(ctx, MovieKey(1), []byte("{}"), time.Minute))

	require.NoError(t, backend.InvalidateTag(ctx, CollectionTag))

	remaining, err := backend.client.Exists(ctx, keys...).Result()
	require.NoError(t, err)
	assert.Zero(t, remaining)
	members, err := backend.client.SCard(ctx, CollectionTag).Result()
	require.NoError(t, err)
	assert.Zero(t, members)
	_, found, err := backend.Get(ctx, MovieKey(1))
	require.NoError(t, err)
	assert.True(t, found, "untagged entries survive")

	require.NoError(t, backend.InvalidateTag(ctx, CollectionTag), "empty tag is a no-op")
}
