// Package cache implements the read-through cache in front of the movie store.
//
// Entries are JSON documents stored under string keys with a fixed TTL.
// Filtered collection entries additionally carry CollectionTag so a single
// InvalidateTag call drops every cached filter result.
//
// Cache never surfaces errors to callers: a failing backend degrades to a
// miss on reads and a no-op on writes, and after repeated failures a circuit
// breaker stops calling the backend until it recovers.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"
)

// TTL is the lifetime of every cache entry.
const TTL = 3600 * time.Second

// Backend is the storage behind Cache. Get reports found=false with a nil
// error on a plain miss.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration, tags ...string) error
	Delete(ctx context.Context, keys ...string) error
	InvalidateTag(ctx context.Context, tag string) error
	Close() error
}

var (
	cacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movie_catalog_cache_hits_total",
		Help: "Cache lookups answered from the cache.",
	}, []string{"backend"})
	cacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movie_catalog_cache_misses_total",
		Help: "Cache lookups that fell through to the store.",
	}, []string{"backend"})
	cacheErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "movie_catalog_cache_errors_total",
		Help: "Cache operations that failed and were absorbed.",
	}, []string{"backend"})
)

// Options configures a Cache.
type Options struct {
	// Name labels metrics and log lines, e.g. "memory" or "redis".
	Name string
	// TTL overrides the default entry lifetime; tests only.
	TTL time.Duration
	// FailureThreshold is the number of consecutive backend failures that
	// opens the breaker. Defaults to 5.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	// Defaults to 30s.
	OpenTimeout time.Duration
	Logger      zerolog.Logger
}

// Cache is the error-absorbing facade used by the services.
type Cache struct {
	backend Backend
	name    string
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  zerolog.Logger
}

// New wraps backend.
func New(backend Backend, opts Options) *Cache {
	if opts.Name == "" {
		opts.Name = "cache"
	}
	if opts.TTL <= 0 {
		opts.TTL = TTL
	}
	if opts.FailureThreshold == 0 {
		opts.FailureThreshold = 5
	}
	if opts.OpenTimeout <= 0 {
		opts.OpenTimeout = 30 * time.Second
	}

	logger := opts.Logger.With().Str("component", "cache").Str("backend", opts.Name).Logger()
	threshold := opts.FailureThreshold

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "cache-" + opts.Name,
		MaxRequests: 1,
		Timeout:     opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		// A caller giving up says nothing about backend health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("cache breaker state change")
		},
	})

	return &Cache{
		backend: backend,
		name:    opts.Name,
		ttl:     opts.TTL,
		breaker: breaker,
		logger:  logger,
	}
}

// Name returns the backend label.
func (c *Cache) Name() string {
	return c.name
}

// Get decodes the entry stored under key into dst and reports whether it was
// a hit. Any fault is treated as a miss.
func (c *Cache) Get(ctx context.Context, key string, dst interface{}) bool {
	var found bool
	raw, err := c.breaker.Execute(func() ([]byte, error) {
		value, ok, err := c.backend.Get(ctx, key)
		found = ok
		return value, err
	})
	if err != nil {
		c.fault(err, "get", key)
		cacheMisses.WithLabelValues(c.name).Inc()
		return false
	}
	if !found {
		cacheMisses.WithLabelValues(c.name).Inc()
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// A corrupt entry is dropped so the next read repopulates it.
		c.fault(err, "decode", key)
		cacheMisses.WithLabelValues(c.name).Inc()
		c.Delete(ctx, key)
		return false
	}
	cacheHits.WithLabelValues(c.name).Inc()
	return true
}

// Set stores v under key with the cache TTL and the given tags.
func (c *Cache) Set(ctx context.Context, key string, v interface{}, tags ...string) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.fault(err, "encode", key)
		return
	}
	_, err = c.breaker.Execute(func() ([]byte, error) {
		return nil, c.backend.Set(ctx, key, payload, c.ttl, tags...)
	})
	if err != nil {
		c.fault(err, "set", key)
	}
}

// Delete removes keys. Deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	_, err := c.breaker.Execute(func() ([]byte, error) {
		return nil, c.backend.Delete(ctx, keys...)
	})
	if err != nil {
		c.fault(err, "delete", keys[0])
	}
}

// InvalidateTag removes every entry stored with tag.
func (c *Cache) InvalidateTag(ctx context.Context, tag string) {
	_, err := c.breaker.Execute(func() ([]byte, error) {
		return nil, c.backend.InvalidateTag(ctx, tag)
	})
	if err != nil {
		c.fault(err, "invalidate_tag", tag)
	}
}

// Close releases the backend.
func (c *Cache) Close() error {
	return c.backend.Close()
}

func (c *Cache) fault(err error, op, key string) {
	cacheErrors.WithLabelValues(c.name).Inc()
	event := c.logger.Warn()
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		event = c.logger.Debug()
	}
	event.Err(err).Str("op", op).Str("key", key).Msg("cache operation failed")
}
