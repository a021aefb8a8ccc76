package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Clark-Hu/movie-catalog/db"
	"github.com/Clark-Hu/movie-catalog/internal/assets"
	"github.com/Clark-Hu/movie-catalog/internal/cache"
	"github.com/Clark-Hu/movie-catalog/internal/catalog"
	"github.com/Clark-Hu/movie-catalog/internal/config"
	httpserver "github.com/Clark-Hu/movie-catalog/internal/http"
	"github.com/Clark-Hu/movie-catalog/internal/lists"
	"github.com/Clark-Hu/movie-catalog/internal/logging"
	"github.com/Clark-Hu/movie-catalog/internal/rating"
	"github.com/Clark-Hu/movie-catalog/internal/repository"
	"github.com/Clark-Hu/movie-catalog/internal/store"
	"github.com/Clark-Hu/movie-catalog/internal/tmdb"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New(logging.Config{})
		bootLogger.Fatal().Err(err).Msg("config error")
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	storeOpts := store.Options{
		MaxConns:               int32(cfg.DBMaxConns),
		MinConns:               int32(cfg.DBMinConns),
		MaxConnIdleTime:        time.Duration(cfg.DBMaxIdleSecs) * time.Second,
		MaxConnLifetime:        time.Duration(cfg.DBMaxLifeSecs) * time.Second,
		ConnTimeout:            time.Duration(cfg.DBConnTimeoutSecs) * time.Second,
		StatementCacheCapacity: cfg.DBStatementCache,
		ApplicationName:        "movie-catalog",
		Logger:                 logger,
	}

	st, err := store.New(dbCtx, cfg.DBURL, storeOpts)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	defer st.Close()

	if err := st.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		logger.Warn().Err(err).Msg("register pool metrics")
	}

	if cfg.DBAutoMigrate {
		if _, err := st.Migrate(dbCtx, db.Migrations); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
	}

	backend, err := newCacheBackend(dbCtx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("backend", cfg.CacheBackend).Msg("init cache backend")
	}
	c := cache.New(backend, cache.Options{Name: cfg.CacheBackend, Logger: logger})
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn().Err(err).Msg("close cache")
		}
	}()

	imageStore, err := newAssetStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init asset store")
	}

	repo := repository.New(st)
	movies := catalog.NewService(repo.Movies, c, imageStore, logger)
	ratings := rating.NewAggregator(repo.Ratings, repo.Movies, repo.Users, movies, logger)
	memberships := lists.NewService(repo.Lists, movies)

	tmdbClient, err := tmdb.NewClient(tmdb.ClientConfig{
		BaseURL:    cfg.TMDB.BaseURL,
		APIKey:     cfg.TMDB.APIKey,
		RatePerSec: cfg.TMDB.RatePerSec,
		Timeout:    time.Duration(cfg.TMDB.TimeoutSecs) * time.Second,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("init tmdb client")
	}
	importer := tmdb.NewImporter(tmdbClient, movies, c, cfg.TMDB.ImageBaseURL, logger)
	if cfg.TMDB.APIKey != "" {
		if _, err := importer.LoadGenres(ctx); err != nil {
			logger.Warn().Err(err).Msg("load tmdb genres; imported movies fall back to the default genre")
		}
	}
	if cfg.TMDB.ImportInterval > 0 {
		go importer.Run(ctx, cfg.TMDB.ImportInterval, cfg.TMDB.ImportPages)
	}

	server := httpserver.New(cfg, httpserver.Deps{
		Health:   st,
		Movies:   movies,
		Ratings:  ratings,
		Lists:    memberships,
		Importer: importer,
	}, logger)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			serverErrCh <- err
			return
		}
		serverErrCh <- nil
	}()

	select {
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("server error")
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("graceful shutdown error")
	}
}

func newCacheBackend(ctx context.Context, cfg config.Config) (cache.Backend, error) {
	if cfg.CacheBackend == config.CacheBackendRedis {
		return cache.NewRedisBackend(ctx, cfg.RedisURL)
	}
	return cache.NewMemoryBackend(cfg.CacheMaxCost)
}

func newAssetStore(cfg config.Config, logger zerolog.Logger) (assets.Store, error) {
	if !cfg.AssetsEnabled() {
		logger.Warn().Msg("asset credentials not configured; image uploads are disabled")
		return assets.Disabled{}, nil
	}
	return assets.NewHTTPClient(assets.Config{
		BaseURL:   cfg.Asset.BaseURL,
		CloudName: cfg.Asset.CloudName,
		APIKey:    cfg.Asset.APIKey,
		APISecret: cfg.Asset.APISecret,
		Folder:    cfg.Asset.Folder,
		Timeout:   time.Duration(cfg.Asset.TimeoutSecs) * time.Second,
	}, logger)
}
