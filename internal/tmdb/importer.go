package tmdb

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/Clark-Hu/movie-catalog/internal/cache"
	"github.com/Clark-Hu/movie-catalog/internal/catalog"
	"github.com/Clark-Hu/movie-catalog/internal/domain"
)

const untitled = "Untitled"

var (
	importedMovies = promauto.NewCounter(prometheus.CounterOpts{
		Name: "movie_catalog_import_movies_total",
		Help: "Movies upserted from the upstream popular listing.",
	})
	importFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "movie_catalog_import_page_failures_total",
		Help: "Page imports that failed.",
	})
)

// Upserter is the catalog write path used for imported records.
type Upserter interface {
	CreateOrUpdate(ctx context.Context, fields domain.MovieFields, images catalog.Images) (domain.Movie, error)
}

// PageResult reports how many movies one page import stored.
type PageResult struct {
	Count int `json:"count"`
	Page  int `json:"page"`
}

// Importer maps upstream records onto catalog movies.
type Importer struct {
	source       Source
	movies       Upserter
	cache        *cache.Cache
	imageBaseURL string
	logger       zerolog.Logger

	mu     sync.RWMutex
	genres map[int64]domain.Genre
}

// NewImporter wires an importer. imageBaseURL is prefixed to the upstream
// poster and backdrop paths.
func NewImporter(source Source, movies Upserter, c *cache.Cache, imageBaseURL string, logger zerolog.Logger) *Importer {
	return &Importer{
		source:       source,
		movies:       movies,
		cache:        c,
		imageBaseURL: strings.TrimRight(imageBaseURL, "/"),
		logger:       logger.With().Str("component", "importer").Logger(),
		genres:       make(map[int64]domain.Genre),
	}
}

// LoadGenres fetches the upstream genre table, keeping only genres the
// catalog knows. It returns the number of genres kept.
func (i *Importer) LoadGenres(ctx context.Context) (int, error) {
	entries, err := i.source.FetchGenres(ctx)
	if err != nil {
		return 0, err
	}

	genres := make(map[int64]domain.Genre, len(entries))
	for _, entry := range entries {
		if g, err := domain.ParseGenre(entry.Name); err == nil {
			genres[entry.ID] = g
		}
	}

	i.mu.Lock()
	i.genres = genres
	i.mu.Unlock()

	i.logger.Info().Int("genres", len(genres)).Msg("genre table loaded")
	return len(genres), nil
}

// ImportPage imports one upstream page. A page imported within the cache
// TTL is not fetched again; the earlier result is returned instead.
func (i *Importer) ImportPage(ctx context.Context, page int) (PageResult, error) {
	if page < 1 {
		return PageResult{}, fmt.Errorf("page must be positive: %w", domain.ErrInvalid)
	}

	key := cache.ImportPageKey(page)
	var cached PageResult
	if i.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	records, err := i.source.FetchPopular(ctx, page)
	if err != nil {
		importFailures.Inc()
		return PageResult{}, err
	}

	result := PageResult{Page: page}
	for _, record := range records {
		if _, err := i.movies.CreateOrUpdate(ctx, i.mapRecord(record), catalog.Images{}); err != nil {
			importFailures.Inc()
			return PageResult{}, fmt.Errorf("store tmdb movie %d: %w", record.ID, err)
		}
		result.Count++
		importedMovies.Inc()
	}

	i.cache.Set(ctx, key, result)
	i.logger.Info().Int("page", page).Int("count", result.Count).Msg("imported tmdb page")
	return result, nil
}

// Run imports pages 1..pages immediately and then on every interval tick
// until ctx is cancelled. Page failures are logged and do not stop the loop.
func (i *Importer) Run(ctx context.Context, interval time.Duration, pages int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		i.importAll(ctx, pages)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (i *Importer) importAll(ctx context.Context, pages int) {
	for page := 1; page <= pages; page++ {
		if ctx.Err() != nil {
			return
		}
		if _, err := i.ImportPage(ctx, page); err != nil {
			i.logger.Error().Err(err).Int("page", page).Msg("scheduled import failed")
		}
	}
}

func (i *Importer) mapRecord(record Record) domain.MovieFields {
	i.mu.RLock()
	genre := resolveGenre(i.genres, record.GenreIDs)
	i.mu.RUnlock()

	externalID := record.ID
	title := record.Title
	if title == "" {
		title = untitled
	}
	poster := imageRef(i.imageBaseURL, record.PosterPath)
	backdrop := imageRef(i.imageBaseURL, record.BackdropPath)

	return domain.MovieFields{
		ExternalID:   &externalID,
		Title:        &title,
		Overview:     &record.Overview,
		ReleaseDate:  &record.ReleaseDate,
		VoteAverage:  &record.VoteAverage,
		VoteCount:    &record.VoteCount,
		Popularity:   &record.Popularity,
		Adult:        &record.Adult,
		Genre:        &genre,
		PosterPath:   &poster,
		BackdropPath: &backdrop,
	}
}

// resolveGenre maps the first upstream genre id, falling back when the id
// is missing or unknown.
func resolveGenre(genres map[int64]domain.Genre, ids []int64) domain.Genre {
	if len(ids) > 0 {
		if g, ok := genres[ids[0]]; ok {
			return g
		}
	}
	return domain.FallbackGenre
}

func imageRef(base string, p *string) domain.ImageRef {
	if p == nil || *p == "" {
		return domain.ImageRef{}
	}
	return domain.ImageRef{URL: base + *p}
}
