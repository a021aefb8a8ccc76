// Package catalog serves movie reads through the cache and performs movie
// mutations together with the cache invalidation they require.
package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Clark-Hu/movie-catalog/internal/assets"
	"github.com/Clark-Hu/movie-catalog/internal/cache"
	"github.com/Clark-Hu/movie-catalog/internal/domain"
)

// DeletedMessage is reported after a successful delete.
const DeletedMessage = "Movie deleted successfully"

// MovieStore is the persistence the service needs.
type MovieStore interface {
	FindByID(ctx context.Context, id int64) (domain.Movie, error)
	FindByExternalID(ctx context.Context, externalID int64) (domain.Movie, error)
	FindAll(ctx context.Context) ([]domain.Movie, error)
	FindMany(ctx context.Context, filter domain.MovieFilter) ([]domain.Movie, int64, error)
	Insert(ctx context.Context, movie domain.Movie) (domain.Movie, error)
	Save(ctx context.Context, movie domain.Movie) (domain.Movie, error)
	Delete(ctx context.Context, id int64) error
}

// Images holds the optional replacement images of a write.
type Images struct {
	Poster   *assets.File
	Backdrop *assets.File
}

// Service is the movie service.
type Service struct {
	movies MovieStore
	cache  *cache.Cache
	assets assets.Store
	logger zerolog.Logger
}

// NewService wires the service.
func NewService(movies MovieStore, c *cache.Cache, store assets.Store, logger zerolog.Logger) *Service {
	return &Service{
		movies: movies,
		cache:  c,
		assets: store,
		logger: logger.With().Str("component", "catalog").Logger(),
	}
}

// Filter returns one page of movies. Results are cached per distinct filter
// and returned verbatim on a hit.
func (s *Service) Filter(ctx context.Context, filter domain.MovieFilter) (domain.MoviePage, error) {
	if err := filter.Validate(); err != nil {
		return domain.MoviePage{}, err
	}

	key := cache.FilterKey(filter)
	var cached domain.MoviePage
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	rows, total, err := s.movies.FindMany(ctx, filter)
	if err != nil {
		return domain.MoviePage{}, err
	}
	page := domain.MoviePage{
		Data:  rows,
		Total: total,
		Page:  filter.PageOrDefault(),
		Limit: filter.LimitOrDefault(),
	}
	s.cache.Set(ctx, key, page, cache.CollectionTag)
	return page, nil
}

// GetByID returns a movie. Absence is never cached.
func (s *Service) GetByID(ctx context.Context, id int64) (domain.Movie, error) {
	key := cache.MovieKey(id)
	var cached domain.Movie
	if s.cache.Get(ctx, key, &cached) {
		return cached, nil
	}

	movie, err := s.movies.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Movie{}, fmt.Errorf("movie with id %d: %w", id, domain.ErrNotFound)
		}
		return domain.Movie{}, err
	}
	s.cache.Set(ctx, key, movie)
	return movie, nil
}

// FindAll returns every movie.
func (s *Service) FindAll(ctx context.Context) ([]domain.Movie, error) {
	var cached []domain.Movie
	if s.cache.Get(ctx, cache.AllMoviesKey, &cached) {
		return cached, nil
	}

	movies, err := s.movies.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(ctx, cache.AllMoviesKey, movies)
	return movies, nil
}

// CreateOrUpdate upserts a movie by its external id. Replacement images are
// uploaded before anything is persisted; superseded assets are destroyed only
// after the row has been saved.
func (s *Service) CreateOrUpdate(ctx context.Context, fields domain.MovieFields, images Images) (domain.Movie, error) {
	if fields.ExternalID == nil || *fields.ExternalID == 0 {
		return domain.Movie{}, fmt.Errorf("tmdbId is required: %w", domain.ErrInvalid)
	}

	existing, err := s.movies.FindByExternalID(ctx, *fields.ExternalID)
	switch {
	case err == nil:
		return s.replace(ctx, existing, fields, images)
	case !errors.Is(err, domain.ErrNotFound):
		return domain.Movie{}, err
	}

	poster, backdrop, err := s.uploadImages(ctx, images)
	if err != nil {
		return domain.Movie{}, err
	}

	var movie domain.Movie
	fields.Apply(&movie)
	applyUploads(&movie, poster, backdrop)

	created, err := s.movies.Insert(ctx, movie)
	if errors.Is(err, domain.ErrConflict) {
		// Lost an insert race on the external id; fall back to the update path
		// with the images already uploaded.
		existing, findErr := s.movies.FindByExternalID(ctx, *fields.ExternalID)
		if findErr != nil {
			s.discard(ctx, poster, backdrop)
			return domain.Movie{}, err
		}
		return s.save(ctx, existing, fields, poster, backdrop)
	}
	if err != nil {
		s.discard(ctx, poster, backdrop)
		return domain.Movie{}, err
	}

	s.invalidateCollections(ctx)
	return created, nil
}

// Update merges fields into the movie with the given id.
func (s *Service) Update(ctx context.Context, id int64, fields domain.MovieFields, images Images) (domain.Movie, error) {
	existing, err := s.movies.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Movie{}, fmt.Errorf("movie with id %d: %w", id, domain.ErrNotFound)
		}
		return domain.Movie{}, err
	}
	return s.replace(ctx, existing, fields, images)
}

// Delete removes a movie and its image assets.
func (s *Service) Delete(ctx context.Context, id int64) (string, error) {
	movie, err := s.movies.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("movie with id %d: %w", id, domain.ErrNotFound)
		}
		return "", err
	}
	if err := s.movies.Delete(ctx, id); err != nil {
		return "", err
	}

	s.destroy(ctx, movie.PosterPath.AssetID)
	s.destroy(ctx, movie.BackdropPath.AssetID)
	s.Invalidate(ctx, id)
	return DeletedMessage, nil
}

// Invalidate drops every cache entry that can contain the movie: its own
// key, the unfiltered listing and all filtered listings, in that order.
func (s *Service) Invalidate(ctx context.Context, id int64) {
	s.cache.Delete(ctx, cache.MovieKey(id))
	s.invalidateCollections(ctx)
}

func (s *Service) invalidateCollections(ctx context.Context) {
	s.cache.Delete(ctx, cache.AllMoviesKey)
	s.cache.InvalidateTag(ctx, cache.CollectionTag)
}

func (s *Service) replace(ctx context.Context, existing domain.Movie, fields domain.MovieFields, images Images) (domain.Movie, error) {
	poster, backdrop, err := s.uploadImages(ctx, images)
	if err != nil {
		return domain.Movie{}, err
	}
	return s.save(ctx, existing, fields, poster, backdrop)
}

func (s *Service) save(ctx context.Context, existing domain.Movie, fields domain.MovieFields, poster, backdrop *domain.ImageRef) (domain.Movie, error) {
	previous := existing
	fields.Apply(&existing)
	applyUploads(&existing, poster, backdrop)

	saved, err := s.movies.Save(ctx, existing)
	if err != nil {
		s.discard(ctx, poster, backdrop)
		return domain.Movie{}, err
	}

	if previous.PosterPath.AssetID != saved.PosterPath.AssetID {
		s.destroy(ctx, previous.PosterPath.AssetID)
	}
	if previous.BackdropPath.AssetID != saved.BackdropPath.AssetID {
		s.destroy(ctx, previous.BackdropPath.AssetID)
	}
	s.Invalidate(ctx, saved.ID)
	return saved, nil
}

// uploadImages uploads the supplied images concurrently. On failure any
// image that did upload is destroyed again and nothing else is touched.
func (s *Service) uploadImages(ctx context.Context, images Images) (*domain.ImageRef, *domain.ImageRef, error) {
	var poster, backdrop *domain.ImageRef

	g, gctx := errgroup.WithContext(ctx)
	if images.Poster != nil {
		file := *images.Poster
		g.Go(func() error {
			ref, err := s.assets.Upload(gctx, file)
			if err != nil {
				return fmt.Errorf("upload poster: %w", err)
			}
			poster = &ref
			return nil
		})
	}
	if images.Backdrop != nil {
		file := *images.Backdrop
		g.Go(func() error {
			ref, err := s.assets.Upload(gctx, file)
			if err != nil {
				return fmt.Errorf("upload backdrop: %w", err)
			}
			backdrop = &ref
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		s.discard(ctx, poster, backdrop)
		return nil, nil, err
	}
	return poster, backdrop, nil
}

func (s *Service) discard(ctx context.Context, refs ...*domain.ImageRef) {
	for _, ref := range refs {
		if ref != nil {
			s.destroy(ctx, ref.AssetID)
		}
	}
}

// destroy removes an asset; failures leave an orphan and are only logged.
func (s *Service) destroy(ctx context.Context, assetID string) {
	if assetID == "" {
		return
	}
	if _, err := s.assets.Destroy(ctx, assetID); err != nil {
		s.logger.Warn().Err(err).Str("asset_id", assetID).Msg("destroy image asset")
	}
}

func applyUploads(movie *domain.Movie, poster, backdrop *domain.ImageRef) {
	if poster != nil {
		movie.PosterPath = *poster
	}
	if backdrop != nil {
		movie.BackdropPath = *backdrop
	}
}
