// Package rating owns user ratings and the denormalized rating/ratingCount
// fields on movies.
//
// Every write recomputes the aggregate from the ratings table and persists
// it onto the movie row; reads use the persisted fields only. Two concurrent
// writes for the same movie can still race between the aggregate query and
// the movie update, in which case the later rate call repairs the value.
package rating

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/Clark-Hu/movie-catalog/internal/domain"
	"github.com/Clark-Hu/movie-catalog/internal/repository"
)

// RatingStore persists individual ratings.
type RatingStore interface {
	Upsert(ctx context.Context, params repository.RatingUpsertParams) (domain.Rating, bool, error)
	Aggregate(ctx context.Context, movieID int64) (domain.RatingAggregate, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Rating, error)
	Delete(ctx context.Context, userID, movieID int64) error
}

// AggregateWriter stores the recomputed aggregate on the movie row.
type AggregateWriter interface {
	SetRating(ctx context.Context, movieID int64, agg domain.RatingAggregate) error
}

// UserStore answers user existence checks.
type UserStore interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// Catalog is the cached movie read path plus its invalidation hook.
type Catalog interface {
	GetByID(ctx context.Context, id int64) (domain.Movie, error)
	Invalidate(ctx context.Context, id int64)
}

// Aggregator implements the rating operations.
type Aggregator struct {
	ratings RatingStore
	movies  AggregateWriter
	users   UserStore
	catalog Catalog
	logger  zerolog.Logger
}

// NewAggregator wires the aggregator.
func NewAggregator(ratings RatingStore, movies AggregateWriter, users UserStore, catalog Catalog, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		ratings: ratings,
		movies:  movies,
		users:   users,
		catalog: catalog,
		logger:  logger.With().Str("component", "rating").Logger(),
	}
}

// Rate creates or replaces the user's rating of a movie and returns the
// movie's new aggregate.
func (a *Aggregator) Rate(ctx context.Context, userID, movieID int64, value float64) (domain.RatingAggregate, error) {
	if math.IsNaN(value) || value < domain.MinRatingValue || value > domain.MaxRatingValue {
		return domain.RatingAggregate{}, fmt.Errorf("rating must be between %d and %d: %w",
			domain.MinRatingValue, domain.MaxRatingValue, domain.ErrInvalid)
	}

	exists, err := a.users.Exists(ctx, userID)
	if err != nil {
		return domain.RatingAggregate{}, err
	}
	if !exists {
		return domain.RatingAggregate{}, fmt.Errorf("user %d: %w", userID, domain.ErrNotFound)
	}
	if _, err := a.catalog.GetByID(ctx, movieID); err != nil {
		return domain.RatingAggregate{}, err
	}

	_, inserted, err := a.ratings.Upsert(ctx, repository.RatingUpsertParams{UserID: userID, MovieID: movieID, Value: value})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// The movie or user vanished between the checks and the write.
			return domain.RatingAggregate{}, fmt.Errorf("rate movie %d: %w", movieID, domain.ErrNotFound)
		}
		return domain.RatingAggregate{}, err
	}
	a.logger.Debug().Int64("user_id", userID).Int64("movie_id", movieID).Bool("inserted", inserted).Msg("rating stored")

	return a.recompute(ctx, movieID)
}

// GetMovieRating returns the persisted aggregate of a movie.
func (a *Aggregator) GetMovieRating(ctx context.Context, movieID int64) (domain.RatingAggregate, error) {
	movie, err := a.catalog.GetByID(ctx, movieID)
	if err != nil {
		return domain.RatingAggregate{}, err
	}
	return domain.RatingAggregate{Average: movie.Rating, Count: movie.RatingCount}, nil
}

// GetUserRatings lists a user's ratings with movies joined. A user without
// ratings is reported as not found.
func (a *Aggregator) GetUserRatings(ctx context.Context, userID int64) ([]domain.Rating, error) {
	ratings, err := a.ratings.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(ratings) == 0 {
		return nil, fmt.Errorf("no ratings found for user with id %d: %w", userID, domain.ErrNotFound)
	}
	return ratings, nil
}

// DeleteRating removes the user's rating of a movie and returns the movie's
// recomputed aggregate.
func (a *Aggregator) DeleteRating(ctx context.Context, userID, movieID int64) (domain.RatingAggregate, error) {
	if err := a.ratings.Delete(ctx, userID, movieID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.RatingAggregate{}, fmt.Errorf("rating not found for user %d and movie %d: %w", userID, movieID, domain.ErrNotFound)
		}
		return domain.RatingAggregate{}, err
	}
	return a.recompute(ctx, movieID)
}

func (a *Aggregator) recompute(ctx context.Context, movieID int64) (domain.RatingAggregate, error) {
	agg, err := a.ratings.Aggregate(ctx, movieID)
	if err != nil {
		return domain.RatingAggregate{}, err
	}
	if err := a.movies.SetRating(ctx, movieID, agg); err != nil {
		return domain.RatingAggregate{}, err
	}
	a.catalog.Invalidate(ctx, movieID)
	return agg, nil
}
