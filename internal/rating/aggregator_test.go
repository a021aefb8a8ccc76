package rating

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Clark-Hu/movie-catalog/internal/domain"
	"github.com/Clark-Hu/movie-catalog/internal/logging"
	"github.com/Clark-Hu/movie-catalog/internal/repository"
)

type pair struct{ user, movie int64 }

// memory implements every store the aggregator needs on top of maps.
type memory struct {
	mu          sync.Mutex
	users       map[int64]bool
	movies      map[int64]domain.Movie
	ratings     map[pair]domain.Rating
	nextID      int64
	invalidated []int64
}

func newMemory() *memory {
	return &memory{
		users:   map[int64]bool{1: true, 2: true, 3: true},
		movies:  map[int64]domain.Movie{7: {ID: 7, Title: "Seven"}, 8: {ID: 8, Title: "Eight"}},
		ratings: make(map[pair]domain.Rating),
	}
}

func (m *memory) Exists(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id], nil
}

func (m *memory) GetByID(_ context.Context, id int64) (domain.Movie, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	movie, ok := m.movies[id]
	if !ok {
		return domain.Movie{}, domain.ErrNotFound
	}
	return movie, nil
}

func (m *memory) Invalidate(_ context.Context, id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, id)
}

func (m *memory) SetRating(_ context.Context, id int64, agg domain.RatingAggregate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	movie, ok := m.movies[id]
	if !ok {
		return domain.ErrNotFound
	}
	movie.Rating = agg.Average
	movie.RatingCount = agg.Count
	m.movies[id] = movie
	return nil
}

func (m *memory) Upsert(_ context.Context, p repository.RatingUpsertParams) (domain.Rating, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pair{p.UserID, p.MovieID}
	r, ok := m.ratings[key]
	if !ok {
		m.nextID++
		r = domain.Rating{ID: m.nextID, UserID: p.UserID, MovieID: p.MovieID}
	}
	r.Value = p.Value
	m.ratings[key] = r
	return r, !ok, nil
}

func (m *memory) Aggregate(_ context.Context, movieID int64) (domain.RatingAggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var sum float64
	var count int64
	for k, r := range m.ratings {
		if k.movie == movieID {
			sum += r.Value
			count++
		}
	}
	if count == 0 {
		return domain.RatingAggregate{}, nil
	}
	return domain.RatingAggregate{Average: math.Round(sum/float64(count)*100) / 100, Count: count}, nil
}

func (m *memory) ListByUser(_ context.Context, userID int64) ([]domain.Rating, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Rating, 0)
	for k, r := range m.ratings {
		if k.user == userID {
			movie := m.movies[k.movie]
			r.Movie = &movie
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memory) Delete(_ context.Context, userID, movieID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := pair{userID, movieID}
	if _, ok := m.ratings[key]; !ok {
		return domain.ErrNotFound
	}
	delete(m.ratings, key)
	return nil
}

func (m *memory) rowsFor(movieID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.ratings {
		if k.movie == movieID {
			n++
		}
	}
	return n
}

func newAggregator(m *memory) *Aggregator {
	return NewAggregator(m, m, m, m, logging.Nop())
}

func TestRateTwiceKeepsSingleRow(t *testing.T) {
	m := newMemory()
	agg := newAggregator(m)
	ctx := context.Background()

	first, err := agg.Rate(ctx, 3, 7, 8)
	require.NoError(t, err)
	assert.Equal(t, domain.RatingAggregate{Average: 8, Count: 1}, first)

	second, err := agg.Rate(ctx, 3, 7, 4)
	require.NoError(t, err)
	assert.Equal(t, domain.RatingAggregate{Average: 4, Count: 1}, second)
	assert.Equal(t, 1, m.rowsFor(7))

	persisted, err := agg.GetMovieRating(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, second, persisted)
	assert.Equal(t, []int64{7, 7}, m.invalidated)
}

func TestRateAverageRoundedToTwoDecimals(t *testing.T) {
	m := newMemory()
	agg := newAggregator(m)
	ctx := context.Background()

	_, err := agg.Rate(ctx, 1, 8, 10)
	require.NoError(t, err)
	_, err = agg.Rate(ctx, 2, 8, 5)
	require.NoError(t, err)
	got, err := agg.Rate(ctx, 3, 8, 5)
	require.NoError(t, err)

	assert.Equal(t, domain.RatingAggregate{Average: 6.67, Count: 3}, got)
	movie, _ := m.GetByID(ctx, 8)
	assert.Equal(t, 6.67, movie.Rating)
	assert.Equal(t, int64(3), movie.RatingCount)
}

func TestRateValidation(t *testing.T) {
	m := newMemory()
	agg := newAggregator(m)
	ctx := context.Background()

	tests := []struct {
		name    string
		user    int64
		movie   int64
		value   float64
		wantErr error
	}{
		{"value above range", 1, 7, 10.5, domain.ErrInvalid},
		{"negative value", 1, 7, -1, domain.ErrInvalid},
		{"nan value", 1, 7, math.NaN(), domain.ErrInvalid},
		{"unknown user", 99, 7, 5, domain.ErrNotFound},
		{"unknown movie", 1, 99, 5, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := agg.Rate(ctx, tt.user, tt.movie, tt.value)
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
	assert.Empty(t, m.invalidated)
}

func TestGetUserRatingsEmptyIsNotFound(t *testing.T) {
	m := newMemory()
	agg := newAggregator(m)
	ctx := context.Background()

	_, err := agg.GetUserRatings(ctx, 1)
	assert.True(t, errors.Is(err, domain.ErrNotFound))

	_, err = agg.Rate(ctx, 1, 7, 6)
	require.NoError(t, err)
	ratings, err := agg.GetUserRatings(ctx, 1)
	require.NoError(t, err)
	require.Len(t, ratings, 1)
	require.NotNil(t, ratings[0].Movie)
	assert.Equal(t, "Seven", ratings[0].Movie.Title)
}

func TestDeleteRatingRecomputesAggregate(t *testing.T) {
	m := newMemory()
	agg := newAggregator(m)
	ctx := context.Background()

	_, err := agg.Rate(ctx, 1, 7, 9)
	require.NoError(t, err)
	_, err = agg.Rate(ctx, 2, 7, 3)
	require.NoError(t, err)

	after, err := agg.DeleteRating(ctx, 1, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.RatingAggregate{Average: 3, Count: 1}, after)

	after, err = agg.DeleteRating(ctx, 2, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.RatingAggregate{}, after)

	persisted, err := agg.GetMovieRating(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.RatingAggregate{}, persisted)

	_, err = agg.DeleteRating(ctx, 2, 7)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}

func TestGetMovieRatingUnknownMovie(t *testing.T) {
	agg := newAggregator(newMemory())
	_, err := agg.GetMovieRating(context.Background(), 404)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
}
