package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/movie-catalog/internal/domain"
)

// RatingsRepository provides helpers for movie ratings.
type RatingsRepository struct {
	pool *pgxpool.Pool
}

// RatingUpsertParams captures the payload required to upsert a rating.
type RatingUpsertParams struct {
	UserID  int64
	MovieID int64
	Value   float64
}

const ratingColumns = `r.id, r.user_id, r.movie_id, r.value, r.created_at, r.updated_at`

// Upsert inserts or updates a rating and indicates whether it was newly created.
func (r *RatingsRepository) Upsert(ctx context.Context, params RatingUpsertParams) (domain.Rating, bool, error) {
	const query = `
        INSERT INTO ratings AS r (user_id, movie_id, value)
        VALUES ($1,$2,$3)
        ON CONFLICT (user_id, movie_id)
        DO UPDATE SET value = EXCLUDED.value, updated_at = now()
        RETURNING ` + ratingColumns + `, (xmax = 0) AS inserted
    `

	var rating domain.Rating
	var inserted bool
	err := r.pool.QueryRow(ctx, query, params.UserID, params.MovieID, params.Value).Scan(
		&rating.ID,
		&rating.UserID,
		&rating.MovieID,
		&rating.Value,
		&rating.CreatedAt,
		&rating.UpdatedAt,
		&inserted,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) || pgErrorCode(err) == pgForeignKeyViolation {
			return domain.Rating{}, false, ErrNotFound
		}
		return domain.Rating{}, false, err
	}

	return rating, inserted, nil
}

// Aggregate returns the rating average (rounded to two decimals) and count for a movie.
func (r *RatingsRepository) Aggregate(ctx context.Context, movieID int64) (domain.RatingAggregate, error) {
	const query = `
        SELECT COALESCE(ROUND(AVG(value)::numeric, 2), 0)::float8 AS average,
               COUNT(*)::int8 AS count
        FROM ratings
        WHERE movie_id = $1
    `

	var agg domain.RatingAggregate
	err := r.pool.QueryRow(ctx, query, movieID).Scan(&agg.Average, &agg.Count)
	if err != nil {
		return domain.RatingAggregate{}, fmt.Errorf("aggregate ratings: %w", err)
	}
	return agg, nil
}

// Get retrieves the rating a user gave a movie.
func (r *RatingsRepository) Get(ctx context.Context, userID, movieID int64) (domain.Rating, error) {
	const query = `SELECT ` + ratingColumns + ` FROM ratings r WHERE r.user_id = $1 AND r.movie_id = $2`
	var rating domain.Rating
	err := r.pool.QueryRow(ctx, query, userID, movieID).Scan(
		&rating.ID,
		&rating.UserID,
		&rating.MovieID,
		&rating.Value,
		&rating.CreatedAt,
		&rating.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Rating{}, ErrNotFound
		}
		return domain.Rating{}, err
	}
	return rating, nil
}

// ListByUser returns every rating of a user with the rated movie joined.
func (r *RatingsRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Rating, error) {
	query := fmt.Sprintf(`
        SELECT %s, %s
        FROM ratings r
        JOIN movies m ON m.id = r.movie_id
        WHERE r.user_id = $1
        ORDER BY r.updated_at DESC, r.id DESC
    `, ratingColumns, movieColumnList("m"))

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := make([]domain.Rating, 0)
	for rows.Next() {
		var rating domain.Rating
		var m movieRow
		dest := append([]interface{}{
			&rating.ID,
			&rating.UserID,
			&rating.MovieID,
			&rating.Value,
			&rating.CreatedAt,
			&rating.UpdatedAt,
		}, m.targets()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		movie, err := m.finish()
		if err != nil {
			return nil, err
		}
		rating.Movie = &movie
		results = append(results, rating)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Delete removes the rating a user gave a movie.
func (r *RatingsRepository) Delete(ctx context.Context, userID, movieID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM ratings WHERE user_id = $1 AND movie_id = $2`, userID, movieID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
