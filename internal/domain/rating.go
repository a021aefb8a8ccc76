package domain

import "time"

const (
	MinRatingValue = 0
	MaxRatingValue = 10
)

// Rating represents a single user's rating for a movie.
type Rating struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	MovieID   int64     `json:"movieId"`
	Value     float64   `json:"value"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Movie     *Movie    `json:"movie,omitempty"`
}

// RatingAggregate provides average and count for a movie's ratings.
type RatingAggregate struct {
	Average float64 `json:"averageRating"`
	Count   int64   `json:"ratingCount"`
}
