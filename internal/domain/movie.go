package domain

import (
	"fmt"
	"time"
)

// Genre is the fixed catalog genre enumeration.
type Genre string

const (
	GenreAction Genre = "Action"
	GenreComedy Genre = "Comedy"
	GenreHorror Genre = "Horror"
	GenreDrama  Genre = "Drama"
)

// FallbackGenre is used when an imported record has no resolvable genre.
const FallbackGenre = GenreAction

// Genres lists every supported genre.
var Genres = []Genre{GenreAction, GenreComedy, GenreHorror, GenreDrama}

// ParseGenre validates a raw genre name.
func ParseGenre(raw string) (Genre, error) {
	for _, g := range Genres {
		if string(g) == raw {
			return g, nil
		}
	}
	return "", fmt.Errorf("unknown genre %q: %w", raw, ErrInvalid)
}

// ImageRef points at an image hosted by the asset store. AssetID is empty for
// images referenced by URL only (imported posters).
type ImageRef struct {
	URL     string `json:"secure_url"`
	AssetID string `json:"public_id"`
}

// Empty reports whether the reference carries neither a URL nor an asset id.
func (r ImageRef) Empty() bool {
	return r.URL == "" && r.AssetID == ""
}

// Movie represents the canonical movie entity in the database/service.
// Rating and RatingCount are owned by the rating aggregator.
type Movie struct {
	ID           int64     `json:"id"`
	ExternalID   *int64    `json:"tmdbId,omitempty"`
	Title        string    `json:"title"`
	Overview     string    `json:"overview"`
	PosterPath   ImageRef  `json:"posterPath"`
	BackdropPath ImageRef  `json:"backdropPath"`
	ReleaseDate  string    `json:"releaseDate"`
	VoteAverage  float64   `json:"voteAverage"`
	VoteCount    int64     `json:"voteCount"`
	Popularity   float64   `json:"popularity"`
	Adult        bool      `json:"adult"`
	Rating       float64   `json:"rating"`
	RatingCount  int64     `json:"ratingCount"`
	Genre        *Genre    `json:"genre"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// MovieFields carries the writable metadata of a movie. Nil pointers leave the
// stored value untouched on update.
type MovieFields struct {
	ExternalID  *int64
	Title       *string
	Overview    *string
	ReleaseDate *string
	VoteAverage *float64
	VoteCount   *int64
	Popularity  *float64
	Adult       *bool
	Genre       *Genre

	PosterPath   *ImageRef
	BackdropPath *ImageRef
}

// Apply merges the non-nil fields onto movie.
func (f MovieFields) Apply(movie *Movie) {
	if f.ExternalID != nil {
		id := *f.ExternalID
		movie.ExternalID = &id
	}
	if f.Title != nil {
		movie.Title = *f.Title
	}
	if f.Overview != nil {
		movie.Overview = *f.Overview
	}
	if f.ReleaseDate != nil {
		movie.ReleaseDate = *f.ReleaseDate
	}
	if f.VoteAverage != nil {
		movie.VoteAverage = *f.VoteAverage
	}
	if f.VoteCount != nil {
		movie.VoteCount = *f.VoteCount
	}
	if f.Popularity != nil {
		movie.Popularity = *f.Popularity
	}
	if f.Adult != nil {
		movie.Adult = *f.Adult
	}
	if f.Genre != nil {
		g := *f.Genre
		movie.Genre = &g
	}
	if f.PosterPath != nil {
		movie.PosterPath = *f.PosterPath
	}
	if f.BackdropPath != nil {
		movie.BackdropPath = *f.BackdropPath
	}
}

// MoviePage is the cached result of a filtered listing.
type MoviePage struct {
	Data  []Movie `json:"data"`
	Total int64   `json:"total"`
	Page  int     `json:"page"`
	Limit int     `json:"limit"`
}
