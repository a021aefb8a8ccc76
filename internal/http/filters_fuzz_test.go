package httpserver

import (
	"errors"
	"net/url"
	"testing"

	"github.com/Clark-Hu/movie-catalog/internal/cache"
	"github.com/Clark-Hu/movie-catalog/internal/domain"
)

func FuzzBuildMovieFilter(f *testing.F) {
	seeds := []string{
		"title=Inception&genre=Action&year=2010",
		"year=abc",
		"limit=200&page=-3",
		"sortBy=rating&order=desc",
		"minPopularity=NaN",
		"",
	}
	for _, seed := range seeds {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, raw string) {
		values, err := url.ParseQuery(raw)
		if err != nil {
			return
		}
		filter, err := buildMovieFilter(values)
		if err != nil {
			if !errors.Is(err, domain.ErrInvalid) {
				t.Fatalf("parse errors must be ErrInvalid, got %v", err)
			}
			return
		}
		// Equal filters must always map to the same cache key.
		again, _ := buildMovieFilter(values)
		if cache.FilterKey(filter) != cache.FilterKey(again) {
			t.Fatalf("unstable cache key for %q", raw)
		}
	})
}
