package cache

import (
	"strconv"

	"github.com/goccy/go-json"

	"github.com/Clark-Hu/movie-catalog/internal/domain"
)

const (
	// AllMoviesKey holds the unfiltered findAll listing.
	AllMoviesKey = "movies:all"
	// CollectionTag is attached to every filtered listing entry.
	CollectionTag = "collection:movies"

	movieKeyPrefix      = "movie:"
	filterKeyPrefix     = "movies:"
	importPageKeyPrefix = "popular_movies_page_"
)

// MovieKey is the key of a single movie document.
func MovieKey(id int64) string {
	return movieKeyPrefix + strconv.FormatInt(id, 10)
}

// FilterKey derives the key of a filtered listing. Equal filters yield equal
// keys: fields are encoded in declaration order and unset fields are left out,
// so the empty filter maps to "movies:{}".
func FilterKey(filter domain.MovieFilter) string {
	payload, err := json.Marshal(filter)
	if err != nil {
		// Only non-finite floats fail to encode and Validate rejects those.
		return filterKeyPrefix + "{}"
	}
	return filterKeyPrefix + string(payload)
}

// ImportPageKey is the key of an import result for one upstream page.
func ImportPageKey(page int) string {
	return importPageKeyPrefix + strconv.Itoa(page)
}
