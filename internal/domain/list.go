package domain

import (
	"fmt"
	"time"
)

// ListType names a per-user movie list.
type ListType string

const (
	ListFavorite  ListType = "FAVORITE"
	ListWatchlist ListType = "WATCHLIST"
)

// ParseListType validates a raw list type.
func ParseListType(raw string) (ListType, error) {
	switch ListType(raw) {
	case ListFavorite, ListWatchlist:
		return ListType(raw), nil
	}
	return "", fmt.Errorf("unknown list type %q: %w", raw, ErrInvalid)
}

// ListEntry is one (user, movie, list type) membership.
type ListEntry struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"userId"`
	MovieID   int64     `json:"movieId"`
	Type      ListType  `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	Movie     *Movie    `json:"movie,omitempty"`
}

// Role is the authorization class of a user.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is the owner of ratings and list entries.
type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}
