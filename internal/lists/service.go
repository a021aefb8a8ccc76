// Package lists manages per-user FAVORITE and WATCHLIST memberships.
package lists

import (
	"context"
	"errors"
	"fmt"

	"github.com/Clark-Hu/movie-catalog/internal/domain"
)

// Store persists memberships.
type Store interface {
	Insert(ctx context.Context, userID, movieID int64, listType domain.ListType) (domain.ListEntry, error)
	ListByUserAndType(ctx context.Context, userID int64, listType domain.ListType) ([]domain.ListEntry, error)
	Delete(ctx context.Context, userID, movieID int64, listType domain.ListType) error
}

// MovieReader resolves the movie being added.
type MovieReader interface {
	GetByID(ctx context.Context, id int64) (domain.Movie, error)
}

// Service implements the list operations.
type Service struct {
	store  Store
	movies MovieReader
}

func NewService(store Store, movies MovieReader) *Service {
	return &Service{store: store, movies: movies}
}

// Add puts a movie on one of the user's lists. Adding the same movie twice
// to the same list is a conflict.
func (s *Service) Add(ctx context.Context, userID, movieID int64, listType domain.ListType) (domain.ListEntry, error) {
	movie, err := s.movies.GetByID(ctx, movieID)
	if err != nil {
		return domain.ListEntry{}, err
	}
	entry, err := s.store.Insert(ctx, userID, movieID, listType)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ListEntry{}, fmt.Errorf("movie %d or user %d: %w", movieID, userID, domain.ErrNotFound)
		}
		return domain.ListEntry{}, err
	}
	entry.Movie = &movie
	return entry, nil
}

// GetList returns the list newest first.
func (s *Service) GetList(ctx context.Context, userID int64, listType domain.ListType) ([]domain.ListEntry, error) {
	return s.store.ListByUserAndType(ctx, userID, listType)
}

// Remove deletes a membership and reports which list it left.
func (s *Service) Remove(ctx context.Context, userID, movieID int64, listType domain.ListType) (string, error) {
	if err := s.store.Delete(ctx, userID, movieID, listType); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return "", fmt.Errorf("movie not found in %s: %w", listType, domain.ErrNotFound)
		}
		return "", err
	}
	return fmt.Sprintf("Movie removed from %s", listType), nil
}
