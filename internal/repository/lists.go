package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/movie-catalog/internal/domain"
)

// ListsRepository stores per-user list memberships.
type ListsRepository struct {
	pool *pgxpool.Pool
}

const listColumns = `l.id, l.user_id, l.movie_id, l.type::text, l.created_at`

// Get returns the membership for the exact (user, movie, type) triple.
func (r *ListsRepository) Get(ctx context.Context, userID, movieID int64, listType domain.ListType) (domain.ListEntry, error) {
	const query = `SELECT ` + listColumns + ` FROM user_movie_lists l
        WHERE l.user_id = $1 AND l.movie_id = $2 AND l.type = $3::list_type`
	entry, err := scanListEntry(r.pool.QueryRow(ctx, query, userID, movieID, string(listType)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ListEntry{}, ErrNotFound
		}
		return domain.ListEntry{}, err
	}
	return entry, nil
}

// Insert adds a membership. A duplicate triple yields ErrConflict.
func (r *ListsRepository) Insert(ctx context.Context, userID, movieID int64, listType domain.ListType) (domain.ListEntry, error) {
	const query = `
        INSERT INTO user_movie_lists AS l (user_id, movie_id, type)
        VALUES ($1,$2,$3::list_type)
        RETURNING ` + listColumns
	entry, err := scanListEntry(r.pool.QueryRow(ctx, query, userID, movieID, string(listType)))
	if err != nil {
		switch pgErrorCode(err) {
		case pgUniqueViolation:
			return domain.ListEntry{}, fmt.Errorf("movie already in %s: %w", listType, ErrConflict)
		case pgForeignKeyViolation:
			return domain.ListEntry{}, ErrNotFound
		}
		return domain.ListEntry{}, err
	}
	return entry, nil
}

// ListByUserAndType returns a user's list, newest first, with movies joined.
func (r *ListsRepository) ListByUserAndType(ctx context.Context, userID int64, listType domain.ListType) ([]domain.ListEntry, error) {
	query := fmt.Sprintf(`
        SELECT %s, %s
        FROM user_movie_lists l
        JOIN movies m ON m.id = l.movie_id
        WHERE l.user_id = $1 AND l.type = $2::list_type
        ORDER BY l.created_at DESC, l.id DESC
    `, listColumns, movieColumnList("m"))

	rows, err := r.pool.Query(ctx, query, userID, string(listType))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.ListEntry, 0)
	for rows.Next() {
		var entry domain.ListEntry
		var kind string
		var m movieRow
		dest := append([]interface{}{&entry.ID, &entry.UserID, &entry.MovieID, &kind, &entry.CreatedAt}, m.targets()...)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		movie, err := m.finish()
		if err != nil {
			return nil, err
		}
		entry.Type = domain.ListType(kind)
		entry.Movie = &movie
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Delete removes the membership for the triple.
func (r *ListsRepository) Delete(ctx context.Context, userID, movieID int64, listType domain.ListType) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_movie_lists WHERE user_id = $1 AND movie_id = $2 AND type = $3::list_type`,
		userID, movieID, string(listType))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanListEntry(row pgx.Row) (domain.ListEntry, error) {
	var entry domain.ListEntry
	var kind string
	if err := row.Scan(&entry.ID, &entry.UserID, &entry.MovieID, &kind, &entry.CreatedAt); err != nil {
		return domain.ListEntry{}, err
	}
	entry.Type = domain.ListType(kind)
	return entry, nil
}
