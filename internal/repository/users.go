package repository

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/movie-catalog/internal/domain"
)

// UsersRepository exposes the small slice of the users table the catalog needs.
type UsersRepository struct {
	pool *pgxpool.Pool
}

// Create inserts a user; emails are stored lower-cased.
func (r *UsersRepository) Create(ctx context.Context, email string, role domain.Role) (domain.User, error) {
	const query = `
        INSERT INTO users (email, role) VALUES ($1, $2::user_role)
        RETURNING id, email, role::text, created_at
    `
	var user domain.User
	var roleText string
	err := r.pool.QueryRow(ctx, query, strings.ToLower(email), string(role)).Scan(&user.ID, &user.Email, &roleText, &user.CreatedAt)
	if err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return domain.User{}, ErrConflict
		}
		return domain.User{}, err
	}
	user.Role = domain.Role(roleText)
	return user, nil
}

// Exists reports whether a user row is present.
func (r *UsersRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, id).Scan(&exists)
	return exists, err
}

// Delete removes a user; ratings and list entries cascade.
func (r *UsersRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
