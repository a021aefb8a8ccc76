package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Clark-Hu/movie-catalog/internal/domain"
)

// MoviesRepository provides persistence helpers for movie entities.
type MoviesRepository struct {
	pool *pgxpool.Pool
}

var movieColumns = movieColumnList("")

// sortColumns maps MovieFilter.SortBy onto columns; anything else is rejected
// before it reaches SQL.
var sortColumns = map[string]string{
	domain.SortPopularity:  "popularity",
	domain.SortReleaseDate: "release_date",
	domain.SortTitle:       "title",
	domain.SortRating:      "rating",
}

func movieColumnList(alias string) string {
	p := ""
	if alias != "" {
		p = alias + "."
	}
	cols := []string{
		p + "id",
		p + "tmdb_id",
		p + "title",
		p + "overview",
		p + "poster_path",
		p + "backdrop_path",
		p + "release_date",
		p + "vote_average",
		p + "vote_count",
		p + "popularity",
		p + "adult",
		p + "rating",
		p + "rating_count",
		p + "genre::text",
		p + "created_at",
		p + "updated_at",
	}
	return strings.Join(cols, ", ")
}

// FindByID fetches a movie by its identifier.
func (r *MoviesRepository) FindByID(ctx context.Context, id int64) (domain.Movie, error) {
	query := fmt.Sprintf(`SELECT %s FROM movies WHERE id = $1`, movieColumns)
	return r.queryOne(ctx, query, id)
}

// FindByExternalID fetches a movie by its TMDB id.
func (r *MoviesRepository) FindByExternalID(ctx context.Context, externalID int64) (domain.Movie, error) {
	query := fmt.Sprintf(`SELECT %s FROM movies WHERE tmdb_id = $1`, movieColumns)
	return r.queryOne(ctx, query, externalID)
}

// FindAll returns every movie ordered by id.
func (r *MoviesRepository) FindAll(ctx context.Context) ([]domain.Movie, error) {
	query := fmt.Sprintf(`SELECT %s FROM movies ORDER BY id`, movieColumns)
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMovies(rows)
}

// FindMany returns one page of movies matching the filter together with the
// total number of matching rows.
func (r *MoviesRepository) FindMany(ctx context.Context, filter domain.MovieFilter) ([]domain.Movie, int64, error) {
	where := make([]string, 0)
	args := make([]interface{}, 0)
	arg := func(value interface{}) string {
		args = append(args, value)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.Title != nil && *filter.Title != "" {
		where = append(where, fmt.Sprintf("title ILIKE %s", arg("%"+escapeLike(*filter.Title)+"%")))
	}
	// Popularity bounds are exclusive on both sides.
	if filter.MinPopularity != nil && *filter.MinPopularity != 0 {
		where = append(where, fmt.Sprintf("popularity > %s", arg(*filter.MinPopularity)))
	}
	if filter.MaxPopularity != nil && *filter.MaxPopularity != 0 {
		where = append(where, fmt.Sprintf("popularity < %s", arg(*filter.MaxPopularity)))
	}
	if filter.Year != nil && *filter.Year != 0 {
		where = append(where, fmt.Sprintf("release_date LIKE %s", arg(fmt.Sprintf("%d%%", *filter.Year))))
	}
	if filter.Genre != nil && *filter.Genre != "" {
		where = append(where, fmt.Sprintf("genre = %s::genre", arg(string(*filter.Genre))))
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM movies"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count movies: %w", err)
	}

	queryBuilder := strings.Builder{}
	queryBuilder.WriteString("SELECT ")
	queryBuilder.WriteString(movieColumns)
	queryBuilder.WriteString(" FROM movies")
	queryBuilder.WriteString(whereClause)

	if filter.SortBy != nil {
		column, ok := sortColumns[*filter.SortBy]
		if !ok {
			return nil, 0, fmt.Errorf("sort by %q: %w", *filter.SortBy, domain.ErrInvalid)
		}
		direction := "DESC"
		if filter.OrderOrDefault() == domain.OrderAsc {
			direction = "ASC"
		}
		queryBuilder.WriteString(fmt.Sprintf(" ORDER BY %s %s, id ASC", column, direction))
	} else {
		// Unsorted listings still need a stable order for OFFSET paging.
		queryBuilder.WriteString(" ORDER BY id ASC")
	}
	queryBuilder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", filter.LimitOrDefault(), filter.Skip()))

	rows, err := r.pool.Query(ctx, queryBuilder.String(), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items, err := collectMovies(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// Insert stores a new movie row and returns the stored entity.
func (r *MoviesRepository) Insert(ctx context.Context, movie domain.Movie) (domain.Movie, error) {
	poster, backdrop, err := marshalImages(movie)
	if err != nil {
		return domain.Movie{}, err
	}

	query := fmt.Sprintf(`
        INSERT INTO movies (tmdb_id, title, overview, poster_path, backdrop_path, release_date,
                            vote_average, vote_count, popularity, adult, genre)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::genre)
        RETURNING %s
    `, movieColumns)

	row := r.pool.QueryRow(ctx, query, movie.ExternalID, movie.Title, movie.Overview, poster, backdrop,
		movie.ReleaseDate, movie.VoteAverage, movie.VoteCount, movie.Popularity, movie.Adult, genreArg(movie.Genre))
	created, err := scanMovie(row)
	if err != nil {
		if pgErrorCode(err) == pgUniqueViolation {
			return domain.Movie{}, fmt.Errorf("tmdb id already stored: %w", ErrConflict)
		}
		return domain.Movie{}, err
	}
	return created, nil
}

// Save persists the writable metadata of an existing movie. The rating
// aggregate columns are deliberately not part of this statement.
func (r *MoviesRepository) Save(ctx context.Context, movie domain.Movie) (domain.Movie, error) {
	poster, backdrop, err := marshalImages(movie)
	if err != nil {
		return domain.Movie{}, err
	}

	query := fmt.Sprintf(`
        UPDATE movies
        SET tmdb_id = $2,
            title = $3,
            overview = $4,
            poster_path = $5,
            backdrop_path = $6,
            release_date = $7,
            vote_average = $8,
            vote_count = $9,
            popularity = $10,
            adult = $11,
            genre = $12::genre,
            updated_at = now()
        WHERE id = $1
        RETURNING %s
    `, movieColumns)

	return r.queryOne(ctx, query, movie.ID, movie.ExternalID, movie.Title, movie.Overview, poster, backdrop,
		movie.ReleaseDate, movie.VoteAverage, movie.VoteCount, movie.Popularity, movie.Adult, genreArg(movie.Genre))
}

// SetRating persists the aggregate computed from the ratings table.
func (r *MoviesRepository) SetRating(ctx context.Context, id int64, agg domain.RatingAggregate) error {
	const query = `UPDATE movies SET rating = $2, rating_count = $3, updated_at = now() WHERE id = $1`
	tag, err := r.pool.Exec(ctx, query, id, agg.Average, agg.Count)
	if err != nil {
		return fmt.Errorf("persist rating aggregate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a movie; ratings and list entries cascade.
func (r *MoviesRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM movies WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MoviesRepository) queryOne(ctx context.Context, query string, args ...interface{}) (domain.Movie, error) {
	movie, err := scanMovie(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Movie{}, ErrNotFound
		}
		return domain.Movie{}, err
	}
	return movie, nil
}

// movieRow buffers the columns that need decoding after Scan.
type movieRow struct {
	movie    domain.Movie
	genre    *string
	poster   []byte
	backdrop []byte
}

func (m *movieRow) targets() []interface{} {
	return []interface{}{
		&m.movie.ID,
		&m.movie.ExternalID,
		&m.movie.Title,
		&m.movie.Overview,
		&m.poster,
		&m.backdrop,
		&m.movie.ReleaseDate,
		&m.movie.VoteAverage,
		&m.movie.VoteCount,
		&m.movie.Popularity,
		&m.movie.Adult,
		&m.movie.Rating,
		&m.movie.RatingCount,
		&m.genre,
		&m.movie.CreatedAt,
		&m.movie.UpdatedAt,
	}
}

func (m *movieRow) finish() (domain.Movie, error) {
	movie := m.movie
	if m.genre != nil {
		g := domain.Genre(*m.genre)
		movie.Genre = &g
	}
	if len(m.poster) > 0 {
		if err := json.Unmarshal(m.poster, &movie.PosterPath); err != nil {
			return domain.Movie{}, fmt.Errorf("decode poster_path: %w", err)
		}
	}
	if len(m.backdrop) > 0 {
		if err := json.Unmarshal(m.backdrop, &movie.BackdropPath); err != nil {
			return domain.Movie{}, fmt.Errorf("decode backdrop_path: %w", err)
		}
	}
	return movie, nil
}

func scanMovie(row pgx.Row) (domain.Movie, error) {
	var m movieRow
	if err := row.Scan(m.targets()...); err != nil {
		return domain.Movie{}, err
	}
	return m.finish()
}

func collectMovies(rows pgx.Rows) ([]domain.Movie, error) {
	items := make([]domain.Movie, 0)
	for rows.Next() {
		movie, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, movie)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func marshalImages(movie domain.Movie) ([]byte, []byte, error) {
	poster, err := json.Marshal(movie.PosterPath)
	if err != nil {
		return nil, nil, fmt.Errorf("encode poster_path: %w", err)
	}
	backdrop, err := json.Marshal(movie.BackdropPath)
	if err != nil {
		return nil, nil, fmt.Errorf("encode backdrop_path: %w", err)
	}
	return poster, backdrop, nil
}

func genreArg(g *domain.Genre) *string {
	if g == nil {
		return nil
	}
	s := string(*g)
	return &s
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
