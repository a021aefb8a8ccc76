package httpserver

import (
	"errors"
	"fmt"
	"io"
	"math"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/Clark-Hu/movie-catalog/internal/assets"
	"github.com/Clark-Hu/movie-catalog/internal/catalog"
	"github.com/Clark-Hu/movie-catalog/internal/domain"
)

const (
	maxUploadBody   = 20 << 20
	maxUploadMemory = 8 << 20
	maxImageBytes   = 10 << 20

	posterField   = "posterImage"
	backdropField = "backdropImage"
)

// movieForm is the writable movie payload, sent either as multipart form
// fields (alongside the images) or as a JSON body.
type movieForm struct {
	TmdbID      *int64   `json:"tmdbId" validate:"omitempty,gt=0"`
	Title       *string  `json:"title" validate:"omitempty,min=1,max=255"`
	Overview    *string  `json:"overview" validate:"omitempty,max=5000"`
	ReleaseDate *string  `json:"releaseDate" validate:"omitempty,datetime=2006-01-02"`
	VoteAverage *float64 `json:"voteAverage" validate:"omitempty,gte=0,lte=10"`
	VoteCount   *int64   `json:"voteCount" validate:"omitempty,gte=0"`
	Popularity  *float64 `json:"popularity" validate:"omitempty,gte=0"`
	Adult       *bool    `json:"adult"`
	Genre       *string  `json:"genre" validate:"omitempty,oneof=Action Comedy Horror Drama"`
}

func (f movieForm) fields() domain.MovieFields {
	fields := domain.MovieFields{
		ExternalID:  f.TmdbID,
		Title:       f.Title,
		Overview:    f.Overview,
		ReleaseDate: f.ReleaseDate,
		VoteAverage: f.VoteAverage,
		VoteCount:   f.VoteCount,
		Popularity:  f.Popularity,
		Adult:       f.Adult,
	}
	if f.Genre != nil {
		g := domain.Genre(*f.Genre)
		fields.Genre = &g
	}
	return fields
}

func (s *Server) handleFilterMovies(w http.ResponseWriter, r *http.Request) {
	filter, err := buildMovieFilter(r.URL.Query())
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	page, err := s.deps.Movies.Filter(r.Context(), filter)
	if err != nil {
		s.respondServiceError(w, r, err, "Failed to list movies")
		return
	}
	s.respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleAllMovies(w http.ResponseWriter, r *http.Request) {
	movies, err := s.deps.Movies.FindAll(r.Context())
	if err != nil {
		s.respondServiceError(w, r, err, "Failed to list movies")
		return
	}
	if movies == nil {
		movies = []domain.Movie{}
	}
	s.respondJSON(w, http.StatusOK, movies)
}

func (s *Server) handleGetMovie(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	movie, err := s.deps.Movies.GetByID(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err, "Failed to fetch movie")
		return
	}
	s.respondJSON(w, http.StatusOK, movie)
}

func (s *Server) handleCreateMovie(w http.ResponseWriter, r *http.Request) {
	form, images, ok := s.readMovieRequest(w, r)
	if !ok {
		return
	}
	if form.TmdbID == nil || form.Title == nil || form.Genre == nil {
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "tmdbId, title and genre are required")
		return
	}

	movie, err := s.deps.Movies.CreateOrUpdate(r.Context(), form.fields(), images)
	if err != nil {
		s.respondServiceError(w, r, err, "Failed to save movie")
		return
	}
	w.Header().Set("Location", fmt.Sprintf("/api/movies/%d", movie.ID))
	s.respondJSON(w, http.StatusCreated, movie)
}

func (s *Server) handleUpdateMovie(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	form, images, ok := s.readMovieRequest(w, r)
	if !ok {
		return
	}

	movie, err := s.deps.Movies.Update(r.Context(), id, form.fields(), images)
	if err != nil {
		s.respondServiceError(w, r, err, "Failed to update movie")
		return
	}
	s.respondJSON(w, http.StatusOK, movie)
}

func (s *Server) handleDeleteMovie(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	msg, err := s.deps.Movies.Delete(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err, "Failed to delete movie")
		return
	}
	s.respondJSON(w, http.StatusOK, messageResponse{Message: msg})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	page := 1
	if raw := strings.TrimSpace(r.URL.Query().Get("page")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "page must be a positive integer")
			return
		}
		page = parsed
	}

	result, err := s.deps.Importer.ImportPage(r.Context(), page)
	if err != nil {
		s.respondServiceError(w, r, err, "Failed to import movies")
		return
	}
	s.respondJSON(w, http.StatusOK, result)
}

// readMovieRequest decodes and validates a movie write. It writes the error
// response itself and reports false when the request was rejected.
func (s *Server) readMovieRequest(w http.ResponseWriter, r *http.Request) (movieForm, catalog.Images, bool) {
	var (
		form   movieForm
		images catalog.Images
	)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "multipart/form-data" {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)
		if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
			s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "Unable to parse multipart body")
			return form, images, false
		}
		defer func() { _ = r.MultipartForm.RemoveAll() }()

		var err error
		if form, err = formFromValues(r.MultipartForm.Value); err != nil {
			s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
			return form, images, false
		}
		if images.Poster, err = readImage(r, posterField); err != nil {
			s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
			return form, images, false
		}
		if images.Backdrop, err = readImage(r, backdropField); err != nil {
			s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
			return form, images, false
		}
	} else if err := decodeJSONBody(w, r, &form); err != nil {
		s.respondDecodeError(w, err)
		return form, images, false
	}

	if err := s.validate.Struct(form); err != nil {
		s.respondValidation(w, err)
		return form, images, false
	}
	return form, images, true
}

func readImage(r *http.Request, field string) (*assets.File, error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("invalid %s upload", field)
	}
	defer file.Close()

	content, err := io.ReadAll(io.LimitReader(file, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read %s upload: %w", field, err)
	}
	if len(content) > maxImageBytes {
		return nil, fmt.Errorf("%s exceeds %d bytes", field, maxImageBytes)
	}
	if len(content) == 0 {
		return nil, fmt.Errorf("%s is empty", field)
	}
	return &assets.File{Name: header.Filename, Content: content}, nil
}

// formFromValues reads movie fields from form values. Blank values are
// treated as absent.
func formFromValues(values url.Values) (movieForm, error) {
	var form movieForm
	get := func(key string) (string, bool) {
		val := strings.TrimSpace(values.Get(key))
		return val, val != ""
	}

	if val, ok := get("tmdbId"); ok {
		id, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return form, fmt.Errorf("invalid tmdbId value")
		}
		form.TmdbID = &id
	}
	if val, ok := get("title"); ok {
		form.Title = &val
	}
	if val, ok := get("overview"); ok {
		form.Overview = &val
	}
	if val, ok := get("releaseDate"); ok {
		form.ReleaseDate = &val
	}
	if val, ok := get("voteAverage"); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return form, fmt.Errorf("invalid voteAverage value")
		}
		form.VoteAverage = &f
	}
	if val, ok := get("voteCount"); ok {
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return form, fmt.Errorf("invalid voteCount value")
		}
		form.VoteCount = &n
	}
	if val, ok := get("popularity"); ok {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return form, fmt.Errorf("invalid popularity value")
		}
		form.Popularity = &f
	}
	if val, ok := get("adult"); ok {
		b, err := strconv.ParseBool(val)
		if err != nil {
			return form, fmt.Errorf("invalid adult value")
		}
		form.Adult = &b
	}
	if val, ok := get("genre"); ok {
		form.Genre = &val
	}
	return form, nil
}

// buildMovieFilter reads the filter/sort/pagination query parameters.
// Parse failures wrap domain.ErrInvalid; range checks are left to
// MovieFilter.Validate.
func buildMovieFilter(query url.Values) (domain.MovieFilter, error) {
	var filter domain.MovieFilter

	if val := strings.TrimSpace(query.Get("title")); val != "" {
		filter.Title = &val
	}
	if val := strings.TrimSpace(query.Get("minPopularity")); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return filter, fmt.Errorf("invalid minPopularity value: %w", domain.ErrInvalid)
		}
		filter.MinPopularity = &f
	}
	if val := strings.TrimSpace(query.Get("maxPopularity")); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return filter, fmt.Errorf("invalid maxPopularity value: %w", domain.ErrInvalid)
		}
		filter.MaxPopularity = &f
	}
	if val := strings.TrimSpace(query.Get("year")); val != "" {
		year, err := strconv.Atoi(val)
		if err != nil || year < 0 || year > 9999 {
			return filter, fmt.Errorf("invalid year value: %w", domain.ErrInvalid)
		}
		filter.Year = &year
	}
	if val := strings.TrimSpace(query.Get("genre")); val != "" {
		genre, err := domain.ParseGenre(val)
		if err != nil {
			return filter, err
		}
		filter.Genre = &genre
	}
	if val := strings.TrimSpace(query.Get("sortBy")); val != "" {
		filter.SortBy = &val
	}
	if val := strings.TrimSpace(query.Get("order")); val != "" {
		order := strings.ToUpper(val)
		filter.Order = &order
	}
	if val := strings.TrimSpace(query.Get("page")); val != "" {
		page, err := strconv.Atoi(val)
		if err != nil {
			return filter, fmt.Errorf("invalid page value: %w", domain.ErrInvalid)
		}
		filter.Page = &page
	}
	if val := strings.TrimSpace(query.Get("limit")); val != "" {
		limit, err := strconv.Atoi(val)
		if err != nil {
			return filter, fmt.Errorf("invalid limit value: %w", domain.ErrInvalid)
		}
		filter.Limit = &limit
	}
	return filter, nil
}
