package httpserver

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/Clark-Hu/movie-catalog/internal/catalog"
	"github.com/Clark-Hu/movie-catalog/internal/config"
	"github.com/Clark-Hu/movie-catalog/internal/domain"
	"github.com/Clark-Hu/movie-catalog/internal/tmdb"
)

// HealthChecker reports database reachability and pool statistics.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
	Stats() *pgxpool.Stat
}

// MovieService is the catalog read and write path.
type MovieService interface {
	Filter(ctx context.Context, filter domain.MovieFilter) (domain.MoviePage, error)
	GetByID(ctx context.Context, id int64) (domain.Movie, error)
	FindAll(ctx context.Context) ([]domain.Movie, error)
	CreateOrUpdate(ctx context.Context, fields domain.MovieFields, images catalog.Images) (domain.Movie, error)
	Update(ctx context.Context, id int64, fields domain.MovieFields, images catalog.Images) (domain.Movie, error)
	Delete(ctx context.Context, id int64) (string, error)
}

// RatingService is the rating aggregator.
type RatingService interface {
	Rate(ctx context.Context, userID, movieID int64, value float64) (domain.RatingAggregate, error)
	GetMovieRating(ctx context.Context, movieID int64) (domain.RatingAggregate, error)
	GetUserRatings(ctx context.Context, userID int64) ([]domain.Rating, error)
	DeleteRating(ctx context.Context, userID, movieID int64) (domain.RatingAggregate, error)
}

// ListService manages per-user movie lists.
type ListService interface {
	Add(ctx context.Context, userID, movieID int64, listType domain.ListType) (domain.ListEntry, error)
	GetList(ctx context.Context, userID int64, listType domain.ListType) ([]domain.ListEntry, error)
	Remove(ctx context.Context, userID, movieID int64, listType domain.ListType) (string, error)
}

// Importer triggers a single upstream page import.
type Importer interface {
	ImportPage(ctx context.Context, page int) (tmdb.PageResult, error)
}

// Deps are the services the handlers dispatch to.
type Deps struct {
	Health   HealthChecker
	Movies   MovieService
	Ratings  RatingService
	Lists    ListService
	Importer Importer
}

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg      config.Config
	deps     Deps
	validate *validator.Validate
	logger   zerolog.Logger
	router   chi.Router
	httpSrv  *http.Server
}

// New constructs the HTTP server with base middleware and routes.
func New(cfg config.Config, deps Deps, logger zerolog.Logger) *Server {
	logger = logger.With().Str("component", "http").Logger()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("request")
	}))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))
	if cfg.RateLimitPerMin > 0 {
		r.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
	}

	s := &Server{
		cfg:      cfg,
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
		router:   r,
	}
	s.registerRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/movies", func(r chi.Router) {
			r.Get("/", s.handleFilterMovies)
			r.Get("/filter", s.handleFilterMovies)
			r.Get("/all", s.handleAllMovies)
			r.Get("/{id}", s.handleGetMovie)
			r.Group(func(r chi.Router) {
				r.Use(s.authenticate, s.requireRole(domain.RoleAdmin))
				r.Post("/", s.handleCreateMovie)
				r.Put("/{id}", s.handleUpdateMovie)
				r.Delete("/{id}", s.handleDeleteMovie)
			})
		})

		r.With(s.authenticate, s.requireRole(domain.RoleAdmin)).Post("/tmdb/import", s.handleImport)

		r.Route("/rating", func(r chi.Router) {
			r.Get("/mo/{movieId}", s.handleGetMovieRating)
			r.Group(func(r chi.Router) {
				r.Use(s.authenticate)
				r.Post("/{movieId}", s.handleRateMovie)
				r.Get("/us/{userId}", s.handleGetUserRatings)
				r.Delete("/{movieId}", s.handleDeleteRating)
			})
		})

		r.Route("/lists", func(r chi.Router) {
			r.Use(s.authenticate)
			r.Get("/", s.handleGetList)
			r.Post("/{movieId}", s.handleAddToList)
			r.Delete("/{movieId}", s.handleRemoveFromList)
		})
	})
}

// Start boots the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.httpSrv.Addr).Msg("http server listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

type healthResponse struct {
	Status    string `json:"status"`
	TotalConn int32  `json:"totalConns,omitempty"`
	IdleConn  int32  `json:"idleConns,omitempty"`
	InUseConn int32  `json:"inUseConns,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "store not initialized")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.deps.Health.HealthCheck(ctx); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("health check failed")
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", http.StatusText(http.StatusServiceUnavailable))
		return
	}

	resp := healthResponse{Status: "ok"}
	if stat := s.deps.Health.Stats(); stat != nil {
		resp.TotalConn = stat.TotalConns()
		resp.IdleConn = stat.IdleConns()
		resp.InUseConn = stat.AcquiredConns()
	}
	s.respondJSON(w, http.StatusOK, resp)
}
