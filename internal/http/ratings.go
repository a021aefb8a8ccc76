package httpserver

import (
	"net/http"

	"github.com/Clark-Hu/movie-catalog/internal/domain"
)

type ratingRequest struct {
	Value *float64 `json:"value" validate:"required,gte=0,lte=10"`
}

func (s *Server) handleRateMovie(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	movieID, err := idParam(r, "movieId")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	var req ratingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondValidation(w, err)
		return
	}

	agg, err := s.deps.Ratings.Rate(r.Context(), claims.UserID, movieID, *req.Value)
	if err != nil {
		s.respondServiceError(w, r, err, "Failed to process rating")
		return
	}
	s.respondJSON(w, http.StatusOK, agg)
}

func (s *Server) handleGetMovieRating(w http.ResponseWriter, r *http.Request) {
	movieID, err := idParam(r, "movieId")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	agg, err := s.deps.Ratings.GetMovieRating(r.Context(), movieID)
	if err != nil {
		s.respondServiceError(w, r, err, "Failed to fetch rating")
		return
	}
	s.respondJSON(w, http.StatusOK, agg)
}

// handleGetUserRatings serves a user's own ratings; admins may read anyone's.
func (s *Server) handleGetUserRatings(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	userID, err := idParam(r, "userId")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	if userID != claims.UserID && claims.Role != domain.RoleAdmin {
		s.respondError(w, http.StatusForbidden, "FORBIDDEN", "Cannot read another user's ratings")
		return
	}

	ratings, err := s.deps.Ratings.GetUserRatings(r.Context(), userID)
	if err != nil {
		s.respondServiceError(w, r, err, "Failed to fetch ratings")
		return
	}
	s.respondJSON(w, http.StatusOK, ratings)
}

func (s *Server) handleDeleteRating(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	movieID, err := idParam(r, "movieId")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	agg, err := s.deps.Ratings.DeleteRating(r.Context(), claims.UserID, movieID)
	if err != nil {
		s.respondServiceError(w, r, err, "Failed to delete rating")
		return
	}
	s.respondJSON(w, http.StatusOK, agg)
}
