package httpserver

import (
	"net/http"
	"strings"

	"github.com/Clark-Hu/movie-catalog/internal/domain"
)

type listRequest struct {
	Type string `json:"type" validate:"required,oneof=FAVORITE WATCHLIST"`
}

func (s *Server) handleAddToList(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	movieID, err := idParam(r, "movieId")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	var req listRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.respondValidation(w, err)
		return
	}

	entry, err := s.deps.Lists.Add(r.Context(), claims.UserID, movieID, domain.ListType(req.Type))
	if err != nil {
		s.respondServiceError(w, r, err, "Failed to add movie to list")
		return
	}
	s.respondJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleGetList(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	listType, err := domain.ParseListType(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("type"))))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	entries, err := s.deps.Lists.GetList(r.Context(), claims.UserID, listType)
	if err != nil {
		s.respondServiceError(w, r, err, "Failed to fetch list")
		return
	}
	if entries == nil {
		entries = []domain.ListEntry{}
	}
	s.respondJSON(w, http.StatusOK, entries)
}

func (s *Server) handleRemoveFromList(w http.ResponseWriter, r *http.Request) {
	claims, _ := claimsFrom(r.Context())
	movieID, err := idParam(r, "movieId")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	listType, err := domain.ParseListType(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("type"))))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}

	msg, err := s.deps.Lists.Remove(r.Context(), claims.UserID, movieID, listType)
	if err != nil {
		s.respondServiceError(w, r, err, "Failed to remove movie from list")
		return
	}
	s.respondJSON(w, http.StatusOK, messageResponse{Message: msg})
}
