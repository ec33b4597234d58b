package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/isdelr/ender-blog-be/internal/services"
	"github.com/rs/zerolog/log"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

const (
	detailNotFound  = "Not found."
	detailForbidden = "You do not have permission to perform this action."
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func respondDetail(w http.ResponseWriter, status int, detail string) {
	respondJSON(w, status, map[string]string{"detail": detail})
}

// decodeBody reads a JSON request body into dst. An empty body leaves dst zeroed
// so that field validation reports what is missing.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		respondDetail(w, http.StatusRequestEntityTooLarge, "Request body too large")
		return false
	}
	respondDetail(w, http.StatusBadRequest, "JSON parse error - "+err.Error())
	return false
}

// pathID parses the {id} URL parameter. Anything but a positive integer is a 404.
func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		respondDetail(w, http.StatusNotFound, detailNotFound)
		return 0, false
	}
	return id, true
}

// respondServiceError maps service errors onto status codes. Unexpected errors are
// logged and reported without their cause.
func respondServiceError(w http.ResponseWriter, err error, action string) {
	var verr *services.ValidationError
	switch {
	case errors.As(err, &verr):
		respondJSON(w, http.StatusBadRequest, verr.Fields)
	case errors.Is(err, services.ErrNotFound):
		respondDetail(w, http.StatusNotFound, detailNotFound)
	default:
		log.Error().Err(err).Str("action", action).Msg("Request failed")
		respondDetail(w, http.StatusInternalServerError, "Failed to "+action)
	}
}
