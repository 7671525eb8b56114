package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/renewkit/renewkit/internal/subscription"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// respondError maps the domain error taxonomy onto HTTP statuses.
// Validation reasons are surfaced verbatim so the caller learns why the
// change was rejected, not just that it was.
func respondError(w http.ResponseWriter, err error) {
	switch {
	case subscription.IsValidationError(err):
		respondJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
	case subscription.IsNotFoundError(err):
		respondJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case subscription.IsConflictError(err):
		respondJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case subscription.IsExternalError(err):
		respondJSON(w, http.StatusBadGateway, errorResponse{Error: "payment processor unavailable, try again later"})
	default:
		respondJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(subscription.NewValidationError("invalid request body"), err)
	}
	return nil
}
