package handlers

import (
	"errors"
	"net/http"

	"atelier/internal/domain"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (a *App) jsonError(w http.ResponseWriter, status int, code, message string) {
	a.json(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeError maps domain errors onto the API's error codes. Cross-tenant
// access reports access_denied without confirming whether the entity exists.
func (a *App) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var storageErr *domain.StorageError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.jsonError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, domain.ErrAccessDenied), errors.Is(err, domain.ErrTenantIsolation):
		a.jsonError(w, http.StatusForbidden, "access_denied", "access denied")
	case errors.Is(err, domain.ErrInsufficientCredit):
		a.jsonError(w, http.StatusPaymentRequired, "insufficient_credit", "credit balance is insufficient")
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrDuplicateOperation):
		a.jsonError(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, domain.ErrArtifactValidation), errors.Is(err, domain.ErrUnsafeStorageKey):
		a.jsonError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.As(err, &storageErr):
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("http: storage failure")
		a.jsonError(w, http.StatusBadGateway, "storage_error", "artifact storage is unavailable")
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("http: unhandled error")
		a.jsonError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}
