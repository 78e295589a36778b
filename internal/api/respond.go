package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	apperrors "github.com/rcourtman/subtracker/internal/errors"
	"github.com/rcourtman/subtracker/internal/logging"
)

// errorResponse is the JSON body of every failed API request.
type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("Failed to encode API response")
	}
}

func writeErrorMessage(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: logging.RequestID(r.Context())})
}

// writeError maps err to a status code. Internal failures are logged and
// reported to the client with a generic message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{RequestID: logging.RequestID(r.Context())}
	status := http.StatusInternalServerError

	if v, ok := apperrors.AsValidation(err); ok {
		resp.Error = v.Message
		resp.Field = v.Field
		writeJSON(w, http.StatusBadRequest, resp)
		return
	}

	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		status, resp.Error = http.StatusNotFound, "not found"
	case errors.Is(err, apperrors.ErrConflict):
		status, resp.Error = http.StatusConflict, "already exists"
	case errors.Is(err, apperrors.ErrUnauthorized):
		status, resp.Error = http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperrors.ErrForbidden):
		status, resp.Error = http.StatusForbidden, "forbidden"
	case errors.Is(err, apperrors.ErrEntitlementRequired):
		status, resp.Error = http.StatusPaymentRequired, "premium access required"
	case errors.Is(err, apperrors.ErrInvalidInput):
		status, resp.Error = http.StatusBadRequest, "invalid input"
	case errors.Is(err, apperrors.ErrRateUnavailable):
		status, resp.Error = http.StatusServiceUnavailable, "exchange rates unavailable"
	case errors.Is(err, apperrors.ErrProvisioningFailed), errors.Is(err, apperrors.ErrVerificationFailed):
		status, resp.Error = http.StatusServiceUnavailable, "account setup failed, please retry"
	default:
		resp.Error = "internal error"
	}

	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).Error().Err(err).
			Str("path", r.URL.Path).
			Int("status", status).
			Msg("API request failed")
	}
	writeJSON(w, status, resp)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeErrorMessage(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return apperrors.Invalid("body", "invalid JSON body: %v", err)
	}
	return nil
}

const maxBodyBytes = 64 << 10
