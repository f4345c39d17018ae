package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"
	apperrors "github.com/zatekoja/amrguard/pkg/errors"
)

// maxBodyBytes bounds request bodies; lab reports arrive base64 encoded
const maxBodyBytes = 20 << 20

func respondWithJSON(w http.ResponseWriter, statusCode int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	respondWithJSON(w, statusCode, map[string]string{
		"error": message,
	})
}

// respondWithAppError maps a typed error to its status. Internal errors are not echoed.
func respondWithAppError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
		respondWithError(w, status, "internal server error")
		return
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		respondWithJSON(w, status, map[string]string{"error": appErr.Message, "type": string(appErr.Type)})
		return
	}
	respondWithError(w, status, err.Error())
}

func statusFor(err error) int {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeValidation, apperrors.ErrorTypeInvalidConcentration:
		return http.StatusBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeUnreadableDocument:
		return http.StatusUnprocessableEntity
	case apperrors.ErrorTypeNoBackendAvailable, apperrors.ErrorTypeTransientBackend:
		return http.StatusServiceUnavailable
	case apperrors.ErrorTypeExternal:
		return http.StatusBadGateway
	case apperrors.ErrorTypeCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
