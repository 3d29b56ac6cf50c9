package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/askdb-io/askdb-engine/pkg/apperrors"
)

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// ErrorResponse writes the error shape {"message": "<ErrorKind>: <detail>"}.
func ErrorResponse(w http.ResponseWriter, statusCode int, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{"message": message})
}

// StatusFor maps the error taxonomy to HTTP status codes. Validation
// failures are 4xx; everything unexpected is a 5xx.
func StatusFor(err error) int {
	var cf *apperrors.ConnectionFailedError
	switch {
	case errors.Is(err, apperrors.ErrBadInput),
		errors.Is(err, apperrors.ErrUnsupportedEndpoint):
		return http.StatusBadRequest
	case errors.Is(err, apperrors.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, apperrors.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperrors.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &cf):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// HandleError writes err with its mapped status. Error messages from the
// taxonomy already render as "<ErrorKind>: <detail>".
func HandleError(w http.ResponseWriter, err error) error {
	return ErrorResponse(w, StatusFor(err), err.Error())
}
