package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BTreeMap/ChatMaestro/internal/models"
)

// Pre-marshaled fallback responses to avoid runtime JSON encoding failures
var (
	fallbackErrorResponse []byte
)

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response to the http.ResponseWriter with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first so an encoding error can still change the status code.
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// allowMethods rejects the request with 405 unless its method is one of methods.
func allowMethods(w http.ResponseWriter, r *http.Request, handler string, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	slog.Warn(handler+": method not allowed", "method", r.Method, "path", r.URL.Path)
	w.WriteHeader(http.StatusMethodNotAllowed)
	return false
}

// decodeJSON decodes the request body into v, writing a 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, handler string, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		slog.Warn(handler+": failed to decode JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return false
	}
	return true
}

// errorStatus maps model validation errors to 400 and unknown participants to 404.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, models.ErrParticipantNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrEmptyParticipantID),
		errors.Is(err, models.ErrEmptyPhoneNumber),
		errors.Is(err, models.ErrInvalidTimezone),
		errors.Is(err, models.ErrInvalidQuietHours),
		errors.Is(err, models.ErrInvalidPriority),
		errors.Is(err, models.ErrInvalidResponseKind),
		errors.Is(err, models.ErrEmptyInterventionID),
		errors.Is(err, models.ErrNegativeLimit),
		errors.Is(err, models.ErrInvalidTone):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
