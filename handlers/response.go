package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"bulk-mailer/logger"
)

// ErrorBody is the JSON shape of every 4xx response.
type ErrorBody struct {
	Error string `json:"error"`
}

// ServerErrorBody is the JSON shape of a 500 response.
type ServerErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// respondWithJSON sends a JSON response
func respondWithJSON(w http.ResponseWriter, log *slog.Logger, statusCode int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error("Error marshalling JSON", logger.Err(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(response)
}

// errorResponse sends an error JSON response
func errorResponse(w http.ResponseWriter, log *slog.Logger, message string, statusCode int) {
	respondWithJSON(w, log, statusCode, ErrorBody{Error: message})
}

// serverError reports an unexpected failure with its message.
func serverError(w http.ResponseWriter, log *slog.Logger, err error) {
	respondWithJSON(w, log, http.StatusInternalServerError, ServerErrorBody{
		Error:   "Server Error",
		Message: err.Error(),
	})
}

// successResponse sends a 200 with data as the whole body
func successResponse(w http.ResponseWriter, log *slog.Logger, data any) {
	respondWithJSON(w, log, http.StatusOK, data)
}
