package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
)

type ErrorResponse struct {
	Error ErrorInfo `json:"error"`
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// retryAfter is how long a client should back off, in seconds, when a
// backing store or the shutdown makes a request fail transiently.
const retryAfter = "1"

func writeError(w http.ResponseWriter, err *domain.AppError) {
	switch err.Status {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", retryAfter)
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="chat"`)
	}

	response := ErrorResponse{
		Error: ErrorInfo{
			Code:    err.Code,
			Message: err.Message,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Status)
	json.NewEncoder(w).Encode(response)
}

func handleError(w http.ResponseWriter, err error) {
	var appErr *domain.AppError

	if errors.As(err, &appErr) {
		if appErr.Status >= 500 {
			slog.Error("Request failed", "error", err)
		}
		writeError(w, appErr)
		return
	}

	slog.Error("Unhandled error", "error", err)
	writeError(w, domain.ErrInternalServerError)
}
