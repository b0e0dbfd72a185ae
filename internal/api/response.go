package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

type successResponse struct {
	Message string `json:"message"`
	Data    any    `json:"data"`
}

type errorResponse struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to write response", "error", err)
	}
}

func writeSuccess(w http.ResponseWriter, message string, data any) {
	writeJSON(w, http.StatusOK, successResponse{Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, err error, kind string) {
	writeJSON(w, status, errorResponse{
		Message: http.StatusText(status),
		Error:   err.Error(),
		Kind:    kind,
	})
}
