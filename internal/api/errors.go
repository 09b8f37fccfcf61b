package api

import (
	"encoding/json"
	"net/http"
)

// Failure is the body of every failed request.
type Failure struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeFailure writes {success:false, message} with the given status.
func writeFailure(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, Failure{Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeFailure(w, http.StatusBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeFailure(w, http.StatusNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeFailure(w, http.StatusInternalServerError, message)
}

// writeOK writes {success:true, message}.
func writeOK(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": message,
	})
}
