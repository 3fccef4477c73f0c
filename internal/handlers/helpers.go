package handlers

import (
	"encoding/json"
	"net/http"
)

// Stable error kinds returned in the "code" field of error bodies.
const (
	codeSessionExists   = "session_exists"
	codeSessionNotFound = "session_not_found"
	codeSpawnFailed     = "spawn_failed"
	codeInvalidRequest  = "invalid_request"
	codeInternal        = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail, "code": code})
}
