package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/jshsakura/oc-terminal-list/internal/database"
	"github.com/jshsakura/oc-terminal-list/internal/history"
	"github.com/jshsakura/oc-terminal-list/internal/middleware"
	"github.com/jshsakura/oc-terminal-list/internal/terminal"
)

type sizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// sessionDescriptor is a session snapshot plus the outcome of the call.
type sessionDescriptor struct {
	terminal.Info
	Status string `json:"status"`
}

type historyResponse struct {
	SessionID string `json:"session_id"`
	History   string `json:"history"`
	Chunks    int    `json:"chunks"`
}

// decodeSize reads an optional {cols, rows} body. An empty body yields zeros.
func decodeSize(r *http.Request) (sizeRequest, error) {
	var req sizeRequest
	if r.Body == nil {
		return req, nil
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, err
	}
	return req, nil
}

// ListSessions returns the durable records of the calling user, most
// recently active first.
// GET /api/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	records, err := h.Records.ListSessions(r.Context(), middleware.GetUser(r))
	if err != nil {
		h.Log.Error().Err(err).Msg("list session records")
		writeError(w, http.StatusInternalServerError, codeInternal, "Failed to list sessions")
		return
	}
	if records == nil {
		records = []database.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// ListLiveSessions returns a snapshot of the sessions running in this
// process.
// GET /api/sessions/live
func (h *Handler) ListLiveSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]terminal.Info{"sessions": h.Sessions.List()})
}

// CreateSession starts a session under the id in the URL.
// POST /api/sessions/{sessionID}
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if !validSessionID(sessionID) {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid session ID")
		return
	}
	h.createSession(w, r, sessionID)
}

// CreateSessionAuto starts a session under a generated id.
// POST /api/sessions
func (h *Handler) CreateSessionAuto(w http.ResponseWriter, r *http.Request) {
	h.createSession(w, r, uuid.NewString())
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request, sessionID string) {
	req, err := decodeSize(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request body")
		return
	}

	cols, rows := terminal.ClampSize(req.Cols, req.Rows)
	s, err := h.Sessions.CreateNew(r.Context(), sessionID, middleware.GetUser(r), cols, rows)
	if err != nil {
		if errors.Is(err, terminal.ErrSessionExists) {
			writeError(w, http.StatusConflict, codeSessionExists, "Session already exists")
			return
		}
		h.Log.Error().Err(err).Str("session", sessionID).Msg("create session")
		writeError(w, http.StatusInternalServerError, codeSpawnFailed, "Failed to start shell")
		return
	}

	writeJSON(w, http.StatusCreated, sessionDescriptor{Info: s.Info(), Status: "created"})
}

// DeleteSession terminates a session and purges its history.
// DELETE /api/sessions/{sessionID}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	if err := h.Sessions.Kill(r.Context(), sessionID); err != nil {
		if errors.Is(err, terminal.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, codeSessionNotFound, "Session not found")
			return
		}
		h.Log.Error().Err(err).Str("session", sessionID).Msg("delete session")
		writeError(w, http.StatusInternalServerError, codeInternal, "Failed to delete session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "status": "deleted"})
}

// ResizeSession changes the terminal dimensions of a registered session.
// POST /api/sessions/{sessionID}/resize
func (h *Handler) ResizeSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	var req sizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request body")
		return
	}
	if !terminal.ValidSize(req.Cols, req.Rows) {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid terminal size")
		return
	}

	info, err := h.Sessions.Resize(r.Context(), sessionID, uint16(req.Cols), uint16(req.Rows))
	if err != nil {
		if errors.Is(err, terminal.ErrSessionNotFound) {
			writeError(w, http.StatusNotFound, codeSessionNotFound, "Session not found")
			return
		}
		h.Log.Error().Err(err).Str("session", sessionID).Msg("resize session")
		writeError(w, http.StatusInternalServerError, codeInternal, "Failed to resize terminal")
		return
	}

	writeJSON(w, http.StatusOK, sessionDescriptor{Info: info, Status: "resized"})
}

// GetHistory returns the retained output of a session as one string. The
// session need not be live.
// GET /api/sessions/{sessionID}/history
func (h *Handler) GetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")

	chunks, err := h.Sessions.History(r.Context(), sessionID)
	if err != nil {
		h.Log.Error().Err(err).Str("session", sessionID).Msg("read history")
		writeError(w, http.StatusInternalServerError, codeInternal, "Failed to read history")
		return
	}

	writeJSON(w, http.StatusOK, historyResponse{
		SessionID: sessionID,
		History:   history.Join(chunks),
		Chunks:    len(chunks),
	})
}

// VerifyToken reports the user the request was authenticated as.
// GET /api/auth/verify
func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":    true,
		"username": middleware.GetUser(r),
	})
}
