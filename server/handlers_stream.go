package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/cliptgg/clipt-server/stream"
	"github.com/cliptgg/clipt-server/telemetry"
)

// HandleStreamInitialize provisions an ingest token and RTMP URL for a user.
// POST /streams/initialize {"user_id": "..."}
func (h *Handlers) HandleStreamInitialize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	if err := h.cfg.ValidateIngestReady(); err != nil {
		writeError(w, http.StatusServiceUnavailable, "ingest_unconfigured", err.Error())
		return
	}
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "user_id required")
		return
	}
	s, err := h.initializer.Initialize(r.Context(), body.UserID)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("stream initialize failed", "user_id", body.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "initialize_failed", err.Error())
		return
	}
	telemetry.StreamsInitialized.Inc()
	writeJSON(w, http.StatusOK, s)
}

// HandleStreamStart flips an initialized stream live.
// POST /streams/start {"user_id": "..."}
func (h *Handlers) HandleStreamStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "user_id required")
		return
	}
	err := h.lifecycle.Start(r.Context(), body.UserID)
	switch {
	case errors.Is(err, stream.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no stream for user")
		return
	case errors.Is(err, stream.ErrNotInitialized):
		writeError(w, http.StatusConflict, "not_initialized", "stream must be initialized before starting")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "start_failed", err.Error())
		return
	}
	s, err := stream.GetByUserID(r.Context(), h.db, body.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleStreamEnd ends a live session and revokes its ingest token.
// POST /streams/end {"user_id": "..."}
func (h *Handlers) HandleStreamEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "user_id required")
		return
	}
	err := h.lifecycle.End(r.Context(), body.UserID)
	switch {
	case errors.Is(err, stream.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no stream for user")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "end_failed", err.Error())
		return
	}
	s, err := stream.GetByUserID(r.Context(), h.db, body.UserID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// HandleStreamKey generates (POST) or fetches (GET) a user's stream key.
func (h *Handlers) HandleStreamKey(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var body struct {
			UserID string `json:"user_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "user_id required")
			return
		}
		key, err := h.keys.Generate(r.Context(), body.UserID)
		if errors.Is(err, stream.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no stream for user")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "key_generate_failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"stream_key": key})
	case http.MethodGet:
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "user_id required")
			return
		}
		key, err := h.keys.Get(r.Context(), userID)
		if errors.Is(err, stream.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found", "no stream key for user")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "key_fetch_failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"stream_key": key})
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET or POST required")
	}
}

// HandleStreamsDispatcher routes /streams/{id}[/...] paths.
func (h *Handlers) HandleStreamsDispatcher(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/streams/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not_found", "stream id required")
		return
	}
	streamID := parts[0]

	if len(parts) == 1 {
		h.handleStreamDetail(w, r, streamID)
		return
	}
	switch parts[1] {
	case "settings":
		h.handleStreamSettings(w, r, streamID)
	case "heartbeat":
		h.handleStreamHeartbeat(w, r, streamID)
	case "chat":
		if len(parts) == 3 && parts[2] == "sse" {
			h.handleChatSSE(w, r, streamID)
			return
		}
		h.handleChat(w, r, streamID)
	default:
		writeError(w, http.StatusNotFound, "not_found", "unknown stream operation")
	}
}

func (h *Handlers) handleStreamDetail(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	s, err := stream.GetByID(r.Context(), h.db, streamID)
	if errors.Is(err, stream.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "stream not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// handleStreamSettings applies a partial settings update under optimistic
// concurrency. A stale revision gets 409 with the current stream state so the
// client can rebase.
func (h *Handlers) handleStreamSettings(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodPatch && r.Method != http.MethodPut {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "PATCH required")
		return
	}
	var body struct {
		Revision *int `json:"revision"`
		stream.Settings
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	if body.Revision == nil {
		writeError(w, http.StatusBadRequest, "bad_request", "revision required")
		return
	}
	s, err := stream.GetByID(r.Context(), h.db, streamID)
	if errors.Is(err, stream.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "stream not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load_failed", err.Error())
		return
	}

	err = stream.UpdateSettings(r.Context(), h.db, s.UserID, *body.Revision, body.Settings)
	switch {
	case errors.Is(err, stream.ErrRevisionConflict):
		current, loadErr := stream.GetByID(r.Context(), h.db, streamID)
		if loadErr != nil {
			writeError(w, http.StatusConflict, "revision_conflict", "settings changed concurrently")
			return
		}
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   "revision_conflict",
			"message": "settings changed concurrently, re-read and retry",
			"stream":  current,
		})
		return
	case errors.Is(err, stream.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "stream not found")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "settings_failed", err.Error())
		return
	}
	updated, err := stream.GetByID(r.Context(), h.db, streamID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "load_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// handleStreamHeartbeat records the viewer count reported by the edge.
func (h *Handlers) handleStreamHeartbeat(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	var body struct {
		ViewerCount int `json:"viewer_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}
	err := h.lifecycle.Heartbeat(r.Context(), streamID, body.ViewerCount)
	if errors.Is(err, stream.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "stream not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "heartbeat_failed", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
