package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cliptgg/clipt-server/chat"
	"github.com/cliptgg/clipt-server/telemetry"
)

// handleChat lists messages (GET) or posts one (POST) for a stream.
func (h *Handlers) handleChat(w http.ResponseWriter, r *http.Request, streamID string) {
	switch r.Method {
	case http.MethodGet:
		afterID := int64(parseIntQuery(r, "after_id", 0))
		limit := parseIntQuery(r, "limit", 100)
		msgs, err := h.chat.List(r.Context(), streamID, afterID, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "chat_list_failed", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	case http.MethodPost:
		var body struct {
			UserID   string `json:"user_id"`
			Username string `json:"username"`
			Message  string `json:"message"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
			writeError(w, http.StatusBadRequest, "bad_request", "user_id and message required")
			return
		}
		res, err := h.chat.Post(r.Context(), streamID, body.UserID, body.Username, body.Message)
		if err != nil {
			if isCommandRejection(err) {
				telemetry.ChatCommandsRejected.Inc()
			}
			status, name := chatErrorStatus(err)
			writeError(w, status, name, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, res)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET or POST required")
	}
}

// isCommandRejection reports whether an error came from the command processor
// refusing an invocation (as opposed to a plain-message failure).
func isCommandRejection(err error) bool {
	return errors.Is(err, chat.ErrUnknownCommand) ||
		errors.Is(err, chat.ErrNotAuthorized) ||
		errors.Is(err, chat.ErrBadArgs) ||
		errors.Is(err, chat.ErrUserNotFound)
}

// chatErrorStatus maps chat service errors onto HTTP statuses.
func chatErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, chat.ErrStreamNotFound):
		return http.StatusNotFound, "stream_not_found"
	case errors.Is(err, chat.ErrNotAuthorized):
		return http.StatusForbidden, "not_authorized"
	case errors.Is(err, chat.ErrTimedOut):
		return http.StatusForbidden, "timed_out"
	case errors.Is(err, chat.ErrChatDisabled):
		return http.StatusForbidden, "chat_disabled"
	case errors.Is(err, chat.ErrUnknownCommand),
		errors.Is(err, chat.ErrBadArgs),
		errors.Is(err, chat.ErrUserNotFound),
		errors.Is(err, chat.ErrEmptyMessage):
		return http.StatusBadRequest, "bad_command"
	}
	return http.StatusInternalServerError, "chat_failed"
}

// handleChatSSE tails a stream's chat over Server-Sent Events. New rows are
// polled and pushed until the client disconnects.
func (h *Handlers) handleChatSSE(w http.ResponseWriter, r *http.Request, streamID string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming unsupported")
		return
	}
	lastID := int64(parseIntQuery(r, "after_id", 0))

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	enc := json.NewEncoder(w)
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		msgs, err := h.chat.List(ctx, streamID, lastID, 500)
		if err != nil {
			slog.Debug("chat sse poll failed", slog.Any("err", err), slog.String("stream_id", streamID))
			return
		}
		for _, m := range msgs {
			if _, err := w.Write([]byte("data: ")); err != nil {
				return
			}
			if err := enc.Encode(m); err != nil {
				return
			}
			if _, err := w.Write([]byte("\n")); err != nil {
				return
			}
			lastID = m.ID
		}
		if len(msgs) > 0 {
			flusher.Flush()
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
