package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cliptgg/clipt-server/moderation"
	"github.com/cliptgg/clipt-server/telemetry"
)

// HandleAdminModerationScan runs SafeSearch on an image URL.
// POST /admin/moderation/scan {"image_url": "..."}
func (h *Handlers) HandleAdminModerationScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "POST required")
		return
	}
	var body struct {
		ImageURL string `json:"image_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.ImageURL == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "image_url required")
		return
	}
	verdict, err := h.scanner.ScanImageURL(r.Context(), body.ImageURL)
	if errors.Is(err, moderation.ErrNotConfigured) {
		writeError(w, http.StatusServiceUnavailable, "moderation_unconfigured", "set VISION_API_KEY to enable image scanning")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "scan_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, verdict)
}

// HandleAdminStatus reports counters useful for operating the service.
// GET /admin/status
func (h *Handlers) HandleAdminStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	ctx := r.Context()
	var liveStreams, totalStreams, activeTimeouts int
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FILTER (WHERE is_live), COUNT(*) FROM streams`).
		Scan(&liveStreams, &totalStreams); err != nil {
		writeError(w, http.StatusInternalServerError, "status_failed", err.Error())
		return
	}
	if err := h.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chat_timeouts WHERE expires_at > NOW()`).
		Scan(&activeTimeouts); err != nil {
		writeError(w, http.StatusInternalServerError, "status_failed", err.Error())
		return
	}
	var twitchLinked bool
	if err := h.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM oauth_tokens WHERE provider='twitch')`).
		Scan(&twitchLinked); err != nil {
		writeError(w, http.StatusInternalServerError, "status_failed", err.Error())
		return
	}
	telemetry.SetLiveStreams(liveStreams)
	writeJSON(w, http.StatusOK, map[string]any{
		"live_streams":    liveStreams,
		"total_streams":   totalStreams,
		"active_timeouts": activeTimeouts,
		"twitch_linked":   twitchLinked,
	})
}
