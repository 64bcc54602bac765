package server

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	dbpkg "github.com/cliptgg/clipt-server/db"
	"github.com/cliptgg/clipt-server/stream"
	"github.com/cliptgg/clipt-server/twitchapi"
)

// HandleTwitchLinkStart initiates the Twitch account-link flow by redirecting
// the user to Twitch. The optional user_id query ties the callback to a
// platform account so its stream can mirror the linked channel's chat.
func (h *Handlers) HandleTwitchLinkStart(w http.ResponseWriter, r *http.Request) {
	if h.cfg.TwitchClientID == "" || h.cfg.TwitchRedirectURI == "" {
		writeError(w, http.StatusBadRequest, "oauth_unconfigured", "need TWITCH_CLIENT_ID + TWITCH_REDIRECT_URI")
		return
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		writeError(w, http.StatusInternalServerError, "state_gen_failed", "state gen error")
		return
	}
	st := hex.EncodeToString(b)
	h.addOAuthState(st, r.URL.Query().Get("user_id"), time.Now().Add(10*time.Minute))
	authURL, err := twitchapi.BuildAuthorizeURL(h.cfg.TwitchClientID, h.cfg.TwitchRedirectURI, h.cfg.TwitchScopes, st)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "authorize_url_failed", err.Error())
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleTwitchLinkCallback completes the link: exchanges the code, stores the
// tokens, resolves the linked channel, and points the user's stream mirror at it.
func (h *Handlers) HandleTwitchLinkCallback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	st := r.URL.Query().Get("state")
	if code == "" || st == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "missing code/state")
		return
	}
	userID, ok := h.takeOAuthState(st)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_state", "invalid or expired state")
		return
	}
	ctx := r.Context()
	res, err := twitchapi.ExchangeAuthCode(ctx, h.cfg.TwitchClientID, h.cfg.TwitchClientSecret, code, h.cfg.TwitchRedirectURI)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "exchange_failed", err.Error())
		return
	}
	if err := dbpkg.UpsertOAuthToken(ctx, h.db, "twitch", res.AccessToken, res.RefreshToken,
		twitchapi.ComputeExpiry(res.ExpiresIn), strings.Join(res.Scope, " ")); err != nil {
		writeError(w, http.StatusInternalServerError, "token_persist_failed", err.Error())
		return
	}

	// Resolve which channel was authorized and wire the chat mirror.
	var channel string
	if user, err := h.helix.GetTokenUser(ctx, res.AccessToken); err != nil {
		slog.Warn("twitch link: channel resolution failed", slog.Any("err", err))
	} else {
		channel = user.Login
		if userID != "" {
			if err := stream.SetMirrorChannel(ctx, h.db, userID, channel); err != nil {
				slog.Warn("twitch link: mirror channel update failed", slog.Any("err", err), slog.String("user_id", userID))
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"channel":    channel,
		"scopes":     res.Scope,
		"expires_in": res.ExpiresIn,
	})
}
