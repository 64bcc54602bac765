// Package server exposes the HTTP API handlers.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/cliptgg/clipt-server/chat"
	"github.com/cliptgg/clipt-server/config"
	"github.com/cliptgg/clipt-server/igdb"
	"github.com/cliptgg/clipt-server/moderation"
	"github.com/cliptgg/clipt-server/payments"
	"github.com/cliptgg/clipt-server/stream"
	"github.com/cliptgg/clipt-server/twitchapi"
)

const (
	// Maximum number of OAuth states to keep in memory
	maxOAuthStates = 10000
)

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	db  *sql.DB
	ctx context.Context
	cfg *config.Config

	keys        *stream.KeyStore
	initializer *stream.Initializer
	lifecycle   *stream.Controller
	chat        *chat.Service
	payments    *payments.Service
	games       *igdb.Client
	helix       *twitchapi.HelixClient
	scanner     *moderation.Scanner

	stateStore map[string]oauthState
	stateMu    sync.RWMutex
}

// oauthState tracks one in-flight OAuth link attempt: its expiry and the
// platform user who initiated it.
type oauthState struct {
	expiry time.Time
	userID string
}

// NewHandlers creates a Handlers instance wiring all service dependencies.
func NewHandlers(ctx context.Context, db *sql.DB, cfg *config.Config) *Handlers {
	appTokens := &twitchapi.TokenSource{
		ClientID:     cfg.TwitchClientID,
		ClientSecret: cfg.TwitchClientSecret,
	}
	scanner, err := moderation.NewScanner(ctx, cfg.VisionAPIKey)
	if err != nil {
		slog.Error("vision scanner init failed, moderation scan disabled", slog.Any("err", err))
		scanner = &moderation.Scanner{}
	}
	return &Handlers{
		db:   db,
		ctx:  ctx,
		cfg:  cfg,
		keys: &stream.KeyStore{DB: db},
		initializer: &stream.Initializer{
			DB: db,
			Auth: &stream.IngestAuth{
				TokenURL:     cfg.IngestTokenURL,
				ClientID:     cfg.IngestClientID,
				ClientSecret: cfg.IngestClientSecret,
				Scopes:       cfg.IngestScopes,
			},
			IngestHost: cfg.IngestHost,
		},
		lifecycle: &stream.Controller{DB: db},
		chat:      &chat.Service{DB: db, Commands: &chat.Processor{DB: db}},
		payments:  payments.NewService(cfg.StripeSecretKey, cfg.StripeReturnURL),
		games: &igdb.Client{
			TokenSource: appTokens,
			ClientID:    cfg.TwitchClientID,
		},
		helix: &twitchapi.HelixClient{
			AppTokenSource: appTokens,
			ClientID:       cfg.TwitchClientID,
		},
		scanner:    scanner,
		stateStore: make(map[string]oauthState),
	}
}

// writeJSON writes a JSON body with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode JSON response", slog.Any("err", err))
	}
}

// writeError writes the {error, message} envelope the frontend expects.
func writeError(w http.ResponseWriter, status int, errName, message string) {
	writeJSON(w, status, map[string]string{"error": errName, "message": message})
}

// cleanExpiredStates removes expired OAuth states from the store.
// This should be called with stateMu locked.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, entry := range h.stateStore {
		if now.After(entry.expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState adds a new OAuth state to the store with cleanup if needed.
func (h *Handlers) addOAuthState(state, userID string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	// Clean expired states periodically to prevent unbounded growth
	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}

	// If we're still over the limit after cleanup, refuse to add more
	if len(h.stateStore) >= maxOAuthStates {
		// Dropping the state fails the OAuth flow, which beats memory exhaustion.
		return
	}

	h.stateStore[state] = oauthState{expiry: expiry, userID: userID}
}

// takeOAuthState validates and consumes a state value, returning the user id
// that initiated the flow.
func (h *Handlers) takeOAuthState(state string) (string, bool) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	entry, ok := h.stateStore[state]
	if !ok {
		return "", false
	}
	delete(h.stateStore, state)
	if time.Now().After(entry.expiry) {
		return "", false
	}
	return entry.userID, true
}
