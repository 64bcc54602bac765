package server

import (
	"net/http"
	"strconv"

	"github.com/cliptgg/clipt-server/igdb"
)

// HandleGamesSearch proxies IGDB game search for the stream directory.
// GET /games?q=<term>[&limit=N] or GET /games?id=<igdb id>
func (h *Handlers) HandleGamesSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "GET required")
		return
	}
	if h.cfg.TwitchClientID == "" || h.cfg.TwitchClientSecret == "" {
		writeError(w, http.StatusServiceUnavailable, "games_unconfigured", "twitch credentials required for game lookup")
		return
	}

	if idStr := r.URL.Query().Get("id"); idStr != "" {
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "invalid game id")
			return
		}
		game, err := h.games.GetGame(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "game_lookup_failed", err.Error())
			return
		}
		if game == nil {
			writeError(w, http.StatusNotFound, "not_found", "game not found")
			return
		}
		writeJSON(w, http.StatusOK, withCover(*game))
		return
	}

	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "q or id required")
		return
	}
	games, err := h.games.SearchGames(r.Context(), q, parseIntQuery(r, "limit", 10))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "game_search_failed", err.Error())
		return
	}
	out := make([]gameView, 0, len(games))
	for _, g := range games {
		out = append(out, withCover(g))
	}
	writeJSON(w, http.StatusOK, out)
}

// gameView adds a resolved cover URL to the raw IGDB row.
type gameView struct {
	igdb.Game
	CoverURL string `json:"cover_url,omitempty"`
}

func withCover(g igdb.Game) gameView {
	return gameView{Game: g, CoverURL: igdb.CoverURL(g.Cover.ImageID)}
}
