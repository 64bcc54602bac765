// Package igdb queries the IGDB game database for titles and cover art.
// IGDB authenticates with the same Twitch client-credentials token used by
// the Helix client, so the app TokenSource is shared.
package igdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cliptgg/clipt-server/twitchapi"
)

const defaultBaseURL = "https://api.igdb.com/v4"

// Game is the subset of IGDB game fields the stream directory shows.
type Game struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Summary string  `json:"summary,omitempty"`
	Rating  float64 `json:"rating,omitempty"`
	Cover   struct {
		ImageID string `json:"image_id"`
	} `json:"cover"`
}

// Client issues IGDB API queries.
type Client struct {
	TokenSource *twitchapi.TokenSource
	ClientID    string
	HTTPClient  *http.Client
	BaseURL     string // overridable in tests
}

func (c *Client) base() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultBaseURL
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

// query posts one IGDB query-language body to an endpoint and decodes the rows.
func (c *Client) query(ctx context.Context, endpoint, body string, out any) error {
	tok, err := c.TokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base()+"/"+endpoint, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Client-ID", c.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("Accept", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("igdb %s failed: %s: %s", endpoint, resp.Status, string(b))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// SearchGames returns up to limit games matching the search term.
func (c *Client) SearchGames(ctx context.Context, term string, limit int) ([]Game, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil, fmt.Errorf("search term empty")
	}
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	// IGDB rejects unescaped quotes inside the search string.
	term = strings.ReplaceAll(term, `"`, `\"`)
	body := fmt.Sprintf(`search "%s"; fields name,summary,rating,cover.image_id; limit %d;`, term, limit)
	var games []Game
	if err := c.query(ctx, "games", body, &games); err != nil {
		return nil, err
	}
	return games, nil
}

// GetGame returns one game by IGDB id, or nil when unknown.
func (c *Client) GetGame(ctx context.Context, id int64) (*Game, error) {
	if id <= 0 {
		return nil, fmt.Errorf("invalid game id %d", id)
	}
	body := fmt.Sprintf(`fields name,summary,rating,cover.image_id; where id = %d;`, id)
	var games []Game
	if err := c.query(ctx, "games", body, &games); err != nil {
		return nil, err
	}
	if len(games) == 0 {
		return nil, nil
	}
	return &games[0], nil
}

// CoverURL builds the t_cover_big image URL for a cover image id.
func CoverURL(imageID string) string {
	if imageID == "" {
		return ""
	}
	return "https://images.igdb.com/igdb/image/upload/t_cover_big/" + imageID + ".jpg"
}
