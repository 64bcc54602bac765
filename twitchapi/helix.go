package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// HelixUser is the subset of a Helix users row needed for account linking.
type HelixUser struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// HelixStream describes one live stream row from /helix/streams.
type HelixStream struct {
	UserLogin   string `json:"user_login"`
	GameName    string `json:"game_name"`
	Title       string `json:"title"`
	ViewerCount int    `json:"viewer_count"`
}

// HelixClient provides minimal methods needed for account linking and the
// chat mirror (is the linked channel live, and under which login).
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) get(ctx context.Context, rawURL string, q map[string]string, out any) error {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	qs := req.URL.Query()
	for k, v := range q {
		qs.Set(k, v)
	}
	req.URL.RawQuery = qs.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("helix request failed: %s", resp.Status)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// GetUserByLogin resolves a login name to its Helix user record.
func (hc *HelixClient) GetUserByLogin(ctx context.Context, login string) (*HelixUser, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	var body struct {
		Data []HelixUser `json:"data"`
	}
	if err := hc.get(ctx, "https://api.twitch.tv/helix/users", map[string]string{"login": login}, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("user not found")
	}
	return &body.Data[0], nil
}

// GetTokenUser resolves the user who authorized the given user access token.
// Used after the OAuth callback to learn which channel was linked.
func (hc *HelixClient) GetTokenUser(ctx context.Context, userToken string) (*HelixUser, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://api.twitch.tv/helix/users", nil)
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+userToken)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("helix users request failed: %s", resp.Status)
	}
	var body struct {
		Data []HelixUser `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, fmt.Errorf("no user for token")
	}
	return &body.Data[0], nil
}

// GetStream returns the live stream for a login, or nil when offline.
func (hc *HelixClient) GetStream(ctx context.Context, login string) (*HelixStream, error) {
	if login == "" {
		return nil, fmt.Errorf("login empty")
	}
	var body struct {
		Data []HelixStream `json:"data"`
	}
	if err := hc.get(ctx, "https://api.twitch.tv/helix/streams", map[string]string{"user_login": login}, &body); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 {
		return nil, nil
	}
	return &body.Data[0], nil
}
