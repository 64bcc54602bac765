package stream

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	dbpkg "github.com/cliptgg/clipt-server/db"
	"github.com/cliptgg/clipt-server/telemetry"
)

// TokenProvider allocates scoped ingest access tokens for a user and revokes
// them when a stream session ends.
type TokenProvider interface {
	Token(ctx context.Context, userID string) (string, error)
	Revoke(ctx context.Context, accessToken string) error
}

// IngestAuth fetches client-credentials tokens from the ingest auth endpoint,
// scoped to the publishing user via the user_id endpoint parameter.
type IngestAuth struct {
	TokenURL     string
	RevokeURL    string
	ClientID     string
	ClientSecret string
	Scopes       string
	HTTPClient   *http.Client
}

func (a *IngestAuth) Token(ctx context.Context, userID string) (string, error) {
	if a.ClientID == "" || a.ClientSecret == "" {
		return "", fmt.Errorf("missing ingest client id/secret")
	}
	cc := &clientcredentials.Config{
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		TokenURL:     a.TokenURL,
		Scopes:       strings.Fields(a.Scopes),
		EndpointParams: url.Values{
			"user_id": {userID},
		},
	}
	if a.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, a.HTTPClient)
	}
	start := time.Now()
	tok, err := cc.Token(ctx)
	if telemetry.IngestTokenDuration != nil {
		telemetry.IngestTokenDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		return "", fmt.Errorf("ingest token request: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("empty access_token in ingest auth response")
	}
	return tok.AccessToken, nil
}

// Revoke invalidates a token at the auth endpoint. Best effort: callers treat
// failures as log-and-continue since the DB row is the source of truth.
func (a *IngestAuth) Revoke(ctx context.Context, accessToken string) error {
	if a.RevokeURL == "" || accessToken == "" {
		return nil
	}
	form := url.Values{}
	form.Set("client_id", a.ClientID)
	form.Set("token", accessToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	hc := a.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ingest token revoke failed: %s", resp.Status)
	}
	return nil
}

// Initializer prepares a user's stream for publishing: allocates an ingest
// token, builds the RTMP URL embedding it, and upserts the stream row.
type Initializer struct {
	DB         *sql.DB
	Auth       TokenProvider
	IngestHost string
}

// Initialize allocates a fresh token and upserts the stream row keyed by
// user_id. The token insert and the stream upsert run in one transaction so a
// failure leaves no half-initialized state; the remote token is revoked best
// effort when the transaction fails. is_live stays false until Start.
//
// Re-initializing revokes the user's previous non-revoked token, keeping the
// invariant of at most one live token per user.
func (i *Initializer) Initialize(ctx context.Context, userID string) (*Stream, error) {
	ctx, span := telemetry.StartSpan(ctx, "stream", "initialize")
	defer span.End()

	accessToken, err := i.Auth.Token(ctx, userID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	streamingURL := fmt.Sprintf("rtmp://%s/live?access_token=%s", i.IngestHost, url.QueryEscape(accessToken))

	stored, encVersion, err := dbpkg.SealSecret(accessToken)
	if err != nil {
		return nil, err
	}

	tokenID := uuid.NewString()
	err = func() error {
		tx, err := i.DB.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin initialize tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // no-op after commit

		if _, err := tx.ExecContext(ctx,
			`UPDATE stream_oauth_tokens SET is_revoked=TRUE WHERE user_id=$1 AND is_revoked=FALSE`, userID); err != nil {
			return fmt.Errorf("revoke previous tokens: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO stream_oauth_tokens (token_id, user_id, access_token, encryption_version, is_revoked, created_at)
			 VALUES ($1,$2,$3,$4,FALSE,NOW())`,
			tokenID, userID, stored, encVersion); err != nil {
			return fmt.Errorf("insert ingest token: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO streams (id, user_id, streaming_url, oauth_token_id, is_live, created_at, updated_at)
			 VALUES ($1,$2,$3,$4,FALSE,NOW(),NOW())
			 ON CONFLICT (user_id) DO UPDATE SET
			   streaming_url=EXCLUDED.streaming_url,
			   oauth_token_id=EXCLUDED.oauth_token_id,
			   is_live=FALSE,
			   started_at=NULL,
			   ended_at=NULL,
			   updated_at=NOW(),
			   revision=streams.revision+1`,
			uuid.NewString(), userID, streamingURL, tokenID); err != nil {
			return fmt.Errorf("upsert stream: %w", err)
		}
		return tx.Commit()
	}()
	if err != nil {
		telemetry.RecordError(span, err)
		if revokeErr := i.Auth.Revoke(ctx, accessToken); revokeErr != nil {
			slog.Warn("failed to revoke orphaned ingest token", slog.Any("err", revokeErr), slog.String("user_id", userID))
		}
		return nil, err
	}

	return GetByUserID(ctx, i.DB, userID)
}
