package stream

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cliptgg/clipt-server/telemetry"
)

// Controller flips live state on a user's stream. One session per Initialize:
// idle -> live (Start) -> ended (End); a new Initialize begins the next session.
type Controller struct {
	DB *sql.DB
}

// Start marks the stream live. Valid only after Initialize has set an ingest
// URL; returns ErrNotInitialized otherwise, ErrNotFound when no row exists.
func (c *Controller) Start(ctx context.Context, userID string) error {
	res, err := c.DB.ExecContext(ctx,
		`UPDATE streams SET is_live=TRUE, started_at=NOW(), ended_at=NULL, updated_at=NOW(), revision=revision+1
		 WHERE user_id=$1 AND COALESCE(streaming_url,'') <> ''`, userID)
	if err != nil {
		return fmt.Errorf("start stream: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := GetByUserID(ctx, c.DB, userID); err != nil {
			return err
		}
		return ErrNotInitialized
	}
	telemetry.StreamsStarted.Inc()
	return nil
}

// End marks the stream offline, clears the ingest URL, and revokes the
// session's ingest token. Stream update and token revoke run in one
// transaction so the row never points at a token left valid.
//
// Ending an already-ended stream is a defined no-op at the state level:
// the call succeeds and ended_at is overwritten with the new call time.
func (c *Controller) End(ctx context.Context, userID string) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin end tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var tokenID sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT oauth_token_id FROM streams WHERE user_id=$1`, userID).Scan(&tokenID)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load stream token: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE streams SET is_live=FALSE, ended_at=NOW(), streaming_url=NULL, oauth_token_id=NULL, updated_at=NOW(), revision=revision+1
		 WHERE user_id=$1`, userID); err != nil {
		return fmt.Errorf("end stream: %w", err)
	}
	if tokenID.Valid && tokenID.String != "" {
		if _, err := tx.ExecContext(ctx,
			`UPDATE stream_oauth_tokens SET is_revoked=TRUE WHERE token_id=$1`, tokenID.String); err != nil {
			return fmt.Errorf("revoke ingest token: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit end tx: %w", err)
	}
	telemetry.StreamsEnded.Inc()
	return nil
}

// Heartbeat updates the live viewer count reported by the edge.
func (c *Controller) Heartbeat(ctx context.Context, streamID string, viewers int) error {
	if viewers < 0 {
		viewers = 0
	}
	res, err := c.DB.ExecContext(ctx,
		`UPDATE streams SET viewer_count=$1, updated_at=NOW() WHERE id=$2`, viewers, streamID)
	if err != nil {
		return fmt.Errorf("update viewer count: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
