// Package stream implements the stream lifecycle: per-user stream rows,
// ingest key management, ingest OAuth token allocation, and live state
// transitions (idle -> live -> ended per session).
package stream

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates no stream row exists for the user.
	ErrNotFound = errors.New("stream not found")
	// ErrNotInitialized indicates the stream has no ingest URL yet; Initialize must run first.
	ErrNotInitialized = errors.New("stream not initialized")
	// ErrRevisionConflict indicates a compare-and-swap update lost against a concurrent writer.
	ErrRevisionConflict = errors.New("stream revision conflict")
)

// Stream is the per-user stream row. One row per user; Initialize upserts it,
// lifecycle calls flip live state in place.
type Stream struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Title              string     `json:"title"`
	IsLive             bool       `json:"is_live"`
	ViewerCount        int        `json:"viewer_count"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
	StreamingURL       string     `json:"streaming_url"`
	OAuthTokenID       string     `json:"oauth_token_id"`
	ChatEnabled        bool       `json:"chat_enabled"`
	MirrorChannel      string     `json:"mirror_channel"`
	CurrentBitrate     int        `json:"current_bitrate"`
	CurrentFPS         int        `json:"current_fps"`
	Resolution         string     `json:"stream_resolution"`
	AvailableQualities string     `json:"available_qualities"`
	Revision           int        `json:"revision"`
}

const streamColumns = `id, user_id, COALESCE(title,''), COALESCE(is_live,FALSE), COALESCE(viewer_count,0),
	started_at, ended_at, COALESCE(streaming_url,''), COALESCE(oauth_token_id,''), COALESCE(chat_enabled,TRUE),
	COALESCE(mirror_channel,''), COALESCE(current_bitrate,0), COALESCE(current_fps,0),
	COALESCE(stream_resolution,''), COALESCE(available_qualities,''), COALESCE(revision,0)`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStream(row rowScanner) (*Stream, error) {
	var s Stream
	err := row.Scan(&s.ID, &s.UserID, &s.Title, &s.IsLive, &s.ViewerCount,
		&s.StartedAt, &s.EndedAt, &s.StreamingURL, &s.OAuthTokenID, &s.ChatEnabled,
		&s.MirrorChannel, &s.CurrentBitrate, &s.CurrentFPS,
		&s.Resolution, &s.AvailableQualities, &s.Revision)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan stream: %w", err)
	}
	return &s, nil
}

// GetByUserID returns the user's stream row.
func GetByUserID(ctx context.Context, dbx *sql.DB, userID string) (*Stream, error) {
	row := dbx.QueryRowContext(ctx, `SELECT `+streamColumns+` FROM streams WHERE user_id=$1`, userID)
	return scanStream(row)
}

// GetByID returns a stream row by its primary key.
func GetByID(ctx context.Context, dbx *sql.DB, streamID string) (*Stream, error) {
	row := dbx.QueryRowContext(ctx, `SELECT `+streamColumns+` FROM streams WHERE id=$1`, streamID)
	return scanStream(row)
}

// ListLiveMirrored returns streams currently live with a linked Twitch channel,
// consumed by the chat mirror relay.
func ListLiveMirrored(ctx context.Context, dbx *sql.DB) ([]Stream, error) {
	rows, err := dbx.QueryContext(ctx, `SELECT `+streamColumns+` FROM streams WHERE is_live=TRUE AND COALESCE(mirror_channel,'') <> ''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Stream
	for rows.Next() {
		s, err := scanStream(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
