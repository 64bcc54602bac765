package stream

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Settings is a partial update of stream configuration fields; nil fields are
// left untouched.
type Settings struct {
	Title              *string `json:"title,omitempty"`
	ChatEnabled        *bool   `json:"chat_enabled,omitempty"`
	MirrorChannel      *string `json:"mirror_channel,omitempty"`
	CurrentBitrate     *int    `json:"current_bitrate,omitempty"`
	CurrentFPS         *int    `json:"current_fps,omitempty"`
	Resolution         *string `json:"stream_resolution,omitempty"`
	AvailableQualities *string `json:"available_qualities,omitempty"`
}

// UpdateSettings applies a partial settings update guarded by an optimistic
// revision check: the write only lands when the caller's revision matches the
// row, otherwise ErrRevisionConflict. Lifecycle writers (Start/End/Initialize)
// touch disjoint fields and bump the revision, so a stale settings form cannot
// silently clobber a concurrent change.
func UpdateSettings(ctx context.Context, dbx *sql.DB, userID string, revision int, s Settings) error {
	sets := make([]string, 0, 8)
	args := make([]any, 0, 10)
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s=$%d", col, len(args)))
	}
	if s.Title != nil {
		add("title", strings.TrimSpace(*s.Title))
	}
	if s.ChatEnabled != nil {
		add("chat_enabled", *s.ChatEnabled)
	}
	if s.MirrorChannel != nil {
		add("mirror_channel", strings.ToLower(strings.TrimSpace(*s.MirrorChannel)))
	}
	if s.CurrentBitrate != nil {
		add("current_bitrate", *s.CurrentBitrate)
	}
	if s.CurrentFPS != nil {
		add("current_fps", *s.CurrentFPS)
	}
	if s.Resolution != nil {
		add("stream_resolution", *s.Resolution)
	}
	if s.AvailableQualities != nil {
		add("available_qualities", *s.AvailableQualities)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, userID)
	userArg := len(args)
	args = append(args, revision)
	revArg := len(args)

	q := fmt.Sprintf(`UPDATE streams SET %s, updated_at=NOW(), revision=revision+1 WHERE user_id=$%d AND revision=$%d`,
		strings.Join(sets, ", "), userArg, revArg)
	res, err := dbx.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update settings: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := GetByUserID(ctx, dbx, userID); err != nil {
			return err
		}
		return ErrRevisionConflict
	}
	return nil
}

// SetMirrorChannel points the user's chat mirror at a Twitch channel. Bumps
// the revision like every other streams writer, so a settings form read
// before the link completed loses its CAS instead of wiping the channel.
func SetMirrorChannel(ctx context.Context, dbx *sql.DB, userID, channel string) error {
	res, err := dbx.ExecContext(ctx,
		`UPDATE streams SET mirror_channel=$1, updated_at=NOW(), revision=revision+1 WHERE user_id=$2`,
		strings.ToLower(strings.TrimSpace(channel)), userID)
	if err != nil {
		return fmt.Errorf("set mirror channel: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
