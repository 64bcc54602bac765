// Package chat handles chat message ingestion, moderation commands, and the
// Twitch chat mirror relay.
package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cliptgg/clipt-server/telemetry"
)

var (
	// ErrUnknownCommand is returned for a slash-prefixed message naming no registered command.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrNotAuthorized is returned when a non-owner invokes a moderator command.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrUserNotFound is returned when a command target username resolves to no user.
	ErrUserNotFound = errors.New("user not found")
	// ErrBadArgs is returned for malformed command arguments.
	ErrBadArgs = errors.New("bad command arguments")
	// ErrStreamNotFound is returned when the target stream does not exist.
	ErrStreamNotFound = errors.New("stream not found")
)

// banDuration is the fixed timeout applied by /ban; no separate ban entity exists.
const banDuration = 365 * 24 * time.Hour

// CommandResult reports what the processor did with a message.
type CommandResult struct {
	// Handled is false for plain messages, which flow on as normal chat.
	Handled bool   `json:"handled"`
	Command string `json:"command,omitempty"`
	Reply   string `json:"reply,omitempty"`
}

// Processor parses and executes moderation commands. The registry is fixed:
// /timeout <@user> <seconds>, /clear, /ban <@user>. All three are restricted
// to the stream owner and authorization runs before any state change.
type Processor struct {
	DB *sql.DB
}

// Process inspects a raw chat message. Non-command messages return
// Handled=false and never reach authorization. Command errors are terminal
// for the invocation and leave no partial writes.
func (p *Processor) Process(ctx context.Context, streamID, senderID, message string) (*CommandResult, error) {
	if !strings.HasPrefix(message, "/") {
		return &CommandResult{Handled: false}, nil
	}
	fields := strings.Fields(strings.TrimPrefix(message, "/"))
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrUnknownCommand)
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	switch name {
	case "timeout", "clear", "ban":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}

	// Moderator gate: every registered command requires the sender to own the stream.
	var ownerID string
	err := p.DB.QueryRowContext(ctx, `SELECT user_id FROM streams WHERE id=$1`, streamID).Scan(&ownerID)
	if err == sql.ErrNoRows {
		return nil, ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load stream owner: %w", err)
	}
	if senderID != ownerID {
		return nil, fmt.Errorf("%w: only the stream owner can use /%s", ErrNotAuthorized, name)
	}

	var reply string
	switch name {
	case "timeout":
		if len(args) != 2 {
			return nil, fmt.Errorf("%w: usage /timeout <@user> <seconds>", ErrBadArgs)
		}
		seconds, convErr := strconv.Atoi(args[1])
		if convErr != nil || seconds <= 0 {
			return nil, fmt.Errorf("%w: duration must be a positive number of seconds", ErrBadArgs)
		}
		target, err := p.resolveUsername(ctx, args[0])
		if err != nil {
			return nil, err
		}
		if err := p.insertTimeout(ctx, streamID, target, senderID, time.Duration(seconds)*time.Second); err != nil {
			return nil, err
		}
		reply = fmt.Sprintf("%s timed out for %ds", args[0], seconds)
	case "ban":
		if len(args) != 1 {
			return nil, fmt.Errorf("%w: usage /ban <@user>", ErrBadArgs)
		}
		// The target is resolved to a user id here, same as /timeout.
		target, err := p.resolveUsername(ctx, args[0])
		if err != nil {
			return nil, err
		}
		if err := p.insertTimeout(ctx, streamID, target, senderID, banDuration); err != nil {
			return nil, err
		}
		reply = fmt.Sprintf("%s banned", args[0])
	case "clear":
		if len(args) != 0 {
			return nil, fmt.Errorf("%w: /clear takes no arguments", ErrBadArgs)
		}
		if _, err := p.DB.ExecContext(ctx,
			`UPDATE chat_messages SET is_deleted=TRUE, deleted_by=$1, deleted_at=NOW() WHERE stream_id=$2 AND is_deleted=FALSE`,
			senderID, streamID); err != nil {
			return nil, fmt.Errorf("clear chat: %w", err)
		}
		reply = "chat cleared"
	}

	telemetry.ChatCommandsExecuted.Inc()
	return &CommandResult{Handled: true, Command: name, Reply: reply}, nil
}

// resolveUsername maps an exact username (leading @ stripped) to a user id.
func (p *Processor) resolveUsername(ctx context.Context, raw string) (string, error) {
	username := strings.TrimPrefix(raw, "@")
	if username == "" {
		return "", fmt.Errorf("%w: missing username", ErrBadArgs)
	}
	var id string
	err := p.DB.QueryRowContext(ctx, `SELECT id FROM users WHERE username=$1`, username).Scan(&id)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if err != nil {
		return "", fmt.Errorf("resolve username: %w", err)
	}
	return id, nil
}

func (p *Processor) insertTimeout(ctx context.Context, streamID, userID, moderatorID string, d time.Duration) error {
	if _, err := p.DB.ExecContext(ctx,
		`INSERT INTO chat_timeouts (stream_id, user_id, moderator_id, expires_at, created_at) VALUES ($1,$2,$3,$4,NOW())`,
		streamID, userID, moderatorID, time.Now().UTC().Add(d)); err != nil {
		return fmt.Errorf("insert timeout: %w", err)
	}
	telemetry.TimeoutsIssued.Inc()
	return nil
}

// IsTimedOut reports whether a user currently has an unexpired timeout on a stream.
func IsTimedOut(ctx context.Context, dbx *sql.DB, streamID, userID string) (bool, error) {
	var n int
	err := dbx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM chat_timeouts WHERE stream_id=$1 AND user_id=$2 AND expires_at > NOW()`,
		streamID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check timeout: %w", err)
	}
	return n > 0, nil
}
