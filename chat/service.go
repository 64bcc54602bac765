package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cliptgg/clipt-server/telemetry"
)

var (
	// ErrTimedOut is returned when a sender with an active timeout posts.
	ErrTimedOut = errors.New("sender is timed out")
	// ErrChatDisabled is returned when chat is disabled for non-owners.
	ErrChatDisabled = errors.New("chat is disabled")
	// ErrEmptyMessage is returned for blank input.
	ErrEmptyMessage = errors.New("empty message")
)

// Message is a persisted chat row.
type Message struct {
	ID        int64      `json:"id"`
	StreamID  string     `json:"stream_id"`
	UserID    string     `json:"user_id"`
	Username  string     `json:"username"`
	Text      string     `json:"message"`
	IsCommand bool       `json:"is_command"`
	IsDeleted bool       `json:"is_deleted"`
	DeletedBy string     `json:"deleted_by,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// PostResult describes the outcome of posting one message.
type PostResult struct {
	Command *CommandResult `json:"command,omitempty"`
	Message *Message       `json:"message,omitempty"`
}

// Service ingests chat messages: commands run through the Processor first,
// plain messages are persisted after timeout and chat-enabled checks.
type Service struct {
	DB       *sql.DB
	Commands *Processor
}

// Post handles one message from senderID on streamID. Commands are executed
// and recorded with is_command=true; plain messages become regular rows.
func (s *Service) Post(ctx context.Context, streamID, senderID, username, text string) (*PostResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}

	var ownerID string
	var chatEnabled bool
	err := s.DB.QueryRowContext(ctx,
		`SELECT user_id, COALESCE(chat_enabled,TRUE) FROM streams WHERE id=$1`, streamID).Scan(&ownerID, &chatEnabled)
	if err == sql.ErrNoRows {
		return nil, ErrStreamNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load stream: %w", err)
	}
	if !chatEnabled && senderID != ownerID {
		return nil, ErrChatDisabled
	}
	timedOut, err := IsTimedOut(ctx, s.DB, streamID, senderID)
	if err != nil {
		return nil, err
	}
	if timedOut {
		return nil, ErrTimedOut
	}

	res, err := s.Commands.Process(ctx, streamID, senderID, text)
	if err != nil {
		return nil, err
	}

	msg, err := s.insert(ctx, streamID, senderID, username, text, res.Handled)
	if err != nil {
		return nil, err
	}
	telemetry.ChatMessagesStored.Inc()
	return &PostResult{Command: commandOrNil(res), Message: msg}, nil
}

func commandOrNil(res *CommandResult) *CommandResult {
	if res != nil && res.Handled {
		return res
	}
	return nil
}

func (s *Service) insert(ctx context.Context, streamID, userID, username, text string, isCommand bool) (*Message, error) {
	m := &Message{StreamID: streamID, UserID: userID, Username: username, Text: text, IsCommand: isCommand}
	err := s.DB.QueryRowContext(ctx,
		`INSERT INTO chat_messages (stream_id, user_id, username, message, is_command, created_at)
		 VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id, created_at`,
		streamID, userID, username, text, isCommand).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert chat message: %w", err)
	}
	return m, nil
}

// List returns non-deleted messages for a stream in ascending order, capped at limit.
// Commands are excluded: they never render in the chat pane.
func (s *Service) List(ctx context.Context, streamID string, afterID int64, limit int) ([]Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, stream_id, COALESCE(user_id,''), COALESCE(username,''), COALESCE(message,''), COALESCE(is_command,FALSE), created_at
		 FROM chat_messages
		 WHERE stream_id=$1 AND id>$2 AND is_deleted=FALSE AND is_command=FALSE
		 ORDER BY id ASC LIMIT $3`,
		streamID, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()
	out := make([]Message, 0)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.StreamID, &m.UserID, &m.Username, &m.Text, &m.IsCommand, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
