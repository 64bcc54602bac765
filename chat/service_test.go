package chat

import (
	"context"
	"database/sql"
	"errors"
	"testing"
)

func newService(database *sql.DB) *Service {
	return &Service{DB: database, Commands: &Processor{DB: database}}
}

func TestPostAndList(t *testing.T) {
	database := setupChatDB(t)
	svc := newService(database)
	ctx := context.Background()

	res, err := svc.Post(ctx, "s1", "u2", "alice", "hello")
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if res.Command != nil {
		t.Fatal("plain message should not carry a command result")
	}
	if res.Message == nil || res.Message.ID == 0 {
		t.Fatalf("expected persisted message, got %+v", res.Message)
	}

	msgs, err := svc.List(ctx, "s1", 0, 100)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Text != "hello" || msgs[0].Username != "alice" {
		t.Fatalf("unexpected listing %+v", msgs)
	}
}

func TestPostCommandRecordedButHidden(t *testing.T) {
	database := setupChatDB(t)
	svc := newService(database)
	ctx := context.Background()

	res, err := svc.Post(ctx, "s1", "u1", "owner", "/timeout @alice 60")
	if err != nil {
		t.Fatalf("Post command failed: %v", err)
	}
	if res.Command == nil || !res.Command.Handled || res.Command.Command != "timeout" {
		t.Fatalf("expected handled timeout command, got %+v", res.Command)
	}

	// Command invocations persist with is_command=true but never render.
	msgs, err := svc.List(ctx, "s1", 0, 100)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("commands must not appear in the chat pane, got %+v", msgs)
	}
	if n := countRows(t, database,
		`SELECT COUNT(*) FROM chat_messages WHERE stream_id='s1' AND is_command=TRUE`); n != 1 {
		t.Fatalf("expected 1 command row, got %d", n)
	}
}

func TestPostEmptyMessage(t *testing.T) {
	database := setupChatDB(t)
	svc := newService(database)

	for _, msg := range []string{"", "   ", "\n\t"} {
		if _, err := svc.Post(context.Background(), "s1", "u2", "alice", msg); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("Post(%q): expected ErrEmptyMessage, got %v", msg, err)
		}
	}
}

func TestPostUnknownStream(t *testing.T) {
	database := setupChatDB(t)
	svc := newService(database)

	if _, err := svc.Post(context.Background(), "missing", "u2", "alice", "hi"); !errors.Is(err, ErrStreamNotFound) {
		t.Fatalf("expected ErrStreamNotFound, got %v", err)
	}
}

func TestPostTimedOutSenderBlocked(t *testing.T) {
	database := setupChatDB(t)
	svc := newService(database)
	ctx := context.Background()

	if _, err := svc.Post(ctx, "s1", "u1", "owner", "/timeout @alice 60"); err != nil {
		t.Fatalf("timeout command failed: %v", err)
	}
	if _, err := svc.Post(ctx, "s1", "u2", "alice", "still here?"); !errors.Is(err, ErrTimedOut) {
		t.Fatalf("expected ErrTimedOut, got %v", err)
	}
	// The owner still can post.
	if _, err := svc.Post(ctx, "s1", "u1", "owner", "quiet now"); err != nil {
		t.Fatalf("owner post failed: %v", err)
	}
}

func TestPostChatDisabled(t *testing.T) {
	database := setupChatDB(t)
	if _, err := database.Exec(`UPDATE streams SET chat_enabled=FALSE WHERE id='s1'`); err != nil {
		t.Fatalf("disable chat: %v", err)
	}
	svc := newService(database)
	ctx := context.Background()

	if _, err := svc.Post(ctx, "s1", "u2", "alice", "hi"); !errors.Is(err, ErrChatDisabled) {
		t.Fatalf("expected ErrChatDisabled for viewer, got %v", err)
	}
	// The owner bypasses the chat-enabled gate.
	if _, err := svc.Post(ctx, "s1", "u1", "owner", "announcement"); err != nil {
		t.Fatalf("owner post with chat disabled failed: %v", err)
	}
}

func TestListCursorAndLimit(t *testing.T) {
	database := setupChatDB(t)
	svc := newService(database)
	ctx := context.Background()

	var firstID int64
	for i, text := range []string{"one", "two", "three"} {
		res, err := svc.Post(ctx, "s1", "u2", "alice", text)
		if err != nil {
			t.Fatalf("Post %d failed: %v", i, err)
		}
		if i == 0 {
			firstID = res.Message.ID
		}
	}

	msgs, err := svc.List(ctx, "s1", firstID, 100)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Text != "two" || msgs[1].Text != "three" {
		t.Fatalf("cursor listing wrong: %+v", msgs)
	}

	msgs, err = svc.List(ctx, "s1", 0, 2)
	if err != nil {
		t.Fatalf("List with limit failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("limit ignored, got %d messages", len(msgs))
	}
}
