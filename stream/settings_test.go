package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/cliptgg/clipt-server/testutil"
)

func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

func TestUpdateSettingsPartial(t *testing.T) {
	database := testutil.SetupTestDB(t)
	testutil.CleanTables(t, database, "streams", "users")
	testutil.SeedUser(t, database, "u1", "streamer1")
	testutil.SeedStream(t, database, "s1", "u1")

	ctx := context.Background()
	s, err := GetByUserID(ctx, database, "u1")
	if err != nil {
		t.Fatalf("GetByUserID failed: %v", err)
	}

	err = UpdateSettings(ctx, database, "u1", s.Revision, Settings{
		Title:       strPtr("  Speedrun Night  "),
		ChatEnabled: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("UpdateSettings failed: %v", err)
	}

	s, err = GetByUserID(ctx, database, "u1")
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if s.Title != "Speedrun Night" {
		t.Fatalf("title = %q, want trimmed value", s.Title)
	}
	if s.ChatEnabled {
		t.Fatal("chat_enabled should be false")
	}
	if s.Revision != 1 {
		t.Fatalf("revision = %d, want 1", s.Revision)
	}

	// Mirror channel is normalized to lowercase.
	if err := UpdateSettings(ctx, database, "u1", s.Revision, Settings{MirrorChannel: strPtr(" SomeChannel ")}); err != nil {
		t.Fatalf("UpdateSettings mirror failed: %v", err)
	}
	s, _ = GetByUserID(ctx, database, "u1")
	if s.MirrorChannel != "somechannel" {
		t.Fatalf("mirror_channel = %q, want somechannel", s.MirrorChannel)
	}
}

func TestUpdateSettingsRevisionConflict(t *testing.T) {
	database := testutil.SetupTestDB(t)
	testutil.CleanTables(t, database, "streams", "users")
	testutil.SeedUser(t, database, "u1", "streamer1")
	testutil.SeedStream(t, database, "s1", "u1")

	ctx := context.Background()
	s, err := GetByUserID(ctx, database, "u1")
	if err != nil {
		t.Fatalf("GetByUserID failed: %v", err)
	}

	if err := UpdateSettings(ctx, database, "u1", s.Revision, Settings{Title: strPtr("first")}); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	// Same revision again: a concurrent writer already bumped it.
	err = UpdateSettings(ctx, database, "u1", s.Revision, Settings{Title: strPtr("stale")})
	if !errors.Is(err, ErrRevisionConflict) {
		t.Fatalf("expected ErrRevisionConflict, got %v", err)
	}
	cur, _ := GetByUserID(ctx, database, "u1")
	if cur.Title != "first" {
		t.Fatalf("stale write must not land, title = %q", cur.Title)
	}
}

func TestUpdateSettingsUnknownUser(t *testing.T) {
	database := testutil.SetupTestDB(t)
	testutil.CleanTables(t, database, "streams", "users")

	err := UpdateSettings(context.Background(), database, "nobody", 0, Settings{Title: strPtr("x")})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateSettingsEmptyIsNoop(t *testing.T) {
	database := testutil.SetupTestDB(t)
	testutil.CleanTables(t, database, "streams", "users")
	testutil.SeedUser(t, database, "u1", "streamer1")
	testutil.SeedStream(t, database, "s1", "u1")

	if err := UpdateSettings(context.Background(), database, "u1", 0, Settings{}); err != nil {
		t.Fatalf("empty settings update should be a no-op, got %v", err)
	}
	s, _ := GetByUserID(context.Background(), database, "u1")
	if s.Revision != 0 {
		t.Fatalf("no-op update must not bump revision, got %d", s.Revision)
	}
}
