// Package testutil provides shared helpers for integration tests.
package testutil

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/cliptgg/clipt-server/db"
	"github.com/cliptgg/clipt-server/telemetry"
)

// SetupTestDB creates a test database connection and runs migrations.
// It skips the test if TEST_PG_DSN environment variable is not set.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("TEST_PG_DSN")
	if dsn == "" {
		t.Skip("TEST_PG_DSN not set")
	}
	// Metric registration is idempotent; code under test increments counters.
	telemetry.Init()
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := db.Migrate(context.Background(), database); err != nil {
		database.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() {
		database.Close()
	})
	return database
}

// SeedUser inserts a user row, replacing any existing row with the same id.
func SeedUser(t *testing.T, database *sql.DB, id, username string) {
	t.Helper()
	if _, err := database.Exec(
		`INSERT INTO users (id, username) VALUES ($1,$2)
		 ON CONFLICT (id) DO UPDATE SET username=EXCLUDED.username`, id, username); err != nil {
		t.Fatalf("failed to seed user %s: %v", username, err)
	}
}

// SeedStream inserts a stream row owned by userID, replacing any existing
// stream for that user.
func SeedStream(t *testing.T, database *sql.DB, streamID, userID string) {
	t.Helper()
	if _, err := database.Exec(
		`INSERT INTO streams (id, user_id, created_at) VALUES ($1,$2,NOW())
		 ON CONFLICT (user_id) DO NOTHING`, streamID, userID); err != nil {
		t.Fatalf("failed to seed stream %s: %v", streamID, err)
	}
}

// CleanTables truncates the listed tables between test cases.
func CleanTables(t *testing.T, database *sql.DB, tables ...string) {
	t.Helper()
	for _, table := range tables {
		if _, err := database.Exec("DELETE FROM " + table); err != nil {
			t.Fatalf("failed to clean table %s: %v", table, err)
		}
	}
}
