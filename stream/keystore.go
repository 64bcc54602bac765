package stream

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"

	dbpkg "github.com/cliptgg/clipt-server/db"
)

// KeyStore generates and retrieves per-user stream keys. Generating again
// overwrites the previous key; there is no key history.
type KeyStore struct {
	DB *sql.DB
}

// Generate creates a fresh random stream key for the user and stores it on the
// stream row, encrypted at rest when ENCRYPTION_KEY is configured.
func (k *KeyStore) Generate(ctx context.Context, userID string) (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate stream key: %w", err)
	}
	key := "live_" + hex.EncodeToString(buf)

	stored, encVersion, err := dbpkg.SealSecret(key)
	if err != nil {
		return "", err
	}
	res, err := k.DB.ExecContext(ctx,
		`UPDATE streams SET stream_key=$1, key_encryption_version=$2, updated_at=NOW(), revision=revision+1 WHERE user_id=$3`,
		stored, encVersion, userID)
	if err != nil {
		return "", fmt.Errorf("store stream key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return "", ErrNotFound
	}
	return key, nil
}

// Get returns the user's current stream key, or ErrNotFound when the user has
// no stream row or no key has been generated yet.
func (k *KeyStore) Get(ctx context.Context, userID string) (string, error) {
	var stored string
	var encVersion int
	err := k.DB.QueryRowContext(ctx,
		`SELECT COALESCE(stream_key,''), COALESCE(key_encryption_version,0) FROM streams WHERE user_id=$1`,
		userID).Scan(&stored, &encVersion)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("load stream key: %w", err)
	}
	if stored == "" {
		return "", ErrNotFound
	}
	return dbpkg.OpenSecret(stored, encVersion)
}
