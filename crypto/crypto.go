// Package crypto encrypts sensitive values at rest: stream keys and ingest
// access tokens. AES-256-GCM gives authenticated encryption; ciphertexts are
// stored base64-encoded in text columns.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
)

// Sealer encrypts and decrypts opaque byte blobs. Implementations must be
// AEAD so tampering with a stored ciphertext is detected on read.
type Sealer interface {
	Seal(plaintext []byte) ([]byte, error)
	Open(ciphertext []byte) ([]byte, error)
}

// AESSealer implements Sealer with AES-256-GCM. Output layout is
// nonce || ciphertext || tag, with a random 12-byte nonce per call.
type AESSealer struct {
	key []byte
}

// NewAESSealer builds a sealer from a base64-encoded 32-byte key
// (generate with: openssl rand -base64 32).
func NewAESSealer(base64Key string) (*AESSealer, error) {
	if base64Key == "" {
		return nil, fmt.Errorf("encryption key is empty")
	}
	key, err := base64.StdEncoding.DecodeString(base64Key)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key: base64 decode failed: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid encryption key: want 32 bytes, got %d", len(key))
	}
	return &AESSealer{key: key}, nil
}

func (s *AESSealer) gcm() (cipher.AEAD, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

func (s *AESSealer) Seal(plaintext []byte) ([]byte, error) {
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("plaintext is empty")
	}
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *AESSealer) Open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 {
		return nil, fmt.Errorf("ciphertext is empty")
	}
	gcm, err := s.gcm()
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short: want at least %d bytes, got %d", gcm.NonceSize(), len(ciphertext))
	}
	nonce, rest := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, rest, nil)
	if err != nil {
		// Avoid leaking cipher internals in the error.
		return nil, fmt.Errorf("decryption failed: authentication or integrity check failed")
	}
	return plaintext, nil
}

// SealString encrypts a string and returns base64 for a text column.
// Empty input passes through as empty.
func SealString(s Sealer, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	ct, err := s.Seal([]byte(plaintext))
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// OpenString reverses SealString.
func OpenString(s Sealer, base64Ciphertext string) (string, error) {
	if base64Ciphertext == "" {
		return "", nil
	}
	ct, err := base64.StdEncoding.DecodeString(base64Ciphertext)
	if err != nil {
		return "", fmt.Errorf("base64 decode failed: %w", err)
	}
	pt, err := s.Open(ct)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}
