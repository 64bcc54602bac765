package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"
)

func testKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate random key: %v", err)
	}
	return base64.StdEncoding.EncodeToString(key)
}

func TestNewAESSealer(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		errorMsg  string
		wantError bool
	}{
		{name: "empty key", key: "", wantError: true, errorMsg: "encryption key is empty"},
		{name: "invalid base64", key: "not-valid-base64!@#$", wantError: true, errorMsg: "base64 decode failed"},
		{name: "key too short", key: base64.StdEncoding.EncodeToString(make([]byte, 16)), wantError: true, errorMsg: "want 32 bytes"},
		{name: "key too long", key: base64.StdEncoding.EncodeToString(make([]byte, 64)), wantError: true, errorMsg: "want 32 bytes"},
		{name: "valid 32-byte key", key: base64.StdEncoding.EncodeToString(make([]byte, 32)), wantError: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewAESSealer(tt.key)
			if tt.wantError {
				if err == nil {
					t.Errorf("NewAESSealer() expected error but got nil")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("NewAESSealer() error = %v, want error containing %q", err, tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Errorf("NewAESSealer() unexpected error = %v", err)
			}
			if s == nil {
				t.Errorf("NewAESSealer() returned nil sealer")
			}
		})
	}
}

func TestSealOpen_RoundTrip(t *testing.T) {
	s, err := NewAESSealer(testKey(t))
	if err != nil {
		t.Fatalf("NewAESSealer() error = %v", err)
	}

	for _, plaintext := range []string{"sk_live_abcdef012345", "a", strings.Repeat("x", 4096)} {
		ct, err := s.Seal([]byte(plaintext))
		if err != nil {
			t.Fatalf("Seal() error = %v", err)
		}
		if string(ct) == plaintext {
			t.Error("ciphertext equals plaintext")
		}
		pt, err := s.Open(ct)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if string(pt) != plaintext {
			t.Errorf("round trip = %q, want %q", pt, plaintext)
		}
	}
}

func TestSeal_NonceUniqueness(t *testing.T) {
	s, _ := NewAESSealer(testKey(t))
	a, err := s.Seal([]byte("same input"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	b, err := s.Seal([]byte("same input"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	if string(a) == string(b) {
		t.Error("two Seal() calls produced identical ciphertext; nonce reuse")
	}
}

func TestOpen_Tampered(t *testing.T) {
	s, _ := NewAESSealer(testKey(t))
	ct, err := s.Seal([]byte("stream-key"))
	if err != nil {
		t.Fatalf("Seal() error = %v", err)
	}
	ct[len(ct)-1] ^= 0xff
	if _, err := s.Open(ct); err == nil {
		t.Error("Open() of tampered ciphertext should fail")
	}
}

func TestOpen_TooShort(t *testing.T) {
	s, _ := NewAESSealer(testKey(t))
	if _, err := s.Open([]byte{1, 2, 3}); err == nil {
		t.Error("Open() of truncated ciphertext should fail")
	}
}

func TestSealOpenString(t *testing.T) {
	s, _ := NewAESSealer(testKey(t))

	// Empty passes through unchanged.
	out, err := SealString(s, "")
	if err != nil || out != "" {
		t.Errorf("SealString(empty) = %q, %v; want empty, nil", out, err)
	}

	enc, err := SealString(s, "rtmp-access-token")
	if err != nil {
		t.Fatalf("SealString() error = %v", err)
	}
	if _, err := base64.StdEncoding.DecodeString(enc); err != nil {
		t.Errorf("SealString() output is not valid base64: %v", err)
	}
	dec, err := OpenString(s, enc)
	if err != nil {
		t.Fatalf("OpenString() error = %v", err)
	}
	if dec != "rtmp-access-token" {
		t.Errorf("OpenString() = %q, want rtmp-access-token", dec)
	}

	if _, err := OpenString(s, "%%%not-base64"); err == nil {
		t.Error("OpenString() of invalid base64 should fail")
	}
}
