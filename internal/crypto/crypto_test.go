package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestDeriveKeyDeterministic(t *testing.T) {
	salt := []byte("0123456789abcdef0123456789abcdef")

	k1, err := DeriveKey([]byte("secret"), salt, MinIterations)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	k2, err := DeriveKey([]byte("secret"), salt, MinIterations)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}

	if len(k1) != KeySize {
		t.Errorf("key length = %d, want %d", len(k1), KeySize)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("same inputs produced different keys")
	}

	k3, err := DeriveKey([]byte("other"), salt, MinIterations)
	if err != nil {
		t.Fatalf("DeriveKey failed: %v", err)
	}
	if bytes.Equal(k1, k3) {
		t.Error("different secrets produced the same key")
	}
}

func TestDeriveKeyRejectsWeakParameters(t *testing.T) {
	tests := []struct {
		name  string
		salt  []byte
		iters int
	}{
		{"low iterations", make([]byte, SaltSize), MinIterations - 1},
		{"zero iterations", make([]byte, SaltSize), 0},
		{"short salt", make([]byte, MinSaltSize-1), DefaultIterations},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DeriveKey([]byte("pw"), tt.salt, tt.iters)
			if !errors.Is(err, ErrWeakParameter) {
				t.Errorf("expected ErrWeakParameter, got %v", err)
			}
		})
	}
}

func TestSealOpenRoundTrip(t *testing.T) {
	key, _ := GenerateRandom(KeySize)
	nonce, _ := NewNonce()
	ad := []byte("file-id")
	plaintext := []byte("hello1234")

	sealed, err := Seal(key, nonce, plaintext, ad)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if len(sealed) != len(plaintext)+TagSize {
		t.Errorf("sealed length = %d, want %d", len(sealed), len(plaintext)+TagSize)
	}

	ct, tag, err := SplitTag(sealed)
	if err != nil {
		t.Fatalf("SplitTag failed: %v", err)
	}
	if len(ct) != len(plaintext) || len(tag) != TagSize {
		t.Errorf("unexpected split sizes %d/%d", len(ct), len(tag))
	}

	got, err := Open(key, nonce, sealed, ad)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Errorf("Open = %q, want %q", got, plaintext)
	}
}

func TestOpenFailsClosed(t *testing.T) {
	key, _ := GenerateRandom(KeySize)
	nonce, _ := NewNonce()
	sealed, err := Seal(key, nonce, []byte("payload bytes"), []byte("id-1"))
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	otherKey, _ := GenerateRandom(KeySize)

	flipped := append([]byte(nil), sealed...)
	flipped[0] ^= 0x01

	tests := []struct {
		name   string
		key    []byte
		nonce  []byte
		sealed []byte
		ad     []byte
	}{
		{"wrong key", otherKey, nonce, sealed, []byte("id-1")},
		{"relabeled", key, nonce, sealed, []byte("id-2")},
		{"bit flip", key, nonce, flipped, []byte("id-1")},
		{"truncated", key, nonce, sealed[:len(sealed)-1], []byte("id-1")},
		{"shorter than tag", key, nonce, sealed[:TagSize-1], []byte("id-1")},
		{"bad nonce", key, nonce[:8], sealed, []byte("id-1")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Open(tt.key, tt.nonce, tt.sealed, tt.ad)
			if !errors.Is(err, ErrAuthFailed) {
				t.Errorf("expected ErrAuthFailed, got %v", err)
			}
			if got != nil {
				t.Errorf("expected no plaintext, got %q", got)
			}
		})
	}
}

func TestClearBytes(t *testing.T) {
	b := []byte("sensitive")
	ClearBytes(b)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not cleared", i)
		}
	}
}
