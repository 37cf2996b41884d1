package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	SaltSize          = 32     // Salt size in bytes
	MinSaltSize       = 16     // Shortest salt DeriveKey accepts
	KeySize           = 32     // AES-256 key size
	NonceSize         = 12     // GCM nonce size
	TagSize           = 16     // GCM authentication tag size
	DefaultIterations = 210000 // Default PBKDF2 iterations (OWASP recommendation)
	MinIterations     = 100000 // Anything below is rejected
)

var (
	ErrWeakParameter = errors.New("weak key derivation parameters")
	ErrAuthFailed    = errors.New("authentication failed")
)

// DeriveKey derives a 256-bit key from secret and salt with PBKDF2-HMAC-SHA256.
// The same inputs always produce the same key.
func DeriveKey(secret, salt []byte, iterations int) ([]byte, error) {
	if iterations < MinIterations {
		return nil, fmt.Errorf("%w: %d iterations, minimum is %d", ErrWeakParameter, iterations, MinIterations)
	}
	if len(salt) < MinSaltSize {
		return nil, fmt.Errorf("%w: salt of %d bytes, minimum is %d", ErrWeakParameter, len(salt), MinSaltSize)
	}
	return pbkdf2.Key(secret, salt, iterations, KeySize, sha256.New), nil
}

// NewSalt returns a fresh random salt
func NewSalt() ([]byte, error) {
	return GenerateRandom(SaltSize)
}

// NewNonce returns a fresh random GCM nonce
func NewNonce() ([]byte, error) {
	return GenerateRandom(NonceSize)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}

// Seal encrypts plaintext with AES-256-GCM and binds ad into the tag.
// The result is the ciphertext with the tag appended.
func Seal(key, nonce, plaintext, ad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("invalid nonce size %d", len(nonce))
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	return gcm.Seal(nil, nonce, plaintext, ad), nil
}

// Open verifies and decrypts a sealed payload produced by Seal.
// Any mismatch or truncation yields ErrAuthFailed and no plaintext.
func Open(key, nonce, sealed, ad []byte) ([]byte, error) {
	if len(nonce) != NonceSize || len(sealed) < TagSize {
		return nil, ErrAuthFailed
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, nonce, sealed, ad)
	if err != nil {
		return nil, ErrAuthFailed
	}

	return plaintext, nil
}

// SplitTag separates a sealed payload into ciphertext and authentication tag
func SplitTag(sealed []byte) (ciphertext, tag []byte, err error) {
	if len(sealed) < TagSize {
		return nil, nil, ErrAuthFailed
	}
	n := len(sealed) - TagSize
	return sealed[:n], sealed[n:], nil
}

// HashContent returns the hex SHA-256 of data
func HashContent(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ClearBytes securely clears a byte slice
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ConstantTimeCompare performs a constant-time comparison of two byte slices
func ConstantTimeCompare(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}

// GenerateRandom generates n random bytes
func GenerateRandom(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return b, nil
}
