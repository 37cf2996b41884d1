// Package crypto provides the cryptographic primitives for cryptovault.
//
// Every vault file gets its own key:
//   - 32-byte random salt per file, stored in the file record
//   - PBKDF2-HMAC-SHA256, 210,000 iterations by default, 100,000 minimum
//
// Encryption uses AES-256-GCM with:
//   - 12-byte random nonce per file
//   - the file ID as associated data, so a blob cannot be relabeled
//   - the 16-byte tag appended to the ciphertext
//
// Open fails closed: wrong keys, tampered bytes and truncated input all
// return ErrAuthFailed.
//
// Memory safety:
//   - Use ClearBytes() to zero keys and plaintext after use
package crypto
