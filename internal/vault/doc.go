// Package vault implements the encrypted file vault.
//
// Operations:
//   - Encrypt: seal a file under a key derived from the secret and a fresh salt
//   - Decrypt/Read: open a file, verify its content hash, write it out
//   - List/Get/Info: metadata only, nothing is decrypted
//   - Delete: remove a file and leave a tombstone for sync
//   - Diff: compare a vault file with a local file
//
// A Vault is an explicit handle. Each operation is a session that holds the
// database lock until it returns, so the CLI, a sync loop and other processes
// can share one vault directory.
//
// The sync-facing methods (Manifest, Export, Import, ApplyRemoteDelete,
// RecordTombstone) move sealed blobs and records without touching plaintext.
package vault
