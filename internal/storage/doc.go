// Package storage provides the BBolt database interface for cryptovault.
//
// Database structure uses six buckets:
//   - config: schema version, vault ID, timestamps
//   - records: file ID -> FileRecord (name, size, salt, nonce, hash, version)
//   - blobs: file ID -> AES-GCM ciphertext with tag
//   - tombstones: file ID -> deletion marker for sync
//   - order: insertion sequence -> file ID
//   - sync: remote backend configuration and last sync state
//
// A record and its blob are always written and removed in the same
// transaction, so readers never see one without the other.
//
// BBolt takes an exclusive flock on the database file while it is open.
// The vault opens the database per operation, which makes that lock the
// cross-process session lock.
package storage
